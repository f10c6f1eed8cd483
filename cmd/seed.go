package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/royalty-engine/internal/correlate"
	"github.com/sells-group/royalty-engine/internal/model"
	"github.com/sells-group/royalty-engine/internal/promoter"
	"github.com/sells-group/royalty-engine/internal/proof"
	"github.com/sells-group/royalty-engine/internal/store"
)

const (
	seedArtistID = "demo-artist"
	seedWallet   = "0x000000000000000000000000000000000000dEaD"
)

// seedResult holds the ids written by a seed run.
type seedResult struct {
	TrackID    string
	ResultID   string
	UsageLogID string
	EventID    string
	Payable    bool
	TrackProof string
	Status     model.ProofStatus
}

var seedCmd = &cobra.Command{
	Use:       "seed <pending|confirmed>",
	Short:     "Insert a demo track with correlated evidence",
	Long:      "Writes a track, an auditor result and a partner usage log two minutes apart. The confirmed scenario also runs one promotion cycle so a royalty event links the pair.",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"pending", "confirmed"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		scenario := args[0]
		if scenario != "pending" && scenario != "confirmed" {
			return eris.Errorf("seed: unknown scenario %q (want pending or confirmed)", scenario)
		}
		if err := cfg.Validate("seed"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "seed: migrate")
		}

		res, err := seedDualProof(ctx, st, scenario == "confirmed", time.Now().UTC())
		if err != nil {
			return err
		}
		printSeedResult(cmd.OutOrStdout(), res)
		return nil
	},
}

// seedDualProof writes a demo pair on a fresh track. When confirm is set a
// promotion cycle turns the pair into a royalty event.
func seedDualProof(ctx context.Context, st store.Store, confirm bool, now time.Time) (*seedResult, error) {
	label := "Pending"
	if confirm {
		label = "Confirmed"
	}
	slug := uuid.NewString()[:8]

	artist := model.Artist{ID: seedArtistID, Name: "Demo Artist", WalletAddress: ptrTo(seedWallet)}
	if err := st.UpsertArtist(ctx, artist); err != nil {
		return nil, eris.Wrap(err, "seed: artist")
	}

	track := model.Track{ID: "demo-track-" + slug, ArtistID: seedArtistID, Title: "Demo Track - " + label + " Dual Proof"}
	if err := st.UpsertTrack(ctx, track); err != nil {
		return nil, eris.Wrap(err, "seed: track")
	}

	result := &model.AttributionResult{
		TrackID:          track.ID,
		Similarity:       0.88,
		PercentInfluence: 0.65,
		SourceFile:       "ai-generated-output-" + slug + ".wav",
		Metadata: map[string]any{
			"track_title":     track.Title,
			"embedding_model": "mfcc",
		},
		CreatedAt: now,
	}
	if err := st.InsertResult(ctx, result); err != nil {
		return nil, eris.Wrap(err, "seed: result")
	}

	log := &model.UsageLog{
		PartnerID:  "demo-partner",
		ModelID:    "suno-v3-demo",
		TrackID:    track.ID,
		Confidence: ptrTo(0.92),
		Metadata: map[string]any{
			"session_id": "demo-session-" + slug,
			"output_id":  "output-" + slug,
		},
		CreatedAt: now.Add(2 * time.Minute),
	}
	if err := st.InsertUsageLog(ctx, log); err != nil {
		return nil, eris.Wrap(err, "seed: usage log")
	}

	if confirm {
		p := promoter.New(st, promoter.ConfigFrom(cfg.Auditor, cfg.Royalty))
		if _, err := p.RunCycle(ctx); err != nil {
			return nil, eris.Wrap(err, "seed: promote")
		}
	}

	corr := correlate.New(st, correlate.Config{
		Window:    time.Duration(cfg.DualProof.WindowMinutes) * time.Minute,
		Threshold: cfg.DualProof.Threshold,
	})
	c, err := corr.Correlate(ctx, result.ID, model.EntityResult)
	if err != nil {
		return nil, eris.Wrap(err, "seed: correlate")
	}

	out := &seedResult{
		TrackID:    track.ID,
		ResultID:   result.ID,
		UsageLogID: log.ID,
		EventID:    c.RoyaltyEventID(),
		TrackProof: proof.TrackHash(track.ID, track.Title, artist.Name, ""),
		Status:     c.State.Status(),
	}
	if out.EventID != "" {
		ev, err := st.EventByResult(ctx, result.ID)
		if err != nil {
			return nil, eris.Wrap(err, "seed: load event")
		}
		out.Payable = ev != nil && ev.Payable()
	}
	return out, nil
}

func printSeedResult(w io.Writer, r *seedResult) {
	fmt.Fprintf(w, "Track ID:     %s\n", r.TrackID)
	fmt.Fprintf(w, "Result ID:    %s\n", r.ResultID)
	fmt.Fprintf(w, "Usage Log ID: %s\n", r.UsageLogID)
	if r.EventID != "" {
		fmt.Fprintf(w, "Event ID:     %s\n", r.EventID)
		fmt.Fprintf(w, "Payable:      %t\n", r.Payable)
	}
	fmt.Fprintf(w, "Track proof:  %s\n", r.TrackProof)
	fmt.Fprintf(w, "Dual proof:   %s\n", r.Status)
}

func ptrTo[T any](v T) *T { return &v }

func init() {
	rootCmd.AddCommand(seedCmd)
}
