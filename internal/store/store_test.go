package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/royalty-engine/internal/chain"
	"github.com/sells-group/royalty-engine/internal/correlate"
	"github.com/sells-group/royalty-engine/internal/model"
	"github.com/sells-group/royalty-engine/internal/promoter"
	"github.com/sells-group/royalty-engine/internal/settlement"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

// seedCatalog inserts artist-1 (with wallet) owning track-1 and artist-2
// owning track-2.
func seedCatalog(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.UpsertArtist(ctx, model.Artist{ID: "artist-1", Name: "One", WalletAddress: ptr("0xabc")}))
	require.NoError(t, s.UpsertArtist(ctx, model.Artist{ID: "artist-2", Name: "Two"}))
	require.NoError(t, s.UpsertTrack(ctx, model.Track{ID: "track-1", ArtistID: "artist-1", Title: "First Song"}))
	require.NoError(t, s.UpsertTrack(ctx, model.Track{ID: "track-2", ArtistID: "artist-2", Title: "Second Song"}))
}

func insertPair(t *testing.T, s Store, id, trackID string, sim float64, resultAt, logAt time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.InsertResult(ctx, &model.AttributionResult{
		ID: "r-" + id, TrackID: trackID, Similarity: sim, CreatedAt: resultAt,
		Metadata: map[string]any{"duration_seconds": 240.0},
	}))
	require.NoError(t, s.InsertUsageLog(ctx, &model.UsageLog{
		ID: "l-" + id, TrackID: trackID, PartnerID: "partner-a", ModelID: "model-x",
		Confidence: ptr(0.92), CreatedAt: logAt,
	}))
}

func insertEvent(t *testing.T, s Store, id, trackID string, amount float64) {
	t.Helper()
	inserted, err := s.InsertRoyaltyEvent(context.Background(), &model.RoyaltyEvent{
		ID: id, TrackID: trackID, ResultID: "r-" + id, UsageLogID: "l-" + id,
		EventType: model.EventTypeDualProof, Similarity: 0.9, MatchConfidence: 0.9,
		PayoutWeight: amount / 10, Amount: amount, Status: model.EventStatusPending, VerifiedAt: t0,
	})
	require.NoError(t, err)
	require.True(t, inserted)
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("IngestAndGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedCatalog(t, s)
		insertPair(t, s, "1", "track-1", 0.88, t0, t0.Add(2*time.Minute))

		r, err := s.GetResult(ctx, "r-1")
		require.NoError(t, err)
		require.NotNil(t, r)
		assert.Equal(t, "track-1", r.TrackID)
		assert.InDelta(t, 0.88, r.Similarity, 1e-9)
		assert.Equal(t, t0, r.CreatedAt)
		require.NotNil(t, r.DurationSeconds())
		assert.InDelta(t, 240.0, *r.DurationSeconds(), 1e-9)

		l, err := s.GetUsageLog(ctx, "l-1")
		require.NoError(t, err)
		require.NotNil(t, l)
		require.NotNil(t, l.Confidence)
		assert.InDelta(t, 0.92, *l.Confidence, 1e-9)
		assert.Equal(t, t0.Add(2*time.Minute), l.CreatedAt)

		missing, err := s.GetResult(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, missing)
		missingLog, err := s.GetUsageLog(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, missingLog)
	})

	t.Run("NullConfidence", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedCatalog(t, s)
		require.NoError(t, s.InsertUsageLog(ctx, &model.UsageLog{ID: "l-x", TrackID: "track-1", CreatedAt: t0}))

		l, err := s.GetUsageLog(ctx, "l-x")
		require.NoError(t, err)
		assert.Nil(t, l.Confidence)
	})

	t.Run("WindowQueries", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedCatalog(t, s)
		insertPair(t, s, "in", "track-1", 0.9, t0, t0.Add(5*time.Minute))
		insertPair(t, s, "low", "track-1", 0.5, t0.Add(time.Minute), t0.Add(20*time.Minute))
		insertPair(t, s, "other", "track-2", 0.9, t0, t0)

		results, err := s.ResultsInWindow(ctx, "track-1", t0.Add(-10*time.Minute), t0.Add(10*time.Minute), 0.85)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "r-in", results[0].ID)

		logs, err := s.UsageLogsInWindow(ctx, "track-1", t0.Add(-10*time.Minute), t0.Add(10*time.Minute))
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, "l-in", logs[0].ID)

		// Window bounds are inclusive.
		logs, err = s.UsageLogsInWindow(ctx, "track-1", t0.Add(5*time.Minute), t0.Add(20*time.Minute))
		require.NoError(t, err)
		assert.Len(t, logs, 2)

		recent, err := s.RecentResults(ctx, 0.85, t0.Add(-time.Hour), 10)
		require.NoError(t, err)
		assert.Len(t, recent, 2)

		recent, err = s.RecentResults(ctx, 0.85, t0.Add(-time.Hour), 1)
		require.NoError(t, err)
		assert.Len(t, recent, 1)
	})

	t.Run("InsertRoyaltyEventOncePerResult", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedCatalog(t, s)
		insertPair(t, s, "1", "track-1", 0.9, t0, t0)

		exists, err := s.EventExistsForResult(ctx, "r-1")
		require.NoError(t, err)
		assert.False(t, exists)

		insertEvent(t, s, "1", "track-1", 8.88)

		dup, err := s.InsertRoyaltyEvent(ctx, &model.RoyaltyEvent{
			TrackID: "track-1", ResultID: "r-1", UsageLogID: "l-1", EventType: model.EventTypeDualProof,
			Status: model.EventStatusPending, VerifiedAt: t0,
		})
		require.NoError(t, err)
		assert.False(t, dup)

		exists, err = s.EventExistsForResult(ctx, "r-1")
		require.NoError(t, err)
		assert.True(t, exists)

		byResult, err := s.EventByResult(ctx, "r-1")
		require.NoError(t, err)
		require.NotNil(t, byResult)
		assert.Equal(t, "1", byResult.ID)
		assert.InDelta(t, 8.88, byResult.Amount, 1e-9)
		assert.Nil(t, byResult.PaidAt)

		byLog, err := s.EventByUsageLog(ctx, "l-1")
		require.NoError(t, err)
		require.NotNil(t, byLog)
		assert.Equal(t, "1", byLog.ID)

		none, err := s.EventByUsageLog(ctx, "l-missing")
		require.NoError(t, err)
		assert.Nil(t, none)
	})

	t.Run("ReserveCompleteAndReceipt", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedCatalog(t, s)
		insertPair(t, s, "a", "track-1", 0.9, t0, t0)
		insertPair(t, s, "b", "track-1", 0.9, t0, t0)
		insertEvent(t, s, "a", "track-1", 5.0)
		insertEvent(t, s, "b", "track-1", 0.5)

		unpaid, err := s.ListUnpaidEvents(ctx, "artist-1")
		require.NoError(t, err)
		require.Len(t, unpaid, 2)
		assert.Equal(t, "First Song", unpaid[0].TrackTitle)

		res, err := s.ReservePayout(ctx, "p1", "artist-1", []string{"b", "a"})
		require.NoError(t, err)
		assert.Equal(t, int64(550), res.Payout.AmountCents)

		// Reserved events drop out of the unpaid list.
		unpaid, err = s.ListUnpaidEvents(ctx, "artist-1")
		require.NoError(t, err)
		assert.Empty(t, unpaid)

		_, err = s.ReservePayout(ctx, "p2", "artist-1", []string{"a"})
		assert.True(t, errors.Is(err, model.ErrIneligibleEvents))

		completedAt := t0.Add(time.Hour)
		require.NoError(t, s.CompletePayout(ctx, "p1", "demo_0123456789abcdef", true, []string{"b", "a"}, completedAt))

		p, err := s.GetPayout(ctx, "p1")
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, model.PayoutStatusCompleted, p.Status)
		assert.Equal(t, "demo_0123456789abcdef", p.TxHash)
		assert.True(t, p.Demo)
		require.NotNil(t, p.CompletedAt)
		assert.Equal(t, completedAt, *p.CompletedAt)

		items, err := s.ListPayoutItems(ctx, "p1")
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "b", items[0].EventID)
		assert.Equal(t, "a", items[1].EventID)

		ev, err := s.EventByResult(ctx, "r-a")
		require.NoError(t, err)
		assert.Equal(t, model.EventStatusPaid, ev.Status)
		require.NotNil(t, ev.PaidAt)

		// Completing twice conflicts.
		err = s.CompletePayout(ctx, "p1", "demo_x", true, []string{"a"}, completedAt)
		assert.True(t, errors.Is(err, model.ErrSettlementConflict))
	})

	t.Run("ReserveRejectsForeignOrUnknownEvents", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedCatalog(t, s)
		insertPair(t, s, "mine", "track-1", 0.9, t0, t0)
		insertPair(t, s, "theirs", "track-2", 0.9, t0, t0)
		insertEvent(t, s, "mine", "track-1", 5.0)
		insertEvent(t, s, "theirs", "track-2", 5.0)

		_, err := s.ReservePayout(ctx, "p1", "artist-1", []string{"mine", "theirs"})
		assert.True(t, errors.Is(err, model.ErrIneligibleEvents))

		_, err = s.ReservePayout(ctx, "p1", "artist-1", []string{"mine", "ghost"})
		assert.True(t, errors.Is(err, model.ErrIneligibleEvents))

		p, err := s.GetPayout(ctx, "p1")
		require.NoError(t, err)
		assert.Nil(t, p)
	})

	t.Run("ReleaseFreesEvents", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedCatalog(t, s)
		insertPair(t, s, "a", "track-1", 0.9, t0, t0)
		insertEvent(t, s, "a", "track-1", 5.0)

		_, err := s.ReservePayout(ctx, "p1", "artist-1", []string{"a"})
		require.NoError(t, err)
		require.NoError(t, s.ReleasePayout(ctx, "p1"))

		p, err := s.GetPayout(ctx, "p1")
		require.NoError(t, err)
		assert.Nil(t, p)

		unpaid, err := s.ListUnpaidEvents(ctx, "artist-1")
		require.NoError(t, err)
		assert.Len(t, unpaid, 1)

		_, err = s.ReservePayout(ctx, "p2", "artist-1", []string{"a"})
		require.NoError(t, err)
	})

	t.Run("ReleaseLeavesCompletedPayout", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedCatalog(t, s)
		insertPair(t, s, "a", "track-1", 0.9, t0, t0)
		insertEvent(t, s, "a", "track-1", 5.0)

		_, err := s.ReservePayout(ctx, "p1", "artist-1", []string{"a"})
		require.NoError(t, err)
		require.NoError(t, s.CompletePayout(ctx, "p1", "tx-1", true, []string{"a"}, t0))

		require.NoError(t, s.ReleasePayout(ctx, "p1"))

		p, err := s.GetPayout(ctx, "p1")
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, model.PayoutStatusCompleted, p.Status)

		items, err := s.ListPayoutItems(ctx, "p1")
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "a", items[0].EventID)
	})

	t.Run("ArtistWallet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedCatalog(t, s)

		w, err := s.ArtistWallet(ctx, "artist-1")
		require.NoError(t, err)
		require.NotNil(t, w)
		assert.Equal(t, "0xabc", *w)

		w, err = s.ArtistWallet(ctx, "artist-2")
		require.NoError(t, err)
		assert.Nil(t, w)

		w, err = s.ArtistWallet(ctx, "ghost")
		require.NoError(t, err)
		assert.Nil(t, w)
	})

	t.Run("ListPayoutsAndCountEvents", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedCatalog(t, s)
		for _, id := range []string{"a", "b", "c"} {
			insertPair(t, s, id, "track-1", 0.9, t0, t0)
			insertEvent(t, s, id, "track-1", 1.0)
		}
		_, err := s.ReservePayout(ctx, "p1", "artist-1", []string{"a"})
		require.NoError(t, err)
		_, err = s.ReservePayout(ctx, "p2", "artist-1", []string{"b"})
		require.NoError(t, err)
		require.NoError(t, s.CompletePayout(ctx, "p2", "demo_x", true, []string{"b"}, time.Now()))

		all, err := s.ListPayouts(ctx, PayoutFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 2)

		pending, err := s.ListPayouts(ctx, PayoutFilter{Status: model.PayoutStatusPending})
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "p1", pending[0].ID)

		old, err := s.ListPayouts(ctx, PayoutFilter{CreatedBefore: t0})
		require.NoError(t, err)
		assert.Empty(t, old)

		n, err := s.CountEvents(ctx, EventFilter{Status: model.EventStatusPending})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = s.CountEvents(ctx, EventFilter{})
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("ArtistPayoutsPaginated", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedCatalog(t, s)
		for _, id := range []string{"a", "b", "c", "d"} {
			insertPair(t, s, id, "track-1", 0.9, t0, t0)
			insertEvent(t, s, id, "track-1", 1.0)
		}
		insertPair(t, s, "x", "track-2", 0.9, t0, t0)
		insertEvent(t, s, "x", "track-2", 1.0)

		_, err := s.ReservePayout(ctx, "p1", "artist-1", []string{"a", "b"})
		require.NoError(t, err)
		require.NoError(t, s.CompletePayout(ctx, "p1", "demo_1", true, []string{"a", "b"}, time.Now()))
		time.Sleep(2 * time.Millisecond)
		_, err = s.ReservePayout(ctx, "p2", "artist-1", []string{"c"})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
		_, err = s.ReservePayout(ctx, "p3", "artist-1", []string{"d"})
		require.NoError(t, err)
		_, err = s.ReservePayout(ctx, "p4", "artist-2", []string{"x"})
		require.NoError(t, err)

		page, total, err := s.ArtistPayouts(ctx, "artist-1", 2, 0)
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, page, 2)
		assert.Equal(t, "p3", page[0].ID)
		assert.Equal(t, "p2", page[1].ID)
		assert.Equal(t, 1, page[0].ItemCount)

		page, total, err = s.ArtistPayouts(ctx, "artist-1", 2, 2)
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, page, 1)
		assert.Equal(t, "p1", page[0].ID)
		assert.Equal(t, 2, page[0].ItemCount)
		assert.Equal(t, model.PayoutStatusCompleted, page[0].Status)
		assert.Equal(t, "demo_1", page[0].TxHash)
		assert.Equal(t, int64(200), page[0].AmountCents)

		page, total, err = s.ArtistPayouts(ctx, "ghost", 10, 0)
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, page)
	})

	t.Run("MigrateIdempotent", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Migrate(context.Background()))
		require.NoError(t, s.Ping(context.Background()))
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}

// The remaining tests run the domain services against a real SQLite store.

func TestSQLiteStore_PromoteCorrelateAndSettle(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	seedCatalog(t, s)

	now := time.Now().UTC().Truncate(time.Microsecond)
	insertPair(t, s, "1", "track-1", 0.88, now.Add(-time.Hour), now.Add(-time.Hour+2*time.Minute))

	corr := correlate.New(s, correlate.Config{})
	proof, err := corr.Correlate(ctx, "r-1", model.EntityResult)
	require.NoError(t, err)
	assert.Equal(t, model.ProofPending, proof.State.Status())

	p := promoter.New(s, promoter.Config{})
	stats, err := p.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.EventsCreated)

	proof, err = corr.Correlate(ctx, "l-1", model.EntityUsageLog)
	require.NoError(t, err)
	assert.Equal(t, model.ProofConfirmed, proof.State.Status())

	svc := settlement.New(s, chain.NewDemo(), settlement.Config{})
	preview, err := svc.Preview(ctx, "artist-1", "artist-1")
	require.NoError(t, err)
	require.Equal(t, 1, preview.Count)

	receipt, err := svc.Create(ctx, "artist-1", "artist-1", []string{preview.Events[0].EventID})
	require.NoError(t, err)
	assert.True(t, receipt.Demo)
	assert.Equal(t, preview.TotalCents, receipt.AmountCents)
	assert.True(t, chain.IsDemoHash(receipt.TxHash))

	again, err := svc.Preview(ctx, "artist-1", "artist-1")
	require.NoError(t, err)
	assert.Zero(t, again.Count)
}

// cancelOnTransfer moves funds through the demo chain and then cancels the
// caller's request, as a client disconnect after the transfer would.
type cancelOnTransfer struct {
	*chain.Demo
	cancel context.CancelFunc
}

func (c cancelOnTransfer) Transfer(ctx context.Context, req chain.TransferRequest) (chain.TransferResult, error) {
	tr, err := c.Demo.Transfer(ctx, req)
	c.cancel()
	return tr, err
}

func TestSQLiteStore_SettleSurvivesCancelAfterTransfer(t *testing.T) {
	s := newTestSQLite(t)
	seedCatalog(t, s)
	insertPair(t, s, "a", "track-1", 0.9, t0, t0)
	insertEvent(t, s, "a", "track-1", 5.0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := settlement.New(s, cancelOnTransfer{Demo: chain.NewDemo(), cancel: cancel}, settlement.Config{})

	receipt, err := svc.Create(ctx, "artist-1", "artist-1", []string{"a"})
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	bg := context.Background()
	p, err := s.GetPayout(bg, receipt.PayoutID)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, model.PayoutStatusCompleted, p.Status)
	assert.Equal(t, receipt.TxHash, p.TxHash)
	assert.NotEmpty(t, p.TxHash)

	ev, err := s.EventByResult(bg, "r-a")
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, model.EventStatusPaid, ev.Status)
	assert.NotNil(t, ev.PaidAt)
}

func TestSQLiteStore_ConcurrentReservations(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	seedCatalog(t, s)
	insertPair(t, s, "a", "track-1", 0.9, t0, t0)
	insertEvent(t, s, "a", "track-1", 5.0)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, fail int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.ReservePayout(ctx, newID(), "artist-1", []string{"a"})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if errors.Is(err, model.ErrIneligibleEvents) {
				fail++
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, 7, fail)
}
