// Package settlement pays out pending royalty events. A payout is settled in
// three steps: the events are reserved in a short transaction, funds are
// transferred with no transaction open, and the payout is finalized in a
// second transaction. A failed transfer releases the reservation.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/royalty-engine/internal/apperr"
	"github.com/sells-group/royalty-engine/internal/chain"
	"github.com/sells-group/royalty-engine/internal/model"
	"github.com/sells-group/royalty-engine/internal/resilience"
)

// Payout history page sizes.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100
)

// DefaultChainTimeout bounds a single transfer call.
const DefaultChainTimeout = 30 * time.Second

const (
	compensateTimeout = 10 * time.Second
	finalizeTimeout   = 30 * time.Second
)

// Store is the persistence settlement needs. Single-row getters return nil,
// nil when the row does not exist.
type Store interface {
	// ListUnpaidEvents returns the artist's pending, unpaid events that are
	// not reserved by any payout.
	ListUnpaidEvents(ctx context.Context, artistID string) ([]model.UnpaidEvent, error)
	// ReservePayout locks the events and writes a pending payout with one
	// item per event. It returns model.ErrIneligibleEvents when any event is
	// missing, not owned by the artist, paid or already reserved.
	ReservePayout(ctx context.Context, payoutID, artistID string, eventIDs []string) (*model.Reservation, error)
	ArtistWallet(ctx context.Context, artistID string) (*string, error)
	// CompletePayout marks the payout completed and its events paid. It
	// returns model.ErrSettlementConflict and writes nothing when any event
	// is no longer pending.
	CompletePayout(ctx context.Context, payoutID, txHash string, demo bool, eventIDs []string, at time.Time) error
	// ReleasePayout deletes a pending payout and its items.
	ReleasePayout(ctx context.Context, payoutID string) error
	GetPayout(ctx context.Context, payoutID string) (*model.Payout, error)
	ListPayoutItems(ctx context.Context, payoutID string) ([]model.PayoutItem, error)
	// ArtistPayouts returns one page of the artist's payouts, newest first,
	// with the artist's total payout count.
	ArtistPayouts(ctx context.Context, artistID string, limit, offset int) ([]model.PayoutSummary, int, error)
}

// Config controls settlement.
type Config struct {
	ChainTimeout time.Duration
	Retry        resilience.RetryConfig
}

// Service settles royalty events into payouts.
type Service struct {
	store Store
	chain chain.Chain
	cfg   Config
	now   func() time.Time
	log   *zap.Logger
}

// New returns a settlement Service.
func New(store Store, ch chain.Chain, cfg Config) *Service {
	if cfg.ChainTimeout <= 0 {
		cfg.ChainTimeout = DefaultChainTimeout
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
		cfg.Retry.OnRetry = resilience.RetryLogger("settlement", "finalize")
	}
	return &Service{
		store: store,
		chain: ch,
		cfg:   cfg,
		now:   time.Now,
		log:   zap.L().With(zap.String("component", "settlement")),
	}
}

// Preview lists what the artist would be paid right now.
func (s *Service) Preview(ctx context.Context, caller, artistID string) (*Preview, error) {
	if err := authorize(caller, artistID); err != nil {
		return nil, err
	}

	events, err := s.store.ListUnpaidEvents(ctx, artistID)
	if err != nil {
		return nil, apperr.Downstream(eris.Wrap(err, "settlement: list unpaid events"), "failed to load unpaid events")
	}

	p := &Preview{ArtistID: artistID, Events: events}
	if p.Events == nil {
		p.Events = []model.UnpaidEvent{}
	}
	for _, e := range events {
		p.TotalCents += e.AmountCents
	}
	p.TotalUSD = model.CentsToUSD(p.TotalCents)
	p.Count = len(events)
	return p, nil
}

// Create pays the listed events to the artist, all or nothing.
func (s *Service) Create(ctx context.Context, caller, artistID string, eventIDs []string) (*Receipt, error) {
	if err := authorize(caller, artistID); err != nil {
		return nil, err
	}
	if err := validateEventIDs(eventIDs); err != nil {
		return nil, err
	}

	payoutID := uuid.NewString()
	log := s.log.With(
		zap.String("payout_id", payoutID),
		zap.String("artist_id", artistID),
		zap.Int("events", len(eventIDs)),
	)

	res, err := s.store.ReservePayout(ctx, payoutID, artistID, eventIDs)
	if err != nil {
		if errors.Is(err, model.ErrIneligibleEvents) {
			return nil, &apperr.Error{Kind: apperr.KindValidation, Message: model.ErrIneligibleEvents.Error(), Err: err}
		}
		return nil, apperr.Downstream(eris.Wrap(err, "settlement: reserve"), "failed to reserve events")
	}
	log.Info("events reserved", zap.Int64("amount_cents", res.Payout.AmountCents))

	wallet, err := s.store.ArtistWallet(ctx, artistID)
	if err != nil {
		s.compensate(ctx, log, payoutID, err)
		return nil, apperr.Downstream(eris.Wrap(err, "settlement: artist wallet"), "failed to resolve artist wallet")
	}

	tr, err := s.transfer(ctx, res, wallet)
	if err != nil {
		s.compensate(ctx, log, payoutID, err)
		return nil, apperr.Downstream(err, "payout transfer failed: "+transferMessage(tr, err))
	}

	completedAt := s.now().UTC()
	if err := s.finalize(ctx, payoutID, tr, eventIDs, completedAt); err != nil {
		// Funds have moved; the reservation stays so the events cannot be paid twice.
		log.Error("finalize payout failed after transfer",
			zap.String("tx_hash", tr.TxHash),
			zap.Error(err),
		)
		return nil, apperr.Downstream(eris.Wrap(err, "settlement: finalize"), "failed to finalize payout")
	}

	res.Payout.TxHash = tr.TxHash
	res.Payout.Demo = tr.Demo
	res.Payout.Status = model.PayoutStatusCompleted
	res.Payout.CompletedAt = &completedAt

	log.Info("payout completed",
		zap.Int64("amount_cents", res.Payout.AmountCents),
		zap.String("tx_hash", tr.TxHash),
		zap.Bool("demo", tr.Demo),
	)
	return newReceipt(&res.Payout, res.Items), nil
}

func (s *Service) transfer(ctx context.Context, res *model.Reservation, wallet *string) (chain.TransferResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ChainTimeout)
	defer cancel()

	ids := make([]string, len(res.Items))
	for i, it := range res.Items {
		ids[i] = it.EventID
	}

	tr, err := s.chain.Transfer(ctx, chain.TransferRequest{
		Reference:   res.Payout.ID,
		Wallet:      wallet,
		AmountCents: res.Payout.AmountCents,
		EventIDs:    ids,
	})
	if err != nil {
		return tr, eris.Wrap(err, "settlement: transfer")
	}
	if !tr.Success || tr.TxHash == "" {
		return tr, eris.Errorf("settlement: transfer rejected: %s", transferMessage(tr, nil))
	}
	return tr, nil
}

// finalize records a completed transfer. Funds have already moved, so it is
// detached from the caller's cancellation and bounded by finalizeTimeout.
func (s *Service) finalize(ctx context.Context, payoutID string, tr chain.TransferResult, eventIDs []string, at time.Time) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	return resilience.Do(ctx, s.cfg.Retry, func(ctx context.Context) error {
		return s.store.CompletePayout(ctx, payoutID, tr.TxHash, tr.Demo, eventIDs, at)
	})
}

// compensate releases a reservation after a failed transfer. It runs on a
// fresh deadline so a cancelled request still cleans up.
func (s *Service) compensate(ctx context.Context, log *zap.Logger, payoutID string, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()

	if err := s.store.ReleasePayout(ctx, payoutID); err != nil {
		log.Error("release reservation failed; payout requires manual resolution",
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return
	}
	log.Warn("reservation released", zap.Error(cause))
}

// Receipt returns a payout owned by the caller.
func (s *Service) Receipt(ctx context.Context, caller, payoutID string) (*Receipt, error) {
	p, err := s.store.GetPayout(ctx, payoutID)
	if err != nil {
		return nil, apperr.Downstream(eris.Wrap(err, "settlement: get payout"), "failed to load payout")
	}
	if p == nil {
		return nil, apperr.NotFound("payout not found")
	}
	if p.ArtistID != caller {
		return nil, apperr.Forbidden("payout belongs to another artist")
	}

	items, err := s.store.ListPayoutItems(ctx, payoutID)
	if err != nil {
		return nil, apperr.Downstream(eris.Wrap(err, "settlement: list payout items"), "failed to load payout")
	}
	return newReceipt(p, items), nil
}

// ListPayouts returns the caller's payout history, newest first. A zero
// limit selects DefaultHistoryLimit.
func (s *Service) ListPayouts(ctx context.Context, caller string, limit, offset int) (*History, error) {
	if strings.TrimSpace(caller) == "" {
		return nil, apperr.Unauthenticated("missing artist identity")
	}
	if limit == 0 {
		limit = DefaultHistoryLimit
	}
	if limit < 1 || limit > MaxHistoryLimit {
		return nil, apperr.Validation(fmt.Sprintf("limit must be between 1 and %d", MaxHistoryLimit))
	}
	if offset < 0 {
		return nil, apperr.Validation("offset must not be negative")
	}

	payouts, total, err := s.store.ArtistPayouts(ctx, caller, limit, offset)
	if err != nil {
		return nil, apperr.Downstream(eris.Wrap(err, "settlement: artist payouts"), "failed to fetch payouts")
	}
	return newHistory(caller, payouts, total, limit, offset), nil
}

// VerifyReceipt asks the chain for the state of a payout's transaction.
func (s *Service) VerifyReceipt(ctx context.Context, caller, payoutID string) (*Verification, error) {
	r, err := s.Receipt(ctx, caller, payoutID)
	if err != nil {
		return nil, err
	}

	v := &Verification{PayoutID: r.PayoutID, TxHash: r.TxHash, Demo: r.Demo, ProofHash: r.ProofHash}
	if r.TxHash == "" {
		v.Status = chain.StatusPending
		return v, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ChainTimeout)
	defer cancel()

	st, err := s.chain.VerifyStatus(ctx, r.TxHash, r.Demo)
	if err != nil {
		return nil, apperr.Downstream(eris.Wrap(err, "settlement: verify status"), "failed to verify transaction")
	}
	v.Status = st.Status
	v.Confirmations = st.Confirmations
	return v, nil
}

func authorize(caller, artistID string) error {
	if strings.TrimSpace(caller) == "" {
		return apperr.Unauthenticated("missing artist identity")
	}
	if caller != artistID {
		return apperr.Forbidden("artist_id does not match authenticated artist")
	}
	return nil
}

func validateEventIDs(ids []string) error {
	if len(ids) == 0 {
		return apperr.Validation("event_ids must not be empty")
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return apperr.Validation("event_ids must not contain blank ids")
		}
		if _, ok := seen[id]; ok {
			return apperr.Validation("duplicate event id: " + id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func transferMessage(tr chain.TransferResult, err error) string {
	if tr.Error != "" {
		return tr.Error
	}
	if err != nil {
		return err.Error()
	}
	return "transfer was not successful"
}
