package settlement

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sells-group/royalty-engine/internal/chain"
	"github.com/sells-group/royalty-engine/internal/model"
)

type memEvent struct {
	model.RoyaltyEvent
	ArtistID string
}

// memStore mirrors the reservation semantics of the SQL stores.
type memStore struct {
	mu      sync.Mutex
	events  map[string]*memEvent
	wallets map[string]*string
	payouts map[string]*model.Payout
	items   map[string][]model.PayoutItem

	listErr     error
	reserveErr  error
	walletErr   error
	completeErr error
	releaseErr  error

	releaseCalls  int
	completeCalls int
}

func newMemStore() *memStore {
	return &memStore{
		events:  map[string]*memEvent{},
		wallets: map[string]*string{},
		payouts: map[string]*model.Payout{},
		items:   map[string][]model.PayoutItem{},
	}
}

func (m *memStore) addEvent(id, artistID string, amount float64) {
	m.events[id] = &memEvent{
		RoyaltyEvent: model.RoyaltyEvent{ID: id, TrackID: "track-" + artistID, Amount: amount, Status: model.EventStatusPending},
		ArtistID:     artistID,
	}
}

func (m *memStore) reserved(eventID string) bool {
	for _, items := range m.items {
		for _, it := range items {
			if it.EventID == eventID {
				return true
			}
		}
	}
	return false
}

func (m *memStore) ListUnpaidEvents(_ context.Context, artistID string) ([]model.UnpaidEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []model.UnpaidEvent
	for _, e := range m.events {
		if e.ArtistID == artistID && e.Payable() && !m.reserved(e.ID) {
			out = append(out, model.UnpaidEvent{EventID: e.ID, TrackID: e.TrackID, Amount: e.Amount, AmountCents: model.ToCents(e.Amount)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out, nil
}

func (m *memStore) ReservePayout(_ context.Context, payoutID, artistID string, eventIDs []string) (*model.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reserveErr != nil {
		return nil, m.reserveErr
	}
	res := &model.Reservation{Payout: model.Payout{ID: payoutID, ArtistID: artistID, Status: model.PayoutStatusPending, CreatedAt: time.Now().UTC()}}
	for i, id := range eventIDs {
		e, ok := m.events[id]
		if !ok || e.ArtistID != artistID || !e.Payable() || m.reserved(id) {
			return nil, model.ErrIneligibleEvents
		}
		cents := model.ToCents(e.Amount)
		res.Items = append(res.Items, model.PayoutItem{ID: payoutID + "-" + string(rune('a'+i)), PayoutID: payoutID, EventID: id, AmountCents: cents})
		res.Payout.AmountCents += cents
	}
	p := res.Payout
	m.payouts[payoutID] = &p
	m.items[payoutID] = append([]model.PayoutItem(nil), res.Items...)
	return res, nil
}

func (m *memStore) ArtistWallet(_ context.Context, artistID string) (*string, error) {
	if m.walletErr != nil {
		return nil, m.walletErr
	}
	return m.wallets[artistID], nil
}

func (m *memStore) CompletePayout(ctx context.Context, payoutID, txHash string, demo bool, eventIDs []string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completeCalls++
	if m.completeErr != nil {
		return m.completeErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, id := range eventIDs {
		if !m.events[id].Payable() {
			return model.ErrSettlementConflict
		}
	}
	p := m.payouts[payoutID]
	p.Status, p.TxHash, p.Demo, p.CompletedAt = model.PayoutStatusCompleted, txHash, demo, &at
	for _, id := range eventIDs {
		m.events[id].Status = model.EventStatusPaid
		m.events[id].PaidAt = &at
	}
	return nil
}

func (m *memStore) ReleasePayout(_ context.Context, payoutID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseCalls++
	if m.releaseErr != nil {
		return m.releaseErr
	}
	delete(m.items, payoutID)
	delete(m.payouts, payoutID)
	return nil
}

func (m *memStore) GetPayout(_ context.Context, payoutID string) (*model.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[payoutID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) ListPayoutItems(_ context.Context, payoutID string) ([]model.PayoutItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.PayoutItem(nil), m.items[payoutID]...), nil
}

func (m *memStore) ArtistPayouts(_ context.Context, artistID string, limit, offset int) ([]model.PayoutSummary, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	var all []model.PayoutSummary
	for id, p := range m.payouts {
		if p.ArtistID == artistID {
			all = append(all, model.PayoutSummary{Payout: *p, ItemCount: len(m.items[id])})
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	return all[offset:min(offset+limit, total)], total, nil
}

// fakeChain records transfers and returns a scripted outcome.
type fakeChain struct {
	mu       sync.Mutex
	result   chain.TransferResult
	err      error
	block    bool
	requests []chain.TransferRequest

	// afterTransfer runs once the transfer has been accepted.
	afterTransfer func()
}

func (f *fakeChain) Transfer(ctx context.Context, req chain.TransferRequest) (chain.TransferResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return chain.TransferResult{Error: "timed out"}, ctx.Err()
	}
	if f.afterTransfer != nil {
		f.afterTransfer()
	}
	return f.result, f.err
}

func (f *fakeChain) VerifyStatus(_ context.Context, txHash string, _ bool) (chain.Status, error) {
	return chain.Status{TxHash: txHash, Status: chain.StatusConfirmed, Confirmations: 3}, nil
}
