package settlement

import (
	"time"

	"github.com/sells-group/royalty-engine/internal/model"
	"github.com/sells-group/royalty-engine/internal/proof"
)

// Preview is the unpaid balance of an artist.
type Preview struct {
	ArtistID   string              `json:"artist_id"`
	Events     []model.UnpaidEvent `json:"events"`
	Count      int                 `json:"count"`
	TotalCents int64               `json:"total_cents"`
	TotalUSD   float64             `json:"total_usd"`
}

// Receipt describes a payout and the events it covers.
type Receipt struct {
	PayoutID    string             `json:"payout_id"`
	ArtistID    string             `json:"artist_id"`
	AmountCents int64              `json:"amount_cents"`
	AmountUSD   float64            `json:"amount_usd"`
	TxHash      string             `json:"tx_hash"`
	Demo        bool               `json:"demo"`
	Status      model.PayoutStatus `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
	CompletedAt *time.Time         `json:"completed_at"`
	Items       []model.PayoutItem `json:"items"`
	ProofHash   string             `json:"proof_hash"`
}

// Verification is the chain status of a payout's transaction.
type Verification struct {
	PayoutID      string `json:"payout_id"`
	TxHash        string `json:"tx_hash"`
	Demo          bool   `json:"demo"`
	Status        string `json:"status"`
	Confirmations int    `json:"confirmations"`
	ProofHash     string `json:"proof_hash"`
}

func newReceipt(p *model.Payout, items []model.PayoutItem) *Receipt {
	if items == nil {
		items = []model.PayoutItem{}
	}
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.EventID
	}
	return &Receipt{
		PayoutID:    p.ID,
		ArtistID:    p.ArtistID,
		AmountCents: p.AmountCents,
		AmountUSD:   model.CentsToUSD(p.AmountCents),
		TxHash:      p.TxHash,
		Demo:        p.Demo,
		Status:      p.Status,
		CreatedAt:   p.CreatedAt,
		CompletedAt: p.CompletedAt,
		Items:       items,
		ProofHash:   proof.ReceiptHash(p.ID, p.ArtistID, p.AmountCents, p.TxHash, ids),
	}
}

// HistoryEntry is one payout in an artist's history.
type HistoryEntry struct {
	PayoutID    string             `json:"payout_id"`
	AmountCents int64              `json:"amount_cents"`
	AmountUSD   float64            `json:"amount_usd"`
	TxHash      string             `json:"tx_hash"`
	Demo        bool               `json:"demo"`
	Status      model.PayoutStatus `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
	CompletedAt *time.Time         `json:"completed_at"`
	ItemCount   int                `json:"item_count"`
}

// Pagination describes a history page.
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// History is a page of an artist's payouts.
type History struct {
	ArtistID   string         `json:"artist_id"`
	Payouts    []HistoryEntry `json:"payouts"`
	Pagination Pagination     `json:"pagination"`
}

func newHistory(artistID string, payouts []model.PayoutSummary, total, limit, offset int) *History {
	h := &History{
		ArtistID: artistID,
		Payouts:  make([]HistoryEntry, len(payouts)),
		Pagination: Pagination{
			Total:   total,
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+limit < total,
		},
	}
	for i, p := range payouts {
		h.Payouts[i] = HistoryEntry{
			PayoutID:    p.ID,
			AmountCents: p.AmountCents,
			AmountUSD:   model.CentsToUSD(p.AmountCents),
			TxHash:      p.TxHash,
			Demo:        p.Demo,
			Status:      p.Status,
			CreatedAt:   p.CreatedAt,
			CompletedAt: p.CompletedAt,
			ItemCount:   p.ItemCount,
		}
	}
	return h
}
