// Package chain transfers payout funds to an artist wallet and verifies the
// resulting transaction. Settlement depends only on the Chain interface; the
// concrete implementation is chosen from configuration.
package chain

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/royalty-engine/internal/config"
)

// Transaction statuses reported by VerifyStatus.
const (
	StatusConfirmed = "confirmed"
	StatusPending   = "pending"
	StatusFailed    = "failed"
	StatusInvalid   = "invalid"
)

// TransferRequest describes a single payout transfer.
type TransferRequest struct {
	// Reference identifies the payout and doubles as an idempotency key.
	Reference   string
	Wallet      *string
	AmountCents int64
	EventIDs    []string
}

// TransferResult is the outcome of a transfer. Demo is set by implementations
// that do not move real funds.
type TransferResult struct {
	TxHash  string `json:"tx_hash"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Demo    bool   `json:"demo"`
}

// Status is the on-chain state of a transaction.
type Status struct {
	TxHash        string `json:"tx_hash"`
	Status        string `json:"status"`
	Confirmations int    `json:"confirmations"`
}

// Chain moves funds for a payout.
type Chain interface {
	Transfer(ctx context.Context, req TransferRequest) (TransferResult, error)
	VerifyStatus(ctx context.Context, txHash string, demo bool) (Status, error)
}

// New returns the Chain selected by cfg.Mode.
func New(cfg config.ChainConfig) (Chain, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "", "demo":
		return NewDemo(), nil
	case "gateway":
		return NewGateway(cfg)
	default:
		return nil, eris.Errorf("chain: unknown mode %q", cfg.Mode)
	}
}
