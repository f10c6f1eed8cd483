package chain

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const demoPrefix = "demo_"

// Demo simulates transfers without any network access. Every transfer
// succeeds with a synthetic transaction hash.
type Demo struct{}

// NewDemo returns a demo chain.
func NewDemo() *Demo { return &Demo{} }

// Transfer implements Chain.
func (d *Demo) Transfer(_ context.Context, req TransferRequest) (TransferResult, error) {
	hash := demoPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]

	zap.L().Info("chain: demo transfer",
		zap.String("reference", req.Reference),
		zap.Int64("amount_cents", req.AmountCents),
		zap.Int("events", len(req.EventIDs)),
		zap.String("tx_hash", hash),
	)

	return TransferResult{TxHash: hash, Success: true, Demo: true}, nil
}

// VerifyStatus implements Chain.
func (d *Demo) VerifyStatus(_ context.Context, txHash string, _ bool) (Status, error) {
	if IsDemoHash(txHash) {
		return Status{TxHash: txHash, Status: StatusConfirmed, Confirmations: 12}, nil
	}
	return Status{TxHash: txHash, Status: StatusInvalid}, nil
}

// IsDemoHash reports whether txHash was produced by a Demo chain.
func IsDemoHash(txHash string) bool {
	return strings.HasPrefix(txHash, demoPrefix)
}
