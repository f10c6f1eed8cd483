package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/royalty-engine/internal/config"
	"github.com/sells-group/royalty-engine/internal/resilience"
)

const defaultGatewayTimeout = 20 * time.Second

// Gateway delegates transfers to an external payout gateway over HTTP.
type Gateway struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewGateway returns a Gateway for cfg.GatewayURL.
func NewGateway(cfg config.ChainConfig) (*Gateway, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.GatewayURL), "/")
	if base == "" {
		return nil, eris.New("chain: gateway_url is required in gateway mode")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, eris.Wrapf(err, "chain: invalid gateway_url %q", base)
	}

	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}

	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("chain", "gateway")

	return &Gateway{
		baseURL: base,
		client:  &http.Client{Timeout: defaultGatewayTimeout},
		limiter: rate.NewLimiter(limit, 1),
		retry:   retry,
	}, nil
}

type transferBody struct {
	Reference   string   `json:"reference"`
	Wallet      string   `json:"wallet"`
	AmountCents int64    `json:"amount_cents"`
	EventIDs    []string `json:"event_ids"`
}

type transferReply struct {
	TxHash  string `json:"tx_hash"`
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Transfer implements Chain.
func (g *Gateway) Transfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	if req.Wallet == nil || strings.TrimSpace(*req.Wallet) == "" {
		return TransferResult{Error: "artist has no wallet address"}, eris.New("chain: wallet address required")
	}

	payload, err := json.Marshal(transferBody{
		Reference:   req.Reference,
		Wallet:      strings.TrimSpace(*req.Wallet),
		AmountCents: req.AmountCents,
		EventIDs:    req.EventIDs,
	})
	if err != nil {
		return TransferResult{}, eris.Wrap(err, "chain: marshal transfer")
	}

	var reply transferReply
	err = resilience.Do(ctx, g.retry, func(ctx context.Context) error {
		return g.do(ctx, http.MethodPost, "/transfers", payload, req.Reference, &reply)
	})
	if err != nil {
		return TransferResult{Error: err.Error()}, eris.Wrap(err, "chain: gateway transfer")
	}
	if !reply.Success || reply.TxHash == "" {
		msg := reply.Error
		if msg == "" {
			msg = "gateway rejected transfer"
		}
		return TransferResult{Error: msg}, eris.Errorf("chain: gateway transfer: %s", msg)
	}

	zap.L().Info("chain: gateway transfer",
		zap.String("reference", req.Reference),
		zap.Int64("amount_cents", req.AmountCents),
		zap.String("tx_hash", reply.TxHash),
	)
	return TransferResult{TxHash: reply.TxHash, Success: true}, nil
}

// VerifyStatus implements Chain. Demo hashes are answered locally.
func (g *Gateway) VerifyStatus(ctx context.Context, txHash string, demo bool) (Status, error) {
	if demo || IsDemoHash(txHash) {
		return NewDemo().VerifyStatus(ctx, txHash, true)
	}
	if strings.TrimSpace(txHash) == "" {
		return Status{Status: StatusInvalid}, nil
	}

	var st Status
	err := resilience.Do(ctx, g.retry, func(ctx context.Context) error {
		return g.do(ctx, http.MethodGet, "/transfers/"+url.PathEscape(txHash), nil, "", &st)
	})
	if err != nil {
		return Status{}, eris.Wrapf(err, "chain: verify %s", txHash)
	}
	if st.TxHash == "" {
		st.TxHash = txHash
	}
	return st, nil
}

func (g *Gateway) do(ctx context.Context, method, path string, body []byte, idempotencyKey string, out any) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "chain: rate limit wait")
	}

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, rdr)
	if err != nil {
		return eris.Wrap(err, "chain: build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return eris.Wrap(err, "chain: read response")
	}

	if resp.StatusCode >= 300 {
		statusErr := eris.Errorf("chain: gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return statusErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "chain: decode response")
	}
	return nil
}
