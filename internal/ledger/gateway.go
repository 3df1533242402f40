package ledger

import (
	"context"
	"time"

	"github.com/yanun0323/logs"

	"carbonx/internal/errors"
	"carbonx/pkg/exception"
	"carbonx/pkg/retry"
)

// GatewayConfig bounds retry and confirmation behavior.
type GatewayConfig struct {
	// SubmitAttempts caps transient-error retries of one submission.
	SubmitAttempts int
	// ConfirmWait is the hard ceiling on confirmation polling; past it
	// the outcome is UNKNOWN, never an inferred success or failure.
	ConfirmWait time.Duration
	// PollInterval paces the confirmation status loop.
	PollInterval time.Duration
	Backoff      retry.Backoff
}

// DefaultGatewayConfig mirrors the deployment defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		SubmitAttempts: 5,
		ConfirmWait:    60 * time.Second,
		PollInterval:   time.Second,
		Backoff:        retry.DefaultBackoff(),
	}
}

// ConfirmOutcome is the gateway-level confirmation verdict.
type ConfirmOutcome uint8

const (
	_confirm_outcome_beg ConfirmOutcome = iota
	ConfirmSuccess
	ConfirmFailure
	ConfirmUnknown
	_confirm_outcome_end
)

func (o ConfirmOutcome) IsAvailable() bool {
	return o > _confirm_outcome_beg && o < _confirm_outcome_end
}

// Gateway is the only component that talks to the external ledger. It
// owns retry, dedupe and confirmation polling; it holds no business
// logic and is constructed explicitly and injected where needed.
type Gateway struct {
	client Client
	cfg    GatewayConfig
}

// NewGateway wraps a ledger client with retry/confirmation policy.
func NewGateway(client Client, cfg GatewayConfig) *Gateway {
	if cfg.SubmitAttempts <= 0 {
		cfg.SubmitAttempts = 5
	}
	if cfg.ConfirmWait <= 0 {
		cfg.ConfirmWait = 60 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Gateway{client: client, cfg: cfg}
}

// Submit presents op.ID as the idempotency token and retries transient
// network failures with exponential backoff. Once the ledger has
// acknowledged receipt — accepted, duplicate or rejected — it never
// resubmits; from that point only polling is permitted.
func (g *Gateway) Submit(ctx context.Context, op Op) (SubmitResult, error) {
	var lastErr error
	for attempt := 1; attempt <= g.cfg.SubmitAttempts; attempt++ {
		res, err := g.client.Submit(ctx, op)
		if err == nil {
			if res.Outcome == SubmitRejected {
				return res, errors.Wrap(exception.ErrLedgerRejected, res.Reason)
			}
			return res, nil
		}
		if !errors.Is(err, exception.ErrLedgerTransient) {
			return SubmitResult{}, err
		}
		lastErr = err
		if attempt == g.cfg.SubmitAttempts {
			break
		}
		wait := g.cfg.Backoff.Next(attempt)
		logs.Infof("ledger submit attempt %d failed, retrying in %s", attempt, wait)
		select {
		case <-ctx.Done():
			return SubmitResult{}, errors.Wrap(exception.ErrLedgerTransient, ctx.Err().Error())
		case <-time.After(wait):
		}
	}
	return SubmitResult{}, errors.Wrapf(lastErr, "submit retries exhausted after %d attempts", g.cfg.SubmitAttempts)
}

// Confirm polls the ledger until it reports a finalized outcome or the
// configured ceiling elapses. A timeout yields ConfirmUnknown; the
// caller must not treat it as either success or failure.
func (g *Gateway) Confirm(ctx context.Context, ledgerTxRef string) (ConfirmOutcome, error) {
	deadline := time.Now().Add(g.cfg.ConfirmWait)
	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()

	for {
		status, err := g.client.Status(ctx, ledgerTxRef)
		if err != nil && !errors.Is(err, exception.ErrLedgerTransient) {
			return ConfirmUnknown, err
		}
		if err == nil {
			switch status {
			case TxSuccess:
				return ConfirmSuccess, nil
			case TxFailure:
				return ConfirmFailure, nil
			}
		}

		if time.Now().After(deadline) {
			return ConfirmUnknown, errors.Wrapf(exception.ErrLedgerTimeout, "no finalized state for %s within %s", ledgerTxRef, g.cfg.ConfirmWait)
		}
		select {
		case <-ctx.Done():
			return ConfirmUnknown, errors.Wrap(exception.ErrLedgerTimeout, ctx.Err().Error())
		case <-ticker.C:
		}
	}
}

// Query is the read-only lookup used by the reconciler.
func (g *Gateway) Query(ctx context.Context, ref string) (QueryResult, error) {
	return g.client.Query(ctx, ref)
}
