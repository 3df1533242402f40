package reconcile

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"carbonx/internal/ledger"
	"carbonx/internal/obs"
	"carbonx/internal/schema"
	"carbonx/internal/schema/enum"
	"carbonx/internal/store"
)

// Resolver applies a reconciled ledger outcome to local records. The
// settlement orchestrator satisfies it.
type Resolver interface {
	ResolveConfirmed(ctx context.Context, in *schema.Intent) error
	ResolveFailed(ctx context.Context, in *schema.Intent) error
	Abandon(ctx context.Context, in *schema.Intent) error
}

// Config tunes the reconciliation sweep.
type Config struct {
	// Interval between periodic sweeps.
	Interval time.Duration
	// Grace is how long a SUBMITTED or UNKNOWN intent is left alone
	// before the sweep queries the ledger about it.
	Grace time.Duration
	// Abandon is the age past which an intent the ledger still has no
	// record of is failed rather than waited on.
	Abandon time.Duration
}

// DefaultConfig returns conservative sweep timings.
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Grace:    2 * time.Minute,
		Abandon:  30 * time.Minute,
	}
}

// Reconciler resolves intents stuck in SUBMITTED or UNKNOWN by asking
// the ledger what actually happened. It is the only component allowed to
// move an UNKNOWN intent to a terminal state.
type Reconciler struct {
	store    store.Store
	gateway  *ledger.Gateway
	resolver Resolver
	metrics  *obs.Metrics
	cfg      Config

	running atomic.Bool
}

// New wires a reconciler over the shared store and ledger gateway.
func New(st store.Store, gw *ledger.Gateway, resolver Resolver, metrics *obs.Metrics, cfg Config) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultConfig().Grace
	}
	if cfg.Abandon <= 0 {
		cfg.Abandon = DefaultConfig().Abandon
	}
	return &Reconciler{
		store:    st,
		gateway:  gw,
		resolver: resolver,
		metrics:  metrics,
		cfg:      cfg,
	}
}

// Run sweeps periodically until the context is done.
func (r *Reconciler) Run(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				logs.Errorf("reconcile sweep, err: %+v", err)
			}
		}
	}
}

// Sweep runs one reconciliation pass: every SUBMITTED or UNKNOWN intent
// whose last attempt is older than the grace period is checked against
// the ledger and resolved when the ledger has a finalized answer.
func (r *Reconciler) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-r.cfg.Grace)
	stale, err := r.store.LiveIntents(ctx, cutoff)
	if err != nil {
		return err
	}

	for _, in := range stale {
		if err := r.resolve(ctx, in); err != nil {
			logs.Errorf("reconcile intent %s, err: %+v", in.ID, err)
		}
	}
	return nil
}

func (r *Reconciler) resolve(ctx context.Context, in *schema.Intent) error {
	if in.LedgerTxRef == "" {
		// never acknowledged; nothing to query, age decides
		return r.maybeAbandon(ctx, in)
	}

	q, err := r.gateway.Query(ctx, in.LedgerTxRef)
	if err != nil {
		// the ledger is unreachable; the next sweep tries again
		return err
	}

	switch q.Status {
	case ledger.TxSuccess:
		if err := r.resolver.ResolveConfirmed(ctx, in); err != nil {
			return err
		}
		r.metrics.ObserveReconciled()
		logs.Infof("reconciled intent %s to CONFIRMED via %s", in.ID, in.LedgerTxRef)
		return nil
	case ledger.TxFailure:
		if err := r.resolver.ResolveFailed(ctx, in); err != nil {
			return err
		}
		r.metrics.ObserveReconciled()
		logs.Infof("reconciled intent %s to FAILED via %s", in.ID, in.LedgerTxRef)
		return nil
	case ledger.TxPending:
		// still in flight on the ledger side, leave it for the next sweep
		return nil
	default:
		return r.maybeAbandon(ctx, in)
	}
}

// maybeAbandon fails an intent the ledger has no record of once it is
// old enough that a late acknowledgment is no longer plausible.
func (r *Reconciler) maybeAbandon(ctx context.Context, in *schema.Intent) error {
	age := time.Since(in.CreatedAt)
	if in.State == enum.IntentStateUnknown && !in.LastAttemptAt.IsZero() {
		age = time.Since(in.LastAttemptAt)
	}
	if age < r.cfg.Abandon {
		return nil
	}
	logs.Infof("abandoning intent %s after %s without a ledger record", in.ID, age.Truncate(time.Second))
	return r.resolver.Abandon(ctx, in)
}
