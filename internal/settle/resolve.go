package settle

import (
	"context"
	"time"

	"github.com/yanun0323/logs"

	"carbonx/internal/intent"
	"carbonx/internal/ledger"
	"carbonx/internal/schema"
	"carbonx/internal/schema/enum"
)

// RunIntent drives a durable intent forward from wherever it stands. A
// PENDING intent is (re)submitted — the idempotency token turns a
// resubmission after a crash into a dedupe hit. A SUBMITTED intent only
// resumes confirmation polling; resubmission after acknowledgment is
// never allowed.
func (o *Orchestrator) RunIntent(ctx context.Context, intentID string) {
	in, err := o.store.Intent(ctx, intentID)
	if err != nil {
		logs.Errorf("load intent %s, err: %+v", intentID, err)
		return
	}

	var outcome submitOutcome
	switch in.State {
	case enum.IntentStatePending:
		outcome = o.submitAndConfirm(ctx, in)
	case enum.IntentStateSubmitted:
		outcome = o.confirmOnly(ctx, in)
	default:
		// terminal or UNKNOWN; UNKNOWN belongs to the reconciler
		return
	}

	switch outcome {
	case outcomeConfirmed:
		if err := o.applyConfirmed(ctx, in); err != nil {
			logs.Errorf("apply confirmed intent %s, err: %+v", in.ID, err)
		}
	case outcomeFailed:
		if err := o.applyFailed(ctx, in); err != nil {
			logs.Errorf("apply failed intent %s, err: %+v", in.ID, err)
		}
	default:
		o.markUnknown(ctx, in)
	}
}

func (o *Orchestrator) confirmOnly(ctx context.Context, in *schema.Intent) submitOutcome {
	start := time.Now()
	confirm, err := o.gateway.Confirm(ctx, in.LedgerTxRef)
	o.metrics.ObserveConfirmLatency(time.Since(start))

	switch confirm {
	case ledger.ConfirmSuccess:
		return outcomeConfirmed
	case ledger.ConfirmFailure:
		return outcomeFailed
	default:
		if err != nil {
			logs.Infof("confirm intent %s unresolved: %+v", in.ID, err)
		}
		return outcomeUnknown
	}
}

func (o *Orchestrator) applyConfirmed(ctx context.Context, in *schema.Intent) error {
	if in.Kind == enum.IntentKindRecordTrade {
		p, err := intent.DecodeTrade(in)
		if err != nil {
			return err
		}
		return o.applyTradeConfirmed(ctx, in, p)
	}
	return o.applyDirectConfirmed(ctx, in)
}

func (o *Orchestrator) applyFailed(ctx context.Context, in *schema.Intent) error {
	if in.Kind == enum.IntentKindRecordTrade {
		p, err := intent.DecodeTrade(in)
		if err != nil {
			return err
		}
		return o.applyTradeFailed(ctx, in, p)
	}
	return o.applyDirectFailed(ctx, in, "")
}

// ResolveConfirmed applies a ledger-confirmed outcome observed by the
// reconciler out-of-band.
func (o *Orchestrator) ResolveConfirmed(ctx context.Context, in *schema.Intent) error {
	return o.applyConfirmed(ctx, in)
}

// ResolveFailed applies a ledger-failed outcome observed by the
// reconciler out-of-band.
func (o *Orchestrator) ResolveFailed(ctx context.Context, in *schema.Intent) error {
	return o.applyFailed(ctx, in)
}

// Abandon fails an intent the ledger has no record of after the long
// grace period, releasing held quantity rather than locking capital
// forever. Operators are notified through the event stream.
func (o *Orchestrator) Abandon(ctx context.Context, in *schema.Intent) error {
	if err := o.applyFailed(ctx, in); err != nil {
		return err
	}
	o.metrics.ObserveAbandoned()
	o.publish(schema.Event{
		Type:     enum.EventReconcilerAbandoned,
		At:       time.Now().UTC(),
		IntentID: in.ID,
		Detail:   "no ledger record after grace period, holds released",
	})
	return nil
}

// Restore re-establishes advisory locks and soft-holds for intents that
// were in flight when the process stopped, then re-enqueues the ones the
// workers can still drive. Called after the book is rebuilt and before
// the workers start.
func (o *Orchestrator) Restore(ctx context.Context) error {
	open, err := o.store.OpenIntents(ctx)
	if err != nil {
		return err
	}

	for _, in := range open {
		switch in.Kind {
		case enum.IntentKindRecordTrade:
			p, err := intent.DecodeTrade(in)
			if err != nil {
				logs.Errorf("decode trade intent %s, err: %+v", in.ID, err)
				continue
			}
			if err := o.locks.TryAcquire(p.BuyOrderID, p.SellOrderID, p.SellLotID); err != nil {
				logs.Errorf("restore locks for intent %s, err: %+v", in.ID, err)
				continue
			}
			if err := o.book.Hold(p.BuyOrderID, p.Amount); err != nil {
				logs.Infof("restore hold on %s skipped: %+v", p.BuyOrderID, err)
			}
			if err := o.book.Hold(p.SellOrderID, p.Amount); err != nil {
				logs.Infof("restore hold on %s skipped: %+v", p.SellOrderID, err)
			}
		case enum.IntentKindTransfer:
			if p, err := intent.DecodeTransfer(in); err == nil {
				if err := o.locks.TryAcquire(p.LotID); err != nil {
					logs.Errorf("restore lot lock for intent %s, err: %+v", in.ID, err)
				}
			}
		case enum.IntentKindRetire:
			if p, err := intent.DecodeRetire(in); err == nil {
				if err := o.locks.TryAcquire(p.LotID); err != nil {
					logs.Errorf("restore lot lock for intent %s, err: %+v", in.ID, err)
				}
			}
		}

		if in.State == enum.IntentStatePending || in.State == enum.IntentStateSubmitted {
			select {
			case o.queue <- job{intentID: in.ID}:
			default:
				logs.Errorf("restore queue full, intent %s left for reconciler", in.ID)
			}
		}
	}
	return nil
}
