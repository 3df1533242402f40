package settle

import (
	"context"
	"time"

	"github.com/google/uuid"

	"carbonx/internal/errors"
	"carbonx/internal/intent"
	"carbonx/internal/schema"
	"carbonx/internal/schema/enum"
	"carbonx/internal/store"
	"carbonx/pkg/exception"
)

// RequestMint creates a durable MINT intent and hands it to the workers.
// The lot itself exists only after the ledger confirms.
func (o *Orchestrator) RequestMint(ctx context.Context, p schema.MintPayload) (string, error) {
	if p.OwnerID == "" || p.CreditType == "" {
		return "", errors.Wrap(exception.ErrInvalidArgument, "mint requires owner and credit type")
	}
	if !p.Amount.IsPositive() {
		return "", errors.Wrap(exception.ErrInvalidArgument, "mint amount must be positive")
	}

	in, err := intent.New(enum.IntentKindMint, p)
	if err != nil {
		return "", err
	}
	if err := o.store.CreateIntent(ctx, in); err != nil {
		return "", errors.Wrap(err, "persist mint intent")
	}
	o.metrics.ObserveIntentState(enum.IntentStatePending)

	if err := o.enqueueIntent(ctx, in); err != nil {
		return "", err
	}
	return in.ID, nil
}

// RequestTransfer moves quantity from one account's lot to another. The
// lot's advisory lock is held from intent creation to terminal
// resolution, so a lot mid-transfer cannot source a second operation.
func (o *Orchestrator) RequestTransfer(ctx context.Context, p schema.TransferPayload) (string, error) {
	if p.ToID == "" || p.ToID == p.FromID {
		return "", errors.Wrap(exception.ErrInvalidArgument, "transfer requires a distinct recipient")
	}
	if !p.Amount.IsPositive() {
		return "", errors.Wrap(exception.ErrInvalidArgument, "transfer amount must be positive")
	}
	lot, err := o.store.Lot(ctx, p.LotID)
	if err != nil {
		return "", err
	}
	if lot.OwnerID != p.FromID {
		return "", exception.ErrLotForbidden
	}
	if lot.Amount.LessThan(p.Amount) {
		return "", errors.Wrap(exception.ErrInvalidArgument, "transfer exceeds lot amount")
	}

	if err := o.locks.TryAcquire(p.LotID); err != nil {
		return "", exception.ErrLotBusy
	}

	in, err := intent.New(enum.IntentKindTransfer, p)
	if err != nil {
		o.locks.Release(p.LotID)
		return "", err
	}
	if err := o.store.CreateIntent(ctx, in); err != nil {
		o.locks.Release(p.LotID)
		return "", errors.Wrap(err, "persist transfer intent")
	}
	o.metrics.ObserveIntentState(enum.IntentStatePending)

	if err := o.enqueueIntent(ctx, in); err != nil {
		o.locks.Release(p.LotID)
		return "", err
	}
	return in.ID, nil
}

// RequestRetire permanently removes quantity from circulation.
func (o *Orchestrator) RequestRetire(ctx context.Context, p schema.RetirePayload) (string, error) {
	if !p.Amount.IsPositive() {
		return "", errors.Wrap(exception.ErrInvalidArgument, "retire amount must be positive")
	}
	lot, err := o.store.Lot(ctx, p.LotID)
	if err != nil {
		return "", err
	}
	if lot.OwnerID != p.OwnerID {
		return "", exception.ErrLotForbidden
	}
	if lot.Amount.LessThan(p.Amount) {
		return "", errors.Wrap(exception.ErrInvalidArgument, "retire exceeds lot amount")
	}

	if err := o.locks.TryAcquire(p.LotID); err != nil {
		return "", exception.ErrLotBusy
	}

	in, err := intent.New(enum.IntentKindRetire, p)
	if err != nil {
		o.locks.Release(p.LotID)
		return "", err
	}
	if err := o.store.CreateIntent(ctx, in); err != nil {
		o.locks.Release(p.LotID)
		return "", errors.Wrap(err, "persist retire intent")
	}
	o.metrics.ObserveIntentState(enum.IntentStatePending)

	if err := o.enqueueIntent(ctx, in); err != nil {
		o.locks.Release(p.LotID)
		return "", err
	}
	return in.ID, nil
}

// applyDirectConfirmed performs the asset-lot mutation for a confirmed
// mint/transfer/retire, transactionally with the intent's CONFIRMED
// transition. The transition guard makes duplicate application a no-op.
func (o *Orchestrator) applyDirectConfirmed(ctx context.Context, in *schema.Intent) error {
	applied := false
	err := o.store.Transact(ctx, func(tx store.Store) error {
		cur, err := tx.Intent(ctx, in.ID)
		if err != nil {
			return err
		}
		if cur.State.IsTerminal() {
			return nil
		}
		if err := intent.MarkConfirmed(cur); err != nil {
			return err
		}

		switch cur.Kind {
		case enum.IntentKindMint:
			p, err := intent.DecodeMint(cur)
			if err != nil {
				return err
			}
			if err := tx.CreateLot(ctx, &schema.AssetLot{
				ID:             uuid.NewString(),
				OwnerID:        p.OwnerID,
				CreditType:     p.CreditType,
				Vintage:        p.Vintage,
				Standard:       p.Standard,
				Location:       p.Location,
				Amount:         p.Amount,
				OriginalPrice:  p.Price,
				CurrentPrice:   p.Price,
				LedgerTokenRef: cur.LedgerTxRef,
				CreatedAt:      time.Now().UTC(),
			}); err != nil {
				return err
			}

		case enum.IntentKindTransfer:
			p, err := intent.DecodeTransfer(cur)
			if err != nil {
				return err
			}
			lot, err := tx.Lot(ctx, p.LotID)
			if err != nil {
				return err
			}
			if lot.Amount.LessThan(p.Amount) {
				return exception.ErrInvalidArgument
			}
			lot.Amount = lot.Amount.Sub(p.Amount)
			if err := tx.SaveLot(ctx, lot); err != nil {
				return err
			}
			if err := creditLot(ctx, tx, p.ToID, *lot, p.Amount, lot.CurrentPrice); err != nil {
				return err
			}

		case enum.IntentKindRetire:
			p, err := intent.DecodeRetire(cur)
			if err != nil {
				return err
			}
			lot, err := tx.Lot(ctx, p.LotID)
			if err != nil {
				return err
			}
			if lot.Amount.LessThan(p.Amount) {
				return exception.ErrInvalidArgument
			}
			lot.Amount = lot.Amount.Sub(p.Amount)
			if err := tx.SaveLot(ctx, lot); err != nil {
				return err
			}

		default:
			return exception.ErrInvalidArgument
		}

		if err := tx.SaveIntent(ctx, cur); err != nil {
			return err
		}
		*in = *cur
		applied = true
		return nil
	})
	if err != nil {
		return err
	}

	o.releaseDirectLock(in)
	if applied {
		o.metrics.ObserveIntentState(enum.IntentStateConfirmed)
		o.publish(schema.Event{
			Type:     enum.EventIntentConfirmed,
			At:       time.Now().UTC(),
			IntentID: in.ID,
		})
	}
	return nil
}

// applyDirectFailed marks the intent FAILED and frees the lot lock. No
// local asset state was touched before confirmation, so there is nothing
// to roll back.
func (o *Orchestrator) applyDirectFailed(ctx context.Context, in *schema.Intent, detail string) error {
	applied := false
	err := o.store.Transact(ctx, func(tx store.Store) error {
		cur, err := tx.Intent(ctx, in.ID)
		if err != nil {
			return err
		}
		if cur.State.IsTerminal() {
			return nil
		}
		if err := intent.MarkFailed(cur); err != nil {
			return err
		}
		if err := tx.SaveIntent(ctx, cur); err != nil {
			return err
		}
		*in = *cur
		applied = true
		return nil
	})
	if err != nil {
		return err
	}

	o.releaseDirectLock(in)
	if applied {
		o.metrics.ObserveIntentState(enum.IntentStateFailed)
		o.publish(schema.Event{
			Type:     enum.EventIntentFailed,
			At:       time.Now().UTC(),
			IntentID: in.ID,
			Detail:   detail,
		})
	}
	return nil
}

func (o *Orchestrator) releaseDirectLock(in *schema.Intent) {
	switch in.Kind {
	case enum.IntentKindTransfer:
		if p, err := intent.DecodeTransfer(in); err == nil {
			o.locks.Release(p.LotID)
		}
	case enum.IntentKindRetire:
		if p, err := intent.DecodeRetire(in); err == nil {
			o.locks.Release(p.LotID)
		}
	}
}
