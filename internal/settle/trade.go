package settle

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"carbonx/internal/book"
	"carbonx/internal/intent"
	"carbonx/internal/schema"
	"carbonx/internal/schema/enum"
	"carbonx/internal/store"
	"carbonx/pkg/exception"
)

// settleTrade drives one match proposal to a terminal outcome. Locks on
// both orders and the sell lot are taken before the intent exists and
// released only at terminal resolution (or kept while UNKNOWN).
func (o *Orchestrator) settleTrade(ctx context.Context, p book.Proposal) {
	lockIDs := []string{p.BuyOrderID, p.SellOrderID, p.SellLotID}
	if err := o.locks.TryAcquire(lockIDs...); err != nil {
		// another settlement owns one of the entities; requeue by release
		o.book.Release(p)
		return
	}

	payload := schema.TradePayload{
		TradeID:     uuid.NewString(),
		BuyOrderID:  p.BuyOrderID,
		SellOrderID: p.SellOrderID,
		BuyerID:     p.BuyerID,
		SellerID:    p.SellerID,
		SellLotID:   p.SellLotID,
		Amount:      p.Amount,
		Price:       p.Price,
	}
	in, err := intent.New(enum.IntentKindRecordTrade, payload)
	if err != nil {
		logs.Errorf("build trade intent, err: %+v", err)
		o.book.Release(p)
		o.locks.Release(lockIDs...)
		return
	}

	trade := &schema.Trade{
		ID:                 payload.TradeID,
		BuyOrderID:         p.BuyOrderID,
		SellOrderID:        p.SellOrderID,
		Amount:             p.Amount,
		ClearingPrice:      p.Price,
		Status:             enum.TradeStatusSettling,
		SettlementIntentID: in.ID,
		CreatedAt:          time.Now().UTC(),
	}

	// intent-before-action: both rows are durable before any network call
	if err := o.store.CreateTrade(ctx, trade); err != nil {
		logs.Errorf("persist trade %s, err: %+v", trade.ID, err)
		o.book.Release(p)
		o.locks.Release(lockIDs...)
		return
	}
	if err := o.store.CreateIntent(ctx, in); err != nil {
		logs.Errorf("persist intent %s, err: %+v", in.ID, err)
		o.book.Release(p)
		o.locks.Release(lockIDs...)
		return
	}
	o.metrics.ObserveIntentState(enum.IntentStatePending)

	switch o.submitAndConfirm(ctx, in) {
	case outcomeConfirmed:
		if err := o.applyTradeConfirmed(ctx, in, payload); err != nil {
			logs.Errorf("apply confirmed trade %s, err: %+v", trade.ID, err)
		}
	case outcomeFailed:
		if err := o.applyTradeFailed(ctx, in, payload); err != nil {
			logs.Errorf("apply failed trade %s, err: %+v", trade.ID, err)
		}
	default:
		o.markUnknown(ctx, in)
	}
}

// applyTradeConfirmed applies the ledger-confirmed trade to the local
// records as one transactional unit: seller lot debited, buyer lot
// credited or merged, both orders reduced, trade settled, intent
// confirmed. The intent transition guard makes re-application (e.g. a
// reconciler race) a no-op.
func (o *Orchestrator) applyTradeConfirmed(ctx context.Context, in *schema.Intent, p schema.TradePayload) error {
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

		sellerLot, err := tx.Lot(ctx, p.SellLotID)
		if err != nil {
			return err
		}
		if sellerLot.Amount.LessThan(p.Amount) {
			return exception.ErrInvalidArgument
		}
		sellerLot.Amount = sellerLot.Amount.Sub(p.Amount)
		if err := tx.SaveLot(ctx, sellerLot); err != nil {
			return err
		}

		if err := creditLot(ctx, tx, p.BuyerID, *sellerLot, p.Amount, p.Price); err != nil {
			return err
		}

		for _, orderID := range []string{p.BuyOrderID, p.SellOrderID} {
			order, err := tx.Order(ctx, orderID)
			if err != nil {
				return err
			}
			order.Remaining = order.Remaining.Sub(p.Amount)
			if order.Remaining.IsNegative() {
				return exception.ErrInvalidArgument
			}
			if order.Remaining.IsZero() {
				order.State = enum.OrderStateFilled
			} else {
				order.State = enum.OrderStatePartiallyFilled
			}
			if err := tx.SaveOrder(ctx, order); err != nil {
				return err
			}
		}

		trade, err := tx.Trade(ctx, p.TradeID)
		if err != nil {
			return err
		}
		trade.Status = enum.TradeStatusSettled
		if err := tx.SaveTrade(ctx, trade); err != nil {
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
	if !applied {
		o.locks.Release(p.BuyOrderID, p.SellOrderID, p.SellLotID)
		return nil
	}

	o.book.ApplyFill(p.BuyOrderID, p.Amount)
	o.book.ApplyFill(p.SellOrderID, p.Amount)

	o.metrics.ObserveIntentState(enum.IntentStateConfirmed)
	o.metrics.ObserveTradeSettled()
	now := time.Now().UTC()
	o.publish(schema.Event{Type: enum.EventTradeSettled, At: now, TradeID: p.TradeID, IntentID: in.ID})
	for _, orderID := range []string{p.BuyOrderID, p.SellOrderID} {
		if order, err := o.store.Order(ctx, orderID); err == nil && order.State == enum.OrderStateFilled {
			o.publish(schema.Event{Type: enum.EventOrderFilled, At: now, OrderID: orderID})
		}
	}

	o.locks.Release(p.BuyOrderID, p.SellOrderID, p.SellLotID)
	return nil
}

// applyTradeFailed restores both orders to their pre-match remaining
// amounts (the durable records were never reduced; only soft-holds are
// released) and marks trade and intent FAILED. No automatic retry: the
// quantity becomes eligible again on the next match cycle.
func (o *Orchestrator) applyTradeFailed(ctx context.Context, in *schema.Intent, p schema.TradePayload) error {
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

		trade, err := tx.Trade(ctx, p.TradeID)
		if err != nil {
			return err
		}
		trade.Status = enum.TradeStatusFailed
		if err := tx.SaveTrade(ctx, trade); err != nil {
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

	o.book.Release(book.Proposal{
		BuyOrderID:  p.BuyOrderID,
		SellOrderID: p.SellOrderID,
		Amount:      p.Amount,
	})
	if applied {
		o.metrics.ObserveIntentState(enum.IntentStateFailed)
		o.metrics.ObserveTradeFailed()
		now := time.Now().UTC()
		o.publish(schema.Event{Type: enum.EventTradeFailed, At: now, TradeID: p.TradeID, IntentID: in.ID})
		o.publish(schema.Event{Type: enum.EventIntentFailed, At: now, IntentID: in.ID})
	}
	o.locks.Release(p.BuyOrderID, p.SellOrderID, p.SellLotID)
	return nil
}

// creditLot merges the traded quantity into an existing buyer lot of the
// same fungible credit, or creates a fresh lot carrying the seller lot's
// ledger token reference.
func creditLot(ctx context.Context, tx store.Store, buyerID string, source schema.AssetLot, amount, price decimal.Decimal) error {
	lots, err := tx.LotsByOwner(ctx, buyerID)
	if err != nil {
		return err
	}
	for _, lot := range lots {
		if !lot.SameCredit(source) {
			continue
		}
		lot.Amount = lot.Amount.Add(amount)
		lot.CurrentPrice = price
		return tx.SaveLot(ctx, lot)
	}
	return tx.CreateLot(ctx, &schema.AssetLot{
		ID:             uuid.NewString(),
		OwnerID:        buyerID,
		CreditType:     source.CreditType,
		Vintage:        source.Vintage,
		Standard:       source.Standard,
		Location:       source.Location,
		Amount:         amount,
		OriginalPrice:  price,
		CurrentPrice:   price,
		LedgerTokenRef: source.LedgerTokenRef,
		CreatedAt:      time.Now().UTC(),
	})
}
