package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/logs"

	"carbonx/internal/book"
	"carbonx/internal/bus"
	"carbonx/internal/errors"
	"carbonx/internal/obs"
	"carbonx/internal/schema"
	"carbonx/internal/schema/enum"
	"carbonx/internal/settle"
	"carbonx/internal/store"
	"carbonx/pkg/exception"
)

// Service is the exposed surface of the matching and settlement
// subsystem: order entry and cancellation, direct asset requests, status
// lookups, and the periodic match/expiry cycle.
type Service struct {
	store   store.Store
	book    *book.Book
	orch    *settle.Orchestrator
	events  *bus.Queue
	metrics *obs.Metrics
}

// New wires the service over its collaborators.
func New(st store.Store, bk *book.Book, orch *settle.Orchestrator, events *bus.Queue, metrics *obs.Metrics) *Service {
	return &Service{
		store:   st,
		book:    bk,
		orch:    orch,
		events:  events,
		metrics: metrics,
	}
}

// PlaceOrder validates and admits a new order. The durable record is
// written before the order becomes matchable.
func (s *Service) PlaceOrder(ctx context.Context, o *schema.Order) (*schema.Order, error) {
	if o == nil {
		return nil, exception.ErrNilInstance
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.State = enum.OrderStateOpen
	o.Remaining = o.Amount
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now

	if err := s.book.Validate(ctx, o); err != nil {
		return nil, err
	}
	if err := s.store.CreateOrder(ctx, o); err != nil {
		return nil, errors.Wrap(err, "persist order")
	}
	s.book.Insert(o)

	cp := *o
	return &cp, nil
}

// CancelOrder removes a resting order. Quantity soft-held by an in-flight
// settlement cannot be cancelled; the caller retries once the settlement
// resolves.
func (s *Service) CancelOrder(ctx context.Context, orderID, accountID string) error {
	cancelled, err := s.book.Cancel(orderID, accountID)
	if err != nil {
		if !errors.Is(err, exception.ErrOrderNotFound) {
			return err
		}
		// not resting; the durable record decides between unknown and
		// already-terminal
		order, lookupErr := s.store.Order(ctx, orderID)
		if lookupErr != nil {
			return lookupErr
		}
		if order.AccountID != accountID {
			return exception.ErrOrderForbidden
		}
		if order.State.IsTerminal() {
			return exception.ErrOrderAlreadyTerminal
		}
		return err
	}

	if err := s.store.SaveOrder(ctx, cancelled); err != nil {
		return errors.Wrap(err, "persist cancellation")
	}
	s.publish(schema.Event{
		Type:    enum.EventOrderCancelled,
		At:      time.Now().UTC(),
		OrderID: orderID,
	})
	return nil
}

// OrderStatus reports an order's current state and unfilled remainder.
func (s *Service) OrderStatus(ctx context.Context, orderID string) (*schema.Order, error) {
	return s.store.Order(ctx, orderID)
}

// TradeStatus reports a trade's settlement progress.
func (s *Service) TradeStatus(ctx context.Context, tradeID string) (*schema.Trade, error) {
	return s.store.Trade(ctx, tradeID)
}

// IntentStatus reports an intent's state and, once acknowledged, its
// ledger transaction reference.
func (s *Service) IntentStatus(ctx context.Context, intentID string) (*schema.Intent, error) {
	return s.store.Intent(ctx, intentID)
}

// RequestMint asks the ledger to issue new credits to an account.
func (s *Service) RequestMint(ctx context.Context, p schema.MintPayload) (string, error) {
	return s.orch.RequestMint(ctx, p)
}

// RequestTransfer moves credits between accounts outside the market.
func (s *Service) RequestTransfer(ctx context.Context, p schema.TransferPayload) (string, error) {
	return s.orch.RequestTransfer(ctx, p)
}

// RequestRetire permanently retires credits from a lot.
func (s *Service) RequestRetire(ctx context.Context, p schema.RetirePayload) (string, error) {
	return s.orch.RequestRetire(ctx, p)
}

// Lots lists an account's asset lots.
func (s *Service) Lots(ctx context.Context, ownerID string) ([]*schema.AssetLot, error) {
	return s.store.LotsByOwner(ctx, ownerID)
}

// Metrics returns a point-in-time metrics snapshot.
func (s *Service) Metrics() obs.Snapshot {
	return s.metrics.Snapshot()
}

// MatchCycle runs one scan of the book and hands every proposal to the
// settlement workers.
func (s *Service) MatchCycle(ctx context.Context) int {
	now := time.Now().UTC()

	for _, order := range s.book.Expire(now) {
		if err := s.store.SaveOrder(ctx, order); err != nil {
			logs.Errorf("persist expired order %s, err: %+v", order.ID, err)
			continue
		}
		s.publish(schema.Event{Type: enum.EventOrderExpired, At: now, OrderID: order.ID})
	}

	proposals := s.book.Match(now)
	s.metrics.ObserveMatches(len(proposals))
	enqueued := 0
	for _, p := range proposals {
		if err := s.orch.EnqueueProposal(p); err != nil {
			logs.Errorf("enqueue proposal %s/%s, err: %+v", p.BuyOrderID, p.SellOrderID, err)
			continue
		}
		enqueued++
	}
	return enqueued
}

// Run drives the match cycle until the context is done.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.MatchCycle(ctx)
		}
	}
}

// Recover rebuilds the in-memory book from durable open orders and
// re-establishes locks, holds, and work for in-flight intents. Called
// once on startup before the workers and the match loop begin.
func (s *Service) Recover(ctx context.Context) error {
	orders, err := s.store.OpenOrders(ctx)
	if err != nil {
		return errors.Wrap(err, "load open orders")
	}
	s.book.Rebuild(orders)
	if err := s.orch.Restore(ctx); err != nil {
		return errors.Wrap(err, "restore in-flight intents")
	}
	logs.Infof("recovered %d open orders", len(orders))
	return nil
}

func (s *Service) publish(e schema.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.TryPublish(e); err != nil {
		s.metrics.ObserveQueueDrop()
	}
}
