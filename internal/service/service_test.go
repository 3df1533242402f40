package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbonx/internal/book"
	"carbonx/internal/bus"
	"carbonx/internal/ledger"
	"carbonx/internal/obs"
	"carbonx/internal/schema"
	"carbonx/internal/schema/enum"
	"carbonx/internal/settle"
	"carbonx/internal/store"
	"carbonx/pkg/exception"
	"carbonx/pkg/retry"
)

type fixture struct {
	store *store.MemStore
	stub  *ledger.StubLedger
	book  *book.Book
	orch  *settle.Orchestrator
	svc   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemStore()
	stub := ledger.NewStubLedger()
	gw := ledger.NewGateway(stub, ledger.GatewayConfig{
		SubmitAttempts: 3,
		ConfirmWait:    50 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
		Backoff:        retry.Backoff{Min: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2},
	})
	bk := book.New(st)
	events := bus.NewQueue(64)
	metrics := obs.NewMetrics()
	orch := settle.NewOrchestrator(st, gw, bk, events, metrics, 2, 32)
	return &fixture{
		store: st,
		stub:  stub,
		book:  bk,
		orch:  orch,
		svc:   New(st, bk, orch, events, metrics),
	}
}

func (f *fixture) seedLot(t *testing.T, id, owner string, amount int64) *schema.AssetLot {
	t.Helper()
	lot := &schema.AssetLot{
		ID:         id,
		OwnerID:    owner,
		CreditType: "EUA",
		Vintage:    2024,
		Standard:   "verra",
		Amount:     decimal.NewFromInt(amount),
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, f.store.CreateLot(context.Background(), lot))
	return lot
}

func TestPlaceOrderPersistsBeforeMatching(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	lot := f.seedLot(t, "lot-1", "seller", 100)

	placed, err := f.svc.PlaceOrder(ctx, &schema.Order{
		AccountID: "seller",
		Side:      enum.OrderSideSell,
		LotID:     lot.ID,
		Amount:    decimal.NewFromInt(50),
		Price:     decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	require.NotEmpty(t, placed.ID)
	assert.Equal(t, enum.OrderStateOpen, placed.State)
	assert.True(t, placed.Remaining.Equal(decimal.NewFromInt(50)))

	stored, err := f.store.Order(ctx, placed.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.OrderStateOpen, stored.State)

	_, resting := f.book.Order(placed.ID)
	assert.True(t, resting)
}

func TestPlaceOrderRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.PlaceOrder(ctx, &schema.Order{
		AccountID: "buyer",
		Side:      enum.OrderSideBuy,
		Amount:    decimal.NewFromInt(-5),
		Price:     decimal.NewFromInt(10),
	})
	assert.ErrorIs(t, err, exception.ErrInvalidOrder)

	// a sell without a backing lot never reaches the book
	_, err = f.svc.PlaceOrder(ctx, &schema.Order{
		AccountID: "seller",
		Side:      enum.OrderSideSell,
		LotID:     "nope",
		Amount:    decimal.NewFromInt(5),
		Price:     decimal.NewFromInt(10),
	})
	assert.ErrorIs(t, err, exception.ErrInvalidOrder)
}

func TestCancelOrderLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	placed, err := f.svc.PlaceOrder(ctx, &schema.Order{
		AccountID: "buyer",
		Side:      enum.OrderSideBuy,
		Amount:    decimal.NewFromInt(10),
		Price:     decimal.NewFromInt(10),
		Filter:    schema.LotFilter{CreditType: "EUA"},
	})
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.CancelOrder(ctx, placed.ID, "mallory"), exception.ErrOrderForbidden)
	require.NoError(t, f.svc.CancelOrder(ctx, placed.ID, "buyer"))

	stored, err := f.svc.OrderStatus(ctx, placed.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.OrderStateCancelled, stored.State)

	// cancelling again reports terminality from the durable record
	assert.ErrorIs(t, f.svc.CancelOrder(ctx, placed.ID, "buyer"), exception.ErrOrderAlreadyTerminal)
	assert.ErrorIs(t, f.svc.CancelOrder(ctx, "ghost", "buyer"), exception.ErrOrderNotFound)
}

func TestMatchCycleSettlesEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t)
	lot := f.seedLot(t, "lot-1", "seller", 100)

	sell, err := f.svc.PlaceOrder(ctx, &schema.Order{
		AccountID: "seller",
		Side:      enum.OrderSideSell,
		LotID:     lot.ID,
		Amount:    decimal.NewFromInt(40),
		Price:     decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	buy, err := f.svc.PlaceOrder(ctx, &schema.Order{
		AccountID: "buyer",
		Side:      enum.OrderSideBuy,
		Amount:    decimal.NewFromInt(40),
		Price:     decimal.NewFromInt(12),
		Filter:    schema.LotFilter{CreditType: "EUA"},
	})
	require.NoError(t, err)

	f.orch.Run(ctx)
	require.Equal(t, 1, f.svc.MatchCycle(ctx))

	require.Eventually(t, func() bool {
		order, err := f.store.Order(ctx, buy.ID)
		return err == nil && order.State == enum.OrderStateFilled
	}, 2*time.Second, 10*time.Millisecond, "settlement must complete")

	sellOrder, err := f.svc.OrderStatus(ctx, sell.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.OrderStateFilled, sellOrder.State)

	buyerLots, err := f.svc.Lots(ctx, "buyer")
	require.NoError(t, err)
	require.Len(t, buyerLots, 1)
	assert.True(t, buyerLots[0].Amount.Equal(decimal.NewFromInt(40)))

	assert.Equal(t, uint64(1), f.svc.Metrics().TradesSettled)
}

func TestExpiredOrdersLeaveTheBook(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	placed, err := f.svc.PlaceOrder(ctx, &schema.Order{
		AccountID: "buyer",
		Side:      enum.OrderSideBuy,
		Amount:    decimal.NewFromInt(10),
		Price:     decimal.NewFromInt(10),
		Filter:    schema.LotFilter{CreditType: "EUA"},
	})
	require.NoError(t, err)

	// expire it in place
	stored, err := f.store.Order(ctx, placed.ID)
	require.NoError(t, err)
	stored.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, f.store.SaveOrder(ctx, stored))
	f.book.Rebuild([]*schema.Order{stored})

	f.svc.MatchCycle(ctx)

	after, err := f.svc.OrderStatus(ctx, placed.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.OrderStateExpired, after.State)
	_, resting := f.book.Order(placed.ID)
	assert.False(t, resting)
}

func TestRecoverRebuildsBookAndHolds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	lot := f.seedLot(t, "lot-1", "seller", 100)

	sell, err := f.svc.PlaceOrder(ctx, &schema.Order{
		AccountID: "seller",
		Side:      enum.OrderSideSell,
		LotID:     lot.ID,
		Amount:    decimal.NewFromInt(40),
		Price:     decimal.NewFromInt(10),
	})
	require.NoError(t, err)

	// simulate a restart: fresh book and orchestrator over the same store
	restarted := newFixtureOverStore(t, f.store)
	require.NoError(t, restarted.svc.Recover(ctx))

	_, resting := restarted.book.Order(sell.ID)
	assert.True(t, resting, "open orders must return to the book")
}

func newFixtureOverStore(t *testing.T, st *store.MemStore) *fixture {
	t.Helper()
	stub := ledger.NewStubLedger()
	gw := ledger.NewGateway(stub, ledger.GatewayConfig{
		SubmitAttempts: 3,
		ConfirmWait:    50 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
		Backoff:        retry.Backoff{Min: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2},
	})
	bk := book.New(st)
	events := bus.NewQueue(64)
	metrics := obs.NewMetrics()
	orch := settle.NewOrchestrator(st, gw, bk, events, metrics, 2, 32)
	return &fixture{
		store: st,
		stub:  stub,
		book:  bk,
		orch:  orch,
		svc:   New(st, bk, orch, events, metrics),
	}
}
