package settle

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbonx/internal/book"
	"carbonx/internal/bus"
	"carbonx/internal/intent"
	"carbonx/internal/ledger"
	"carbonx/internal/obs"
	"carbonx/internal/schema"
	"carbonx/internal/schema/enum"
	"carbonx/internal/store"
	"carbonx/pkg/exception"
	"carbonx/pkg/retry"
)

type fixture struct {
	store  *store.MemStore
	stub   *ledger.StubLedger
	book   *book.Book
	events *bus.Queue
	orch   *Orchestrator
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
	return &fixture{
		store:  st,
		stub:   stub,
		book:   bk,
		events: events,
		orch:   NewOrchestrator(st, gw, bk, events, obs.NewMetrics(), 1, 16),
	}
}

// drainEvents closes the queue and collects everything published so far.
func (f *fixture) drainEvents() []schema.Event {
	var out []schema.Event
	f.events.Close()
	f.events.Run(context.Background(), func(e schema.Event) {
		out = append(out, e)
	})
	return out
}

func (f *fixture) seedLot(t *testing.T, id, owner string, amount int64) *schema.AssetLot {
	t.Helper()
	lot := &schema.AssetLot{
		ID:             id,
		OwnerID:        owner,
		CreditType:     "EUA",
		Vintage:        2024,
		Standard:       "verra",
		Location:       "EU",
		Amount:         decimal.NewFromInt(amount),
		OriginalPrice:  decimal.NewFromInt(10),
		CurrentPrice:   decimal.NewFromInt(10),
		LedgerTokenRef: "tok-" + id,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, f.store.CreateLot(context.Background(), lot))
	return lot
}

func (f *fixture) seedOrder(t *testing.T, o *schema.Order) *schema.Order {
	t.Helper()
	if o.Remaining.IsZero() {
		o.Remaining = o.Amount
	}
	o.State = enum.OrderStateOpen
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	require.NoError(t, f.store.CreateOrder(context.Background(), o))
	f.book.Insert(o)
	return o
}

func (f *fixture) matchOne(t *testing.T) book.Proposal {
	t.Helper()
	proposals := f.book.Match(time.Now())
	require.Len(t, proposals, 1)
	return proposals[0]
}

func (f *fixture) totalSupply(t *testing.T, owners ...string) decimal.Decimal {
	t.Helper()
	total := decimal.Zero
	for _, owner := range owners {
		lots, err := f.store.LotsByOwner(context.Background(), owner)
		require.NoError(t, err)
		for _, lot := range lots {
			total = total.Add(lot.Amount)
		}
	}
	return total
}

func matchedFixture(t *testing.T) (*fixture, book.Proposal) {
	f := newFixture(t)
	lot := f.seedLot(t, "lot-1", "seller", 100)
	f.seedOrder(t, &schema.Order{
		ID:        "sell-1",
		AccountID: "seller",
		Side:      enum.OrderSideSell,
		LotID:     lot.ID,
		Amount:    decimal.NewFromInt(40),
		Price:     decimal.NewFromInt(10),
		Filter:    schema.FromLot(*lot),
	})
	f.seedOrder(t, &schema.Order{
		ID:        "buy-1",
		AccountID: "buyer",
		Side:      enum.OrderSideBuy,
		Amount:    decimal.NewFromInt(40),
		Price:     decimal.NewFromInt(12),
		Filter:    schema.LotFilter{CreditType: "EUA"},
	})
	return f, f.matchOne(t)
}

func TestSettleTradeConfirmed(t *testing.T) {
	ctx := context.Background()
	f, p := matchedFixture(t)
	before := f.totalSupply(t, "seller", "buyer")

	f.orch.settleTrade(ctx, p)

	assert.True(t, before.Equal(f.totalSupply(t, "seller", "buyer")), "settlement must conserve total quantity")

	sellerLots, err := f.store.LotsByOwner(ctx, "seller")
	require.NoError(t, err)
	require.Len(t, sellerLots, 1)
	assert.True(t, sellerLots[0].Amount.Equal(decimal.NewFromInt(60)))

	buyerLots, err := f.store.LotsByOwner(ctx, "buyer")
	require.NoError(t, err)
	require.Len(t, buyerLots, 1)
	assert.True(t, buyerLots[0].Amount.Equal(decimal.NewFromInt(40)))
	assert.Equal(t, "tok-lot-1", buyerLots[0].LedgerTokenRef)

	for _, orderID := range []string{"buy-1", "sell-1"} {
		order, err := f.store.Order(ctx, orderID)
		require.NoError(t, err)
		assert.Equal(t, enum.OrderStateFilled, order.State)
		assert.True(t, order.Remaining.IsZero())
	}

	intents, err := f.store.OpenIntents(ctx)
	require.NoError(t, err)
	assert.Empty(t, intents, "intent must be terminal")

	assert.Equal(t, 1, f.stub.Operations())
	for _, id := range []string{"buy-1", "sell-1", "lot-1"} {
		assert.False(t, f.orch.locks.Held(id), "locks must release at terminal resolution")
	}
	snap := f.orch.metrics.Snapshot()
	assert.Equal(t, uint64(1), snap.TradesSettled)
}

func TestSettleTradeRejectedRestoresEligibility(t *testing.T) {
	ctx := context.Background()
	f, p := matchedFixture(t)
	f.stub.RejectNext()

	f.orch.settleTrade(ctx, p)

	// durable records untouched, no movement
	for _, orderID := range []string{"buy-1", "sell-1"} {
		order, err := f.store.Order(ctx, orderID)
		require.NoError(t, err)
		assert.True(t, order.Remaining.Equal(decimal.NewFromInt(40)))
	}
	lots, err := f.store.LotsByOwner(ctx, "buyer")
	require.NoError(t, err)
	assert.Empty(t, lots)

	intents, err := f.store.OpenIntents(ctx)
	require.NoError(t, err)
	assert.Empty(t, intents)

	// the quantity becomes eligible again on the next cycle
	again := f.book.Match(time.Now())
	require.Len(t, again, 1)
	assert.True(t, again[0].Amount.Equal(decimal.NewFromInt(40)))

	for _, id := range []string{"buy-1", "sell-1", "lot-1"} {
		assert.False(t, f.orch.locks.Held(id))
	}
	snap := f.orch.metrics.Snapshot()
	assert.Equal(t, uint64(1), snap.TradesFailed)
}

func TestSettleTradeTimeoutLeavesUnknown(t *testing.T) {
	ctx := context.Background()
	f, p := matchedFixture(t)
	f.stub.HoldPending(true)

	f.orch.settleTrade(ctx, p)

	intents, err := f.store.OpenIntents(ctx)
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, enum.IntentStateUnknown, intents[0].State)
	assert.NotEmpty(t, intents[0].LedgerTxRef)

	// ambiguity keeps everything pinned: locks stay, holds stay
	for _, id := range []string{"buy-1", "sell-1", "lot-1"} {
		assert.True(t, f.orch.locks.Held(id), "locks must stay while the outcome is unknown")
	}
	assert.Empty(t, f.book.Match(time.Now()), "held quantity must not rematch")

	payload, err := intent.DecodeTrade(intents[0])
	require.NoError(t, err)
	trade, err := f.store.Trade(ctx, payload.TradeID)
	require.NoError(t, err)
	assert.Equal(t, enum.TradeStatusSettling, trade.Status)

	// no local side effects were applied
	lots, err := f.store.LotsByOwner(ctx, "buyer")
	require.NoError(t, err)
	assert.Empty(t, lots)
}

func TestSettleTradeSkipsWhenEntityLocked(t *testing.T) {
	ctx := context.Background()
	f, p := matchedFixture(t)
	require.NoError(t, f.orch.locks.TryAcquire("lot-1"))

	f.orch.settleTrade(ctx, p)

	intents, err := f.store.OpenIntents(ctx)
	require.NoError(t, err)
	assert.Empty(t, intents, "no intent may be created while an entity is locked")
	assert.Equal(t, 0, f.stub.Operations())

	f.orch.locks.Release("lot-1")
	assert.Len(t, f.book.Match(time.Now()), 1, "released quantity must rematch")
}

func TestReconcilerResolutionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f, p := matchedFixture(t)

	f.orch.settleTrade(ctx, p)

	buyerLots, err := f.store.LotsByOwner(ctx, "buyer")
	require.NoError(t, err)
	require.Len(t, buyerLots, 1)
	creditedOnce := buyerLots[0].Amount

	// replay the same outcome the way a racing reconciler would
	trade, err := f.store.Trade(ctx, tradeIDOf(t, f, "buy-1"))
	require.NoError(t, err)
	confirmed, err := f.store.Intent(ctx, trade.SettlementIntentID)
	require.NoError(t, err)
	require.NoError(t, f.orch.ResolveConfirmed(ctx, confirmed))

	buyerLots, err = f.store.LotsByOwner(ctx, "buyer")
	require.NoError(t, err)
	require.Len(t, buyerLots, 1)
	assert.True(t, creditedOnce.Equal(buyerLots[0].Amount), "replayed resolution must not double-credit")
}

// tradeIDOf finds the trade created for an order's settlement by walking
// the intent payloads.
func tradeIDOf(t *testing.T, f *fixture, orderID string) string {
	t.Helper()
	for _, i := range f.store.AllIntents() {
		if i.Kind != enum.IntentKindRecordTrade {
			continue
		}
		p, err := intent.DecodeTrade(i)
		require.NoError(t, err)
		if p.BuyOrderID == orderID || p.SellOrderID == orderID {
			return p.TradeID
		}
	}
	t.Fatalf("no trade intent touching order %s", orderID)
	return ""
}

func TestRequestMintConfirmed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.orch.RequestMint(ctx, schema.MintPayload{
		OwnerID:    "issuer",
		CreditType: "EUA",
		Vintage:    2025,
		Standard:   "verra",
		Location:   "EU",
		Amount:     decimal.NewFromInt(500),
		Price:      decimal.NewFromInt(8),
	})
	require.NoError(t, err)

	f.orch.RunIntent(ctx, id)

	in, err := f.store.Intent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, enum.IntentStateConfirmed, in.State)

	lots, err := f.store.LotsByOwner(ctx, "issuer")
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.True(t, lots[0].Amount.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, in.LedgerTxRef, lots[0].LedgerTokenRef)
}

func TestRequestTransferSerializesPerLot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedLot(t, "lot-1", "alice", 100)

	first, err := f.orch.RequestTransfer(ctx, schema.TransferPayload{
		LotID:  "lot-1",
		FromID: "alice",
		ToID:   "bob",
		Amount: decimal.NewFromInt(30),
	})
	require.NoError(t, err)

	_, err = f.orch.RequestTransfer(ctx, schema.TransferPayload{
		LotID:  "lot-1",
		FromID: "alice",
		ToID:   "carol",
		Amount: decimal.NewFromInt(30),
	})
	assert.ErrorIs(t, err, exception.ErrLotBusy, "one live intent per lot")

	f.orch.RunIntent(ctx, first)

	in, err := f.store.Intent(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, enum.IntentStateConfirmed, in.State)

	bobLots, err := f.store.LotsByOwner(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, bobLots, 1)
	assert.True(t, bobLots[0].Amount.Equal(decimal.NewFromInt(30)))

	// terminal resolution frees the lot for the next operation
	_, err = f.orch.RequestTransfer(ctx, schema.TransferPayload{
		LotID:  "lot-1",
		FromID: "alice",
		ToID:   "carol",
		Amount: decimal.NewFromInt(30),
	})
	require.NoError(t, err)
}

func TestRequestRetireDebitsLot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedLot(t, "lot-1", "alice", 100)

	id, err := f.orch.RequestRetire(ctx, schema.RetirePayload{
		LotID:   "lot-1",
		OwnerID: "alice",
		Amount:  decimal.NewFromInt(25),
		Reason:  "2025 compliance",
	})
	require.NoError(t, err)

	f.orch.RunIntent(ctx, id)

	lot, err := f.store.Lot(ctx, "lot-1")
	require.NoError(t, err)
	assert.True(t, lot.Amount.Equal(decimal.NewFromInt(75)))
}

func TestRequestRetireRejectsForeignLot(t *testing.T) {
	f := newFixture(t)
	f.seedLot(t, "lot-1", "alice", 100)

	_, err := f.orch.RequestRetire(context.Background(), schema.RetirePayload{
		LotID:   "lot-1",
		OwnerID: "mallory",
		Amount:  decimal.NewFromInt(5),
	})
	assert.ErrorIs(t, err, exception.ErrLotForbidden)
}

func TestRunIntentResumesSubmitted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.stub.HoldPending(true)

	id, err := f.orch.RequestMint(ctx, schema.MintPayload{
		OwnerID:    "issuer",
		CreditType: "EUA",
		Amount:     decimal.NewFromInt(10),
	})
	require.NoError(t, err)

	f.orch.RunIntent(ctx, id)

	in, err := f.store.Intent(ctx, id)
	require.NoError(t, err)
	require.Equal(t, enum.IntentStateUnknown, in.State)
	ops := f.stub.Operations()

	// the ledger finalizes while we were not looking; a later run of the
	// same intent must confirm without resubmitting
	f.stub.HoldPending(false)
	resolved, err := f.store.Intent(ctx, id)
	require.NoError(t, err)
	require.NoError(t, f.orch.ResolveConfirmed(ctx, resolved))

	in, err = f.store.Intent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, enum.IntentStateConfirmed, in.State)
	assert.Equal(t, ops, f.stub.Operations(), "resolution must not touch the ledger again")
}

func TestAbandonFailsIntentAndReleasesLock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedLot(t, "lot-1", "alice", 100)
	f.stub.HoldPending(true)

	id, err := f.orch.RequestTransfer(ctx, schema.TransferPayload{
		LotID:  "lot-1",
		FromID: "alice",
		ToID:   "bob",
		Amount: decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	f.orch.RunIntent(ctx, id)

	in, err := f.store.Intent(ctx, id)
	require.NoError(t, err)
	require.Equal(t, enum.IntentStateUnknown, in.State)
	require.True(t, f.orch.locks.Held("lot-1"))

	require.NoError(t, f.orch.Abandon(ctx, in))

	in, err = f.store.Intent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, enum.IntentStateFailed, in.State)
	assert.False(t, f.orch.locks.Held("lot-1"))
	assert.Equal(t, uint64(1), f.orch.metrics.Snapshot().Abandoned)

	var abandoned bool
	for _, e := range f.drainEvents() {
		if e.Type == enum.EventReconcilerAbandoned {
			abandoned = true
		}
	}
	assert.True(t, abandoned, "operators must hear about abandonment")
}

func TestRestoreReestablishesHoldsAndLocks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	lot := f.seedLot(t, "lot-1", "seller", 100)
	f.seedOrder(t, &schema.Order{
		ID:        "sell-1",
		AccountID: "seller",
		Side:      enum.OrderSideSell,
		LotID:     lot.ID,
		Amount:    decimal.NewFromInt(40),
		Price:     decimal.NewFromInt(10),
		Filter:    schema.FromLot(*lot),
	})
	f.seedOrder(t, &schema.Order{
		ID:        "buy-1",
		AccountID: "buyer",
		Side:      enum.OrderSideBuy,
		Amount:    decimal.NewFromInt(40),
		Price:     decimal.NewFromInt(12),
		Filter:    schema.LotFilter{CreditType: "EUA"},
	})

	in, err := intent.New(enum.IntentKindRecordTrade, schema.TradePayload{
		TradeID:     "trade-1",
		BuyOrderID:  "buy-1",
		SellOrderID: "sell-1",
		BuyerID:     "buyer",
		SellerID:    "seller",
		SellLotID:   "lot-1",
		Amount:      decimal.NewFromInt(40),
		Price:       decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	require.NoError(t, intent.MarkSubmitted(in, "ref-1"))
	require.NoError(t, f.store.CreateIntent(ctx, in))

	require.NoError(t, f.orch.Restore(ctx))

	for _, id := range []string{"buy-1", "sell-1", "lot-1"} {
		assert.True(t, f.orch.locks.Held(id))
	}
	assert.Empty(t, f.book.Match(time.Now()), "restored holds must keep in-flight quantity off the market")
	assert.Equal(t, 1, len(f.orch.queue), "the submitted intent must be back in the work queue")
}

func TestFullQueueFailsIntentSafely(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.orch.queue = make(chan job) // unbuffered, nothing draining

	_, err := f.orch.RequestMint(ctx, schema.MintPayload{
		OwnerID:    "issuer",
		CreditType: "EUA",
		Amount:     decimal.NewFromInt(1),
	})
	assert.ErrorIs(t, err, exception.ErrQueueFull)

	intents := f.store.AllIntents()
	require.Len(t, intents, 1)
	assert.Equal(t, enum.IntentStateFailed, intents[0].State, "an intent never sent anywhere fails durably")
	assert.Equal(t, 0, f.stub.Operations())
}
