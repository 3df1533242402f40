package book

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"carbonx/internal/errors"
	"carbonx/internal/schema"
	"carbonx/internal/schema/enum"
	"carbonx/pkg/exception"
)

// LotReader is the read-only lot access the book needs to validate SELL
// orders against their backing asset lot.
type LotReader interface {
	Lot(ctx context.Context, id string) (*schema.AssetLot, error)
}

// Proposal is one matched (buy, sell, quantity, price) candidate. The
// book soft-holds the matched quantity when it emits a proposal; order
// state itself is mutated only after settlement resolves.
type Proposal struct {
	BuyOrderID  string
	SellOrderID string
	BuyerID     string
	SellerID    string
	SellLotID   string
	Amount      decimal.Decimal
	Price       decimal.Decimal
}

type entry struct {
	order *schema.Order
	held  decimal.Decimal
}

func (e *entry) available() decimal.Decimal {
	return e.order.Remaining.Sub(e.held)
}

// Book holds open buy/sell orders in price-time priority. It is mutated
// only through its own methods and is rebuildable from durable order
// records on restart.
type Book struct {
	mu      sync.Mutex
	lots    LotReader
	entries map[string]*entry
	buys    []*entry // desc price, asc createdAt
	sells   []*entry // asc price, asc createdAt
}

// New creates an empty book backed by the given lot reader.
func New(lots LotReader) *Book {
	return &Book{
		lots:    lots,
		entries: make(map[string]*entry),
	}
}

// Validate enforces business invariants on a new order and, for SELL
// orders, pins the order's filter to the backing lot's attributes.
// Field-format validation belongs to an outer collaborator.
func (b *Book) Validate(ctx context.Context, o *schema.Order) error {
	if o == nil {
		return exception.ErrNilInstance
	}
	if !o.Side.IsAvailable() {
		return errors.Wrap(exception.ErrInvalidOrder, "unknown side")
	}
	if !o.Amount.IsPositive() {
		return errors.Wrap(exception.ErrInvalidOrder, "amount must be positive")
	}
	if !o.Price.IsPositive() {
		return errors.Wrap(exception.ErrInvalidOrder, "price must be positive")
	}

	if o.Side == enum.OrderSideSell {
		if o.LotID == "" {
			return errors.Wrap(exception.ErrInvalidOrder, "sell order requires a lot")
		}
		lot, err := b.lots.Lot(ctx, o.LotID)
		if err != nil {
			return errors.Wrap(exception.ErrInvalidOrder, "sell lot lookup failed")
		}
		if lot.OwnerID != o.AccountID {
			return errors.Wrap(exception.ErrInvalidOrder, "sell lot not owned by account")
		}
		if lot.Amount.LessThan(o.Amount) {
			return errors.Wrap(exception.ErrInvalidOrder, "sell lot smaller than order amount")
		}
		if !o.Filter.MatchesLot(*lot) {
			return errors.Wrap(exception.ErrInvalidOrder, "filter contradicts the referenced lot")
		}
		o.Filter = schema.FromLot(*lot)
	}

	if o.Remaining.IsZero() {
		o.Remaining = o.Amount
	}
	if o.State == 0 {
		o.State = enum.OrderStateOpen
	}
	return nil
}

// Insert adds an already-validated, already-persisted order to the book.
func (b *Book) Insert(o *schema.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.insertLocked(o)
}

func (b *Book) insertLocked(o *schema.Order) {
	if _, ok := b.entries[o.ID]; ok {
		return
	}
	e := &entry{order: o, held: decimal.Zero}
	b.entries[o.ID] = e
	if o.Side == enum.OrderSideBuy {
		i := sort.Search(len(b.buys), func(i int) bool { return buyAfter(b.buys[i].order, o) })
		b.buys = append(b.buys, nil)
		copy(b.buys[i+1:], b.buys[i:])
		b.buys[i] = e
	} else {
		i := sort.Search(len(b.sells), func(i int) bool { return sellAfter(b.sells[i].order, o) })
		b.sells = append(b.sells, nil)
		copy(b.sells[i+1:], b.sells[i:])
		b.sells[i] = e
	}
}

// buyAfter reports whether existing should sort after candidate o.
func buyAfter(existing, o *schema.Order) bool {
	if !existing.Price.Equal(o.Price) {
		return existing.Price.LessThan(o.Price)
	}
	return existing.CreatedAt.After(o.CreatedAt)
}

func sellAfter(existing, o *schema.Order) bool {
	if !existing.Price.Equal(o.Price) {
		return existing.Price.GreaterThan(o.Price)
	}
	return existing.CreatedAt.After(o.CreatedAt)
}

// Cancel transitions a resting order to CANCELLED and removes it from
// matching. An order with a live soft-hold is mid-settlement and cannot
// be cancelled until the in-flight intent resolves.
func (b *Book) Cancel(orderID, accountID string) (*schema.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[orderID]
	if !ok {
		return nil, exception.ErrOrderNotFound
	}
	if e.order.AccountID != accountID {
		return nil, exception.ErrOrderForbidden
	}
	if e.order.State.IsTerminal() {
		return nil, exception.ErrOrderAlreadyTerminal
	}
	if e.held.IsPositive() {
		return nil, exception.ErrOrderHeld
	}

	e.order.State = enum.OrderStateCancelled
	b.removeLocked(orderID)
	cp := *e.order
	return &cp, nil
}

// Match scans the book and returns zero or more trade proposals under
// price-time priority. Matched quantity is soft-held until the caller
// reports a fill, a failure, or a release.
func (b *Book) Match(now time.Time) []Proposal {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Proposal
	for _, buy := range b.buys {
		if buy.order.Expired(now) {
			continue
		}
		for _, sell := range b.sells {
			avail := buy.available()
			if !avail.IsPositive() {
				break
			}
			if sell.order.Expired(now) {
				continue
			}
			sellAvail := sell.available()
			if !sellAvail.IsPositive() {
				continue
			}
			if buy.order.Price.LessThan(sell.order.Price) {
				// sells ascend by price; nothing further can cross
				break
			}
			if !buy.order.Filter.Compatible(sell.order.Filter) {
				continue
			}

			qty := decimal.Min(avail, sellAvail)
			price := clearingPrice(buy.order, sell.order)
			buy.held = buy.held.Add(qty)
			sell.held = sell.held.Add(qty)
			out = append(out, Proposal{
				BuyOrderID:  buy.order.ID,
				SellOrderID: sell.order.ID,
				BuyerID:     buy.order.AccountID,
				SellerID:    sell.order.AccountID,
				SellLotID:   sell.order.LotID,
				Amount:      qty,
				Price:       price,
			})
		}
	}
	return out
}

// clearingPrice is the resting order's price; on a tie, the sell side's
// ask wins since sell orders are asset-backed and must not fill below it.
func clearingPrice(buy, sell *schema.Order) decimal.Decimal {
	if buy.CreatedAt.Before(sell.CreatedAt) {
		return buy.Price
	}
	return sell.Price
}

// Release undoes the soft-holds of a proposal whose settlement never
// reached the ledger, returning the quantity to matching.
func (b *Book) Release(p Proposal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.releaseHoldLocked(p.BuyOrderID, p.Amount)
	b.releaseHoldLocked(p.SellOrderID, p.Amount)
}

func (b *Book) releaseHoldLocked(orderID string, amount decimal.Decimal) {
	e, ok := b.entries[orderID]
	if !ok {
		return
	}
	e.held = e.held.Sub(amount)
	if e.held.IsNegative() {
		e.held = decimal.Zero
	}
}

// Hold re-establishes a soft-hold, used when rebuilding the book while an
// intent is still in flight.
func (b *Book) Hold(orderID string, amount decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[orderID]
	if !ok {
		return exception.ErrOrderNotFound
	}
	if e.available().LessThan(amount) {
		return exception.ErrOrderHeld
	}
	e.held = e.held.Add(amount)
	return nil
}

// ApplyFill reduces an order's remaining quantity after a confirmed
// settlement and flips state OPEN -> PARTIALLY_FILLED -> FILLED. The
// durable record is the caller's responsibility; this syncs the book.
func (b *Book) ApplyFill(orderID string, amount decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[orderID]
	if !ok {
		return
	}
	e.order.Remaining = e.order.Remaining.Sub(amount)
	if e.order.Remaining.IsNegative() {
		e.order.Remaining = decimal.Zero
	}
	e.held = e.held.Sub(amount)
	if e.held.IsNegative() {
		e.held = decimal.Zero
	}
	if e.order.Remaining.IsZero() {
		e.order.State = enum.OrderStateFilled
		b.removeLocked(orderID)
		return
	}
	e.order.State = enum.OrderStatePartiallyFilled
}

// Expire removes orders past their expiry from matching and returns them
// transitioned to EXPIRED for the caller to persist. Soft-held quantity
// is never expired mid-settlement.
func (b *Book) Expire(now time.Time) []*schema.Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	var expired []*schema.Order
	for id, e := range b.entries {
		if !e.order.Expired(now) || e.held.IsPositive() {
			continue
		}
		e.order.State = enum.OrderStateExpired
		cp := *e.order
		expired = append(expired, &cp)
		b.removeLocked(id)
	}
	return expired
}

// Rebuild resets the book from durable open-order records.
func (b *Book) Rebuild(orders []*schema.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = make(map[string]*entry, len(orders))
	b.buys = b.buys[:0]
	b.sells = b.sells[:0]
	for _, o := range orders {
		cp := *o
		b.insertLocked(&cp)
	}
}

// Order returns a copy of a resting order, if present.
func (b *Book) Order(orderID string) (*schema.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[orderID]
	if !ok {
		return nil, false
	}
	cp := *e.order
	return &cp, true
}

func (b *Book) removeLocked(orderID string) {
	e, ok := b.entries[orderID]
	if !ok {
		return
	}
	delete(b.entries, orderID)
	if e.order.Side == enum.OrderSideBuy {
		b.buys = removeEntry(b.buys, e)
	} else {
		b.sells = removeEntry(b.sells, e)
	}
}

func removeEntry(list []*entry, e *entry) []*entry {
	for i, cur := range list {
		if cur == e {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
