package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"carbonx/internal/schema"
	"carbonx/internal/schema/enum"
	"carbonx/pkg/exception"
)

var (
	_ Store = (*MemStore)(nil)
	_ Store = (*memTx)(nil)
)

// MemStore is an in-memory Store used by tests and the local stub mode.
// Entities are copied on the way in and out so callers never alias the
// stored records.
type MemStore struct {
	mu sync.Mutex
	d  memData
}

type memData struct {
	orders  map[string]schema.Order
	lots    map[string]schema.AssetLot
	trades  map[string]schema.Trade
	intents map[string]schema.Intent
}

// NewMemStore allocates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		d: memData{
			orders:  make(map[string]schema.Order),
			lots:    make(map[string]schema.AssetLot),
			trades:  make(map[string]schema.Trade),
			intents: make(map[string]schema.Intent),
		},
	}
}

func (s *MemStore) CreateOrder(ctx context.Context, o *schema.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.createOrder(o)
}

func (s *MemStore) Order(ctx context.Context, id string) (*schema.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.order(id)
}

func (s *MemStore) SaveOrder(ctx context.Context, o *schema.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.saveOrder(o)
}

func (s *MemStore) OpenOrders(ctx context.Context) ([]*schema.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.openOrders()
}

func (s *MemStore) CreateLot(ctx context.Context, l *schema.AssetLot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.createLot(l)
}

func (s *MemStore) Lot(ctx context.Context, id string) (*schema.AssetLot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.lot(id)
}

func (s *MemStore) SaveLot(ctx context.Context, l *schema.AssetLot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.saveLot(l)
}

func (s *MemStore) LotsByOwner(ctx context.Context, ownerID string) ([]*schema.AssetLot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.lotsByOwner(ownerID)
}

func (s *MemStore) CreateTrade(ctx context.Context, t *schema.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.createTrade(t)
}

func (s *MemStore) Trade(ctx context.Context, id string) (*schema.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.trade(id)
}

func (s *MemStore) SaveTrade(ctx context.Context, t *schema.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.saveTrade(t)
}

func (s *MemStore) CreateIntent(ctx context.Context, i *schema.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.createIntent(i)
}

func (s *MemStore) Intent(ctx context.Context, id string) (*schema.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.intent(id)
}

func (s *MemStore) SaveIntent(ctx context.Context, i *schema.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.saveIntent(i)
}

func (s *MemStore) LiveIntents(ctx context.Context, olderThan time.Time) ([]*schema.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.liveIntents(olderThan)
}

func (s *MemStore) OpenIntents(ctx context.Context) ([]*schema.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.openIntents()
}

// AllIntents returns every intent regardless of state, terminal ones
// included. Inspection helper for tests and the local stub mode.
func (s *MemStore) AllIntents() []*schema.Intent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*schema.Intent, 0, len(s.d.intents))
	for _, i := range s.d.intents {
		cp := i
		out = append(out, &cp)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out
}

// Transact serializes the whole callback under the store mutex. The view
// passed to fn writes straight into the live maps, matching the atomic
// multi-row contract of the persistence collaborator.
func (s *MemStore) Transact(ctx context.Context, fn func(Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memTx{d: &s.d})
}

// memTx is the unlocked transactional view handed to Transact callbacks.
type memTx struct {
	d *memData
}

func (t *memTx) CreateOrder(ctx context.Context, o *schema.Order) error  { return t.d.createOrder(o) }
func (t *memTx) Order(ctx context.Context, id string) (*schema.Order, error) { return t.d.order(id) }
func (t *memTx) SaveOrder(ctx context.Context, o *schema.Order) error    { return t.d.saveOrder(o) }
func (t *memTx) OpenOrders(ctx context.Context) ([]*schema.Order, error) { return t.d.openOrders() }
func (t *memTx) CreateLot(ctx context.Context, l *schema.AssetLot) error { return t.d.createLot(l) }
func (t *memTx) Lot(ctx context.Context, id string) (*schema.AssetLot, error) { return t.d.lot(id) }
func (t *memTx) SaveLot(ctx context.Context, l *schema.AssetLot) error   { return t.d.saveLot(l) }
func (t *memTx) LotsByOwner(ctx context.Context, ownerID string) ([]*schema.AssetLot, error) {
	return t.d.lotsByOwner(ownerID)
}
func (t *memTx) CreateTrade(ctx context.Context, tr *schema.Trade) error { return t.d.createTrade(tr) }
func (t *memTx) Trade(ctx context.Context, id string) (*schema.Trade, error) { return t.d.trade(id) }
func (t *memTx) SaveTrade(ctx context.Context, tr *schema.Trade) error   { return t.d.saveTrade(tr) }
func (t *memTx) CreateIntent(ctx context.Context, i *schema.Intent) error { return t.d.createIntent(i) }
func (t *memTx) Intent(ctx context.Context, id string) (*schema.Intent, error) {
	return t.d.intent(id)
}
func (t *memTx) SaveIntent(ctx context.Context, i *schema.Intent) error { return t.d.saveIntent(i) }
func (t *memTx) LiveIntents(ctx context.Context, olderThan time.Time) ([]*schema.Intent, error) {
	return t.d.liveIntents(olderThan)
}
func (t *memTx) OpenIntents(ctx context.Context) ([]*schema.Intent, error) {
	return t.d.openIntents()
}
func (t *memTx) Transact(ctx context.Context, fn func(Store) error) error { return fn(t) }

func (d *memData) createOrder(o *schema.Order) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	o.UpdatedAt = time.Now().UTC()
	d.orders[o.ID] = *o
	return nil
}

func (d *memData) order(id string) (*schema.Order, error) {
	o, ok := d.orders[id]
	if !ok {
		return nil, exception.ErrOrderNotFound
	}
	return &o, nil
}

func (d *memData) saveOrder(o *schema.Order) error {
	o.UpdatedAt = time.Now().UTC()
	d.orders[o.ID] = *o
	return nil
}

func (d *memData) openOrders() ([]*schema.Order, error) {
	out := make([]*schema.Order, 0, len(d.orders))
	for _, o := range d.orders {
		if o.State == enum.OrderStateOpen || o.State == enum.OrderStatePartiallyFilled {
			cp := o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Side != out[j].Side {
			return out[i].Side < out[j].Side
		}
		if !out[i].Price.Equal(out[j].Price) {
			return out[i].Price.LessThan(out[j].Price)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (d *memData) createLot(l *schema.AssetLot) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	l.UpdatedAt = time.Now().UTC()
	d.lots[l.ID] = *l
	return nil
}

func (d *memData) lot(id string) (*schema.AssetLot, error) {
	l, ok := d.lots[id]
	if !ok {
		return nil, exception.ErrLotNotFound
	}
	return &l, nil
}

func (d *memData) saveLot(l *schema.AssetLot) error {
	l.UpdatedAt = time.Now().UTC()
	d.lots[l.ID] = *l
	return nil
}

func (d *memData) lotsByOwner(ownerID string) ([]*schema.AssetLot, error) {
	out := make([]*schema.AssetLot, 0, 4)
	for _, l := range d.lots {
		if l.OwnerID == ownerID {
			cp := l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (d *memData) createTrade(t *schema.Trade) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	t.UpdatedAt = time.Now().UTC()
	d.trades[t.ID] = *t
	return nil
}

func (d *memData) trade(id string) (*schema.Trade, error) {
	t, ok := d.trades[id]
	if !ok {
		return nil, exception.ErrTradeNotFound
	}
	return &t, nil
}

func (d *memData) saveTrade(t *schema.Trade) error {
	t.UpdatedAt = time.Now().UTC()
	d.trades[t.ID] = *t
	return nil
}

func (d *memData) createIntent(i *schema.Intent) error {
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now().UTC()
	}
	i.UpdatedAt = time.Now().UTC()
	d.intents[i.ID] = *i
	return nil
}

func (d *memData) intent(id string) (*schema.Intent, error) {
	i, ok := d.intents[id]
	if !ok {
		return nil, exception.ErrIntentNotFound
	}
	return &i, nil
}

func (d *memData) saveIntent(i *schema.Intent) error {
	i.UpdatedAt = time.Now().UTC()
	d.intents[i.ID] = *i
	return nil
}

func (d *memData) liveIntents(olderThan time.Time) ([]*schema.Intent, error) {
	out := make([]*schema.Intent, 0, 4)
	for _, i := range d.intents {
		if i.State != enum.IntentStateSubmitted && i.State != enum.IntentStateUnknown {
			continue
		}
		if !i.LastAttemptAt.Before(olderThan) {
			continue
		}
		cp := i
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastAttemptAt.Before(out[j].LastAttemptAt) })
	return out, nil
}

func (d *memData) openIntents() ([]*schema.Intent, error) {
	out := make([]*schema.Intent, 0, 4)
	for _, i := range d.intents {
		if i.State.IsTerminal() {
			continue
		}
		cp := i
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
