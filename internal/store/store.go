package store

import (
	"context"
	"time"

	"carbonx/internal/schema"
)

// Store is the durable source of truth for orders, lots, trades and
// intents. The in-memory order book is rebuilt from it on restart.
//
// Point lookups return exception sentinels (ErrOrderNotFound,
// ErrLotNotFound, ErrTradeNotFound, ErrIntentNotFound) when missing.
type Store interface {
	CreateOrder(ctx context.Context, order *schema.Order) error
	Order(ctx context.Context, id string) (*schema.Order, error)
	SaveOrder(ctx context.Context, order *schema.Order) error
	// OpenOrders returns OPEN and PARTIALLY_FILLED orders sorted by
	// (side, price, createdAt) for book recovery.
	OpenOrders(ctx context.Context) ([]*schema.Order, error)

	CreateLot(ctx context.Context, lot *schema.AssetLot) error
	Lot(ctx context.Context, id string) (*schema.AssetLot, error)
	SaveLot(ctx context.Context, lot *schema.AssetLot) error
	LotsByOwner(ctx context.Context, ownerID string) ([]*schema.AssetLot, error)

	CreateTrade(ctx context.Context, trade *schema.Trade) error
	Trade(ctx context.Context, id string) (*schema.Trade, error)
	SaveTrade(ctx context.Context, trade *schema.Trade) error

	CreateIntent(ctx context.Context, intent *schema.Intent) error
	Intent(ctx context.Context, id string) (*schema.Intent, error)
	SaveIntent(ctx context.Context, intent *schema.Intent) error
	// LiveIntents returns SUBMITTED and UNKNOWN intents whose last
	// attempt is older than the cutoff; the reconciler feeds on it.
	LiveIntents(ctx context.Context, olderThan time.Time) ([]*schema.Intent, error)
	// OpenIntents returns every non-terminal intent, used to restore
	// soft-holds and advisory locks after a restart.
	OpenIntents(ctx context.Context) ([]*schema.Intent, error)

	// Transact runs fn against a store view whose writes commit or roll
	// back as one unit. Confirmed settlements apply lot, order, trade
	// and intent mutations through it.
	Transact(ctx context.Context, fn func(Store) error) error
}
