package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"carbonx/internal/errors"
	"carbonx/internal/schema"
	"carbonx/internal/schema/enum"
	"carbonx/pkg/exception"
)

var _ Store = (*PGStore)(nil)

// PGStore persists entities through gorm/postgres.
type PGStore struct {
	db *gorm.DB
}

// NewPGStore wraps an open gorm connection.
func NewPGStore(db *gorm.DB) *PGStore {
	return &PGStore{db: db}
}

// Migrate creates or updates the backing tables.
func (s *PGStore) Migrate() error {
	return s.db.AutoMigrate(
		&schema.Order{},
		&schema.AssetLot{},
		&schema.Trade{},
		&schema.Intent{},
	)
}

func (s *PGStore) CreateOrder(ctx context.Context, order *schema.Order) error {
	return errors.Wrap(s.db.WithContext(ctx).Create(order).Error, "create order")
}

func (s *PGStore) Order(ctx context.Context, id string) (*schema.Order, error) {
	var order schema.Order
	if err := s.db.WithContext(ctx).First(&order, "id = ?", id).Error; err != nil {
		return nil, firstErr(err, exception.ErrOrderNotFound)
	}
	return &order, nil
}

func (s *PGStore) SaveOrder(ctx context.Context, order *schema.Order) error {
	return errors.Wrap(s.db.WithContext(ctx).Save(order).Error, "save order")
}

func (s *PGStore) OpenOrders(ctx context.Context) ([]*schema.Order, error) {
	var orders []*schema.Order
	err := s.db.WithContext(ctx).
		Where("state IN ?", []enum.OrderState{enum.OrderStateOpen, enum.OrderStatePartiallyFilled}).
		Order("side, price, created_at").
		Find(&orders).Error
	if err != nil {
		return nil, errors.Wrap(err, "scan open orders")
	}
	return orders, nil
}

func (s *PGStore) CreateLot(ctx context.Context, lot *schema.AssetLot) error {
	return errors.Wrap(s.db.WithContext(ctx).Create(lot).Error, "create lot")
}

func (s *PGStore) Lot(ctx context.Context, id string) (*schema.AssetLot, error) {
	var lot schema.AssetLot
	if err := s.db.WithContext(ctx).First(&lot, "id = ?", id).Error; err != nil {
		return nil, firstErr(err, exception.ErrLotNotFound)
	}
	return &lot, nil
}

func (s *PGStore) SaveLot(ctx context.Context, lot *schema.AssetLot) error {
	return errors.Wrap(s.db.WithContext(ctx).Save(lot).Error, "save lot")
}

func (s *PGStore) LotsByOwner(ctx context.Context, ownerID string) ([]*schema.AssetLot, error) {
	var lots []*schema.AssetLot
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at").
		Find(&lots).Error
	if err != nil {
		return nil, errors.Wrap(err, "scan lots by owner")
	}
	return lots, nil
}

func (s *PGStore) CreateTrade(ctx context.Context, trade *schema.Trade) error {
	return errors.Wrap(s.db.WithContext(ctx).Create(trade).Error, "create trade")
}

func (s *PGStore) Trade(ctx context.Context, id string) (*schema.Trade, error) {
	var trade schema.Trade
	if err := s.db.WithContext(ctx).First(&trade, "id = ?", id).Error; err != nil {
		return nil, firstErr(err, exception.ErrTradeNotFound)
	}
	return &trade, nil
}

func (s *PGStore) SaveTrade(ctx context.Context, trade *schema.Trade) error {
	return errors.Wrap(s.db.WithContext(ctx).Save(trade).Error, "save trade")
}

func (s *PGStore) CreateIntent(ctx context.Context, intent *schema.Intent) error {
	return errors.Wrap(s.db.WithContext(ctx).Create(intent).Error, "create intent")
}

func (s *PGStore) Intent(ctx context.Context, id string) (*schema.Intent, error) {
	var intent schema.Intent
	if err := s.db.WithContext(ctx).First(&intent, "id = ?", id).Error; err != nil {
		return nil, firstErr(err, exception.ErrIntentNotFound)
	}
	return &intent, nil
}

func (s *PGStore) SaveIntent(ctx context.Context, intent *schema.Intent) error {
	return errors.Wrap(s.db.WithContext(ctx).Save(intent).Error, "save intent")
}

func (s *PGStore) LiveIntents(ctx context.Context, olderThan time.Time) ([]*schema.Intent, error) {
	var intents []*schema.Intent
	err := s.db.WithContext(ctx).
		Where("state IN ?", []enum.IntentState{enum.IntentStateSubmitted, enum.IntentStateUnknown}).
		Where("last_attempt_at < ?", olderThan).
		Order("last_attempt_at").
		Find(&intents).Error
	if err != nil {
		return nil, errors.Wrap(err, "scan live intents")
	}
	return intents, nil
}

func (s *PGStore) OpenIntents(ctx context.Context) ([]*schema.Intent, error) {
	var intents []*schema.Intent
	err := s.db.WithContext(ctx).
		Where("state IN ?", []enum.IntentState{
			enum.IntentStatePending, enum.IntentStateSubmitted, enum.IntentStateUnknown,
		}).
		Order("created_at").
		Find(&intents).Error
	if err != nil {
		return nil, errors.Wrap(err, "scan open intents")
	}
	return intents, nil
}

func (s *PGStore) Transact(ctx context.Context, fn func(Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&PGStore{db: tx})
	})
}

func firstErr(err error, notFound error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound
	}
	return err
}
