package schema

import (
	"time"

	"github.com/shopspring/decimal"

	"carbonx/internal/schema/enum"
)

// Trade is the result of matching one buy and one sell order. Quantity and
// clearing price are immutable once created; only Status moves.
type Trade struct {
	ID                 string           `gorm:"primaryKey" json:"id"`
	BuyOrderID         string           `gorm:"index" json:"buyOrderId"`
	SellOrderID        string           `gorm:"index" json:"sellOrderId"`
	Amount             decimal.Decimal  `gorm:"type:numeric" json:"amount"`
	ClearingPrice      decimal.Decimal  `gorm:"type:numeric" json:"clearingPrice"`
	Status             enum.TradeStatus `json:"status"`
	SettlementIntentID string           `json:"settlementIntentId"`
	CreatedAt          time.Time        `json:"createdAt"`
	UpdatedAt          time.Time        `json:"updatedAt"`
}
