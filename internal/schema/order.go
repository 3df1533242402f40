package schema

import (
	"time"

	"github.com/shopspring/decimal"

	"carbonx/internal/schema/enum"
)

// LotFilter narrows which lots an order may trade against. Empty fields
// are wildcards; compatibility is a conjunction of all non-empty fields
// on both sides.
type LotFilter struct {
	CreditType string `json:"creditType,omitempty"`
	Vintage    int    `json:"vintage,omitempty"`
	Standard   string `json:"standard,omitempty"`
	Location   string `json:"location,omitempty"`
}

// Compatible reports whether two filters can describe the same lot.
func (f LotFilter) Compatible(other LotFilter) bool {
	if f.CreditType != "" && other.CreditType != "" && f.CreditType != other.CreditType {
		return false
	}
	if f.Vintage != 0 && other.Vintage != 0 && f.Vintage != other.Vintage {
		return false
	}
	if f.Standard != "" && other.Standard != "" && f.Standard != other.Standard {
		return false
	}
	if f.Location != "" && other.Location != "" && f.Location != other.Location {
		return false
	}
	return true
}

// MatchesLot reports whether every non-empty filter field agrees with the lot.
func (f LotFilter) MatchesLot(lot AssetLot) bool {
	if f.CreditType != "" && f.CreditType != lot.CreditType {
		return false
	}
	if f.Vintage != 0 && f.Vintage != lot.Vintage {
		return false
	}
	if f.Standard != "" && f.Standard != lot.Standard {
		return false
	}
	if f.Location != "" && f.Location != lot.Location {
		return false
	}
	return true
}

// FromLot builds the filter describing a concrete lot. SELL orders carry
// it so that compatibility checks see the lot's attributes.
func FromLot(lot AssetLot) LotFilter {
	return LotFilter{
		CreditType: lot.CreditType,
		Vintage:    lot.Vintage,
		Standard:   lot.Standard,
		Location:   lot.Location,
	}
}

// Order is a resting buy or sell instruction. A SELL order references the
// asset lot it draws from; a BUY order references no lot until matched.
type Order struct {
	ID        string          `gorm:"primaryKey" json:"id"`
	AccountID string          `gorm:"index" json:"accountId"`
	Side      enum.OrderSide  `json:"side"`
	LotID     string          `json:"lotId,omitempty"`
	Amount    decimal.Decimal `gorm:"type:numeric" json:"amount"`
	Remaining decimal.Decimal `gorm:"type:numeric" json:"remaining"`
	Price     decimal.Decimal `gorm:"type:numeric" json:"price"`
	Filter    LotFilter       `gorm:"embedded;embeddedPrefix:filter_" json:"filter"`
	State     enum.OrderState `gorm:"index" json:"state"`
	CreatedAt time.Time       `json:"createdAt"`
	ExpiresAt time.Time       `json:"expiresAt,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Expired reports whether the order is past its expiry. A zero ExpiresAt
// never expires.
func (o Order) Expired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && now.After(o.ExpiresAt)
}
