package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetLot is a quantity of one credit type/vintage/standard owned by a
// single account. Amount moves only as a side effect of a terminal intent.
type AssetLot struct {
	ID             string          `gorm:"primaryKey" json:"id"`
	OwnerID        string          `gorm:"index" json:"ownerId"`
	CreditType     string          `json:"creditType"`
	Vintage        int             `json:"vintage"`
	Standard       string          `json:"standard"`
	Location       string          `json:"location"`
	Amount         decimal.Decimal `gorm:"type:numeric" json:"amount"`
	OriginalPrice  decimal.Decimal `gorm:"type:numeric" json:"originalPrice"`
	CurrentPrice   decimal.Decimal `gorm:"type:numeric" json:"currentPrice"`
	LedgerTokenRef string          `json:"ledgerTokenRef"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// SameCredit reports whether two lots hold the same fungible credit.
func (l AssetLot) SameCredit(other AssetLot) bool {
	return l.CreditType == other.CreditType &&
		l.Vintage == other.Vintage &&
		l.Standard == other.Standard &&
		l.Location == other.Location
}
