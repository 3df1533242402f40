package schema

import (
	"time"

	"github.com/shopspring/decimal"

	"carbonx/internal/schema/enum"
)

// Intent is the durable record of one requested ledger mutation. Its ID is
// the idempotency token presented to the ledger, so resubmitting the same
// intent has effect at most once.
type Intent struct {
	ID            string           `gorm:"primaryKey" json:"id"`
	Kind          enum.IntentKind  `json:"kind"`
	State         enum.IntentState `gorm:"index" json:"state"`
	Payload       []byte           `json:"payload"`
	LedgerTxRef   string           `gorm:"index" json:"ledgerTxRef,omitempty"`
	Attempts      int              `json:"attempts"`
	LastAttemptAt time.Time        `json:"lastAttemptAt,omitempty"`
	TerminalAt    time.Time        `json:"terminalAt,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// TradePayload is the RECORD_TRADE operation body.
type TradePayload struct {
	TradeID     string          `json:"tradeId"`
	BuyOrderID  string          `json:"buyOrderId"`
	SellOrderID string          `json:"sellOrderId"`
	BuyerID     string          `json:"buyerId"`
	SellerID    string          `json:"sellerId"`
	SellLotID   string          `json:"sellLotId"`
	Amount      decimal.Decimal `json:"amount"`
	Price       decimal.Decimal `json:"price"`
}

// MintPayload is the MINT operation body.
type MintPayload struct {
	OwnerID    string          `json:"ownerId"`
	CreditType string          `json:"creditType"`
	Vintage    int             `json:"vintage"`
	Standard   string          `json:"standard"`
	Location   string          `json:"location"`
	Amount     decimal.Decimal `json:"amount"`
	Price      decimal.Decimal `json:"price"`
}

// TransferPayload is the TRANSFER operation body.
type TransferPayload struct {
	LotID   string          `json:"lotId"`
	FromID  string          `json:"fromId"`
	ToID    string          `json:"toId"`
	Amount  decimal.Decimal `json:"amount"`
}

// RetirePayload is the RETIRE operation body.
type RetirePayload struct {
	LotID   string          `json:"lotId"`
	OwnerID string          `json:"ownerId"`
	Amount  decimal.Decimal `json:"amount"`
	Reason  string          `json:"reason,omitempty"`
}
