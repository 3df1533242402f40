package schema

import (
	"time"

	"carbonx/internal/schema/enum"
)

// Event is a terminal outcome delivered to notification/indexing
// collaborators through the event stream.
type Event struct {
	Type     enum.EventType `json:"type"`
	At       time.Time      `json:"at"`
	OrderID  string         `json:"orderId,omitempty"`
	TradeID  string         `json:"tradeId,omitempty"`
	IntentID string         `json:"intentId,omitempty"`
	Detail   string         `json:"detail,omitempty"`
}
