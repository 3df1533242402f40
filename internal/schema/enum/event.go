package enum

// EventType terminal outcomes published to collaborators.
type EventType uint8

const (
	_event_type_beg EventType = iota
	EventTradeSettled
	EventTradeFailed
	EventOrderFilled
	EventOrderCancelled
	EventOrderExpired
	EventIntentConfirmed
	EventIntentFailed
	EventIntentUnknown
	EventReconcilerAbandoned
	_event_type_end
)

func (t EventType) IsAvailable() bool {
	return t > _event_type_beg && t < _event_type_end
}

func (t EventType) String() string {
	switch t {
	case EventTradeSettled:
		return "TRADE_SETTLED"
	case EventTradeFailed:
		return "TRADE_FAILED"
	case EventOrderFilled:
		return "ORDER_FILLED"
	case EventOrderCancelled:
		return "ORDER_CANCELLED"
	case EventOrderExpired:
		return "ORDER_EXPIRED"
	case EventIntentConfirmed:
		return "INTENT_CONFIRMED"
	case EventIntentFailed:
		return "INTENT_FAILED"
	case EventIntentUnknown:
		return "INTENT_UNKNOWN"
	case EventReconcilerAbandoned:
		return "RECONCILER_ABANDONED"
	default:
		return "UNKNOWN"
	}
}
