package enum

// IntentKind mint, transfer, retire, record trade
type IntentKind uint8

const (
	_intent_kind_beg IntentKind = iota
	IntentKindMint
	IntentKindTransfer
	IntentKindRetire
	IntentKindRecordTrade
	_intent_kind_end
)

func (k IntentKind) IsAvailable() bool {
	return k > _intent_kind_beg && k < _intent_kind_end
}

func (k IntentKind) String() string {
	switch k {
	case IntentKindMint:
		return "MINT"
	case IntentKindTransfer:
		return "TRANSFER"
	case IntentKindRetire:
		return "RETIRE"
	case IntentKindRecordTrade:
		return "RECORD_TRADE"
	default:
		return "UNKNOWN"
	}
}

// IntentState pending, submitted, confirmed, failed, unknown
type IntentState uint8

const (
	_intent_state_beg IntentState = iota
	IntentStatePending
	IntentStateSubmitted
	IntentStateConfirmed
	IntentStateFailed
	IntentStateUnknown
	_intent_state_end
)

func (s IntentState) IsAvailable() bool {
	return s > _intent_state_beg && s < _intent_state_end
}

// IsTerminal reports whether the intent reached a final outcome.
// Unknown is NOT terminal; only the reconciler may resolve it.
func (s IntentState) IsTerminal() bool {
	return s == IntentStateConfirmed || s == IntentStateFailed
}

func (s IntentState) String() string {
	switch s {
	case IntentStatePending:
		return "PENDING"
	case IntentStateSubmitted:
		return "SUBMITTED"
	case IntentStateConfirmed:
		return "CONFIRMED"
	case IntentStateFailed:
		return "FAILED"
	case IntentStateUnknown:
		return "UNKNOWN"
	default:
		return "INVALID"
	}
}

// TradeStatus proposed, settling, settled, failed
type TradeStatus uint8

const (
	_trade_status_beg TradeStatus = iota
	TradeStatusProposed
	TradeStatusSettling
	TradeStatusSettled
	TradeStatusFailed
	_trade_status_end
)

func (s TradeStatus) IsAvailable() bool {
	return s > _trade_status_beg && s < _trade_status_end
}

func (s TradeStatus) String() string {
	switch s {
	case TradeStatusProposed:
		return "PROPOSED"
	case TradeStatusSettling:
		return "SETTLING"
	case TradeStatusSettled:
		return "SETTLED"
	case TradeStatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}
