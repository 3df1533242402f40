package exception

import "errors"

// General errors
var (
	ErrNilInstance       = errors.New("nil instance")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrQueueFull         = errors.New("queue full")
	ErrQueueClosed       = errors.New("queue closed")
	ErrIntentNotFound    = errors.New("intent: not found")
	ErrIntentTransition  = errors.New("intent: invalid state transition")
	ErrTradeNotFound     = errors.New("trade: not found")
	ErrEntityLocked      = errors.New("entity: advisory lock held")
)
