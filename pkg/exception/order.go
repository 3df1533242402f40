package exception

import "errors"

var (
	ErrInvalidOrder         = errors.New("order: invalid amount, price or ownership")
	ErrOrderNotFound        = errors.New("order: not found")
	ErrOrderForbidden       = errors.New("order: account mismatch")
	ErrOrderAlreadyTerminal = errors.New("order: already terminal")
	ErrOrderHeld            = errors.New("order: quantity held by in-flight settlement")
	ErrLotNotFound          = errors.New("lot: not found")
	ErrLotForbidden         = errors.New("lot: not owned by account")
	ErrLotBusy              = errors.New("lot: in-flight intent exists")
)
