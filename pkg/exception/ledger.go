package exception

import "errors"

// Failure taxonomy surfaced by the ledger gateway. Transient errors are
// retried inside the gateway; rejected and timeout are surfaced upward.
var (
	ErrLedgerTransient = errors.New("ledger: transient network failure")
	ErrLedgerRejected  = errors.New("ledger: operation rejected")
	ErrLedgerTimeout   = errors.New("ledger: confirmation timed out")
)
