package ledger

import (
	"context"

	"carbonx/internal/schema/enum"
)

// SubmitOutcome is the ledger's answer to an operation submission.
type SubmitOutcome uint8

const (
	_submit_outcome_beg SubmitOutcome = iota
	SubmitAccepted
	SubmitDuplicate
	SubmitRejected
	_submit_outcome_end
)

func (o SubmitOutcome) IsAvailable() bool {
	return o > _submit_outcome_beg && o < _submit_outcome_end
}

// SubmitResult carries the ledger's acknowledgment of a submission.
// Duplicate means the idempotency token was seen before; Ref then points
// at the operation already accepted under that token.
type SubmitResult struct {
	Outcome SubmitOutcome
	Ref     string
	Reason  string
}

// TxStatus is the ledger-reported state of a submitted operation.
type TxStatus uint8

const (
	_tx_status_beg TxStatus = iota
	TxPending
	TxSuccess
	TxFailure
	TxUnknown
	_tx_status_end
)

func (s TxStatus) IsAvailable() bool {
	return s > _tx_status_beg && s < _tx_status_end
}

// Op is the operation descriptor presented to the ledger. ID is the
// client-supplied idempotency token.
type Op struct {
	ID      string
	Kind    enum.IntentKind
	Payload []byte
}

// QueryResult is the typed decode of a ledger view lookup. Raw ledger
// payloads never leak past this boundary.
type QueryResult struct {
	Ref      string
	Status   TxStatus
	TokenRef string
	Detail   string
}

// Client is the wire-level ledger endpoint. Submit must be idempotent on
// Op.ID; Query is side-effect-free. Errors wrap the exception taxonomy
// (ErrLedgerTransient for retryable network failures, ErrLedgerRejected
// for terminal refusals).
type Client interface {
	Submit(ctx context.Context, op Op) (SubmitResult, error)
	Status(ctx context.Context, ref string) (TxStatus, error)
	Query(ctx context.Context, ref string) (QueryResult, error)
}
