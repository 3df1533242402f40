package intent

import (
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"carbonx/internal/errors"
	"carbonx/internal/schema"
	"carbonx/internal/schema/enum"
	"carbonx/pkg/exception"
)

// New builds a PENDING intent for one ledger mutation. The generated ID is
// the idempotency token the ledger sees; writing the intent durably before
// any network call is what makes retries and crash recovery safe.
func New(kind enum.IntentKind, payload any) (*schema.Intent, error) {
	if !kind.IsAvailable() {
		return nil, exception.ErrInvalidArgument
	}
	raw, err := sonic.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "encode intent payload")
	}
	now := time.Now().UTC()
	return &schema.Intent{
		ID:        uuid.NewString(),
		Kind:      kind,
		State:     enum.IntentStatePending,
		Payload:   raw,
		CreatedAt: now,
	}, nil
}

// MarkSubmitted transitions PENDING -> SUBMITTED and records the ledger
// reference. Resubmission of an already SUBMITTED intent only bumps the
// attempt counter; it never rewinds state.
func MarkSubmitted(i *schema.Intent, ledgerTxRef string) error {
	switch i.State {
	case enum.IntentStatePending:
		i.State = enum.IntentStateSubmitted
	case enum.IntentStateSubmitted:
		// repeat ack after a dedupe hit, keep state
	default:
		return exception.ErrIntentTransition
	}
	if ledgerTxRef != "" {
		i.LedgerTxRef = ledgerTxRef
	}
	i.Attempts++
	i.LastAttemptAt = time.Now().UTC()
	return nil
}

// MarkConfirmed transitions SUBMITTED or UNKNOWN -> CONFIRMED.
func MarkConfirmed(i *schema.Intent) error {
	switch i.State {
	case enum.IntentStateSubmitted, enum.IntentStateUnknown:
		i.State = enum.IntentStateConfirmed
		i.TerminalAt = time.Now().UTC()
		return nil
	default:
		return exception.ErrIntentTransition
	}
}

// MarkFailed transitions any non-terminal state -> FAILED.
func MarkFailed(i *schema.Intent) error {
	if i.State.IsTerminal() {
		return exception.ErrIntentTransition
	}
	i.State = enum.IntentStateFailed
	i.TerminalAt = time.Now().UTC()
	return nil
}

// MarkUnknown transitions SUBMITTED -> UNKNOWN after confirmation polling
// exhausts. It is never treated as success or failure; only the
// reconciler resolves it.
func MarkUnknown(i *schema.Intent) error {
	if i.State != enum.IntentStateSubmitted {
		return exception.ErrIntentTransition
	}
	i.State = enum.IntentStateUnknown
	return nil
}

// DecodeTrade unpacks a RECORD_TRADE payload.
func DecodeTrade(i *schema.Intent) (schema.TradePayload, error) {
	var p schema.TradePayload
	if i.Kind != enum.IntentKindRecordTrade {
		return p, exception.ErrInvalidArgument
	}
	return p, errors.Wrap(sonic.Unmarshal(i.Payload, &p), "decode trade payload")
}

// DecodeMint unpacks a MINT payload.
func DecodeMint(i *schema.Intent) (schema.MintPayload, error) {
	var p schema.MintPayload
	if i.Kind != enum.IntentKindMint {
		return p, exception.ErrInvalidArgument
	}
	return p, errors.Wrap(sonic.Unmarshal(i.Payload, &p), "decode mint payload")
}

// DecodeTransfer unpacks a TRANSFER payload.
func DecodeTransfer(i *schema.Intent) (schema.TransferPayload, error) {
	var p schema.TransferPayload
	if i.Kind != enum.IntentKindTransfer {
		return p, exception.ErrInvalidArgument
	}
	return p, errors.Wrap(sonic.Unmarshal(i.Payload, &p), "decode transfer payload")
}

// DecodeRetire unpacks a RETIRE payload.
func DecodeRetire(i *schema.Intent) (schema.RetirePayload, error) {
	var p schema.RetirePayload
	if i.Kind != enum.IntentKindRetire {
		return p, exception.ErrInvalidArgument
	}
	return p, errors.Wrap(sonic.Unmarshal(i.Payload, &p), "decode retire payload")
}
