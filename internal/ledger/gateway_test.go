package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbonx/internal/schema/enum"
	"carbonx/pkg/exception"
	"carbonx/pkg/retry"
)

func fastGateway(client Client) *Gateway {
	return NewGateway(client, GatewayConfig{
		SubmitAttempts: 3,
		ConfirmWait:    50 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
		Backoff:        retry.Backoff{Min: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2},
	})
}

func TestSubmitRetriesTransientThenSucceeds(t *testing.T) {
	stub := NewStubLedger()
	stub.FailSubmits(2)
	g := fastGateway(stub)

	res, err := g.Submit(context.Background(), Op{ID: "tok-1", Kind: enum.IntentKindMint})
	require.NoError(t, err)
	assert.Equal(t, SubmitAccepted, res.Outcome)
	assert.NotEmpty(t, res.Ref)
	assert.Equal(t, 1, stub.Operations())
}

func TestSubmitExhaustsRetries(t *testing.T) {
	stub := NewStubLedger()
	stub.FailSubmits(10)
	g := fastGateway(stub)

	_, err := g.Submit(context.Background(), Op{ID: "tok-1", Kind: enum.IntentKindMint})
	assert.ErrorIs(t, err, exception.ErrLedgerTransient)
	assert.Equal(t, 0, stub.Operations())
}

func TestSubmitIdempotencyToken(t *testing.T) {
	stub := NewStubLedger()
	g := fastGateway(stub)

	first, err := g.Submit(context.Background(), Op{ID: "tok-1", Kind: enum.IntentKindTransfer})
	require.NoError(t, err)

	second, err := g.Submit(context.Background(), Op{ID: "tok-1", Kind: enum.IntentKindTransfer})
	require.NoError(t, err)

	assert.Equal(t, SubmitDuplicate, second.Outcome)
	assert.Equal(t, first.Ref, second.Ref, "same token must map to the same operation")
	assert.Equal(t, 1, stub.Operations(), "one ledger-visible effect only")
}

func TestSubmitRejected(t *testing.T) {
	stub := NewStubLedger()
	stub.RejectNext()
	g := fastGateway(stub)

	res, err := g.Submit(context.Background(), Op{ID: "tok-1", Kind: enum.IntentKindRetire})
	assert.ErrorIs(t, err, exception.ErrLedgerRejected)
	assert.Equal(t, SubmitRejected, res.Outcome)
}

func TestConfirmSuccessAndFailure(t *testing.T) {
	stub := NewStubLedger()
	g := fastGateway(stub)

	res, err := g.Submit(context.Background(), Op{ID: "tok-1", Kind: enum.IntentKindMint})
	require.NoError(t, err)

	outcome, err := g.Confirm(context.Background(), res.Ref)
	require.NoError(t, err)
	assert.Equal(t, ConfirmSuccess, outcome)

	stub.ForceStatus(res.Ref, TxFailure)
	outcome, err = g.Confirm(context.Background(), res.Ref)
	require.NoError(t, err)
	assert.Equal(t, ConfirmFailure, outcome)
}

func TestConfirmTimeoutIsUnknown(t *testing.T) {
	stub := NewStubLedger()
	stub.HoldPending(true)
	g := fastGateway(stub)

	res, err := g.Submit(context.Background(), Op{ID: "tok-1", Kind: enum.IntentKindMint})
	require.NoError(t, err)

	outcome, err := g.Confirm(context.Background(), res.Ref)
	assert.ErrorIs(t, err, exception.ErrLedgerTimeout)
	assert.Equal(t, ConfirmUnknown, outcome, "timeout must surface ambiguity, not an inferred outcome")
}

func TestQueryIsSideEffectFree(t *testing.T) {
	stub := NewStubLedger()
	g := fastGateway(stub)

	res, err := g.Submit(context.Background(), Op{ID: "tok-1", Kind: enum.IntentKindMint})
	require.NoError(t, err)

	before := stub.Operations()
	q, err := g.Query(context.Background(), res.Ref)
	require.NoError(t, err)
	assert.Equal(t, TxSuccess, q.Status)
	assert.Equal(t, before, stub.Operations())
}
