package ledger

import (
	"context"
	"fmt"
	"sync"

	"carbonx/pkg/exception"
)

// StubLedger is an in-memory ledger with scriptable behavior. Tests and
// the local dev mode use it in place of the remote endpoint. It honors
// the idempotency contract: resubmitting a token returns the existing
// reference instead of a second operation.
type StubLedger struct {
	mu sync.Mutex

	byToken map[string]string   // idempotency token -> ref
	status  map[string]TxStatus // ref -> status
	seq     int

	// scripted behavior
	transientFailures int  // fail this many submits with a transient error
	rejectNext        bool // reject the next submit terminally
	holdPending       bool // keep new operations pending until ForceStatus
	vanish            bool // report TxUnknown for everything (partition)
}

// NewStubLedger allocates an empty stub that confirms immediately.
func NewStubLedger() *StubLedger {
	return &StubLedger{
		byToken: make(map[string]string),
		status:  make(map[string]TxStatus),
	}
}

// FailSubmits makes the next n submissions fail with a transient error.
func (s *StubLedger) FailSubmits(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transientFailures = n
}

// RejectNext terminally rejects the next submission.
func (s *StubLedger) RejectNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectNext = true
}

// HoldPending keeps newly accepted operations pending until ForceStatus.
func (s *StubLedger) HoldPending(hold bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holdPending = hold
}

// Vanish makes status lookups answer unknown, simulating a partition.
func (s *StubLedger) Vanish(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vanish = v
}

// ForceStatus finalizes an operation out-of-band.
func (s *StubLedger) ForceStatus(ref string, status TxStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[ref] = status
}

// RefFor returns the reference accepted for an idempotency token.
func (s *StubLedger) RefFor(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.byToken[token]
	return ref, ok
}

// Operations returns how many distinct operations the ledger accepted.
func (s *StubLedger) Operations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byToken)
}

func (s *StubLedger) Submit(ctx context.Context, op Op) (SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transientFailures > 0 {
		s.transientFailures--
		return SubmitResult{}, exception.ErrLedgerTransient
	}

	if ref, ok := s.byToken[op.ID]; ok {
		return SubmitResult{Outcome: SubmitDuplicate, Ref: ref}, nil
	}

	if s.rejectNext {
		s.rejectNext = false
		return SubmitResult{Outcome: SubmitRejected, Reason: "scripted rejection"}, nil
	}

	s.seq++
	ref := fmt.Sprintf("ledger-tx-%04d", s.seq)
	s.byToken[op.ID] = ref
	if s.holdPending {
		s.status[ref] = TxPending
	} else {
		s.status[ref] = TxSuccess
	}
	return SubmitResult{Outcome: SubmitAccepted, Ref: ref}, nil
}

func (s *StubLedger) Status(ctx context.Context, ref string) (TxStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.vanish {
		return TxUnknown, nil
	}
	status, ok := s.status[ref]
	if !ok {
		return TxUnknown, nil
	}
	return status, nil
}

func (s *StubLedger) Query(ctx context.Context, ref string) (QueryResult, error) {
	status, err := s.Status(ctx, ref)
	if err != nil {
		return QueryResult{}, err
	}
	return QueryResult{Ref: ref, Status: status}, nil
}

var _ Client = (*StubLedger)(nil)
