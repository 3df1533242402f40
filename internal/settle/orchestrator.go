package settle

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"carbonx/internal/book"
	"carbonx/internal/bus"
	"carbonx/internal/errors"
	"carbonx/internal/intent"
	"carbonx/internal/ledger"
	"carbonx/internal/obs"
	"carbonx/internal/schema"
	"carbonx/internal/schema/enum"
	"carbonx/internal/store"
	"carbonx/pkg/exception"
)

// Orchestrator turns matches and direct asset requests into exactly one
// durable, idempotent ledger outcome each. The pattern is
// intent-before-action: the PENDING intent row is written before any
// network call, so a crash at any point leaves a record the reconciler
// can resolve.
type Orchestrator struct {
	store   store.Store
	gateway *ledger.Gateway
	book    *book.Book
	locks   *LockTable
	events  *bus.Queue
	metrics *obs.Metrics

	running atomic.Bool
	workers int
	queue   chan job
}

type job struct {
	proposal *book.Proposal
	intentID string
}

// NewOrchestrator wires the settlement pipeline.
func NewOrchestrator(
	st store.Store,
	gateway *ledger.Gateway,
	bk *book.Book,
	events *bus.Queue,
	metrics *obs.Metrics,
	workerCount, queueCap int,
) *Orchestrator {
	if workerCount <= 0 {
		workerCount = 4
	}
	if queueCap <= 0 {
		queueCap = 256
	}
	return &Orchestrator{
		store:   st,
		gateway: gateway,
		book:    bk,
		locks:   NewLockTable(),
		events:  events,
		metrics: metrics,
		workers: workerCount,
		queue:   make(chan job, queueCap),
	}
}

// Locks exposes the advisory lock table for recovery wiring.
func (o *Orchestrator) Locks() *LockTable {
	return o.locks
}

// Run starts the settlement workers.
func (o *Orchestrator) Run(ctx context.Context) {
	if o.running.Swap(true) {
		return
	}
	for range o.workers {
		go o.worker(ctx)
	}
}

func (o *Orchestrator) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-o.queue:
			if j.proposal != nil {
				o.settleTrade(ctx, *j.proposal)
				continue
			}
			o.RunIntent(ctx, j.intentID)
		}
	}
}

// EnqueueProposal hands a match to the settlement workers. When the
// queue is full the soft-holds are released so the quantity can rematch
// on the next cycle.
func (o *Orchestrator) EnqueueProposal(p book.Proposal) error {
	select {
	case o.queue <- job{proposal: &p}:
		return nil
	default:
		o.book.Release(p)
		return exception.ErrQueueFull
	}
}

func (o *Orchestrator) enqueueIntent(ctx context.Context, in *schema.Intent) error {
	select {
	case o.queue <- job{intentID: in.ID}:
		return nil
	default:
	}
	// Never sent anywhere, so failing it durably is safe.
	if err := intent.MarkFailed(in); err == nil {
		if err := o.store.SaveIntent(ctx, in); err != nil {
			logs.Errorf("fail pending intent %s, err: %+v", in.ID, err)
		}
	}
	return exception.ErrQueueFull
}

// submitOutcome is what one submission+confirmation round produced.
type submitOutcome uint8

const (
	outcomeConfirmed submitOutcome = iota + 1
	outcomeFailed
	outcomeUnknown
)

// submitAndConfirm drives one intent to the ledger: submit with retries,
// persist the SUBMITTED transition, then poll for finality. It never
// resubmits after an acknowledgment; past the polling ceiling the intent
// is durably UNKNOWN.
func (o *Orchestrator) submitAndConfirm(ctx context.Context, in *schema.Intent) submitOutcome {
	start := time.Now()
	res, err := o.gateway.Submit(ctx, ledger.Op{
		ID:      in.ID,
		Kind:    in.Kind,
		Payload: in.Payload,
	})
	o.metrics.ObserveSubmitLatency(time.Since(start))

	if err != nil {
		if errors.Is(err, exception.ErrLedgerRejected) {
			return outcomeFailed
		}
		// Transient retries exhausted without an acknowledgment; the
		// ledger never accepted the token, so failing is safe.
		logs.Errorf("ledger submit %s exhausted, err: %+v", in.ID, err)
		return outcomeFailed
	}

	if err := intent.MarkSubmitted(in, res.Ref); err != nil {
		logs.Errorf("intent %s submitted transition, err: %+v", in.ID, err)
		return outcomeUnknown
	}
	if err := o.store.SaveIntent(ctx, in); err != nil {
		logs.Errorf("persist submitted intent %s, err: %+v", in.ID, err)
	}
	o.metrics.ObserveIntentState(enum.IntentStateSubmitted)

	start = time.Now()
	confirm, err := o.gateway.Confirm(ctx, in.LedgerTxRef)
	o.metrics.ObserveConfirmLatency(time.Since(start))

	switch confirm {
	case ledger.ConfirmSuccess:
		return outcomeConfirmed
	case ledger.ConfirmFailure:
		return outcomeFailed
	default:
		if err != nil && !errors.Is(err, exception.ErrLedgerTimeout) {
			logs.Errorf("confirm intent %s, err: %+v", in.ID, err)
		}
		return outcomeUnknown
	}
}

// markUnknown records polling exhaustion. Locks and soft-holds stay in
// place; only the reconciler resolves the ambiguity.
func (o *Orchestrator) markUnknown(ctx context.Context, in *schema.Intent) {
	if err := intent.MarkUnknown(in); err != nil {
		logs.Errorf("intent %s unknown transition, err: %+v", in.ID, err)
		return
	}
	if err := o.store.SaveIntent(ctx, in); err != nil {
		logs.Errorf("persist unknown intent %s, err: %+v", in.ID, err)
	}
	o.metrics.ObserveIntentState(enum.IntentStateUnknown)
	o.publish(schema.Event{
		Type:     enum.EventIntentUnknown,
		At:       time.Now().UTC(),
		IntentID: in.ID,
		Detail:   "confirmation polling exhausted, awaiting reconciliation",
	})
}

func (o *Orchestrator) publish(e schema.Event) {
	if o.events == nil {
		return
	}
	if err := o.events.TryPublish(e); err != nil {
		o.metrics.ObserveQueueDrop()
	}
}
