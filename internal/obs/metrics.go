package obs

import (
	"sync/atomic"
	"time"

	"carbonx/internal/schema/enum"
)

const maxIntentState = int(enum.IntentStateUnknown)

// Metrics collects lightweight counters and latency stats for the
// settlement pipeline.
type Metrics struct {
	intentStates  [maxIntentState + 1]uint64
	tradesSettled uint64
	tradesFailed  uint64
	matchesMade   uint64
	reconciled    uint64
	abandoned     uint64
	queueDrops    uint64

	submitLatency  LatencyStats
	confirmLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	IntentStates   map[enum.IntentState]uint64
	TradesSettled  uint64
	TradesFailed   uint64
	MatchesMade    uint64
	Reconciled     uint64
	Abandoned      uint64
	QueueDrops     uint64
	SubmitLatency  LatencySnapshot
	ConfirmLatency LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveIntentState counts one intent entering the given state.
func (m *Metrics) ObserveIntentState(state enum.IntentState) {
	if int(state) > maxIntentState {
		return
	}
	atomic.AddUint64(&m.intentStates[state], 1)
}

// ObserveTradeSettled counts one settled trade.
func (m *Metrics) ObserveTradeSettled() { atomic.AddUint64(&m.tradesSettled, 1) }

// ObserveTradeFailed counts one failed trade.
func (m *Metrics) ObserveTradeFailed() { atomic.AddUint64(&m.tradesFailed, 1) }

// ObserveMatches counts proposals produced by one match cycle.
func (m *Metrics) ObserveMatches(n int) {
	if n > 0 {
		atomic.AddUint64(&m.matchesMade, uint64(n))
	}
}

// ObserveReconciled counts one intent the reconciler resolved.
func (m *Metrics) ObserveReconciled() { atomic.AddUint64(&m.reconciled, 1) }

// ObserveAbandoned counts one intent failed by grace-period expiry.
func (m *Metrics) ObserveAbandoned() { atomic.AddUint64(&m.abandoned, 1) }

// ObserveQueueDrop counts one dropped event.
func (m *Metrics) ObserveQueueDrop() { atomic.AddUint64(&m.queueDrops, 1) }

// ObserveSubmitLatency records one ledger submission duration.
func (m *Metrics) ObserveSubmitLatency(d time.Duration) { m.submitLatency.observe(d) }

// ObserveConfirmLatency records one confirmation polling duration.
func (m *Metrics) ObserveConfirmLatency(d time.Duration) { m.confirmLatency.observe(d) }

func (s *LatencyStats) observe(d time.Duration) {
	if d < 0 {
		return
	}
	ns := uint64(d)
	atomic.AddUint64(&s.count, 1)
	atomic.AddUint64(&s.sum, ns)
	for {
		cur := atomic.LoadUint64(&s.min)
		if cur != 0 && cur <= ns {
			break
		}
		if atomic.CompareAndSwapUint64(&s.min, cur, ns) {
			break
		}
	}
	for {
		cur := atomic.LoadUint64(&s.max)
		if cur >= ns {
			break
		}
		if atomic.CompareAndSwapUint64(&s.max, cur, ns) {
			break
		}
	}
}

func (s *LatencyStats) snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&s.count)
	out := LatencySnapshot{
		Count: count,
		Min:   time.Duration(atomic.LoadUint64(&s.min)),
		Max:   time.Duration(atomic.LoadUint64(&s.max)),
	}
	if count > 0 {
		out.Avg = time.Duration(atomic.LoadUint64(&s.sum) / count)
	}
	return out
}

// Snapshot captures the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	states := make(map[enum.IntentState]uint64, maxIntentState)
	for i := 1; i <= maxIntentState; i++ {
		if v := atomic.LoadUint64(&m.intentStates[i]); v > 0 {
			states[enum.IntentState(i)] = v
		}
	}
	return Snapshot{
		IntentStates:   states,
		TradesSettled:  atomic.LoadUint64(&m.tradesSettled),
		TradesFailed:   atomic.LoadUint64(&m.tradesFailed),
		MatchesMade:    atomic.LoadUint64(&m.matchesMade),
		Reconciled:     atomic.LoadUint64(&m.reconciled),
		Abandoned:      atomic.LoadUint64(&m.abandoned),
		QueueDrops:     atomic.LoadUint64(&m.queueDrops),
		SubmitLatency:  m.submitLatency.snapshot(),
		ConfirmLatency: m.confirmLatency.snapshot(),
	}
}
