// Package metrics exports ledger activity as Prometheus counters. The
// Recorder is installed on the engine as its ledger.Observer, so counters
// only ever move for committed units of work.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stroykontrol/build-report/ledger"
)

const namespace = "build_report"

type Recorder struct {
	committed *prometheus.CounterVec
	rejected  *prometheus.CounterVec
	moves     *prometheus.CounterVec
	moved     *prometheus.CounterVec
}

var _ ledger.Observer = (*Recorder)(nil)

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer
// to expose them on promhttp.Handler().
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		committed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_committed_total",
			Help:      "Ledger operations committed, by operation.",
		}, []string{"op"}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_rejected_total",
			Help:      "Ledger operations rolled back, by operation and error kind.",
		}, []string{"op", "kind"}),
		moves: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_moves_total",
			Help:      "Material history rows written, by change type.",
		}, []string{"type"}),
		moved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_moved_quantity_total",
			Help:      "Absolute material quantity moved, by change type. Units are mixed across materials.",
		}, []string{"type"}),
	}
}

func (r *Recorder) Committed(op ledger.Operation, moves []ledger.StockMove) {
	r.committed.WithLabelValues(string(op)).Inc()
	for _, m := range moves {
		t := string(m.Type)
		r.moves.WithLabelValues(t).Inc()
		r.moved.WithLabelValues(t).Add(m.Amount.Abs().InexactFloat64())
	}
}

func (r *Recorder) Rejected(op ledger.Operation, kind ledger.Kind) {
	r.rejected.WithLabelValues(string(op), kind.String()).Inc()
}

// Accessors for tests and ad-hoc inspection.

func (r *Recorder) CommittedCounter(op ledger.Operation) prometheus.Counter {
	return r.committed.WithLabelValues(string(op))
}

func (r *Recorder) RejectedCounter(op ledger.Operation, kind ledger.Kind) prometheus.Counter {
	return r.rejected.WithLabelValues(string(op), kind.String())
}

func (r *Recorder) MovesCounter(t ledger.ChangeType) prometheus.Counter {
	return r.moves.WithLabelValues(string(t))
}

func (r *Recorder) MovedCounter(t ledger.ChangeType) prometheus.Counter {
	return r.moved.WithLabelValues(string(t))
}
