// Package metrics holds the Prometheus collectors updated by the game engines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "toi700"

// Metrics is the set of collectors shared by the engines. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	ledgerOps        *prometheus.CounterVec
	ledgerReplays    prometheus.Counter
	warsDeclared     prometheus.Counter
	warsEnded        *prometheus.CounterVec
	cellsTransferred prometheus.Counter
	votesCast        *prometheus.CounterVec
	votesConcluded   *prometheus.CounterVec
	listings         *prometheus.CounterVec
	rankingRows      prometheus.Counter
	opErrors         *prometheus.CounterVec
	opDuration       *prometheus.HistogramVec
}

// New registers the collectors with reg. A nil reg uses a private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		ledgerOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_operations_total",
			Help:      "ledger operations applied, by direction",
		}, []string{"direction"}),
		ledgerReplays: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_replays_total",
			Help:      "ledger operations skipped because their op id was already applied",
		}),
		warsDeclared: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wars_declared_total",
			Help:      "wars declared",
		}),
		warsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wars_ended_total",
			Help:      "wars ended, by cause",
		}, []string{"cause"}),
		cellsTransferred: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cells_transferred_total",
			Help:      "cells reassigned with an audit row",
		}),
		votesCast: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_cast_total",
			Help:      "ballots recorded, by choice",
		}, []string{"choice"}),
		votesConcluded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_concluded_total",
			Help:      "votes closed, by result",
		}, []string{"result"}),
		listings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "market_listings_total",
			Help:      "market listing transitions, by event",
		}, []string{"event"}),
		rankingRows: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ranking_rows_total",
			Help:      "ranking rows appended",
		}),
		opErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "failed operations, by operation and error code",
		}, []string{"op", "code"}),
		opDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "operation latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
}

func (m *Metrics) LedgerOp(direction string) {
	if m == nil {
		return
	}
	m.ledgerOps.WithLabelValues(direction).Inc()
}

func (m *Metrics) LedgerReplay() {
	if m == nil {
		return
	}
	m.ledgerReplays.Inc()
}

func (m *Metrics) WarDeclared() {
	if m == nil {
		return
	}
	m.warsDeclared.Inc()
}

func (m *Metrics) WarEnded(cause string) {
	if m == nil {
		return
	}
	m.warsEnded.WithLabelValues(cause).Inc()
}

func (m *Metrics) CellsTransferred(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cellsTransferred.Add(float64(n))
}

func (m *Metrics) VoteCast(choice string) {
	if m == nil {
		return
	}
	m.votesCast.WithLabelValues(choice).Inc()
}

func (m *Metrics) VoteConcluded(result string) {
	if m == nil {
		return
	}
	m.votesConcluded.WithLabelValues(result).Inc()
}

func (m *Metrics) Listing(event string) {
	if m == nil {
		return
	}
	m.listings.WithLabelValues(event).Inc()
}

func (m *Metrics) RankingRows(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rankingRows.Add(float64(n))
}

// Observe records the duration of op and, when code is non-empty, a failure.
func (m *Metrics) Observe(op string, seconds float64, code string) {
	if m == nil {
		return
	}
	m.opDuration.WithLabelValues(op).Observe(seconds)
	if code != "" {
		m.opErrors.WithLabelValues(op, code).Inc()
	}
}
