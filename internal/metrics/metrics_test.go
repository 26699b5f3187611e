package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.VoteCast("yes")
	m.VoteCast("yes")
	m.VoteCast("no")
	m.CellsTransferred(3)
	m.CellsTransferred(0)
	m.Observe("cast_vote", 0.01, "DUPLICATE_VOTE")
	m.Observe("cast_vote", 0.01, "")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.votesCast.WithLabelValues("yes")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.votesCast.WithLabelValues("no")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.cellsTransferred))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.opErrors.WithLabelValues("cast_vote", "DUPLICATE_VOTE")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.LedgerOp("debit")
		m.WarDeclared()
		m.VoteConcluded("approved")
		m.Observe("op", 1, "X")
	})
}

func TestNew_NilRegistry(t *testing.T) {
	assert.NotPanics(t, func() {
		New(nil)
		New(nil)
	})
}
