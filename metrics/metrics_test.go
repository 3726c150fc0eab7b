package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stroykontrol/build-report/ledger"
	"github.com/stroykontrol/build-report/ledger/ledgertest"
	"github.com/stroykontrol/build-report/ledger/store"
	"github.com/stroykontrol/build-report/metrics"
)

func TestRecorder_CountsCommittedAndRejected(t *testing.T) {
	// GIVEN: An engine wired to a recorder on a private registry
	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)
	f := ledgertest.NewFixture(t, store.NewMemory(), ledger.WithObserver(rec))
	w := f.Work("Brickwork", "10")
	m := f.Material("Brick", "100")
	f.BOM(w, ledgertest.Line(m, "40"))

	// WHEN: One report fits and the next one runs out of brick
	_, err := f.Report(w, "2")
	require.NoError(t, err)
	_, err = f.Report(w, "1")
	require.ErrorIs(t, err, ledger.ErrInsufficientMaterial)

	// THEN
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.CommittedCounter(ledger.OpCreateReport)))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.RejectedCounter(ledger.OpCreateReport, ledger.KindInsufficientMaterial)))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.MovesCounter(ledger.ChangeConsumption)))
	assert.Equal(t, 80.0, testutil.ToFloat64(rec.MovedCounter(ledger.ChangeConsumption)))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.MovesCounter(ledger.ChangeCreation)))
}

func TestRecorder_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.New(reg)
	assert.Panics(t, func() { metrics.New(reg) })
}
