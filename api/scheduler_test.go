package api

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stroykontrol/build-report/ledger"
	"github.com/stroykontrol/build-report/ledger/ledgertest"
	"github.com/stroykontrol/build-report/ledger/store"
	"github.com/stroykontrol/build-report/logger"
)

func TestAuditScheduler_RunsOnStart(t *testing.T) {
	// GIVEN: One material whose stored quantity was changed behind the ledger
	st := store.NewMemory()
	engine := ledger.NewEngine(st, ledger.WithClock(ledgertest.Clock))
	m, err := engine.CreateMaterial(t.Context(), ledger.Material{Name: "Sand", Unit: "t", Quantity: decimal.NewFromInt(10)}, "")
	require.NoError(t, err)
	require.NoError(t, st.SetMaterialQuantity(t.Context(), m.ID, decimal.NewFromInt(12)))

	sched := NewAuditScheduler(st, logger.Discard(), time.Hour)

	// WHEN: Starting the scheduler
	sched.Start(context.Background())
	defer sched.Stop()

	// THEN: The first pass runs immediately and flags the material
	require.Eventually(t, func() bool { return sched.LastRun() != nil }, time.Second, 10*time.Millisecond)
	run := sched.LastRun()
	assert.Equal(t, 1, run.Checked)
	assert.Equal(t, []ledger.MaterialID{m.ID}, run.Mismatches)
	assert.Empty(t, run.Error)
}

func TestAuditScheduler_ZeroIntervalDisabled(t *testing.T) {
	sched := NewAuditScheduler(store.NewMemory(), logger.Discard(), 0)

	sched.Start(context.Background())
	sched.Stop()

	assert.Nil(t, sched.LastRun())
}

func TestAuditScheduler_StopIsIdempotent(t *testing.T) {
	sched := NewAuditScheduler(store.NewMemory(), logger.Discard(), time.Hour)
	sched.Start(context.Background())

	sched.Stop()
	sched.Stop()

	run := sched.RunNow(t.Context())
	assert.Zero(t, run.Checked)
	assert.Empty(t, run.Mismatches)
}
