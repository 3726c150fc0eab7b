/*
Package ledgertest is a behavioural test suite every ledger.TxStore must pass.

PURPOSE:
  The engine's guarantees (atomicity, non-negativity, exact reversal,
  replayable history) depend on the store honouring the WithTx contract.
  Running the same scenarios against every backend catches a store that
  leaks writes from a rolled-back unit or reads outside its transaction.

USAGE:
  func TestSQLite(t *testing.T) {
      ledgertest.Run(t, func(t *testing.T) ledger.TxStore {
          s, err := sqlite.New(":memory:")
          require.NoError(t, err)
          t.Cleanup(func() { s.Close() })
          return s
      })
  }

READING THESE TESTS:
  Each scenario has GIVEN/WHEN/THEN comments. Amounts are compared with
  decimal equality so backends that store NUMERIC with trailing zeros pass.
*/
package ledgertest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stroykontrol/build-report/ledger"
)

// =============================================================================
// TEST INFRASTRUCTURE
// =============================================================================

// Clock is the fixed time every engine in the suite runs at.
var Clock = func() time.Time { return time.Date(2025, time.March, 10, 9, 30, 0, 0, time.UTC) }

// ForemanID is the foreman registered by NewFixture.
const ForemanID ledger.ForemanID = 5550001

type Fixture struct {
	T      *testing.T
	Ctx    context.Context
	Store  ledger.TxStore
	Engine *ledger.Engine
}

// NewFixture builds an engine over a fresh store and registers one foreman.
func NewFixture(t *testing.T, store ledger.TxStore, opts ...ledger.Option) *Fixture {
	opts = append([]ledger.Option{ledger.WithClock(Clock)}, opts...)
	f := &Fixture{T: t, Ctx: context.Background(), Store: store, Engine: ledger.NewEngine(store, opts...)}
	_, err := f.Engine.RegisterForeman(f.Ctx, ledger.Foreman{
		ID: ForemanID, FullName: "Ivan Petrov", Position: "site 3", IsActive: true,
	})
	require.NoError(t, err)
	return f
}

func D(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Work creates an active work with the given balance.
func (f *Fixture) Work(name, balance string) ledger.WorkID {
	w, err := f.Engine.CreateWork(f.Ctx, ledger.Work{
		Name: name, Category: "Concrete", Unit: "m3",
		Balance: D(balance), ProjectTotal: D(balance), UnitCost: D("150"), IsActive: true,
	})
	require.NoError(f.T, err)
	return w.ID
}

// Material creates an active material with the given stock.
func (f *Fixture) Material(name, qty string) ledger.MaterialID {
	m, err := f.Engine.CreateMaterial(f.Ctx, ledger.Material{
		Name: name, Category: "Bulk", Unit: "kg", Quantity: D(qty), UnitCost: D("2"), IsActive: true,
	}, "")
	require.NoError(f.T, err)
	return m.ID
}

// BOM replaces a work's requirements with material:qpu pairs.
func (f *Fixture) BOM(work ledger.WorkID, lines ...ledger.BOMLine) {
	_, err := f.Engine.SetRequirements(f.Ctx, work, lines)
	require.NoError(f.T, err)
}

func Line(m ledger.MaterialID, qpu string) ledger.BOMLine {
	return ledger.BOMLine{MaterialID: m, QuantityPerUnit: D(qpu)}
}

func (f *Fixture) Report(work ledger.WorkID, qty string) (*ledger.Report, error) {
	return f.Engine.CreateReport(f.Ctx, ledger.CreateReportInput{
		ForemanID: ForemanID, WorkID: work, Quantity: D(qty),
	})
}

func (f *Fixture) Balance(id ledger.WorkID) decimal.Decimal {
	w, err := f.Store.GetWork(f.Ctx, id)
	require.NoError(f.T, err)
	require.NotNil(f.T, w)
	return w.Balance
}

func (f *Fixture) Quantity(id ledger.MaterialID) decimal.Decimal {
	m, err := f.Store.GetMaterial(f.Ctx, id)
	require.NoError(f.T, err)
	require.NotNil(f.T, m)
	return m.Quantity
}

func (f *Fixture) History(id ledger.MaterialID) []ledger.HistoryEntry {
	h, err := f.Store.MaterialHistory(f.Ctx, id)
	require.NoError(f.T, err)
	return h
}

// AssertDec fails unless got equals want numerically.
func AssertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Truef(t, D(want).Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}

func (f *Fixture) AssertReplays(ids ...ledger.MaterialID) {
	f.T.Helper()
	for _, id := range ids {
		assert.NoError(f.T, ledger.VerifyHistory(f.Ctx, f.Store, id), "history of material %d", id)
	}
}

// =============================================================================
// SUITE
// =============================================================================

// Run executes every scenario against stores produced by newStore. Each
// scenario gets its own store.
func Run(t *testing.T, newStore func(t *testing.T) ledger.TxStore) {
	cases := []struct {
		name string
		fn   func(t *testing.T, f *Fixture)
	}{
		{"Create_MaterialShortfall_NothingChanges", testCreateMaterialShortfall},
		{"Create_ThenDelete_RestoresEverything", testCreateThenDelete},
		{"Create_QuantityEqualsBalance_LeavesZero", testBalanceBoundary},
		{"Create_OneMaterialShort_OtherMaterialsUntouched", testMaterialBoundary},
		{"Create_EmptyBOM_DebitsBalanceOnly", testEmptyBOM},
		{"Create_UnknownReferences_Rejected", testUnknownReferences},
		{"Create_InvalidInput_Rejected", testInvalidInput},
		{"Update_SameWorkSameQuantity_NumericallyUnchanged", testUpdateRoundTrip},
		{"Update_ChangeWork_MovesDebit", testUpdateChangeWork},
		{"Update_NewSideShort_ReversalRolledBack", testUpdateRollback},
		{"Update_Missing_ReportNotFound", testUpdateMissing},
		{"Delete_Missing_ReportNotFound", testDeleteMissing},
		{"SetVerified_FlagOnly", testSetVerified},
		{"Sequence_QuantityMatchesConsumptionsAndReversals", testSequence},
		{"AddWorkBalance", testAddWorkBalance},
		{"AddMaterialQuantity_RestockAndWriteOff", testAddMaterialQuantity},
		{"SetMaterialQuantity_WritesAdjustment", testSetMaterialQuantity},
		{"SetRequirements_ValidatesAndReplaces", testSetRequirements},
		{"SetRequirements_WorkHasReports_Rejected", testSetRequirementsLocked},
		{"CreateWork_DuplicateName_Conflict", testDuplicateWork},
		{"DeleteWork_WithReports_Rejected", testDeleteWork},
		{"DeleteMaterial_CascadesBOMAndHistory", testDeleteMaterial},
		{"UpdateMaterial_KeepsQuantityAndHistory", testUpdateMaterial},
		{"ListReports_FiltersAndOrder", testListReports},
		{"ListHistory_NewestFirst", testListHistory},
		{"Foreman_RegisterTwice_KeepsRegistrationDate", testForemanUpsert},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, NewFixture(t, newStore(t)))
		})
	}
}

// =============================================================================
// REPORT SCENARIOS
// =============================================================================

func testCreateMaterialShortfall(t *testing.T, f *Fixture) {
	// GIVEN: W balance 100, BOM 2 M per unit, M stock 50
	w := f.Work("W", "100")
	m := f.Material("M", "50")
	f.BOM(w, Line(m, "2"))

	// WHEN: Reporting 30 units (needs 60 M)
	_, err := f.Report(w, "30")

	// THEN: Rejected naming M; nothing moved
	require.ErrorIs(t, err, ledger.ErrInsufficientMaterial)
	var shortErr *ledger.InsufficientMaterialError
	require.ErrorAs(t, err, &shortErr)
	assert.Equal(t, "M", shortErr.MaterialName)
	AssertDec(t, "60", shortErr.Required)
	AssertDec(t, "50", shortErr.Available)
	assert.Contains(t, err.Error(), `"M"`)

	AssertDec(t, "100", f.Balance(w))
	AssertDec(t, "50", f.Quantity(m))
	assert.Len(t, f.History(m), 1, "only the creation row")

	reports, err := f.Store.ListReports(f.Ctx, ledger.ReportFilter{})
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func testCreateThenDelete(t *testing.T, f *Fixture) {
	// GIVEN: W balance 100, BOM 2 M per unit, M stock 100
	w := f.Work("W", "100")
	m := f.Material("M", "100")
	f.BOM(w, Line(m, "2"))

	// WHEN: Reporting 30 units
	r, err := f.Report(w, "30")
	require.NoError(t, err)

	// THEN: W 70, M 40, one consumption row -60 -> 40
	AssertDec(t, "70", f.Balance(w))
	AssertDec(t, "40", f.Quantity(m))
	h := f.History(m)
	require.Len(t, h, 2)
	assert.Equal(t, ledger.ChangeConsumption, h[1].ChangeType)
	AssertDec(t, "-60", h[1].ChangeAmount)
	AssertDec(t, "40", h[1].ResultingQuantity)
	assert.Equal(t, "Foreman Ivan Petrov site 3", h[1].PerformedBy)

	stored, err := f.Store.GetReport(f.Ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	AssertDec(t, "30", stored.Quantity)
	assert.Equal(t, "2025-03-10", stored.ReportDate)
	assert.Equal(t, "09:30:00", stored.ReportTime)

	// WHEN: Deleting the report
	require.NoError(t, f.Engine.DeleteReport(f.Ctx, r.ID))

	// THEN: W 100, M 100, one reversal row +60 -> 100; net history change zero
	AssertDec(t, "100", f.Balance(w))
	AssertDec(t, "100", f.Quantity(m))
	h = f.History(m)
	require.Len(t, h, 3)
	assert.Equal(t, ledger.ChangeReversal, h[2].ChangeType)
	AssertDec(t, "60", h[2].ChangeAmount)
	AssertDec(t, "100", h[2].ResultingQuantity)
	AssertDec(t, "0", h[1].ChangeAmount.Add(h[2].ChangeAmount))

	gone, err := f.Store.GetReport(f.Ctx, r.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
	f.AssertReplays(m)
}

func testBalanceBoundary(t *testing.T, f *Fixture) {
	// GIVEN: Two works with balance 10
	exact := f.Work("Exact", "10")
	over := f.Work("Over", "10")

	// WHEN/THEN: quantity == balance succeeds and leaves 0
	_, err := f.Report(exact, "10")
	require.NoError(t, err)
	AssertDec(t, "0", f.Balance(exact))

	// WHEN/THEN: quantity == balance + epsilon fails and mutates nothing
	_, err = f.Report(over, "10.001")
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	var balErr *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &balErr)
	assert.Equal(t, "Over", balErr.WorkName)
	AssertDec(t, "10", f.Balance(over))
}

func testMaterialBoundary(t *testing.T, f *Fixture) {
	// GIVEN: BOM A 1/unit (stock exactly 5), B 2/unit (stock 9, one short of 10)
	w := f.Work("W", "100")
	a := f.Material("A", "5")
	b := f.Material("B", "9")
	f.BOM(w, Line(a, "1"), Line(b, "2"))

	// WHEN: Reporting 5 units
	_, err := f.Report(w, "5")

	// THEN: Rejected on B, A untouched even though it was sufficient
	var shortErr *ledger.InsufficientMaterialError
	require.ErrorAs(t, err, &shortErr)
	assert.Equal(t, "B", shortErr.MaterialName)
	AssertDec(t, "5", f.Quantity(a))
	AssertDec(t, "9", f.Quantity(b))
	AssertDec(t, "100", f.Balance(w))

	// WHEN: B is topped up by one
	_, err = f.Engine.AddMaterialQuantity(f.Ctx, b, D("1"), "storekeeper", "delivery")
	require.NoError(t, err)
	_, err = f.Report(w, "5")

	// THEN: Exact availability succeeds and drains both
	require.NoError(t, err)
	AssertDec(t, "0", f.Quantity(a))
	AssertDec(t, "0", f.Quantity(b))
	f.AssertReplays(a, b)
}

func testEmptyBOM(t *testing.T, f *Fixture) {
	// GIVEN: A work with no BOM and a work whose only line has a zero rate
	bare := f.Work("Bare", "20")
	m := f.Material("M", "10")

	reqs, err := f.Engine.Requirements(f.Ctx, bare)
	require.NoError(t, err)
	assert.Empty(t, reqs)

	zero := f.Work("Zero", "20")
	f.BOM(zero, Line(m, "0"))

	// WHEN: Reporting against both
	_, err = f.Report(bare, "4")
	require.NoError(t, err)
	_, err = f.Report(zero, "4")
	require.NoError(t, err)

	// THEN: Balances debited, stock and history untouched
	AssertDec(t, "16", f.Balance(bare))
	AssertDec(t, "16", f.Balance(zero))
	AssertDec(t, "10", f.Quantity(m))
	assert.Len(t, f.History(m), 1)
}

func testUnknownReferences(t *testing.T, f *Fixture) {
	w := f.Work("W", "10")

	_, err := f.Report(9999, "1")
	assert.ErrorIs(t, err, ledger.ErrWorkNotFound)
	assert.Equal(t, ledger.KindWorkNotFound, ledger.KindOf(err))

	_, err = f.Engine.CreateReport(f.Ctx, ledger.CreateReportInput{ForemanID: 42, WorkID: w, Quantity: D("1")})
	assert.ErrorIs(t, err, ledger.ErrForemanNotFound)
	AssertDec(t, "10", f.Balance(w))
}

func testInvalidInput(t *testing.T, f *Fixture) {
	w := f.Work("W", "10")

	for _, in := range []ledger.CreateReportInput{
		{ForemanID: ForemanID, WorkID: w, Quantity: D("0")},
		{ForemanID: ForemanID, WorkID: w, Quantity: D("-1")},
		{ForemanID: ForemanID, WorkID: w, Quantity: D("1"), ReportDate: "10.03.2025"},
		{ForemanID: ForemanID, WorkID: w, Quantity: D("1"), ReportTime: "9am"},
	} {
		_, err := f.Engine.CreateReport(f.Ctx, in)
		assert.ErrorIs(t, err, ledger.ErrInvalidInput, "input %+v", in)
	}
	AssertDec(t, "10", f.Balance(w))
}

func testUpdateRoundTrip(t *testing.T, f *Fixture) {
	// GIVEN: A report of 10 units consuming 3 M per unit
	w := f.Work("W", "50")
	m := f.Material("M", "100")
	f.BOM(w, Line(m, "3"))
	r, err := f.Report(w, "10")
	require.NoError(t, err)

	// WHEN: Updating with the same work and quantity
	photo := "https://disk.example/photo.jpg"
	updated, err := f.Engine.UpdateReport(f.Ctx, r.ID, ledger.UpdateReportInput{
		WorkID: w, Quantity: D("10"), ReportDate: "2025-03-11", PhotoURL: &photo,
	})
	require.NoError(t, err)

	// THEN: Numbers unchanged, a reversal/consumption pair in history
	AssertDec(t, "40", f.Balance(w))
	AssertDec(t, "70", f.Quantity(m))
	h := f.History(m)
	require.Len(t, h, 4)
	assert.Equal(t, ledger.ChangeReversal, h[2].ChangeType)
	assert.Contains(t, h[2].PerformedBy, "correction")
	assert.Equal(t, ledger.ChangeConsumption, h[3].ChangeType)
	AssertDec(t, "0", h[2].ChangeAmount.Add(h[3].ChangeAmount))

	assert.Equal(t, "2025-03-11", updated.ReportDate)
	assert.Equal(t, r.ReportTime, updated.ReportTime)
	stored, err := f.Store.GetReport(f.Ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, photo, stored.PhotoURL)
	assert.Equal(t, "2025-03-11", stored.ReportDate)
	f.AssertReplays(m)
}

func testUpdateChangeWork(t *testing.T, f *Fixture) {
	// GIVEN: Two works sharing material M at different rates
	a := f.Work("A", "50")
	b := f.Work("B", "50")
	m := f.Material("M", "100")
	f.BOM(a, Line(m, "1"))
	f.BOM(b, Line(m, "4"))
	r, err := f.Report(a, "10")
	require.NoError(t, err)
	AssertDec(t, "90", f.Quantity(m))

	// WHEN: Moving the report to B with 5 units
	_, err = f.Engine.UpdateReport(f.Ctx, r.ID, ledger.UpdateReportInput{WorkID: b, Quantity: D("5")})
	require.NoError(t, err)

	// THEN: A fully credited, B debited, M = 100 - 20
	AssertDec(t, "50", f.Balance(a))
	AssertDec(t, "45", f.Balance(b))
	AssertDec(t, "80", f.Quantity(m))
	stored, err := f.Store.GetReport(f.Ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, b, stored.WorkID)
	f.AssertReplays(m)
}

func testUpdateRollback(t *testing.T, f *Fixture) {
	// GIVEN: A report of 10 on A; B has balance 5
	a := f.Work("A", "50")
	b := f.Work("B", "5")
	m := f.Material("M", "100")
	f.BOM(a, Line(m, "2"))
	r, err := f.Report(a, "10")
	require.NoError(t, err)
	historyBefore := len(f.History(m))

	// WHEN: Moving it to B with 6 units (over B's balance)
	_, err = f.Engine.UpdateReport(f.Ctx, r.ID, ledger.UpdateReportInput{WorkID: b, Quantity: D("6")})

	// THEN: Rejected and the reversal of A was not committed
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	AssertDec(t, "40", f.Balance(a))
	AssertDec(t, "5", f.Balance(b))
	AssertDec(t, "80", f.Quantity(m))
	assert.Len(t, f.History(m), historyBefore)
	stored, err := f.Store.GetReport(f.Ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, a, stored.WorkID)
	AssertDec(t, "10", stored.Quantity)

	// WHEN: Growing the same report past the material stock after reversal
	_, err = f.Engine.UpdateReport(f.Ctx, r.ID, ledger.UpdateReportInput{WorkID: a, Quantity: D("50.5")})

	// THEN: Balance check runs against post-reversal balance (50) and fails
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	// WHEN: Growing within balance but past stock (needs 100, has 80+20)
	_, err = f.Engine.UpdateReport(f.Ctx, r.ID, ledger.UpdateReportInput{WorkID: a, Quantity: D("50")})

	// THEN: Post-reversal stock (100) covers exactly 100
	require.NoError(t, err)
	AssertDec(t, "0", f.Balance(a))
	AssertDec(t, "0", f.Quantity(m))
	f.AssertReplays(m)
}

func testUpdateMissing(t *testing.T, f *Fixture) {
	w := f.Work("W", "10")
	_, err := f.Engine.UpdateReport(f.Ctx, 404, ledger.UpdateReportInput{WorkID: w, Quantity: D("1")})
	assert.ErrorIs(t, err, ledger.ErrReportNotFound)
	AssertDec(t, "10", f.Balance(w))
}

func testDeleteMissing(t *testing.T, f *Fixture) {
	err := f.Engine.DeleteReport(f.Ctx, 404)
	assert.ErrorIs(t, err, ledger.ErrReportNotFound)
	assert.True(t, ledger.IsNotFound(err))
}

func testSetVerified(t *testing.T, f *Fixture) {
	w := f.Work("W", "10")
	m := f.Material("M", "10")
	f.BOM(w, Line(m, "1"))
	r, err := f.Report(w, "2")
	require.NoError(t, err)
	assert.False(t, r.IsVerified)

	v, err := f.Engine.SetVerified(f.Ctx, r.ID, true)
	require.NoError(t, err)
	assert.True(t, v.IsVerified)

	stored, err := f.Store.GetReport(f.Ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsVerified)
	AssertDec(t, "8", f.Balance(w))
	AssertDec(t, "8", f.Quantity(m))
	assert.Len(t, f.History(m), 2)

	_, err = f.Engine.SetVerified(f.Ctx, 404, true)
	assert.ErrorIs(t, err, ledger.ErrReportNotFound)
}

func testSequence(t *testing.T, f *Fixture) {
	// GIVEN: One work/material pair
	w := f.Work("W", "1000")
	m := f.Material("M", "500")
	f.BOM(w, Line(m, "1.5"))

	// WHEN: A mix of creates, updates, deletes and rejected attempts
	r1, err := f.Report(w, "10")
	require.NoError(t, err)
	r2, err := f.Report(w, "20")
	require.NoError(t, err)
	_, err = f.Report(w, "400") // needs 600
	require.Error(t, err)
	_, err = f.Engine.UpdateReport(f.Ctx, r1.ID, ledger.UpdateReportInput{WorkID: w, Quantity: D("12")})
	require.NoError(t, err)
	require.NoError(t, f.Engine.DeleteReport(f.Ctx, r2.ID))
	_, err = f.Report(w, "4")
	require.NoError(t, err)

	// THEN: quantity = initial - consumptions + reversals, and it replays
	var consumed, reversed decimal.Decimal
	for _, e := range f.History(m) {
		switch e.ChangeType {
		case ledger.ChangeConsumption:
			consumed = consumed.Add(e.ChangeAmount.Neg())
		case ledger.ChangeReversal:
			reversed = reversed.Add(e.ChangeAmount)
		}
		assert.False(t, e.ResultingQuantity.IsNegative())
	}
	AssertDec(t, "500", f.Quantity(m).Add(consumed).Sub(reversed))
	AssertDec(t, "476", f.Quantity(m)) // 500 - 1.5*(12+4)
	AssertDec(t, "984", f.Balance(w))
	f.AssertReplays(m)
}

// =============================================================================
// ADMINISTRATIVE SCENARIOS
// =============================================================================

func testAddWorkBalance(t *testing.T, f *Fixture) {
	w := f.Work("W", "10")

	updated, err := f.Engine.AddWorkBalance(f.Ctx, w, D("2.5"))
	require.NoError(t, err)
	AssertDec(t, "12.5", updated.Balance)
	AssertDec(t, "12.5", f.Balance(w))

	_, err = f.Engine.AddWorkBalance(f.Ctx, w, D("0"))
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
	_, err = f.Engine.AddWorkBalance(f.Ctx, 9999, D("1"))
	assert.ErrorIs(t, err, ledger.ErrWorkNotFound)
}

func testAddMaterialQuantity(t *testing.T, f *Fixture) {
	m := f.Material("M", "10")

	updated, err := f.Engine.AddMaterialQuantity(f.Ctx, m, D("25"), "storekeeper", "delivery 17")
	require.NoError(t, err)
	AssertDec(t, "35", updated.Quantity)

	h := f.History(m)
	require.Len(t, h, 2)
	assert.Equal(t, ledger.ChangeRestock, h[1].ChangeType)
	assert.Equal(t, "storekeeper", h[1].PerformedBy)
	assert.Equal(t, "delivery 17", h[1].Description)

	// zero is a no-op without history
	_, err = f.Engine.AddMaterialQuantity(f.Ctx, m, D("0"), "", "")
	require.NoError(t, err)
	assert.Len(t, f.History(m), 2)

	// write-off below zero is refused
	_, err = f.Engine.AddMaterialQuantity(f.Ctx, m, D("-36"), "", "")
	assert.ErrorIs(t, err, ledger.ErrInsufficientMaterial)
	AssertDec(t, "35", f.Quantity(m))

	_, err = f.Engine.AddMaterialQuantity(f.Ctx, 9999, D("1"), "", "")
	assert.ErrorIs(t, err, ledger.ErrMaterialNotFound)
	f.AssertReplays(m)
}

func testSetMaterialQuantity(t *testing.T, f *Fixture) {
	m := f.Material("M", "10")

	updated, err := f.Engine.SetMaterialQuantity(f.Ctx, m, D("7"), "auditor", "stocktake")
	require.NoError(t, err)
	AssertDec(t, "7", updated.Quantity)

	h := f.History(m)
	require.Len(t, h, 2)
	assert.Equal(t, ledger.ChangeCreation, h[0].ChangeType)
	assert.Equal(t, ledger.SystemActor, h[0].PerformedBy)
	assert.Equal(t, ledger.ChangeAdjustment, h[1].ChangeType)
	AssertDec(t, "-3", h[1].ChangeAmount)

	_, err = f.Engine.SetMaterialQuantity(f.Ctx, m, D("-1"), "", "")
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)

	priced, err := f.Engine.SetMaterialPricing(f.Ctx, m, D("4"))
	require.NoError(t, err)
	AssertDec(t, "28", priced.TotalCost)
	f.AssertReplays(m)
}

func testSetRequirements(t *testing.T, f *Fixture) {
	w := f.Work("W", "10")
	a := f.Material("A", "1")
	b := f.Material("B", "1")

	reqs, err := f.Engine.SetRequirements(f.Ctx, w, []ledger.BOMLine{Line(b, "2"), Line(a, "0.5")})
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, a, reqs[0].MaterialID, "ordered by material id")
	assert.Equal(t, "A", reqs[0].MaterialName)
	assert.Equal(t, "kg", reqs[0].Unit)
	AssertDec(t, "1", reqs[0].Available)

	_, err = f.Engine.SetRequirements(f.Ctx, w, []ledger.BOMLine{Line(a, "1"), Line(a, "2")})
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
	_, err = f.Engine.SetRequirements(f.Ctx, w, []ledger.BOMLine{Line(a, "-1")})
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
	_, err = f.Engine.SetRequirements(f.Ctx, w, []ledger.BOMLine{Line(9999, "1")})
	assert.ErrorIs(t, err, ledger.ErrMaterialNotFound)
	_, err = f.Engine.SetRequirements(f.Ctx, 9999, nil)
	assert.ErrorIs(t, err, ledger.ErrWorkNotFound)

	// failed replacements left the first BOM in place
	reqs, err = f.Engine.Requirements(f.Ctx, w)
	require.NoError(t, err)
	assert.Len(t, reqs, 2)

	reqs, err = f.Engine.SetRequirements(f.Ctx, w, []ledger.BOMLine{Line(b, "3")})
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	AssertDec(t, "3", reqs[0].QuantityPerUnit)
}

func testSetRequirementsLocked(t *testing.T, f *Fixture) {
	// GIVEN: W with BOM 1 M per unit and one report of 4
	w := f.Work("W", "10")
	m := f.Material("M", "10")
	extra := f.Material("Extra", "10")
	f.BOM(w, Line(m, "1"))
	r, err := f.Report(w, "4")
	require.NoError(t, err)

	// WHEN: Raising the rate and adding a material while the report exists
	_, err = f.Engine.SetRequirements(f.Ctx, w, []ledger.BOMLine{Line(m, "2"), Line(extra, "1")})

	// THEN: Rejected, the BOM is unchanged
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
	reqs, err := f.Store.Requirements(f.Ctx, w)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	AssertDec(t, "1", reqs[0].QuantityPerUnit)

	// AND: Deleting the report credits exactly what was debited
	require.NoError(t, f.Engine.DeleteReport(f.Ctx, r.ID))
	AssertDec(t, "10", f.Quantity(m))
	AssertDec(t, "10", f.Quantity(extra))
	f.AssertReplays(m, extra)

	// AND: With no reports left the BOM can change again
	reqs, err = f.Engine.SetRequirements(f.Ctx, w, []ledger.BOMLine{Line(m, "2"), Line(extra, "1")})
	require.NoError(t, err)
	assert.Len(t, reqs, 2)
}

func testDuplicateWork(t *testing.T, f *Fixture) {
	f.Work("Formwork", "10")
	_, err := f.Engine.CreateWork(f.Ctx, ledger.Work{Name: "Formwork", Unit: "m2", IsActive: true})
	assert.ErrorIs(t, err, ledger.ErrConflict)
	assert.True(t, ledger.IsClientError(err))

	works, err := f.Store.ListWorks(f.Ctx, false)
	require.NoError(t, err)
	assert.Len(t, works, 1)
}

func testDeleteWork(t *testing.T, f *Fixture) {
	w := f.Work("W", "10")
	m := f.Material("M", "10")
	f.BOM(w, Line(m, "1"))
	r, err := f.Report(w, "1")
	require.NoError(t, err)

	err = f.Engine.DeleteWork(f.Ctx, w)
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)

	require.NoError(t, f.Engine.DeleteReport(f.Ctx, r.ID))
	require.NoError(t, f.Engine.DeleteWork(f.Ctx, w))

	gone, err := f.Store.GetWork(f.Ctx, w)
	require.NoError(t, err)
	assert.Nil(t, gone)
	reqs, err := f.Store.Requirements(f.Ctx, w)
	require.NoError(t, err)
	assert.Empty(t, reqs)
	AssertDec(t, "10", f.Quantity(m))
}

func testDeleteMaterial(t *testing.T, f *Fixture) {
	w := f.Work("W", "10")
	keep := f.Material("Keep", "10")
	drop := f.Material("Drop", "10")
	f.BOM(w, Line(keep, "1"), Line(drop, "1"))

	require.NoError(t, f.Engine.DeleteMaterial(f.Ctx, drop))

	reqs, err := f.Store.Requirements(f.Ctx, w)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, keep, reqs[0].MaterialID)
	assert.Empty(t, f.History(drop))
	assert.Len(t, f.History(keep), 1)

	err = f.Engine.DeleteMaterial(f.Ctx, drop)
	assert.ErrorIs(t, err, ledger.ErrMaterialNotFound)
}

func testUpdateMaterial(t *testing.T, f *Fixture) {
	// GIVEN: M with 50 kg in stock and a restock on record
	m := f.Material("M", "40")
	_, err := f.Engine.AddMaterialQuantity(f.Ctx, m, D("10"), "Warehouse", "")
	require.NoError(t, err)

	// WHEN: Renaming, repricing and deactivating it with a bogus quantity
	updated, err := f.Engine.UpdateMaterial(f.Ctx, ledger.Material{
		ID: m, Category: "Binders", Name: "Cement M500", Unit: "bag",
		Quantity: D("999"), UnitCost: D("3"), IsActive: false,
	})

	// THEN: Descriptive fields change, stock and history do not
	require.NoError(t, err)
	AssertDec(t, "50", updated.Quantity)
	AssertDec(t, "150", updated.TotalCost)

	stored, err := f.Store.GetMaterial(f.Ctx, m)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "Cement M500", stored.Name)
	assert.Equal(t, "Binders", stored.Category)
	assert.Equal(t, "bag", stored.Unit)
	assert.False(t, stored.IsActive)
	AssertDec(t, "50", stored.Quantity)
	AssertDec(t, "3", stored.UnitCost)
	AssertDec(t, "150", stored.TotalCost)
	assert.Len(t, f.History(m), 2)
	f.AssertReplays(m)

	// AND: Inactive materials drop out of the active list
	active, err := f.Store.ListMaterials(f.Ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	// AND: Invalid input and unknown ids are rejected
	_, err = f.Engine.UpdateMaterial(f.Ctx, ledger.Material{ID: m, Name: "", Unit: "kg"})
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
	_, err = f.Engine.UpdateMaterial(f.Ctx, ledger.Material{ID: 9999, Name: "X", Unit: "kg"})
	assert.ErrorIs(t, err, ledger.ErrMaterialNotFound)
}

// =============================================================================
// READ MODELS
// =============================================================================

func testListReports(t *testing.T, f *Fixture) {
	a := f.Work("A", "100")
	b := f.Work("B", "100")
	other, err := f.Engine.RegisterForeman(f.Ctx, ledger.Foreman{ID: 7, FullName: "Oleg", IsActive: true})
	require.NoError(t, err)

	mk := func(foreman ledger.ForemanID, work ledger.WorkID, date, tm string) ledger.ReportID {
		r, err := f.Engine.CreateReport(f.Ctx, ledger.CreateReportInput{
			ForemanID: foreman, WorkID: work, Quantity: D("1"), ReportDate: date, ReportTime: tm,
		})
		require.NoError(t, err)
		return r.ID
	}
	r1 := mk(ForemanID, a, "2025-03-01", "08:00:00")
	r2 := mk(ForemanID, b, "2025-03-02", "08:00:00")
	r3 := mk(other.ID, a, "2025-03-02", "17:00:00")
	r4 := mk(other.ID, b, "2025-03-05", "12:00:00")
	_, err = f.Engine.SetVerified(f.Ctx, r2, true)
	require.NoError(t, err)

	ids := func(filter ledger.ReportFilter) []ledger.ReportID {
		reports, err := f.Store.ListReports(f.Ctx, filter)
		require.NoError(t, err)
		out := make([]ledger.ReportID, 0, len(reports))
		for _, r := range reports {
			out = append(out, r.ID)
		}
		return out
	}

	assert.Equal(t, []ledger.ReportID{r4, r3, r2, r1}, ids(ledger.ReportFilter{}))
	fid := ForemanID
	assert.Equal(t, []ledger.ReportID{r2, r1}, ids(ledger.ReportFilter{ForemanID: &fid}))
	assert.Equal(t, []ledger.ReportID{r3, r1}, ids(ledger.ReportFilter{WorkID: &a}))
	assert.Equal(t, []ledger.ReportID{r3, r2}, ids(ledger.ReportFilter{DateFrom: "2025-03-02", DateTo: "2025-03-02"}))
	assert.Equal(t, []ledger.ReportID{r2}, ids(ledger.ReportFilter{VerifiedOnly: true}))
	assert.Equal(t, []ledger.ReportID{r4, r3}, ids(ledger.ReportFilter{Limit: 2}))
}

func testListHistory(t *testing.T, f *Fixture) {
	a := f.Material("A", "1")
	b := f.Material("B", "2")
	_, err := f.Engine.AddMaterialQuantity(f.Ctx, a, D("3"), "", "")
	require.NoError(t, err)

	all, err := f.Store.ListHistory(f.Ctx, ledger.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, a, all[0].MaterialID)
	assert.Equal(t, ledger.ChangeRestock, all[0].ChangeType)
	assert.Equal(t, "A", all[0].MaterialName)
	assert.Equal(t, b, all[1].MaterialID)

	onlyA, err := f.Store.ListHistory(f.Ctx, ledger.HistoryFilter{MaterialID: &a, Limit: 1})
	require.NoError(t, err)
	require.Len(t, onlyA, 1)
	AssertDec(t, "4", onlyA[0].ResultingQuantity)
}

func testForemanUpsert(t *testing.T, f *Fixture) {
	first, err := f.Store.GetForeman(f.Ctx, ForemanID)
	require.NoError(t, err)
	require.NotNil(t, first)

	_, err = f.Engine.RegisterForeman(f.Ctx, ledger.Foreman{ID: ForemanID, FullName: "Ivan Petrov", Position: "site 4", IsActive: true})
	require.NoError(t, err)

	again, err := f.Store.GetForeman(f.Ctx, ForemanID)
	require.NoError(t, err)
	assert.Equal(t, "site 4", again.Position)
	assert.True(t, first.RegisteredAt.Equal(again.RegisteredAt))

	all, err := f.Store.ListForemen(f.Ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = f.Engine.RegisterForeman(f.Ctx, ledger.Foreman{ID: 0, FullName: "x"})
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
}
