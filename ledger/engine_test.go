package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stroykontrol/build-report/ledger"
	"github.com/stroykontrol/build-report/ledger/ledgertest"
	"github.com/stroykontrol/build-report/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type recordingObserver struct {
	committed []ledger.Operation
	moves     []ledger.StockMove
	rejected  map[ledger.Operation][]ledger.Kind
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{rejected: make(map[ledger.Operation][]ledger.Kind)}
}

func (o *recordingObserver) Committed(op ledger.Operation, moves []ledger.StockMove) {
	o.committed = append(o.committed, op)
	o.moves = append(o.moves, moves...)
}

func (o *recordingObserver) Rejected(op ledger.Operation, kind ledger.Kind) {
	o.rejected[op] = append(o.rejected[op], kind)
}

// failingStore breaks AppendHistory once armed, after the quantity update
// has already been written inside the transaction.
type failingStore struct {
	*store.Memory
	armed bool
}

func (s *failingStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return s.Memory.WithTx(ctx, func(tx ledger.Store) error {
		return fn(&failingView{Store: tx, parent: s})
	})
}

type failingView struct {
	ledger.Store
	parent *failingStore
}

func (v *failingView) AppendHistory(ctx context.Context, e ledger.HistoryEntry) (int64, error) {
	if v.parent.armed {
		return 0, errors.New("disk I/O error")
	}
	return v.Store.AppendHistory(ctx, e)
}

// =============================================================================
// ENGINE TESTS
// =============================================================================

func TestEngine_Observer_SeesOnlyCommittedMoves(t *testing.T) {
	// GIVEN: An engine reporting to a recording observer
	obs := newRecordingObserver()
	f := ledgertest.NewFixture(t, store.NewMemory(), ledger.WithObserver(obs))
	w := f.Work("W", "10")
	m := f.Material("M", "10")
	f.BOM(w, ledgertest.Line(m, "2"))
	obs.moves = nil

	// WHEN: One report succeeds and one is rejected
	_, err := f.Report(w, "3")
	require.NoError(t, err)
	_, err = f.Report(w, "3")
	require.Error(t, err)

	// THEN: Only the committed consumption is reported
	require.Len(t, obs.moves, 1)
	assert.Equal(t, ledger.ChangeConsumption, obs.moves[0].Type)
	ledgertest.AssertDec(t, "-6", obs.moves[0].Amount)
	assert.Equal(t, []ledger.Kind{ledger.KindInsufficientMaterial}, obs.rejected[ledger.OpCreateReport])
	assert.Contains(t, obs.committed, ledger.OpCreateReport)
}

func TestEngine_StoreFailure_WrappedAndRolledBack(t *testing.T) {
	// GIVEN: A store that fails history writes
	fs := &failingStore{Memory: store.NewMemory()}
	obs := newRecordingObserver()
	f := ledgertest.NewFixture(t, fs, ledger.WithObserver(obs))
	w := f.Work("W", "10")
	m := f.Material("M", "10")
	f.BOM(w, ledgertest.Line(m, "1"))
	fs.armed = true

	// WHEN: Creating a report
	_, err := f.Report(w, "2")

	// THEN: StorageFailure, retryable, and no debit survived
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrStorage)
	assert.Equal(t, ledger.KindStorage, ledger.KindOf(err))
	assert.True(t, ledger.IsRetryable(err))
	var se *ledger.StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, string(ledger.OpCreateReport), se.Op)
	assert.Contains(t, err.Error(), "disk I/O error")

	ledgertest.AssertDec(t, "10", f.Balance(w))
	ledgertest.AssertDec(t, "10", f.Quantity(m))
	reports, err := fs.ListReports(f.Ctx, ledger.ReportFilter{})
	require.NoError(t, err)
	assert.Empty(t, reports)
	assert.Equal(t, []ledger.Kind{ledger.KindStorage}, obs.rejected[ledger.OpCreateReport])
}

func TestEngine_CanceledContext_NothingApplied(t *testing.T) {
	f := ledgertest.NewFixture(t, store.NewMemory())
	w := f.Work("W", "10")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Engine.CreateReport(ctx, ledger.CreateReportInput{
		ForemanID: ledgertest.ForemanID, WorkID: w, Quantity: decimal.NewFromInt(1),
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ledger.ErrStorage)
	ledgertest.AssertDec(t, "10", f.Balance(w))
}

func TestStockLedger_ZeroDelta_NoHistory(t *testing.T) {
	f := ledgertest.NewFixture(t, store.NewMemory())
	m := f.Material("M", "5")

	err := f.Store.WithTx(f.Ctx, func(s ledger.Store) error {
		l := ledger.NewStockLedger(s, ledgertest.Clock)
		qty, err := l.ApplyDelta(f.Ctx, m, decimal.Zero, ledger.ChangeRestock, "", "")
		ledgertest.AssertDec(t, "5", qty)
		assert.Empty(t, l.Moves())
		return err
	})
	require.NoError(t, err)
	assert.Len(t, f.History(m), 1)
}

func TestStockLedger_UnknownChangeType_Rejected(t *testing.T) {
	f := ledgertest.NewFixture(t, store.NewMemory())
	m := f.Material("M", "5")

	err := f.Store.WithTx(f.Ctx, func(s ledger.Store) error {
		_, err := ledger.NewStockLedger(s, ledgertest.Clock).
			ApplyDelta(f.Ctx, m, decimal.NewFromInt(1), ledger.ChangeType("gift"), "", "")
		return err
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
}

func TestWorkBalanceLedger_CreditNeverFails(t *testing.T) {
	f := ledgertest.NewFixture(t, store.NewMemory())
	w := f.Work("W", "0")

	err := f.Store.WithTx(f.Ctx, func(s ledger.Store) error {
		l := ledger.NewWorkBalanceLedger(s)
		if _, err := l.ApplyDelta(f.Ctx, w, decimal.NewFromInt(-1)); !errors.Is(err, ledger.ErrInsufficientBalance) {
			return fmt.Errorf("expected insufficient balance, got %v", err)
		}
		balance, err := l.ApplyDelta(f.Ctx, w, decimal.NewFromInt(3))
		ledgertest.AssertDec(t, "3", balance)
		return err
	})
	require.NoError(t, err)
	ledgertest.AssertDec(t, "3", f.Balance(w))
}

func TestVerifyHistory_DetectsTamperedQuantity(t *testing.T) {
	f := ledgertest.NewFixture(t, store.NewMemory())
	m := f.Material("M", "5")
	require.NoError(t, ledger.VerifyHistory(f.Ctx, f.Store, m))

	// bypass the stock ledger
	require.NoError(t, f.Store.SetMaterialQuantity(f.Ctx, m, decimal.NewFromInt(7)))

	err := ledger.VerifyHistory(f.Ctx, f.Store, m)
	require.ErrorIs(t, err, ledger.ErrHistoryMismatch)
	var mm *ledger.HistoryMismatchError
	require.ErrorAs(t, err, &mm)
	assert.Zero(t, mm.EntryID)
	ledgertest.AssertDec(t, "5", mm.Expected)
	ledgertest.AssertDec(t, "7", mm.Recorded)

	assert.ErrorIs(t, ledger.VerifyHistory(f.Ctx, f.Store, 404), ledger.ErrMaterialNotFound)
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want ledger.Kind
	}{
		{nil, ledger.KindUnknown},
		{errors.New("boom"), ledger.KindUnknown},
		{&ledger.NotFoundError{Entity: ledger.EntityWork, ID: 1}, ledger.KindWorkNotFound},
		{&ledger.NotFoundError{Entity: ledger.EntityMaterial, ID: 1}, ledger.KindMaterialNotFound},
		{&ledger.NotFoundError{Entity: ledger.EntityReport, ID: 1}, ledger.KindReportNotFound},
		{&ledger.NotFoundError{Entity: ledger.EntityForeman, ID: 1}, ledger.KindForemanNotFound},
		{&ledger.InsufficientBalanceError{WorkName: "W"}, ledger.KindInsufficientBalance},
		{&ledger.InsufficientMaterialError{MaterialName: "M"}, ledger.KindInsufficientMaterial},
		{&ledger.InvalidInputError{Field: "f"}, ledger.KindInvalidInput},
		{fmt.Errorf("%w: dup", ledger.ErrConflict), ledger.KindConflict},
		{&ledger.StorageError{Op: "x", Err: errors.New("io")}, ledger.KindStorage},
		{fmt.Errorf("wrapped: %w", &ledger.InsufficientBalanceError{}), ledger.KindInsufficientBalance},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ledger.KindOf(tc.err), "%v", tc.err)
	}
}

func TestForeman_DisplayName(t *testing.T) {
	assert.Equal(t, "Foreman Ivan Petrov", ledger.Foreman{ID: 1, FullName: "Ivan Petrov"}.DisplayName())
	assert.Equal(t, "Foreman ID 77", ledger.Foreman{ID: 77}.DisplayName())
}
