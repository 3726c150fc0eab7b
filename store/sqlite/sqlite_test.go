package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stroykontrol/build-report/ledger"
	"github.com/stroykontrol/build-report/ledger/ledgertest"
	"github.com/stroykontrol/build-report/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLite(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledger.TxStore {
		return newTestStore(t)
	})
}

func TestSQLite_DecimalsSurviveRoundTrip(t *testing.T) {
	// GIVEN: A material stocked with values REAL would round
	f := ledgertest.NewFixture(t, newTestStore(t))
	m := f.Material("Rebar", "0.1")

	// WHEN: Adding 0.2
	_, err := f.Engine.AddMaterialQuantity(f.Ctx, m, ledgertest.D("0.2"), "", "")
	require.NoError(t, err)

	// THEN: Exactly 0.3, and history replays
	ledgertest.AssertDec(t, "0.3", f.Quantity(m))
	f.AssertReplays(m)
}

func TestSQLite_FileDatabase_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "build-report.db")
	ctx := context.Background()

	store, err := sqlite.New(path)
	require.NoError(t, err)
	f := ledgertest.NewFixture(t, store)
	w := f.Work("Screed", "40")
	m := f.Material("Cement", "100")
	f.BOM(w, ledgertest.Line(m, "1.25"))
	_, err = f.Report(w, "8")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	got, err := reopened.GetMaterial(ctx, m)
	require.NoError(t, err)
	ledgertest.AssertDec(t, "90", got.Quantity)
	reports, err := reopened.ListReports(ctx, ledger.ReportFilter{})
	require.NoError(t, err)
	assert.Len(t, reports, 1)
	assert.NoError(t, reopened.Ping(ctx))
}

func TestSQLite_CorruptDecimal_FailsRead(t *testing.T) {
	// GIVEN: A file database whose material quantity and report quantity
	// were overwritten with text that is not a number
	path := filepath.Join(t.TempDir(), "build-report.db")
	ctx := context.Background()

	store, err := sqlite.New(path)
	require.NoError(t, err)
	f := ledgertest.NewFixture(t, store)
	w := f.Work("Screed", "40")
	m := f.Material("Cement", "100")
	_, err = f.Report(w, "8")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = raw.Exec("UPDATE materials SET quantity = 'lots' WHERE id = ?", m)
	require.NoError(t, err)
	_, err = raw.Exec("UPDATE work_reports SET quantity = '8,0'")
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	reopened, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	// WHEN: Reading them back
	_, matErr := reopened.GetMaterial(ctx, m)
	_, listErr := reopened.ListMaterials(ctx, false)
	_, reportErr := reopened.ListReports(ctx, ledger.ReportFilter{})

	// THEN: Every read fails naming the bad value instead of returning zero
	require.Error(t, matErr)
	assert.Contains(t, matErr.Error(), `corrupt decimal "lots"`)
	assert.Error(t, listErr)
	require.Error(t, reportErr)
	assert.Contains(t, reportErr.Error(), `corrupt decimal "8,0"`)

	// AND: The untouched work still reads
	got, err := reopened.GetWork(ctx, w)
	require.NoError(t, err)
	ledgertest.AssertDec(t, "32", got.Balance)
}
