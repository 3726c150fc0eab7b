package reporting_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/stroykontrol/build-report/ledger"
	"github.com/stroykontrol/build-report/ledger/ledgertest"
	"github.com/stroykontrol/build-report/ledger/store"
	"github.com/stroykontrol/build-report/reporting"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const secondForeman ledger.ForemanID = 5550002

type statementFixture struct {
	*ledgertest.Fixture
	foundation, walls ledger.WorkID
}

// newStatementFixture files four reports:
//
//	Foundation 30 verified, Foundation 20 unverified,
//	Walls 10 verified, Walls 5 verified by the second foreman.
func newStatementFixture(t *testing.T) *statementFixture {
	f := &statementFixture{Fixture: ledgertest.NewFixture(t, store.NewMemory())}
	_, err := f.Engine.RegisterForeman(f.Ctx, ledger.Foreman{ID: secondForeman, FullName: "Oleg Sidorov", IsActive: true})
	require.NoError(t, err)

	f.walls = f.Work("Walls", "50")
	f.foundation = f.Work("Foundation", "100")

	f.verified(f.foundation, "30", ledgertest.ForemanID)
	_, err = f.Report(f.foundation, "20")
	require.NoError(t, err)
	f.verified(f.walls, "10", ledgertest.ForemanID)
	f.verified(f.walls, "5", secondForeman)
	return f
}

func (f *statementFixture) verified(work ledger.WorkID, qty string, foreman ledger.ForemanID) {
	r, err := f.Engine.CreateReport(f.Ctx, ledger.CreateReportInput{
		ForemanID: foreman, WorkID: work, Quantity: ledgertest.D(qty),
	})
	require.NoError(f.T, err)
	_, err = f.Engine.SetVerified(f.Ctx, r.ID, true)
	require.NoError(f.T, err)
}

// =============================================================================
// STATEMENT
// =============================================================================

func TestBuildStatement_VerifiedOnly_OrderedByName(t *testing.T) {
	f := newStatementFixture(t)

	rows, err := reporting.BuildStatement(f.Ctx, f.Store, nil)
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, "Foundation", rows[0].WorkName)
	ledgertest.AssertDec(t, "30", rows[0].Quantity)
	ledgertest.AssertDec(t, "100", rows[0].ProjectTotal)
	ledgertest.AssertDec(t, "30", rows[0].CompletionPercent)
	ledgertest.AssertDec(t, "4500", rows[0].TotalCost)

	assert.Equal(t, "Walls", rows[1].WorkName)
	ledgertest.AssertDec(t, "15", rows[1].Quantity)
	ledgertest.AssertDec(t, "30", rows[1].CompletionPercent)
	ledgertest.AssertDec(t, "2250", rows[1].TotalCost)

	ledgertest.AssertDec(t, "6750", reporting.StatementTotal(rows))
}

func TestBuildStatement_PerForeman(t *testing.T) {
	f := newStatementFixture(t)
	id := secondForeman

	rows, err := reporting.BuildStatement(f.Ctx, f.Store, &id)
	require.NoError(t, err)

	require.Len(t, rows, 1)
	assert.Equal(t, "Walls", rows[0].WorkName)
	ledgertest.AssertDec(t, "5", rows[0].Quantity)
	ledgertest.AssertDec(t, "10", rows[0].CompletionPercent)
}

func TestBuildStatement_CompletionRoundedAndZeroProject(t *testing.T) {
	f := ledgertest.NewFixture(t, store.NewMemory())
	roof := f.Work("Roof", "3")
	r, err := f.Report(roof, "1")
	require.NoError(t, err)
	_, err = f.Engine.SetVerified(f.Ctx, r.ID, true)
	require.NoError(t, err)

	rows, err := reporting.BuildStatement(f.Ctx, f.Store, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	ledgertest.AssertDec(t, "33.33", rows[0].CompletionPercent)

	// project total cleared after the fact
	w, err := f.Store.GetWork(f.Ctx, roof)
	require.NoError(t, err)
	w.ProjectTotal = ledgertest.D("0")
	_, err = f.Engine.UpdateWork(f.Ctx, *w)
	require.NoError(t, err)

	rows, err = reporting.BuildStatement(f.Ctx, f.Store, nil)
	require.NoError(t, err)
	ledgertest.AssertDec(t, "0", rows[0].CompletionPercent)
}

func TestBuildStatement_Empty(t *testing.T) {
	f := ledgertest.NewFixture(t, store.NewMemory())
	rows, err := reporting.BuildStatement(f.Ctx, f.Store, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestWithVAT(t *testing.T) {
	ledgertest.AssertDec(t, "120", reporting.WithVAT(ledgertest.D("100"), ledgertest.D("0.2")))
	ledgertest.AssertDec(t, "12.35", reporting.WithVAT(ledgertest.D("10.29"), ledgertest.D("0.2")))
	ledgertest.AssertDec(t, "7", reporting.WithVAT(ledgertest.D("7"), ledgertest.D("0")))
}

// =============================================================================
// EXCEL
// =============================================================================

func open(t *testing.T, buf *bytes.Buffer) *excelize.File {
	f, err := excelize.OpenReader(buf)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func cell(t *testing.T, f *excelize.File, sheet, ref string) string {
	v, err := f.GetCellValue(sheet, ref)
	require.NoError(t, err)
	return v
}

func TestWriteStatement_RowsAndTotal(t *testing.T) {
	f := newStatementFixture(t)
	rows, err := reporting.BuildStatement(f.Ctx, f.Store, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, reporting.WriteStatement(&buf, rows))

	x := open(t, &buf)
	assert.Equal(t, "Category", cell(t, x, reporting.SheetStatement, "A1"))
	assert.Equal(t, "Foundation", cell(t, x, reporting.SheetStatement, "B2"))
	assert.Equal(t, "4500", cell(t, x, reporting.SheetStatement, "H2"))
	assert.Equal(t, "Walls", cell(t, x, reporting.SheetStatement, "B3"))
	assert.Equal(t, "Total", cell(t, x, reporting.SheetStatement, "A4"))
	assert.Equal(t, "6750", cell(t, x, reporting.SheetStatement, "H4"))
}

func TestWriteMaterials_IncludesVAT(t *testing.T) {
	f := ledgertest.NewFixture(t, store.NewMemory())
	f.Material("Cement", "10")
	materials, err := f.Store.ListMaterials(f.Ctx, false)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, reporting.WriteMaterials(&buf, materials, ledgertest.D("0.2")))

	x := open(t, &buf)
	assert.Equal(t, "Cement", cell(t, x, reporting.SheetMaterials, "C2"))
	assert.Equal(t, "10", cell(t, x, reporting.SheetMaterials, "E2"))
	assert.Equal(t, "2", cell(t, x, reporting.SheetMaterials, "F2"))
	assert.Equal(t, "2.4", cell(t, x, reporting.SheetMaterials, "G2"))
	assert.Equal(t, "20", cell(t, x, reporting.SheetMaterials, "H2"))
	assert.Equal(t, "24", cell(t, x, reporting.SheetMaterials, "I2"))
}

func TestWriteHistory_OneRowPerEntry(t *testing.T) {
	f := ledgertest.NewFixture(t, store.NewMemory())
	w := f.Work("Screed", "10")
	m := f.Material("Sand", "100")
	f.BOM(w, ledgertest.Line(m, "4"))
	_, err := f.Report(w, "2")
	require.NoError(t, err)

	entries, err := f.Store.ListHistory(f.Ctx, ledger.HistoryFilter{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, reporting.WriteHistory(&buf, entries))

	x := open(t, &buf)
	rows, err := x.GetRows(reporting.SheetHistory)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Sand", rows[1][2])
	assert.Equal(t, "-8", rows[1][3])
	assert.Equal(t, "92", rows[1][4])
	assert.Equal(t, string(ledger.ChangeConsumption), rows[1][5])
	assert.Equal(t, string(ledger.ChangeCreation), rows[2][5])
}

func TestWriteWorks(t *testing.T) {
	f := ledgertest.NewFixture(t, store.NewMemory())
	f.Work("Plaster", "12.5")
	works, err := f.Store.ListWorks(f.Ctx, false)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, reporting.WriteWorks(&buf, works, ledgertest.D("0.2")))

	x := open(t, &buf)
	assert.Equal(t, "Plaster", cell(t, x, reporting.SheetWorks, "C2"))
	assert.Equal(t, "12.5", cell(t, x, reporting.SheetWorks, "E2"))
	assert.Equal(t, "180", cell(t, x, reporting.SheetWorks, "H2"))
	assert.Equal(t, "yes", cell(t, x, reporting.SheetWorks, "I2"))
}

// =============================================================================
// DAILY SUMMARY
// =============================================================================

func TestBuildDailySummary_GroupsByForeman(t *testing.T) {
	// GIVEN: The statement fixture (all dated 2025-03-10) plus one report
	// from the day before
	f := newStatementFixture(t)
	_, err := f.Engine.CreateReport(f.Ctx, ledger.CreateReportInput{
		ForemanID: secondForeman, WorkID: f.foundation, Quantity: ledgertest.D("1"), ReportDate: "2025-03-09",
	})
	require.NoError(t, err)

	// WHEN: Summarizing 2025-03-10
	days, err := reporting.BuildDailySummary(f.Ctx, f.Store, "2025-03-10")
	require.NoError(t, err)

	// THEN: Foremen by name, works by name, verified or not
	require.Len(t, days, 2)
	assert.Equal(t, "Ivan Petrov", days[0].ForemanName)
	assert.Equal(t, "site 3", days[0].Position)
	require.Len(t, days[0].Works, 3)
	assert.Equal(t, "Foundation", days[0].Works[0].WorkName)
	ledgertest.AssertDec(t, "30", days[0].Works[0].Quantity)
	assert.True(t, days[0].Works[0].IsVerified)
	assert.Equal(t, "Foundation", days[0].Works[1].WorkName)
	ledgertest.AssertDec(t, "20", days[0].Works[1].Quantity)
	assert.False(t, days[0].Works[1].IsVerified)
	assert.Equal(t, "Walls", days[0].Works[2].WorkName)
	assert.Equal(t, "m3", days[0].Works[2].Unit)

	assert.Equal(t, "Oleg Sidorov", days[1].ForemanName)
	require.Len(t, days[1].Works, 1)
	assert.Equal(t, f.walls, days[1].Works[0].WorkID)
	ledgertest.AssertDec(t, "5", days[1].Works[0].Quantity)

	// AND: The earlier day holds only its own report
	days, err = reporting.BuildDailySummary(f.Ctx, f.Store, "2025-03-09")
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, secondForeman, days[0].ForemanID)

	days, err = reporting.BuildDailySummary(f.Ctx, f.Store, "2025-01-01")
	require.NoError(t, err)
	assert.Empty(t, days)
}
