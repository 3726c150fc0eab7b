package reporting

import (
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/stroykontrol/build-report/ledger"
)

// Sheet names, also used by tests reading the files back.
const (
	SheetMaterials = "Materials"
	SheetHistory   = "History"
	SheetStatement = "Statement"
	SheetWorks     = "Works"
)

type sheet struct {
	f    *excelize.File
	name string
	row  int
}

// newSheet creates a workbook with one sheet and a bold header row.
func newSheet(name string, headers []string, widths []float64) (*sheet, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", name); err != nil {
		return nil, err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return nil, err
	}

	s := &sheet{f: f, name: name, row: 1}
	if err := s.add(toAny(headers)...); err != nil {
		return nil, err
	}
	last, _ := excelize.ColumnNumberToName(len(headers))
	if err := f.SetCellStyle(name, "A1", last+"1", headerStyle); err != nil {
		return nil, err
	}
	for i, w := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(name, col, col, w); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *sheet) add(values ...any) error {
	cell, err := excelize.CoordinatesToCellName(1, s.row)
	if err != nil {
		return err
	}
	if err := s.f.SetSheetRow(s.name, cell, &values); err != nil {
		return err
	}
	s.row++
	return nil
}

// boldLast styles the most recently added row.
func (s *sheet) boldLast(cols int) error {
	style, err := s.f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	last, _ := excelize.ColumnNumberToName(cols)
	row := s.row - 1
	return s.f.SetCellStyle(s.name, fmt.Sprintf("A%d", row), fmt.Sprintf("%s%d", last, row), style)
}

func (s *sheet) writeTo(w io.Writer) error {
	defer s.f.Close()
	return s.f.Write(w)
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// num converts for numeric cells so spreadsheets can sum them.
func num(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}

// =============================================================================
// EXPORTS
// =============================================================================

// WriteMaterials exports the material catalog with stock and pricing.
func WriteMaterials(w io.Writer, materials []ledger.Material, vatRate decimal.Decimal) error {
	s, err := newSheet(SheetMaterials,
		[]string{"ID", "Category", "Name", "Unit", "Quantity", "Unit cost", "Unit cost with VAT", "Total cost", "Total cost with VAT"},
		[]float64{6, 16, 30, 8, 12, 12, 16, 14, 18})
	if err != nil {
		return err
	}
	for _, m := range materials {
		if err := s.add(int64(m.ID), m.Category, m.Name, m.Unit, num(m.Quantity),
			num(m.UnitCost), num(WithVAT(m.UnitCost, vatRate)),
			num(m.TotalCost), num(WithVAT(m.TotalCost, vatRate))); err != nil {
			return err
		}
	}
	return s.writeTo(w)
}

// WriteHistory exports material history rows in the order given.
func WriteHistory(w io.Writer, entries []ledger.HistoryEntry) error {
	s, err := newSheet(SheetHistory,
		[]string{"ID", "Date", "Material", "Change", "Resulting quantity", "Type", "Performed by", "Description"},
		[]float64{8, 20, 30, 12, 18, 14, 30, 40})
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := s.add(e.ID, e.CreatedAt.Format("2006-01-02 15:04:05"), e.MaterialName,
			num(e.ChangeAmount), num(e.ResultingQuantity), string(e.ChangeType),
			e.PerformedBy, e.Description); err != nil {
			return err
		}
	}
	return s.writeTo(w)
}

// WriteStatement exports the accumulative statement with a total row.
func WriteStatement(w io.Writer, rows []StatementRow) error {
	headers := []string{"Category", "Work", "Unit", "Unit cost", "Quantity", "Project", "Completion %", "Total cost"}
	s, err := newSheet(SheetStatement, headers, []float64{18, 36, 8, 12, 12, 12, 14, 16})
	if err != nil {
		return err
	}
	for _, r := range rows {
		if err := s.add(r.Category, r.WorkName, r.Unit, num(r.UnitCost), num(r.Quantity),
			num(r.ProjectTotal), num(r.CompletionPercent), num(r.TotalCost)); err != nil {
			return err
		}
	}
	if err := s.add("Total", "", "", "", "", "", "", num(StatementTotal(rows))); err != nil {
		return err
	}
	if err := s.boldLast(len(headers)); err != nil {
		return err
	}
	return s.writeTo(w)
}

// WriteWorks exports the work catalog with remaining balances.
func WriteWorks(w io.Writer, works []ledger.Work, vatRate decimal.Decimal) error {
	s, err := newSheet(SheetWorks,
		[]string{"ID", "Category", "Name", "Unit", "Balance", "Project", "Unit cost", "Unit cost with VAT", "Active"},
		[]float64{6, 18, 36, 8, 12, 12, 12, 16, 8})
	if err != nil {
		return err
	}
	for _, wk := range works {
		active := "no"
		if wk.IsActive {
			active = "yes"
		}
		if err := s.add(int64(wk.ID), wk.Category, wk.Name, wk.Unit, num(wk.Balance),
			num(wk.ProjectTotal), num(wk.UnitCost), num(WithVAT(wk.UnitCost, vatRate)), active); err != nil {
			return err
		}
	}
	return s.writeTo(w)
}
