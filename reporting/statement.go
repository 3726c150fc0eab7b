/*
Package reporting builds read-only views over the ledger: the accumulative
statement of verified work, VAT display values and Excel exports.

Nothing here writes to a store. Every function takes a ledger.Store so it
can run against the pool or inside a caller's transaction.
*/
package reporting

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/stroykontrol/build-report/ledger"
)

// StatementRow is one work's line in the accumulative statement.
type StatementRow struct {
	WorkID            ledger.WorkID
	Category          string
	WorkName          string
	Unit              string
	UnitCost          decimal.Decimal
	Quantity          decimal.Decimal
	ProjectTotal      decimal.Decimal
	CompletionPercent decimal.Decimal
	TotalCost         decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// BuildStatement sums verified reports per work, optionally for one
// foreman. Works with no verified reports are omitted. Rows are ordered by
// category, then work name.
func BuildStatement(ctx context.Context, store ledger.Store, foremanID *ledger.ForemanID) ([]StatementRow, error) {
	reports, err := store.ListReports(ctx, ledger.ReportFilter{ForemanID: foremanID, VerifiedOnly: true})
	if err != nil {
		return nil, err
	}
	works, err := store.ListWorks(ctx, false)
	if err != nil {
		return nil, err
	}
	byID := make(map[ledger.WorkID]ledger.Work, len(works))
	for _, w := range works {
		byID[w.ID] = w
	}

	sums := make(map[ledger.WorkID]decimal.Decimal)
	for _, r := range reports {
		sums[r.WorkID] = sums[r.WorkID].Add(r.Quantity)
	}

	rows := make([]StatementRow, 0, len(sums))
	for id, qty := range sums {
		w, ok := byID[id]
		if !ok {
			continue
		}
		completion := decimal.Zero
		if w.ProjectTotal.IsPositive() {
			completion = qty.Div(w.ProjectTotal).Mul(hundred).Round(2)
		}
		rows = append(rows, StatementRow{
			WorkID:            id,
			Category:          w.Category,
			WorkName:          w.Name,
			Unit:              w.Unit,
			UnitCost:          w.UnitCost,
			Quantity:          qty,
			ProjectTotal:      w.ProjectTotal,
			CompletionPercent: completion,
			TotalCost:         qty.Mul(w.UnitCost).Round(2),
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Category != rows[j].Category {
			return rows[i].Category < rows[j].Category
		}
		return rows[i].WorkName < rows[j].WorkName
	})
	return rows, nil
}

// StatementTotal is the sum of TotalCost over rows.
func StatementTotal(rows []StatementRow) decimal.Decimal {
	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(r.TotalCost)
	}
	return total
}

// WithVAT returns v grossed up by rate, rounded to kopecks.
func WithVAT(v, rate decimal.Decimal) decimal.Decimal {
	return v.Mul(decimal.NewFromInt(1).Add(rate)).Round(2)
}
