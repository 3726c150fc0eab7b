package reporting

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/stroykontrol/build-report/ledger"
)

// DailyWork is one report inside a foreman's day.
type DailyWork struct {
	ReportID   ledger.ReportID
	WorkID     ledger.WorkID
	WorkName   string
	Category   string
	Unit       string
	Quantity   decimal.Decimal
	PhotoURL   string
	IsVerified bool
}

// DailySummary groups one foreman's reports for a day.
type DailySummary struct {
	ForemanID   ledger.ForemanID
	ForemanName string
	Position    string
	Works       []DailyWork
}

// BuildDailySummary lists every report dated date (YYYY-MM-DD), verified or
// not, grouped by foreman. Foremen are ordered by name, their reports by
// work name then report id.
func BuildDailySummary(ctx context.Context, store ledger.Store, date string) ([]DailySummary, error) {
	reports, err := store.ListReports(ctx, ledger.ReportFilter{DateFrom: date, DateTo: date})
	if err != nil {
		return nil, err
	}
	works, err := store.ListWorks(ctx, false)
	if err != nil {
		return nil, err
	}
	foremen, err := store.ListForemen(ctx)
	if err != nil {
		return nil, err
	}
	workByID := make(map[ledger.WorkID]ledger.Work, len(works))
	for _, w := range works {
		workByID[w.ID] = w
	}
	foremanByID := make(map[ledger.ForemanID]ledger.Foreman, len(foremen))
	for _, f := range foremen {
		foremanByID[f.ID] = f
	}

	groups := make(map[ledger.ForemanID]*DailySummary)
	for _, r := range reports {
		g, ok := groups[r.ForemanID]
		if !ok {
			f := foremanByID[r.ForemanID]
			g = &DailySummary{ForemanID: r.ForemanID, ForemanName: f.FullName, Position: f.Position}
			groups[r.ForemanID] = g
		}
		w := workByID[r.WorkID]
		g.Works = append(g.Works, DailyWork{
			ReportID:   r.ID,
			WorkID:     r.WorkID,
			WorkName:   w.Name,
			Category:   w.Category,
			Unit:       w.Unit,
			Quantity:   r.Quantity,
			PhotoURL:   r.PhotoURL,
			IsVerified: r.IsVerified,
		})
	}

	out := make([]DailySummary, 0, len(groups))
	for _, g := range groups {
		sort.Slice(g.Works, func(i, j int) bool {
			if g.Works[i].WorkName != g.Works[j].WorkName {
				return g.Works[i].WorkName < g.Works[j].WorkName
			}
			return g.Works[i].ReportID < g.Works[j].ReportID
		})
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ForemanName != out[j].ForemanName {
			return out[i].ForemanName < out[j].ForemanName
		}
		return out[i].ForemanID < out[j].ForemanID
	})
	return out, nil
}
