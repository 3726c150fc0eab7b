/*
scenarios.go - Demo site loaders for development and demonstrations

PURPOSE:
	Populates an empty database with a realistic site: works with balances,
	stocked materials, bills of materials, foremen and a few reports. Every
	row is written through ledger.Engine, so history replays cleanly and the
	demo exercises the same paths as production traffic.

AVAILABLE SCENARIOS:
	foundation:  One concrete work with cement, sand and rebar
	residential: Foundation, masonry and finishing works across two foremen,
	             with verified reports for the accumulative statement

HOW SCENARIOS WORK:
 1. Refuse unless the database has no works and no materials
 2. Create materials (initial stock becomes a creation history row)
 3. Create works and their BOMs
 4. Register foremen
 5. File and verify reports

USAGE VIA API (only mounted when app.env is dev):
	GET  /api/scenarios
	POST /api/scenarios/load
	{"scenario_id": "residential"}

SEE ALSO:
  - handlers.go: Handler implementations
  - ledger/engine.go: Operations used by the loaders
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/stroykontrol/build-report/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

var scenarios = []ScenarioDTO{
	{
		ID:          "foundation",
		Name:        "Foundation Pour",
		Description: "One concrete work with cement, sand and rebar on its BOM",
	},
	{
		ID:          "residential",
		Name:        "Residential Block",
		Description: "Three works, two foremen and verified reports for the statement",
	},
}

var errNotEmpty = fmt.Errorf("%w: database already has works or materials", ledger.ErrConflict)

// ListScenarios returns the available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario seeds an empty database with the named scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "foundation":
		load = h.loadFoundationScenario
	case "residential":
		load = h.loadResidentialScenario
	default:
		writeError(w, http.StatusNotFound, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	if err := h.ensureEmpty(r.Context()); err != nil {
		writeLedgerError(w, "Failed to load scenario", err)
		return
	}
	if err := load(r.Context()); err != nil {
		writeLedgerError(w, "Failed to load scenario", err)
		return
	}
	h.Log.Info("scenario loaded", "scenario_id", req.ScenarioID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario_id": req.ScenarioID})
}

func (h *Handler) ensureEmpty(ctx context.Context) error {
	works, err := h.Store.ListWorks(ctx, false)
	if err != nil {
		return err
	}
	materials, err := h.Store.ListMaterials(ctx, false)
	if err != nil {
		return err
	}
	if len(works) > 0 || len(materials) > 0 {
		return errNotEmpty
	}
	return nil
}

// =============================================================================
// LOADERS
// =============================================================================

// seeder wraps the engine calls a loader makes and keeps the first error.
type seeder struct {
	ctx    context.Context
	engine *ledger.Engine
	err    error
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (s *seeder) material(category, name, unit, qty, unitCost string) ledger.MaterialID {
	if s.err != nil {
		return 0
	}
	m, err := s.engine.CreateMaterial(s.ctx, ledger.Material{
		Category: category, Name: name, Unit: unit,
		Quantity: dec(qty), UnitCost: dec(unitCost), IsActive: true,
	}, "Demo")
	if err != nil {
		s.err = err
		return 0
	}
	return m.ID
}

func (s *seeder) work(category, name, unit, total, unitCost string, bom ...ledger.BOMLine) ledger.WorkID {
	if s.err != nil {
		return 0
	}
	w, err := s.engine.CreateWork(s.ctx, ledger.Work{
		Category: category, Name: name, Unit: unit,
		Balance: dec(total), ProjectTotal: dec(total), UnitCost: dec(unitCost), IsActive: true,
	})
	if err != nil {
		s.err = err
		return 0
	}
	if len(bom) > 0 {
		_, s.err = s.engine.SetRequirements(s.ctx, w.ID, bom)
	}
	return w.ID
}

func (s *seeder) foreman(id ledger.ForemanID, name, position string) {
	if s.err != nil {
		return
	}
	_, s.err = s.engine.RegisterForeman(s.ctx, ledger.Foreman{ID: id, FullName: name, Position: position, IsActive: true})
}

func (s *seeder) report(foreman ledger.ForemanID, work ledger.WorkID, qty, date string, verified bool) {
	if s.err != nil {
		return
	}
	r, err := s.engine.CreateReport(s.ctx, ledger.CreateReportInput{
		ForemanID: foreman, WorkID: work, Quantity: dec(qty), ReportDate: date, ReportTime: "17:00:00",
	})
	if err != nil {
		s.err = err
		return
	}
	if verified {
		_, s.err = s.engine.SetVerified(s.ctx, r.ID, true)
	}
}

func line(m ledger.MaterialID, qpu string) ledger.BOMLine {
	return ledger.BOMLine{MaterialID: m, QuantityPerUnit: dec(qpu)}
}

func (h *Handler) loadFoundationScenario(ctx context.Context) error {
	s := &seeder{ctx: ctx, engine: h.Engine}

	cement := s.material("Binders", "Cement M500", "kg", "12000", "9.5")
	sand := s.material("Aggregates", "Sand", "t", "40", "850")
	rebar := s.material("Metal", "Rebar A500 d12", "kg", "3000", "74")

	s.work("Foundation", "Foundation slab concrete B25", "m3", "120", "5200",
		line(cement, "350"), line(sand, "0.7"), line(rebar, "20"))
	s.foreman(100001, "Ivan Petrov", "site 1")
	return s.err
}

func (h *Handler) loadResidentialScenario(ctx context.Context) error {
	s := &seeder{ctx: ctx, engine: h.Engine}

	cement := s.material("Binders", "Cement M500", "kg", "20000", "9.5")
	sand := s.material("Aggregates", "Sand", "t", "60", "850")
	rebar := s.material("Metal", "Rebar A500 d12", "kg", "5000", "74")
	brick := s.material("Masonry", "Ceramic brick", "pcs", "40000", "18")
	mortar := s.material("Masonry", "Masonry mortar M150", "kg", "15000", "6.2")
	plaster := s.material("Finishing", "Gypsum plaster", "kg", "8000", "11")

	slab := s.work("Foundation", "Foundation slab concrete B25", "m3", "120", "5200",
		line(cement, "350"), line(sand, "0.7"), line(rebar, "20"))
	walls := s.work("Masonry", "Brick walls 380 mm", "m3", "300", "4100",
		line(brick, "100"), line(mortar, "30"))
	s.work("Finishing", "Wall plastering", "m2", "1500", "420",
		line(plaster, "4.5"))

	s.foreman(100001, "Ivan Petrov", "site 1")
	s.foreman(100002, "Oleg Sidorov", "site 2")

	s.report(100001, slab, "12", "2025-03-03", true)
	s.report(100001, slab, "18", "2025-03-04", true)
	s.report(100002, walls, "25", "2025-03-05", true)
	s.report(100002, walls, "10", "2025-03-06", false)
	return s.err
}
