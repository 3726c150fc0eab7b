/*
handlers.go - HTTP API handlers for the construction ledger

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response and
  JSON serialization, and delegates every mutation to ledger.Engine.

ENDPOINTS:
  Works:
    GET    /api/works                     List works (?active_only)
    POST   /api/works                     Create work
    GET    /api/works/export              Works as .xlsx
    GET    /api/works/{id}                Get work
    PUT    /api/works/{id}                Update descriptive fields
    DELETE /api/works/{id}                Delete (refused while reports exist)
    PUT    /api/works/{id}/add-balance    Top up remaining balance
    GET    /api/works/{id}/materials      Bill of materials
    PUT    /api/works/{id}/materials      Replace bill of materials

  Materials:
    GET    /api/materials                 List materials (?active_only)
    POST   /api/materials                 Create material
    GET    /api/materials/export          Materials as .xlsx
    GET    /api/materials/history         History, newest first
    GET    /api/materials/history/export  History as .xlsx
    GET    /api/materials/{id}            Get material
    PUT    /api/materials/{id}            Edit name, category, unit, cost, active flag
    DELETE /api/materials/{id}            Delete material and its history
    PUT    /api/materials/{id}/add-quantity  Restock (or write off if negative)
    PUT    /api/materials/{id}/quantity   Correct to an absolute quantity
    PUT    /api/materials/{id}/pricing    Set unit cost
    GET    /api/materials/{id}/audit      Replay history against quantity

  Foremen:
    GET    /api/foremen                   List foremen
    POST   /api/foremen                   Register or update

  Reports:
    GET    /api/work-reports              List (filters in query)
    POST   /api/work-reports              Create: debits balance and stock
    GET    /api/work-reports/daily/{date} One day's reports grouped by foreman
    GET    /api/work-reports/{id}         Get report
    PUT    /api/work-reports/{id}         Replace: reverse then re-apply
    DELETE /api/work-reports/{id}         Delete: reverse
    POST   /api/work-reports/{id}/verify  Set verified flag

  Statement:
    GET    /api/accumulative-statement          Verified work per work (?foreman_id)
    GET    /api/accumulative-statement/export   Same as .xlsx

ERROR HANDLING:
  Ledger errors are classified with ledger.KindOf:
  - 400: Insufficient balance/material, invalid input, bad JSON or ids
  - 404: Work, material, report or foreman not found
  - 409: Duplicate work name
  - 500: Storage failures

SECURITY NOTE:
  No authentication. Deploy behind the site VPN.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/stroykontrol/build-report/ledger"
	"github.com/stroykontrol/build-report/reporting"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   ledger.TxStore
	Engine  *ledger.Engine
	VATRate decimal.Decimal
	Log     *slog.Logger
}

// NewHandler creates a new handler. Reads go to store directly; writes go
// through engine.
func NewHandler(store ledger.TxStore, engine *ledger.Engine, vatRate decimal.Decimal, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{Store: store, Engine: engine, VATRate: vatRate, Log: log}
}

// =============================================================================
// HEALTH
// =============================================================================

type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports OK when the store answers.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// =============================================================================
// WORK HANDLERS
// =============================================================================

// ListWorks returns all works, or active ones with ?active_only=true.
func (h *Handler) ListWorks(w http.ResponseWriter, r *http.Request) {
	activeOnly, err := boolParam(r, "active_only")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid active_only", err)
		return
	}
	works, err := h.Store.ListWorks(r.Context(), activeOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list works", err)
		return
	}

	dtos := make([]WorkDTO, len(works))
	for i, wk := range works {
		dtos[i] = h.toWorkDTO(wk)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateWork adds a work to the catalog.
func (h *Handler) CreateWork(w http.ResponseWriter, r *http.Request) {
	var req WorkRequest
	if !decode(w, r, &req) {
		return
	}

	created, err := h.Engine.CreateWork(r.Context(), req.toWork())
	if err != nil {
		writeLedgerError(w, "Failed to create work", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.toWorkDTO(*created))
}

// GetWork returns a single work.
func (h *Handler) GetWork(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	wk, err := h.Store.GetWork(r.Context(), ledger.WorkID(id))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get work", err)
		return
	}
	if wk == nil {
		writeError(w, http.StatusNotFound, "Work not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, h.toWorkDTO(*wk))
}

// UpdateWork rewrites a work's descriptive fields. The balance is kept.
func (h *Handler) UpdateWork(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req WorkRequest
	if !decode(w, r, &req) {
		return
	}

	wk := req.toWork()
	wk.ID = ledger.WorkID(id)
	updated, err := h.Engine.UpdateWork(r.Context(), wk)
	if err != nil {
		writeLedgerError(w, "Failed to update work", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toWorkDTO(*updated))
}

// DeleteWork removes a work that has no reports.
func (h *Handler) DeleteWork(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := h.Engine.DeleteWork(r.Context(), ledger.WorkID(id)); err != nil {
		writeLedgerError(w, "Failed to delete work", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// AddWorkBalance tops up a work's remaining balance.
// PUT /api/works/{id}/add-balance
func (h *Handler) AddWorkBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req AmountRequest
	if !decode(w, r, &req) {
		return
	}

	wk, err := h.Engine.AddWorkBalance(r.Context(), ledger.WorkID(id), req.Amount)
	if err != nil {
		writeLedgerError(w, "Failed to add balance", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toWorkDTO(*wk))
}

// GetWorkMaterials returns a work's bill of materials with current stock.
func (h *Handler) GetWorkMaterials(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	reqs, err := h.Engine.Requirements(r.Context(), ledger.WorkID(id))
	if err != nil {
		writeLedgerError(w, "Failed to get work materials", err)
		return
	}
	writeJSON(w, http.StatusOK, toRequirementDTOs(reqs))
}

// SetWorkMaterials replaces a work's bill of materials.
func (h *Handler) SetWorkMaterials(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req RequirementsRequest
	if !decode(w, r, &req) {
		return
	}

	lines := make([]ledger.BOMLine, len(req.Materials))
	for i, l := range req.Materials {
		lines[i] = ledger.BOMLine{MaterialID: l.MaterialID, QuantityPerUnit: l.QuantityPerUnit}
	}
	reqs, err := h.Engine.SetRequirements(r.Context(), ledger.WorkID(id), lines)
	if err != nil {
		writeLedgerError(w, "Failed to set work materials", err)
		return
	}
	writeJSON(w, http.StatusOK, toRequirementDTOs(reqs))
}

// ExportWorks streams the work catalog as a spreadsheet.
func (h *Handler) ExportWorks(w http.ResponseWriter, r *http.Request) {
	works, err := h.Store.ListWorks(r.Context(), false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list works", err)
		return
	}
	var buf bytes.Buffer
	if err := reporting.WriteWorks(&buf, works, h.VATRate); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build export", err)
		return
	}
	writeXLSX(w, "works", &buf)
}

func (req WorkRequest) toWork() ledger.Work {
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	return ledger.Work{
		Name:         req.Name,
		Category:     req.Category,
		Unit:         req.Unit,
		Balance:      req.Balance,
		ProjectTotal: req.ProjectTotal,
		UnitCost:     req.UnitCost,
		TotalCost:    req.TotalCost,
		IsActive:     active,
	}
}

// =============================================================================
// MATERIAL HANDLERS
// =============================================================================

// ListMaterials returns all materials, or active ones with ?active_only=true.
func (h *Handler) ListMaterials(w http.ResponseWriter, r *http.Request) {
	activeOnly, err := boolParam(r, "active_only")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid active_only", err)
		return
	}
	materials, err := h.Store.ListMaterials(r.Context(), activeOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list materials", err)
		return
	}

	dtos := make([]MaterialDTO, len(materials))
	for i, m := range materials {
		dtos[i] = h.toMaterialDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateMaterial adds a material; its initial stock becomes the first
// history row.
func (h *Handler) CreateMaterial(w http.ResponseWriter, r *http.Request) {
	var req CreateMaterialRequest
	if !decode(w, r, &req) {
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	m, err := h.Engine.CreateMaterial(r.Context(), ledger.Material{
		Category:  req.Category,
		Name:      req.Name,
		Unit:      req.Unit,
		Quantity:  req.Quantity,
		UnitCost:  req.UnitCost,
		TotalCost: req.TotalCost,
		IsActive:  active,
	}, req.PerformedBy)
	if err != nil {
		writeLedgerError(w, "Failed to create material", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.toMaterialDTO(*m))
}

// GetMaterial returns a single material.
func (h *Handler) GetMaterial(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	m, err := h.Store.GetMaterial(r.Context(), ledger.MaterialID(id))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get material", err)
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "Material not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, h.toMaterialDTO(*m))
}

// UpdateMaterial edits a material's descriptive fields and unit cost.
// PUT /api/materials/{id}
func (h *Handler) UpdateMaterial(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req UpdateMaterialRequest
	if !decode(w, r, &req) {
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	m, err := h.Engine.UpdateMaterial(r.Context(), ledger.Material{
		ID:       ledger.MaterialID(id),
		Category: req.Category,
		Name:     req.Name,
		Unit:     req.Unit,
		UnitCost: req.UnitCost,
		IsActive: active,
	})
	if err != nil {
		writeLedgerError(w, "Failed to update material", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toMaterialDTO(*m))
}

// DeleteMaterial removes a material, its BOM edges and its history.
func (h *Handler) DeleteMaterial(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := h.Engine.DeleteMaterial(r.Context(), ledger.MaterialID(id)); err != nil {
		writeLedgerError(w, "Failed to delete material", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// AddMaterialQuantity restocks a material.
// PUT /api/materials/{id}/add-quantity
func (h *Handler) AddMaterialQuantity(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req MaterialDeltaRequest
	if !decode(w, r, &req) {
		return
	}

	m, err := h.Engine.AddMaterialQuantity(r.Context(), ledger.MaterialID(id), req.Amount, req.PerformedBy, req.Description)
	if err != nil {
		writeLedgerError(w, "Failed to add quantity", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toMaterialDTO(*m))
}

// SetMaterialQuantity corrects a material to an absolute quantity.
// PUT /api/materials/{id}/quantity
func (h *Handler) SetMaterialQuantity(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req MaterialQuantityRequest
	if !decode(w, r, &req) {
		return
	}

	m, err := h.Engine.SetMaterialQuantity(r.Context(), ledger.MaterialID(id), req.Quantity, req.PerformedBy, req.Description)
	if err != nil {
		writeLedgerError(w, "Failed to set quantity", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toMaterialDTO(*m))
}

// SetMaterialPricing sets a material's unit cost.
// PUT /api/materials/{id}/pricing
func (h *Handler) SetMaterialPricing(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req PricingRequest
	if !decode(w, r, &req) {
		return
	}

	m, err := h.Engine.SetMaterialPricing(r.Context(), ledger.MaterialID(id), req.UnitCost)
	if err != nil {
		writeLedgerError(w, "Failed to set pricing", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toMaterialDTO(*m))
}

// AuditMaterial replays a material's history and reports the first
// inconsistency, if any.
// GET /api/materials/{id}/audit
func (h *Handler) AuditMaterial(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	dto := AuditDTO{MaterialID: ledger.MaterialID(id), Consistent: true}
	err := ledger.VerifyHistory(r.Context(), h.Store, ledger.MaterialID(id))
	var mismatch *ledger.HistoryMismatchError
	switch {
	case err == nil:
	case errors.As(err, &mismatch):
		dto.Consistent = false
		dto.EntryID = mismatch.EntryID
		dto.Expected = &mismatch.Expected
		dto.Recorded = &mismatch.Recorded
		dto.Details = mismatch.Error()
		h.Log.Error("material history mismatch", "material_id", id, "entry_id", mismatch.EntryID)
	default:
		writeLedgerError(w, "Failed to audit material", err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// ListHistory returns material history newest first.
// GET /api/materials/history?material_id=&limit=
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	filter, err := historyFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query", err)
		return
	}
	entries, err := h.Store.ListHistory(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list history", err)
		return
	}

	dtos := make([]HistoryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toHistoryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ExportHistory streams material history as a spreadsheet.
func (h *Handler) ExportHistory(w http.ResponseWriter, r *http.Request) {
	filter, err := historyFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query", err)
		return
	}
	entries, err := h.Store.ListHistory(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list history", err)
		return
	}
	var buf bytes.Buffer
	if err := reporting.WriteHistory(&buf, entries); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build export", err)
		return
	}
	writeXLSX(w, "material_history", &buf)
}

// ExportMaterials streams the material catalog as a spreadsheet.
func (h *Handler) ExportMaterials(w http.ResponseWriter, r *http.Request) {
	materials, err := h.Store.ListMaterials(r.Context(), false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list materials", err)
		return
	}
	var buf bytes.Buffer
	if err := reporting.WriteMaterials(&buf, materials, h.VATRate); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build export", err)
		return
	}
	writeXLSX(w, "materials", &buf)
}

func historyFilter(r *http.Request) (ledger.HistoryFilter, error) {
	var f ledger.HistoryFilter
	q := r.URL.Query()
	if v := q.Get("material_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, fmt.Errorf("material_id: %w", err)
		}
		mid := ledger.MaterialID(id)
		f.MaterialID = &mid
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		return f, err
	}
	f.Limit = limit
	return f, nil
}

// =============================================================================
// FOREMAN HANDLERS
// =============================================================================

func (h *Handler) ListForemen(w http.ResponseWriter, r *http.Request) {
	foremen, err := h.Store.ListForemen(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list foremen", err)
		return
	}
	dtos := make([]ForemanDTO, len(foremen))
	for i, f := range foremen {
		dtos[i] = toForemanDTO(f)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RegisterForeman creates or updates a foreman by Telegram user id.
func (h *Handler) RegisterForeman(w http.ResponseWriter, r *http.Request) {
	var req ForemanRequest
	if !decode(w, r, &req) {
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	f, err := h.Engine.RegisterForeman(r.Context(), ledger.Foreman{
		ID:       req.ID,
		FullName: req.FullName,
		Position: req.Position,
		Username: req.Username,
		IsActive: active,
	})
	if err != nil {
		writeLedgerError(w, "Failed to register foreman", err)
		return
	}
	writeJSON(w, http.StatusOK, toForemanDTO(*f))
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// ListReports returns reports newest first.
// GET /api/work-reports?foreman_id=&work_id=&date_from=&date_to=&verified_only=&limit=
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	filter, err := reportFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query", err)
		return
	}
	reports, err := h.Store.ListReports(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list reports", err)
		return
	}
	dtos, err := h.toReportDTOs(r.Context(), reports)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list reports", err)
		return
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateReport records completed work.
// POST /api/work-reports
func (h *Handler) CreateReport(w http.ResponseWriter, r *http.Request) {
	var req CreateReportRequest
	if !decode(w, r, &req) {
		return
	}

	report, err := h.Engine.CreateReport(r.Context(), ledger.CreateReportInput{
		ForemanID:  req.ForemanID,
		WorkID:     req.WorkID,
		Quantity:   req.Quantity,
		ReportDate: req.ReportDate,
		ReportTime: req.ReportTime,
		PhotoURL:   req.PhotoURL,
	})
	if err != nil {
		writeLedgerError(w, "Failed to create report", err)
		return
	}
	h.writeReport(w, r, http.StatusCreated, *report)
}

func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	report, err := h.Store.GetReport(r.Context(), ledger.ReportID(id))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get report", err)
		return
	}
	if report == nil {
		writeError(w, http.StatusNotFound, "Report not found", nil)
		return
	}
	h.writeReport(w, r, http.StatusOK, *report)
}

// UpdateReport replaces a report. Its old effect is reversed and the new
// one applied in one unit of work.
// PUT /api/work-reports/{id}
func (h *Handler) UpdateReport(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req UpdateReportRequest
	if !decode(w, r, &req) {
		return
	}
	if req.WorkID <= 0 {
		writeLedgerError(w, "Failed to update report", &ledger.InvalidInputError{Field: "work_id", Reason: "required"})
		return
	}

	report, err := h.Engine.UpdateReport(r.Context(), ledger.ReportID(id), ledger.UpdateReportInput{
		WorkID:     req.WorkID,
		Quantity:   req.Quantity,
		ReportDate: req.ReportDate,
		ReportTime: req.ReportTime,
		PhotoURL:   req.PhotoURL,
		ForemanID:  req.ForemanID,
	})
	if err != nil {
		writeLedgerError(w, "Failed to update report", err)
		return
	}
	h.writeReport(w, r, http.StatusOK, *report)
}

// GetDailySummary lists one day's reports grouped by foreman.
// GET /api/work-reports/daily/{date}
func (h *Handler) GetDailySummary(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	if _, err := time.Parse(ledger.DateLayout, date); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date, expected YYYY-MM-DD", nil)
		return
	}
	days, err := reporting.BuildDailySummary(r.Context(), h.Store, date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build daily summary", err)
		return
	}

	resp := make([]DailySummaryDTO, len(days))
	for i, d := range days {
		resp[i] = DailySummaryDTO{
			ForemanID: d.ForemanID,
			Foreman:   d.ForemanName,
			Position:  d.Position,
			Works:     make([]DailyWorkDTO, len(d.Works)),
		}
		for j, wk := range d.Works {
			resp[i].Works[j] = DailyWorkDTO{
				ReportID:   wk.ReportID,
				WorkID:     wk.WorkID,
				Name:       wk.WorkName,
				Category:   wk.Category,
				Unit:       wk.Unit,
				Quantity:   wk.Quantity,
				PhotoURL:   wk.PhotoURL,
				IsVerified: wk.IsVerified,
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteReport deletes a report and reverses its effect.
func (h *Handler) DeleteReport(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := h.Engine.DeleteReport(r.Context(), ledger.ReportID(id)); err != nil {
		writeLedgerError(w, "Failed to delete report", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// VerifyReport sets or clears the verified flag.
// POST /api/work-reports/{id}/verify
func (h *Handler) VerifyReport(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	req := VerifyRequest{IsVerified: true}
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}

	report, err := h.Engine.SetVerified(r.Context(), ledger.ReportID(id), req.IsVerified)
	if err != nil {
		writeLedgerError(w, "Failed to verify report", err)
		return
	}
	h.writeReport(w, r, http.StatusOK, *report)
}

func (h *Handler) writeReport(w http.ResponseWriter, r *http.Request, status int, report ledger.Report) {
	dtos, err := h.toReportDTOs(r.Context(), []ledger.Report{report})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load report details", err)
		return
	}
	writeJSON(w, status, dtos[0])
}

// toReportDTOs joins work and foreman names onto reports.
func (h *Handler) toReportDTOs(ctx context.Context, reports []ledger.Report) ([]ReportDTO, error) {
	dtos := make([]ReportDTO, len(reports))
	if len(reports) == 0 {
		return dtos, nil
	}
	works, err := h.Store.ListWorks(ctx, false)
	if err != nil {
		return nil, err
	}
	foremen, err := h.Store.ListForemen(ctx)
	if err != nil {
		return nil, err
	}
	workByID := make(map[ledger.WorkID]ledger.Work, len(works))
	for _, wk := range works {
		workByID[wk.ID] = wk
	}
	foremanByID := make(map[ledger.ForemanID]ledger.Foreman, len(foremen))
	for _, f := range foremen {
		foremanByID[f.ID] = f
	}

	for i, rep := range reports {
		dtos[i] = toReportDTO(rep)
		if wk, ok := workByID[rep.WorkID]; ok {
			dtos[i].WorkName = wk.Name
			dtos[i].Unit = wk.Unit
		}
		if f, ok := foremanByID[rep.ForemanID]; ok {
			dtos[i].ForemanName = f.FullName
		}
	}
	return dtos, nil
}

func reportFilter(r *http.Request) (ledger.ReportFilter, error) {
	var f ledger.ReportFilter
	q := r.URL.Query()
	if v := q.Get("foreman_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, fmt.Errorf("foreman_id: %w", err)
		}
		fid := ledger.ForemanID(id)
		f.ForemanID = &fid
	}
	if v := q.Get("work_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, fmt.Errorf("work_id: %w", err)
		}
		wid := ledger.WorkID(id)
		f.WorkID = &wid
	}
	for name, dst := range map[string]*string{"date_from": &f.DateFrom, "date_to": &f.DateTo} {
		if v := q.Get(name); v != "" {
			if _, err := time.Parse(ledger.DateLayout, v); err != nil {
				return f, fmt.Errorf("%s: expected YYYY-MM-DD", name)
			}
			*dst = v
		}
	}
	verified, err := boolParam(r, "verified_only")
	if err != nil {
		return f, err
	}
	f.VerifiedOnly = verified
	if f.Limit, err = intParam(r, "limit"); err != nil {
		return f, err
	}
	return f, nil
}

// =============================================================================
// STATEMENT HANDLERS
// =============================================================================

// GetStatement returns the accumulative statement of verified work.
// GET /api/accumulative-statement?foreman_id=
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	rows, ok := h.buildStatement(w, r)
	if !ok {
		return
	}

	resp := StatementResponse{Rows: make([]StatementRowDTO, len(rows))}
	for i, row := range rows {
		resp.Rows[i] = StatementRowDTO{
			WorkID:            row.WorkID,
			Category:          row.Category,
			WorkName:          row.WorkName,
			Unit:              row.Unit,
			UnitCost:          row.UnitCost,
			Quantity:          row.Quantity,
			ProjectTotal:      row.ProjectTotal,
			CompletionPercent: row.CompletionPercent,
			TotalCost:         row.TotalCost,
			TotalWithVAT:      reporting.WithVAT(row.TotalCost, h.VATRate),
		}
	}
	resp.Total = reporting.StatementTotal(rows)
	resp.TotalWithVAT = reporting.WithVAT(resp.Total, h.VATRate)
	writeJSON(w, http.StatusOK, resp)
}

// ExportStatement streams the accumulative statement as a spreadsheet.
func (h *Handler) ExportStatement(w http.ResponseWriter, r *http.Request) {
	rows, ok := h.buildStatement(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := reporting.WriteStatement(&buf, rows); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build export", err)
		return
	}
	writeXLSX(w, "accumulative_statement", &buf)
}

func (h *Handler) buildStatement(w http.ResponseWriter, r *http.Request) ([]reporting.StatementRow, bool) {
	var foremanID *ledger.ForemanID
	if v := r.URL.Query().Get("foreman_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid foreman_id", err)
			return nil, false
		}
		fid := ledger.ForemanID(id)
		foremanID = &fid
	}
	rows, err := reporting.BuildStatement(r.Context(), h.Store, foremanID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build statement", err)
		return nil, false
	}
	return rows, true
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeLedgerError maps a ledger error to its HTTP status.
func writeLedgerError(w http.ResponseWriter, message string, err error) {
	kind := ledger.KindOf(err)
	writeJSON(w, statusFor(kind), ErrorResponse{Error: message, Kind: kind.String(), Details: err.Error()})
}

func statusFor(kind ledger.Kind) int {
	switch kind {
	case ledger.KindWorkNotFound, ledger.KindMaterialNotFound, ledger.KindReportNotFound, ledger.KindForemanNotFound:
		return http.StatusNotFound
	case ledger.KindInsufficientBalance, ledger.KindInsufficientMaterial, ledger.KindInvalidInput:
		return http.StatusBadRequest
	case ledger.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func writeXLSX(w http.ResponseWriter, name string, buf *bytes.Buffer) {
	filename := fmt.Sprintf("%s_%s.xlsx", name, time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// decode reads a JSON body into dst, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return false
	}
	return true
}

// idParam parses the {id} path parameter, writing a 400 on failure.
func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid id", err)
		return 0, false
	}
	return id, true
}

func boolParam(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s: expected a non-negative integer", name)
	}
	return n, nil
}
