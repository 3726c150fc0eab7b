/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

AMOUNTS:
  Quantities and costs are decimal.Decimal. They encode as JSON strings
  ("12.5") and decode from either strings or bare numbers, so clients that
  send 12.5 keep working.

VAT:
  Costs are stored without VAT. Every cost field has a *_with_vat twin
  computed at response time from the configured rate.

SEE ALSO:
  - handlers.go: Uses these types
  - reporting/statement.go: Statement rows and WithVAT
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/stroykontrol/build-report/ledger"
	"github.com/stroykontrol/build-report/reporting"
)

// =============================================================================
// WORKS
// =============================================================================

type WorkDTO struct {
	ID              ledger.WorkID   `json:"id"`
	Name            string          `json:"name"`
	Category        string          `json:"category"`
	Unit            string          `json:"unit"`
	Balance         decimal.Decimal `json:"balance"`
	ProjectTotal    decimal.Decimal `json:"project_total"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	UnitCostWithVAT decimal.Decimal `json:"unit_cost_with_vat"`
	TotalCost       decimal.Decimal `json:"total_cost"`
	TotalWithVAT    decimal.Decimal `json:"total_cost_with_vat"`
	IsActive        bool            `json:"is_active"`
	CreatedAt       time.Time       `json:"created_at"`
}

// WorkRequest creates or updates a work. Balance is only read on create;
// use add-balance afterwards.
type WorkRequest struct {
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	Unit         string          `json:"unit"`
	Balance      decimal.Decimal `json:"balance"`
	ProjectTotal decimal.Decimal `json:"project_total"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	IsActive     *bool           `json:"is_active,omitempty"`
}

type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type RequirementDTO struct {
	MaterialID      ledger.MaterialID `json:"material_id"`
	MaterialName    string            `json:"material_name"`
	Unit            string            `json:"unit"`
	QuantityPerUnit decimal.Decimal   `json:"quantity_per_unit"`
	Available       decimal.Decimal   `json:"available"`
}

type RequirementLine struct {
	MaterialID      ledger.MaterialID `json:"material_id"`
	QuantityPerUnit decimal.Decimal   `json:"quantity_per_unit"`
}

type RequirementsRequest struct {
	Materials []RequirementLine `json:"materials"`
}

// =============================================================================
// MATERIALS
// =============================================================================

type MaterialDTO struct {
	ID              ledger.MaterialID `json:"id"`
	Category        string            `json:"category"`
	Name            string            `json:"name"`
	Unit            string            `json:"unit"`
	Quantity        decimal.Decimal   `json:"quantity"`
	UnitCost        decimal.Decimal   `json:"unit_cost"`
	UnitCostWithVAT decimal.Decimal   `json:"unit_cost_with_vat"`
	TotalCost       decimal.Decimal   `json:"total_cost"`
	TotalWithVAT    decimal.Decimal   `json:"total_cost_with_vat"`
	IsActive        bool              `json:"is_active"`
	CreatedAt       time.Time         `json:"created_at"`
}

type CreateMaterialRequest struct {
	Category    string          `json:"category"`
	Name        string          `json:"name"`
	Unit        string          `json:"unit"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	IsActive    *bool           `json:"is_active,omitempty"`
	PerformedBy string          `json:"performed_by"`
}

// UpdateMaterialRequest edits descriptive fields and the unit cost. Stock
// changes go through add-quantity and quantity so they leave history rows.
type UpdateMaterialRequest struct {
	Category string          `json:"category"`
	Name     string          `json:"name"`
	Unit     string          `json:"unit"`
	UnitCost decimal.Decimal `json:"unit_cost"`
	IsActive *bool           `json:"is_active,omitempty"`
}

type MaterialDeltaRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	PerformedBy string          `json:"performed_by"`
	Description string          `json:"description"`
}

type MaterialQuantityRequest struct {
	Quantity    decimal.Decimal `json:"quantity"`
	PerformedBy string          `json:"performed_by"`
	Description string          `json:"description"`
}

type PricingRequest struct {
	UnitCost decimal.Decimal `json:"unit_cost"`
}

type HistoryDTO struct {
	ID                int64             `json:"id"`
	MaterialID        ledger.MaterialID `json:"material_id"`
	MaterialName      string            `json:"material_name"`
	ChangeAmount      decimal.Decimal   `json:"change_amount"`
	ResultingQuantity decimal.Decimal   `json:"resulting_quantity"`
	ChangeType        ledger.ChangeType `json:"change_type"`
	PerformedBy       string            `json:"performed_by"`
	Description       string            `json:"description"`
	CreatedAt         time.Time         `json:"created_at"`
}

// AuditDTO is the outcome of replaying one material's history.
type AuditDTO struct {
	MaterialID ledger.MaterialID `json:"material_id"`
	Consistent bool              `json:"consistent"`
	EntryID    int64             `json:"entry_id,omitempty"`
	Expected   *decimal.Decimal  `json:"expected,omitempty"`
	Recorded   *decimal.Decimal  `json:"recorded,omitempty"`
	Details    string            `json:"details,omitempty"`
}

// =============================================================================
// FOREMEN
// =============================================================================

type ForemanDTO struct {
	ID           ledger.ForemanID `json:"id"`
	FullName     string           `json:"full_name"`
	Position     string           `json:"position"`
	Username     string           `json:"username"`
	RegisteredAt time.Time        `json:"registered_at"`
	IsActive     bool             `json:"is_active"`
}

type ForemanRequest struct {
	ID       ledger.ForemanID `json:"id"`
	FullName string           `json:"full_name"`
	Position string           `json:"position"`
	Username string           `json:"username"`
	IsActive *bool            `json:"is_active,omitempty"`
}

// =============================================================================
// REPORTS
// =============================================================================

type ReportDTO struct {
	ID          ledger.ReportID  `json:"id"`
	ForemanID   ledger.ForemanID `json:"foreman_id"`
	ForemanName string           `json:"foreman_name,omitempty"`
	WorkID      ledger.WorkID    `json:"work_id"`
	WorkName    string           `json:"work_name,omitempty"`
	Unit        string           `json:"unit,omitempty"`
	Quantity    decimal.Decimal  `json:"quantity"`
	ReportDate  string           `json:"report_date"`
	ReportTime  string           `json:"report_time"`
	PhotoURL    string           `json:"photo_report_url"`
	IsVerified  bool             `json:"is_verified"`
	CreatedAt   time.Time        `json:"created_at"`
}

type CreateReportRequest struct {
	ForemanID  ledger.ForemanID `json:"foreman_id"`
	WorkID     ledger.WorkID    `json:"work_id"`
	Quantity   decimal.Decimal  `json:"quantity"`
	ReportDate string           `json:"report_date"`
	ReportTime string           `json:"report_time"`
	PhotoURL   string           `json:"photo_report_url"`
}

// UpdateReportRequest replaces a report. Omitted date, time, photo and
// foreman keep their stored values.
type UpdateReportRequest struct {
	ForemanID  *ledger.ForemanID `json:"foreman_id,omitempty"`
	WorkID     ledger.WorkID     `json:"work_id"`
	Quantity   decimal.Decimal   `json:"quantity"`
	ReportDate string            `json:"report_date"`
	ReportTime string            `json:"report_time"`
	PhotoURL   *string           `json:"photo_report_url,omitempty"`
}

type VerifyRequest struct {
	IsVerified bool `json:"is_verified"`
}

type DailyWorkDTO struct {
	ReportID   ledger.ReportID `json:"report_id"`
	WorkID     ledger.WorkID   `json:"work_id"`
	Name       string          `json:"name"`
	Category   string          `json:"category"`
	Unit       string          `json:"unit"`
	Quantity   decimal.Decimal `json:"quantity"`
	PhotoURL   string          `json:"photo_report_url,omitempty"`
	IsVerified bool            `json:"is_verified"`
}

// DailySummaryDTO is one foreman's reports for a day.
type DailySummaryDTO struct {
	ForemanID ledger.ForemanID `json:"foreman_id"`
	Foreman   string           `json:"foreman"`
	Position  string           `json:"position"`
	Works     []DailyWorkDTO   `json:"works"`
}

// =============================================================================
// STATEMENT
// =============================================================================

type StatementRowDTO struct {
	WorkID            ledger.WorkID   `json:"work_id"`
	Category          string          `json:"category"`
	WorkName          string          `json:"work_name"`
	Unit              string          `json:"unit"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
	Quantity          decimal.Decimal `json:"quantity"`
	ProjectTotal      decimal.Decimal `json:"project_total"`
	CompletionPercent decimal.Decimal `json:"completion_percent"`
	TotalCost         decimal.Decimal `json:"total_cost"`
	TotalWithVAT      decimal.Decimal `json:"total_cost_with_vat"`
}

type StatementResponse struct {
	Rows         []StatementRowDTO `json:"rows"`
	Total        decimal.Decimal   `json:"total"`
	TotalWithVAT decimal.Decimal   `json:"total_with_vat"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func (h *Handler) toWorkDTO(w ledger.Work) WorkDTO {
	return WorkDTO{
		ID:              w.ID,
		Name:            w.Name,
		Category:        w.Category,
		Unit:            w.Unit,
		Balance:         w.Balance,
		ProjectTotal:    w.ProjectTotal,
		UnitCost:        w.UnitCost,
		UnitCostWithVAT: reporting.WithVAT(w.UnitCost, h.VATRate),
		TotalCost:       w.TotalCost,
		TotalWithVAT:    reporting.WithVAT(w.TotalCost, h.VATRate),
		IsActive:        w.IsActive,
		CreatedAt:       w.CreatedAt,
	}
}

func (h *Handler) toMaterialDTO(m ledger.Material) MaterialDTO {
	return MaterialDTO{
		ID:              m.ID,
		Category:        m.Category,
		Name:            m.Name,
		Unit:            m.Unit,
		Quantity:        m.Quantity,
		UnitCost:        m.UnitCost,
		UnitCostWithVAT: reporting.WithVAT(m.UnitCost, h.VATRate),
		TotalCost:       m.TotalCost,
		TotalWithVAT:    reporting.WithVAT(m.TotalCost, h.VATRate),
		IsActive:        m.IsActive,
		CreatedAt:       m.CreatedAt,
	}
}

func toRequirementDTOs(reqs []ledger.Requirement) []RequirementDTO {
	dtos := make([]RequirementDTO, len(reqs))
	for i, r := range reqs {
		dtos[i] = RequirementDTO{
			MaterialID:      r.MaterialID,
			MaterialName:    r.MaterialName,
			Unit:            r.Unit,
			QuantityPerUnit: r.QuantityPerUnit,
			Available:       r.Available,
		}
	}
	return dtos
}

func toHistoryDTO(e ledger.HistoryEntry) HistoryDTO {
	return HistoryDTO{
		ID:                e.ID,
		MaterialID:        e.MaterialID,
		MaterialName:      e.MaterialName,
		ChangeAmount:      e.ChangeAmount,
		ResultingQuantity: e.ResultingQuantity,
		ChangeType:        e.ChangeType,
		PerformedBy:       e.PerformedBy,
		Description:       e.Description,
		CreatedAt:         e.CreatedAt,
	}
}

func toForemanDTO(f ledger.Foreman) ForemanDTO {
	return ForemanDTO{
		ID:           f.ID,
		FullName:     f.FullName,
		Position:     f.Position,
		Username:     f.Username,
		RegisteredAt: f.RegisteredAt,
		IsActive:     f.IsActive,
	}
}

func toReportDTO(r ledger.Report) ReportDTO {
	return ReportDTO{
		ID:         r.ID,
		ForemanID:  r.ForemanID,
		WorkID:     r.WorkID,
		Quantity:   r.Quantity,
		ReportDate: r.ReportDate,
		ReportTime: r.ReportTime,
		PhotoURL:   r.PhotoURL,
		IsVerified: r.IsVerified,
		CreatedAt:  r.CreatedAt,
	}
}
