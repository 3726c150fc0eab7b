/*
handlers_test.go - Tests for the HTTP API

Tests for:
- Report create/update/delete through HTTP, with balances and stock checked
- Error kind to status mapping
- Statement, exports, history, audit and demo scenarios
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/stroykontrol/build-report/ledger"
	"github.com/stroykontrol/build-report/ledger/ledgertest"
	"github.com/stroykontrol/build-report/ledger/store"
	"github.com/stroykontrol/build-report/logger"
	"github.com/stroykontrol/build-report/reporting"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const foremanID ledger.ForemanID = 7001

type testServer struct {
	t      *testing.T
	store  *store.Memory
	audit  *AuditScheduler
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	st := store.NewMemory()
	log := logger.Discard()
	engine := ledger.NewEngine(st, ledger.WithClock(ledgertest.Clock), ledger.WithLogger(log))
	h := NewHandler(st, engine, decimal.RequireFromString("0.2"), log)
	audit := NewAuditScheduler(st, log, 0)
	return &testServer{
		t:      t,
		store:  st,
		audit:  audit,
		router: NewRouter(h, RouterConfig{Audit: audit, Scenarios: true}),
	}
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func pathf(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}

func decodeAs[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// site creates a foreman, a work with balance 100 and a material with stock
// 100 consumed at 2 per unit of work.
func (s *testServer) site() (ledger.WorkID, ledger.MaterialID) {
	rec := s.do("POST", "/api/foremen", map[string]any{"id": foremanID, "full_name": "Ivan Petrov", "position": "site 3"})
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do("POST", "/api/works", map[string]any{
		"name": "Foundation", "category": "Concrete", "unit": "m3",
		"balance": 100, "project_total": 100, "unit_cost": "150",
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	work := decodeAs[WorkDTO](s.t, rec)

	rec = s.do("POST", "/api/materials", map[string]any{
		"category": "Binders", "name": "Cement", "unit": "kg", "quantity": 100, "unit_cost": 2,
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	material := decodeAs[MaterialDTO](s.t, rec)

	rec = s.do("PUT", pathf("/api/works/%d/materials", work.ID), map[string]any{
		"materials": []map[string]any{{"material_id": material.ID, "quantity_per_unit": 2}},
	})
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	return work.ID, material.ID
}

func (s *testServer) balance(id ledger.WorkID) decimal.Decimal {
	rec := s.do("GET", pathf("/api/works/%d", id), nil)
	require.Equal(s.t, http.StatusOK, rec.Code)
	return decodeAs[WorkDTO](s.t, rec).Balance
}

func (s *testServer) quantity(id ledger.MaterialID) decimal.Decimal {
	rec := s.do("GET", pathf("/api/materials/%d", id), nil)
	require.Equal(s.t, http.StatusOK, rec.Code)
	return decodeAs[MaterialDTO](s.t, rec).Quantity
}

func (s *testServer) report(work ledger.WorkID, qty any) *httptest.ResponseRecorder {
	return s.do("POST", "/api/work-reports", map[string]any{
		"foreman_id": foremanID, "work_id": work, "quantity": qty,
	})
}

// =============================================================================
// REPORT LIFECYCLE
// =============================================================================

func TestCreateReport_DebitsBalanceAndStock(t *testing.T) {
	// GIVEN: A work with balance 100 and cement 100 at 2 per unit
	s := newTestServer(t)
	work, cement := s.site()

	// WHEN: Reporting 30 units
	rec := s.report(work, 30)

	// THEN: 201, balance 70, cement 40
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	dto := decodeAs[ReportDTO](t, rec)
	assert.Equal(t, "Foundation", dto.WorkName)
	assert.Equal(t, "Ivan Petrov", dto.ForemanName)
	assert.Equal(t, "2025-03-10", dto.ReportDate)
	assert.Equal(t, "09:30:00", dto.ReportTime)
	ledgertest.AssertDec(t, "70", s.balance(work))
	ledgertest.AssertDec(t, "40", s.quantity(cement))
}

func TestDeleteReport_RestoresBalanceAndStock(t *testing.T) {
	// GIVEN: A report of 30 units
	s := newTestServer(t)
	work, cement := s.site()
	rec := s.report(work, 30)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeAs[ReportDTO](t, rec).ID

	// WHEN: Deleting it
	rec = s.do("DELETE", pathf("/api/work-reports/%d", id), nil)

	// THEN: Everything is back where it started
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ledgertest.AssertDec(t, "100", s.balance(work))
	ledgertest.AssertDec(t, "100", s.quantity(cement))
	assert.Equal(t, http.StatusNotFound, s.do("GET", pathf("/api/work-reports/%d", id), nil).Code)
}

func TestUpdateReport_ReversesThenReapplies(t *testing.T) {
	s := newTestServer(t)
	work, cement := s.site()
	rec := s.report(work, 30)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeAs[ReportDTO](t, rec).ID

	rec = s.do("PUT", pathf("/api/work-reports/%d", id), map[string]any{
		"work_id": work, "quantity": "45", "photo_report_url": "https://photos.example/45.jpg",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	dto := decodeAs[ReportDTO](t, rec)
	ledgertest.AssertDec(t, "45", dto.Quantity)
	assert.Equal(t, "https://photos.example/45.jpg", dto.PhotoURL)
	assert.Equal(t, "2025-03-10", dto.ReportDate)
	ledgertest.AssertDec(t, "55", s.balance(work))
	ledgertest.AssertDec(t, "10", s.quantity(cement))
}

func TestUpdateReport_Insufficient_LeavesReportUntouched(t *testing.T) {
	s := newTestServer(t)
	work, cement := s.site()
	rec := s.report(work, 30)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeAs[ReportDTO](t, rec).ID

	// 60 units need 120 cement; only 100 exist even after reversal
	rec = s.do("PUT", pathf("/api/work-reports/%d", id), map[string]any{"work_id": work, "quantity": 60})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ledger.KindInsufficientMaterial.String(), decodeAs[ErrorResponse](t, rec).Kind)
	ledgertest.AssertDec(t, "70", s.balance(work))
	ledgertest.AssertDec(t, "40", s.quantity(cement))
}

func TestUpdateReport_MissingWorkID_Rejected(t *testing.T) {
	// GIVEN: A report of 30 units
	s := newTestServer(t)
	work, cement := s.site()
	rec := s.report(work, 30)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeAs[ReportDTO](t, rec).ID

	// WHEN: Replacing it with a body that has no work_id
	rec = s.do("PUT", pathf("/api/work-reports/%d", id), map[string]any{"quantity": 10})

	// THEN: 400 invalid input, the report and the ledger are untouched
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, ledger.KindInvalidInput.String(), decodeAs[ErrorResponse](t, rec).Kind)
	ledgertest.AssertDec(t, "70", s.balance(work))
	ledgertest.AssertDec(t, "40", s.quantity(cement))
	rec = s.do("GET", pathf("/api/work-reports/%d", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ledgertest.AssertDec(t, "30", decodeAs[ReportDTO](t, rec).Quantity)

	// AND: A negative work_id gets the same answer
	rec = s.do("PUT", pathf("/api/work-reports/%d", id), map[string]any{"work_id": -1, "quantity": 10})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDailySummary_GroupsByForeman(t *testing.T) {
	// GIVEN: Two reports today and one on another day
	s := newTestServer(t)
	work, _ := s.site()
	require.Equal(t, http.StatusCreated, s.report(work, 5).Code)
	require.Equal(t, http.StatusCreated, s.report(work, 3).Code)
	rec := s.do("POST", "/api/work-reports", map[string]any{
		"foreman_id": foremanID, "work_id": work, "quantity": 1, "report_date": "2025-03-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// WHEN: Fetching the summary for 2025-03-10
	rec = s.do("GET", "/api/work-reports/daily/2025-03-10", nil)

	// THEN: One foreman with both of today's reports
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	days := decodeAs[[]DailySummaryDTO](t, rec)
	require.Len(t, days, 1)
	assert.Equal(t, "Ivan Petrov", days[0].Foreman)
	assert.Equal(t, "site 3", days[0].Position)
	require.Len(t, days[0].Works, 2)
	assert.Equal(t, "Foundation", days[0].Works[0].Name)
	assert.Equal(t, "m3", days[0].Works[0].Unit)
	ledgertest.AssertDec(t, "5", days[0].Works[0].Quantity)
	ledgertest.AssertDec(t, "3", days[0].Works[1].Quantity)

	// AND: An empty day is an empty list, a bad date is 400
	rec = s.do("GET", "/api/work-reports/daily/2025-02-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeAs[[]DailySummaryDTO](t, rec))
	assert.Equal(t, http.StatusBadRequest, s.do("GET", "/api/work-reports/daily/10.03.2025", nil).Code)
}

func TestVerifyReport(t *testing.T) {
	s := newTestServer(t)
	work, _ := s.site()
	rec := s.report(work, 5)
	id := decodeAs[ReportDTO](t, rec).ID

	rec = s.do("POST", pathf("/api/work-reports/%d/verify", id), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeAs[ReportDTO](t, rec).IsVerified)

	rec = s.do("POST", pathf("/api/work-reports/%d/verify", id), map[string]any{"is_verified": false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeAs[ReportDTO](t, rec).IsVerified)
}

func TestListReports_Filters(t *testing.T) {
	s := newTestServer(t)
	work, _ := s.site()
	for _, date := range []string{"2025-03-01", "2025-03-05", "2025-03-09"} {
		rec := s.do("POST", "/api/work-reports", map[string]any{
			"foreman_id": foremanID, "work_id": work, "quantity": 1, "report_date": date,
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := s.do("GET", "/api/work-reports?date_from=2025-03-02&date_to=2025-03-09", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	reports := decodeAs[[]ReportDTO](t, rec)
	require.Len(t, reports, 2)
	assert.Equal(t, "2025-03-09", reports[0].ReportDate)

	rec = s.do("GET", "/api/work-reports?limit=1", nil)
	assert.Len(t, decodeAs[[]ReportDTO](t, rec), 1)

	assert.Equal(t, http.StatusBadRequest, s.do("GET", "/api/work-reports?date_from=March", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do("GET", "/api/work-reports?limit=-1", nil).Code)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestCreateReport_ErrorStatuses(t *testing.T) {
	s := newTestServer(t)
	work, cement := s.site()

	cases := []struct {
		name   string
		body   any
		status int
		kind   ledger.Kind
	}{
		{"insufficient material", map[string]any{"foreman_id": foremanID, "work_id": work, "quantity": 51},
			http.StatusBadRequest, ledger.KindInsufficientMaterial},
		{"unknown work", map[string]any{"foreman_id": foremanID, "work_id": 999, "quantity": 1},
			http.StatusNotFound, ledger.KindWorkNotFound},
		{"unknown foreman", map[string]any{"foreman_id": 1, "work_id": work, "quantity": 1},
			http.StatusNotFound, ledger.KindForemanNotFound},
		{"zero quantity", map[string]any{"foreman_id": foremanID, "work_id": work, "quantity": 0},
			http.StatusBadRequest, ledger.KindInvalidInput},
		{"bad date", map[string]any{"foreman_id": foremanID, "work_id": work, "quantity": 1, "report_date": "10.03.2025"},
			http.StatusBadRequest, ledger.KindInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do("POST", "/api/work-reports", tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.Equal(t, tc.kind.String(), decodeAs[ErrorResponse](t, rec).Kind)
		})
	}

	// nothing was applied by any of the rejected requests
	ledgertest.AssertDec(t, "100", s.balance(work))
	ledgertest.AssertDec(t, "100", s.quantity(cement))
}

func TestCreateReport_InsufficientBalance(t *testing.T) {
	s := newTestServer(t)
	work, _ := s.site()

	rec := s.report(work, "100.5")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeAs[ErrorResponse](t, rec)
	assert.Equal(t, ledger.KindInsufficientBalance.String(), resp.Kind)
	assert.Contains(t, resp.Details, "Foundation")
}

func TestBadRequests(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/works", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusBadRequest, s.do("GET", "/api/works/abc", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do("GET", "/api/works?active_only=maybe", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do("GET", "/api/works/42", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do("GET", "/api/materials/42", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do("DELETE", "/api/work-reports/42", nil).Code)
}

// =============================================================================
// CATALOG
// =============================================================================

func TestCreateWork_DuplicateName_Conflict(t *testing.T) {
	s := newTestServer(t)
	s.site()

	rec := s.do("POST", "/api/works", map[string]any{"name": "foundation", "unit": "m3"})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, ledger.KindConflict.String(), decodeAs[ErrorResponse](t, rec).Kind)
}

func TestWork_VATAndBalance(t *testing.T) {
	s := newTestServer(t)
	work, _ := s.site()

	rec := s.do("PUT", pathf("/api/works/%d/add-balance", work), map[string]any{"amount": 20})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	dto := decodeAs[WorkDTO](t, rec)
	ledgertest.AssertDec(t, "120", dto.Balance)
	ledgertest.AssertDec(t, "180", dto.UnitCostWithVAT)

	rec = s.do("PUT", pathf("/api/works/%d/add-balance", work), map[string]any{"amount": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateAndDeleteWork(t *testing.T) {
	s := newTestServer(t)
	work, _ := s.site()

	rec := s.do("PUT", pathf("/api/works/%d", work), map[string]any{
		"name": "Foundation slab", "category": "Concrete", "unit": "m3", "project_total": 110, "unit_cost": 160,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	dto := decodeAs[WorkDTO](t, rec)
	assert.Equal(t, "Foundation slab", dto.Name)
	ledgertest.AssertDec(t, "100", dto.Balance)

	rec = s.report(work, 1)
	id := decodeAs[ReportDTO](t, rec).ID
	assert.Equal(t, http.StatusBadRequest, s.do("DELETE", pathf("/api/works/%d", work), nil).Code)

	require.Equal(t, http.StatusOK, s.do("DELETE", pathf("/api/work-reports/%d", id), nil).Code)
	assert.Equal(t, http.StatusOK, s.do("DELETE", pathf("/api/works/%d", work), nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do("GET", pathf("/api/works/%d", work), nil).Code)
}

func TestWorkMaterials(t *testing.T) {
	s := newTestServer(t)
	work, cement := s.site()

	rec := s.do("GET", pathf("/api/works/%d/materials", work), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	reqs := decodeAs[[]RequirementDTO](t, rec)
	require.Len(t, reqs, 1)
	assert.Equal(t, cement, reqs[0].MaterialID)
	assert.Equal(t, "Cement", reqs[0].MaterialName)
	ledgertest.AssertDec(t, "2", reqs[0].QuantityPerUnit)

	rec = s.do("PUT", pathf("/api/works/%d/materials", work), map[string]any{
		"materials": []map[string]any{{"material_id": 999, "quantity_per_unit": 1}},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, http.StatusNotFound, s.do("GET", "/api/works/999/materials", nil).Code)
}

func TestMaterialQuantityAndPricing(t *testing.T) {
	s := newTestServer(t)
	_, cement := s.site()

	rec := s.do("PUT", pathf("/api/materials/%d/add-quantity", cement), map[string]any{
		"amount": 25, "performed_by": "Warehouse", "description": "delivery 17",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ledgertest.AssertDec(t, "125", decodeAs[MaterialDTO](t, rec).Quantity)

	rec = s.do("PUT", pathf("/api/materials/%d/add-quantity", cement), map[string]any{"amount": -200})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do("PUT", pathf("/api/materials/%d/quantity", cement), map[string]any{"quantity": 90})
	require.Equal(t, http.StatusOK, rec.Code)
	ledgertest.AssertDec(t, "90", decodeAs[MaterialDTO](t, rec).Quantity)

	rec = s.do("PUT", pathf("/api/materials/%d/pricing", cement), map[string]any{"unit_cost": "2.5"})
	require.Equal(t, http.StatusOK, rec.Code)
	dto := decodeAs[MaterialDTO](t, rec)
	ledgertest.AssertDec(t, "225", dto.TotalCost)
	ledgertest.AssertDec(t, "270", dto.TotalWithVAT)

	rec = s.do("GET", pathf("/api/materials/history?material_id=%d", cement), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeAs[[]HistoryDTO](t, rec)
	require.Len(t, history, 3)
	assert.Equal(t, ledger.ChangeAdjustment, history[0].ChangeType)
	ledgertest.AssertDec(t, "-35", history[0].ChangeAmount)
	assert.Equal(t, "Warehouse", history[1].PerformedBy)
	assert.Equal(t, ledger.ChangeCreation, history[2].ChangeType)
}

func TestUpdateMaterial_DeactivatesWithoutMovingStock(t *testing.T) {
	// GIVEN: Cement with 100 kg in stock
	s := newTestServer(t)
	_, cement := s.site()

	// WHEN: Renaming, repricing and deactivating it
	rec := s.do("PUT", pathf("/api/materials/%d", cement), map[string]any{
		"category": "Binders", "name": "Cement M500", "unit": "kg", "unit_cost": 3, "is_active": false,
	})

	// THEN: Fields change, quantity and history stay
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	dto := decodeAs[MaterialDTO](t, rec)
	assert.Equal(t, "Cement M500", dto.Name)
	assert.False(t, dto.IsActive)
	ledgertest.AssertDec(t, "100", dto.Quantity)
	ledgertest.AssertDec(t, "300", dto.TotalCost)
	ledgertest.AssertDec(t, "100", s.quantity(cement))

	rec = s.do("GET", pathf("/api/materials/history?material_id=%d", cement), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeAs[[]HistoryDTO](t, rec), 1)

	// AND: It no longer shows in the active list
	rec = s.do("GET", "/api/materials?active_only=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeAs[[]MaterialDTO](t, rec))

	// AND: Bad input and unknown ids map to 400 and 404
	rec = s.do("PUT", pathf("/api/materials/%d", cement), map[string]any{"name": "", "unit": "kg"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do("PUT", "/api/materials/999", map[string]any{"name": "X", "unit": "kg"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteMaterial(t *testing.T) {
	s := newTestServer(t)
	work, cement := s.site()

	require.Equal(t, http.StatusOK, s.do("DELETE", pathf("/api/materials/%d", cement), nil).Code)

	assert.Equal(t, http.StatusNotFound, s.do("GET", pathf("/api/materials/%d", cement), nil).Code)
	rec := s.do("GET", pathf("/api/works/%d/materials", work), nil)
	assert.Empty(t, decodeAs[[]RequirementDTO](t, rec))
	assert.Equal(t, http.StatusNotFound, s.do("DELETE", pathf("/api/materials/%d", cement), nil).Code)
}

func TestListForemen(t *testing.T) {
	s := newTestServer(t)
	s.site()

	rec := s.do("GET", "/api/foremen", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	foremen := decodeAs[[]ForemanDTO](t, rec)
	require.Len(t, foremen, 1)
	assert.Equal(t, "site 3", foremen[0].Position)

	rec = s.do("POST", "/api/foremen", map[string]any{"id": 5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// STATEMENT AND EXPORTS
// =============================================================================

func TestStatement_VerifiedOnlyWithVAT(t *testing.T) {
	s := newTestServer(t)
	work, _ := s.site()
	id := decodeAs[ReportDTO](t, s.report(work, 10)).ID
	s.report(work, 5)
	require.Equal(t, http.StatusOK, s.do("POST", pathf("/api/work-reports/%d/verify", id), nil).Code)

	rec := s.do("GET", "/api/accumulative-statement", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeAs[StatementResponse](t, rec)
	require.Len(t, resp.Rows, 1)
	ledgertest.AssertDec(t, "10", resp.Rows[0].Quantity)
	ledgertest.AssertDec(t, "10", resp.Rows[0].CompletionPercent)
	ledgertest.AssertDec(t, "1500", resp.Total)
	ledgertest.AssertDec(t, "1800", resp.TotalWithVAT)

	rec = s.do("GET", "/api/accumulative-statement?foreman_id=1", nil)
	assert.Empty(t, decodeAs[StatementResponse](t, rec).Rows)
}

func TestExports_AreSpreadsheets(t *testing.T) {
	s := newTestServer(t)
	work, _ := s.site()
	s.report(work, 3)

	cases := map[string]string{
		"/api/works/export":                  reporting.SheetWorks,
		"/api/materials/export":              reporting.SheetMaterials,
		"/api/materials/history/export":      reporting.SheetHistory,
		"/api/accumulative-statement/export": reporting.SheetStatement,
	}
	for path, sheet := range cases {
		t.Run(path, func(t *testing.T) {
			rec := s.do("GET", path, nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
			assert.Contains(t, rec.Header().Get("Content-Disposition"), ".xlsx")

			f, err := excelize.OpenReader(rec.Body)
			require.NoError(t, err)
			defer f.Close()
			assert.Equal(t, []string{sheet}, f.GetSheetList())
		})
	}
}

// =============================================================================
// AUDIT, HEALTH, SCENARIOS
// =============================================================================

func TestAuditMaterial_DetectsTampering(t *testing.T) {
	s := newTestServer(t)
	work, cement := s.site()
	s.report(work, 10)

	rec := s.do("GET", pathf("/api/materials/%d/audit", cement), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeAs[AuditDTO](t, rec).Consistent)

	require.NoError(t, s.store.SetMaterialQuantity(t.Context(), cement, decimal.NewFromInt(999)))

	rec = s.do("GET", pathf("/api/materials/%d/audit", cement), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dto := decodeAs[AuditDTO](t, rec)
	assert.False(t, dto.Consistent)
	require.NotNil(t, dto.Recorded)
	ledgertest.AssertDec(t, "999", *dto.Recorded)

	assert.Equal(t, http.StatusNotFound, s.do("GET", "/api/materials/999/audit", nil).Code)

	// the scheduled audit sees it too
	assert.Equal(t, http.StatusNotFound, s.do("GET", "/api/materials/audit", nil).Code)
	rec = s.do("POST", "/api/materials/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	run := decodeAs[AuditRun](t, rec)
	assert.Equal(t, 1, run.Checked)
	assert.Equal(t, []ledger.MaterialID{cement}, run.Mismatches)
	assert.Equal(t, http.StatusOK, s.do("GET", "/api/materials/audit", nil).Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do("GET", "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestLoadScenario_Residential(t *testing.T) {
	s := newTestServer(t)

	rec := s.do("GET", "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeAs[[]ScenarioDTO](t, rec), len(scenarios))

	rec = s.do("POST", "/api/scenarios/load", map[string]any{"scenario_id": "residential"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeAs[StatementResponse](t, s.do("GET", "/api/accumulative-statement", nil))
	require.Len(t, resp.Rows, 2)
	assert.Equal(t, "Foundation slab concrete B25", resp.Rows[0].WorkName)
	ledgertest.AssertDec(t, "30", resp.Rows[0].Quantity)
	assert.Equal(t, "Brick walls 380 mm", resp.Rows[1].WorkName)
	ledgertest.AssertDec(t, "25", resp.Rows[1].Quantity)

	run := s.audit.RunNow(t.Context())
	assert.Equal(t, 6, run.Checked)
	assert.Empty(t, run.Mismatches)

	// a second load would mix sites
	rec = s.do("POST", "/api/scenarios/load", map[string]any{"scenario_id": "foundation"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do("POST", "/api/scenarios/load", map[string]any{"scenario_id": "skyscraper"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScenarios_NotMountedOutsideDev(t *testing.T) {
	st := store.NewMemory()
	h := NewHandler(st, ledger.NewEngine(st), decimal.Zero, logger.Discard())
	router := NewRouter(h, RouterConfig{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/scenarios", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
