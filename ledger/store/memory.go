// Package store provides an in-memory ledger.TxStore.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/stroykontrol/build-report/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu   sync.RWMutex
	data *data
}

func NewMemory() *Memory {
	return &Memory{data: newData()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The write lock is held for the whole of fn, so units of work never overlap.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := m.data.clone()
	if err := fn(m.data); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

func (m *Memory) GetWork(ctx context.Context, id ledger.WorkID) (*ledger.Work, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetWork(ctx, id)
}

func (m *Memory) ListWorks(ctx context.Context, activeOnly bool) ([]ledger.Work, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListWorks(ctx, activeOnly)
}

func (m *Memory) InsertWork(ctx context.Context, w ledger.Work) (ledger.WorkID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.InsertWork(ctx, w)
}

func (m *Memory) UpdateWork(ctx context.Context, w ledger.Work) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.UpdateWork(ctx, w)
}

func (m *Memory) SetWorkBalance(ctx context.Context, id ledger.WorkID, balance decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SetWorkBalance(ctx, id, balance)
}

func (m *Memory) DeleteWork(ctx context.Context, id ledger.WorkID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.DeleteWork(ctx, id)
}

func (m *Memory) GetMaterial(ctx context.Context, id ledger.MaterialID) (*ledger.Material, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetMaterial(ctx, id)
}

func (m *Memory) ListMaterials(ctx context.Context, activeOnly bool) ([]ledger.Material, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListMaterials(ctx, activeOnly)
}

func (m *Memory) InsertMaterial(ctx context.Context, mat ledger.Material) (ledger.MaterialID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.InsertMaterial(ctx, mat)
}

func (m *Memory) SetMaterialQuantity(ctx context.Context, id ledger.MaterialID, qty decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SetMaterialQuantity(ctx, id, qty)
}

func (m *Memory) SetMaterialPricing(ctx context.Context, id ledger.MaterialID, unitCost, totalCost decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SetMaterialPricing(ctx, id, unitCost, totalCost)
}

func (m *Memory) UpdateMaterial(ctx context.Context, mat ledger.Material) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.UpdateMaterial(ctx, mat)
}

func (m *Memory) DeleteMaterial(ctx context.Context, id ledger.MaterialID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.DeleteMaterial(ctx, id)
}

func (m *Memory) AppendHistory(ctx context.Context, e ledger.HistoryEntry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.AppendHistory(ctx, e)
}

func (m *Memory) MaterialHistory(ctx context.Context, id ledger.MaterialID) ([]ledger.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.MaterialHistory(ctx, id)
}

func (m *Memory) ListHistory(ctx context.Context, f ledger.HistoryFilter) ([]ledger.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListHistory(ctx, f)
}

func (m *Memory) Requirements(ctx context.Context, workID ledger.WorkID) ([]ledger.Requirement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.Requirements(ctx, workID)
}

func (m *Memory) ReplaceRequirements(ctx context.Context, workID ledger.WorkID, lines []ledger.BOMLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.ReplaceRequirements(ctx, workID, lines)
}

func (m *Memory) GetForeman(ctx context.Context, id ledger.ForemanID) (*ledger.Foreman, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetForeman(ctx, id)
}

func (m *Memory) ListForemen(ctx context.Context) ([]ledger.Foreman, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListForemen(ctx)
}

func (m *Memory) SaveForeman(ctx context.Context, f ledger.Foreman) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SaveForeman(ctx, f)
}

func (m *Memory) GetReport(ctx context.Context, id ledger.ReportID) (*ledger.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetReport(ctx, id)
}

func (m *Memory) ListReports(ctx context.Context, f ledger.ReportFilter) ([]ledger.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListReports(ctx, f)
}

func (m *Memory) InsertReport(ctx context.Context, r ledger.Report) (ledger.ReportID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.InsertReport(ctx, r)
}

func (m *Memory) UpdateReport(ctx context.Context, r ledger.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.UpdateReport(ctx, r)
}

func (m *Memory) DeleteReport(ctx context.Context, id ledger.ReportID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.DeleteReport(ctx, id)
}

func (m *Memory) SetReportVerified(ctx context.Context, id ledger.ReportID, verified bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SetReportVerified(ctx, id, verified)
}

// =============================================================================
// DATA - unlocked state, also the transactional view handed to WithTx
// =============================================================================

type data struct {
	works     map[ledger.WorkID]ledger.Work
	materials map[ledger.MaterialID]ledger.Material
	bom       map[ledger.WorkID]map[ledger.MaterialID]decimal.Decimal
	history   []ledger.HistoryEntry
	foremen   map[ledger.ForemanID]ledger.Foreman
	reports   map[ledger.ReportID]ledger.Report

	lastWork, lastMaterial, lastHistory, lastReport int64
}

func newData() *data {
	return &data{
		works:     make(map[ledger.WorkID]ledger.Work),
		materials: make(map[ledger.MaterialID]ledger.Material),
		bom:       make(map[ledger.WorkID]map[ledger.MaterialID]decimal.Decimal),
		foremen:   make(map[ledger.ForemanID]ledger.Foreman),
		reports:   make(map[ledger.ReportID]ledger.Report),
	}
}

func (d *data) clone() *data {
	c := newData()
	for k, v := range d.works {
		c.works[k] = v
	}
	for k, v := range d.materials {
		c.materials[k] = v
	}
	for k, v := range d.bom {
		edges := make(map[ledger.MaterialID]decimal.Decimal, len(v))
		for mk, mv := range v {
			edges[mk] = mv
		}
		c.bom[k] = edges
	}
	c.history = append([]ledger.HistoryEntry(nil), d.history...)
	for k, v := range d.foremen {
		c.foremen[k] = v
	}
	for k, v := range d.reports {
		c.reports[k] = v
	}
	c.lastWork, c.lastMaterial, c.lastHistory, c.lastReport = d.lastWork, d.lastMaterial, d.lastHistory, d.lastReport
	return c
}

func (d *data) GetWork(_ context.Context, id ledger.WorkID) (*ledger.Work, error) {
	w, ok := d.works[id]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (d *data) ListWorks(_ context.Context, activeOnly bool) ([]ledger.Work, error) {
	result := []ledger.Work{}
	for _, w := range d.works {
		if activeOnly && !w.IsActive {
			continue
		}
		result = append(result, w)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Category != result[j].Category {
			return result[i].Category < result[j].Category
		}
		return result[i].Name < result[j].Name
	})
	return result, nil
}

func (d *data) InsertWork(_ context.Context, w ledger.Work) (ledger.WorkID, error) {
	for _, existing := range d.works {
		if strings.EqualFold(existing.Name, w.Name) {
			return 0, fmt.Errorf("%w: work %q already exists", ledger.ErrConflict, w.Name)
		}
	}
	d.lastWork++
	w.ID = ledger.WorkID(d.lastWork)
	d.works[w.ID] = w
	return w.ID, nil
}

func (d *data) UpdateWork(_ context.Context, w ledger.Work) error {
	cur, ok := d.works[w.ID]
	if !ok {
		return nil
	}
	for id, existing := range d.works {
		if id != w.ID && strings.EqualFold(existing.Name, w.Name) {
			return fmt.Errorf("%w: work %q already exists", ledger.ErrConflict, w.Name)
		}
	}
	w.Balance = cur.Balance
	w.CreatedAt = cur.CreatedAt
	d.works[w.ID] = w
	return nil
}

func (d *data) SetWorkBalance(_ context.Context, id ledger.WorkID, balance decimal.Decimal) error {
	if w, ok := d.works[id]; ok {
		w.Balance = balance
		d.works[id] = w
	}
	return nil
}

func (d *data) DeleteWork(_ context.Context, id ledger.WorkID) error {
	delete(d.works, id)
	delete(d.bom, id)
	return nil
}

func (d *data) GetMaterial(_ context.Context, id ledger.MaterialID) (*ledger.Material, error) {
	m, ok := d.materials[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (d *data) ListMaterials(_ context.Context, activeOnly bool) ([]ledger.Material, error) {
	result := []ledger.Material{}
	for _, m := range d.materials {
		if activeOnly && !m.IsActive {
			continue
		}
		result = append(result, m)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Category != result[j].Category {
			return result[i].Category < result[j].Category
		}
		return result[i].Name < result[j].Name
	})
	return result, nil
}

func (d *data) InsertMaterial(_ context.Context, m ledger.Material) (ledger.MaterialID, error) {
	d.lastMaterial++
	m.ID = ledger.MaterialID(d.lastMaterial)
	d.materials[m.ID] = m
	return m.ID, nil
}

func (d *data) SetMaterialQuantity(_ context.Context, id ledger.MaterialID, qty decimal.Decimal) error {
	if m, ok := d.materials[id]; ok {
		m.Quantity = qty
		d.materials[id] = m
	}
	return nil
}

func (d *data) SetMaterialPricing(_ context.Context, id ledger.MaterialID, unitCost, totalCost decimal.Decimal) error {
	if m, ok := d.materials[id]; ok {
		m.UnitCost = unitCost
		m.TotalCost = totalCost
		d.materials[id] = m
	}
	return nil
}

func (d *data) UpdateMaterial(_ context.Context, m ledger.Material) error {
	cur, ok := d.materials[m.ID]
	if !ok {
		return nil
	}
	m.Quantity = cur.Quantity
	m.CreatedAt = cur.CreatedAt
	d.materials[m.ID] = m
	return nil
}

func (d *data) DeleteMaterial(_ context.Context, id ledger.MaterialID) error {
	delete(d.materials, id)
	for _, edges := range d.bom {
		delete(edges, id)
	}
	kept := d.history[:0]
	for _, e := range d.history {
		if e.MaterialID != id {
			kept = append(kept, e)
		}
	}
	d.history = kept
	return nil
}

func (d *data) AppendHistory(_ context.Context, e ledger.HistoryEntry) (int64, error) {
	d.lastHistory++
	e.ID = d.lastHistory
	e.MaterialName = ""
	d.history = append(d.history, e)
	return e.ID, nil
}

func (d *data) MaterialHistory(_ context.Context, id ledger.MaterialID) ([]ledger.HistoryEntry, error) {
	result := []ledger.HistoryEntry{}
	for _, e := range d.history {
		if e.MaterialID == id {
			result = append(result, d.withName(e))
		}
	}
	return result, nil
}

func (d *data) ListHistory(_ context.Context, f ledger.HistoryFilter) ([]ledger.HistoryEntry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = ledger.DefaultHistoryLimit
	}
	result := []ledger.HistoryEntry{}
	// history is appended in id order, so walking backwards is newest first
	for i := len(d.history) - 1; i >= 0 && len(result) < limit; i-- {
		e := d.history[i]
		if f.MaterialID != nil && e.MaterialID != *f.MaterialID {
			continue
		}
		result = append(result, d.withName(e))
	}
	return result, nil
}

func (d *data) withName(e ledger.HistoryEntry) ledger.HistoryEntry {
	e.MaterialName = d.materials[e.MaterialID].Name
	return e
}

func (d *data) Requirements(_ context.Context, workID ledger.WorkID) ([]ledger.Requirement, error) {
	result := []ledger.Requirement{}
	for materialID, qpu := range d.bom[workID] {
		m, ok := d.materials[materialID]
		if !ok {
			continue
		}
		result = append(result, ledger.Requirement{
			MaterialID:      materialID,
			QuantityPerUnit: qpu,
			MaterialName:    m.Name,
			Unit:            m.Unit,
			Available:       m.Quantity,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].MaterialID < result[j].MaterialID })
	return result, nil
}

func (d *data) ReplaceRequirements(_ context.Context, workID ledger.WorkID, lines []ledger.BOMLine) error {
	edges := make(map[ledger.MaterialID]decimal.Decimal, len(lines))
	for _, l := range lines {
		edges[l.MaterialID] = l.QuantityPerUnit
	}
	d.bom[workID] = edges
	return nil
}

func (d *data) GetForeman(_ context.Context, id ledger.ForemanID) (*ledger.Foreman, error) {
	f, ok := d.foremen[id]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

func (d *data) ListForemen(_ context.Context) ([]ledger.Foreman, error) {
	result := []ledger.Foreman{}
	for _, f := range d.foremen {
		result = append(result, f)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].FullName < result[j].FullName })
	return result, nil
}

func (d *data) SaveForeman(_ context.Context, f ledger.Foreman) error {
	d.foremen[f.ID] = f
	return nil
}

func (d *data) GetReport(_ context.Context, id ledger.ReportID) (*ledger.Report, error) {
	r, ok := d.reports[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (d *data) ListReports(_ context.Context, f ledger.ReportFilter) ([]ledger.Report, error) {
	result := []ledger.Report{}
	for _, r := range d.reports {
		switch {
		case f.ForemanID != nil && r.ForemanID != *f.ForemanID:
			continue
		case f.WorkID != nil && r.WorkID != *f.WorkID:
			continue
		case f.DateFrom != "" && r.ReportDate < f.DateFrom:
			continue
		case f.DateTo != "" && r.ReportDate > f.DateTo:
			continue
		case f.VerifiedOnly && !r.IsVerified:
			continue
		}
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.ReportDate != b.ReportDate {
			return a.ReportDate > b.ReportDate
		}
		if a.ReportTime != b.ReportTime {
			return a.ReportTime > b.ReportTime
		}
		return a.ID > b.ID
	})
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

func (d *data) InsertReport(_ context.Context, r ledger.Report) (ledger.ReportID, error) {
	d.lastReport++
	r.ID = ledger.ReportID(d.lastReport)
	d.reports[r.ID] = r
	return r.ID, nil
}

func (d *data) UpdateReport(_ context.Context, r ledger.Report) error {
	if _, ok := d.reports[r.ID]; ok {
		d.reports[r.ID] = r
	}
	return nil
}

func (d *data) DeleteReport(_ context.Context, id ledger.ReportID) error {
	delete(d.reports, id)
	return nil
}

func (d *data) SetReportVerified(_ context.Context, id ledger.ReportID, verified bool) error {
	if r, ok := d.reports[id]; ok {
		r.IsVerified = verified
		d.reports[id] = r
	}
	return nil
}
