package ledger

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ADMINISTRATIVE DELTAS
// =============================================================================

// AddWorkBalance tops up a work's remaining balance. amount must be positive.
func (e *Engine) AddWorkBalance(ctx context.Context, id WorkID, amount decimal.Decimal) (*Work, error) {
	if !amount.IsPositive() {
		return nil, e.reject(OpAddWorkBalance, invalid("amount", "must be greater than zero"))
	}
	var w *Work
	err := e.run(ctx, OpAddWorkBalance, func(u *unit) error {
		balance, err := u.balance.ApplyDelta(ctx, id, amount)
		if err != nil {
			return err
		}
		if w, err = u.store.GetWork(ctx, id); err != nil {
			return err
		}
		w.Balance = balance
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("work balance added", "work_id", id, "amount", amount.String(), "balance", w.Balance.String())
	return w, nil
}

// AddMaterialQuantity restocks a material. A negative amount writes stock
// off and fails if it would take the quantity below zero.
func (e *Engine) AddMaterialQuantity(ctx context.Context, id MaterialID, amount decimal.Decimal,
	performedBy, description string) (*Material, error) {

	var m *Material
	err := e.run(ctx, OpAddMaterialQuantity, func(u *unit) error {
		if _, err := u.stock.ApplyDelta(ctx, id, amount, ChangeRestock, performedBy, description); err != nil {
			return err
		}
		var err error
		m, err = u.store.GetMaterial(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("material restocked", "material_id", id, "amount", amount.String(), "quantity", m.Quantity.String())
	return m, nil
}

// SetMaterialQuantity corrects a material to an absolute quantity, writing
// the difference as one adjustment row.
func (e *Engine) SetMaterialQuantity(ctx context.Context, id MaterialID, quantity decimal.Decimal,
	performedBy, description string) (*Material, error) {

	if quantity.IsNegative() {
		return nil, e.reject(OpSetMaterialQuantity, invalid("quantity", "must not be negative"))
	}
	var m *Material
	err := e.run(ctx, OpSetMaterialQuantity, func(u *unit) error {
		cur, err := u.material(ctx, id)
		if err != nil {
			return err
		}
		if _, err := u.stock.ApplyDelta(ctx, id, quantity.Sub(cur.Quantity), ChangeAdjustment, performedBy, description); err != nil {
			return err
		}
		m, err = u.store.GetMaterial(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// =============================================================================
// CATALOG
// =============================================================================

// CreateWork registers a work. Name must be unique.
func (e *Engine) CreateWork(ctx context.Context, w Work) (*Work, error) {
	if err := validateWork(w); err != nil {
		return nil, e.reject(OpCreateWork, err)
	}
	w.CreatedAt = e.now()
	err := e.run(ctx, OpCreateWork, func(u *unit) error {
		id, err := u.store.InsertWork(ctx, w)
		w.ID = id
		return err
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("work created", "work_id", w.ID, "name", w.Name)
	return &w, nil
}

// UpdateWork rewrites a work's descriptive fields. The balance can only be
// changed through AddWorkBalance and reports, so w.Balance is ignored.
func (e *Engine) UpdateWork(ctx context.Context, w Work) (*Work, error) {
	if err := validateWork(w); err != nil {
		return nil, e.reject(OpUpdateWork, err)
	}
	var out *Work
	err := e.run(ctx, OpUpdateWork, func(u *unit) error {
		cur, err := u.work(ctx, w.ID)
		if err != nil {
			return err
		}
		w.Balance = cur.Balance
		w.CreatedAt = cur.CreatedAt
		if err := u.store.UpdateWork(ctx, w); err != nil {
			return err
		}
		out = &w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteWork removes a work and its BOM. A work that still has reports
// cannot be deleted; delete the reports first so their debits are reversed.
func (e *Engine) DeleteWork(ctx context.Context, id WorkID) error {
	return e.run(ctx, OpDeleteWork, func(u *unit) error {
		if _, err := u.work(ctx, id); err != nil {
			return err
		}
		reports, err := u.store.ListReports(ctx, ReportFilter{WorkID: &id, Limit: 1})
		if err != nil {
			return err
		}
		if len(reports) > 0 {
			return invalid("work_id", "work has reports")
		}
		return u.store.DeleteWork(ctx, id)
	})
}

// CreateMaterial registers a material. Its initial quantity is written
// through the stock ledger as a creation row so history replays from zero.
func (e *Engine) CreateMaterial(ctx context.Context, m Material, performedBy string) (*Material, error) {
	if err := validateMaterial(m); err != nil {
		return nil, e.reject(OpCreateMaterial, err)
	}
	initial := m.Quantity
	if m.TotalCost.IsZero() {
		m.TotalCost = m.UnitCost.Mul(initial)
	}
	m.Quantity = decimal.Zero
	m.CreatedAt = e.now()

	err := e.run(ctx, OpCreateMaterial, func(u *unit) error {
		id, err := u.store.InsertMaterial(ctx, m)
		if err != nil {
			return err
		}
		m.ID = id
		m.Quantity, err = u.stock.ApplyDelta(ctx, id, initial, ChangeCreation, performedBy, "material created")
		return err
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("material created", "material_id", m.ID, "name", m.Name, "quantity", m.Quantity.String())
	return &m, nil
}

// SetMaterialPricing sets the unit cost and recomputes the total cost from
// the current quantity.
func (e *Engine) SetMaterialPricing(ctx context.Context, id MaterialID, unitCost decimal.Decimal) (*Material, error) {
	if unitCost.IsNegative() {
		return nil, e.reject(OpSetMaterialPricing, invalid("unit_cost", "must not be negative"))
	}
	var m *Material
	err := e.run(ctx, OpSetMaterialPricing, func(u *unit) error {
		var err error
		if m, err = u.material(ctx, id); err != nil {
			return err
		}
		m.UnitCost = unitCost
		m.TotalCost = unitCost.Mul(m.Quantity)
		return u.store.SetMaterialPricing(ctx, id, m.UnitCost, m.TotalCost)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// UpdateMaterial rewrites a material's descriptive fields and unit cost.
// Stock only moves through the stock ledger, so m.Quantity is ignored and
// the total cost is recomputed from the current quantity.
func (e *Engine) UpdateMaterial(ctx context.Context, m Material) (*Material, error) {
	m.Quantity = decimal.Zero
	if err := validateMaterial(m); err != nil {
		return nil, e.reject(OpUpdateMaterial, err)
	}
	var out *Material
	err := e.run(ctx, OpUpdateMaterial, func(u *unit) error {
		cur, err := u.material(ctx, m.ID)
		if err != nil {
			return err
		}
		m.Quantity = cur.Quantity
		m.CreatedAt = cur.CreatedAt
		m.TotalCost = m.UnitCost.Mul(cur.Quantity)
		if err := u.store.UpdateMaterial(ctx, m); err != nil {
			return err
		}
		out = &m
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("material updated", "material_id", m.ID, "name", m.Name, "active", m.IsActive)
	return out, nil
}

// DeleteMaterial removes a material together with its BOM edges and
// history. Reports already filed are not re-priced.
func (e *Engine) DeleteMaterial(ctx context.Context, id MaterialID) error {
	return e.run(ctx, OpDeleteMaterial, func(u *unit) error {
		if _, err := u.material(ctx, id); err != nil {
			return err
		}
		return u.store.DeleteMaterial(ctx, id)
	})
}

// SetRequirements replaces a work's bill of materials. Lines with a zero
// rate are dropped. Returns the resolved BOM.
//
// Reversals credit stock at the BOM current when the report is deleted, so
// the BOM is frozen while any report references the work.
func (e *Engine) SetRequirements(ctx context.Context, workID WorkID, lines []BOMLine) ([]Requirement, error) {
	seen := make(map[MaterialID]bool, len(lines))
	kept := make([]BOMLine, 0, len(lines))
	for _, l := range lines {
		switch {
		case l.MaterialID <= 0:
			return nil, e.reject(OpSetRequirements, invalid("material_id", "must be positive"))
		case l.QuantityPerUnit.IsNegative():
			return nil, e.reject(OpSetRequirements, invalid("quantity_per_unit", "must not be negative"))
		case seen[l.MaterialID]:
			return nil, e.reject(OpSetRequirements, invalid("material_id", "duplicate material in BOM"))
		}
		seen[l.MaterialID] = true
		if l.QuantityPerUnit.IsPositive() {
			kept = append(kept, l)
		}
	}

	var reqs []Requirement
	err := e.run(ctx, OpSetRequirements, func(u *unit) error {
		if _, err := u.work(ctx, workID); err != nil {
			return err
		}
		reports, err := u.store.ListReports(ctx, ReportFilter{WorkID: &workID, Limit: 1})
		if err != nil {
			return err
		}
		if len(reports) > 0 {
			return invalid("work_id", "work has reports")
		}
		for _, l := range kept {
			if _, err := u.material(ctx, l.MaterialID); err != nil {
				return err
			}
		}
		if err := u.store.ReplaceRequirements(ctx, workID, kept); err != nil {
			return err
		}
		reqs, err = u.bom.Requirements(ctx, workID)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("work requirements replaced", "work_id", workID, "lines", len(reqs))
	return reqs, nil
}

// RegisterForeman creates or updates a foreman keyed by Telegram user id.
func (e *Engine) RegisterForeman(ctx context.Context, f Foreman) (*Foreman, error) {
	if f.ID == 0 {
		return nil, e.reject(OpRegisterForeman, invalid("id", "required"))
	}
	if strings.TrimSpace(f.FullName) == "" {
		return nil, e.reject(OpRegisterForeman, invalid("full_name", "required"))
	}
	err := e.run(ctx, OpRegisterForeman, func(u *unit) error {
		existing, err := u.store.GetForeman(ctx, f.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			f.RegisteredAt = existing.RegisteredAt
		} else {
			f.RegisteredAt = e.now()
		}
		return u.store.SaveForeman(ctx, f)
	})
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// Requirements resolves a work's BOM outside of any mutation.
func (e *Engine) Requirements(ctx context.Context, workID WorkID) ([]Requirement, error) {
	w, err := e.store.GetWork(ctx, workID)
	if err != nil {
		return nil, &StorageError{Op: "requirements", Err: err}
	}
	if w == nil {
		return nil, &NotFoundError{Entity: EntityWork, ID: int64(workID)}
	}
	reqs, err := NewResolver(e.store).Requirements(ctx, workID)
	if err != nil {
		return nil, &StorageError{Op: "requirements", Err: err}
	}
	return reqs, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (u *unit) work(ctx context.Context, id WorkID) (*Work, error) {
	w, err := u.store.GetWork(ctx, id)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, &NotFoundError{Entity: EntityWork, ID: int64(id)}
	}
	return w, nil
}

func (u *unit) material(ctx context.Context, id MaterialID) (*Material, error) {
	m, err := u.store.GetMaterial(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, &NotFoundError{Entity: EntityMaterial, ID: int64(id)}
	}
	return m, nil
}

func validateWork(w Work) error {
	switch {
	case strings.TrimSpace(w.Name) == "":
		return invalid("name", "required")
	case strings.TrimSpace(w.Unit) == "":
		return invalid("unit", "required")
	case w.Balance.IsNegative():
		return invalid("balance", "must not be negative")
	case w.ProjectTotal.IsNegative():
		return invalid("project_total", "must not be negative")
	case w.UnitCost.IsNegative(), w.TotalCost.IsNegative():
		return invalid("cost", "must not be negative")
	}
	return nil
}

func validateMaterial(m Material) error {
	switch {
	case strings.TrimSpace(m.Name) == "":
		return invalid("name", "required")
	case strings.TrimSpace(m.Unit) == "":
		return invalid("unit", "required")
	case m.Quantity.IsNegative():
		return invalid("quantity", "must not be negative")
	case m.UnitCost.IsNegative(), m.TotalCost.IsNegative():
		return invalid("cost", "must not be negative")
	}
	return nil
}
