/*
engine.go - Report transaction engine

PURPOSE:
  Orchestrates every mutation of the ledger. A work report debits its
  work's balance by the reported quantity and every BOM material by
  quantity x quantity_per_unit. Editing or deleting a report first
  credits back exactly what was debited.

UNIT OF WORK:
  Each public operation is one TxStore.WithTx call. Inside it the engine
  builds fresh ledgers over the transactional Store, so every read
  (balance check, BOM resolution) sees the state that will be mutated.
  Any error returned from the callback rolls back everything, including
  a reversal already applied during an update.

CREATE:
  1. Load foreman and work
  2. Check balance >= quantity
  3. Resolve the BOM and check every requirement (read-only)
  4. Insert the report
  5. Debit the balance, then each material with required > 0

UPDATE (reverse then reapply):
  1. Load the report
  2. Credit the old work's balance and old BOM materials (reversal rows)
  3. Run CREATE steps 2-5 for the new work and quantity against the
     post-reversal state
  4. Overwrite the report row

  Updates always reverse fully, even when the work and quantity are
  unchanged. The audit trail then shows a reversal row followed by a
  consumption row that cancel out.

DELETE:
  Credit balance and materials (reversal rows), then remove the row.

ERRORS:
  Ledger errors (not found, insufficiency, invalid input, conflict) pass
  through unchanged. Anything else is wrapped in StorageError so callers
  can classify it with KindOf.

SEE ALSO:
  - stock.go, balance.go, bom.go: The ledgers the engine drives
  - admin.go: Catalog and administrative operations
*/
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ENGINE
// =============================================================================

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

// Operation names an engine entry point for logs and metrics.
type Operation string

const (
	OpCreateReport        Operation = "create_report"
	OpUpdateReport        Operation = "update_report"
	OpDeleteReport        Operation = "delete_report"
	OpVerifyReport        Operation = "verify_report"
	OpAddWorkBalance      Operation = "add_work_balance"
	OpAddMaterialQuantity Operation = "add_material_quantity"
	OpSetMaterialQuantity Operation = "set_material_quantity"
	OpSetMaterialPricing  Operation = "set_material_pricing"
	OpCreateMaterial      Operation = "create_material"
	OpUpdateMaterial      Operation = "update_material"
	OpDeleteMaterial      Operation = "delete_material"
	OpCreateWork          Operation = "create_work"
	OpUpdateWork          Operation = "update_work"
	OpDeleteWork          Operation = "delete_work"
	OpSetRequirements     Operation = "set_requirements"
	OpRegisterForeman     Operation = "register_foreman"
)

// Observer is told about every finished operation. Committed receives the
// stock moves of the unit of work only after it has committed.
type Observer interface {
	Committed(op Operation, moves []StockMove)
	Rejected(op Operation, kind Kind)
}

type nopObserver struct{}

func (nopObserver) Committed(Operation, []StockMove) {}
func (nopObserver) Rejected(Operation, Kind)         {}

type Engine struct {
	store    TxStore
	log      *slog.Logger
	observer Observer
	now      Clock
}

type Option func(*Engine)

func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

func WithClock(c Clock) Option {
	return func(e *Engine) { e.now = c }
}

func NewEngine(store TxStore, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		log:      slog.Default(),
		observer: nopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// unit bundles the ledgers of one unit of work. All of them share the
// transactional Store.
type unit struct {
	store   Store
	stock   *StockLedger
	balance *WorkBalanceLedger
	bom     *Resolver
}

func (e *Engine) run(ctx context.Context, op Operation, fn func(u *unit) error) error {
	var moves []StockMove
	err := e.store.WithTx(ctx, func(s Store) error {
		u := &unit{
			store:   s,
			stock:   NewStockLedger(s, e.now),
			balance: NewWorkBalanceLedger(s),
			bom:     NewResolver(s),
		}
		if err := fn(u); err != nil {
			return err
		}
		moves = u.stock.Moves()
		return nil
	})
	if err != nil {
		return e.reject(op, err)
	}
	e.observer.Committed(op, moves)
	return nil
}

func (e *Engine) reject(op Operation, err error) error {
	kind := KindOf(err)
	if kind == KindUnknown {
		err = &StorageError{Op: string(op), Err: err}
		kind = KindStorage
	}
	if kind == KindStorage {
		e.log.Error("ledger operation failed", "op", op, "err", err)
	} else {
		e.log.Warn("ledger operation rejected", "op", op, "kind", kind.String(), "err", err)
	}
	e.observer.Rejected(op, kind)
	return err
}

// =============================================================================
// REPORT OPERATIONS
// =============================================================================

type CreateReportInput struct {
	ForemanID ForemanID
	WorkID    WorkID
	Quantity  decimal.Decimal
	// ReportDate and ReportTime default to the engine clock when empty.
	ReportDate string
	ReportTime string
	PhotoURL   string
}

// UpdateReportInput carries the new state of a report. Empty date/time and
// nil pointers keep the stored value.
type UpdateReportInput struct {
	WorkID     WorkID
	Quantity   decimal.Decimal
	ReportDate string
	ReportTime string
	PhotoURL   *string
	ForemanID  *ForemanID
}

// CreateReport records completed work and debits balance and stock.
func (e *Engine) CreateReport(ctx context.Context, in CreateReportInput) (*Report, error) {
	now := e.now()
	if in.ReportDate == "" {
		in.ReportDate = now.Format(DateLayout)
	}
	if in.ReportTime == "" {
		in.ReportTime = now.Format(TimeLayout)
	}
	if err := validateReport(in.Quantity, in.ReportDate, in.ReportTime); err != nil {
		return nil, e.reject(OpCreateReport, err)
	}

	r := Report{
		ForemanID:  in.ForemanID,
		WorkID:     in.WorkID,
		Quantity:   in.Quantity,
		ReportDate: in.ReportDate,
		ReportTime: in.ReportTime,
		PhotoURL:   in.PhotoURL,
		CreatedAt:  now,
	}
	err := e.run(ctx, OpCreateReport, func(u *unit) error {
		f, err := u.foreman(ctx, in.ForemanID)
		if err != nil {
			return err
		}
		w, reqs, err := u.check(ctx, in.WorkID, in.Quantity)
		if err != nil {
			return err
		}
		id, err := u.store.InsertReport(ctx, r)
		if err != nil {
			return err
		}
		r.ID = id
		return u.debit(ctx, w, reqs, in.Quantity, f.DisplayName(), consumptionNote(id))
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("report created", "report_id", r.ID, "work_id", r.WorkID,
		"foreman_id", r.ForemanID, "quantity", r.Quantity.String())
	return &r, nil
}

// UpdateReport replaces a report by reversing its effect and applying the
// new one in the same unit of work.
func (e *Engine) UpdateReport(ctx context.Context, id ReportID, in UpdateReportInput) (*Report, error) {
	if err := validateReport(in.Quantity, in.ReportDate, in.ReportTime); err != nil {
		return nil, e.reject(OpUpdateReport, err)
	}

	var updated Report
	err := e.run(ctx, OpUpdateReport, func(u *unit) error {
		old, err := u.report(ctx, id)
		if err != nil {
			return err
		}
		oldActor, err := u.actor(ctx, old.ForemanID)
		if err != nil {
			return err
		}
		if err := u.reverse(ctx, old, fmt.Sprintf("%s (report %d correction)", oldActor, id)); err != nil {
			return err
		}

		updated = *old
		updated.WorkID = in.WorkID
		updated.Quantity = in.Quantity
		if in.ReportDate != "" {
			updated.ReportDate = in.ReportDate
		}
		if in.ReportTime != "" {
			updated.ReportTime = in.ReportTime
		}
		if in.PhotoURL != nil {
			updated.PhotoURL = *in.PhotoURL
		}
		if in.ForemanID != nil {
			updated.ForemanID = *in.ForemanID
		}

		f, err := u.foreman(ctx, updated.ForemanID)
		if err != nil {
			return err
		}
		w, reqs, err := u.check(ctx, updated.WorkID, updated.Quantity)
		if err != nil {
			return err
		}
		if err := u.debit(ctx, w, reqs, updated.Quantity, f.DisplayName(), consumptionNote(id)); err != nil {
			return err
		}
		return u.store.UpdateReport(ctx, updated)
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("report updated", "report_id", id, "work_id", updated.WorkID,
		"quantity", updated.Quantity.String())
	return &updated, nil
}

// DeleteReport removes a report and credits back everything it debited.
func (e *Engine) DeleteReport(ctx context.Context, id ReportID) error {
	err := e.run(ctx, OpDeleteReport, func(u *unit) error {
		old, err := u.report(ctx, id)
		if err != nil {
			return err
		}
		actor, err := u.actor(ctx, old.ForemanID)
		if err != nil {
			return err
		}
		if err := u.reverse(ctx, old, fmt.Sprintf("%s (report %d deletion)", actor, id)); err != nil {
			return err
		}
		return u.store.DeleteReport(ctx, id)
	})
	if err != nil {
		return err
	}

	e.log.Info("report deleted", "report_id", id)
	return nil
}

// SetVerified flips the verification flag. Balances and stock are untouched.
func (e *Engine) SetVerified(ctx context.Context, id ReportID, verified bool) (*Report, error) {
	var r *Report
	err := e.run(ctx, OpVerifyReport, func(u *unit) error {
		var err error
		if r, err = u.report(ctx, id); err != nil {
			return err
		}
		r.IsVerified = verified
		return u.store.SetReportVerified(ctx, id, verified)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// =============================================================================
// UNIT STEPS
// =============================================================================

func (u *unit) report(ctx context.Context, id ReportID) (*Report, error) {
	r, err := u.store.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, &NotFoundError{Entity: EntityReport, ID: int64(id)}
	}
	return r, nil
}

func (u *unit) foreman(ctx context.Context, id ForemanID) (*Foreman, error) {
	f, err := u.store.GetForeman(ctx, id)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, &NotFoundError{Entity: EntityForeman, ID: int64(id)}
	}
	return f, nil
}

// actor names the foreman behind an existing report. A foreman removed
// since the report was filed still gets an id-based label.
func (u *unit) actor(ctx context.Context, id ForemanID) (string, error) {
	f, err := u.store.GetForeman(ctx, id)
	if err != nil {
		return "", err
	}
	if f == nil {
		return Foreman{ID: id}.DisplayName(), nil
	}
	return f.DisplayName(), nil
}

// check validates that qty units of the work can be covered. It performs
// no writes. The first shortfall in BOM order is reported.
func (u *unit) check(ctx context.Context, workID WorkID, qty decimal.Decimal) (*Work, []Requirement, error) {
	w, err := u.store.GetWork(ctx, workID)
	if err != nil {
		return nil, nil, err
	}
	if w == nil {
		return nil, nil, &NotFoundError{Entity: EntityWork, ID: int64(workID)}
	}
	if w.Balance.LessThan(qty) {
		return nil, nil, &InsufficientBalanceError{
			WorkID:    w.ID,
			WorkName:  w.Name,
			Available: w.Balance,
			Requested: qty,
		}
	}

	reqs, err := u.bom.Requirements(ctx, workID)
	if err != nil {
		return nil, nil, err
	}
	for _, req := range reqs {
		required := req.Required(qty)
		if !required.IsPositive() {
			continue
		}
		if req.Available.LessThan(required) {
			return nil, nil, &InsufficientMaterialError{
				MaterialID:   req.MaterialID,
				MaterialName: req.MaterialName,
				Available:    req.Available,
				Required:     required,
			}
		}
	}
	return w, reqs, nil
}

func (u *unit) debit(ctx context.Context, w *Work, reqs []Requirement, qty decimal.Decimal, actor, note string) error {
	if _, err := u.balance.ApplyDelta(ctx, w.ID, qty.Neg()); err != nil {
		return err
	}
	for _, req := range reqs {
		required := req.Required(qty)
		if !required.IsPositive() {
			continue
		}
		if _, err := u.stock.ApplyDelta(ctx, req.MaterialID, required.Neg(), ChangeConsumption, actor, note); err != nil {
			return err
		}
	}
	return nil
}

// reverse credits back the effect of r using the work's current BOM.
func (u *unit) reverse(ctx context.Context, r *Report, actor string) error {
	if _, err := u.balance.ApplyDelta(ctx, r.WorkID, r.Quantity); err != nil {
		return err
	}
	reqs, err := u.bom.Requirements(ctx, r.WorkID)
	if err != nil {
		return err
	}
	note := fmt.Sprintf("reversal of report ID %d", r.ID)
	for _, req := range reqs {
		required := req.Required(r.Quantity)
		if !required.IsPositive() {
			continue
		}
		if _, err := u.stock.ApplyDelta(ctx, req.MaterialID, required, ChangeReversal, actor, note); err != nil {
			return err
		}
	}
	return nil
}

func consumptionNote(id ReportID) string {
	return fmt.Sprintf("consumption for report ID %d", id)
}

// validateReport checks a report's quantity and, when set, its date and time.
func validateReport(qty decimal.Decimal, date, tm string) error {
	if !qty.IsPositive() {
		return invalid("quantity", "must be greater than zero")
	}
	if date != "" {
		if _, err := time.Parse(DateLayout, date); err != nil {
			return invalid("report_date", "expected YYYY-MM-DD")
		}
	}
	if tm != "" {
		if _, err := time.Parse(TimeLayout, tm); err != nil {
			return invalid("report_time", "expected HH:MM:SS")
		}
	}
	return nil
}
