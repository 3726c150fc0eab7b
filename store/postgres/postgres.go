/*
Package postgres provides a PostgreSQL-backed implementation of ledger.TxStore.

PURPOSE:
  Multi-user deployments where the HTTP API and the Telegram bot run as
  separate processes against one database.

SCHEMA:
  Managed by goose. Migrations are embedded and applied by Migrate().
  Amounts are NUMERIC; they are read back as text and parsed into
  decimal.Decimal so no float ever touches a quantity.

ISOLATION:
  WithTx runs at SERIALIZABLE and locks the work and material rows it
  reads (SELECT ... FOR UPDATE). Two reports racing for the last bag of
  cement serialize on the material row; the loser sees the debited
  quantity and fails with InsufficientMaterial. Serialization failures
  surface as StorageError and are safe to retry.

SEE ALSO:
  - store/sqlite: Single-file backend with the same schema
  - ledger/store.go: Interface definitions
*/
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/stroykontrol/build-report/ledger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies all pending migrations to the database at dsn.
func Migrate(dsn string) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	sqlDB, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		return err
	}
	defer func() { _ = sqlDB.Close() }()
	return goose.Up(sqlDB, "migrations")
}

// Store implements ledger.TxStore using a pgx connection pool.
type Store struct {
	*queries
	pool *pgxpool.Pool
}

// Connect opens a pool and verifies the server is reachable.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{queries: &queries{q: pool}, pool: pool}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Reset empties every table. Used by tests sharing one database.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		TRUNCATE work_reports, foremen, material_history, work_materials, materials, works
		RESTART IDENTITY CASCADE`)
	return err
}

// WithTx executes fn in a SERIALIZABLE transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&queries{q: tx, lock: true}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	q querier
	// lock adds FOR UPDATE to single-row reads inside a transaction.
	lock bool
}

func (s *queries) forUpdate() string {
	if s.lock {
		return " FOR UPDATE"
	}
	return ""
}

// =============================================================================
// WORKS
// =============================================================================

const workColumns = `id, name, category, unit, balance::text, project_total::text,
	unit_cost::text, total_cost::text, is_active, created_at`

func (s *queries) GetWork(ctx context.Context, id ledger.WorkID) (*ledger.Work, error) {
	row := s.q.QueryRow(ctx, "SELECT "+workColumns+" FROM works WHERE id = $1"+s.forUpdate(), id)
	w, err := scanWork(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *queries) ListWorks(ctx context.Context, activeOnly bool) ([]ledger.Work, error) {
	query := "SELECT " + workColumns + " FROM works"
	if activeOnly {
		query += " WHERE is_active"
	}
	rows, err := s.q.Query(ctx, query+" ORDER BY category, name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	works := []ledger.Work{}
	for rows.Next() {
		w, err := scanWork(rows)
		if err != nil {
			return nil, err
		}
		works = append(works, w)
	}
	return works, rows.Err()
}

func (s *queries) InsertWork(ctx context.Context, w ledger.Work) (ledger.WorkID, error) {
	var id ledger.WorkID
	err := s.q.QueryRow(ctx, `
		INSERT INTO works (name, category, unit, balance, project_total, unit_cost, total_cost, is_active, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8, $9)
		RETURNING id
	`, w.Name, w.Category, w.Unit, w.Balance.String(), w.ProjectTotal.String(),
		w.UnitCost.String(), w.TotalCost.String(), w.IsActive, stamp(w.CreatedAt)).Scan(&id)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("%w: work %q already exists", ledger.ErrConflict, w.Name)
	}
	return id, err
}

func (s *queries) UpdateWork(ctx context.Context, w ledger.Work) error {
	_, err := s.q.Exec(ctx, `
		UPDATE works SET name = $1, category = $2, unit = $3, project_total = $4::numeric,
			unit_cost = $5::numeric, total_cost = $6::numeric, is_active = $7
		WHERE id = $8
	`, w.Name, w.Category, w.Unit, w.ProjectTotal.String(),
		w.UnitCost.String(), w.TotalCost.String(), w.IsActive, w.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: work %q already exists", ledger.ErrConflict, w.Name)
	}
	return err
}

func (s *queries) SetWorkBalance(ctx context.Context, id ledger.WorkID, balance decimal.Decimal) error {
	_, err := s.q.Exec(ctx, "UPDATE works SET balance = $1::numeric WHERE id = $2", balance.String(), id)
	return err
}

func (s *queries) DeleteWork(ctx context.Context, id ledger.WorkID) error {
	_, err := s.q.Exec(ctx, "DELETE FROM works WHERE id = $1", id)
	return err
}

// =============================================================================
// MATERIALS
// =============================================================================

const materialColumns = `id, category, name, unit, quantity::text, unit_cost::text,
	total_cost::text, is_active, created_at`

func (s *queries) GetMaterial(ctx context.Context, id ledger.MaterialID) (*ledger.Material, error) {
	row := s.q.QueryRow(ctx, "SELECT "+materialColumns+" FROM materials WHERE id = $1"+s.forUpdate(), id)
	m, err := scanMaterial(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *queries) ListMaterials(ctx context.Context, activeOnly bool) ([]ledger.Material, error) {
	query := "SELECT " + materialColumns + " FROM materials"
	if activeOnly {
		query += " WHERE is_active"
	}
	rows, err := s.q.Query(ctx, query+" ORDER BY category, name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	materials := []ledger.Material{}
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, err
		}
		materials = append(materials, m)
	}
	return materials, rows.Err()
}

func (s *queries) InsertMaterial(ctx context.Context, m ledger.Material) (ledger.MaterialID, error) {
	var id ledger.MaterialID
	err := s.q.QueryRow(ctx, `
		INSERT INTO materials (category, name, unit, quantity, unit_cost, total_cost, is_active, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7, $8)
		RETURNING id
	`, m.Category, m.Name, m.Unit, m.Quantity.String(), m.UnitCost.String(),
		m.TotalCost.String(), m.IsActive, stamp(m.CreatedAt)).Scan(&id)
	return id, err
}

func (s *queries) SetMaterialQuantity(ctx context.Context, id ledger.MaterialID, qty decimal.Decimal) error {
	_, err := s.q.Exec(ctx, "UPDATE materials SET quantity = $1::numeric WHERE id = $2", qty.String(), id)
	return err
}

func (s *queries) SetMaterialPricing(ctx context.Context, id ledger.MaterialID, unitCost, totalCost decimal.Decimal) error {
	_, err := s.q.Exec(ctx, "UPDATE materials SET unit_cost = $1::numeric, total_cost = $2::numeric WHERE id = $3",
		unitCost.String(), totalCost.String(), id)
	return err
}

func (s *queries) UpdateMaterial(ctx context.Context, m ledger.Material) error {
	_, err := s.q.Exec(ctx, `
		UPDATE materials SET category = $1, name = $2, unit = $3,
			unit_cost = $4::numeric, total_cost = $5::numeric, is_active = $6
		WHERE id = $7
	`, m.Category, m.Name, m.Unit, m.UnitCost.String(), m.TotalCost.String(), m.IsActive, m.ID)
	return err
}

func (s *queries) DeleteMaterial(ctx context.Context, id ledger.MaterialID) error {
	// BOM edges and history go with it via ON DELETE CASCADE
	_, err := s.q.Exec(ctx, "DELETE FROM materials WHERE id = $1", id)
	return err
}

// =============================================================================
// MATERIAL HISTORY
// =============================================================================

const historySelect = `
	SELECT h.id, h.material_id, COALESCE(m.name, ''), h.change_amount::text, h.resulting_quantity::text,
		h.change_type, h.performed_by, h.description, h.created_at
	FROM material_history h
	LEFT JOIN materials m ON m.id = h.material_id`

func (s *queries) AppendHistory(ctx context.Context, e ledger.HistoryEntry) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO material_history
		(material_id, change_amount, resulting_quantity, change_type, performed_by, description, created_at)
		VALUES ($1, $2::numeric, $3::numeric, $4, $5, $6, $7)
		RETURNING id
	`, e.MaterialID, e.ChangeAmount.String(), e.ResultingQuantity.String(),
		string(e.ChangeType), e.PerformedBy, e.Description, stamp(e.CreatedAt)).Scan(&id)
	return id, err
}

func (s *queries) MaterialHistory(ctx context.Context, id ledger.MaterialID) ([]ledger.HistoryEntry, error) {
	return s.queryHistory(ctx, historySelect+" WHERE h.material_id = $1 ORDER BY h.id", id)
}

func (s *queries) ListHistory(ctx context.Context, f ledger.HistoryFilter) ([]ledger.HistoryEntry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = ledger.DefaultHistoryLimit
	}
	if f.MaterialID != nil {
		return s.queryHistory(ctx,
			historySelect+" WHERE h.material_id = $1 ORDER BY h.created_at DESC, h.id DESC LIMIT $2",
			*f.MaterialID, limit)
	}
	return s.queryHistory(ctx, historySelect+" ORDER BY h.created_at DESC, h.id DESC LIMIT $1", limit)
}

func (s *queries) queryHistory(ctx context.Context, query string, args ...any) ([]ledger.HistoryEntry, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []ledger.HistoryEntry{}
	for rows.Next() {
		var e ledger.HistoryEntry
		var change, resulting, changeType string
		if err := rows.Scan(&e.ID, &e.MaterialID, &e.MaterialName, &change, &resulting,
			&changeType, &e.PerformedBy, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		if e.ChangeAmount, err = parseDecimal(change); err != nil {
			return nil, err
		}
		if e.ResultingQuantity, err = parseDecimal(resulting); err != nil {
			return nil, err
		}
		e.ChangeType = ledger.ChangeType(changeType)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// BILL OF MATERIALS
// =============================================================================

func (s *queries) Requirements(ctx context.Context, workID ledger.WorkID) ([]ledger.Requirement, error) {
	rows, err := s.q.Query(ctx, `
		SELECT wm.material_id, wm.quantity_per_unit::text, m.name, m.unit, m.quantity::text
		FROM work_materials wm
		JOIN materials m ON m.id = wm.material_id
		WHERE wm.work_id = $1
		ORDER BY wm.material_id
	`, workID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reqs := []ledger.Requirement{}
	for rows.Next() {
		var r ledger.Requirement
		var qpu, available string
		if err := rows.Scan(&r.MaterialID, &qpu, &r.MaterialName, &r.Unit, &available); err != nil {
			return nil, err
		}
		if r.QuantityPerUnit, err = parseDecimal(qpu); err != nil {
			return nil, err
		}
		if r.Available, err = parseDecimal(available); err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}

func (s *queries) ReplaceRequirements(ctx context.Context, workID ledger.WorkID, lines []ledger.BOMLine) error {
	if _, err := s.q.Exec(ctx, "DELETE FROM work_materials WHERE work_id = $1", workID); err != nil {
		return err
	}
	for _, l := range lines {
		if _, err := s.q.Exec(ctx,
			"INSERT INTO work_materials (work_id, material_id, quantity_per_unit) VALUES ($1, $2, $3::numeric)",
			workID, l.MaterialID, l.QuantityPerUnit.String(),
		); err != nil {
			return fmt.Errorf("failed to insert requirement: %w", err)
		}
	}
	return nil
}

// =============================================================================
// FOREMEN
// =============================================================================

const foremanColumns = `id, full_name, position, username, registered_at, is_active`

func (s *queries) GetForeman(ctx context.Context, id ledger.ForemanID) (*ledger.Foreman, error) {
	var f ledger.Foreman
	err := s.q.QueryRow(ctx, "SELECT "+foremanColumns+" FROM foremen WHERE id = $1", id).
		Scan(&f.ID, &f.FullName, &f.Position, &f.Username, &f.RegisteredAt, &f.IsActive)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *queries) ListForemen(ctx context.Context) ([]ledger.Foreman, error) {
	rows, err := s.q.Query(ctx, "SELECT "+foremanColumns+" FROM foremen ORDER BY full_name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	foremen := []ledger.Foreman{}
	for rows.Next() {
		var f ledger.Foreman
		if err := rows.Scan(&f.ID, &f.FullName, &f.Position, &f.Username, &f.RegisteredAt, &f.IsActive); err != nil {
			return nil, err
		}
		foremen = append(foremen, f)
	}
	return foremen, rows.Err()
}

func (s *queries) SaveForeman(ctx context.Context, f ledger.Foreman) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO foremen (id, full_name, position, username, registered_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			position = EXCLUDED.position,
			username = EXCLUDED.username,
			is_active = EXCLUDED.is_active
	`, f.ID, f.FullName, f.Position, f.Username, stamp(f.RegisteredAt), f.IsActive)
	return err
}

// =============================================================================
// REPORTS
// =============================================================================

const reportColumns = `id, foreman_id, work_id, quantity::text, to_char(report_date, 'YYYY-MM-DD'),
	to_char(report_time, 'HH24:MI:SS'), photo_report_url, is_verified, created_at`

func (s *queries) GetReport(ctx context.Context, id ledger.ReportID) (*ledger.Report, error) {
	reports, err := s.queryReports(ctx, "SELECT "+reportColumns+" FROM work_reports WHERE id = $1", id)
	if err != nil || len(reports) == 0 {
		return nil, err
	}
	return &reports[0], nil
}

func (s *queries) ListReports(ctx context.Context, f ledger.ReportFilter) ([]ledger.Report, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.ForemanID != nil {
		where = append(where, "foreman_id = "+arg(*f.ForemanID))
	}
	if f.WorkID != nil {
		where = append(where, "work_id = "+arg(*f.WorkID))
	}
	if f.DateFrom != "" {
		where = append(where, "report_date >= "+arg(f.DateFrom)+"::date")
	}
	if f.DateTo != "" {
		where = append(where, "report_date <= "+arg(f.DateTo)+"::date")
	}
	if f.VerifiedOnly {
		where = append(where, "is_verified")
	}

	query := "SELECT " + reportColumns + " FROM work_reports"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY report_date DESC, report_time DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	return s.queryReports(ctx, query, args...)
}

func (s *queries) queryReports(ctx context.Context, query string, args ...any) ([]ledger.Report, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reports := []ledger.Report{}
	for rows.Next() {
		var r ledger.Report
		var qty string
		if err := rows.Scan(&r.ID, &r.ForemanID, &r.WorkID, &qty, &r.ReportDate, &r.ReportTime,
			&r.PhotoURL, &r.IsVerified, &r.CreatedAt); err != nil {
			return nil, err
		}
		if r.Quantity, err = parseDecimal(qty); err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

func (s *queries) InsertReport(ctx context.Context, r ledger.Report) (ledger.ReportID, error) {
	var id ledger.ReportID
	err := s.q.QueryRow(ctx, `
		INSERT INTO work_reports
		(foreman_id, work_id, quantity, report_date, report_time, photo_report_url, is_verified, created_at)
		VALUES ($1, $2, $3::numeric, $4::date, $5::time, $6, $7, $8)
		RETURNING id
	`, r.ForemanID, r.WorkID, r.Quantity.String(), r.ReportDate, r.ReportTime,
		r.PhotoURL, r.IsVerified, stamp(r.CreatedAt)).Scan(&id)
	return id, err
}

func (s *queries) UpdateReport(ctx context.Context, r ledger.Report) error {
	_, err := s.q.Exec(ctx, `
		UPDATE work_reports SET foreman_id = $1, work_id = $2, quantity = $3::numeric,
			report_date = $4::date, report_time = $5::time, photo_report_url = $6, is_verified = $7
		WHERE id = $8
	`, r.ForemanID, r.WorkID, r.Quantity.String(), r.ReportDate, r.ReportTime,
		r.PhotoURL, r.IsVerified, r.ID)
	return err
}

func (s *queries) DeleteReport(ctx context.Context, id ledger.ReportID) error {
	_, err := s.q.Exec(ctx, "DELETE FROM work_reports WHERE id = $1", id)
	return err
}

func (s *queries) SetReportVerified(ctx context.Context, id ledger.ReportID, verified bool) error {
	_, err := s.q.Exec(ctx, "UPDATE work_reports SET is_verified = $1 WHERE id = $2", verified, id)
	return err
}

// =============================================================================
// SCANNING
// =============================================================================

func scanWork(row pgx.Row) (ledger.Work, error) {
	var w ledger.Work
	var balance, total, unitCost, totalCost string
	err := row.Scan(&w.ID, &w.Name, &w.Category, &w.Unit, &balance, &total,
		&unitCost, &totalCost, &w.IsActive, &w.CreatedAt)
	if err != nil {
		return w, err
	}
	if w.Balance, err = parseDecimal(balance); err != nil {
		return w, err
	}
	if w.ProjectTotal, err = parseDecimal(total); err != nil {
		return w, err
	}
	if w.UnitCost, err = parseDecimal(unitCost); err != nil {
		return w, err
	}
	w.TotalCost, err = parseDecimal(totalCost)
	return w, err
}

func scanMaterial(row pgx.Row) (ledger.Material, error) {
	var m ledger.Material
	var qty, unitCost, totalCost string
	err := row.Scan(&m.ID, &m.Category, &m.Name, &m.Unit, &qty, &unitCost,
		&totalCost, &m.IsActive, &m.CreatedAt)
	if err != nil {
		return m, err
	}
	if m.Quantity, err = parseDecimal(qty); err != nil {
		return m, err
	}
	if m.UnitCost, err = parseDecimal(unitCost); err != nil {
		return m, err
	}
	m.TotalCost, err = parseDecimal(totalCost)
	return m, err
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt decimal %q: %w", s, err)
	}
	return d, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
