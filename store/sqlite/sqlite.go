/*
Package sqlite provides a SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Default storage for a single site office: one file, no server. The
  same schema is used by store/postgres with dialect changes only.

KEY TABLES:
  works:            Work catalog and remaining balance
  materials:        Material catalog and stock quantity
  work_materials:   BOM edges, UNIQUE(work_id, material_id)
  material_history: Append-only stock audit trail
  foremen:          Keyed by Telegram user id
  work_reports:     Completed-work reports

DECIMALS:
  Quantities, balances and costs are stored as TEXT produced by
  decimal.Decimal.String() and parsed back on read. SQLite REAL would
  round 0.1 + 0.2 and break history replay.

CASCADES:
  Opened with _foreign_keys=on. Deleting a work or material removes its
  BOM edges; deleting a material removes its history. Reports reference
  works and foremen without cascade; the engine refuses to delete a work
  that still has reports.

CONCURRENCY:
  The pool is capped at one connection, which also keeps ":memory:"
  databases alive across calls. WithTx holds a mutex for the whole unit
  of work so report operations are fully serialized. Every read made
  inside WithTx goes through the transaction.

WAL MODE:
  File databases are opened with WAL so exports can read while a report
  is being written.

USAGE:
  store, err := sqlite.New("./data/build-report.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store)

MIGRATION:
  Schema is auto-migrated on New(). Postgres deployments use the goose
  migrations in store/postgres/migrations instead.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/stroykontrol/build-report/ledger"
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	*queries
	db *sql.DB
	mu sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{queries: &queries{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS works (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE COLLATE NOCASE,
		category TEXT NOT NULL DEFAULT '',
		unit TEXT NOT NULL,
		balance TEXT NOT NULL DEFAULT '0',
		project_total TEXT NOT NULL DEFAULT '0',
		unit_cost TEXT NOT NULL DEFAULT '0',
		total_cost TEXT NOT NULL DEFAULT '0',
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS materials (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		category TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		unit TEXT NOT NULL,
		quantity TEXT NOT NULL DEFAULT '0',
		unit_cost TEXT NOT NULL DEFAULT '0',
		total_cost TEXT NOT NULL DEFAULT '0',
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS work_materials (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		work_id INTEGER NOT NULL REFERENCES works(id) ON DELETE CASCADE,
		material_id INTEGER NOT NULL REFERENCES materials(id) ON DELETE CASCADE,
		quantity_per_unit TEXT NOT NULL,
		UNIQUE(work_id, material_id)
	);

	CREATE TABLE IF NOT EXISTS material_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		material_id INTEGER NOT NULL REFERENCES materials(id) ON DELETE CASCADE,
		change_amount TEXT NOT NULL,
		resulting_quantity TEXT NOT NULL,
		change_type TEXT NOT NULL
			CHECK (change_type IN ('creation', 'restock', 'adjustment', 'consumption', 'reversal')),
		performed_by TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- Replay reads one material oldest first; listings read newest first
	CREATE INDEX IF NOT EXISTS idx_history_material
		ON material_history(material_id, id);
	CREATE INDEX IF NOT EXISTS idx_history_created
		ON material_history(created_at DESC, id DESC);

	CREATE TABLE IF NOT EXISTS foremen (
		id INTEGER PRIMARY KEY,
		full_name TEXT NOT NULL,
		position TEXT NOT NULL DEFAULT '',
		username TEXT NOT NULL DEFAULT '',
		registered_at TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS work_reports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		foreman_id INTEGER NOT NULL REFERENCES foremen(id),
		work_id INTEGER NOT NULL REFERENCES works(id),
		quantity TEXT NOT NULL,
		report_date TEXT NOT NULL,
		report_time TEXT NOT NULL,
		photo_report_url TEXT NOT NULL DEFAULT '',
		is_verified INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reports_date
		ON work_reports(report_date DESC, report_time DESC);
	CREATE INDEX IF NOT EXISTS idx_reports_work
		ON work_reports(work_id);
	CREATE INDEX IF NOT EXISTS idx_reports_foreman
		ON work_reports(foreman_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements ledger.Store over a querier. Store embeds one bound
// to the pool; WithTx hands out one bound to the transaction.
type queries struct {
	q querier
}

// =============================================================================
// WORKS
// =============================================================================

const workColumns = `id, name, category, unit, balance, project_total, unit_cost, total_cost, is_active, created_at`

func (s *queries) GetWork(ctx context.Context, id ledger.WorkID) (*ledger.Work, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+workColumns+" FROM works WHERE id = ?", id)
	w, err := scanWork(row)
	if err == sql.ErrNoRows {
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
		query += " WHERE is_active = 1"
	}
	query += " ORDER BY category, name"

	rows, err := s.q.QueryContext(ctx, query)
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
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO works (name, category, unit, balance, project_total, unit_cost, total_cost, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, w.Name, w.Category, w.Unit, w.Balance.String(), w.ProjectTotal.String(),
		w.UnitCost.String(), w.TotalCost.String(), w.IsActive, formatTime(w.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return 0, fmt.Errorf("%w: work %q already exists", ledger.ErrConflict, w.Name)
		}
		return 0, fmt.Errorf("failed to insert work: %w", err)
	}
	id, err := res.LastInsertId()
	return ledger.WorkID(id), err
}

func (s *queries) UpdateWork(ctx context.Context, w ledger.Work) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE works SET name = ?, category = ?, unit = ?, project_total = ?,
			unit_cost = ?, total_cost = ?, is_active = ?
		WHERE id = ?
	`, w.Name, w.Category, w.Unit, w.ProjectTotal.String(),
		w.UnitCost.String(), w.TotalCost.String(), w.IsActive, w.ID)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: work %q already exists", ledger.ErrConflict, w.Name)
	}
	return err
}

func (s *queries) SetWorkBalance(ctx context.Context, id ledger.WorkID, balance decimal.Decimal) error {
	_, err := s.q.ExecContext(ctx, "UPDATE works SET balance = ? WHERE id = ?", balance.String(), id)
	return err
}

func (s *queries) DeleteWork(ctx context.Context, id ledger.WorkID) error {
	if _, err := s.q.ExecContext(ctx, "DELETE FROM work_materials WHERE work_id = ?", id); err != nil {
		return err
	}
	_, err := s.q.ExecContext(ctx, "DELETE FROM works WHERE id = ?", id)
	return err
}

// =============================================================================
// MATERIALS
// =============================================================================

const materialColumns = `id, category, name, unit, quantity, unit_cost, total_cost, is_active, created_at`

func (s *queries) GetMaterial(ctx context.Context, id ledger.MaterialID) (*ledger.Material, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+materialColumns+" FROM materials WHERE id = ?", id)
	m, err := scanMaterial(row)
	if err == sql.ErrNoRows {
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
		query += " WHERE is_active = 1"
	}
	query += " ORDER BY category, name"

	rows, err := s.q.QueryContext(ctx, query)
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
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO materials (category, name, unit, quantity, unit_cost, total_cost, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, m.Category, m.Name, m.Unit, m.Quantity.String(), m.UnitCost.String(),
		m.TotalCost.String(), m.IsActive, formatTime(m.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("failed to insert material: %w", err)
	}
	id, err := res.LastInsertId()
	return ledger.MaterialID(id), err
}

func (s *queries) SetMaterialQuantity(ctx context.Context, id ledger.MaterialID, qty decimal.Decimal) error {
	_, err := s.q.ExecContext(ctx, "UPDATE materials SET quantity = ? WHERE id = ?", qty.String(), id)
	return err
}

func (s *queries) SetMaterialPricing(ctx context.Context, id ledger.MaterialID, unitCost, totalCost decimal.Decimal) error {
	_, err := s.q.ExecContext(ctx, "UPDATE materials SET unit_cost = ?, total_cost = ? WHERE id = ?",
		unitCost.String(), totalCost.String(), id)
	return err
}

func (s *queries) UpdateMaterial(ctx context.Context, m ledger.Material) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE materials SET category = ?, name = ?, unit = ?,
			unit_cost = ?, total_cost = ?, is_active = ?
		WHERE id = ?
	`, m.Category, m.Name, m.Unit, m.UnitCost.String(), m.TotalCost.String(), m.IsActive, m.ID)
	return err
}

func (s *queries) DeleteMaterial(ctx context.Context, id ledger.MaterialID) error {
	for _, stmt := range []string{
		"DELETE FROM work_materials WHERE material_id = ?",
		"DELETE FROM material_history WHERE material_id = ?",
		"DELETE FROM materials WHERE id = ?",
	} {
		if _, err := s.q.ExecContext(ctx, stmt, id); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// MATERIAL HISTORY (append-only)
// =============================================================================

const historySelect = `
	SELECT h.id, h.material_id, COALESCE(m.name, ''), h.change_amount, h.resulting_quantity,
		h.change_type, h.performed_by, h.description, h.created_at
	FROM material_history h
	LEFT JOIN materials m ON m.id = h.material_id`

func (s *queries) AppendHistory(ctx context.Context, e ledger.HistoryEntry) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO material_history
		(material_id, change_amount, resulting_quantity, change_type, performed_by, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.MaterialID, e.ChangeAmount.String(), e.ResultingQuantity.String(),
		string(e.ChangeType), e.PerformedBy, e.Description, formatTime(e.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("failed to append history: %w", err)
	}
	return res.LastInsertId()
}

func (s *queries) MaterialHistory(ctx context.Context, id ledger.MaterialID) ([]ledger.HistoryEntry, error) {
	return s.queryHistory(ctx, historySelect+" WHERE h.material_id = ? ORDER BY h.id", id)
}

func (s *queries) ListHistory(ctx context.Context, f ledger.HistoryFilter) ([]ledger.HistoryEntry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = ledger.DefaultHistoryLimit
	}
	query := historySelect
	var args []any
	if f.MaterialID != nil {
		query += " WHERE h.material_id = ?"
		args = append(args, *f.MaterialID)
	}
	query += " ORDER BY h.created_at DESC, h.id DESC LIMIT ?"
	args = append(args, limit)
	return s.queryHistory(ctx, query, args...)
}

func (s *queries) queryHistory(ctx context.Context, query string, args ...any) ([]ledger.HistoryEntry, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []ledger.HistoryEntry{}
	for rows.Next() {
		var e ledger.HistoryEntry
		var change, resulting, changeType, createdAt string
		if err := rows.Scan(&e.ID, &e.MaterialID, &e.MaterialName, &change, &resulting,
			&changeType, &e.PerformedBy, &e.Description, &createdAt); err != nil {
			return nil, err
		}
		if e.ChangeAmount, err = parseDecimal(change); err != nil {
			return nil, err
		}
		if e.ResultingQuantity, err = parseDecimal(resulting); err != nil {
			return nil, err
		}
		e.ChangeType = ledger.ChangeType(changeType)
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// BILL OF MATERIALS
// =============================================================================

func (s *queries) Requirements(ctx context.Context, workID ledger.WorkID) ([]ledger.Requirement, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT wm.material_id, wm.quantity_per_unit, m.name, m.unit, m.quantity
		FROM work_materials wm
		JOIN materials m ON m.id = wm.material_id
		WHERE wm.work_id = ?
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
	if _, err := s.q.ExecContext(ctx, "DELETE FROM work_materials WHERE work_id = ?", workID); err != nil {
		return err
	}
	for _, l := range lines {
		if _, err := s.q.ExecContext(ctx,
			"INSERT INTO work_materials (work_id, material_id, quantity_per_unit) VALUES (?, ?, ?)",
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

func (s *queries) GetForeman(ctx context.Context, id ledger.ForemanID) (*ledger.Foreman, error) {
	var f ledger.Foreman
	var registeredAt string

	err := s.q.QueryRowContext(ctx,
		"SELECT id, full_name, position, username, registered_at, is_active FROM foremen WHERE id = ?",
		id,
	).Scan(&f.ID, &f.FullName, &f.Position, &f.Username, &registeredAt, &f.IsActive)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	f.RegisteredAt = parseTime(registeredAt)
	return &f, nil
}

func (s *queries) ListForemen(ctx context.Context) ([]ledger.Foreman, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT id, full_name, position, username, registered_at, is_active FROM foremen ORDER BY full_name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	foremen := []ledger.Foreman{}
	for rows.Next() {
		var f ledger.Foreman
		var registeredAt string
		if err := rows.Scan(&f.ID, &f.FullName, &f.Position, &f.Username, &registeredAt, &f.IsActive); err != nil {
			return nil, err
		}
		f.RegisteredAt = parseTime(registeredAt)
		foremen = append(foremen, f)
	}
	return foremen, rows.Err()
}

// SaveForeman saves a foreman.
func (s *queries) SaveForeman(ctx context.Context, f ledger.Foreman) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO foremen (id, full_name, position, username, registered_at, is_active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			full_name = excluded.full_name,
			position = excluded.position,
			username = excluded.username,
			is_active = excluded.is_active
	`, f.ID, f.FullName, f.Position, f.Username, formatTime(f.RegisteredAt), f.IsActive)
	return err
}

// =============================================================================
// REPORTS
// =============================================================================

const reportColumns = `id, foreman_id, work_id, quantity, report_date, report_time, photo_report_url, is_verified, created_at`

func (s *queries) GetReport(ctx context.Context, id ledger.ReportID) (*ledger.Report, error) {
	rows, err := s.q.QueryContext(ctx, "SELECT "+reportColumns+" FROM work_reports WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	reports, err := scanReports(rows)
	if err != nil || len(reports) == 0 {
		return nil, err
	}
	return &reports[0], nil
}

func (s *queries) ListReports(ctx context.Context, f ledger.ReportFilter) ([]ledger.Report, error) {
	var where []string
	var args []any
	if f.ForemanID != nil {
		where = append(where, "foreman_id = ?")
		args = append(args, *f.ForemanID)
	}
	if f.WorkID != nil {
		where = append(where, "work_id = ?")
		args = append(args, *f.WorkID)
	}
	if f.DateFrom != "" {
		where = append(where, "report_date >= ?")
		args = append(args, f.DateFrom)
	}
	if f.DateTo != "" {
		where = append(where, "report_date <= ?")
		args = append(args, f.DateTo)
	}
	if f.VerifiedOnly {
		where = append(where, "is_verified = 1")
	}

	query := "SELECT " + reportColumns + " FROM work_reports"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY report_date DESC, report_time DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanReports(rows)
}

func (s *queries) InsertReport(ctx context.Context, r ledger.Report) (ledger.ReportID, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO work_reports
		(foreman_id, work_id, quantity, report_date, report_time, photo_report_url, is_verified, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ForemanID, r.WorkID, r.Quantity.String(), r.ReportDate, r.ReportTime,
		r.PhotoURL, r.IsVerified, formatTime(r.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("failed to insert report: %w", err)
	}
	id, err := res.LastInsertId()
	return ledger.ReportID(id), err
}

func (s *queries) UpdateReport(ctx context.Context, r ledger.Report) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE work_reports SET foreman_id = ?, work_id = ?, quantity = ?, report_date = ?,
			report_time = ?, photo_report_url = ?, is_verified = ?
		WHERE id = ?
	`, r.ForemanID, r.WorkID, r.Quantity.String(), r.ReportDate, r.ReportTime,
		r.PhotoURL, r.IsVerified, r.ID)
	return err
}

func (s *queries) DeleteReport(ctx context.Context, id ledger.ReportID) error {
	_, err := s.q.ExecContext(ctx, "DELETE FROM work_reports WHERE id = ?", id)
	return err
}

func (s *queries) SetReportVerified(ctx context.Context, id ledger.ReportID, verified bool) error {
	_, err := s.q.ExecContext(ctx, "UPDATE work_reports SET is_verified = ? WHERE id = ?", verified, id)
	return err
}

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanWork(row scanner) (ledger.Work, error) {
	var w ledger.Work
	var balance, total, unitCost, totalCost, createdAt string
	err := row.Scan(&w.ID, &w.Name, &w.Category, &w.Unit, &balance, &total,
		&unitCost, &totalCost, &w.IsActive, &createdAt)
	if err != nil {
		return w, err
	}
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{{&w.Balance, balance}, {&w.ProjectTotal, total}, {&w.UnitCost, unitCost}, {&w.TotalCost, totalCost}} {
		if *f.dst, err = parseDecimal(f.src); err != nil {
			return w, fmt.Errorf("work %d: %w", w.ID, err)
		}
	}
	w.CreatedAt = parseTime(createdAt)
	return w, nil
}

func scanMaterial(row scanner) (ledger.Material, error) {
	var m ledger.Material
	var qty, unitCost, totalCost, createdAt string
	err := row.Scan(&m.ID, &m.Category, &m.Name, &m.Unit, &qty, &unitCost,
		&totalCost, &m.IsActive, &createdAt)
	if err != nil {
		return m, err
	}
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{{&m.Quantity, qty}, {&m.UnitCost, unitCost}, {&m.TotalCost, totalCost}} {
		if *f.dst, err = parseDecimal(f.src); err != nil {
			return m, fmt.Errorf("material %d: %w", m.ID, err)
		}
	}
	m.CreatedAt = parseTime(createdAt)
	return m, nil
}

func scanReports(rows *sql.Rows) ([]ledger.Report, error) {
	defer rows.Close()

	reports := []ledger.Report{}
	for rows.Next() {
		var r ledger.Report
		var qty, createdAt string
		if err := rows.Scan(&r.ID, &r.ForemanID, &r.WorkID, &qty, &r.ReportDate, &r.ReportTime,
			&r.PhotoURL, &r.IsVerified, &createdAt); err != nil {
			return nil, err
		}
		var err error
		if r.Quantity, err = parseDecimal(qty); err != nil {
			return nil, fmt.Errorf("report %d: %w", r.ID, err)
		}
		r.CreatedAt = parseTime(createdAt)
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// Helper functions

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

// parseDecimal fails on a corrupt stored amount rather than reading it as
// zero, which the next write would persist.
func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt decimal %q: %w", s, err)
	}
	return d, nil
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
