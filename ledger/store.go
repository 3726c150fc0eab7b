/*
store.go - Persistence interface for the ledger

PURPOSE:
  Defines the boundary between ledger logic and the database. Stores are
  dumb: they read and write rows and never enforce business rules beyond
  referential integrity and name uniqueness. Balance and stock checks,
  history bookkeeping and report reversal all live in the ledger.

KEY INTERFACES:
  Store:   Row-level reads and writes
  TxStore: Store plus WithTx for atomic units of work

UNIT OF WORK:
  Every mutating engine operation runs inside exactly one WithTx call.
  The Store handed to fn is bound to that transaction; every read made
  through it sees the writes made earlier in the same fn. If fn returns
  an error nothing it wrote is visible afterwards.

  WithTx serializes callers. Two report operations touching the same
  work or material never interleave.

NOT FOUND:
  Get* methods return (nil, nil) when the row does not exist. Mutations
  of missing rows are no-ops; callers check existence first.

IMPLEMENTATIONS:
  - ledger/store/memory.go:   In-memory, for tests and dev
  - store/sqlite/sqlite.go:   SQLite (default)
  - store/postgres/postgres.go: PostgreSQL via pgx

SEE ALSO:
  - engine.go: The only writer
  - ledgertest/suite.go: Behaviour every implementation must pass
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE - Row-level persistence
// =============================================================================

type Store interface {
	// Works
	GetWork(ctx context.Context, id WorkID) (*Work, error)
	ListWorks(ctx context.Context, activeOnly bool) ([]Work, error)
	// InsertWork returns ErrConflict (wrapped) if the name is taken.
	InsertWork(ctx context.Context, w Work) (WorkID, error)
	// UpdateWork rewrites descriptive fields. Balance is left untouched.
	UpdateWork(ctx context.Context, w Work) error
	SetWorkBalance(ctx context.Context, id WorkID, balance decimal.Decimal) error
	// DeleteWork removes the work and its BOM edges.
	DeleteWork(ctx context.Context, id WorkID) error

	// Materials
	GetMaterial(ctx context.Context, id MaterialID) (*Material, error)
	ListMaterials(ctx context.Context, activeOnly bool) ([]Material, error)
	InsertMaterial(ctx context.Context, m Material) (MaterialID, error)
	SetMaterialQuantity(ctx context.Context, id MaterialID, qty decimal.Decimal) error
	SetMaterialPricing(ctx context.Context, id MaterialID, unitCost, totalCost decimal.Decimal) error
	// UpdateMaterial rewrites descriptive fields and pricing. Quantity is
	// left untouched.
	UpdateMaterial(ctx context.Context, m Material) error
	// DeleteMaterial removes the material, its BOM edges and its history.
	DeleteMaterial(ctx context.Context, id MaterialID) error

	// Material history (append-only)
	AppendHistory(ctx context.Context, e HistoryEntry) (int64, error)
	// MaterialHistory returns one material's rows oldest first.
	MaterialHistory(ctx context.Context, id MaterialID) ([]HistoryEntry, error)
	// ListHistory returns rows newest first.
	ListHistory(ctx context.Context, f HistoryFilter) ([]HistoryEntry, error)

	// Bill of materials
	// Requirements returns the work's BOM joined with material state,
	// ordered by material id.
	Requirements(ctx context.Context, workID WorkID) ([]Requirement, error)
	ReplaceRequirements(ctx context.Context, workID WorkID, lines []BOMLine) error

	// Foremen
	GetForeman(ctx context.Context, id ForemanID) (*Foreman, error)
	ListForemen(ctx context.Context) ([]Foreman, error)
	// SaveForeman inserts or updates by ID.
	SaveForeman(ctx context.Context, f Foreman) error

	// Reports
	GetReport(ctx context.Context, id ReportID) (*Report, error)
	// ListReports returns newest first (date, time, id descending).
	ListReports(ctx context.Context, f ReportFilter) ([]Report, error)
	InsertReport(ctx context.Context, r Report) (ReportID, error)
	UpdateReport(ctx context.Context, r Report) error
	DeleteReport(ctx context.Context, id ReportID) error
	SetReportVerified(ctx context.Context, id ReportID, verified bool) error
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
