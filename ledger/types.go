/*
types.go - Core types for the build-report ledger

PURPOSE:
  Defines the records the ledger reads and mutates: works with their
  remaining planned quantity (balance), materials with their stock,
  bill-of-materials edges, foremen, work reports and material history.

DESIGN:
  All quantities, balances and costs are decimal.Decimal. Floating point
  is never used for anything that is summed or compared against zero.

  Identifiers are store-assigned integers, except ForemanID which is the
  foreman's Telegram user id.

  Report dates and times are kept as the strings the field crews send
  (DateLayout / TimeLayout). The engine validates them on every write so
  the stored form is always parseable and sorts lexically.

CHANGE TYPES:
  Every row in material history carries one of five change types:

    creation     initial quantity when a material is registered
    restock      administrative top-up (AddMaterialQuantity)
    adjustment   administrative correction to an absolute quantity
    consumption  debit caused by a work report
    reversal     credit caused by correcting or deleting a report

SEE ALSO:
  - store.go: Persistence interface over these types
  - engine.go: Operations that mutate them
*/
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type WorkID int64
type MaterialID int64
type ReportID int64

// ForemanID is the foreman's Telegram user id.
type ForemanID int64

const (
	// DateLayout is the wire and storage format of Report.ReportDate.
	DateLayout = "2006-01-02"
	// TimeLayout is the wire and storage format of Report.ReportTime.
	TimeLayout = "15:04:05"
)

// =============================================================================
// CATALOG
// =============================================================================

// Work is a unit of construction activity. Balance is the remaining
// planned quantity; reports debit it by the quantity they complete.
type Work struct {
	ID           WorkID
	Name         string
	Category     string
	Unit         string
	Balance      decimal.Decimal
	ProjectTotal decimal.Decimal
	UnitCost     decimal.Decimal // without VAT
	TotalCost    decimal.Decimal // without VAT
	IsActive     bool
	CreatedAt    time.Time
}

// Material is a stocked consumable.
type Material struct {
	ID        MaterialID
	Category  string
	Name      string
	Unit      string
	Quantity  decimal.Decimal
	UnitCost  decimal.Decimal // without VAT
	TotalCost decimal.Decimal // without VAT
	IsActive  bool
	CreatedAt time.Time
}

// BOMLine is one edge of a work's bill of materials as written by an admin.
type BOMLine struct {
	MaterialID      MaterialID
	QuantityPerUnit decimal.Decimal
}

// Requirement is a resolved BOM edge joined with the material's current state.
type Requirement struct {
	MaterialID      MaterialID
	QuantityPerUnit decimal.Decimal
	MaterialName    string
	Unit            string
	Available       decimal.Decimal
}

// Required returns the total material needed for qty units of work.
func (r Requirement) Required(qty decimal.Decimal) decimal.Decimal {
	return r.QuantityPerUnit.Mul(qty)
}

// =============================================================================
// FOREMEN
// =============================================================================

type Foreman struct {
	ID           ForemanID
	FullName     string
	Position     string
	Username     string
	RegisteredAt time.Time
	IsActive     bool
}

// DisplayName is the label written to material history for actions the
// foreman caused.
func (f Foreman) DisplayName() string {
	name := strings.TrimSpace(f.FullName + " " + f.Position)
	if name == "" {
		return fmt.Sprintf("Foreman ID %d", f.ID)
	}
	return "Foreman " + name
}

// =============================================================================
// REPORTS
// =============================================================================

// Report records that a foreman completed Quantity units of a work.
// A stored report always corresponds to exactly one net debit of the
// work's balance and of every material on the work's BOM.
type Report struct {
	ID         ReportID
	ForemanID  ForemanID
	WorkID     WorkID
	Quantity   decimal.Decimal
	ReportDate string
	ReportTime string
	PhotoURL   string
	IsVerified bool
	CreatedAt  time.Time
}

// ReportFilter narrows ListReports. Zero values mean "no filter".
type ReportFilter struct {
	ForemanID    *ForemanID
	WorkID       *WorkID
	DateFrom     string
	DateTo       string
	VerifiedOnly bool
	Limit        int
}

// =============================================================================
// MATERIAL HISTORY
// =============================================================================

type ChangeType string

const (
	ChangeCreation    ChangeType = "creation"
	ChangeRestock     ChangeType = "restock"
	ChangeAdjustment  ChangeType = "adjustment"
	ChangeConsumption ChangeType = "consumption"
	ChangeReversal    ChangeType = "reversal"
)

// Valid reports whether t is one of the five known change types.
func (t ChangeType) Valid() bool {
	switch t {
	case ChangeCreation, ChangeRestock, ChangeAdjustment, ChangeConsumption, ChangeReversal:
		return true
	}
	return false
}

// HistoryEntry is one append-only row of a material's audit trail.
// ResultingQuantity equals the sum of ChangeAmount over all earlier rows
// of the same material plus this one.
type HistoryEntry struct {
	ID                int64
	MaterialID        MaterialID
	MaterialName      string // joined on read, not stored
	ChangeAmount      decimal.Decimal
	ResultingQuantity decimal.Decimal
	ChangeType        ChangeType
	PerformedBy       string
	Description       string
	CreatedAt         time.Time
}

// HistoryFilter narrows ListHistory. Results are newest first.
type HistoryFilter struct {
	MaterialID *MaterialID
	Limit      int
}

// DefaultHistoryLimit caps history listings when no limit is given.
const DefaultHistoryLimit = 500

// SystemActor is the PerformedBy of rows written without a named actor.
const SystemActor = "System"
