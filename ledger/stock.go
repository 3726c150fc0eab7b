/*
stock.go - Material stock ledger

PURPOSE:
  The only code path that changes Material.Quantity. Every non-zero
  change appends exactly one history row whose ResultingQuantity is the
  new quantity, so the history of a material always replays to its
  current stock.

TRANSACTIONS:
  StockLedger never opens a transaction. It is built on the Store handed
  to a WithTx callback and its writes commit or roll back with the rest
  of that unit of work.

NEGATIVE STOCK:
  Report operations pre-validate every requirement before debiting, so
  on those paths ApplyDelta never sees a shortfall. The check here keeps
  Quantity >= 0 an invariant of the ledger itself for every other caller.
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// StockMove is a committed-or-pending stock change, reported to observers
// once the surrounding unit of work commits.
type StockMove struct {
	MaterialID MaterialID
	Type       ChangeType
	Amount     decimal.Decimal
}

type StockLedger struct {
	store Store
	now   Clock
	moves []StockMove
}

func NewStockLedger(store Store, clock Clock) *StockLedger {
	return &StockLedger{store: store, now: clock}
}

// ApplyDelta adds amount (which may be negative) to the material's quantity
// and records it. Returns the new quantity. A zero amount changes nothing
// and writes no history.
func (l *StockLedger) ApplyDelta(ctx context.Context, id MaterialID, amount decimal.Decimal,
	changeType ChangeType, performedBy, description string) (decimal.Decimal, error) {

	if !changeType.Valid() {
		return decimal.Zero, invalid("change_type", string(changeType))
	}

	m, err := l.store.GetMaterial(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	if m == nil {
		return decimal.Zero, &NotFoundError{Entity: EntityMaterial, ID: int64(id)}
	}
	if amount.IsZero() {
		return m.Quantity, nil
	}

	newQty := m.Quantity.Add(amount)
	if newQty.IsNegative() {
		return decimal.Zero, &InsufficientMaterialError{
			MaterialID:   id,
			MaterialName: m.Name,
			Available:    m.Quantity,
			Required:     amount.Neg(),
		}
	}

	if err := l.store.SetMaterialQuantity(ctx, id, newQty); err != nil {
		return decimal.Zero, err
	}
	if performedBy == "" {
		performedBy = SystemActor
	}
	if _, err := l.store.AppendHistory(ctx, HistoryEntry{
		MaterialID:        id,
		ChangeAmount:      amount,
		ResultingQuantity: newQty,
		ChangeType:        changeType,
		PerformedBy:       performedBy,
		Description:       description,
		CreatedAt:         l.now(),
	}); err != nil {
		return decimal.Zero, err
	}

	l.moves = append(l.moves, StockMove{MaterialID: id, Type: changeType, Amount: amount})
	return newQty, nil
}

// Moves returns the changes applied through this ledger so far.
func (l *StockLedger) Moves() []StockMove {
	return l.moves
}
