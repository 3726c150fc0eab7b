package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// WorkBalanceLedger is the only code path that changes Work.Balance.
// Unlike stock it keeps no audit trail; the reports themselves are the
// record of what was debited.
type WorkBalanceLedger struct {
	store Store
}

func NewWorkBalanceLedger(store Store) *WorkBalanceLedger {
	return &WorkBalanceLedger{store: store}
}

// ApplyDelta adds amount to the work's balance and returns the new balance.
// A debit that would take the balance below zero is rejected and nothing
// is written.
func (l *WorkBalanceLedger) ApplyDelta(ctx context.Context, id WorkID, amount decimal.Decimal) (decimal.Decimal, error) {
	w, err := l.store.GetWork(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	if w == nil {
		return decimal.Zero, &NotFoundError{Entity: EntityWork, ID: int64(id)}
	}

	newBalance := w.Balance.Add(amount)
	if amount.IsNegative() && newBalance.IsNegative() {
		return decimal.Zero, &InsufficientBalanceError{
			WorkID:    id,
			WorkName:  w.Name,
			Available: w.Balance,
			Requested: amount.Neg(),
		}
	}
	if amount.IsZero() {
		return w.Balance, nil
	}

	if err := l.store.SetWorkBalance(ctx, id, newBalance); err != nil {
		return decimal.Zero, err
	}
	return newBalance, nil
}
