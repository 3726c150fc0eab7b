package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// VerifyHistory replays a material's history oldest first and checks that
// every row's ResultingQuantity equals the running sum of ChangeAmount and
// that the final sum equals the material's current quantity.
//
// The material and its history are read in one transaction so a write
// committed between the two reads cannot show up as a mismatch.
//
// Returns a *HistoryMismatchError on the first disagreement.
func VerifyHistory(ctx context.Context, store TxStore, id MaterialID) error {
	return store.WithTx(ctx, func(s Store) error {
		return verifyHistory(ctx, s, id)
	})
}

func verifyHistory(ctx context.Context, store Store, id MaterialID) error {
	m, err := store.GetMaterial(ctx, id)
	if err != nil {
		return err
	}
	if m == nil {
		return &NotFoundError{Entity: EntityMaterial, ID: int64(id)}
	}
	entries, err := store.MaterialHistory(ctx, id)
	if err != nil {
		return err
	}

	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.ChangeAmount)
		if !sum.Equal(e.ResultingQuantity) {
			return &HistoryMismatchError{
				MaterialID: id,
				EntryID:    e.ID,
				Expected:   sum,
				Recorded:   e.ResultingQuantity,
			}
		}
	}
	if !sum.Equal(m.Quantity) {
		return &HistoryMismatchError{MaterialID: id, Expected: sum, Recorded: m.Quantity}
	}
	return nil
}
