package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stroykontrol/build-report/ledger"
	"github.com/stroykontrol/build-report/ledger/ledgertest"
	"github.com/stroykontrol/build-report/ledger/store"
)

// interleavingStore starts a restock whenever a material's history is read,
// from the pool or from inside a transaction, and gives it a moment to
// commit before the read goes ahead.
type interleavingStore struct {
	*store.Memory
	restock func()
	done    chan struct{}
}

func (s *interleavingStore) interleave() {
	if s.done != nil {
		return
	}
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.restock()
	}()
	select {
	case <-s.done:
	case <-time.After(50 * time.Millisecond):
	}
}

func (s *interleavingStore) MaterialHistory(ctx context.Context, id ledger.MaterialID) ([]ledger.HistoryEntry, error) {
	s.interleave()
	return s.Memory.MaterialHistory(ctx, id)
}

func (s *interleavingStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return s.Memory.WithTx(ctx, func(tx ledger.Store) error {
		return fn(&interleavingTx{Store: tx, parent: s})
	})
}

type interleavingTx struct {
	ledger.Store
	parent *interleavingStore
}

func (t *interleavingTx) MaterialHistory(ctx context.Context, id ledger.MaterialID) ([]ledger.HistoryEntry, error) {
	t.parent.interleave()
	return t.Store.MaterialHistory(ctx, id)
}

func TestVerifyHistory_RestockDuringCheck_StaysConsistent(t *testing.T) {
	// GIVEN: A consistent material and a restock that fires between
	// reading the material and reading its history
	mem := store.NewMemory()
	f := ledgertest.NewFixture(t, mem)
	m := f.Material("M", "100")
	st := &interleavingStore{Memory: mem}
	st.restock = func() {
		_, err := f.Engine.AddMaterialQuantity(f.Ctx, m, decimal.NewFromInt(5), "Warehouse", "")
		assert.NoError(t, err)
	}

	// WHEN: Verifying the history
	err := ledger.VerifyHistory(f.Ctx, st, m)

	// THEN: The check saw one snapshot and reports no mismatch
	require.NoError(t, err)

	// AND: The restock committed afterwards and the ledger still replays
	<-st.done
	ledgertest.AssertDec(t, "105", f.Quantity(m))
	require.NoError(t, ledger.VerifyHistory(f.Ctx, mem, m))
}
