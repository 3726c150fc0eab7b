package ledger

import "context"

// Resolver answers "what does one unit of this work consume". It is a pure
// read over whatever Store it was built on; inside a unit of work that
// store is the transactional view, so Available reflects earlier writes
// of the same unit (e.g. reversal credits during an update).
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Requirements returns the BOM of workID ordered by material id. A work
// with no BOM yields an empty slice and no error.
func (r *Resolver) Requirements(ctx context.Context, workID WorkID) ([]Requirement, error) {
	reqs, err := r.store.Requirements(ctx, workID)
	if err != nil {
		return nil, err
	}
	if reqs == nil {
		reqs = []Requirement{}
	}
	return reqs, nil
}
