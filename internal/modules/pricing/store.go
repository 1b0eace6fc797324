// README: Fare matrix override kept in the tree so the association can change it without a deploy.
package pricing

import (
	"context"

	"toda/internal/store"
)

const ratePath = "settings/fare"

type Store struct {
	tree store.Tree
}

func NewStore(tree store.Tree) *Store {
	return &Store{tree: tree}
}

// GetRate returns the stored matrix; ok is false when none is stored.
func (s *Store) GetRate(ctx context.Context) (Rate, bool, error) {
	snap, err := s.tree.Read(ctx, ratePath)
	if err != nil {
		return Rate{}, false, err
	}
	if !snap.Exists() {
		return Rate{}, false, nil
	}
	f := snap.Fields()
	r := Rate{
		Base:    f.FloatOr("base", 0),
		PerKm:   f.FloatOr("perKm", 0),
		BaseKm:  f.FloatOr("baseKm", 0),
		Minimum: f.FloatOr("minimum", 0),
	}
	return r, true, nil
}

func (s *Store) PutRate(ctx context.Context, r Rate) error {
	return s.tree.Write(ctx, ratePath, r)
}
