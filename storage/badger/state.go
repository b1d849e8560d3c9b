package badger

import (
	"context"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/medvault/core"
	"github.com/poiesic/medvault/storage"
)

// StateRepository implements storage.StateRepository for BadgerDB.
type StateRepository struct {
	backend *Backend
}

var _ storage.StateRepository = (*StateRepository)(nil)

// NewStateRepository creates a new StateRepository.
func NewStateRepository(backend *Backend) *StateRepository {
	return &StateRepository{backend: backend}
}

// SaveIndexState persists the index state, replacing any prior state.
func (r *StateRepository) SaveIndexState(ctx context.Context, state *core.IndexState) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(makeIndexStateKey(), storage.MarshalIndexState(state)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// LoadIndexState retrieves the index state.
// Returns nil, nil if no state exists yet.
func (r *StateRepository) LoadIndexState(ctx context.Context) (*core.IndexState, error) {
	var state *core.IndexState
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeIndexStateKey())
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var unmarshalErr error
			state, unmarshalErr = storage.UnmarshalIndexState(val)
			return unmarshalErr
		})
	}, false)
	if err != nil {
		return nil, err
	}
	return state, nil
}
