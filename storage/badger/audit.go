// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package badger

import (
	"context"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/medvault/core"
	"github.com/poiesic/medvault/storage"
)

// AuditRepository implements storage.AuditRepository for BadgerDB.
// Events are keyed by big-endian sequence number so prefix iteration
// yields them in append order.
type AuditRepository struct {
	backend *Backend
}

var _ storage.AuditRepository = (*AuditRepository)(nil)

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(backend *Backend) *AuditRepository {
	return &AuditRepository{backend: backend}
}

// Close releases repository resources.
func (r *AuditRepository) Close() error {
	return nil
}

// AppendAuditEvent durably appends an event. Refuses to overwrite an
// existing sequence number; events are never edited or removed.
func (r *AuditRepository) AppendAuditEvent(ctx context.Context, event *core.AuditEvent) error {
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeAuditEventKey(event.Seq)
		if _, err := tx.Get(key); err == nil {
			return storage.ErrDuplicateSequence
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		if err := tx.Set(key, storage.MarshalAuditEvent(event)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return err
	}
	// Flush to stable storage before reporting success
	return r.backend.Sync()
}

// GetAuditEvent retrieves a single event by sequence number.
func (r *AuditRepository) GetAuditEvent(ctx context.Context, seq uint64) (*core.AuditEvent, error) {
	var event *core.AuditEvent
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeAuditEventKey(seq))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var unmarshalErr error
			event, unmarshalErr = storage.UnmarshalAuditEvent(val)
			return unmarshalErr
		})
	}, false)
	if err != nil {
		return nil, err
	}
	return event, nil
}

// AuditEventRange retrieves events with from <= Seq <= to in append order.
func (r *AuditRepository) AuditEventRange(ctx context.Context, from, to uint64) ([]*core.AuditEvent, error) {
	var events []*core.AuditEvent

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(auditEventPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Seek(makeAuditEventKey(from)); iter.Valid(); iter.Next() {
			var event *core.AuditEvent
			err := iter.Item().Value(func(val []byte) error {
				var unmarshalErr error
				event, unmarshalErr = storage.UnmarshalAuditEvent(val)
				return unmarshalErr
			})
			if err != nil {
				return err
			}
			if event.Seq > to {
				break
			}
			events = append(events, event)
		}
		return nil
	}, false)

	if err != nil {
		return nil, err
	}
	return events, nil
}

// LastAuditEvent retrieves the highest-sequence event, or nil, nil if
// the ledger is empty.
func (r *AuditRepository) LastAuditEvent(ctx context.Context) (*core.AuditEvent, error) {
	var event *core.AuditEvent

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(auditEventPrefix + ":")
		opts.Reverse = true
		iter := tx.NewIterator(opts)
		defer iter.Close()

		// Seek past the largest possible sequence, then step back into
		// the prefix.
		seek := makeAuditEventKey(^uint64(0))
		for iter.Seek(seek); iter.Valid(); iter.Next() {
			return iter.Item().Value(func(val []byte) error {
				var unmarshalErr error
				event, unmarshalErr = storage.UnmarshalAuditEvent(val)
				return unmarshalErr
			})
		}
		return nil
	}, false)

	if err != nil {
		return nil, err
	}
	return event, nil
}
