package badger

import (
	"context"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/medvault/core"
	"github.com/poiesic/medvault/storage"
)

// EntryRepository implements storage.EntryRepository for BadgerDB.
type EntryRepository struct {
	backend *Backend
}

var _ storage.EntryRepository = (*EntryRepository)(nil)

// NewEntryRepository creates a new EntryRepository.
func NewEntryRepository(backend *Backend) *EntryRepository {
	return &EntryRepository{backend: backend}
}

// Close releases repository resources.
func (r *EntryRepository) Close() error {
	return nil
}

// PutEntry stores an encrypted entry and its bucket index key.
func (r *EntryRepository) PutEntry(ctx context.Context, entry *core.EncryptedEntry) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeEntryKey(entry.Token)
		value := storage.MarshalEncryptedEntry(entry)
		if err := tx.Set(key, value); err != nil {
			return err
		}

		bucketKey := makeEntryBucketKey(entry.Bucket, entry.Token)
		if err := tx.Set(bucketKey, entry.Token[:]); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// GetEntry retrieves an entry by token.
func (r *EntryRepository) GetEntry(ctx context.Context, token core.Token) (*core.EncryptedEntry, error) {
	var entry *core.EncryptedEntry
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeEntryKey(token))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var unmarshalErr error
			entry, unmarshalErr = storage.UnmarshalEncryptedEntry(val)
			return unmarshalErr
		})
	}, false)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// EntriesByBucket retrieves all entries assigned to a bucket.
func (r *EntryRepository) EntriesByBucket(ctx context.Context, bucket uint32) ([]*core.EncryptedEntry, error) {
	var entries []*core.EncryptedEntry

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialEntryBucketKey(bucket)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var token core.Token
			err := iter.Item().Value(func(val []byte) error {
				if len(val) != core.TokenSize {
					return storage.ErrTruncatedData
				}
				copy(token[:], val)
				return nil
			})
			if err != nil {
				return err
			}

			item, err := tx.Get(makeEntryKey(token))
			if err != nil {
				if err == badger.ErrKeyNotFound {
					// Bucket key outlived its entry; skip
					continue
				}
				return err
			}
			err = item.Value(func(val []byte) error {
				entry, unmarshalErr := storage.UnmarshalEncryptedEntry(val)
				if unmarshalErr != nil {
					return unmarshalErr
				}
				entries = append(entries, entry)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)

	if err != nil {
		return nil, err
	}
	return entries, nil
}

// TombstoneEntry marks an entry logically deleted. The ciphertext is
// rewritten with the tombstone flag set, never mutated in place.
func (r *EntryRepository) TombstoneEntry(ctx context.Context, token core.Token) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeEntryKey(token)
		item, err := tx.Get(key)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}

		var entry *core.EncryptedEntry
		err = item.Value(func(val []byte) error {
			var unmarshalErr error
			entry, unmarshalErr = storage.UnmarshalEncryptedEntry(val)
			return unmarshalErr
		})
		if err != nil {
			return err
		}

		entry.Tombstone = true
		if err := tx.Set(key, storage.MarshalEncryptedEntry(entry)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// PurgeTombstones physically removes tombstoned entries and their bucket
// keys.
func (r *EntryRepository) PurgeTombstones(ctx context.Context) (int, error) {
	// Collect first, then delete in a write transaction, to keep the
	// iterator read-only.
	type victim struct {
		token  core.Token
		bucket uint32
	}
	var victims []victim

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(entryPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			err := iter.Item().Value(func(val []byte) error {
				entry, unmarshalErr := storage.UnmarshalEncryptedEntry(val)
				if unmarshalErr != nil {
					return unmarshalErr
				}
				if entry.Tombstone {
					victims = append(victims, victim{token: entry.Token, bucket: entry.Bucket})
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	if err != nil {
		return 0, err
	}

	if len(victims) == 0 {
		return 0, nil
	}

	err = r.backend.WithTx(func(tx *badger.Txn) error {
		for _, v := range victims {
			if err := tx.Delete(makeEntryKey(v.token)); err != nil {
				return err
			}
			if err := tx.Delete(makeEntryBucketKey(v.bucket, v.token)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return 0, err
	}
	return len(victims), nil
}
