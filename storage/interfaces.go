package storage

import (
	"context"

	"github.com/poiesic/medvault/core"
)

// EntryRepository persists encrypted index entries and their bucket
// assignments. Implementations must be thread-safe and support concurrent
// access; plaintext vectors never pass through this layer.
type EntryRepository interface {
	// PutEntry stores an encrypted entry and its bucket index key,
	// overwriting any prior entry for the same token.
	PutEntry(ctx context.Context, entry *core.EncryptedEntry) error

	// GetEntry retrieves an entry by token, tombstoned or not.
	// Returns ErrNotFound if no entry exists.
	GetEntry(ctx context.Context, token core.Token) (*core.EncryptedEntry, error)

	// EntriesByBucket retrieves all entries assigned to a bucket,
	// including tombstoned ones. Callers filter tombstones.
	EntriesByBucket(ctx context.Context, bucket uint32) ([]*core.EncryptedEntry, error)

	// TombstoneEntry marks an entry logically deleted without mutating
	// its ciphertext. Returns ErrNotFound if no entry exists.
	TombstoneEntry(ctx context.Context, token core.Token) error

	// PurgeTombstones physically removes tombstoned entries and their
	// bucket keys. Returns the number of entries reclaimed.
	PurgeTombstones(ctx context.Context) (int, error)

	// Close releases repository resources.
	Close() error
}

// AuditRepository persists audit events as an append-only sequence.
// Events are never updated or deleted.
type AuditRepository interface {
	// AppendAuditEvent durably appends an event. The write is flushed to
	// stable storage before returning success.
	AppendAuditEvent(ctx context.Context, event *core.AuditEvent) error

	// GetAuditEvent retrieves a single event by sequence number.
	// Returns ErrNotFound if the event doesn't exist.
	GetAuditEvent(ctx context.Context, seq uint64) (*core.AuditEvent, error)

	// AuditEventRange retrieves events with from <= Seq <= to, ordered by
	// sequence number ascending.
	AuditEventRange(ctx context.Context, from, to uint64) ([]*core.AuditEvent, error)

	// LastAuditEvent retrieves the highest-sequence event, or nil, nil if
	// the ledger is empty.
	LastAuditEvent(ctx context.Context) (*core.AuditEvent, error)

	// Close releases repository resources.
	Close() error
}

// StateRepository persists the index's structural state (dimension,
// sealed centroids, next insertion sequence).
type StateRepository interface {
	// SaveIndexState persists the state, replacing any prior state.
	SaveIndexState(ctx context.Context, state *core.IndexState) error

	// LoadIndexState retrieves the state, or nil, nil if none exists yet.
	LoadIndexState(ctx context.Context) (*core.IndexState, error)
}
