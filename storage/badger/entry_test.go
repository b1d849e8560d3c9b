package badger

import (
	"context"
	"testing"
	"time"

	"github.com/poiesic/medvault/core"
	"github.com/poiesic/medvault/storage"
)

func testEntry(source string, bucket uint32, seq uint64) *core.EncryptedEntry {
	return &core.EncryptedEntry{
		Token:             core.TokenFromSource([]byte("salt"), source),
		CiphertextVector:  []byte{0x01, 0x02, 0x03},
		CiphertextPayload: []byte{0x04, 0x05},
		Bucket:            bucket,
		IndexVersion:      1,
		Seq:               seq,
		InsertedAt:        time.Now().UTC(),
	}
}

func TestEntryPutGet(t *testing.T) {
	entryRepo, auditRepo, _, backend, err := NewMemoryRepositories()
	if err != nil {
		t.Fatalf("Failed to create repositories: %v", err)
	}
	defer func() { auditRepo.Close(); entryRepo.Close(); backend.Close() }()

	ctx := context.Background()
	entry := testEntry("patient-001", 3, 1)

	if err := entryRepo.PutEntry(ctx, entry); err != nil {
		t.Fatalf("Failed to put entry: %v", err)
	}

	got, err := entryRepo.GetEntry(ctx, entry.Token)
	if err != nil {
		t.Fatalf("Failed to get entry: %v", err)
	}
	if got.Token != entry.Token {
		t.Fatalf("Token mismatch: got %s, want %s", got.Token, entry.Token)
	}
	if got.Bucket != 3 || got.Seq != 1 {
		t.Fatalf("Unexpected entry fields: bucket=%d seq=%d", got.Bucket, got.Seq)
	}
	if got.Tombstone {
		t.Fatal("Fresh entry should not be tombstoned")
	}
}

func TestEntryGetMissing(t *testing.T) {
	entryRepo, auditRepo, _, backend, err := NewMemoryRepositories()
	if err != nil {
		t.Fatalf("Failed to create repositories: %v", err)
	}
	defer func() { auditRepo.Close(); entryRepo.Close(); backend.Close() }()

	_, err = entryRepo.GetEntry(context.Background(), core.TokenFromSource([]byte("salt"), "missing"))
	if err != storage.ErrNotFound {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestEntriesByBucket(t *testing.T) {
	entryRepo, auditRepo, _, backend, err := NewMemoryRepositories()
	if err != nil {
		t.Fatalf("Failed to create repositories: %v", err)
	}
	defer func() { auditRepo.Close(); entryRepo.Close(); backend.Close() }()

	ctx := context.Background()
	for i, source := range []string{"a", "b", "c"} {
		bucket := uint32(0)
		if source == "c" {
			bucket = 1
		}
		if err := entryRepo.PutEntry(ctx, testEntry(source, bucket, uint64(i+1))); err != nil {
			t.Fatalf("Failed to put entry %s: %v", source, err)
		}
	}

	inZero, err := entryRepo.EntriesByBucket(ctx, 0)
	if err != nil {
		t.Fatalf("Failed to list bucket 0: %v", err)
	}
	if len(inZero) != 2 {
		t.Fatalf("Expected 2 entries in bucket 0, got %d", len(inZero))
	}

	inOne, err := entryRepo.EntriesByBucket(ctx, 1)
	if err != nil {
		t.Fatalf("Failed to list bucket 1: %v", err)
	}
	if len(inOne) != 1 {
		t.Fatalf("Expected 1 entry in bucket 1, got %d", len(inOne))
	}

	empty, err := entryRepo.EntriesByBucket(ctx, 99)
	if err != nil {
		t.Fatalf("Failed to list empty bucket: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("Expected empty bucket, got %d entries", len(empty))
	}
}

func TestTombstoneAndPurge(t *testing.T) {
	entryRepo, auditRepo, _, backend, err := NewMemoryRepositories()
	if err != nil {
		t.Fatalf("Failed to create repositories: %v", err)
	}
	defer func() { auditRepo.Close(); entryRepo.Close(); backend.Close() }()

	ctx := context.Background()
	keep := testEntry("keep", 0, 1)
	drop := testEntry("drop", 0, 2)
	if err := entryRepo.PutEntry(ctx, keep); err != nil {
		t.Fatalf("Failed to put entry: %v", err)
	}
	if err := entryRepo.PutEntry(ctx, drop); err != nil {
		t.Fatalf("Failed to put entry: %v", err)
	}

	if err := entryRepo.TombstoneEntry(ctx, drop.Token); err != nil {
		t.Fatalf("Failed to tombstone: %v", err)
	}

	got, err := entryRepo.GetEntry(ctx, drop.Token)
	if err != nil {
		t.Fatalf("Failed to get tombstoned entry: %v", err)
	}
	if !got.Tombstone {
		t.Fatal("Expected tombstone flag set")
	}

	removed, err := entryRepo.PurgeTombstones(ctx)
	if err != nil {
		t.Fatalf("Failed to purge: %v", err)
	}
	if removed != 1 {
		t.Fatalf("Expected 1 purged entry, got %d", removed)
	}

	if _, err := entryRepo.GetEntry(ctx, drop.Token); err != storage.ErrNotFound {
		t.Fatalf("Expected purged entry to be gone, got %v", err)
	}
	if _, err := entryRepo.GetEntry(ctx, keep.Token); err != nil {
		t.Fatalf("Live entry should survive purge: %v", err)
	}

	// Bucket listing must not surface the purged entry either
	remaining, err := entryRepo.EntriesByBucket(ctx, 0)
	if err != nil {
		t.Fatalf("Failed to list bucket: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Token != keep.Token {
		t.Fatalf("Unexpected bucket contents after purge: %d entries", len(remaining))
	}
}

func TestTombstoneMissingEntry(t *testing.T) {
	entryRepo, auditRepo, _, backend, err := NewMemoryRepositories()
	if err != nil {
		t.Fatalf("Failed to create repositories: %v", err)
	}
	defer func() { auditRepo.Close(); entryRepo.Close(); backend.Close() }()

	err = entryRepo.TombstoneEntry(context.Background(), core.TokenFromSource([]byte("salt"), "nope"))
	if err != storage.ErrNotFound {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}
