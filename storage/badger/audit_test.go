package badger

import (
	"context"
	"testing"
	"time"

	"github.com/poiesic/medvault/core"
	"github.com/poiesic/medvault/storage"
)

func testAuditEvent(seq uint64) *core.AuditEvent {
	return &core.AuditEvent{
		Seq:       seq,
		Timestamp: time.Now().UTC(),
		Operation: core.OperationInsert,
		RequestID: "req",
		Outcome:   core.OutcomeSuccess,
		PrevHash:  []byte{byte(seq - 1)},
		Hash:      []byte{byte(seq)},
	}
}

func TestAuditAppendGet(t *testing.T) {
	entryRepo, auditRepo, _, backend, err := NewMemoryRepositories()
	if err != nil {
		t.Fatalf("Failed to create repositories: %v", err)
	}
	defer func() { auditRepo.Close(); entryRepo.Close(); backend.Close() }()

	ctx := context.Background()
	if err := auditRepo.AppendAuditEvent(ctx, testAuditEvent(1)); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}

	got, err := auditRepo.GetAuditEvent(ctx, 1)
	if err != nil {
		t.Fatalf("Failed to get event: %v", err)
	}
	if got.Seq != 1 || got.Operation != core.OperationInsert {
		t.Fatalf("Unexpected event: seq=%d op=%v", got.Seq, got.Operation)
	}
}

func TestAuditRefusesDuplicateSeq(t *testing.T) {
	entryRepo, auditRepo, _, backend, err := NewMemoryRepositories()
	if err != nil {
		t.Fatalf("Failed to create repositories: %v", err)
	}
	defer func() { auditRepo.Close(); entryRepo.Close(); backend.Close() }()

	ctx := context.Background()
	if err := auditRepo.AppendAuditEvent(ctx, testAuditEvent(1)); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	if err := auditRepo.AppendAuditEvent(ctx, testAuditEvent(1)); err != storage.ErrDuplicateSequence {
		t.Fatalf("Expected ErrDuplicateSequence, got %v", err)
	}
}

func TestAuditEventRange(t *testing.T) {
	entryRepo, auditRepo, _, backend, err := NewMemoryRepositories()
	if err != nil {
		t.Fatalf("Failed to create repositories: %v", err)
	}
	defer func() { auditRepo.Close(); entryRepo.Close(); backend.Close() }()

	ctx := context.Background()
	for seq := uint64(1); seq <= 5; seq++ {
		if err := auditRepo.AppendAuditEvent(ctx, testAuditEvent(seq)); err != nil {
			t.Fatalf("Failed to append seq %d: %v", seq, err)
		}
	}

	events, err := auditRepo.AuditEventRange(ctx, 2, 4)
	if err != nil {
		t.Fatalf("Failed to range: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}
	for i, event := range events {
		if event.Seq != uint64(i+2) {
			t.Fatalf("Out of order: position %d has seq %d", i, event.Seq)
		}
	}

	empty, err := auditRepo.AuditEventRange(ctx, 10, 20)
	if err != nil {
		t.Fatalf("Failed to range empty: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("Expected empty range, got %d events", len(empty))
	}
}

func TestLastAuditEvent(t *testing.T) {
	entryRepo, auditRepo, _, backend, err := NewMemoryRepositories()
	if err != nil {
		t.Fatalf("Failed to create repositories: %v", err)
	}
	defer func() { auditRepo.Close(); entryRepo.Close(); backend.Close() }()

	ctx := context.Background()

	last, err := auditRepo.LastAuditEvent(ctx)
	if err != nil {
		t.Fatalf("Failed on empty ledger: %v", err)
	}
	if last != nil {
		t.Fatalf("Expected nil on empty ledger, got seq %d", last.Seq)
	}

	for seq := uint64(1); seq <= 3; seq++ {
		if err := auditRepo.AppendAuditEvent(ctx, testAuditEvent(seq)); err != nil {
			t.Fatalf("Failed to append seq %d: %v", seq, err)
		}
	}

	last, err = auditRepo.LastAuditEvent(ctx)
	if err != nil {
		t.Fatalf("Failed to get last event: %v", err)
	}
	if last == nil || last.Seq != 3 {
		t.Fatalf("Expected seq 3, got %+v", last)
	}
}
