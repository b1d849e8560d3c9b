package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/medvault/core"
	"github.com/poiesic/medvault/storage"
	badgerstore "github.com/poiesic/medvault/storage/badger"
)

func newTestLedger(t *testing.T) (*Ledger, storage.AuditRepository, func()) {
	t.Helper()

	entryRepo, auditRepo, _, backend, err := badgerstore.NewMemoryRepositories()
	require.NoError(t, err)

	led, err := Open(auditRepo)
	require.NoError(t, err)

	cleanup := func() {
		auditRepo.Close()
		entryRepo.Close()
		backend.Close()
	}
	return led, auditRepo, cleanup
}

// overwriteEvent replaces a stored event directly, bypassing the
// append-only repository surface.
func overwriteEvent(backend *badgerstore.Backend, event *core.AuditEvent) error {
	key := make([]byte, 0, 15)
	key = append(key, []byte("audevt:")...)
	key = binary.BigEndian.AppendUint64(key, event.Seq)
	return backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(key, storage.MarshalAuditEvent(event)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

func successFields(op core.Operation) Fields {
	return Fields{
		Operation: op,
		RequestID: "req",
		ActorID:   "dr-jones",
		Outcome:   core.OutcomeSuccess,
		LatencyMS: 1.5,
	}
}

func TestRecordBuildsChain(t *testing.T) {
	led, _, cleanup := newTestLedger(t)
	defer cleanup()

	ctx := context.Background()
	first, err := led.Record(ctx, successFields(core.OperationInsert))
	require.NoError(t, err)
	second, err := led.Record(ctx, successFields(core.OperationQuery))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)
	assert.Empty(t, first.PrevHash)
	assert.Equal(t, first.Hash, second.PrevHash)
	assert.NotEmpty(t, second.Hash)
}

func TestRecordHashesPII(t *testing.T) {
	led, _, cleanup := newTestLedger(t)
	defer cleanup()

	event, err := led.Record(context.Background(), Fields{
		Operation: core.OperationQuery,
		RequestID: "req",
		ActorID:   "dr-jones",
		Query:     "renal failure follow-up",
		Outcome:   core.OutcomeSuccess,
	})
	require.NoError(t, err)

	assert.NotContains(t, event.ActorHash, "jones")
	assert.NotContains(t, event.QueryHash, "renal")
	assert.Len(t, event.ActorHash, 16)
	assert.Len(t, event.QueryHash, 16)
	assert.Equal(t, len("renal failure follow-up"), event.QueryLen)
}

func TestVerifyChainEmptyAndSingle(t *testing.T) {
	led, _, cleanup := newTestLedger(t)
	defer cleanup()

	ctx := context.Background()

	ok, err := led.VerifyChain(ctx, 1, 100)
	require.NoError(t, err)
	assert.True(t, ok, "empty range verifies trivially")

	_, err = led.Record(ctx, successFields(core.OperationInsert))
	require.NoError(t, err)

	ok, err = led.VerifyChain(ctx, 1, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyChainLongAndSubrange(t *testing.T) {
	led, _, cleanup := newTestLedger(t)
	defer cleanup()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := led.Record(ctx, successFields(core.OperationInsert))
		require.NoError(t, err)
	}

	ok, err := led.VerifyChain(ctx, 1, 10)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = led.VerifyChain(ctx, 4, 8)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyChainInvalidRange(t *testing.T) {
	led, _, cleanup := newTestLedger(t)
	defer cleanup()

	_, err := led.VerifyChain(context.Background(), 5, 2)
	assert.True(t, errors.Is(err, core.ErrInvalidRange))
}

func TestVerifyChainDetectsTamperingAndHalts(t *testing.T) {
	entryRepo, auditRepo, _, backend, err := badgerstore.NewMemoryRepositories()
	require.NoError(t, err)
	defer func() { auditRepo.Close(); entryRepo.Close(); backend.Close() }()

	led, err := Open(auditRepo)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := led.Record(ctx, successFields(core.OperationInsert))
		require.NoError(t, err)
	}

	// Rewrite event 3 behind the ledger's back with one field changed,
	// the way an attacker with direct storage access would.
	tampered, err := auditRepo.GetAuditEvent(ctx, 3)
	require.NoError(t, err)
	tampered.LatencyMS += 100
	require.NoError(t, overwriteEvent(backend, tampered))

	ok, err := led.VerifyChain(ctx, 1, 5)
	require.NoError(t, err)
	assert.False(t, ok)

	// Further writes refused until operator intervention
	assert.True(t, led.Halted())
	_, err = led.Record(ctx, successFields(core.OperationInsert))
	assert.True(t, errors.Is(err, core.ErrLedgerHalted))
}

func TestResumeAfterHalt(t *testing.T) {
	led, _, cleanup := newTestLedger(t)
	defer cleanup()

	ctx := context.Background()
	_, err := led.Record(ctx, successFields(core.OperationInsert))
	require.NoError(t, err)

	// Simulate a halt from a prior verification failure
	led.halt("test halt", 1)
	_, err = led.Record(ctx, successFields(core.OperationQuery))
	assert.True(t, errors.Is(err, core.ErrLedgerHalted))

	// Chain is actually intact, so resume lifts the halt
	require.NoError(t, led.Resume(ctx))
	_, err = led.Record(ctx, successFields(core.OperationQuery))
	assert.NoError(t, err)
}

func TestTailRecoveryAcrossReopen(t *testing.T) {
	entryRepo, auditRepo, _, backend, err := badgerstore.NewMemoryRepositories()
	require.NoError(t, err)
	defer func() { auditRepo.Close(); entryRepo.Close(); backend.Close() }()

	ctx := context.Background()
	led, err := Open(auditRepo)
	require.NoError(t, err)
	_, err = led.Record(ctx, successFields(core.OperationInsert))
	require.NoError(t, err)
	second, err := led.Record(ctx, successFields(core.OperationQuery))
	require.NoError(t, err)

	// A fresh ledger over the same storage continues the chain
	reopened, err := Open(auditRepo)
	require.NoError(t, err)
	third, err := reopened.Record(ctx, successFields(core.OperationDelete))
	require.NoError(t, err)

	assert.Equal(t, uint64(3), third.Seq)
	assert.Equal(t, second.Hash, third.PrevHash)

	ok, err := reopened.VerifyChain(ctx, 1, 3)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExportRange(t *testing.T) {
	led, _, cleanup := newTestLedger(t)
	defer cleanup()

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := led.Record(ctx, successFields(core.OperationInsert))
		require.NoError(t, err)
	}

	events, err := led.Export(ctx, 2, 3)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(2), events[0].Seq)
	assert.Equal(t, uint64(3), events[1].Seq)

	_, err = led.Export(ctx, 3, 2)
	assert.True(t, errors.Is(err, core.ErrInvalidRange))
}

func TestRecordCorrection(t *testing.T) {
	led, _, cleanup := newTestLedger(t)
	defer cleanup()

	ctx := context.Background()
	original, err := led.Record(ctx, successFields(core.OperationInsert))
	require.NoError(t, err)

	correction, err := led.RecordCorrection(ctx, original.Seq, successFields(core.OperationInsert))
	require.NoError(t, err)
	assert.Equal(t, original.Seq, correction.RefSeq)

	_, err = led.RecordCorrection(ctx, 0, successFields(core.OperationInsert))
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	led, _, cleanup := newTestLedger(t)
	defer cleanup()

	ctx := context.Background()
	_, err := led.Record(ctx, successFields(core.OperationInsert))
	require.NoError(t, err)
	_, err = led.Record(ctx, successFields(core.OperationQuery))
	require.NoError(t, err)
	_, err = led.Record(ctx, Fields{
		Operation:   core.OperationQuery,
		RequestID:   "req",
		Outcome:     core.OutcomeFailure,
		FailureKind: "validation",
		LatencyMS:   3.0,
	})
	require.NoError(t, err)

	summary, err := led.Summarize(ctx, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Events)
	assert.Equal(t, 2, summary.Successes)
	assert.Equal(t, 1, summary.Failures)
	assert.Equal(t, 2, summary.ByOperation["query"])
	assert.Equal(t, 1, summary.ByOperation["insert"])
	assert.Equal(t, 1, summary.ByFailure["validation"])
	assert.Equal(t, uint64(1), summary.FirstSeq)
	assert.Equal(t, uint64(3), summary.LastSeq)
}
