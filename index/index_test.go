package index

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/medvault/core"
	"github.com/poiesic/medvault/seal"
	"github.com/poiesic/medvault/storage"
	badgerstore "github.com/poiesic/medvault/storage/badger"
)

func newTestIndex(t *testing.T, cfg Config) (*Index, storage.EntryRepository, storage.StateRepository, func()) {
	t.Helper()

	entryRepo, auditRepo, stateRepo, backend, err := badgerstore.NewMemoryRepositories()
	require.NoError(t, err)

	key := make([]byte, seal.KeySize)
	for i := range key {
		key[i] = byte(i * 3)
	}
	sealer, err := seal.NewSealer(key)
	require.NoError(t, err)

	idx, err := Open(entryRepo, stateRepo, sealer, cfg)
	require.NoError(t, err)

	cleanup := func() {
		idx.Close()
		auditRepo.Close()
		entryRepo.Close()
		backend.Close()
	}
	return idx, entryRepo, stateRepo, cleanup
}

func record(source string, v []float32) *core.Record {
	return &core.Record{
		Token:     core.TokenFromSource([]byte("salt"), source),
		Text:      "note for " + source,
		Embedding: v,
		Metadata:  map[string]string{"source": "test"},
	}
}

func TestSelfRetrieval(t *testing.T) {
	idx, _, _, cleanup := newTestIndex(t, Config{Dimension: 3})
	defer cleanup()

	ctx := context.Background()
	r := record("patient-001", []float32{0.2, 0.5, 0.9})
	_, err := idx.Insert(ctx, r)
	require.NoError(t, err)

	results, err := idx.Search(ctx, r.Embedding, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, r.Token, results[0].Token)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
	assert.Equal(t, r.Text, results[0].Text)
	assert.Equal(t, "test", results[0].Metadata["source"])
}

func TestRankedRetrieval(t *testing.T) {
	idx, _, _, cleanup := newTestIndex(t, Config{Dimension: 3})
	defer cleanup()

	ctx := context.Background()
	x := record("x", []float32{1, 0, 0})
	y := record("y", []float32{0, 1, 0})
	z := record("z", []float32{0.9, 0.1, 0})
	for _, r := range []*core.Record{x, y, z} {
		_, err := idx.Insert(ctx, r)
		require.NoError(t, err)
	}

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, x.Token, results[0].Token)
	assert.Equal(t, z.Token, results[1].Token)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
	assert.InDelta(t, 0.9939, results[1].Score, 1e-3)
}

func TestTieBreakByInsertionOrder(t *testing.T) {
	idx, _, _, cleanup := newTestIndex(t, Config{Dimension: 2})
	defer cleanup()

	ctx := context.Background()
	first := record("first", []float32{1, 0})
	second := record("second", []float32{2, 0}) // same direction, same cosine
	_, err := idx.Insert(ctx, first)
	require.NoError(t, err)
	_, err = idx.Insert(ctx, second)
	require.NoError(t, err)

	results, err := idx.Search(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, first.Token, results[0].Token)
	assert.Equal(t, second.Token, results[1].Token)
}

func TestDeletedEntryNeverReturned(t *testing.T) {
	idx, _, _, cleanup := newTestIndex(t, Config{Dimension: 2})
	defer cleanup()

	ctx := context.Background()
	r := record("gone", []float32{1, 0})
	_, err := idx.Insert(ctx, r)
	require.NoError(t, err)

	require.NoError(t, idx.Delete(ctx, r.Token))

	results, err := idx.Search(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestUpsertReplacesPriorEntry(t *testing.T) {
	idx, entryRepo, _, cleanup := newTestIndex(t, Config{Dimension: 2})
	defer cleanup()

	ctx := context.Background()
	token := core.TokenFromSource([]byte("salt"), "patient-002")

	_, err := idx.Insert(ctx, &core.Record{Token: token, Text: "v1", Embedding: []float32{1, 0}})
	require.NoError(t, err)
	seq2, err := idx.Insert(ctx, &core.Record{Token: token, Text: "v2", Embedding: []float32{1, 0}})
	require.NoError(t, err)

	results, err := idx.Search(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "v2", results[0].Text)

	got, err := entryRepo.GetEntry(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, seq2, got.Seq)
	assert.False(t, got.Tombstone)
}

func TestMinSimilarityFloor(t *testing.T) {
	idx, _, _, cleanup := newTestIndex(t, Config{Dimension: 2, MinSimilarity: 0.5})
	defer cleanup()

	ctx := context.Background()
	_, err := idx.Insert(ctx, record("near", []float32{1, 0.1}))
	require.NoError(t, err)
	_, err = idx.Insert(ctx, record("far", []float32{-1, 0}))
	require.NoError(t, err)

	results, err := idx.Search(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.GreaterOrEqual(t, results[0].Score, float32(0.5))
}

func TestSearchValidatesQuery(t *testing.T) {
	idx, _, _, cleanup := newTestIndex(t, Config{Dimension: 3})
	defer cleanup()

	_, err := idx.Search(context.Background(), []float32{1, 0}, 5)
	assert.True(t, errors.Is(err, core.ErrDimensionMismatch))
}

func TestSearchEmptyIndex(t *testing.T) {
	idx, _, _, cleanup := newTestIndex(t, Config{Dimension: 2})
	defer cleanup()

	results, err := idx.Search(context.Background(), []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestInsertValidatesRecord(t *testing.T) {
	idx, _, _, cleanup := newTestIndex(t, Config{Dimension: 3})
	defer cleanup()

	_, err := idx.Insert(context.Background(), &core.Record{
		Token:     core.TokenFromSource([]byte("salt"), "bad"),
		Embedding: []float32{1, 0}, // wrong dimension
	})
	assert.True(t, errors.Is(err, core.ErrDimensionMismatch))
}

func TestCompactRemovesTombstones(t *testing.T) {
	idx, _, _, cleanup := newTestIndex(t, Config{Dimension: 2})
	defer cleanup()

	ctx := context.Background()
	r := record("compact-me", []float32{0, 1})
	_, err := idx.Insert(ctx, r)
	require.NoError(t, err)
	require.NoError(t, idx.Delete(ctx, r.Token))

	removed, err := idx.Compact(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	removed, err = idx.Compact(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestReopenPreservesStateAndRejectsDimensionChange(t *testing.T) {
	entryRepo, auditRepo, stateRepo, backend, err := badgerstore.NewMemoryRepositories()
	require.NoError(t, err)
	defer func() { auditRepo.Close(); entryRepo.Close(); backend.Close() }()

	key := make([]byte, seal.KeySize)
	sealer, err := seal.NewSealer(key)
	require.NoError(t, err)

	ctx := context.Background()
	idx, err := Open(entryRepo, stateRepo, sealer, Config{Dimension: 2})
	require.NoError(t, err)

	r := record("persist", []float32{0.6, 0.8})
	seq, err := idx.Insert(ctx, r)
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	// Same storage, wrong dimension: refuse to open
	_, err = Open(entryRepo, stateRepo, sealer, Config{Dimension: 3})
	assert.True(t, errors.Is(err, core.ErrDimensionMismatch))

	// Matching dimension: centroids and sequence counter survive
	idx, err = Open(entryRepo, stateRepo, sealer, Config{Dimension: 2})
	require.NoError(t, err)
	defer idx.Close()

	results, err := idx.Search(ctx, r.Embedding, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, r.Token, results[0].Token)

	seq2, err := idx.Insert(ctx, record("later", []float32{0, 1}))
	require.NoError(t, err)
	assert.Greater(t, seq2, seq)
}

func TestOperationsAfterClose(t *testing.T) {
	idx, _, _, cleanup := newTestIndex(t, Config{Dimension: 2})
	defer cleanup()

	require.NoError(t, idx.Close())

	_, err := idx.Insert(context.Background(), record("late", []float32{1, 0}))
	assert.True(t, errors.Is(err, core.ErrIndexNotReady))

	_, err = idx.Search(context.Background(), []float32{1, 0}, 1)
	assert.True(t, errors.Is(err, core.ErrIndexNotReady))
}

func TestVectorsStoredEncrypted(t *testing.T) {
	idx, entryRepo, _, cleanup := newTestIndex(t, Config{Dimension: 2})
	defer cleanup()

	ctx := context.Background()
	r := record("sealed", []float32{1, 0})
	_, err := idx.Insert(ctx, r)
	require.NoError(t, err)

	entry, err := entryRepo.GetEntry(ctx, r.Token)
	require.NoError(t, err)

	// Sealed buffers carry a nonce and tag beyond the plaintext size
	assert.Greater(t, len(entry.CiphertextVector), 8)
	assert.NotContains(t, string(entry.CiphertextPayload), "note for sealed")
}
