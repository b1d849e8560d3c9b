// Package index implements the encrypted vector index: an inverted-file
// structure whose entries are sealed at rest and decrypted only
// transiently during result assembly.
//
// Vectors are grouped into centroid-defined buckets. Bucket assignment is
// computed once on the plaintext vector at insert time, before sealing;
// queries probe only the nearest buckets, so a search never decrypts the
// whole corpus. Centroids are seeded from the first inserted vectors and
// then frozen.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/poiesic/medvault/core"
	"github.com/poiesic/medvault/seal"
	"github.com/poiesic/medvault/storage"
)

const (
	// DefaultBuckets is the default number of centroid buckets (P).
	DefaultBuckets = 32
	// DefaultProbes is the default number of buckets probed per query.
	DefaultProbes = 4
	// DefaultMinSimilarity excludes results with negative similarity
	// rather than padding with low-quality matches.
	DefaultMinSimilarity float32 = 0.0
)

// Config holds the structural parameters of an index. Dimension is fixed
// for the index lifetime.
type Config struct {
	Dimension     int
	Buckets       int
	Probes        int
	MinSimilarity float32
	IndexVersion  uint32
}

// normalize fills in defaults.
func (c *Config) normalize() {
	if c.Buckets <= 0 {
		c.Buckets = DefaultBuckets
	}
	if c.Probes <= 0 {
		c.Probes = DefaultProbes
	}
	if c.IndexVersion == 0 {
		c.IndexVersion = 1
	}
}

// Index is an encrypted vector index over one logical collection. It
// holds the sealer (key material) and the centroid table for the process
// lifetime.
//
// Concurrency: searches proceed concurrently under a read lock; inserts,
// deletes and compaction take the write lock (single-writer discipline
// for bucket-structure mutation).
type Index struct {
	mu      sync.RWMutex
	sealer  *seal.Sealer
	entries storage.EntryRepository
	state   storage.StateRepository

	cfg       Config
	centroids [][]float32 // unit-normalized, frozen once full
	nextSeq   uint64
	ready     bool
	logger    *slog.Logger
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets a custom logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(i *Index) {
		if logger == nil {
			logger = slog.Default()
		}
		i.logger = logger
	}
}

// payload is the plaintext form of CiphertextPayload.
type payload struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Open creates or reopens an index over the given repositories. If prior
// state exists its dimension must match the configured one.
func Open(entries storage.EntryRepository, state storage.StateRepository, sealer *seal.Sealer, cfg Config, opts ...Option) (*Index, error) {
	if entries == nil {
		return nil, fmt.Errorf("entry repository required")
	}
	if state == nil {
		return nil, fmt.Errorf("state repository required")
	}
	if sealer == nil {
		return nil, fmt.Errorf("%w: no sealer provided", core.ErrKeyUnavailable)
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", cfg.Dimension)
	}
	cfg.normalize()

	idx := &Index{
		sealer:  sealer,
		entries: entries,
		state:   state,
		cfg:     cfg,
		logger:  slog.Default().With("component", "index"),
	}
	for _, opt := range opts {
		opt(idx)
	}

	stored, err := state.LoadIndexState(context.Background())
	if err != nil {
		return nil, err
	}
	if stored != nil {
		if stored.Dimension != cfg.Dimension {
			return nil, fmt.Errorf("%w: stored dimension %d, configured %d",
				core.ErrDimensionMismatch, stored.Dimension, cfg.Dimension)
		}
		idx.nextSeq = stored.NextSeq
		idx.cfg.IndexVersion = stored.IndexVersion
		if len(stored.SealedCentroids) > 0 {
			plain, err := sealer.Open(stored.SealedCentroids)
			if err != nil {
				return nil, fmt.Errorf("%w: cannot decrypt centroids: %v", core.ErrKeyUnavailable, err)
			}
			err = json.Unmarshal(plain, &idx.centroids)
			seal.Zero(plain)
			if err != nil {
				return nil, err
			}
		}
		idx.logger.Info("reopened index", "dimension", cfg.Dimension, "centroids", len(idx.centroids), "nextSeq", idx.nextSeq)
	} else {
		idx.nextSeq = 1
		if err := idx.saveState(context.Background()); err != nil {
			return nil, err
		}
		idx.logger.Info("initialized index", "dimension", cfg.Dimension, "buckets", cfg.Buckets)
	}

	idx.ready = true
	return idx, nil
}

// Dimension returns the fixed vector dimension of the index.
func (i *Index) Dimension() int {
	return i.cfg.Dimension
}

// Close persists structural state and marks the index unusable.
func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.ready {
		return nil
	}
	i.ready = false
	return i.saveState(context.Background())
}

// saveState seals centroids and persists the structural state.
// Caller must hold the write lock (or be in Open, pre-publication).
func (i *Index) saveState(ctx context.Context) error {
	var sealedCentroids []byte
	if len(i.centroids) > 0 {
		plain, err := json.Marshal(i.centroids)
		if err != nil {
			return err
		}
		sealedCentroids, err = i.sealer.Seal(plain)
		seal.Zero(plain)
		if err != nil {
			return err
		}
	}
	return i.state.SaveIndexState(ctx, &core.IndexState{
		Dimension:       i.cfg.Dimension,
		IndexVersion:    i.cfg.IndexVersion,
		NextSeq:         i.nextSeq,
		SealedCentroids: sealedCentroids,
	})
}

// assignBucket picks the bucket for a plaintext vector, growing the
// centroid table until it reaches the configured bucket count. Caller
// must hold the write lock.
func (i *Index) assignBucket(v []float32) uint32 {
	if len(i.centroids) < i.cfg.Buckets {
		// Near-duplicate directions reuse an existing centroid so
		// repeated upserts do not exhaust the table.
		for c := range i.centroids {
			if cosineSimilarity(v, i.centroids[c]) > 0.9999 {
				return uint32(c)
			}
		}
		i.centroids = append(i.centroids, normalizeVector(v))
		return uint32(len(i.centroids) - 1)
	}
	best := 0
	bestScore := cosineSimilarity(v, i.centroids[0])
	for c := 1; c < len(i.centroids); c++ {
		if score := cosineSimilarity(v, i.centroids[c]); score > bestScore {
			best, bestScore = c, score
		}
	}
	return uint32(best)
}

// probeBuckets returns the nearest buckets to the query vector, up to
// the configured probe count. Caller must hold at least the read lock.
func (i *Index) probeBuckets(query []float32) []uint32 {
	type scored struct {
		bucket uint32
		score  float32
	}
	candidates := make([]scored, len(i.centroids))
	for c := range i.centroids {
		candidates[c] = scored{bucket: uint32(c), score: cosineSimilarity(query, i.centroids[c])}
	}
	sort.Slice(candidates, func(a, b int) bool {
		return candidates[a].score > candidates[b].score
	})
	n := i.cfg.Probes
	if n > len(candidates) {
		n = len(candidates)
	}
	buckets := make([]uint32, n)
	for c := 0; c < n; c++ {
		buckets[c] = candidates[c].bucket
	}
	return buckets
}

// Insert seals a record and stores it. Re-insertion of the same token is
// an upsert: the prior entry is tombstoned, never mutated in place.
// Returns the entry's insertion sequence.
func (i *Index) Insert(ctx context.Context, record *core.Record) (uint64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.ready {
		return 0, core.ErrIndexNotReady
	}
	if err := core.ValidateRecord(record, i.cfg.Dimension); err != nil {
		return 0, err
	}

	// Upsert: tombstone any live prior entry for this token
	prior, err := i.entries.GetEntry(ctx, record.Token)
	switch {
	case err == nil:
		if !prior.Tombstone {
			if err := i.entries.TombstoneEntry(ctx, record.Token); err != nil {
				return 0, err
			}
			i.logger.Debug("tombstoned prior entry on upsert", "token", record.Token)
		}
	case err != storage.ErrNotFound:
		return 0, err
	}

	bucket := i.assignBucket(record.Embedding)

	ctVector, err := i.sealer.SealVector(record.Embedding)
	if err != nil {
		return 0, err
	}

	plain, err := json.Marshal(payload{Text: record.Text, Metadata: record.Metadata})
	if err != nil {
		return 0, err
	}
	ctPayload, err := i.sealer.Seal(plain)
	seal.Zero(plain)
	if err != nil {
		return 0, err
	}

	seq := i.nextSeq
	entry := &core.EncryptedEntry{
		Token:             record.Token,
		CiphertextVector:  ctVector,
		CiphertextPayload: ctPayload,
		Bucket:            bucket,
		IndexVersion:      i.cfg.IndexVersion,
		Seq:               seq,
		InsertedAt:        time.Now().UTC(),
	}
	if err := i.entries.PutEntry(ctx, entry); err != nil {
		return 0, err
	}

	i.nextSeq++
	if err := i.saveState(ctx); err != nil {
		return 0, err
	}
	return seq, nil
}

// candidate is a scored ciphertext entry awaiting payload decryption.
type candidate struct {
	token     core.Token
	score     float32
	seq       uint64
	ctPayload []byte
}

// Search returns the k nearest live entries to the query vector by
// cosine similarity, probing only the nearest buckets. Candidate vectors
// are decrypted one at a time and zeroized immediately after scoring;
// payloads are decrypted only for the final top-k.
//
// Ties are broken by insertion order (earlier insertion wins). Results
// below the minimum-similarity floor are excluded.
func (i *Index) Search(ctx context.Context, query []float32, k int) ([]core.SearchResult, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if !i.ready {
		return nil, core.ErrIndexNotReady
	}
	if err := core.ValidateVector(query, i.cfg.Dimension); err != nil {
		return nil, err
	}
	if k <= 0 || len(i.centroids) == 0 {
		return []core.SearchResult{}, nil
	}

	var candidates []candidate
	// An upsert can leave an entry reachable from more than one bucket
	// key, so candidates are deduplicated by token.
	seen := make(map[core.Token]struct{})
	for _, bucket := range i.probeBuckets(query) {
		entries, err := i.entries.EntriesByBucket(ctx, bucket)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if entry.Tombstone {
				continue
			}
			if _, ok := seen[entry.Token]; ok {
				continue
			}
			seen[entry.Token] = struct{}{}
			vec, err := i.sealer.OpenVector(entry.CiphertextVector)
			if err != nil {
				return nil, err
			}
			score := cosineSimilarity(query, vec)
			seal.ZeroVector(vec)

			if score < i.cfg.MinSimilarity {
				continue
			}
			candidates = append(candidates, candidate{
				token:     entry.Token,
				score:     score,
				seq:       entry.Seq,
				ctPayload: entry.CiphertextPayload,
			})
		}
	}

	sort.Slice(candidates, func(a, b int) bool {
		if candidates[a].score != candidates[b].score {
			return candidates[a].score > candidates[b].score
		}
		return candidates[a].seq < candidates[b].seq
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	results := make([]core.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		plain, err := i.sealer.Open(c.ctPayload)
		if err != nil {
			return nil, err
		}
		var p payload
		err = json.Unmarshal(plain, &p)
		seal.Zero(plain)
		if err != nil {
			return nil, err
		}
		results = append(results, core.SearchResult{
			Token:    c.token,
			Score:    c.score,
			Text:     p.Text,
			Metadata: p.Metadata,
		})
	}
	return results, nil
}

// Delete tombstones the entry for a token. Subsequent searches never
// return it, even though the ciphertext remains until compaction.
func (i *Index) Delete(ctx context.Context, token core.Token) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.ready {
		return core.ErrIndexNotReady
	}
	return i.entries.TombstoneEntry(ctx, token)
}

// Compact reclaims the space held by tombstoned entries. Returns the
// number of entries removed.
func (i *Index) Compact(ctx context.Context) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.ready {
		return 0, core.ErrIndexNotReady
	}
	removed, err := i.entries.PurgeTombstones(ctx)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		i.logger.Info("compacted index", "removed", removed)
	}
	return removed, nil
}
