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

// Package medvault is an encrypted semantic search engine for clinical
// records. Raw records are scrubbed of PHI and tokenized before anything
// else sees them, embedded through a validated adapter, stored sealed in
// a bucketed vector index, and every operation lands in a hash-chained
// audit ledger.
package medvault

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/medvault/ai"
	"github.com/poiesic/medvault/ai/openai"
	"github.com/poiesic/medvault/anonymize"
	"github.com/poiesic/medvault/core"
	"github.com/poiesic/medvault/embed"
	"github.com/poiesic/medvault/index"
	"github.com/poiesic/medvault/ingest"
	"github.com/poiesic/medvault/ledger"
	"github.com/poiesic/medvault/seal"
	"github.com/poiesic/medvault/storage"
	badgerstore "github.com/poiesic/medvault/storage/badger"
)

// DefaultDimension matches the all-minilm embedding model.
const DefaultDimension = 384

// Pipeline stage names, as they appear in StageError and logs.
const (
	StageReceive   = "receive"
	StageAnonymize = "anonymize"
	StageEmbed     = "embed"
	StageIndex     = "index"
	StageAudit     = "audit"
)

// Config holds everything needed to open an engine. Key or KeyFile must
// be set; there is no unencrypted mode.
type Config struct {
	DBPath   string
	InMemory bool // in-memory storage, for tests

	Key     []byte // 32-byte index key, takes precedence over KeyFile
	KeyFile string
	Salt    []byte // anonymization salt, 1-64 bytes

	Dimension     int // embedding dimension, default 384
	Buckets       int
	Probes        int
	MinSimilarity float32

	EmbedTimeout     time.Duration
	EmbedMaxAttempts int

	AI *ai.Config
}

// Engine wires the anonymizer, embedding adapter, encrypted index and
// audit ledger into one query/ingest surface. Every operation, including
// failed ones, produces exactly one audit event.
type Engine struct {
	backend   *badgerstore.Backend
	entryRepo storage.EntryRepository
	auditRepo storage.AuditRepository

	anonymizer *anonymize.Anonymizer
	adapter    *embed.Adapter
	index      *index.Index
	ledger     *ledger.Ledger
	provider   ai.Provider

	metrics Metrics
	logger  *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	provider ai.Provider
	metrics  Metrics
	logger   *slog.Logger
}

// WithProvider injects an embedding provider, replacing the default
// OpenAI-compatible one. Used by tests to supply a mock.
func WithProvider(provider ai.Provider) EngineOption {
	return func(o *engineOptions) {
		o.provider = provider
	}
}

// WithMetrics sets the metrics sink. Default is SlogMetrics.
func WithMetrics(m Metrics) EngineOption {
	return func(o *engineOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithLogger sets a custom logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) EngineOption {
	return func(o *engineOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Open creates or reopens an engine over the configured storage path.
func Open(cfg Config, opts ...EngineOption) (*Engine, error) {
	options := &engineOptions{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.metrics == nil {
		options.metrics = SlogMetrics{Logger: options.logger}
	}

	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}

	key := cfg.Key
	if key == nil {
		if cfg.KeyFile == "" {
			return nil, fmt.Errorf("%w: no key or key file configured", core.ErrKeyUnavailable)
		}
		var err error
		key, err = seal.LoadKeyFile(cfg.KeyFile)
		if err != nil {
			return nil, err
		}
	}
	sealer, err := seal.NewSealer(key)
	if err != nil {
		return nil, err
	}

	anonymizer, err := anonymize.New(cfg.Salt, anonymize.WithLogger(options.logger))
	if err != nil {
		return nil, err
	}

	backend, err := badgerstore.OpenBackend(cfg.DBPath, cfg.InMemory)
	if err != nil {
		return nil, err
	}
	entryRepo := badgerstore.NewEntryRepository(backend)
	auditRepo := badgerstore.NewAuditRepository(backend)
	stateRepo := badgerstore.NewStateRepository(backend)

	provider := options.provider
	if provider == nil {
		aiConfig := cfg.AI
		if aiConfig == nil {
			aiConfig = ai.DefaultConfig()
		}
		provider, err = openai.NewProvider(aiConfig)
		if err != nil {
			backend.Close()
			return nil, err
		}
	}

	var adapterOpts []embed.Option
	if cfg.EmbedTimeout > 0 {
		adapterOpts = append(adapterOpts, embed.WithTimeout(cfg.EmbedTimeout))
	}
	if cfg.EmbedMaxAttempts > 0 {
		adapterOpts = append(adapterOpts, embed.WithMaxAttempts(cfg.EmbedMaxAttempts))
	}
	adapterOpts = append(adapterOpts, embed.WithLogger(options.logger))
	adapter, err := embed.NewAdapter(provider.Embedder(), cfg.Dimension, adapterOpts...)
	if err != nil {
		provider.Close()
		backend.Close()
		return nil, err
	}

	idx, err := index.Open(entryRepo, stateRepo, sealer, index.Config{
		Dimension:     cfg.Dimension,
		Buckets:       cfg.Buckets,
		Probes:        cfg.Probes,
		MinSimilarity: cfg.MinSimilarity,
	}, index.WithLogger(options.logger))
	if err != nil {
		provider.Close()
		backend.Close()
		return nil, err
	}

	led, err := ledger.Open(auditRepo, ledger.WithLogger(options.logger))
	if err != nil {
		idx.Close()
		provider.Close()
		backend.Close()
		return nil, err
	}

	return &Engine{
		backend:    backend,
		entryRepo:  entryRepo,
		auditRepo:  auditRepo,
		anonymizer: anonymizer,
		adapter:    adapter,
		index:      idx,
		ledger:     led,
		provider:   provider,
		metrics:    options.metrics,
		logger:     options.logger,
	}, nil
}

// Close flushes index state and releases storage and provider resources.
func (e *Engine) Close() error {
	if err := e.index.Close(); err != nil {
		e.logger.Error("error closing index", "err", err)
	}
	if err := e.provider.Close(); err != nil {
		e.logger.Error("error closing AI provider", "err", err)
	}
	if err := e.entryRepo.Close(); err != nil {
		e.logger.Error("error closing entry repository", "err", err)
		return err
	}
	if err := e.auditRepo.Close(); err != nil {
		e.logger.Error("error closing audit repository", "err", err)
		return err
	}
	return e.backend.Close()
}

// Ingest runs one raw record through the full pipeline: scrub, embed,
// seal, insert, audit. Re-ingesting the same source record replaces the
// prior entry. Failures at any stage still produce an audit event.
func (e *Engine) Ingest(ctx context.Context, actorID string, raw anonymize.RawRecord) (*ingest.Receipt, error) {
	start := time.Now()
	requestID := uuid.NewString()

	record, redactions, err := e.anonymizer.Anonymize(&raw)
	if err != nil {
		return nil, e.fail(ctx, core.OperationInsert, requestID, actorID, "", StageAnonymize, start, err)
	}

	stageStart := time.Now()
	vector, err := e.adapter.Embed(ctx, record.Text)
	if err != nil {
		return nil, e.fail(ctx, core.OperationInsert, requestID, actorID, "", StageEmbed, start, err)
	}
	embedMS := msSince(stageStart)
	record.Embedding = vector

	stageStart = time.Now()
	seq, err := e.index.Insert(ctx, record)
	if err != nil {
		return nil, e.fail(ctx, core.OperationInsert, requestID, actorID, "", StageIndex, start, err)
	}
	indexMS := msSince(stageStart)

	latency := msSince(start)
	if _, err := e.ledger.Record(ctx, ledger.Fields{
		Operation: core.OperationInsert,
		RequestID: requestID,
		ActorID:   actorID,
		Outcome:   core.OutcomeSuccess,
		LatencyMS: latency,
	}); err != nil {
		return nil, core.NewStageError(StageAudit, err)
	}

	e.metrics.Observe(core.OperationInsert, core.OutcomeSuccess, latency, start)
	e.logger.Debug("ingest complete",
		"request_id", requestID,
		"token", record.Token,
		"redactions", redactions,
		"embed_ms", embedMS,
		"index_ms", indexMS,
		"total_ms", latency)

	return &ingest.Receipt{
		Token:      record.Token,
		Seq:        seq,
		Redactions: redactions,
	}, nil
}

// Query embeds the query text and returns the k most similar records.
// The query text lands in the audit ledger only as a hash and a length.
func (e *Engine) Query(ctx context.Context, actorID, query string, k int) ([]core.SearchResult, error) {
	start := time.Now()
	requestID := uuid.NewString()

	if query == "" {
		err := fmt.Errorf("%w: query text is empty", core.ErrMissingFields)
		return nil, e.fail(ctx, core.OperationQuery, requestID, actorID, query, StageReceive, start, err)
	}

	stageStart := time.Now()
	vector, err := e.adapter.Embed(ctx, query)
	if err != nil {
		return nil, e.fail(ctx, core.OperationQuery, requestID, actorID, query, StageEmbed, start, err)
	}
	embedMS := msSince(stageStart)

	stageStart = time.Now()
	results, err := e.index.Search(ctx, vector, k)
	if err != nil {
		return nil, e.fail(ctx, core.OperationQuery, requestID, actorID, query, StageIndex, start, err)
	}
	searchMS := msSince(stageStart)

	latency := msSince(start)
	if _, err := e.ledger.Record(ctx, ledger.Fields{
		Operation: core.OperationQuery,
		RequestID: requestID,
		ActorID:   actorID,
		Query:     query,
		Outcome:   core.OutcomeSuccess,
		LatencyMS: latency,
	}); err != nil {
		return nil, core.NewStageError(StageAudit, err)
	}

	e.metrics.Observe(core.OperationQuery, core.OutcomeSuccess, latency, start)
	e.logger.Debug("query complete",
		"request_id", requestID,
		"results", len(results),
		"embed_ms", embedMS,
		"search_ms", searchMS,
		"total_ms", latency)
	return results, nil
}

// Delete tombstones the record for a token. Idempotent from the caller's
// perspective once the token exists; deleting an unknown token fails.
func (e *Engine) Delete(ctx context.Context, actorID string, token core.Token) error {
	start := time.Now()
	requestID := uuid.NewString()

	if err := e.index.Delete(ctx, token); err != nil {
		return e.fail(ctx, core.OperationDelete, requestID, actorID, "", StageIndex, start, err)
	}

	latency := msSince(start)
	if _, err := e.ledger.Record(ctx, ledger.Fields{
		Operation: core.OperationDelete,
		RequestID: requestID,
		ActorID:   actorID,
		Outcome:   core.OutcomeSuccess,
		LatencyMS: latency,
	}); err != nil {
		return core.NewStageError(StageAudit, err)
	}
	e.metrics.Observe(core.OperationDelete, core.OutcomeSuccess, latency, start)
	return nil
}

// Compact purges tombstoned ciphertext from storage.
func (e *Engine) Compact(ctx context.Context, actorID string) (int, error) {
	start := time.Now()
	requestID := uuid.NewString()

	removed, err := e.index.Compact(ctx)
	if err != nil {
		return 0, e.fail(ctx, core.OperationCompact, requestID, actorID, "", StageIndex, start, err)
	}

	latency := msSince(start)
	if _, err := e.ledger.Record(ctx, ledger.Fields{
		Operation: core.OperationCompact,
		RequestID: requestID,
		ActorID:   actorID,
		Outcome:   core.OutcomeSuccess,
		LatencyMS: latency,
	}); err != nil {
		return 0, core.NewStageError(StageAudit, err)
	}
	e.metrics.Observe(core.OperationCompact, core.OutcomeSuccess, latency, start)
	return removed, nil
}

// VerifyAudit recomputes the audit hash chain over a sequence range.
func (e *Engine) VerifyAudit(ctx context.Context, from, to uint64) (bool, error) {
	return e.ledger.VerifyChain(ctx, from, to)
}

// AuditExport returns the audit events in a sequence range.
func (e *Engine) AuditExport(ctx context.Context, from, to uint64) ([]core.AuditEvent, error) {
	return e.ledger.Export(ctx, from, to)
}

// AuditSummary aggregates audited activity over a sequence range.
func (e *Engine) AuditSummary(ctx context.Context, from, to uint64) (*ledger.Summary, error) {
	return e.ledger.Summarize(ctx, from, to)
}

// LastAuditSeq returns the most recent audit sequence number, 0 if none.
func (e *Engine) LastAuditSeq() uint64 {
	return e.ledger.LastSeq()
}

// ResumeAudit lifts the ledger write halt after operator intervention,
// re-verifying the full chain first.
func (e *Engine) ResumeAudit(ctx context.Context) error {
	return e.ledger.Resume(ctx)
}

// NewPipeline creates a batch ingest pipeline backed by this engine.
func (e *Engine) NewPipeline(opts ...ingest.Option) (*ingest.Pipeline, error) {
	opts = append([]ingest.Option{ingest.WithLogger(e.logger)}, opts...)
	return ingest.NewPipeline(e, opts...)
}

// fail records the failure audit event and wraps the cause in a
// StageError. If the ledger itself refuses the event the original cause
// still wins; the ledger failure is logged.
func (e *Engine) fail(ctx context.Context, op core.Operation, requestID, actorID, query, stage string, start time.Time, cause error) error {
	stageErr := core.NewStageError(stage, cause)
	latency := msSince(start)

	if _, err := e.ledger.Record(ctx, ledger.Fields{
		Operation:   op,
		RequestID:   requestID,
		ActorID:     actorID,
		Query:       query,
		Outcome:     core.OutcomeFailure,
		FailureKind: stageErr.Kind.String(),
		LatencyMS:   latency,
	}); err != nil {
		e.logger.Error("failed to audit failure", "op", op.String(), "request_id", requestID, "err", err)
	}

	e.metrics.Observe(op, core.OutcomeFailure, latency, start)
	e.logger.Warn("operation failed",
		"op", op.String(),
		"request_id", requestID,
		"stage", stage,
		"kind", stageErr.Kind.String(),
		"err", cause)
	return stageErr
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}

var _ ingest.Ingester = (*Engine)(nil)
