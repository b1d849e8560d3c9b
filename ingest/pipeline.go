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

// Package ingest runs batches of raw records through an ingester on a
// bounded worker pool.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/medvault/anonymize"
	"github.com/poiesic/medvault/core"
)

// DefaultPoolSize is the default number of concurrent ingest workers.
const DefaultPoolSize = 4

// Receipt reports the outcome of ingesting a single record.
type Receipt struct {
	Token      core.Token
	Seq        uint64
	Redactions int
}

// Ingester processes one scrubbed record end to end. Implemented by the
// engine; defined here so the pipeline does not depend on it.
type Ingester interface {
	Ingest(ctx context.Context, actorID string, raw anonymize.RawRecord) (*Receipt, error)
}

// RecordError ties an ingest failure to the source record that caused it.
type RecordError struct {
	SourceID string
	Err      error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %s: %v", e.SourceID, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// BatchResult summarizes a pipeline run.
type BatchResult struct {
	Receipts []*Receipt
	Errors   []*RecordError
}

// Succeeded returns the number of records ingested without error.
func (r *BatchResult) Succeeded() int { return len(r.Receipts) }

// Failed returns the number of records that errored.
func (r *BatchResult) Failed() int { return len(r.Errors) }

// Pipeline fans a batch of raw records out over a worker pool. Each
// record goes through the full ingest path independently; one bad record
// does not stop the rest of the batch.
type Pipeline struct {
	ingester Ingester
	poolSize int
	logger   *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPoolSize sets the number of concurrent workers.
func WithPoolSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.poolSize = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
	}
}

// NewPipeline creates a pipeline over the given ingester.
func NewPipeline(ingester Ingester, opts ...Option) (*Pipeline, error) {
	if ingester == nil {
		return nil, fmt.Errorf("ingester required")
	}
	p := &Pipeline{
		ingester: ingester,
		poolSize: DefaultPoolSize,
		logger:   slog.Default().With("component", "ingest"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run ingests every record in the batch and returns per-record receipts
// and errors. Receipts and errors are ordered by submission.
func (p *Pipeline) Run(ctx context.Context, actorID string, records []anonymize.RawRecord) (*BatchResult, error) {
	pool, err := ants.NewPool(p.poolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	receipts := make([]*Receipt, len(records))
	errs := make([]*RecordError, len(records))

	var wg sync.WaitGroup
	for i := range records {
		i := i
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			receipt, err := p.ingester.Ingest(ctx, actorID, records[i])
			if err != nil {
				errs[i] = &RecordError{SourceID: records[i].SourceID, Err: err}
				return
			}
			receipts[i] = receipt
		})
		if submitErr != nil {
			wg.Done()
			errs[i] = &RecordError{SourceID: records[i].SourceID, Err: submitErr}
		}
	}
	wg.Wait()

	result := &BatchResult{}
	for i := range records {
		if errs[i] != nil {
			result.Errors = append(result.Errors, errs[i])
			continue
		}
		result.Receipts = append(result.Receipts, receipts[i])
	}

	p.logger.Info("ingest batch complete",
		"total", len(records),
		"succeeded", result.Succeeded(),
		"failed", result.Failed())
	return result, nil
}
