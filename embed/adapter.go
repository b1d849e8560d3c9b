// Package embed wraps an ai.Embedder with the guarantees the encrypted
// index depends on: every returned vector has the configured dimension
// and only finite values, every external call is bounded by a timeout,
// and transient failures are retried a small fixed number of times.
// Vectors that fail validation never reach the index.
package embed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/medvault/ai"
	"github.com/poiesic/medvault/core"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxAttempts = 3
	defaultRetryDelay  = 500 * time.Millisecond
)

// Adapter validates embedding shapes and applies the retry/timeout
// policy. It owns no persistent state.
type Adapter struct {
	embedder    ai.Embedder
	dimension   int
	timeout     time.Duration
	maxAttempts int
	retryDelay  time.Duration
	logger      *slog.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithTimeout bounds each embedding call. Default is 30s.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithMaxAttempts sets the retry bound for transient failures. Default is 3.
func WithMaxAttempts(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.maxAttempts = n
		}
	}
}

// WithRetryDelay sets the base delay for exponential backoff. Default is 500ms.
func WithRetryDelay(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.retryDelay = d
		}
	}
}

// WithLogger sets a custom logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		if logger == nil {
			logger = slog.Default()
		}
		a.logger = logger
	}
}

// NewAdapter creates an adapter for the given embedder and index dimension.
func NewAdapter(embedder ai.Embedder, dimension int, opts ...Option) (*Adapter, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder required")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dimension)
	}

	a := &Adapter{
		embedder:    embedder,
		dimension:   dimension,
		timeout:     defaultTimeout,
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
		logger:      slog.Default().With("component", "embed-adapter"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Dimension returns the configured embedding dimension.
func (a *Adapter) Dimension() int {
	return a.dimension
}

// Embed generates and validates an embedding for a single text.
// Shape violations are never retried; transient call failures are.
func (a *Adapter) Embed(ctx context.Context, text string) ([]float32, error) {
	var vector []float32
	err := retryWithBackoff(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()

		v, err := a.embedder.EmbedText(callCtx, text)
		if err != nil {
			return err
		}
		vector = v
		return nil
	}, a.maxAttempts, a.retryDelay)
	if err != nil {
		return nil, err
	}

	if err := core.ValidateVector(vector, a.dimension); err != nil {
		a.logger.Error("embedding failed shape validation", "len", len(vector), "err", err)
		return nil, fmt.Errorf("%w: %v", core.ErrEmbeddingShape, err)
	}
	return vector, nil
}

// EmbedBatch generates and validates embeddings for an ordered sequence
// of texts. The batch fails atomically: one bad vector fails the whole
// batch and nothing is returned for insertion.
func (a *Adapter) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var vectors [][]float32
	err := retryWithBackoff(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()

		vs, err := a.embedder.EmbedTexts(callCtx, texts)
		if err != nil {
			return err
		}
		vectors = vs
		return nil
	}, a.maxAttempts, a.retryDelay)
	if err != nil {
		return nil, err
	}

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", core.ErrEmbeddingShape, len(vectors), len(texts))
	}
	for i, v := range vectors {
		if err := core.ValidateVector(v, a.dimension); err != nil {
			a.logger.Error("batch embedding failed shape validation", "position", i, "err", err)
			return nil, fmt.Errorf("%w: vector %d: %v", core.ErrEmbeddingShape, i, err)
		}
	}
	return vectors, nil
}
