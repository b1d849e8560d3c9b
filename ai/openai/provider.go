package openai

import (
	"github.com/poiesic/medvault/ai"
)

// Provider implements ai.Provider for OpenAI-compatible services.
type Provider struct {
	embedder *Embedder
}

var _ ai.Provider = (*Provider)(nil)

// NewProvider creates a provider with the given configuration.
func NewProvider(config *ai.Config) (ai.Provider, error) {
	embedder, err := newEmbedder(config)
	if err != nil {
		return nil, err
	}
	return &Provider{embedder: embedder}, nil
}

// Embedder returns the embedding service.
func (p *Provider) Embedder() ai.Embedder {
	return p.embedder
}

// Close releases provider resources. The underlying HTTP client holds no
// persistent connections that need explicit teardown.
func (p *Provider) Close() error {
	return nil
}
