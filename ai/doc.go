// Package ai defines the embedding service abstraction consumed by the
// rest of the system. Production use goes through the openai subpackage
// (any OpenAI-compatible endpoint); tests use the deterministic mock.
package ai
