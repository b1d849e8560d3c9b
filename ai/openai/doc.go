// Package openai implements the ai interfaces against any
// OpenAI-compatible embedding endpoint (OpenAI, Ollama, LocalAI, vLLM).
package openai
