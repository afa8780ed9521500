package core

import "context"

// EmbeddingProvider converts text fragments into fixed-dimension vectors.
// Implementations batch all texts in a single upstream request.
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// LLMProvider is the completion service boundary. It is used for semantic
// chunk segmentation and for answer generation; prompt content belongs to
// the callers.
type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt string, userPrompt string) (string, error)
}
