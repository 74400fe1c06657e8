package domain

import "context"

// Embedder turns text into fixed-dimension vectors. Failures are returned as
// *UpstreamError; implementations never substitute zero vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per input in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	Dimension() int
}

// Analyzer produces a structured correlation judgement for a market pair.
// An unsupported model is a *ValidationError raised before any provider call.
type Analyzer interface {
	Analyze(ctx context.Context, m1, m2 Market, model string) (CorrelationAnalysis, error)
}
