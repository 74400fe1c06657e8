package llm

import (
	"context"
	"fmt"
	"sort"

	openai "github.com/sashabaranov/go-openai"

	"github.com/alanyoungcy/polyrelate/internal/domain"
)

// maxEmbedBatch is the provider's per-request input limit.
const maxEmbedBatch = 2048

// Embedder implements domain.Embedder on the embeddings endpoint.
type Embedder struct {
	client    *Client
	model     string
	dimension int
	batchSize int
}

var _ domain.Embedder = (*Embedder)(nil)

// NewEmbedder creates an Embedder. dimension 0 accepts whatever the model
// returns; otherwise it is requested and enforced.
func NewEmbedder(c *Client, model string, dimension, batchSize int) *Embedder {
	if batchSize <= 0 || batchSize > maxEmbedBatch {
		batchSize = maxEmbedBatch
	}
	return &Embedder{client: c, model: model, dimension: dimension, batchSize: batchSize}
}

func (e *Embedder) Model() string  { return e.model }
func (e *Embedder) Dimension() int { return e.dimension }

// Embed embeds one text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in provider-sized requests and returns vectors in
// input order. Any failure fails the whole call.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		vecs, err := e.embedChunk(ctx, texts[start:end])
		if err != nil {
			return nil, &domain.UpstreamError{Op: "embed", Err: err}
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *Embedder) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := do(ctx, e.client, "embed", func(ctx context.Context) (openai.EmbeddingResponse, error) {
		return e.client.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input:      texts,
			Model:      openai.EmbeddingModel(e.model),
			Dimensions: e.dimension,
		})
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("provider returned %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	vecs := make([][]float32, len(data))
	for i, d := range data {
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("provider returned an empty vector at index %d", d.Index)
		}
		if e.dimension > 0 && len(d.Embedding) != e.dimension {
			return nil, fmt.Errorf("provider returned dimension %d, want %d", len(d.Embedding), e.dimension)
		}
		vecs[i] = d.Embedding
	}
	return vecs, nil
}
