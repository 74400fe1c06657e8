package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polyrelate/internal/domain"
)

// corpusLoader fetches embedding vectors in chunks with bounded concurrency.
type corpusLoader struct {
	embeddings  domain.EmbeddingStore
	chunkSize   int
	concurrency int
}

func newCorpusLoader(embeddings domain.EmbeddingStore, chunkSize, concurrency int) corpusLoader {
	if chunkSize < 1 {
		chunkSize = 500
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return corpusLoader{embeddings: embeddings, chunkSize: chunkSize, concurrency: concurrency}
}

// vectorSet is the result of a chunked embedding fetch. Failed holds the IDs of
// chunks the store could not serve; they are absent from Vectors.
type vectorSet struct {
	Vectors map[int64][]float32
	Failed  []int64
	Errs    []error
}

// load returns the vectors for ids. IDs without an embedding are absent. A
// failed chunk is recorded and the remaining chunks still load; an error is
// returned only on cancellation or when no chunk could be read.
func (l corpusLoader) load(ctx context.Context, ids []int64) (vectorSet, error) {
	out := vectorSet{Vectors: make(map[int64][]float32, len(ids))}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	var nchunks int
	for start := 0; start < len(ids); start += l.chunkSize {
		chunk := ids[start:min(start+l.chunkSize, len(ids))]
		nchunks++
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			vecs, err := l.embeddings.GetByIDs(gctx, chunk)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out.Failed = append(out.Failed, chunk...)
				out.Errs = append(out.Errs, err)
				return nil
			}
			for id, v := range vecs {
				out.Vectors[id] = v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, fmt.Errorf("corpus: load embeddings: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return out, fmt.Errorf("corpus: load embeddings: %w", err)
	}
	if nchunks > 0 && len(out.Errs) == nchunks {
		return out, fmt.Errorf("corpus: load embeddings: %w", errors.Join(out.Errs...))
	}
	return out, nil
}

// loadAll returns every stored vector.
func (l corpusLoader) loadAll(ctx context.Context) (vectorSet, error) {
	ids, err := l.embeddings.ListMarketIDs(ctx)
	if err != nil {
		return vectorSet{}, fmt.Errorf("corpus: list embedding ids: %w", err)
	}
	return l.load(ctx, ids)
}

// logFailures reports skipped chunks at warn level.
func (c vectorSet) logFailures(ctx context.Context, logger *slog.Logger, msg string) {
	if len(c.Errs) == 0 {
		return
	}
	logger.WarnContext(ctx, msg,
		slog.Int("failed_markets", len(c.Failed)),
		slog.String("error", errors.Join(c.Errs...).Error()),
	)
}
