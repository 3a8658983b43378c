// Package retrieval maps a query to ranked corpus chunks through the
// embedding service and the vector index.
package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"legalguardian/internal/domain"
	"legalguardian/internal/index"
)

const (
	// DefaultQueryPrefix is the task marker E5 embedding models expect on queries.
	DefaultQueryPrefix = "query: "
	defaultTopK        = 5
)

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index returns nearest neighbours of a normalized vector.
type Index interface {
	Search(vector []float32, k int) ([]index.Match, error)
	Len() int
}

// Corpus resolves index positions to chunks.
type Corpus interface {
	Chunk(position int) (domain.Chunk, bool)
	Len() int
}

// Stats describes one search. Err is set when an external call failed and the
// result was replaced by an empty list.
type Stats struct {
	Requested  int
	Candidates int
	Dropped    int
	Returned   int
	Elapsed    time.Duration
	Err        error
}

// Retriever runs vector search over a read-only corpus.
type Retriever struct {
	embedder    Embedder
	index       Index
	corpus      Corpus
	queryPrefix string
	topK        int
	logger      *slog.Logger
}

type Option func(*Retriever)

// WithQueryPrefix overrides the marker prepended to every query before
// embedding. It must match the deployed embedding model's convention.
func WithQueryPrefix(prefix string) Option {
	return func(r *Retriever) {
		r.queryPrefix = prefix
	}
}

// WithTopK sets the default result count used when Search gets topK <= 0.
func WithTopK(k int) Option {
	return func(r *Retriever) {
		if k > 0 {
			r.topK = k
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Retriever) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a Retriever.
func New(e Embedder, idx Index, c Corpus, opts ...Option) (*Retriever, error) {
	if e == nil {
		return nil, errors.New("retrieval: embedder must not be nil")
	}
	if idx == nil {
		return nil, errors.New("retrieval: index must not be nil")
	}
	if c == nil {
		return nil, errors.New("retrieval: corpus must not be nil")
	}
	r := &Retriever{
		embedder:    e,
		index:       idx,
		corpus:      c,
		queryPrefix: DefaultQueryPrefix,
		topK:        defaultTopK,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// TopK returns the default result count.
func (r *Retriever) TopK() int { return r.topK }

// Search returns at most topK results ordered by descending score. Failures
// of the embedding service or the index are logged and produce an empty
// result; an empty result is not an error.
func (r *Retriever) Search(ctx context.Context, query string, topK int) ([]domain.RetrievedResult, Stats) {
	start := time.Now()
	if topK <= 0 {
		topK = r.topK
	}
	stats := Stats{Requested: topK}

	results, err := r.search(ctx, query, topK, &stats)
	stats.Elapsed = time.Since(start)
	if err != nil {
		stats.Err = err
		r.logger.Error("retrieval failed", "err", err)
		return []domain.RetrievedResult{}, stats
	}
	stats.Returned = len(results)
	if stats.Dropped > 0 {
		r.logger.Warn("index returned positions outside the corpus",
			"dropped", stats.Dropped, "corpus_size", r.corpus.Len(), "index_size", r.index.Len())
	}
	r.logger.Info("retrieval complete", "returned", stats.Returned, "requested", topK, "elapsed", stats.Elapsed)
	return results, stats
}

func (r *Retriever) search(ctx context.Context, query string, topK int, stats *Stats) ([]domain.RetrievedResult, error) {
	vector, err := r.embedder.Embed(ctx, r.queryPrefix+query)
	if err != nil {
		return nil, err
	}
	matches, err := r.index.Search(index.Normalize(vector), topK)
	if err != nil {
		return nil, err
	}
	stats.Candidates = len(matches)

	results := make([]domain.RetrievedResult, 0, len(matches))
	for _, m := range matches {
		chunk, ok := r.corpus.Chunk(m.Position)
		if !ok {
			stats.Dropped++
			continue
		}
		results = append(results, domain.RetrievedResult{
			ChunkText: chunk.Text,
			Reference: chunk.Reference,
			Score:     m.Score,
			Position:  m.Position,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}
