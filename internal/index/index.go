// Package index serves the read-only corpus and its embedding vectors.
// Both are built externally and persisted in one SQLite file.
package index

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"legalguardian/internal/domain"
)

// Match is one nearest-neighbour hit. Position refers to the parallel corpus.
type Match struct {
	Position int
	Score    float64
}

// Flat is an exact inner-product index over L2-normalized vectors, which is
// cosine similarity for normalized queries.
type Flat struct {
	dim       int
	positions []int
	vectors   [][]float32
}

// NewFlat builds an index. positions[i] is the corpus position of vectors[i].
// Every vector must have the same dimension; vectors are normalized on entry.
func NewFlat(positions []int, vectors [][]float32) (*Flat, error) {
	if len(positions) != len(vectors) {
		return nil, fmt.Errorf("index: %d positions for %d vectors", len(positions), len(vectors))
	}
	f := &Flat{
		positions: make([]int, len(positions)),
		vectors:   make([][]float32, len(vectors)),
	}
	copy(f.positions, positions)
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("index: vector %d is empty", i)
		}
		if f.dim == 0 {
			f.dim = len(v)
		}
		if len(v) != f.dim {
			return nil, fmt.Errorf("index: vector %d has dimension %d, want %d", i, len(v), f.dim)
		}
		f.vectors[i] = Normalize(v)
	}
	return f, nil
}

// Len returns the number of indexed vectors.
func (f *Flat) Len() int { return len(f.vectors) }

// Dim returns the vector dimension, or 0 for an empty index.
func (f *Flat) Dim() int { return f.dim }

// Search returns up to k matches ordered by descending score. Equal scores
// keep index order.
func (f *Flat) Search(query []float32, k int) ([]Match, error) {
	if k <= 0 || len(f.vectors) == 0 {
		return nil, nil
	}
	if len(query) != f.dim {
		return nil, fmt.Errorf("index: query dimension %d, want %d", len(query), f.dim)
	}

	matches := make([]Match, len(f.vectors))
	for i, v := range f.vectors {
		matches[i] = Match{Position: f.positions[i], Score: dot(query, v)}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Normalize returns an L2-normalized copy of v. A zero vector is returned
// unchanged.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for i := range out {
		out[i] = float32(float64(out[i]) / norm)
	}
	return out
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// Corpus is the chunk array the index positions refer to.
type Corpus struct {
	chunks []domain.Chunk
}

// NewCorpus wraps chunks; chunk Index fields are set to their position.
func NewCorpus(chunks []domain.Chunk) *Corpus {
	c := &Corpus{chunks: make([]domain.Chunk, len(chunks))}
	for i, ch := range chunks {
		ch.Index = i
		c.chunks[i] = ch
	}
	return c
}

// Len returns the number of chunks.
func (c *Corpus) Len() int { return len(c.chunks) }

// Chunk returns the chunk at position i.
func (c *Corpus) Chunk(i int) (domain.Chunk, bool) {
	if i < 0 || i >= len(c.chunks) {
		return domain.Chunk{}, false
	}
	return c.chunks[i], true
}

// ErrEmpty is returned when a loaded file holds no chunks or no vectors.
var ErrEmpty = errors.New("index: empty")

// ErrSparse is returned when chunk positions do not run densely from zero.
var ErrSparse = errors.New("index: chunk positions are not dense")
