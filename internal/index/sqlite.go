package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"legalguardian/internal/domain"
)

// Schema of the corpus file. Embeddings are little-endian float32 blobs.
const Schema = `
CREATE TABLE IF NOT EXISTS chunks (
	position  INTEGER PRIMARY KEY,
	text      TEXT NOT NULL,
	reference TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS vectors (
	position  INTEGER PRIMARY KEY,
	embedding BLOB NOT NULL
);
`

// Load opens the SQLite file read-only and returns the index and corpus.
// A missing file yields an error wrapping os.ErrNotExist.
func Load(ctx context.Context, path string) (*Flat, *Corpus, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil, fmt.Errorf("index: corpus file %s: %w", path, err)
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&immutable=1")
	if err != nil {
		return nil, nil, fmt.Errorf("index: open %s: %w", path, err)
	}
	defer db.Close()

	corpus, err := loadChunks(ctx, db)
	if err != nil {
		return nil, nil, err
	}
	flat, err := loadVectors(ctx, db)
	if err != nil {
		return nil, nil, err
	}
	if corpus.Len() == 0 || flat.Len() == 0 {
		return nil, nil, fmt.Errorf("index: %s: %w", path, ErrEmpty)
	}
	return flat, corpus, nil
}

// loadChunks reads chunks ordered by position. Positions must run densely
// from zero since the corpus array index is what vectors refer to.
func loadChunks(ctx context.Context, db *sql.DB) (*Corpus, error) {
	rows, err := db.QueryContext(ctx, `SELECT position, text, reference FROM chunks ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("index: query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.Chunk
	for rows.Next() {
		var (
			pos int
			c   domain.Chunk
		)
		if err := rows.Scan(&pos, &c.Text, &c.Reference); err != nil {
			return nil, fmt.Errorf("index: scan chunk: %w", err)
		}
		if pos != len(chunks) {
			return nil, fmt.Errorf("index: chunk position %d, want %d: %w", pos, len(chunks), ErrSparse)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index: read chunks: %w", err)
	}
	return NewCorpus(chunks), nil
}

func loadVectors(ctx context.Context, db *sql.DB) (*Flat, error) {
	rows, err := db.QueryContext(ctx, `SELECT position, embedding FROM vectors ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("index: query vectors: %w", err)
	}
	defer rows.Close()

	var (
		positions []int
		vectors   [][]float32
	)
	for rows.Next() {
		var (
			pos  int
			blob []byte
		)
		if err := rows.Scan(&pos, &blob); err != nil {
			return nil, fmt.Errorf("index: scan vector: %w", err)
		}
		vec, err := DecodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("index: vector %d: %w", pos, err)
		}
		positions = append(positions, pos)
		vectors = append(vectors, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index: read vectors: %w", err)
	}
	return NewFlat(positions, vectors)
}

// EncodeVector serializes v as little-endian float32 values.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

// DecodeVector parses a blob written by EncodeVector.
func DecodeVector(blob []byte) ([]float32, error) {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d", len(blob))
	}
	v := make([]float32, len(blob)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[4*i:]))
	}
	return v, nil
}
