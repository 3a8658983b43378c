package domain

// Chunk is an immutable unit of corpus text with its citation.
type Chunk struct {
	Text      string
	Reference string
	Index     int
}

// RetrievedResult is a chunk matched for a single query.
type RetrievedResult struct {
	ChunkText string  `json:"chunk_text"`
	Reference string  `json:"reference"`
	Score     float64 `json:"score"`
	Position  int     `json:"position"`
}
