package store

import "time"

// Chunk classification tags assigned at ingestion.
const (
	ChunkTypeParagraph = "paragraph"
	ChunkTypeList      = "list"
	ChunkTypeQA        = "qa"
	ChunkTypeTableRow  = "table_row"
)

// NoPage is stored when a source has no page concept.
const NoPage = "N/A"

type DataChunk struct {
	ID            string    `json:"id"`
	Content       string    `json:"content"`
	Source        string    `json:"source"`
	Page          string    `json:"page"`
	ChunkType     string    `json:"chunk_type"`
	CreatedAt     time.Time `json:"created_at"`
	Embedding     []float32 `json:"-"` // Loaded into memory for scoring
	EmbeddingJSON string    `json:"-"` // Stored as JSON text
}
