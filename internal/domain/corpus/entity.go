package corpus

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Document is one entry in the finance knowledge corpus.
type Document struct {
	ID         uuid.UUID `db:"id"`
	Collection string    `db:"collection"`

	Term    string `db:"term"`
	Content string `db:"content"`
	Source  string `db:"source"`

	Embedding           pgvector.Vector `db:"embedding"`
	EmbeddingModel      string          `db:"embedding_model"`
	EmbeddingDimensions int             `db:"embedding_dimensions"`

	CreatedAt time.Time `db:"created_at"`
}

// ScoredDocument pairs a document with its cosine similarity to a query.
type ScoredDocument struct {
	Document
	Similarity float64 `db:"similarity"`
}
