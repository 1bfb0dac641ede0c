package corpus

import (
	"context"

	"github.com/pgvector/pgvector-go"
)

// Repository handles corpus document storage and vector search.
type Repository interface {
	Store(ctx context.Context, doc *Document) error
	SearchSimilar(ctx context.Context, collection string, embedding pgvector.Vector, limit int) ([]*ScoredDocument, error)
	CountByCollection(ctx context.Context, collection string) (int, error)
}
