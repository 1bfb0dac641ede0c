package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"

	"delphi/internal/domain/corpus"
)

// Compile-time check
var _ corpus.Repository = (*CorpusRepository)(nil)

// CorpusRepository implements corpus.Repository using sqlx and pgvector
type CorpusRepository struct {
	db *sqlx.DB
}

// NewCorpusRepository creates a new corpus repository
func NewCorpusRepository(db *sqlx.DB) *CorpusRepository {
	return &CorpusRepository{db: db}
}

// Store inserts a new corpus document
func (r *CorpusRepository) Store(ctx context.Context, doc *corpus.Document) error {
	query := `
		INSERT INTO corpus_documents (
			id, collection, term, content, source,
			embedding, embedding_model, embedding_dimensions, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)`

	_, err := r.db.ExecContext(ctx, query,
		doc.ID, doc.Collection, doc.Term, doc.Content, doc.Source,
		doc.Embedding, doc.EmbeddingModel, doc.EmbeddingDimensions, doc.CreatedAt,
	)

	return err
}

// SearchSimilar performs semantic search using pgvector cosine similarity
func (r *CorpusRepository) SearchSimilar(ctx context.Context, collection string, embedding pgvector.Vector, limit int) ([]*corpus.ScoredDocument, error) {
	var docs []*corpus.ScoredDocument

	query := `
		SELECT *, 1 - (embedding <=> $2) as similarity
		FROM corpus_documents
		WHERE collection = $1
		ORDER BY embedding <=> $2
		LIMIT $3`

	if err := r.db.SelectContext(ctx, &docs, query, collection, embedding, limit); err != nil {
		return nil, err
	}

	return docs, nil
}

// CountByCollection returns the number of documents in a collection
func (r *CorpusRepository) CountByCollection(ctx context.Context, collection string) (int, error) {
	var count int

	query := `SELECT COUNT(*) FROM corpus_documents WHERE collection = $1`

	if err := r.db.GetContext(ctx, &count, query, collection); err != nil {
		return 0, err
	}

	return count, nil
}
