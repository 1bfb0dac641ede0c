package corpus

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"delphi/internal/adapters/embeddings"
	"delphi/pkg/errors"
	"delphi/pkg/logger"
)

// Service provides semantic search over the finance corpus.
type Service struct {
	repo       Repository
	embedder   embeddings.Provider
	collection string
	topK       int
	floor      float64
	log        *logger.Logger
}

// Config holds the search parameters for the corpus service.
type Config struct {
	Collection      string
	TopK            int
	SimilarityFloor float64
}

// NewService constructs a corpus service.
func NewService(repo Repository, embedder embeddings.Provider, cfg Config) *Service {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	return &Service{
		repo:       repo,
		embedder:   embedder,
		collection: cfg.Collection,
		topK:       cfg.TopK,
		floor:      cfg.SimilarityFloor,
		log:        logger.Get(),
	}
}

// Search embeds the query and returns corpus documents above the similarity
// floor, best match first. An empty result is a valid outcome, not an error.
func (s *Service) Search(ctx context.Context, query string) ([]*ScoredDocument, error) {
	if query == "" {
		return nil, errors.ErrInvalidInput
	}

	vector, err := s.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "embed query")
	}

	docs, err := s.repo.SearchSimilar(ctx, s.collection, pgvector.NewVector(vector), s.topK)
	if err != nil {
		return nil, errors.Wrap(err, "search corpus")
	}

	filtered := make([]*ScoredDocument, 0, len(docs))
	for _, d := range docs {
		if d.Similarity >= s.floor {
			filtered = append(filtered, d)
		}
	}

	s.log.Debugf("Corpus search: collection=%s hits=%d kept=%d", s.collection, len(docs), len(filtered))
	return filtered, nil
}

// Ingest embeds and stores a document in the service's collection.
func (s *Service) Ingest(ctx context.Context, term, content, source string) error {
	if term == "" || content == "" {
		return errors.ErrInvalidInput
	}

	vector, err := s.embedder.GenerateEmbedding(ctx, term+"\n"+content)
	if err != nil {
		return errors.Wrap(err, "embed document")
	}

	doc := &Document{
		ID:                  uuid.New(),
		Collection:          s.collection,
		Term:                term,
		Content:             content,
		Source:              source,
		Embedding:           pgvector.NewVector(vector),
		EmbeddingModel:      s.embedder.Name(),
		EmbeddingDimensions: s.embedder.Dimensions(),
		CreatedAt:           time.Now().UTC(),
	}

	if err := s.repo.Store(ctx, doc); err != nil {
		return errors.Wrap(err, "store document")
	}
	return nil
}

// Size returns the number of documents in the collection.
func (s *Service) Size(ctx context.Context) (int, error) {
	return s.repo.CountByCollection(ctx, s.collection)
}
