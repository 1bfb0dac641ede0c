package workflow

import (
	"context"

	"delphi/internal/domain/corpus"
	"delphi/pkg/errors"
	"delphi/pkg/logger"
)

// Compile-time check
var _ EvidenceProvider = (*RetrievalProvider)(nil)

// RetrievalProvider answers concept queries from the vector-indexed finance
// corpus. Finding nothing above the similarity floor is a valid outcome and
// leaves the evidence empty.
type RetrievalProvider struct {
	corpus *corpus.Service
	log    *logger.Logger
}

// NewRetrievalProvider constructs a retrieval provider.
func NewRetrievalProvider(corpusSvc *corpus.Service) *RetrievalProvider {
	return &RetrievalProvider{
		corpus: corpusSvc,
		log:    logger.Get().With("stage", "retrieval"),
	}
}

// Route returns the route this provider serves.
func (p *RetrievalProvider) Route() Route { return RouteRetrieval }

// Gather performs semantic search over the corpus.
func (p *RetrievalProvider) Gather(ctx context.Context, state *State) error {
	docs, err := p.corpus.Search(ctx, state.CurrentQuery)
	if err != nil {
		return errors.Wrap(err, "corpus search")
	}

	for _, doc := range docs {
		state.Evidence = append(state.Evidence, EvidenceItem{
			Kind:    EvidenceCorpus,
			Source:  doc.Source,
			Entity:  doc.Term,
			Content: doc.Content,
			Score:   doc.Similarity,
		})
	}

	p.log.Debugf("Retrieval gathered evidence: query=%q items=%d", state.CurrentQuery, len(state.Evidence))
	return nil
}
