package workflow

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delphi/internal/adapters/marketdata"
	"delphi/internal/domain/corpus"
	"delphi/pkg/errors"
)

// fakeMarket serves scripted market data keyed by the resolved symbol.
type fakeMarket struct {
	tickers map[string]*marketdata.Ticker
	quotes  map[string]*marketdata.Quote
	candles map[string][]marketdata.Candle
}

func (m *fakeMarket) ResolveTicker(_ context.Context, name string) (*marketdata.Ticker, error) {
	if t, ok := m.tickers[name]; ok {
		return t, nil
	}
	return nil, errors.Wrapf(errors.ErrEntityUnresolved, "no listing found for %q", name)
}

func (m *fakeMarket) Quote(_ context.Context, symbol string) (*marketdata.Quote, error) {
	if q, ok := m.quotes[symbol]; ok {
		return q, nil
	}
	return nil, errors.ErrNotFound
}

func (m *fakeMarket) History(_ context.Context, symbol, _ string) ([]marketdata.Candle, error) {
	if c, ok := m.candles[symbol]; ok {
		return c, nil
	}
	return nil, errors.ErrNotFound
}

func (m *fakeMarket) News(_ context.Context, query string, _ int) ([]marketdata.NewsItem, error) {
	return []marketdata.NewsItem{
		{Title: query + " announces results", Publisher: "Newswire", Published: time.Now()},
	}, nil
}

func (m *fakeMarket) Recommendations(_ context.Context, symbol string) (*marketdata.RecommendationTrend, error) {
	return &marketdata.RecommendationTrend{Symbol: symbol, Buy: 10, Hold: 5, Sell: 1}, nil
}

func planHandler(entities []string, aspects []string) string {
	return mustJSON(map[string]interface{}{
		"entities": entities, "aspects": aspects, "comparison": len(entities) > 1,
	})
}

func testQuote(symbol string) *marketdata.Quote {
	return &marketdata.Quote{
		Symbol:        symbol,
		Name:          symbol + " Inc",
		Currency:      "USD",
		Price:         decimal.NewFromFloat(250.10),
		ChangePercent: decimal.NewFromFloat(1.25),
		Volume:        1_000_000,
		AsOf:          time.Date(2026, 8, 25, 20, 0, 0, 0, time.UTC),
	}
}

func testCandles(n int, start float64) []marketdata.Candle {
	candles := make([]marketdata.Candle, n)
	day := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := range candles {
		candles[i] = marketdata.Candle{
			Timestamp: day.AddDate(0, 0, i),
			Close:     start + float64(i),
		}
	}
	return candles
}

func TestAnalysis_PartialResolutionDegrades(t *testing.T) {
	chat := newFakeChat()
	chat.reply("analysis_plan", planHandler([]string{"Tesla", "Foocorp"}, []string{"price"}))

	market := &fakeMarket{
		tickers: map[string]*marketdata.Ticker{"Tesla": {Symbol: "TSLA", Name: "Tesla Inc"}},
		quotes:  map[string]*marketdata.Quote{"TSLA": testQuote("TSLA")},
	}
	provider := NewAnalysisProvider(chat, market, nil, AnalysisConfig{Model: "test-model"})

	state := NewState("s-1", "compare Tesla and Foocorp")
	state.CurrentQuery = state.RawQuery

	err := provider.Gather(context.Background(), state)
	require.NoError(t, err)

	assert.Equal(t, []string{"Foocorp"}, state.Unresolved)
	require.Len(t, state.Evidence, 1)
	assert.Equal(t, EvidenceQuote, state.Evidence[0].Kind)
	assert.Contains(t, state.Evidence[0].Content, "TSLA")
	assert.Contains(t, state.Evidence[0].Content, "250.10")
}

func TestAnalysis_AllEntitiesUnresolvedFails(t *testing.T) {
	chat := newFakeChat()
	chat.reply("analysis_plan", planHandler([]string{"Foocorp", "Barcorp"}, []string{"price"}))

	provider := NewAnalysisProvider(chat, &fakeMarket{}, nil, AnalysisConfig{Model: "test-model"})

	state := NewState("s-1", "compare Foocorp and Barcorp")
	state.CurrentQuery = state.RawQuery

	err := provider.Gather(context.Background(), state)
	assert.ErrorIs(t, err, errors.ErrAllEntitiesUnresolved)
	assert.Empty(t, state.Evidence)
}

func TestAnalysis_IndicatorsComputedFromHistory(t *testing.T) {
	chat := newFakeChat()
	chat.reply("analysis_plan", planHandler([]string{"Tesla"}, []string{"history", "indicator"}))

	market := &fakeMarket{
		tickers: map[string]*marketdata.Ticker{"Tesla": {Symbol: "TSLA"}},
		candles: map[string][]marketdata.Candle{"TSLA": testCandles(40, 200)},
	}
	provider := NewAnalysisProvider(chat, market, nil, AnalysisConfig{Model: "test-model"})

	state := NewState("s-1", "TSLA 3 month trend with RSI")
	state.CurrentQuery = state.RawQuery

	err := provider.Gather(context.Background(), state)
	require.NoError(t, err)

	kinds := make(map[EvidenceKind]int)
	for _, item := range state.Evidence {
		kinds[item.Kind]++
	}
	assert.Equal(t, 1, kinds[EvidenceHistory])
	assert.Equal(t, 2, kinds[EvidenceIndicator], "SMA and RSI")

	require.Len(t, state.Charts, 1)
	assert.Equal(t, "TSLA", state.Charts[0].Label)
	assert.Len(t, state.Charts[0].Values, 40)

	// Monotonically rising closes: RSI must read overbought.
	var indicatorContent string
	for _, item := range state.Evidence {
		if item.Kind == EvidenceIndicator {
			indicatorContent += item.Content + "\n"
		}
	}
	assert.Contains(t, indicatorContent, "overbought")
}

func TestAnalysis_NewsAndRecommendations(t *testing.T) {
	chat := newFakeChat()
	chat.reply("analysis_plan", planHandler([]string{"Tesla"}, []string{"news", "recommendation"}))

	market := &fakeMarket{
		tickers: map[string]*marketdata.Ticker{"Tesla": {Symbol: "TSLA"}},
	}
	provider := NewAnalysisProvider(chat, market, nil, AnalysisConfig{Model: "test-model"})

	state := NewState("s-1", "TSLA news and analyst views")
	state.CurrentQuery = state.RawQuery

	err := provider.Gather(context.Background(), state)
	require.NoError(t, err)

	kinds := make(map[EvidenceKind]int)
	for _, item := range state.Evidence {
		kinds[item.Kind]++
	}
	assert.Equal(t, 1, kinds[EvidenceNews])
	assert.Equal(t, 1, kinds[EvidenceRecommendation])

	for _, item := range state.Evidence {
		if item.Kind == EvidenceRecommendation {
			assert.Contains(t, item.Content, "consensus: buy")
		}
	}
}

// fakeEmbedder returns a constant vector so corpus search is deterministic.
type fakeEmbedder struct{}

func (fakeEmbedder) GenerateEmbedding(context.Context, string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

func (fakeEmbedder) GenerateBatchEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func (fakeEmbedder) Dimensions() int { return 3 }
func (fakeEmbedder) Name() string    { return "fake-embedder" }

// fakeCorpusRepo answers every search with the same scored documents.
type fakeCorpusRepo struct {
	docs []*corpus.ScoredDocument
}

func (r *fakeCorpusRepo) Store(context.Context, *corpus.Document) error { return nil }

func (r *fakeCorpusRepo) SearchSimilar(context.Context, string, pgvector.Vector, int) ([]*corpus.ScoredDocument, error) {
	return r.docs, nil
}

func (r *fakeCorpusRepo) CountByCollection(context.Context, string) (int, error) {
	return len(r.docs), nil
}

func scoredDoc(term string, similarity float64) *corpus.ScoredDocument {
	doc := &corpus.ScoredDocument{Similarity: similarity}
	doc.Term = term
	doc.Content = fmt.Sprintf("%s is a financial concept.", term)
	doc.Source = "glossary"
	return doc
}

func TestAnalysis_ConceptQueryFallsBackToCorpus(t *testing.T) {
	chat := newFakeChat()
	chat.reply("analysis_plan", planHandler(nil, nil))

	corpusSvc := corpus.NewService(
		&fakeCorpusRepo{docs: []*corpus.ScoredDocument{scoredDoc("PER", 0.85)}},
		fakeEmbedder{},
		corpus.Config{Collection: "finance_terms", TopK: 5, SimilarityFloor: 0.25},
	)
	provider := NewAnalysisProvider(chat, &fakeMarket{}, corpusSvc, AnalysisConfig{Model: "test-model"})

	state := NewState("s-1", "PER이 높으면 좋은 건가요?")
	state.CurrentQuery = state.RawQuery

	err := provider.Gather(context.Background(), state)
	require.NoError(t, err)

	require.Len(t, state.Evidence, 1)
	assert.Equal(t, EvidenceCorpus, state.Evidence[0].Kind)
	assert.Equal(t, "PER", state.Evidence[0].Entity)
}

func TestRetrieval_FiltersBelowSimilarityFloor(t *testing.T) {
	corpusSvc := corpus.NewService(
		&fakeCorpusRepo{docs: []*corpus.ScoredDocument{
			scoredDoc("PER", 0.85),
			scoredDoc("PBR", 0.40),
			scoredDoc("ROE", 0.10), // below the floor
		}},
		fakeEmbedder{},
		corpus.Config{Collection: "finance_terms", TopK: 5, SimilarityFloor: 0.25},
	)
	provider := NewRetrievalProvider(corpusSvc)

	state := NewState("s-1", "what is PER")
	state.CurrentQuery = state.RawQuery

	err := provider.Gather(context.Background(), state)
	require.NoError(t, err)

	require.Len(t, state.Evidence, 2)
	assert.Equal(t, "PER", state.Evidence[0].Entity)
	assert.Equal(t, "PBR", state.Evidence[1].Entity)
	assert.InDelta(t, 0.85, state.Evidence[0].Score, 0.001)
}

func TestRetrieval_EmptyResultIsValid(t *testing.T) {
	corpusSvc := corpus.NewService(&fakeCorpusRepo{}, fakeEmbedder{}, corpus.Config{Collection: "finance_terms"})
	provider := NewRetrievalProvider(corpusSvc)

	state := NewState("s-1", "completely unknown topic")
	state.CurrentQuery = state.RawQuery

	err := provider.Gather(context.Background(), state)
	require.NoError(t, err)
	assert.Empty(t, state.Evidence)
}
