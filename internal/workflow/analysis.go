package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/markcheno/go-talib"

	"delphi/internal/adapters/ai"
	"delphi/internal/adapters/marketdata"
	"delphi/internal/domain/corpus"
	"delphi/pkg/errors"
	"delphi/pkg/logger"
)

const (
	analysisPlanPrompt = `You extract the data requirements from a financial market query.
List the companies or tickers the query asks about and which data each one needs.
Use "price" for current quotes and fundamentals, "history" for past performance,
"news" for recent events, "recommendation" for analyst views, "indicator" for
technical indicators like moving averages or RSI.`

	smaPeriod   = 20
	rsiPeriod   = 14
	newsPerItem = 3
)

// Compile-time check
var _ EvidenceProvider = (*AnalysisProvider)(nil)

// AnalysisProvider answers market queries from live data. Multi-entity
// queries fan out per entity; entities that cannot be resolved are reported
// in the state instead of failing the whole attempt, unless none resolve.
type AnalysisProvider struct {
	chat         ai.ChatProvider
	model        string
	temperature  float64
	market       marketdata.Provider
	corpus       *corpus.Service // fallback for concept queries misrouted here
	historyRange string
	log          *logger.Logger
}

// AnalysisConfig configures the analysis provider.
type AnalysisConfig struct {
	Model        string
	Temperature  float64
	HistoryRange string
}

// NewAnalysisProvider constructs an analysis provider. The corpus service is
// optional; when present it serves concept queries that name no entity.
func NewAnalysisProvider(chat ai.ChatProvider, market marketdata.Provider, corpusSvc *corpus.Service, cfg AnalysisConfig) *AnalysisProvider {
	if cfg.HistoryRange == "" {
		cfg.HistoryRange = "3mo"
	}
	return &AnalysisProvider{
		chat:         chat,
		model:        cfg.Model,
		temperature:  cfg.Temperature,
		market:       market,
		corpus:       corpusSvc,
		historyRange: cfg.HistoryRange,
		log:          logger.Get().With("stage", "analysis"),
	}
}

// Route returns the route this provider serves.
func (p *AnalysisProvider) Route() Route { return RouteAnalysis }

type analysisPlan struct {
	Entities   []string `json:"entities"`
	Aspects    []string `json:"aspects"`
	Comparison bool     `json:"comparison"`
}

type entityResult struct {
	entity   string
	evidence []EvidenceItem
	series   *Series
	err      error
}

// Gather plans the data needs, resolves entities concurrently and collects
// the requested market data per entity.
func (p *AnalysisProvider) Gather(ctx context.Context, state *State) error {
	plan, err := p.extractPlan(ctx, state.CurrentQuery)
	if err != nil {
		return errors.Wrap(err, "analysis planning")
	}

	if len(plan.Entities) == 0 {
		// Concept query that the router sent here. Fall back to the corpus
		// rather than fabricating a market lookup.
		return p.conceptFallback(ctx, state)
	}

	if len(plan.Aspects) == 0 {
		plan.Aspects = []string{"price"}
	}

	results := make(chan entityResult, len(plan.Entities))
	var wg sync.WaitGroup

	for _, entity := range plan.Entities {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			results <- p.gatherEntity(ctx, name, plan.Aspects)
		}(entity)
	}

	wg.Wait()
	close(results)

	resolved := 0
	for res := range results {
		if res.err != nil {
			p.log.Warnf("Entity gathering failed: entity=%s error=%v", res.entity, res.err)
			state.Unresolved = append(state.Unresolved, res.entity)
			continue
		}
		resolved++
		state.Evidence = append(state.Evidence, res.evidence...)
		if res.series != nil {
			state.Charts = append(state.Charts, *res.series)
		}
	}

	if resolved == 0 {
		return errors.Wrapf(errors.ErrAllEntitiesUnresolved, "no entity in %v could be resolved", plan.Entities)
	}

	p.log.Infof("Analysis gathered evidence: entities=%d resolved=%d unresolved=%d items=%d",
		len(plan.Entities), resolved, len(state.Unresolved), len(state.Evidence))
	return nil
}

func (p *AnalysisProvider) extractPlan(ctx context.Context, query string) (*analysisPlan, error) {
	resp, err := p.chat.Chat(ctx, ai.ChatRequest{
		Model:       p.model,
		Temperature: p.temperature,
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: analysisPlanPrompt},
			{Role: ai.RoleUser, Content: query},
		},
		ResponseSchema: &ai.ResponseSchema{
			Name:   "analysis_plan",
			Schema: toJSONSchema(analysisPlanSchema),
		},
	})
	if err != nil {
		return nil, err
	}

	var plan analysisPlan
	if err := json.Unmarshal([]byte(resp.Content), &plan); err != nil {
		return nil, errors.Wrapf(errors.ErrExternal, "unparseable analysis plan: %v", err)
	}
	return &plan, nil
}

func (p *AnalysisProvider) conceptFallback(ctx context.Context, state *State) error {
	if p.corpus == nil {
		return nil
	}

	p.log.Debugf("No entities extracted, falling back to corpus: query=%q", state.CurrentQuery)
	docs, err := p.corpus.Search(ctx, state.CurrentQuery)
	if err != nil {
		return errors.Wrap(err, "concept fallback search")
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
	return nil
}

// gatherEntity resolves one entity and fetches its requested aspects.
// Aspect failures after resolution degrade to partial evidence.
func (p *AnalysisProvider) gatherEntity(ctx context.Context, name string, aspects []string) entityResult {
	res := entityResult{entity: name}

	ticker, err := p.market.ResolveTicker(ctx, name)
	if err != nil {
		res.err = err
		return res
	}

	wants := make(map[string]bool, len(aspects))
	for _, a := range aspects {
		wants[a] = true
	}

	if wants["price"] {
		if quote, err := p.market.Quote(ctx, ticker.Symbol); err != nil {
			p.log.Warnf("Quote unavailable: symbol=%s error=%v", ticker.Symbol, err)
		} else {
			res.evidence = append(res.evidence, quoteEvidence(quote))
		}
	}

	if wants["history"] || wants["indicator"] {
		candles, err := p.market.History(ctx, ticker.Symbol, p.historyRange)
		if err != nil {
			p.log.Warnf("History unavailable: symbol=%s error=%v", ticker.Symbol, err)
		} else if len(candles) > 0 {
			res.evidence = append(res.evidence, historyEvidence(ticker.Symbol, candles))
			res.series = candleSeries(ticker.Symbol, candles)
			if wants["indicator"] {
				res.evidence = append(res.evidence, indicatorEvidence(ticker.Symbol, candles)...)
			}
		}
	}

	if wants["news"] {
		if items, err := p.market.News(ctx, ticker.Symbol, newsPerItem); err != nil {
			p.log.Warnf("News unavailable: symbol=%s error=%v", ticker.Symbol, err)
		} else {
			for _, item := range items {
				res.evidence = append(res.evidence, EvidenceItem{
					Kind:    EvidenceNews,
					Source:  item.Publisher,
					Entity:  ticker.Symbol,
					Content: fmt.Sprintf("%s (%s, %s)", item.Title, item.Publisher, item.Published.Format("2006-01-02")),
				})
			}
		}
	}

	if wants["recommendation"] {
		if trend, err := p.market.Recommendations(ctx, ticker.Symbol); err != nil {
			p.log.Warnf("Recommendations unavailable: symbol=%s error=%v", ticker.Symbol, err)
		} else {
			res.evidence = append(res.evidence, EvidenceItem{
				Kind:   EvidenceRecommendation,
				Source: "analyst consensus",
				Entity: ticker.Symbol,
				Content: fmt.Sprintf("%s analyst ratings: %d strong buy, %d buy, %d hold, %d sell, %d strong sell (consensus: %s)",
					ticker.Symbol, trend.StrongBuy, trend.Buy, trend.Hold, trend.Sell, trend.StrongSell, trend.Consensus()),
			})
		}
	}

	// Resolution succeeded but every aspect fetch failed: treat the entity
	// as unresolved so the synthesizer reports the gap.
	if len(res.evidence) == 0 {
		res.err = errors.Wrapf(errors.ErrEntityUnresolved, "no data available for %s", ticker.Symbol)
	}

	return res
}

func quoteEvidence(q *marketdata.Quote) EvidenceItem {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%s) trades at %s %s, %s%% today",
		q.Name, q.Symbol, q.Price.StringFixed(2), q.Currency, q.ChangePercent.StringFixed(2))
	if q.Volume > 0 {
		fmt.Fprintf(&sb, ", volume %s", humanize.Comma(q.Volume))
	}
	if q.MarketCap > 0 {
		fmt.Fprintf(&sb, ", market cap %s", humanize.Comma(q.MarketCap))
	}
	if !q.High52W.IsZero() {
		fmt.Fprintf(&sb, ", 52w range %s-%s", q.Low52W.StringFixed(2), q.High52W.StringFixed(2))
	}
	fmt.Fprintf(&sb, " (as of %s)", q.AsOf.Format("2006-01-02 15:04 MST"))

	return EvidenceItem{
		Kind:    EvidenceQuote,
		Source:  "market data",
		Entity:  q.Symbol,
		Content: sb.String(),
	}
}

func historyEvidence(symbol string, candles []marketdata.Candle) EvidenceItem {
	first := candles[0]
	last := candles[len(candles)-1]
	change := 0.0
	if first.Close != 0 {
		change = (last.Close - first.Close) / first.Close * 100
	}

	return EvidenceItem{
		Kind:   EvidenceHistory,
		Source: "market data",
		Entity: symbol,
		Content: fmt.Sprintf("%s closed at %.2f on %s and %.2f on %s, a %+.2f%% move over %d sessions",
			symbol, first.Close, first.Timestamp.Format("2006-01-02"),
			last.Close, last.Timestamp.Format("2006-01-02"), change, len(candles)),
	}
}

// indicatorEvidence computes SMA and RSI over the closing prices.
func indicatorEvidence(symbol string, candles []marketdata.Candle) []EvidenceItem {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	var items []EvidenceItem

	if len(closes) >= smaPeriod {
		sma := talib.Sma(closes, smaPeriod)
		current := sma[len(sma)-1]
		position := "above"
		if closes[len(closes)-1] < current {
			position = "below"
		}
		items = append(items, EvidenceItem{
			Kind:   EvidenceIndicator,
			Source: "technical analysis",
			Entity: symbol,
			Content: fmt.Sprintf("%s %d-day SMA is %.2f; the last close %.2f is %s it",
				symbol, smaPeriod, current, closes[len(closes)-1], position),
		})
	}

	if len(closes) > rsiPeriod {
		rsi := talib.Rsi(closes, rsiPeriod)
		current := rsi[len(rsi)-1]
		zone := "neutral"
		switch {
		case current >= 70:
			zone = "overbought"
		case current <= 30:
			zone = "oversold"
		}
		items = append(items, EvidenceItem{
			Kind:   EvidenceIndicator,
			Source: "technical analysis",
			Entity: symbol,
			Content: fmt.Sprintf("%s %d-day RSI is %.1f (%s)", symbol, rsiPeriod, current, zone),
		})
	}

	return items
}

func candleSeries(symbol string, candles []marketdata.Candle) *Series {
	s := &Series{Label: symbol}
	for _, c := range candles {
		s.Dates = append(s.Dates, c.Timestamp)
		s.Values = append(s.Values, c.Close)
	}
	return s
}
