package workflow

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"sync/atomic"

	"delphi/internal/adapters/ai"
	"delphi/pkg/logger"
)

const routerSystemPrompt = `You route financial queries to one of two evidence sources.
- RETRIEVAL: the query asks what a financial term or concept means, or how a mechanism works. It is answerable from a static knowledge corpus.
- ANALYSIS: the query needs live market data: prices, charts, news, analyst views, comparisons between companies, or indicators computed over recent history.
Queries mixing both lean ANALYSIS.`

// Deterministic routing signals checked before the LLM fallback. Korean and
// English markers are kept together since sessions mix both.
var (
	definitionPattern = regexp.MustCompile(`(?i)\b(what is|what does|define|definition|meaning of|explain)\b|이란|란\s*뭐|무슨\s*뜻|뜻이|개념|의미가?\s*뭐`)
	// 매수/매도 must not match inside 공매도 (short selling, a concept term);
	// \b is useless for Hangul so the guard is explicit.
	marketPattern = regexp.MustCompile(`(?i)\b(price|stock|share|quote|chart|news|analyst|rating|target|compare|vs\.?|versus|outlook|buy|sell|hold|rsi|sma|moving average)\b|주가|주식|시세|차트|뉴스|전망|비교|추천|(?:^|[^공])매[수도]|목표가|지표`)
	tickerPattern     = regexp.MustCompile(`\b[A-Z]{1,5}\b`)
)

// Router decides between evidence providers for FINANCIAL queries.
// Deterministic signal rules run first; the LLM breaks genuine ties. The
// router never returns NONE for a financial query.
type Router struct {
	chat        ai.ChatProvider
	model       string
	temperature float64

	// Decision counters for observability; one Router serves all
	// concurrent turns.
	totalDecisions atomic.Uint64
	ruleDecisions  atomic.Uint64

	log *logger.Logger
}

// NewRouter constructs a router.
func NewRouter(chat ai.ChatProvider, model string, temperature float64) *Router {
	return &Router{
		chat:        chat,
		model:       model,
		temperature: temperature,
		log:         logger.Get().With("stage", "router"),
	}
}

type routerOutput struct {
	Route  string `json:"route"`
	Reason string `json:"reason"`
}

// Route selects the evidence provider for query.
func (r *Router) Route(ctx context.Context, query string) (Route, error) {
	r.totalDecisions.Add(1)

	definitional := definitionPattern.MatchString(query)
	ticker := hasTickerShape(query)
	marketBound := marketPattern.MatchString(query) || ticker

	switch {
	case marketBound && !definitional:
		r.ruleDecisions.Add(1)
		r.log.Debugf("Routed by rule: route=%s signal=market", RouteAnalysis)
		return RouteAnalysis, nil
	case definitional && ticker:
		// A named ticker wins over definitional phrasing: "what is TSLA"
		// wants live data, not a glossary entry.
		r.ruleDecisions.Add(1)
		r.log.Debugf("Routed by rule: route=%s signal=ticker+definition", RouteAnalysis)
		return RouteAnalysis, nil
	case definitional && !marketBound:
		r.ruleDecisions.Add(1)
		r.log.Debugf("Routed by rule: route=%s signal=definition", RouteRetrieval)
		return RouteRetrieval, nil
	}

	// Both or neither signal fired: ask the model, tie-break toward ANALYSIS
	// since stale definitions hurt less than missing live data.
	resp, err := r.chat.Chat(ctx, ai.ChatRequest{
		Model:       r.model,
		Temperature: r.temperature,
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: routerSystemPrompt},
			{Role: ai.RoleUser, Content: query},
		},
		ResponseSchema: &ai.ResponseSchema{
			Name:   "route",
			Schema: toJSONSchema(routerSchema),
		},
	})
	if err != nil {
		r.log.Warnf("Router fallback failed, defaulting to ANALYSIS: error=%v", err)
		return RouteAnalysis, nil
	}

	var out routerOutput
	if err := json.Unmarshal([]byte(resp.Content), &out); err != nil {
		r.log.Warnf("Router returned unparseable output, defaulting to ANALYSIS: error=%v", err)
		return RouteAnalysis, nil
	}

	switch Route(out.Route) {
	case RouteRetrieval:
		return RouteRetrieval, nil
	default:
		return RouteAnalysis, nil
	}
}

// RuleHitRate returns the fraction of decisions made without the LLM.
func (r *Router) RuleHitRate() float64 {
	total := r.totalDecisions.Load()
	if total == 0 {
		return 0
	}
	return float64(r.ruleDecisions.Load()) / float64(total)
}

// hasTickerShape reports whether the query contains an all-caps token that
// looks like a ticker symbol, excluding common English words.
func hasTickerShape(query string) bool {
	for _, match := range tickerPattern.FindAllString(query, -1) {
		switch match {
		case "I", "A", "OK", "PER", "EPS", "ROE", "PBR", "ETF", "IPO":
			// Financial acronyms and common words are not ticker evidence
			// on their own.
			continue
		}
		if len(strings.TrimSpace(match)) >= 2 {
			return true
		}
	}
	return false
}
