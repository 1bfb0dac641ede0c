package workflow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delphi/internal/adapters/ai"
	"delphi/internal/domain/history"
	"delphi/pkg/errors"
)

func newTestEngine(t *testing.T, chat *fakeChat, providers ...EvidenceProvider) (*Engine, *memHistoryRepo) {
	t.Helper()

	repo := &memHistoryRepo{}
	deps := Deps{
		Cleaner:     NewQueryCleaner(chat, "test-model", 0),
		Classifier:  NewRequestClassifier(chat, "test-model", 0),
		Router:      NewRouter(chat, "test-model", 0),
		Providers:   providers,
		Synthesizer: NewReportSynthesizer(chat, "test-model", 0),
		Evaluator:   NewQualityEvaluator(chat, "test-model", 0, 3),
		History:     history.NewService(repo, nil),
		Chat:        chat,
		ChatModel:   "test-model",
	}

	engine := NewEngine(deps, Config{
		MaxRetries:    2,
		StageTimeout:  5 * time.Second,
		ContextWindow: 4,
	})
	return engine, repo
}

func TestHandleQuery_RejectsEmptyInput(t *testing.T) {
	engine, _ := newTestEngine(t, newFakeChat())

	_, err := engine.HandleQuery(context.Background(), "", "hello")
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	_, err = engine.HandleQuery(context.Background(), "s-1", "   ")
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestHandleQuery_ConversationalShortCircuit(t *testing.T) {
	chat := newFakeChat()
	chat.reply("cleaned_query", cleanedJSON("hello there"))
	chat.reply("classification", classificationJSON(ClassConversational))
	chat.reply("plain", "Hi! Ask me anything about markets.")

	provider := &fakeProvider{route: RouteAnalysis}
	engine, repo := newTestEngine(t, chat, provider)

	result, err := engine.HandleQuery(context.Background(), "s-1", "hello there")
	require.NoError(t, err)

	assert.Equal(t, StatusPassed, result.Status)
	assert.Equal(t, "Hi! Ask me anything about markets.", result.Answer)
	assert.Empty(t, result.Artifacts)

	// No routing, gathering or evaluation happened.
	assert.Empty(t, provider.queries)
	assert.Zero(t, chat.callCount("route"))
	assert.Zero(t, chat.callCount("report"))
	assert.Zero(t, chat.callCount("assessment"))

	record := repo.last()
	require.NotNil(t, record)
	assert.Equal(t, ClassConversational.String(), record.Classification)
	assert.Zero(t, record.RetryCount)
}

func TestHandleQuery_NonFinancialShortCircuit(t *testing.T) {
	chat := newFakeChat()
	chat.reply("cleaned_query", cleanedJSON("how do I bake bread"))
	chat.reply("classification", classificationJSON(ClassNonFinancial))

	provider := &fakeProvider{route: RouteAnalysis}
	engine, repo := newTestEngine(t, chat, provider)

	result, err := engine.HandleQuery(context.Background(), "s-1", "how do I bake bread")
	require.NoError(t, err)

	assert.Equal(t, StatusPassed, result.Status)
	assert.Equal(t, nonFinancialAnswer, result.Answer)
	assert.Empty(t, provider.queries)
	assert.Zero(t, chat.callCount("plain"))

	record := repo.last()
	require.NotNil(t, record)
	assert.Equal(t, ClassNonFinancial.String(), record.Classification)
}

func TestHandleQuery_RetrievalHappyPath(t *testing.T) {
	chat := newFakeChat()
	chat.reply("cleaned_query", cleanedJSON("What does PER mean?"))
	chat.reply("classification", classificationJSON(ClassFinancial))
	chat.reply("report", reportJSON("PER is the price-to-earnings ratio [1]."))
	chat.reply("assessment", assessmentJSON(5, "pass", ""))

	provider := &fakeProvider{
		route: RouteRetrieval,
		gather: func(_ context.Context, state *State) error {
			state.Evidence = append(state.Evidence, corpusEvidence("PER compares price to per-share earnings."))
			return nil
		},
	}
	engine, repo := newTestEngine(t, chat, provider)

	result, err := engine.HandleQuery(context.Background(), "s-1", "What does PER mean?")
	require.NoError(t, err)

	assert.Equal(t, StatusPassed, result.Status)
	assert.Contains(t, result.Answer, "price-to-earnings")

	// The definitional signal routed without the LLM fallback.
	assert.Zero(t, chat.callCount("route"))
	require.Len(t, provider.queries, 1)

	record := repo.last()
	require.NotNil(t, record)
	assert.Equal(t, RouteRetrieval.String(), record.Route)
	assert.Equal(t, StatusPassed.String(), record.Status)
	assert.Zero(t, record.RetryCount)
	assert.InDelta(t, 5.0, record.QualityScore, 0.001)
}

func TestHandleQuery_RetryRewritesQueryThenPasses(t *testing.T) {
	chat := newFakeChat()
	chat.reply("cleaned_query", cleanedJSON("Tesla stock price today"))
	chat.reply("classification", classificationJSON(ClassFinancial))
	chat.reply("report", reportJSON("TSLA trades at 250 USD [1]."))

	attempts := 0
	chat.on("assessment", func(ai.ChatRequest) (string, error) {
		attempts++
		if attempts == 1 {
			return assessmentJSON(2, "fail", "current TSLA share price in USD"), nil
		}
		return assessmentJSON(4, "pass", ""), nil
	})

	provider := &fakeProvider{
		route: RouteAnalysis,
		gather: func(_ context.Context, state *State) error {
			state.Evidence = append(state.Evidence, EvidenceItem{
				Kind: EvidenceQuote, Source: "market data", Entity: "TSLA",
				Content: "TSLA trades at 250.00 USD",
			})
			return nil
		},
	}
	engine, repo := newTestEngine(t, chat, provider)

	result, err := engine.HandleQuery(context.Background(), "s-1", "Tesla stock price today")
	require.NoError(t, err)

	assert.Equal(t, StatusPassed, result.Status)
	assert.Equal(t, 1, result.RetryCount)
	require.NotNil(t, result.Quality)
	assert.Equal(t, "pass", result.Quality.Verdict)

	// The second attempt ran with the evaluator's rewritten query.
	require.Len(t, provider.queries, 2)
	assert.Equal(t, "Tesla stock price today", provider.queries[0])
	assert.Equal(t, "current TSLA share price in USD", provider.queries[1])

	record := repo.last()
	require.NotNil(t, record)
	assert.Equal(t, 1, record.RetryCount)
	assert.Equal(t, StatusPassed.String(), record.Status)
}

func TestHandleQuery_ConsecutiveSameFailureStopsEarly(t *testing.T) {
	chat := newFakeChat()
	chat.reply("cleaned_query", cleanedJSON("Tesla stock price today"))
	chat.reply("classification", classificationJSON(ClassFinancial))
	chat.reply("report", reportJSON("An answer the judge keeps rejecting [1]."))
	chat.reply("assessment", assessmentJSON(2, "fail", "try again"))

	provider := &fakeProvider{
		route: RouteAnalysis,
		gather: func(_ context.Context, state *State) error {
			state.Evidence = append(state.Evidence, corpusEvidence("some evidence"))
			return nil
		},
	}
	engine, repo := newTestEngine(t, chat, provider)

	result, err := engine.HandleQuery(context.Background(), "s-1", "Tesla stock price today")
	require.NoError(t, err)

	assert.Equal(t, StatusExhausted, result.Status)
	assert.True(t, strings.HasPrefix(result.Answer, lowConfidenceLabel))

	// Two identical "incorrect" verdicts in a row end the loop after the
	// second attempt, but both failed attempts count against the budget.
	require.Len(t, provider.queries, 2)
	assert.Equal(t, 2, result.RetryCount)

	record := repo.last()
	require.NotNil(t, record)
	assert.Equal(t, 2, record.RetryCount)
	assert.Equal(t, StatusExhausted.String(), record.Status)
}

func TestHandleQuery_WeakDimensionTriggersRetryDespitePassVerdict(t *testing.T) {
	chat := newFakeChat()
	chat.reply("cleaned_query", cleanedJSON("Tesla stock price today"))
	chat.reply("classification", classificationJSON(ClassFinancial))
	chat.reply("report", reportJSON("TSLA trades at 250 USD [1]."))

	attempts := 0
	chat.on("assessment", func(ai.ChatRequest) (string, error) {
		attempts++
		if attempts == 1 {
			// High mean, but one dimension below the threshold of 3.
			return mustJSON(map[string]interface{}{
				"relevance": 2, "accuracy": 5, "completeness": 5, "clarity": 5,
				"verdict": "pass", "rewrite_hint": "current TSLA share price in USD",
			}), nil
		}
		return assessmentJSON(4, "pass", ""), nil
	})

	provider := &fakeProvider{
		route: RouteAnalysis,
		gather: func(_ context.Context, state *State) error {
			state.Evidence = append(state.Evidence, corpusEvidence("TSLA trades at 250.00 USD"))
			return nil
		},
	}
	engine, repo := newTestEngine(t, chat, provider)

	result, err := engine.HandleQuery(context.Background(), "s-1", "Tesla stock price today")
	require.NoError(t, err)

	assert.Equal(t, StatusPassed, result.Status)
	assert.Equal(t, 1, result.RetryCount)
	require.Len(t, provider.queries, 2, "a weak dimension must consume a retry")

	record := repo.last()
	require.NotNil(t, record)
	assert.Equal(t, 1, record.RetryCount)
}

func TestHandleQuery_RewriteDriftingOutOfFinanceShortCircuits(t *testing.T) {
	chat := newFakeChat()
	chat.reply("cleaned_query", cleanedJSON("Tesla stock price today"))
	chat.reply("report", reportJSON("An answer the judge rejects [1]."))
	chat.reply("assessment", assessmentJSON(2, "fail", "weather in Austin today"))

	classifications := 0
	chat.on("classification", func(ai.ChatRequest) (string, error) {
		classifications++
		if classifications == 1 {
			return classificationJSON(ClassFinancial), nil
		}
		return classificationJSON(ClassNonFinancial), nil
	})

	provider := &fakeProvider{
		route: RouteAnalysis,
		gather: func(_ context.Context, state *State) error {
			state.Evidence = append(state.Evidence, corpusEvidence("some evidence"))
			return nil
		},
	}
	engine, repo := newTestEngine(t, chat, provider)

	result, err := engine.HandleQuery(context.Background(), "s-1", "Tesla stock price today")
	require.NoError(t, err)

	// The rewritten query is re-classified; once it leaves finance the turn
	// ends with the refusal answer instead of gathering again.
	assert.Equal(t, StatusPassed, result.Status)
	assert.Equal(t, nonFinancialAnswer, result.Answer)
	assert.Equal(t, 2, classifications)
	require.Len(t, provider.queries, 1)

	record := repo.last()
	require.NotNil(t, record)
	assert.Equal(t, ClassNonFinancial.String(), record.Classification)
}

func TestHandleQuery_RetryBudgetIsBounded(t *testing.T) {
	chat := newFakeChat()
	chat.reply("cleaned_query", cleanedJSON("Tesla stock price today"))
	chat.reply("classification", classificationJSON(ClassFinancial))
	chat.reply("report", reportJSON("A weak answer [1]."))
	chat.reply("assessment", assessmentJSON(2, "fail", "rephrase it"))

	// Alternate failure reasons so the early exit never fires: attempts one
	// and three fail evaluation, attempt two gathers nothing and fails the
	// pre-screen with a different reason.
	attempt := 0
	provider := &fakeProvider{
		route: RouteAnalysis,
		gather: func(_ context.Context, state *State) error {
			attempt++
			if attempt != 2 {
				state.Evidence = append(state.Evidence, corpusEvidence("thin evidence"))
			}
			return nil
		},
	}
	engine, repo := newTestEngine(t, chat, provider)

	result, err := engine.HandleQuery(context.Background(), "s-1", "Tesla stock price today")
	require.NoError(t, err)

	assert.Equal(t, StatusExhausted, result.Status)
	assert.Equal(t, 2, result.RetryCount)
	require.Len(t, provider.queries, 3, "one initial attempt plus exactly MaxRetries retries")

	record := repo.last()
	require.NotNil(t, record)
	assert.Equal(t, 2, record.RetryCount)
}

func TestHandleQuery_EmptyEvidenceNeverFabricates(t *testing.T) {
	chat := newFakeChat()
	chat.reply("cleaned_query", cleanedJSON("Tesla stock price today"))
	chat.reply("classification", classificationJSON(ClassFinancial))

	provider := &fakeProvider{route: RouteAnalysis} // gathers nothing
	engine, _ := newTestEngine(t, chat, provider)

	result, err := engine.HandleQuery(context.Background(), "s-1", "Tesla stock price today")
	require.NoError(t, err)

	assert.Equal(t, StatusExhausted, result.Status)
	assert.True(t, strings.HasPrefix(result.Answer, lowConfidenceLabel))
	assert.Contains(t, result.Answer, "could not find reliable information")

	// With nothing to cite, neither the synthesizer nor the judge spent a
	// model call.
	assert.Zero(t, chat.callCount("report"))
	assert.Zero(t, chat.callCount("assessment"))
}

func TestHandleQuery_AllEntitiesUnresolvedFailsTurn(t *testing.T) {
	chat := newFakeChat()
	chat.reply("cleaned_query", cleanedJSON("compare Foocorp and Barcorp stock"))
	chat.reply("classification", classificationJSON(ClassFinancial))

	provider := &fakeProvider{
		route: RouteAnalysis,
		gather: func(context.Context, *State) error {
			return errors.Wrap(errors.ErrAllEntitiesUnresolved, "nothing resolved")
		},
	}
	engine, repo := newTestEngine(t, chat, provider)

	result, err := engine.HandleQuery(context.Background(), "s-1", "compare Foocorp and Barcorp stock")
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, insufficientEvidenceAnswer, result.Answer)
	require.Len(t, provider.queries, 1, "unresolvable queries are not retried")

	record := repo.last()
	require.NotNil(t, record)
	assert.Equal(t, StatusFailed.String(), record.Status)
}

func TestHandleQuery_PartialResolutionStillAnswers(t *testing.T) {
	chat := newFakeChat()
	chat.reply("cleaned_query", cleanedJSON("compare Samsung and Foocorp stock"))
	chat.reply("classification", classificationJSON(ClassFinancial))
	chat.reply("report", reportJSON("Samsung trades at 71,000 KRW [1]. No data was available for Foocorp."))
	chat.reply("assessment", assessmentJSON(4, "pass", ""))

	provider := &fakeProvider{
		route: RouteAnalysis,
		gather: func(_ context.Context, state *State) error {
			state.Evidence = append(state.Evidence, EvidenceItem{
				Kind: EvidenceQuote, Source: "market data", Entity: "005930.KS",
				Content: "Samsung Electronics trades at 71,000 KRW",
			})
			state.Unresolved = append(state.Unresolved, "Foocorp")
			return nil
		},
	}
	engine, _ := newTestEngine(t, chat, provider)

	result, err := engine.HandleQuery(context.Background(), "s-1", "compare Samsung and Foocorp stock")
	require.NoError(t, err)

	assert.Equal(t, StatusPassed, result.Status)
	assert.Contains(t, result.Answer, "Samsung")
	assert.Contains(t, result.Answer, "Foocorp")
}

type fakeLocker struct {
	acquired bool
	releases int
}

func (l *fakeLocker) AcquireLock(context.Context, string, time.Duration) (bool, error) {
	return l.acquired, nil
}

func (l *fakeLocker) ReleaseLock(context.Context, string) error {
	l.releases++
	return nil
}

func TestHandleQuery_SessionLockSerializesTurns(t *testing.T) {
	chat := newFakeChat()
	chat.reply("cleaned_query", cleanedJSON("hi"))
	chat.reply("classification", classificationJSON(ClassConversational))
	chat.reply("plain", "Hello!")

	engine, _ := newTestEngine(t, chat)
	locker := &fakeLocker{acquired: false}
	engine.deps.Locks = locker

	_, err := engine.HandleQuery(context.Background(), "s-1", "hi")
	assert.ErrorIs(t, err, errors.ErrUnavailable)

	locker.acquired = true
	result, err := engine.HandleQuery(context.Background(), "s-1", "hi")
	require.NoError(t, err)
	assert.Equal(t, StatusPassed, result.Status)
	assert.Equal(t, 1, locker.releases)
}

func TestHandleQuery_ContextWindowFeedsCleaner(t *testing.T) {
	chat := newFakeChat()
	chat.reply("classification", classificationJSON(ClassConversational))
	chat.reply("plain", "Hello!")

	var sawContext bool
	chat.on("cleaned_query", func(req ai.ChatRequest) (string, error) {
		for _, m := range req.Messages {
			if m.Role == ai.RoleUser && strings.Contains(m.Content, "Samsung Electronics trades") {
				sawContext = true
			}
		}
		return cleanedJSON("thanks"), nil
	})

	engine, repo := newTestEngine(t, chat)
	require.NoError(t, repo.Append(context.Background(), &history.TurnRecord{
		SessionID: "s-1",
		Query:     "Samsung stock price",
		Answer:    "Samsung Electronics trades at 71,000 KRW",
		Route:     RouteAnalysis.String(),
	}))

	_, err := engine.HandleQuery(context.Background(), "s-1", "thanks")
	require.NoError(t, err)
	assert.True(t, sawContext, "previous turns should reach the cleaner prompt")
}
