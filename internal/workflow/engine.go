package workflow

import (
	"context"
	"strings"
	"time"

	"delphi/internal/adapters/ai"
	"delphi/internal/domain/history"
	"delphi/internal/events"
	"delphi/internal/metrics"
	"delphi/pkg/errors"
	"delphi/pkg/logger"
)

const (
	conversationalPrompt = `You are a friendly finance assistant. Reply briefly and warmly to the small talk, in the user's language. Mention you can help with financial questions.`

	conversationalFallback = "Hello! I'm a finance assistant. Ask me about markets, companies, or financial concepts."
	nonFinancialAnswer     = "I can only help with financial topics such as markets, companies, and financial concepts. Could you ask me something in that area?"
	turnFailedAnswer       = "Something went wrong while processing this question. Please try again in a moment."

	lowConfidenceLabel = "[Low confidence] "

	sessionLockTTL = 2 * time.Minute
)

// Result is what a caller gets back for one turn. RetryCount and Quality
// are diagnostics; Answer, Artifacts and Status are the contract.
type Result struct {
	Answer     string      `json:"answer"`
	Artifacts  []Artifact  `json:"artifacts"`
	Status     Status      `json:"status"`
	RetryCount int         `json:"retry_count"`
	Quality    *Assessment `json:"quality,omitempty"`
}

// ArtifactRenderer produces chart and report files from a finished answer.
type ArtifactRenderer interface {
	RenderLineChart(title string, series []Series) (*Artifact, error)
	WriteReport(title, answer, format string) (*Artifact, error)
}

// TurnSink receives completed turns for offline analytics.
type TurnSink interface {
	Record(ctx context.Context, record *history.TurnRecord) error
}

// SessionLocker serializes concurrent turns within one session.
type SessionLocker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

// Config holds the engine's tunables.
type Config struct {
	MaxRetries    int
	StageTimeout  time.Duration
	ContextWindow int
}

// Deps wires the engine's collaborators. History and the five stages are
// required; renderer, publisher, analytics and locks degrade to no-ops.
type Deps struct {
	Cleaner     *QueryCleaner
	Classifier  *RequestClassifier
	Router      *Router
	Providers   []EvidenceProvider
	Synthesizer *ReportSynthesizer
	Evaluator   *QualityEvaluator

	History   *history.Service
	Chat      ai.ChatProvider // used only for conversational replies
	ChatModel string

	Renderer  ArtifactRenderer
	Publisher *events.Publisher
	Analytics TurnSink
	Locks     SessionLocker
}

// Engine runs one query through the staged workflow: clean, classify,
// route, gather, synthesize, evaluate, with a bounded quality-gated retry
// loop. Retries re-enter at classification with a rewritten query; the retry
// counter only ever grows.
type Engine struct {
	deps      Deps
	providers map[Route]EvidenceProvider
	cfg       Config
	log       *logger.Logger
}

// NewEngine constructs a workflow engine.
func NewEngine(deps Deps, cfg Config) *Engine {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 90 * time.Second
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = 4
	}

	providers := make(map[Route]EvidenceProvider, len(deps.Providers))
	for _, p := range deps.Providers {
		providers[p.Route()] = p
	}

	return &Engine{
		deps:      deps,
		providers: providers,
		cfg:       cfg,
		log:       logger.Get().With("component", "engine"),
	}
}

// HandleQuery is the sole entry point: it runs one turn for a session and
// returns the answer, any artifacts, and the terminal status.
func (e *Engine) HandleQuery(ctx context.Context, sessionID, rawQuery string) (*Result, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "empty session id")
	}
	if strings.TrimSpace(rawQuery) == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "empty query")
	}

	if e.deps.Locks != nil {
		acquired, err := e.deps.Locks.AcquireLock(ctx, "session:"+sessionID, sessionLockTTL)
		if err != nil {
			e.log.Warnf("Session lock unavailable, proceeding unlocked: session=%s error=%v", sessionID, err)
		} else if !acquired {
			return nil, errors.Wrapf(errors.ErrUnavailable, "session %s has a turn in flight", sessionID)
		} else {
			defer func() {
				if err := e.deps.Locks.ReleaseLock(context.WithoutCancel(ctx), "session:"+sessionID); err != nil {
					e.log.Warnf("Failed to release session lock: session=%s error=%v", sessionID, err)
				}
			}()
		}
	}

	state := NewState(sessionID, rawQuery)
	e.runTurn(ctx, state)
	e.finishTurn(ctx, state)

	result := &Result{
		Answer:     state.Answer,
		Artifacts:  state.Artifacts,
		Status:     state.Status,
		RetryCount: state.RetryCount,
	}
	// Short-circuited turns never reach the evaluator.
	if state.Assessment.Verdict != "" {
		quality := state.Assessment
		result.Quality = &quality
	}
	return result, nil
}

func (e *Engine) runTurn(ctx context.Context, state *State) {
	// Context window, best-effort: a cold session cleans without history.
	window, err := e.deps.History.Window(ctx, state.SessionID, e.cfg.ContextWindow)
	if err != nil {
		e.log.Warnf("History window unavailable: session=%s error=%v", state.SessionID, err)
	}

	cleaned, err := runStage(ctx, e.cfg.StageTimeout, "cleaner", func(sctx context.Context) (string, error) {
		return e.deps.Cleaner.Clean(sctx, state.RawQuery, window)
	})
	if err != nil {
		state.Status = StatusFailed
		state.Answer = turnFailedAnswer
		return
	}
	state.CleanedQuery = cleaned
	state.CurrentQuery = cleaned

	if e.classifyTurn(ctx, state, state.CleanedQuery) {
		return
	}

	e.runQualityLoop(ctx, state)
}

// classifyTurn classifies query and applies the CONVERSATIONAL and
// NON_FINANCIAL short-circuits: no evidence, no evaluation, no retries.
// It reports whether the turn reached a terminal state.
func (e *Engine) classifyTurn(ctx context.Context, state *State, query string) bool {
	classification, err := runStage(ctx, e.cfg.StageTimeout, "classifier", func(sctx context.Context) (Classification, error) {
		return e.deps.Classifier.Classify(sctx, query)
	})
	if err != nil {
		e.log.Errorf("Classification failed: session=%s error=%v", state.SessionID, err)
		state.Status = StatusFailed
		state.Answer = turnFailedAnswer
		return true
	}
	state.Classification = classification

	switch classification {
	case ClassConversational:
		state.Answer = e.conversationalReply(ctx, query)
		state.Status = StatusPassed
		return true
	case ClassNonFinancial:
		state.Answer = nonFinancialAnswer
		state.Status = StatusPassed
		return true
	}
	return false
}

// runQualityLoop executes the gather-synthesize-evaluate cycle until the
// answer passes, the retry budget runs out, or the same failure repeats.
func (e *Engine) runQualityLoop(ctx context.Context, state *State) {
	for {
		route, err := runStage(ctx, e.cfg.StageTimeout, "router", func(sctx context.Context) (Route, error) {
			return e.deps.Router.Route(sctx, state.CurrentQuery)
		})
		if err != nil {
			// The router itself falls back internally; an error here means
			// the context is gone.
			state.Status = StatusFailed
			state.Answer = turnFailedAnswer
			return
		}
		state.Route = route

		provider, ok := e.providers[route]
		if !ok {
			e.log.Errorf("No provider for route %s: %v", route, errors.ErrRoutingUndecidable)
			state.Status = StatusFailed
			state.Answer = turnFailedAnswer
			return
		}

		assessment := e.runAttempt(ctx, state, provider)
		if state.Status == StatusFailed {
			return
		}
		state.Assessment = assessment

		metrics.EvidenceItems.WithLabelValues(route.String()).Observe(float64(len(state.Evidence)))
		if len(state.Unresolved) > 0 {
			metrics.UnresolvedEntities.WithLabelValues(route.String()).Add(float64(len(state.Unresolved)))
		}

		if assessment.Pass(e.deps.Evaluator.Threshold()) {
			state.Status = StatusPassed
			return
		}

		reason := assessment.Reason
		if reason == FailureNone {
			reason = FailureIncorrect
		}

		// The same failure twice in a row means retrying is not helping.
		// The failed attempt still consumed budget.
		if reason == state.LastFailure {
			if state.RetryCount < e.cfg.MaxRetries {
				state.RetryCount++
			}
			e.log.Infof("Consecutive %s failures, giving up early: session=%s", reason, state.SessionID)
			e.exhaust(state)
			return
		}
		if state.RetryCount >= e.cfg.MaxRetries {
			e.exhaust(state)
			return
		}

		state.RetryCount++
		state.LastFailure = reason
		rewritten := rewriteQuery(state, assessment)

		e.log.Infof("Retrying turn: session=%s attempt=%d reason=%s", state.SessionID, state.RetryCount, reason)
		metrics.TurnRetries.WithLabelValues(route.String(), string(reason)).Inc()
		if e.deps.Publisher != nil {
			e.deps.Publisher.PublishTurnRetried(ctx, events.TurnRetriedEvent{
				TurnID:        state.TurnID.String(),
				SessionID:     state.SessionID,
				Attempt:       state.RetryCount,
				FailureReason: string(reason),
				RewrittenTo:   rewritten,
				RetriedAt:     time.Now().UTC(),
			})
		}

		state.CurrentQuery = rewritten
		state.ResetAttempt()

		// Retries re-enter at classification: the rewrite can drift out of
		// finance, and the route may only change when the class is re-read.
		if e.classifyTurn(ctx, state, state.CurrentQuery) {
			return
		}
	}
}

// runAttempt gathers evidence, synthesizes and evaluates once. Unrecoverable
// gathering errors set StatusFailed; recoverable ones return a failing
// assessment so the retry budget applies.
func (e *Engine) runAttempt(ctx context.Context, state *State, provider EvidenceProvider) Assessment {
	_, err := runStage(ctx, e.cfg.StageTimeout, "gather", func(sctx context.Context) (struct{}, error) {
		return struct{}{}, provider.Gather(sctx, state)
	})
	if err != nil {
		if errors.Is(err, errors.ErrAllEntitiesUnresolved) {
			// Nothing the query asked about exists in market data; a rewrite
			// cannot fix that.
			state.Status = StatusFailed
			state.Answer = insufficientEvidenceAnswer
			return Assessment{}
		}
		e.log.Warnf("Evidence gathering failed: session=%s route=%s error=%v", state.SessionID, state.Route, err)
		return Assessment{Verdict: "fail", Reason: FailureError}
	}

	_, err = runStage(ctx, e.cfg.StageTimeout, "synthesizer", func(sctx context.Context) (struct{}, error) {
		return struct{}{}, e.deps.Synthesizer.Synthesize(sctx, state)
	})
	if err != nil {
		e.log.Warnf("Synthesis failed: session=%s error=%v", state.SessionID, err)
		return Assessment{Verdict: "fail", Reason: FailureError}
	}

	assessment, _ := runStage(ctx, e.cfg.StageTimeout, "evaluator", func(sctx context.Context) (Assessment, error) {
		return e.deps.Evaluator.Evaluate(sctx, state), nil
	})
	return assessment
}

// exhaust marks the turn EXHAUSTED and labels whatever answer survived as
// low confidence.
func (e *Engine) exhaust(state *State) {
	state.Status = StatusExhausted
	if strings.TrimSpace(state.Answer) == "" {
		state.Answer = insufficientEvidenceAnswer
	}
	if !strings.HasPrefix(state.Answer, lowConfidenceLabel) {
		state.Answer = lowConfidenceLabel + state.Answer
	}
}

// finishTurn renders artifacts, persists the completed turn and emits
// events. Persistence happens only here, so interrupted turns leave no
// partial history.
func (e *Engine) finishTurn(ctx context.Context, state *State) {
	ctx = context.WithoutCancel(ctx)

	if state.Status == StatusPassed && e.deps.Renderer != nil {
		e.renderArtifacts(ctx, state)
	}

	latency := time.Since(state.StartedAt).Milliseconds()
	record := &history.TurnRecord{
		ID:             state.TurnID,
		SessionID:      state.SessionID,
		Query:          state.RawQuery,
		CleanedQuery:   state.CleanedQuery,
		Classification: state.Classification.String(),
		Route:          state.Route.String(),
		Status:         state.Status.String(),
		Answer:         state.Answer,
		Artifacts:      state.ArtifactPaths(),
		QualityScore:   state.Assessment.Overall(),
		RetryCount:     state.RetryCount,
		LatencyMS:      latency,
		CreatedAt:      time.Now().UTC(),
	}

	if err := e.deps.History.Append(ctx, record); err != nil {
		e.log.Errorf("Failed to persist turn: session=%s error=%v", state.SessionID, err)
	}

	if e.deps.Analytics != nil {
		if err := e.deps.Analytics.Record(ctx, record); err != nil {
			e.log.Warnf("Failed to record turn analytics: error=%v", err)
		}
	}

	if e.deps.Publisher != nil {
		e.deps.Publisher.PublishTurnCompleted(ctx, events.TurnCompletedEvent{
			TurnID:         state.TurnID.String(),
			SessionID:      state.SessionID,
			Classification: state.Classification.String(),
			Route:          state.Route.String(),
			Status:         state.Status.String(),
			QualityScore:   state.Assessment.Overall(),
			RetryCount:     state.RetryCount,
			ArtifactCount:  len(state.Artifacts),
			LatencyMS:      latency,
			CompletedAt:    time.Now().UTC(),
		})
	}

	metrics.TurnsTotal.WithLabelValues(state.Classification.String(), state.Route.String(), state.Status.String()).Inc()
	metrics.TurnDuration.WithLabelValues(state.Route.String(), state.Status.String()).Observe(float64(latency) / 1000.0)
	if state.Classification == ClassFinancial {
		metrics.TurnQualityScore.WithLabelValues(state.Route.String()).Observe(state.Assessment.Overall())
	}

	e.log.Infof("Turn finished: session=%s status=%s route=%s retries=%d quality=%.2f latency_ms=%d",
		state.SessionID, state.Status, state.Route, state.RetryCount, state.Assessment.Overall(), latency)
}

func (e *Engine) renderArtifacts(ctx context.Context, state *State) {
	title := state.Plan.Title
	if title == "" {
		title = truncateRunes(state.CleanedQuery, 60)
	}

	if state.Plan.NeedsChart && len(state.Charts) > 0 {
		if artifact, err := e.deps.Renderer.RenderLineChart(title, state.Charts); err != nil {
			e.log.Warnf("Chart rendering failed: error=%v", err)
		} else {
			state.Artifacts = append(state.Artifacts, *artifact)
			e.publishArtifact(ctx, state, artifact)
		}
	}

	if state.Plan.SaveReport {
		if artifact, err := e.deps.Renderer.WriteReport(title, state.Answer, state.Plan.Format); err != nil {
			e.log.Warnf("Report writing failed: error=%v", err)
		} else {
			state.Artifacts = append(state.Artifacts, *artifact)
			e.publishArtifact(ctx, state, artifact)
		}
	}
}

func (e *Engine) publishArtifact(ctx context.Context, state *State, artifact *Artifact) {
	metrics.ArtifactsCreated.WithLabelValues(artifact.Kind).Inc()
	if e.deps.Publisher != nil {
		e.deps.Publisher.PublishArtifactCreated(ctx, events.ArtifactCreatedEvent{
			TurnID:    state.TurnID.String(),
			SessionID: state.SessionID,
			Kind:      artifact.Kind,
			Path:      artifact.Path,
			MIME:      artifact.MIME,
			CreatedAt: time.Now().UTC(),
		})
	}
}

func (e *Engine) conversationalReply(ctx context.Context, query string) string {
	if e.deps.Chat == nil {
		return conversationalFallback
	}

	sctx, cancel := context.WithTimeout(ctx, e.cfg.StageTimeout)
	defer cancel()

	resp, err := e.deps.Chat.Chat(sctx, ai.ChatRequest{
		Model: e.deps.ChatModel,
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: conversationalPrompt},
			{Role: ai.RoleUser, Content: query},
		},
		Temperature: 0.7,
	})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		return conversationalFallback
	}
	return resp.Content
}

// rewriteQuery picks the next attempt's query: the evaluator's hint when it
// gave one, otherwise the cleaned query again.
func rewriteQuery(state *State, assessment Assessment) string {
	if hint := strings.TrimSpace(assessment.RewriteHint); hint != "" {
		return hint
	}
	return state.CleanedQuery
}

// runStage executes fn under the stage timeout and records stage metrics.
func runStage[T any](ctx context.Context, timeout time.Duration, stage string, fn func(context.Context) (T, error)) (T, error) {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	out, err := fn(sctx)
	metrics.ObserveStage(stage, start, err)
	return out, err
}
