package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"delphi/internal/adapters/ai"
	"delphi/internal/domain/history"
)

// fakeChat dispatches on the response schema name so one fake can script
// every LLM-backed stage. Plain (schema-less) requests use the "plain" key.
type fakeChat struct {
	mu       sync.Mutex
	handlers map[string]func(req ai.ChatRequest) (string, error)
	calls    map[string]int
}

func newFakeChat() *fakeChat {
	return &fakeChat{
		handlers: make(map[string]func(req ai.ChatRequest) (string, error)),
		calls:    make(map[string]int),
	}
}

func (f *fakeChat) Name() string { return "fake" }

func (f *fakeChat) Chat(_ context.Context, req ai.ChatRequest) (*ai.ChatResponse, error) {
	key := "plain"
	if req.ResponseSchema != nil {
		key = req.ResponseSchema.Name
	}

	f.mu.Lock()
	f.calls[key]++
	handler, ok := f.handlers[key]
	f.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("no handler for schema %q", key)
	}
	content, err := handler(req)
	if err != nil {
		return nil, err
	}
	return &ai.ChatResponse{ID: "fake", Model: "fake", Content: content}, nil
}

func (f *fakeChat) on(schema string, handler func(req ai.ChatRequest) (string, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[schema] = handler
}

func (f *fakeChat) reply(schema, content string) {
	f.on(schema, func(ai.ChatRequest) (string, error) { return content, nil })
}

func (f *fakeChat) callCount(schema string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[schema]
}

func mustJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

func cleanedJSON(query string) string {
	return mustJSON(map[string]interface{}{"cleaned_query": query, "used_context": false})
}

func classificationJSON(class Classification) string {
	return mustJSON(map[string]interface{}{"classification": string(class), "reason": "scripted"})
}

func routeJSON(route Route) string {
	return mustJSON(map[string]interface{}{"route": string(route), "reason": "scripted"})
}

func reportJSON(answer string) string {
	return mustJSON(map[string]interface{}{
		"answer": answer, "needs_chart": false, "save_report": false,
		"report_format": "markdown", "report_title": "",
	})
}

func assessmentJSON(score int, verdict, hint string) string {
	return mustJSON(map[string]interface{}{
		"relevance": score, "accuracy": score, "completeness": score, "clarity": score,
		"verdict": verdict, "rewrite_hint": hint,
	})
}

// fakeProvider serves one route with a scripted gather function.
type fakeProvider struct {
	route   Route
	gather  func(ctx context.Context, state *State) error
	queries []string
}

func (p *fakeProvider) Route() Route { return p.route }

func (p *fakeProvider) Gather(ctx context.Context, state *State) error {
	p.queries = append(p.queries, state.CurrentQuery)
	if p.gather == nil {
		return nil
	}
	return p.gather(ctx, state)
}

func corpusEvidence(content string) EvidenceItem {
	return EvidenceItem{Kind: EvidenceCorpus, Source: "test corpus", Content: content, Score: 0.9}
}

// memHistoryRepo is an in-memory history.Repository.
type memHistoryRepo struct {
	mu      sync.Mutex
	records []*history.TurnRecord
}

func (r *memHistoryRepo) Append(_ context.Context, record *history.TurnRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

func (r *memHistoryRepo) Recent(_ context.Context, sessionID string, limit int) ([]*history.TurnRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*history.TurnRecord
	for i := len(r.records) - 1; i >= 0 && len(out) < limit; i-- {
		if r.records[i].SessionID == sessionID {
			out = append(out, r.records[i])
		}
	}
	return out, nil
}

func (r *memHistoryRepo) CountBySession(_ context.Context, sessionID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, rec := range r.records {
		if rec.SessionID == sessionID {
			count++
		}
	}
	return count, nil
}

func (r *memHistoryRepo) last() *history.TurnRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == 0 {
		return nil
	}
	return r.records[len(r.records)-1]
}
