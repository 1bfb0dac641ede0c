package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"delphi/internal/adapters/ai"
	"delphi/internal/domain/history"
	"delphi/pkg/errors"
	"delphi/pkg/logger"
)

const cleanerSystemPrompt = `You normalize user queries for a finance assistant.
Rewrite the query as a single self-contained question:
- Fix typos and expand informal abbreviations.
- Resolve pronouns and elided subjects ("its PER?", "what about Samsung?") using the conversation context.
- Preserve the user's language. Do not answer the question, do not add information.`

// QueryCleaner normalizes raw queries and resolves references against the
// session's recent turns.
type QueryCleaner struct {
	chat        ai.ChatProvider
	model       string
	temperature float64
	log         *logger.Logger
}

// NewQueryCleaner constructs a query cleaner.
func NewQueryCleaner(chat ai.ChatProvider, model string, temperature float64) *QueryCleaner {
	return &QueryCleaner{
		chat:        chat,
		model:       model,
		temperature: temperature,
		log:         logger.Get().With("stage", "cleaner"),
	}
}

type cleanerOutput struct {
	CleanedQuery string `json:"cleaned_query"`
	UsedContext  bool   `json:"used_context"`
}

// Clean returns a self-contained version of raw. The cleaner degrades rather
// than fails: on any error the raw query is returned so the turn can proceed.
func (c *QueryCleaner) Clean(ctx context.Context, raw string, window []history.TurnSummary) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.Wrap(errors.ErrInvalidInput, "empty query")
	}

	var sb strings.Builder
	if len(window) > 0 {
		sb.WriteString("Conversation context, newest first:\n")
		for i, turn := range window {
			fmt.Fprintf(&sb, "%d. Q: %s\n   A: %s\n", i+1, turn.Query, truncateRunes(turn.Answer, 300))
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Query: %s", trimmed)

	resp, err := c.chat.Chat(ctx, ai.ChatRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: cleanerSystemPrompt},
			{Role: ai.RoleUser, Content: sb.String()},
		},
		ResponseSchema: &ai.ResponseSchema{
			Name:   "cleaned_query",
			Schema: toJSONSchema(cleanerSchema),
		},
	})
	if err != nil {
		c.log.Warnf("Cleaner degraded to raw query: error=%v", err)
		return trimmed, nil
	}

	var out cleanerOutput
	if err := json.Unmarshal([]byte(resp.Content), &out); err != nil {
		c.log.Warnf("Cleaner returned unparseable output, using raw query: error=%v", err)
		return trimmed, nil
	}

	cleaned := strings.TrimSpace(out.CleanedQuery)
	if cleaned == "" {
		return trimmed, nil
	}

	if out.UsedContext {
		c.log.Debugf("Resolved query from context: raw=%q cleaned=%q", trimmed, cleaned)
	}
	return cleaned, nil
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
