package workflow

import (
	"context"
	"encoding/json"

	"delphi/internal/adapters/ai"
	"delphi/pkg/errors"
	"delphi/pkg/logger"
)

const classifierSystemPrompt = `You classify queries sent to a finance assistant.
- FINANCIAL: asks about markets, securities, companies as investments, financial concepts, indicators, or the user's portfolio.
- CONVERSATIONAL: greetings, thanks, small talk, questions about the assistant itself.
- NON_FINANCIAL: everything else (weather, cooking, general trivia, coding help).
When the intent is genuinely unclear, prefer NON_FINANCIAL.`

// RequestClassifier assigns an intent to a cleaned query.
type RequestClassifier struct {
	chat        ai.ChatProvider
	model       string
	temperature float64
	log         *logger.Logger
}

// NewRequestClassifier constructs a request classifier.
func NewRequestClassifier(chat ai.ChatProvider, model string, temperature float64) *RequestClassifier {
	return &RequestClassifier{
		chat:        chat,
		model:       model,
		temperature: temperature,
		log:         logger.Get().With("stage", "classifier"),
	}
}

type classifierOutput struct {
	Classification string `json:"classification"`
	Reason         string `json:"reason"`
}

// Classify returns the query's intent. Ambiguous or unparseable model output
// resolves to NON_FINANCIAL so the engine refuses instead of guessing.
func (c *RequestClassifier) Classify(ctx context.Context, query string) (Classification, error) {
	resp, err := c.chat.Chat(ctx, ai.ChatRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: classifierSystemPrompt},
			{Role: ai.RoleUser, Content: query},
		},
		ResponseSchema: &ai.ResponseSchema{
			Name:   "classification",
			Schema: toJSONSchema(classifierSchema),
		},
	})
	if err != nil {
		return "", err
	}

	var out classifierOutput
	if err := json.Unmarshal([]byte(resp.Content), &out); err != nil {
		c.log.Warnf("Defaulting to NON_FINANCIAL: %v", errors.Wrapf(errors.ErrClassificationAmbiguous, "unparseable output: %v", err))
		return ClassNonFinancial, nil
	}

	classification := Classification(out.Classification)
	if !classification.Valid() {
		c.log.Warnf("Defaulting to NON_FINANCIAL: %v", errors.Wrapf(errors.ErrClassificationAmbiguous, "unknown intent %q", out.Classification))
		return ClassNonFinancial, nil
	}

	c.log.Debugf("Classified query: intent=%s reason=%s", classification, out.Reason)
	return classification, nil
}
