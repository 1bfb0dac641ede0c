package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"delphi/internal/adapters/ai"
	"delphi/pkg/errors"
	"delphi/pkg/logger"
)

const evaluatorSystemPrompt = `You grade answers produced by a finance assistant.
Score each dimension 1-5 against the query and the evidence the answer was built from.
An answer that makes claims the evidence does not support must fail on accuracy.
An honest statement that information was unavailable is acceptable only when the evidence is indeed empty or irrelevant.
When the verdict is fail, propose a rephrased query likely to gather better evidence.`

const minAnswerRunes = 10

// errorMarkerPattern catches answers that leaked a failure message instead
// of content.
var errorMarkerPattern = regexp.MustCompile(`(?i)\b(error|exception|failed to|unable to process|traceback|stack trace)\b`)

// QualityEvaluator judges synthesized answers. A deterministic pre-screen
// rejects degenerate answers without spending a model call.
type QualityEvaluator struct {
	chat        ai.ChatProvider
	model       string
	temperature float64
	threshold   float64
	log         *logger.Logger
}

// NewQualityEvaluator constructs a quality evaluator.
func NewQualityEvaluator(chat ai.ChatProvider, model string, temperature, threshold float64) *QualityEvaluator {
	if threshold <= 0 {
		threshold = 3
	}
	return &QualityEvaluator{
		chat:        chat,
		model:       model,
		temperature: temperature,
		threshold:   threshold,
		log:         logger.Get().With("stage", "evaluator"),
	}
}

// Threshold returns the passing score.
func (e *QualityEvaluator) Threshold() float64 { return e.threshold }

type evaluatorOutput struct {
	Relevance    int    `json:"relevance"`
	Accuracy     int    `json:"accuracy"`
	Completeness int    `json:"completeness"`
	Clarity      int    `json:"clarity"`
	Verdict      string `json:"verdict"`
	RewriteHint  string `json:"rewrite_hint"`
}

// Evaluate grades the state's answer. It always returns a usable assessment:
// when the judge itself fails, the answer is treated as a failed attempt so
// the retry budget still applies.
func (e *QualityEvaluator) Evaluate(ctx context.Context, state *State) Assessment {
	if a, rejected := e.preScreen(state); rejected {
		return a
	}

	resp, err := e.chat.Chat(ctx, ai.ChatRequest{
		Model:       e.model,
		Temperature: e.temperature,
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: evaluatorSystemPrompt},
			{Role: ai.RoleUser, Content: e.buildPrompt(state)},
		},
		ResponseSchema: &ai.ResponseSchema{
			Name:   "assessment",
			Schema: toJSONSchema(evaluatorSchema),
		},
	})
	if err != nil {
		e.log.Warnf("Treating attempt as failed: %v", errors.Wrapf(errors.ErrQualityEvaluation, "judge call: %v", err))
		return Assessment{Verdict: "fail", Reason: FailureError}
	}

	var out evaluatorOutput
	if err := json.Unmarshal([]byte(resp.Content), &out); err != nil {
		e.log.Warnf("Treating attempt as failed: %v", errors.Wrapf(errors.ErrQualityEvaluation, "unparseable verdict: %v", err))
		return Assessment{Verdict: "fail", Reason: FailureError}
	}

	assessment := Assessment{
		Relevance:    clampScore(out.Relevance),
		Accuracy:     clampScore(out.Accuracy),
		Completeness: clampScore(out.Completeness),
		Clarity:      clampScore(out.Clarity),
		Verdict:      out.Verdict,
		RewriteHint:  strings.TrimSpace(out.RewriteHint),
	}
	if !assessment.Pass(e.threshold) {
		assessment.Verdict = "fail"
		assessment.Reason = FailureIncorrect
	}

	e.log.Debugf("Evaluated answer: overall=%.2f verdict=%s", assessment.Overall(), assessment.Verdict)
	return assessment
}

// preScreen rejects answers no judge needs to read: missing evidence,
// near-empty text, or leaked error messages.
func (e *QualityEvaluator) preScreen(state *State) (Assessment, bool) {
	answer := strings.TrimSpace(state.Answer)

	if len(state.Evidence) == 0 {
		return Assessment{Verdict: "fail", Reason: FailureEmpty}, true
	}
	if utf8.RuneCountInString(answer) < minAnswerRunes {
		return Assessment{Verdict: "fail", Reason: FailureEmpty}, true
	}
	if errorMarkerPattern.MatchString(answer) && utf8.RuneCountInString(answer) < 120 {
		// Long answers legitimately discuss errors; short ones that mention
		// them are almost always leaked failures.
		return Assessment{Verdict: "fail", Reason: FailureError}, true
	}

	return Assessment{}, false
}

func (e *QualityEvaluator) buildPrompt(state *State) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Query: %s\n\n", state.CurrentQuery)

	sb.WriteString("Evidence the answer was built from:\n")
	for i, item := range state.Evidence {
		fmt.Fprintf(&sb, "[%d] %s\n", i+1, item.Content)
	}

	fmt.Fprintf(&sb, "\nAnswer to grade:\n%s", state.Answer)
	return sb.String()
}

func clampScore(score int) int {
	switch {
	case score < 1:
		return 1
	case score > 5:
		return 5
	}
	return score
}
