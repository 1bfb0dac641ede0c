package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"delphi/internal/adapters/ai"
	"delphi/pkg/errors"
	"delphi/pkg/logger"
)

const synthesizerSystemPrompt = `You write answers for a finance assistant.
Rules:
- Use ONLY the numbered evidence provided. Never add facts from your own knowledge.
- Cite evidence inline as [n] after each claim it supports.
- Answer in the language of the query.
- If entities are listed as unavailable, say so explicitly and answer with what remains.
- Decide whether a price chart helps, and whether the user asked to save a report.`

// insufficientEvidenceAnswer is returned verbatim when there is nothing to
// cite. Produced without the model so nothing can be fabricated.
const insufficientEvidenceAnswer = "I could not find reliable information to answer this question. " +
	"The available sources returned no relevant material, so I'd rather say so than guess. " +
	"Rephrasing the question or naming the company or term more specifically may help."

// ReportSynthesizer turns gathered evidence into a cited answer and a
// presentation plan.
type ReportSynthesizer struct {
	chat        ai.ChatProvider
	model       string
	temperature float64
	log         *logger.Logger
}

// NewReportSynthesizer constructs a report synthesizer.
func NewReportSynthesizer(chat ai.ChatProvider, model string, temperature float64) *ReportSynthesizer {
	return &ReportSynthesizer{
		chat:        chat,
		model:       model,
		temperature: temperature,
		log:         logger.Get().With("stage", "synthesizer"),
	}
}

type synthesizerOutput struct {
	Answer       string `json:"answer"`
	NeedsChart   bool   `json:"needs_chart"`
	SaveReport   bool   `json:"save_report"`
	ReportFormat string `json:"report_format"`
	ReportTitle  string `json:"report_title"`
}

// Synthesize writes state.Answer and state.Plan from the gathered evidence.
// With no evidence at all it emits a fixed insufficiency answer instead of
// calling the model.
func (s *ReportSynthesizer) Synthesize(ctx context.Context, state *State) error {
	if len(state.Evidence) == 0 {
		state.Answer = insufficientEvidenceAnswer
		state.Plan = ReportPlan{}
		s.log.Debugf("No evidence to synthesize from: query=%q", state.CurrentQuery)
		return nil
	}

	resp, err := s.chat.Chat(ctx, ai.ChatRequest{
		Model:       s.model,
		Temperature: s.temperature,
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: synthesizerSystemPrompt},
			{Role: ai.RoleUser, Content: s.buildPrompt(state)},
		},
		ResponseSchema: &ai.ResponseSchema{
			Name:   "report",
			Schema: toJSONSchema(synthesizerSchema),
		},
	})
	if err != nil {
		return errors.Wrap(err, "synthesis")
	}

	var out synthesizerOutput
	if err := json.Unmarshal([]byte(resp.Content), &out); err != nil {
		return errors.Wrapf(errors.ErrSynthesisFailure, "unparseable synthesizer output: %v", err)
	}
	if strings.TrimSpace(out.Answer) == "" {
		return errors.Wrap(errors.ErrSynthesisFailure, "synthesizer produced empty answer")
	}

	state.Answer = out.Answer
	state.Plan = ReportPlan{
		NeedsChart: out.NeedsChart && len(state.Charts) > 0,
		SaveReport: out.SaveReport,
		Format:     normalizeFormat(out.ReportFormat),
		Title:      out.ReportTitle,
	}

	return nil
}

func (s *ReportSynthesizer) buildPrompt(state *State) string {
	var sb strings.Builder

	sb.WriteString("Evidence:\n")
	for i, item := range state.Evidence {
		fmt.Fprintf(&sb, "[%d] (%s) %s\n", i+1, item.Kind, item.Content)
	}

	if len(state.Unresolved) > 0 {
		fmt.Fprintf(&sb, "\nUnavailable entities (no data could be retrieved): %s\n",
			strings.Join(state.Unresolved, ", "))
	}

	fmt.Fprintf(&sb, "\nQuery: %s", state.CurrentQuery)
	return sb.String()
}

func normalizeFormat(format string) string {
	switch format {
	case "markdown", "pdf", "text":
		return format
	default:
		return "markdown"
	}
}
