package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delphi/internal/adapters/ai"
)

func TestSynthesizer_EmptyEvidenceSkipsModel(t *testing.T) {
	chat := newFakeChat() // any model call would error
	synth := NewReportSynthesizer(chat, "test-model", 0)

	state := NewState("s-1", "q")
	state.CurrentQuery = "obscure question with no sources"

	err := synth.Synthesize(context.Background(), state)
	require.NoError(t, err)

	assert.Equal(t, insufficientEvidenceAnswer, state.Answer)
	assert.Zero(t, chat.callCount("report"))
	assert.False(t, state.Plan.NeedsChart)
	assert.False(t, state.Plan.SaveReport)
}

func TestSynthesizer_PromptCarriesEvidenceAndGaps(t *testing.T) {
	chat := newFakeChat()
	var prompt string
	chat.on("report", func(req ai.ChatRequest) (string, error) {
		prompt = req.Messages[len(req.Messages)-1].Content
		return reportJSON("Samsung rose 4% [1]. No data was available for Foocorp."), nil
	})
	synth := NewReportSynthesizer(chat, "test-model", 0)

	state := NewState("s-1", "q")
	state.CurrentQuery = "compare Samsung and Foocorp"
	state.Evidence = []EvidenceItem{
		{Kind: EvidenceQuote, Source: "market data", Entity: "005930.KS", Content: "Samsung Electronics rose 4% today"},
	}
	state.Unresolved = []string{"Foocorp"}

	err := synth.Synthesize(context.Background(), state)
	require.NoError(t, err)

	assert.Contains(t, prompt, "[1]")
	assert.Contains(t, prompt, "Samsung Electronics rose 4%")
	assert.Contains(t, prompt, "Foocorp")
	assert.Contains(t, prompt, "compare Samsung and Foocorp")
	assert.Contains(t, state.Answer, "[1]")
}

func TestSynthesizer_ChartOnlyWhenSeriesExist(t *testing.T) {
	chat := newFakeChat()
	chat.on("report", func(ai.ChatRequest) (string, error) {
		return mustJSON(map[string]interface{}{
			"answer": "TSLA gained 12% over three months [1].", "needs_chart": true,
			"save_report": false, "report_format": "markdown", "report_title": "TSLA trend",
		}), nil
	})
	synth := NewReportSynthesizer(chat, "test-model", 0)

	// Model asks for a chart but no series were gathered.
	state := NewState("s-1", "q")
	state.CurrentQuery = "TSLA trend"
	state.Evidence = []EvidenceItem{corpusEvidence("TSLA history summary")}

	require.NoError(t, synth.Synthesize(context.Background(), state))
	assert.False(t, state.Plan.NeedsChart)

	// With a series the plan survives.
	state.ResetAttempt()
	state.Evidence = []EvidenceItem{corpusEvidence("TSLA history summary")}
	state.Charts = []Series{{Label: "TSLA", Values: []float64{1, 2, 3}}}

	require.NoError(t, synth.Synthesize(context.Background(), state))
	assert.True(t, state.Plan.NeedsChart)
	assert.Equal(t, "TSLA trend", state.Plan.Title)
}

func TestSynthesizer_RejectsEmptyModelAnswer(t *testing.T) {
	chat := newFakeChat()
	chat.reply("report", reportJSON("   "))
	synth := NewReportSynthesizer(chat, "test-model", 0)

	state := NewState("s-1", "q")
	state.CurrentQuery = "q"
	state.Evidence = []EvidenceItem{corpusEvidence("something")}

	err := synth.Synthesize(context.Background(), state)
	assert.Error(t, err)
}

func TestNormalizeFormat(t *testing.T) {
	assert.Equal(t, "pdf", normalizeFormat("pdf"))
	assert.Equal(t, "text", normalizeFormat("text"))
	assert.Equal(t, "markdown", normalizeFormat("markdown"))
	assert.Equal(t, "markdown", normalizeFormat("docx"))
	assert.Equal(t, "markdown", normalizeFormat(""))
}
