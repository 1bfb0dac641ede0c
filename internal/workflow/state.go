package workflow

import (
	"time"

	"github.com/google/uuid"
)

// Classification is the intent assigned to a cleaned query.
type Classification string

const (
	ClassFinancial      Classification = "FINANCIAL"
	ClassConversational Classification = "CONVERSATIONAL"
	ClassNonFinancial   Classification = "NON_FINANCIAL"
)

// Valid checks if the classification is a known value.
func (c Classification) Valid() bool {
	switch c {
	case ClassFinancial, ClassConversational, ClassNonFinancial:
		return true
	}
	return false
}

// String returns string representation
func (c Classification) String() string {
	return string(c)
}

// Route selects the evidence provider for a financial query.
type Route string

const (
	RouteRetrieval Route = "RETRIEVAL"
	RouteAnalysis  Route = "ANALYSIS"
	RouteNone      Route = "NONE"
)

// String returns string representation
func (r Route) String() string {
	return string(r)
}

// Status is the terminal outcome of a turn.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusPassed    Status = "PASSED"
	StatusExhausted Status = "EXHAUSTED"
	StatusFailed    Status = "FAILED"
)

// String returns string representation
func (s Status) String() string {
	return string(s)
}

// Terminal reports whether the status ends the turn.
func (s Status) Terminal() bool {
	return s == StatusPassed || s == StatusExhausted || s == StatusFailed
}

// FailureReason categorizes why an attempt did not pass evaluation.
type FailureReason string

const (
	FailureNone      FailureReason = ""
	FailureEmpty     FailureReason = "empty"     // No usable answer was produced
	FailureError     FailureReason = "error"     // A stage reported an error while producing the answer
	FailureIncorrect FailureReason = "incorrect" // The evaluator judged the answer insufficient
)

// EvidenceKind tags where an evidence item came from.
type EvidenceKind string

const (
	EvidenceCorpus         EvidenceKind = "corpus"
	EvidenceQuote          EvidenceKind = "quote"
	EvidenceHistory        EvidenceKind = "history"
	EvidenceNews           EvidenceKind = "news"
	EvidenceRecommendation EvidenceKind = "recommendation"
	EvidenceIndicator      EvidenceKind = "indicator"
)

// EvidenceItem is one unit of grounded material the synthesizer may cite.
type EvidenceItem struct {
	Kind    EvidenceKind `json:"kind"`
	Source  string       `json:"source"`
	Entity  string       `json:"entity,omitempty"`
	Content string       `json:"content"`
	Score   float64      `json:"score,omitempty"`
}

// Series is a dated numeric series used for chart artifacts.
type Series struct {
	Label  string
	Dates  []time.Time
	Values []float64
}

// ReportPlan is the synthesizer's decision about presentation artifacts.
type ReportPlan struct {
	NeedsChart bool   `json:"needs_chart"`
	SaveReport bool   `json:"save_report"`
	Format     string `json:"format"` // markdown, pdf, text
	Title      string `json:"title"`
}

// Artifact is a file produced alongside an answer.
type Artifact struct {
	ID   uuid.UUID `json:"id"`
	Kind string    `json:"kind"` // chart, report
	Path string    `json:"path"`
	MIME string    `json:"mime"`
}

// Assessment is the evaluator's verdict over one synthesized answer.
type Assessment struct {
	Relevance    int           `json:"relevance"`    // 1-5
	Accuracy     int           `json:"accuracy"`     // 1-5
	Completeness int           `json:"completeness"` // 1-5
	Clarity      int           `json:"clarity"`      // 1-5
	Verdict      string        `json:"verdict"` // pass, fail
	Reason       FailureReason `json:"-"`
	RewriteHint  string        `json:"rewrite_hint"`
}

// Overall is the mean of the four dimensions.
func (a Assessment) Overall() float64 {
	return float64(a.Relevance+a.Accuracy+a.Completeness+a.Clarity) / 4.0
}

// Pass reports whether the answer clears the quality gate: the judge must
// say pass and every dimension must meet the threshold. A single weak
// dimension fails the attempt regardless of the mean.
func (a Assessment) Pass(threshold float64) bool {
	if a.Verdict != "pass" {
		return false
	}
	for _, score := range []int{a.Relevance, a.Accuracy, a.Completeness, a.Clarity} {
		if float64(score) < threshold {
			return false
		}
	}
	return true
}

// State carries one turn through the workflow. It is owned by a single
// goroutine for the duration of the turn; stages read and write it directly.
type State struct {
	TurnID    uuid.UUID
	SessionID string

	RawQuery     string
	CleanedQuery string
	CurrentQuery string // rewritten across retries, starts as CleanedQuery

	Classification Classification
	Route          Route

	Evidence   []EvidenceItem
	Unresolved []string // entities that could not be resolved this attempt
	Charts     []Series // series gathered for potential chart artifacts

	Answer    string
	Plan      ReportPlan
	Artifacts []Artifact

	Assessment  Assessment
	RetryCount  int
	LastFailure FailureReason
	Status      Status

	StartedAt time.Time
}

// NewState initializes the state for a fresh turn.
func NewState(sessionID, rawQuery string) *State {
	return &State{
		TurnID:    uuid.New(),
		SessionID: sessionID,
		RawQuery:  rawQuery,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}
}

// ResetAttempt clears per-attempt outputs before a retry. Session identity,
// classification and the retry counter survive.
func (s *State) ResetAttempt() {
	s.Evidence = nil
	s.Unresolved = nil
	s.Charts = nil
	s.Answer = ""
	s.Plan = ReportPlan{}
	s.Assessment = Assessment{}
}

// ArtifactPaths returns artifact file paths for persistence.
func (s *State) ArtifactPaths() []string {
	paths := make([]string, 0, len(s.Artifacts))
	for _, a := range s.Artifacts {
		paths = append(paths, a.Path)
	}
	return paths
}
