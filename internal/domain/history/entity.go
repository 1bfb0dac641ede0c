package history

import (
	"time"

	"github.com/google/uuid"
)

// TurnRecord is one completed interaction within a session. Turns are
// append-only: a record exists only for turns that ran to completion.
type TurnRecord struct {
	ID        uuid.UUID `db:"id"`
	SessionID string    `db:"session_id"`

	Query        string `db:"query"`
	CleanedQuery string `db:"cleaned_query"`

	Classification string `db:"classification"`
	Route          string `db:"route"`
	Status         string `db:"status"`

	Answer       string   `db:"answer"`
	Artifacts    []string `db:"artifacts"`
	QualityScore float64  `db:"quality_score"`
	RetryCount   int      `db:"retry_count"`

	LatencyMS int64     `db:"latency_ms"`
	CreatedAt time.Time `db:"created_at"`
}

// TurnSummary is the compact form kept in the conversational context window.
type TurnSummary struct {
	Query  string
	Answer string
	Route  string
}

// Summary reduces a record to what the cleaner needs for pronoun and
// ellipsis resolution.
func (t *TurnRecord) Summary() TurnSummary {
	return TurnSummary{
		Query:  t.Query,
		Answer: t.Answer,
		Route:  t.Route,
	}
}
