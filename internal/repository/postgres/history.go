package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"delphi/internal/domain/history"
)

// Compile-time check
var _ history.Repository = (*HistoryRepository)(nil)

// HistoryRepository implements history.Repository using sqlx
type HistoryRepository struct {
	db *sqlx.DB
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sqlx.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// turnRow mirrors the turns table; artifacts are a text[] column.
type turnRow struct {
	ID             uuid.UUID      `db:"id"`
	SessionID      string         `db:"session_id"`
	Query          string         `db:"query"`
	CleanedQuery   string         `db:"cleaned_query"`
	Classification string         `db:"classification"`
	Route          string         `db:"route"`
	Status         string         `db:"status"`
	Answer         string         `db:"answer"`
	Artifacts      pq.StringArray `db:"artifacts"`
	QualityScore   float64        `db:"quality_score"`
	RetryCount     int            `db:"retry_count"`
	LatencyMS      int64          `db:"latency_ms"`
	CreatedAt      time.Time      `db:"created_at"`
}

func (r turnRow) toRecord() *history.TurnRecord {
	return &history.TurnRecord{
		ID:             r.ID,
		SessionID:      r.SessionID,
		Query:          r.Query,
		CleanedQuery:   r.CleanedQuery,
		Classification: r.Classification,
		Route:          r.Route,
		Status:         r.Status,
		Answer:         r.Answer,
		Artifacts:      []string(r.Artifacts),
		QualityScore:   r.QualityScore,
		RetryCount:     r.RetryCount,
		LatencyMS:      r.LatencyMS,
		CreatedAt:      r.CreatedAt,
	}
}

// Append inserts a completed turn
func (r *HistoryRepository) Append(ctx context.Context, record *history.TurnRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	query := `
		INSERT INTO turns (
			id, session_id, query, cleaned_query, classification, route,
			status, answer, artifacts, quality_score, retry_count, latency_ms, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)`

	_, err := r.db.ExecContext(ctx, query,
		record.ID, record.SessionID, record.Query, record.CleanedQuery,
		record.Classification, record.Route, record.Status, record.Answer,
		pq.Array(record.Artifacts), record.QualityScore, record.RetryCount,
		record.LatencyMS, record.CreatedAt,
	)

	return err
}

// Recent returns the latest turns for a session, newest first
func (r *HistoryRepository) Recent(ctx context.Context, sessionID string, limit int) ([]*history.TurnRecord, error) {
	var rows []turnRow

	query := `
		SELECT * FROM turns
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	if err := r.db.SelectContext(ctx, &rows, query, sessionID, limit); err != nil {
		return nil, err
	}

	records := make([]*history.TurnRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toRecord())
	}

	return records, nil
}

// CountBySession returns the number of turns stored for a session
func (r *HistoryRepository) CountBySession(ctx context.Context, sessionID string) (int, error) {
	var count int

	query := `SELECT COUNT(*) FROM turns WHERE session_id = $1`

	if err := r.db.GetContext(ctx, &count, query, sessionID); err != nil {
		return 0, err
	}

	return count, nil
}
