package clickhouse

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"delphi/internal/domain/history"
	"delphi/pkg/errors"
)

// TurnAnalytics writes completed turns to ClickHouse for offline analysis.
// Writes are best-effort: the workflow engine ignores sink failures.
type TurnAnalytics struct {
	conn driver.Conn
}

// NewTurnAnalytics creates a new turn analytics sink
func NewTurnAnalytics(conn driver.Conn) *TurnAnalytics {
	return &TurnAnalytics{conn: conn}
}

// Record stores one completed turn
func (r *TurnAnalytics) Record(ctx context.Context, record *history.TurnRecord) error {
	query := `
		INSERT INTO turn_analytics (
			turn_id, session_id, classification, route, status,
			quality_score, retry_count, artifact_count, latency_ms, created_at
		) VALUES (
			?, ?, ?, ?, ?,
			?, ?, ?, ?, ?
		)
	`

	err := r.conn.Exec(ctx, query,
		record.ID.String(),
		record.SessionID,
		record.Classification,
		record.Route,
		record.Status,
		record.QualityScore,
		uint8(record.RetryCount),
		uint16(len(record.Artifacts)),
		record.LatencyMS,
		record.CreatedAt,
	)

	if err != nil {
		return errors.Wrap(err, "failed to store turn analytics")
	}

	return nil
}

// RouteStats is an aggregate row for a single route.
type RouteStats struct {
	Route        string  `ch:"route"`
	Turns        uint64  `ch:"turns"`
	PassRate     float64 `ch:"pass_rate"`
	AvgQuality   float64 `ch:"avg_quality"`
	AvgRetries   float64 `ch:"avg_retries"`
	AvgLatencyMS float64 `ch:"avg_latency_ms"`
}

// StatsByRoute aggregates turn outcomes per route since the given time
func (r *TurnAnalytics) StatsByRoute(ctx context.Context, since time.Time) ([]RouteStats, error) {
	query := `
		SELECT
			route,
			count() AS turns,
			avg(status = 'PASSED') AS pass_rate,
			avg(quality_score) AS avg_quality,
			avg(retry_count) AS avg_retries,
			avg(latency_ms) AS avg_latency_ms
		FROM turn_analytics
		WHERE created_at >= ?
		GROUP BY route
		ORDER BY turns DESC
	`

	var stats []RouteStats
	if err := r.conn.Select(ctx, &stats, query, since); err != nil {
		return nil, errors.Wrap(err, "failed to query route stats")
	}

	return stats, nil
}
