package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delphi/internal/domain/history"
	"delphi/internal/testsupport"
)

func testTurn(sessionID string) *history.TurnRecord {
	return &history.TurnRecord{
		ID:             uuid.New(),
		SessionID:      sessionID,
		Query:          "삼성전자 주가 알려줘",
		CleanedQuery:   "삼성전자 현재 주가",
		Classification: "FINANCIAL",
		Route:          "ANALYSIS",
		Status:         "PASSED",
		Answer:         "삼성전자는 71,000원에 거래되고 있습니다 [1].",
		Artifacts:      []string{"artifacts/chart_1.html"},
		QualityScore:   4.25,
		RetryCount:     0,
		LatencyMS:      3200,
		CreatedAt:      time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestHistoryRepository_AppendAndRecent(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := testsupport.NewTestPostgres(t)
	repo := NewHistoryRepository(testDB.DB())
	ctx := context.Background()

	sessionID := testsupport.UniqueName("session")

	first := testTurn(sessionID)
	require.NoError(t, repo.Append(ctx, first))

	second := testTurn(sessionID)
	second.Query = "PER은?"
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	require.NoError(t, repo.Append(ctx, second))

	records, err := repo.Recent(ctx, sessionID, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Newest first
	assert.Equal(t, second.ID, records[0].ID)
	assert.Equal(t, first.ID, records[1].ID)

	got := records[1]
	assert.Equal(t, first.Query, got.Query)
	assert.Equal(t, first.Answer, got.Answer)
	assert.Equal(t, first.Artifacts, got.Artifacts)
	assert.InDelta(t, first.QualityScore, got.QualityScore, 0.001)
}

func TestHistoryRepository_RecentRespectsLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := testsupport.NewTestPostgres(t)
	repo := NewHistoryRepository(testDB.DB())
	ctx := context.Background()

	sessionID := testsupport.UniqueName("session")
	base := time.Now().UTC()
	for i := 0; i < 6; i++ {
		turn := testTurn(sessionID)
		turn.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.Append(ctx, turn))
	}

	records, err := repo.Recent(ctx, sessionID, 4)
	require.NoError(t, err)
	assert.Len(t, records, 4)

	count, err := repo.CountBySession(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, 6, count)
}

func TestHistoryRepository_SessionsAreIsolated(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := testsupport.NewTestPostgres(t)
	repo := NewHistoryRepository(testDB.DB())
	ctx := context.Background()

	sessionA := testsupport.UniqueName("session")
	sessionB := testsupport.UniqueName("session")
	require.NoError(t, repo.Append(ctx, testTurn(sessionA)))

	records, err := repo.Recent(ctx, sessionB, 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}
