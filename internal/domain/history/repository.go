package history

import (
	"context"
)

// Repository persists completed turns.
type Repository interface {
	// Append stores a completed turn. Turns are never updated or deleted.
	Append(ctx context.Context, record *TurnRecord) error

	// Recent returns the most recent turns for a session, newest first.
	Recent(ctx context.Context, sessionID string, limit int) ([]*TurnRecord, error)

	// CountBySession returns the number of stored turns for a session.
	CountBySession(ctx context.Context, sessionID string) (int, error)
}
