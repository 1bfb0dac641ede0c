package history

import (
	"context"
	"fmt"
	"time"

	"delphi/internal/adapters/redis"
	"delphi/pkg/errors"
	"delphi/pkg/logger"
)

const (
	cacheTTL       = 30 * time.Minute
	cacheKeyFormat = "history:recent:%s"
)

// Service provides session history with a Redis read-through cache for the
// recent-turn window.
type Service struct {
	repo  Repository
	cache *redis.Client
	log   *logger.Logger
}

// NewService constructs a history service. The cache is optional.
func NewService(repo Repository, cache *redis.Client) *Service {
	return &Service{repo: repo, cache: cache, log: logger.Get()}
}

// Append stores a completed turn and invalidates the cached window.
func (s *Service) Append(ctx context.Context, record *TurnRecord) error {
	if record == nil {
		return errors.ErrInvalidInput
	}
	if record.SessionID == "" || record.Query == "" {
		return errors.ErrInvalidInput
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	if err := s.repo.Append(ctx, record); err != nil {
		return errors.Wrap(err, "append turn")
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, s.cacheKey(record.SessionID)); err != nil {
			// Stale cache self-heals on TTL, keep the turn.
			s.log.Warnf("Failed to invalidate history cache: session=%s error=%v", record.SessionID, err)
		}
	}

	return nil
}

// Window returns up to limit recent turn summaries, newest first.
func (s *Service) Window(ctx context.Context, sessionID string, limit int) ([]TurnSummary, error) {
	if sessionID == "" {
		return nil, errors.ErrInvalidInput
	}
	if limit <= 0 {
		limit = 4
	}

	if s.cache != nil {
		var cached []TurnSummary
		if err := s.cache.Get(ctx, s.cacheKey(sessionID), &cached); err == nil && len(cached) > 0 {
			if len(cached) > limit {
				cached = cached[:limit]
			}
			return cached, nil
		}
	}

	records, err := s.repo.Recent(ctx, sessionID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "load recent turns")
	}

	summaries := make([]TurnSummary, 0, len(records))
	for _, r := range records {
		summaries = append(summaries, r.Summary())
	}

	if s.cache != nil && len(summaries) > 0 {
		if err := s.cache.Set(ctx, s.cacheKey(sessionID), summaries, cacheTTL); err != nil {
			s.log.Warnf("Failed to cache history window: session=%s error=%v", sessionID, err)
		}
	}

	return summaries, nil
}

// TurnCount returns the number of recorded turns for a session.
func (s *Service) TurnCount(ctx context.Context, sessionID string) (int, error) {
	if sessionID == "" {
		return 0, errors.ErrInvalidInput
	}
	count, err := s.repo.CountBySession(ctx, sessionID)
	if err != nil {
		return 0, errors.Wrap(err, "count turns")
	}
	return count, nil
}

func (s *Service) cacheKey(sessionID string) string {
	return fmt.Sprintf(cacheKeyFormat, sessionID)
}
