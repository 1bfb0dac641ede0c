package events

import (
	"context"
	"time"

	"delphi/internal/adapters/kafka"
	"delphi/pkg/logger"
)

// TurnCompletedEvent is emitted once per finished turn, regardless of status.
type TurnCompletedEvent struct {
	TurnID         string    `json:"turn_id"`
	SessionID      string    `json:"session_id"`
	Classification string    `json:"classification"`
	Route          string    `json:"route"`
	Status         string    `json:"status"`
	QualityScore   float64   `json:"quality_score"`
	RetryCount     int       `json:"retry_count"`
	ArtifactCount  int       `json:"artifact_count"`
	LatencyMS      int64     `json:"latency_ms"`
	CompletedAt    time.Time `json:"completed_at"`
}

// TurnRetriedEvent is emitted each time the quality gate sends a turn back.
type TurnRetriedEvent struct {
	TurnID        string    `json:"turn_id"`
	SessionID     string    `json:"session_id"`
	Attempt       int       `json:"attempt"`
	FailureReason string    `json:"failure_reason"`
	RewrittenTo   string    `json:"rewritten_to"`
	RetriedAt     time.Time `json:"retried_at"`
}

// ArtifactCreatedEvent is emitted for each chart or report file produced.
type ArtifactCreatedEvent struct {
	TurnID    string    `json:"turn_id"`
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	Path      string    `json:"path"`
	MIME      string    `json:"mime"`
	CreatedAt time.Time `json:"created_at"`
}

// Publisher publishes workflow events to Kafka. All publishes are
// best-effort: downstream consumers are analytics, not the turn itself.
type Publisher struct {
	producer *kafka.Producer
	log      *logger.Logger
}

// NewPublisher creates a new event publisher
func NewPublisher(producer *kafka.Producer) *Publisher {
	return &Publisher{
		producer: producer,
		log:      logger.Get().With("component", "events"),
	}
}

// PublishTurnCompleted publishes a turn completed event keyed by session.
func (p *Publisher) PublishTurnCompleted(ctx context.Context, event TurnCompletedEvent) {
	p.publish(ctx, kafka.TopicTurnCompleted, event.SessionID, event)
}

// PublishTurnRetried publishes a retry event keyed by session.
func (p *Publisher) PublishTurnRetried(ctx context.Context, event TurnRetriedEvent) {
	p.publish(ctx, kafka.TopicTurnRetried, event.SessionID, event)
}

// PublishArtifactCreated publishes an artifact event keyed by session.
func (p *Publisher) PublishArtifactCreated(ctx context.Context, event ArtifactCreatedEvent) {
	p.publish(ctx, kafka.TopicArtifactCreated, event.SessionID, event)
}

func (p *Publisher) publish(ctx context.Context, topic, key string, event interface{}) {
	if p == nil || p.producer == nil {
		return
	}
	if err := p.producer.Publish(ctx, topic, key, event); err != nil {
		p.log.Warnf("Failed to publish event: topic=%s error=%v", topic, err)
	}
}
