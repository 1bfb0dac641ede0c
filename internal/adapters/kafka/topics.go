package kafka

// Topic definitions for workflow event streaming
const (
	// TopicTurnCompleted carries one event per terminal query turn
	TopicTurnCompleted = "workflow.turns.completed"

	// TopicTurnRetried carries one event per quality-gate retry
	TopicTurnRetried = "workflow.turns.retried"

	// TopicArtifactCreated carries chart/report artifact notifications
	TopicArtifactCreated = "workflow.artifacts.created"
)
