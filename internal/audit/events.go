package audit

import (
	"time"

	"github.com/google/uuid"

	"masthead/api/internal/store"
)

// Event constructors assign ids and timestamps up front so a decision
// transaction can be retried without minting a second event.

func NewTopicSelectionEvent(topicID string, system, human map[string]any, actor string) store.AuditEvent {
	return newEvent(store.StageTopicSelection, &topicID, nil, system, human, actor)
}

func NewOptionSelectionEvent(topicID string, contentID *string, system, human map[string]any, actor string) store.AuditEvent {
	return newEvent(store.StageOptionSelection, &topicID, contentID, system, human, actor)
}

func NewEthicsReviewEvent(topicID string, system, human map[string]any, actor string) store.AuditEvent {
	return newEvent(store.StageEthicsReview, &topicID, nil, system, human, actor)
}

func newEvent(stage string, topicID, contentID *string, system, human map[string]any, actor string) store.AuditEvent {
	if actor == "" {
		actor = "system"
	}
	if system == nil {
		system = map[string]any{}
	}
	return store.AuditEvent{
		ID:             uuid.NewString(),
		Stage:          stage,
		TopicID:        topicID,
		ContentID:      contentID,
		SystemDecision: system,
		HumanAction:    human,
		Actor:          actor,
		CreatedAt:      time.Now().UTC(),
	}
}
