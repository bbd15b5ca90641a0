package decision

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"masthead/api/internal/audit"
	"masthead/api/internal/review"
	"masthead/api/internal/scoring"
	"masthead/api/internal/store"
)

// PublishPlatforms a mark-ready draft may target.
var PublishPlatforms = map[string]bool{
	"youtube_short": true,
	"youtube_long":  true,
	"tiktok":        true,
}

const defaultPlatform = "youtube_short"

// Store is the persistence surface for decision processing. RunInTx
// re-executes its closure on write conflict, so everything inside must be
// idempotent; event ids and timestamps are fixed before the closure runs.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error
	ListTopics(ctx context.Context, filter store.TopicFilter) ([]store.TopicCandidate, error)
	ScoresForTopics(ctx context.Context, topicIDs []string) ([]store.ScoreRecord, error)
	OptionsForTopic(ctx context.Context, topicID string) ([]store.ContentOption, error)
}

// TopicDecision records a reviewer's verdict on one pending topic.
type TopicDecision struct {
	TopicID    string `json:"topic_id"`
	Action     string `json:"action"`
	Reason     string `json:"reason,omitempty"`
	ReasonCode string `json:"reason_code,omitempty"`
}

// OptionSelection picks one generated option for an approved topic and may
// promote it to a publish draft.
type OptionSelection struct {
	TopicID           string  `json:"topic_id"`
	SelectedOptionID  string  `json:"selected_option_id"`
	EditedContent     *string `json:"edited_content,omitempty"`
	MarkReady         bool    `json:"mark_ready"`
	NeedsEthicsReview bool    `json:"needs_ethics_review"`
	Platform          string  `json:"platform,omitempty"`
}

// IntegrityDecision resolves one flagged topic.
type IntegrityDecision struct {
	TopicID       string `json:"topic_id"`
	Decision      string `json:"decision"`
	ReframeOption string `json:"reframe_option,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

type Service struct {
	store    Store
	resolver *review.Resolver
}

func NewService(s Store, resolver *review.Resolver) *Service {
	return &Service{store: s, resolver: resolver}
}

// ProcessTopicDecision applies approve/reject/defer to one topic. The
// status change and its audit event commit in the same transaction or not
// at all. A defer is allowed on an already-deferred topic and re-emits an
// event.
func (s *Service) ProcessTopicDecision(ctx context.Context, actor string, req TopicDecision) (store.AuditEvent, error) {
	if req.TopicID == "" {
		return store.AuditEvent{}, fmt.Errorf("%w: topic_id is required", ErrInvalidRequest)
	}
	var newStatus string
	switch req.Action {
	case "approve":
		newStatus = store.TopicApproved
	case "reject":
		newStatus = store.TopicRejected
	case "defer":
		newStatus = store.TopicDeferred
	default:
		return store.AuditEvent{}, fmt.Errorf("%w: action must be approve, reject or defer", ErrInvalidRequest)
	}

	system, err := s.topicRankingContext(ctx, req.TopicID)
	if err != nil {
		return store.AuditEvent{}, err
	}
	human := map[string]any{
		"selected_ids": []string{},
		"rejected_ids": []string{},
		"deferred_ids": []string{},
	}
	switch req.Action {
	case "approve":
		human["selected_ids"] = []string{req.TopicID}
	case "reject":
		human["rejected_ids"] = []string{req.TopicID}
	case "defer":
		human["deferred_ids"] = []string{req.TopicID}
	}
	if req.Reason != "" {
		human["reason"] = req.Reason
	}
	if req.ReasonCode != "" {
		human["reason_code"] = req.ReasonCode
	}
	event := audit.NewTopicSelectionEvent(req.TopicID, system, human, actor)

	err = s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		topic, err := tx.GetTopic(ctx, req.TopicID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrTopicNotFound
		}
		if err != nil {
			return err
		}
		if topic.Status != store.TopicPending && req.Action != "defer" {
			return fmt.Errorf("%w: topic %s is %s", ErrTopicAlreadyProcessed, topic.ID, topic.Status)
		}
		if err := tx.SetTopicStatus(ctx, req.TopicID, newStatus); err != nil {
			return err
		}
		return tx.InsertAuditEvent(ctx, event)
	})
	if err != nil {
		return store.AuditEvent{}, err
	}
	return event, nil
}

// ProcessOptionSelection records which generated option the reviewer chose
// and, with MarkReady set, creates the publish draft in the same
// transaction.
func (s *Service) ProcessOptionSelection(ctx context.Context, actor string, req OptionSelection) (store.AuditEvent, error) {
	if req.TopicID == "" || req.SelectedOptionID == "" {
		return store.AuditEvent{}, fmt.Errorf("%w: topic_id and selected_option_id are required", ErrInvalidRequest)
	}
	platform := req.Platform
	if platform == "" {
		platform = defaultPlatform
	}
	if !PublishPlatforms[platform] {
		return store.AuditEvent{}, fmt.Errorf("%w: unknown platform %q", ErrInvalidRequest, platform)
	}

	options, err := s.store.OptionsForTopic(ctx, req.TopicID)
	if err != nil {
		return store.AuditEvent{}, err
	}
	generatedIDs := make([]string, len(options))
	for i, opt := range options {
		generatedIDs[i] = opt.ID
	}
	system := map[string]any{
		"generated_option_ids": generatedIDs,
		"option_count":         len(options),
	}

	var contentID *string
	if req.MarkReady {
		id := uuid.NewString()
		contentID = &id
	}
	eventID := uuid.NewString()
	now := time.Now().UTC()

	var event store.AuditEvent
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetTopic(ctx, req.TopicID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrTopicNotFound
			}
			return err
		}
		opt, err := tx.GetOption(ctx, req.SelectedOptionID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrOptionNotFound
		}
		if err != nil {
			return err
		}
		if opt.TopicID != req.TopicID {
			return fmt.Errorf("%w: option %s belongs to topic %s", ErrOptionMismatch, opt.ID, opt.TopicID)
		}

		human := map[string]any{
			"selected_option_id":  req.SelectedOptionID,
			"option_type":         opt.OptionType,
			"mark_ready":          req.MarkReady,
			"needs_ethics_review": req.NeedsEthicsReview,
		}
		if req.EditedContent != nil && *req.EditedContent != opt.Content {
			human["edit_summary"] = map[string]any{
				"original_length": len(opt.Content),
				"edited_length":   len(*req.EditedContent),
				"changed":         true,
			}
		}
		// The event id and timestamp are fixed outside the closure so a
		// conflict retry re-inserts the same event.
		event = audit.NewOptionSelectionEvent(req.TopicID, contentID, system, human, actor)
		event.ID = eventID
		event.CreatedAt = now

		if req.MarkReady {
			err := tx.InsertPublishedContent(ctx, store.PublishedContent{
				ID:                *contentID,
				TopicID:           req.TopicID,
				SelectedOptionID:  req.SelectedOptionID,
				Platform:          platform,
				Status:            "draft",
				NeedsEthicsReview: req.NeedsEthicsReview,
				CreatedAt:         now,
			})
			if err != nil {
				return err
			}
		}
		return tx.InsertAuditEvent(ctx, event)
	})
	if err != nil {
		return store.AuditEvent{}, err
	}
	return event, nil
}

// ProcessIntegrityDecision resolves a flagged topic: publish leaves it
// untouched, reframe marks its metadata, skip rejects it.
func (s *Service) ProcessIntegrityDecision(ctx context.Context, actor string, req IntegrityDecision) (store.AuditEvent, error) {
	if req.TopicID == "" {
		return store.AuditEvent{}, fmt.Errorf("%w: topic_id is required", ErrInvalidRequest)
	}
	switch req.Decision {
	case "publish", "reframe", "skip":
	default:
		return store.AuditEvent{}, fmt.Errorf("%w: decision must be publish, reframe or skip", ErrInvalidRequest)
	}

	system, err := s.integrityContext(ctx, req.TopicID)
	if err != nil {
		return store.AuditEvent{}, err
	}
	human := map[string]any{"decision": req.Decision}
	if req.ReframeOption != "" {
		human["reframe_option"] = req.ReframeOption
	}
	if req.Notes != "" {
		human["notes"] = req.Notes
	}
	event := audit.NewEthicsReviewEvent(req.TopicID, system, human, actor)
	now := time.Now().UTC()

	err = s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		topic, err := tx.GetTopic(ctx, req.TopicID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrTopicNotFound
		}
		if err != nil {
			return err
		}

		switch req.Decision {
		case "skip":
			if err := tx.SetTopicStatus(ctx, req.TopicID, store.TopicRejected); err != nil {
				return err
			}
		case "reframe":
			metadata := map[string]any{}
			for k, v := range topic.Metadata {
				metadata[k] = v
			}
			metadata["needs_reframe"] = true
			metadata["needs_reframe_at"] = now.Format(time.RFC3339)
			if req.ReframeOption != "" {
				metadata["reframe_option"] = req.ReframeOption
			}
			if err := tx.SetTopicMetadata(ctx, req.TopicID, metadata); err != nil {
				return err
			}
		}
		return tx.InsertAuditEvent(ctx, event)
	})
	if err != nil {
		return store.AuditEvent{}, err
	}
	return event, nil
}

// topicRankingContext snapshots the pending queue as the system side of a
// topic selection event: ranked ids plus the decided topic's components.
func (s *Service) topicRankingContext(ctx context.Context, topicID string) (map[string]any, error) {
	topics, err := s.store.ListTopics(ctx, store.TopicFilter{Status: store.TopicPending})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(topics))
	for i, topic := range topics {
		ids[i] = topic.ID
	}
	scores, err := s.resolver.LatestScores(ctx, append(ids, topicID))
	if err != nil {
		return nil, err
	}

	type ranked struct {
		id    string
		score float64
	}
	queue := make([]ranked, 0, len(ids))
	for _, id := range ids {
		queue = append(queue, ranked{id: id, score: scores[id].Score})
	}
	sort.SliceStable(queue, func(i, j int) bool {
		return queue[i].score > queue[j].score
	})
	rankedIDs := make([]string, len(queue))
	for i, entry := range queue {
		rankedIDs[i] = entry.id
	}

	current := scores[topicID]
	return map[string]any{
		"ranked_ids": rankedIDs,
		"score":      current.Score,
		"components": current.Components,
		"run_id":     current.RunID,
	}, nil
}

func (s *Service) integrityContext(ctx context.Context, topicID string) (map[string]any, error) {
	scores, err := s.resolver.LatestScores(ctx, []string{topicID})
	if err != nil {
		return nil, err
	}
	current := scores[topicID]
	return map[string]any{
		"integrity_penalty": current.Components.IntegrityPenalty,
		"risk_level":        scoring.ComputeRisk(current.Components.IntegrityPenalty),
		"score":             current.Score,
		"run_id":            current.RunID,
	}, nil
}
