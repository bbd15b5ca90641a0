package review

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"masthead/api/internal/scoring"
	"masthead/api/internal/store"
)

// RankedTopic is one row in the review queue: a topic joined with its
// current score and 1-based position after ranking.
type RankedTopic struct {
	Topic     store.TopicCandidate `json:"topic"`
	Score     store.ScoreRecord    `json:"score"`
	Rank      int                  `json:"rank"`
	RiskLevel scoring.RiskLevel    `json:"risk_level"`
}

// TopicWithOptions joins an approved topic with its generated options,
// grouped by type.
type TopicWithOptions struct {
	Topic    store.TopicCandidate  `json:"topic"`
	Hooks    []store.ContentOption `json:"hooks"`
	Scripts  []store.ContentOption `json:"scripts"`
	Outlines []store.ContentOption `json:"outlines,omitempty"`
	Status   string                `json:"status"`
}

// FlaggedItem is a topic whose current integrity penalty crosses the risk
// threshold and needs an ethics pass before publication.
type FlaggedItem struct {
	Topic     store.TopicCandidate `json:"topic"`
	Score     store.ScoreRecord    `json:"score"`
	RiskLevel scoring.RiskLevel    `json:"risk_level"`
	Reason    string               `json:"reason"`
}

type Service struct {
	store    Store
	resolver *Resolver
}

func NewService(s Store) *Service {
	return &Service{store: s, resolver: NewResolver(s)}
}

func (s *Service) Resolver() *Resolver {
	return s.resolver
}

// TopicReviewBatch returns topics in the given status joined with their
// current scores, ranked by composite score descending.
func (s *Service) TopicReviewBatch(ctx context.Context, status string, limit int) ([]RankedTopic, error) {
	if status == "" {
		status = store.TopicPending
	}
	if limit <= 0 {
		limit = 50
	}
	topics, err := s.listNewestFirst(ctx, status, limit)
	if err != nil {
		return nil, err
	}
	ids := topicIDs(topics)
	scores, err := s.resolver.LatestScores(ctx, ids)
	if err != nil {
		return nil, err
	}

	items := make([]RankedTopic, 0, len(topics))
	for _, topic := range topics {
		score := scores[topic.ID]
		items = append(items, RankedTopic{
			Topic:     topic,
			Score:     score,
			RiskLevel: scoring.ComputeRisk(score.Components.IntegrityPenalty),
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Score.Score > items[j].Score.Score
	})
	for i := range items {
		items[i].Rank = i + 1
	}
	return items, nil
}

// TopicsWithOptions returns approved topics joined with their generated
// options. With topicID set only that topic is returned.
func (s *Service) TopicsWithOptions(ctx context.Context, topicID, status string) ([]TopicWithOptions, error) {
	var topics []store.TopicCandidate
	if topicID != "" {
		topic, err := s.store.GetTopic(ctx, topicID)
		if err != nil {
			return nil, err
		}
		topics = []store.TopicCandidate{topic}
	} else {
		if status == "" {
			status = store.TopicApproved
		}
		var err error
		topics, err = s.listNewestFirst(ctx, status, 100)
		if err != nil {
			return nil, err
		}
	}

	grouped, err := s.resolver.OptionsByTopic(ctx, topicIDs(topics))
	if err != nil {
		return nil, err
	}

	items := make([]TopicWithOptions, 0, len(topics))
	for _, topic := range topics {
		item := TopicWithOptions{Topic: topic, Status: "pending"}
		for _, opt := range grouped[topic.ID] {
			switch opt.OptionType {
			case store.OptionHook:
				item.Hooks = append(item.Hooks, opt)
			case store.OptionScript:
				item.Scripts = append(item.Scripts, opt)
			case store.OptionOutline:
				item.Outlines = append(item.Outlines, opt)
			}
		}
		if len(grouped[topic.ID]) > 0 {
			item.Status = "options_ready"
		}
		items = append(items, item)
	}
	return items, nil
}

// FlaggedItems returns pending and approved topics whose current integrity
// penalty puts them at risk, worst first.
func (s *Service) FlaggedItems(ctx context.Context, limit int) ([]FlaggedItem, error) {
	if limit <= 0 {
		limit = 50
	}
	var topics []store.TopicCandidate
	for _, status := range []string{store.TopicPending, store.TopicApproved} {
		batch, err := s.listNewestFirst(ctx, status, limit)
		if err != nil {
			return nil, err
		}
		topics = append(topics, batch...)
	}
	scores, err := s.resolver.LatestScores(ctx, topicIDs(topics))
	if err != nil {
		return nil, err
	}

	var flagged []FlaggedItem
	for _, topic := range topics {
		score := scores[topic.ID]
		risk := scoring.ComputeRisk(score.Components.IntegrityPenalty)
		if risk == scoring.RiskNone {
			continue
		}
		reason := score.Reasoning["integrity"]
		if reason == "" {
			reason = fmt.Sprintf("integrity penalty %.2f", score.Components.IntegrityPenalty)
		}
		flagged = append(flagged, FlaggedItem{
			Topic:     topic,
			Score:     score,
			RiskLevel: risk,
			Reason:    reason,
		})
	}
	sort.SliceStable(flagged, func(i, j int) bool {
		return flagged[i].Score.Components.IntegrityPenalty < flagged[j].Score.Components.IntegrityPenalty
	})
	if len(flagged) > limit {
		flagged = flagged[:limit]
	}
	return flagged, nil
}

// listNewestFirst asks for a filtered, ordered listing and falls back to an
// unordered query sorted in memory when the backend lacks the composite
// index for the combination.
func (s *Service) listNewestFirst(ctx context.Context, status string, limit int) ([]store.TopicCandidate, error) {
	topics, err := s.store.ListTopics(ctx, store.TopicFilter{Status: status, Limit: limit, Ordered: true})
	if errors.Is(err, store.ErrIndexRequired) {
		topics, err = s.store.ListTopics(ctx, store.TopicFilter{Status: status})
		if err != nil {
			return nil, err
		}
		sort.SliceStable(topics, func(i, j int) bool {
			return topics[i].CreatedAt.After(topics[j].CreatedAt)
		})
		if len(topics) > limit {
			topics = topics[:limit]
		}
		return topics, nil
	}
	return topics, err
}

func topicIDs(topics []store.TopicCandidate) []string {
	ids := make([]string, len(topics))
	for i, topic := range topics {
		ids[i] = topic.ID
	}
	return ids
}
