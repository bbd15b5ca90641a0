package timeline

import (
	"context"
	"sort"
	"time"

	"masthead/api/internal/store"
)

// Store is the persistence surface timeline reconstruction reads from.
type Store interface {
	GetTopic(ctx context.Context, id string) (store.TopicCandidate, error)
	ScoresForTopic(ctx context.Context, topicID string) ([]store.ScoreRecord, error)
	OptionsForTopic(ctx context.Context, topicID string) ([]store.ContentOption, error)
	AuditEventsForTopic(ctx context.Context, topicID string) ([]store.AuditEvent, error)
	PublishedForTopic(ctx context.Context, topicID string) ([]store.PublishedContent, error)
	MetricsForContent(ctx context.Context, contentIDs []string) ([]store.ContentMetrics, error)
}

// Entry is one step in a topic's lifecycle, oldest first.
type Entry struct {
	Stage     string         `json:"stage"`
	Timestamp time.Time      `json:"timestamp"`
	Detail    map[string]any `json:"detail,omitempty"`
}

type Service struct {
	store Store
}

func NewService(s Store) *Service {
	return &Service{store: s}
}

// ForTopic reconstructs the full lifecycle of one topic from every record
// that references it: ingestion, scoring runs, decisions, option
// generation, publish drafts and collected metrics.
func (s *Service) ForTopic(ctx context.Context, topicID string) ([]Entry, error) {
	topic, err := s.store.GetTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}

	var entries []Entry

	ingestedAt := topic.CreatedAt
	if ts, ok := normalizeTimestamp(topic.Metadata["ingested_at"]); ok {
		ingestedAt = ts
	}
	entries = append(entries, Entry{
		Stage:     "ingestion",
		Timestamp: ingestedAt,
		Detail: map[string]any{
			"source_platform": topic.SourcePlatform,
			"title":           topic.Title,
		},
	})

	scores, err := s.store.ScoresForTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}
	for _, rec := range scores {
		entries = append(entries, Entry{
			Stage:     "scoring",
			Timestamp: rec.CreatedAt,
			Detail: map[string]any{
				"score":  rec.Score,
				"run_id": rec.RunID,
			},
		})
	}

	events, err := s.store.AuditEventsForTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		entries = append(entries, Entry{
			Stage:     ev.Stage,
			Timestamp: ev.CreatedAt,
			Detail: map[string]any{
				"event_id": ev.ID,
				"actor":    ev.Actor,
			},
		})
	}

	options, err := s.store.OptionsForTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}
	if len(options) > 0 {
		earliest := options[0].CreatedAt
		for _, opt := range options[1:] {
			if opt.CreatedAt.Before(earliest) {
				earliest = opt.CreatedAt
			}
		}
		entries = append(entries, Entry{
			Stage:     "option_generation",
			Timestamp: earliest,
			Detail:    map[string]any{"option_count": len(options)},
		})
	}

	published, err := s.store.PublishedForTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}
	contentIDs := make([]string, 0, len(published))
	for _, pub := range published {
		contentIDs = append(contentIDs, pub.ID)
		entries = append(entries, Entry{
			Stage:     "published",
			Timestamp: pub.CreatedAt,
			Detail: map[string]any{
				"content_id": pub.ID,
				"platform":   pub.Platform,
				"status":     pub.Status,
			},
		})
	}

	// Metrics are only fetched when publication produced content ids.
	if len(contentIDs) > 0 {
		for _, chunk := range store.ChunkIDs(contentIDs, store.MaxBatchIDs) {
			metrics, err := s.store.MetricsForContent(ctx, chunk)
			if err != nil {
				return nil, err
			}
			for _, m := range metrics {
				entries = append(entries, Entry{
					Stage:     "metrics",
					Timestamp: m.CollectedAt,
					Detail: map[string]any{
						"content_id": m.ContentID,
						"platform":   m.Platform,
						"views":      m.Views,
						"likes":      m.Likes,
					},
				})
			}
		}
	}

	if ts, ok := normalizeTimestamp(topic.Metadata["needs_reframe_at"]); ok {
		entries = append(entries, Entry{
			Stage:     "reframe_requested",
			Timestamp: ts,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

// normalizeTimestamp accepts the timestamp shapes that appear in stored
// metadata: native times and ISO-8601 strings with or without zone.
func normalizeTimestamp(v any) (time.Time, bool) {
	switch ts := v.(type) {
	case time.Time:
		return ts, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
			if parsed, err := time.Parse(layout, ts); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}
