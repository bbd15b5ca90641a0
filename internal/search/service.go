package search

import (
	"context"
	"log"
	"strings"

	"masthead/api/internal/store"
)

// Store is the fallback listing surface used when Meilisearch is down.
type Store interface {
	ListTopics(ctx context.Context, filter store.TopicFilter) ([]store.TopicCandidate, error)
}

// Service tries Meilisearch first and falls back to an in-memory filter
// over the store listing.
type Service struct {
	meili *Meili
	store Store
}

// NewService creates a search service. meili may be nil when Meilisearch is
// not configured.
func NewService(meili *Meili, s Store) *Service {
	return &Service{meili: meili, store: s}
}

// Search tries Meilisearch if healthy, otherwise filters the store listing.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to store scan: %v", err)
	}
	return s.fallback(ctx, q)
}

func (s *Service) fallback(ctx context.Context, q Query) Response {
	topics, err := s.store.ListTopics(ctx, store.TopicFilter{Status: q.Status})
	if err != nil {
		log.Printf("search: fallback listing error: %v", err)
		return Response{Results: []Result{}, Query: q.Text}
	}

	needle := strings.ToLower(q.Text)
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	results := []Result{}
	total := 0
	for _, topic := range topics {
		if q.Cluster != "" && topic.TopicCluster != q.Cluster {
			continue
		}
		if q.Platform != "" && topic.SourcePlatform != q.Platform {
			continue
		}
		if needle != "" && !topicMatches(topic, needle) {
			continue
		}
		total++
		if len(results) < limit {
			results = append(results, Result{
				ID:       topic.ID,
				Title:    topic.Title,
				Cluster:  topic.TopicCluster,
				Platform: topic.SourcePlatform,
				Status:   topic.Status,
			})
		}
	}
	return Response{Results: results, Total: total, Query: q.Text}
}

func topicMatches(topic store.TopicCandidate, needle string) bool {
	if strings.Contains(strings.ToLower(topic.Title), needle) {
		return true
	}
	for _, entity := range topic.Entities {
		if strings.Contains(strings.ToLower(entity), needle) {
			return true
		}
	}
	return false
}

// IndexTopic pushes one topic into Meilisearch, fire-and-forget.
func (s *Service) IndexTopic(topic store.TopicCandidate) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	rec := recordFor(topic)
	go func() {
		if err := s.meili.IndexTopic(rec); err != nil {
			log.Printf("search: index topic %s: %v", rec.ID, err)
		}
	}()
}

// ReindexFromStore pushes every topic into Meilisearch. Called during
// bootstrap when Meilisearch is healthy.
func (s *Service) ReindexFromStore(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	topics, err := s.store.ListTopics(ctx, store.TopicFilter{})
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	records := make([]TopicRecord, len(topics))
	for i, topic := range topics {
		records[i] = recordFor(topic)
	}
	if err := s.meili.IndexTopics(records); err != nil {
		log.Printf("search: reindex topics: %v", err)
	}
}

func recordFor(topic store.TopicCandidate) TopicRecord {
	return TopicRecord{
		ID:       topic.ID,
		Title:    topic.Title,
		Entities: topic.Entities,
		Cluster:  topic.TopicCluster,
		Platform: topic.SourcePlatform,
		Status:   topic.Status,
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
