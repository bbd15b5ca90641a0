package audit

import (
	"context"
	"time"

	"masthead/api/internal/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Store is the persistence surface for audit reads.
type Store interface {
	ListAuditEvents(ctx context.Context, filter store.AuditFilter) ([]store.AuditEvent, error)
	AuditEventsForTopic(ctx context.Context, topicID string) ([]store.AuditEvent, error)
}

// Query selects a page of audit events. Cursor is the id of the last event
// on the previous page; empty means the first page.
type Query struct {
	Stage    string
	TopicID  string
	DateFrom *time.Time
	DateTo   *time.Time
	Limit    int
	Cursor   string
}

// Page is one page of events, newest first. NextCursor is empty when this
// is the last page.
type Page struct {
	Events     []store.AuditEvent `json:"events"`
	NextCursor string             `json:"next_cursor,omitempty"`
	HasMore    bool               `json:"has_more"`
}

type Service struct {
	store Store
}

func NewService(s Store) *Service {
	return &Service{store: s}
}

// ListEvents fetches one page. It asks the store for limit+1 rows; a full
// overshoot means another page exists and the extra row is dropped.
func (s *Service) ListEvents(ctx context.Context, q Query) (Page, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	events, err := s.store.ListAuditEvents(ctx, store.AuditFilter{
		Stage:    q.Stage,
		TopicID:  q.TopicID,
		DateFrom: q.DateFrom,
		DateTo:   q.DateTo,
		AfterID:  q.Cursor,
		Limit:    limit + 1,
	})
	if err != nil {
		return Page{}, err
	}

	page := Page{Events: events}
	if len(events) > limit {
		page.Events = events[:limit]
		page.HasMore = true
		page.NextCursor = page.Events[len(page.Events)-1].ID
	}
	if page.Events == nil {
		page.Events = []store.AuditEvent{}
	}
	return page, nil
}

// EventsForTopic returns a topic's full audit trail, oldest first.
func (s *Service) EventsForTopic(ctx context.Context, topicID string) ([]store.AuditEvent, error) {
	return s.store.AuditEventsForTopic(ctx, topicID)
}
