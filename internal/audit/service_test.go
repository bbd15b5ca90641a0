package audit

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"masthead/api/internal/store"
)

// fakeStore pages the way the postgres adapter does: newest first, cursor
// resolved to a strict (created_at, id) position.
type fakeStore struct {
	events []store.AuditEvent

	lastFilter store.AuditFilter
}

func (f *fakeStore) ListAuditEvents(ctx context.Context, filter store.AuditFilter) ([]store.AuditEvent, error) {
	f.lastFilter = filter

	sorted := append([]store.AuditEvent(nil), f.events...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
		}
		return sorted[i].ID > sorted[j].ID
	})

	start := 0
	if filter.AfterID != "" {
		found := false
		for i, ev := range sorted {
			if ev.ID == filter.AfterID {
				start = i + 1
				found = true
				break
			}
		}
		if !found {
			return nil, store.ErrNotFound
		}
	}

	var out []store.AuditEvent
	for _, ev := range sorted[start:] {
		if filter.Stage != "" && ev.Stage != filter.Stage {
			continue
		}
		if filter.TopicID != "" && (ev.TopicID == nil || *ev.TopicID != filter.TopicID) {
			continue
		}
		if filter.DateFrom != nil && ev.CreatedAt.Before(*filter.DateFrom) {
			continue
		}
		if filter.DateTo != nil && ev.CreatedAt.After(*filter.DateTo) {
			continue
		}
		out = append(out, ev)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) AuditEventsForTopic(ctx context.Context, topicID string) ([]store.AuditEvent, error) {
	var out []store.AuditEvent
	for _, ev := range f.events {
		if ev.TopicID != nil && *ev.TopicID == topicID {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func seedEvents(n int) *fakeStore {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	fake := &fakeStore{}
	for i := 0; i < n; i++ {
		topicID := fmt.Sprintf("t%d", i%3)
		fake.events = append(fake.events, store.AuditEvent{
			ID:        fmt.Sprintf("ev-%03d", i),
			Stage:     store.StageTopicSelection,
			TopicID:   &topicID,
			Actor:     "editor",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return fake
}

func TestListEventsPaginates(t *testing.T) {
	fake := seedEvents(12)
	svc := NewService(fake)

	page, err := svc.ListEvents(context.Background(), Query{Limit: 5})
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(page.Events) != 5 || !page.HasMore {
		t.Fatalf("first page: %d events, has_more=%v", len(page.Events), page.HasMore)
	}
	// Newest first.
	if page.Events[0].ID != "ev-011" || page.Events[4].ID != "ev-007" {
		t.Errorf("first page order: %s .. %s", page.Events[0].ID, page.Events[4].ID)
	}
	if page.NextCursor != "ev-007" {
		t.Errorf("next_cursor = %s, want ev-007", page.NextCursor)
	}
	if fake.lastFilter.Limit != 6 {
		t.Errorf("store asked for %d rows, want limit+1", fake.lastFilter.Limit)
	}

	page, err = svc.ListEvents(context.Background(), Query{Limit: 5, Cursor: page.NextCursor})
	if err != nil {
		t.Fatalf("second page error = %v", err)
	}
	if len(page.Events) != 5 || page.Events[0].ID != "ev-006" || page.NextCursor != "ev-002" {
		t.Errorf("second page: %d events, first %s, cursor %s", len(page.Events), page.Events[0].ID, page.NextCursor)
	}

	page, err = svc.ListEvents(context.Background(), Query{Limit: 5, Cursor: page.NextCursor})
	if err != nil {
		t.Fatalf("last page error = %v", err)
	}
	if len(page.Events) != 2 || page.HasMore || page.NextCursor != "" {
		t.Errorf("last page: %d events, has_more=%v, cursor=%q", len(page.Events), page.HasMore, page.NextCursor)
	}
}

func TestListEventsExactPageBoundary(t *testing.T) {
	svc := NewService(seedEvents(5))

	page, err := svc.ListEvents(context.Background(), Query{Limit: 5})
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(page.Events) != 5 || page.HasMore || page.NextCursor != "" {
		t.Errorf("boundary page: %d events, has_more=%v, cursor=%q", len(page.Events), page.HasMore, page.NextCursor)
	}
}

func TestListEventsEmptyResult(t *testing.T) {
	svc := NewService(&fakeStore{})

	page, err := svc.ListEvents(context.Background(), Query{})
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if page.Events == nil || len(page.Events) != 0 || page.HasMore {
		t.Errorf("empty page: %+v", page)
	}
}

func TestListEventsClampsLimit(t *testing.T) {
	fake := seedEvents(3)
	svc := NewService(fake)

	if _, err := svc.ListEvents(context.Background(), Query{Limit: 10000}); err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if fake.lastFilter.Limit != maxPageSize+1 {
		t.Errorf("store limit = %d, want %d", fake.lastFilter.Limit, maxPageSize+1)
	}

	if _, err := svc.ListEvents(context.Background(), Query{}); err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if fake.lastFilter.Limit != defaultPageSize+1 {
		t.Errorf("default store limit = %d, want %d", fake.lastFilter.Limit, defaultPageSize+1)
	}
}

func TestListEventsFilters(t *testing.T) {
	fake := seedEvents(12)
	svc := NewService(fake)

	page, err := svc.ListEvents(context.Background(), Query{TopicID: "t1"})
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	for _, ev := range page.Events {
		if *ev.TopicID != "t1" {
			t.Errorf("event %s has topic %s", ev.ID, *ev.TopicID)
		}
	}
	if len(page.Events) != 4 {
		t.Errorf("filtered page size = %d, want 4", len(page.Events))
	}

	from := time.Date(2026, 3, 1, 0, 10, 0, 0, time.UTC)
	page, err = svc.ListEvents(context.Background(), Query{DateFrom: &from})
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(page.Events) != 2 {
		t.Errorf("date-filtered page size = %d, want 2", len(page.Events))
	}
}

func TestListEventsUnknownCursor(t *testing.T) {
	svc := NewService(seedEvents(3))

	_, err := svc.ListEvents(context.Background(), Query{Cursor: "ghost"})
	if err != store.ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestEventConstructorsPreMintIdentity(t *testing.T) {
	ev := NewTopicSelectionEvent("t1", nil, map[string]any{"reason": "x"}, "")
	if ev.ID == "" || ev.CreatedAt.IsZero() {
		t.Errorf("event missing identity: %+v", ev)
	}
	if ev.Actor != "system" {
		t.Errorf("default actor = %s, want system", ev.Actor)
	}
	if ev.SystemDecision == nil {
		t.Errorf("nil system decision not normalized")
	}
	if ev.TopicID == nil || *ev.TopicID != "t1" {
		t.Errorf("topic id = %v", ev.TopicID)
	}

	contentID := "c1"
	opt := NewOptionSelectionEvent("t1", &contentID, nil, nil, "editor")
	if opt.Stage != store.StageOptionSelection || opt.ContentID == nil || *opt.ContentID != "c1" {
		t.Errorf("option event: %+v", opt)
	}
	if opt.ID == ev.ID {
		t.Errorf("constructors reused an event id")
	}

	ethics := NewEthicsReviewEvent("t1", nil, nil, "editor")
	if ethics.Stage != store.StageEthicsReview {
		t.Errorf("ethics stage = %s", ethics.Stage)
	}
}
