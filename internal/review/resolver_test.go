package review

import (
	"context"
	"fmt"
	"testing"
	"time"

	"masthead/api/internal/scoring"
	"masthead/api/internal/store"
)

// fakeStore enforces the batched-lookup cap the way the real adapter does,
// so oversized chunks fail tests instead of passing silently.
type fakeStore struct {
	topics  []store.TopicCandidate
	scores  []store.ScoreRecord
	options []store.ContentOption

	orderedListFails bool

	scoreQueries [][]string
	listCalls    []store.TopicFilter
}

func (f *fakeStore) GetTopic(ctx context.Context, id string) (store.TopicCandidate, error) {
	for _, topic := range f.topics {
		if topic.ID == id {
			return topic, nil
		}
	}
	return store.TopicCandidate{}, store.ErrNotFound
}

func (f *fakeStore) ListTopics(ctx context.Context, filter store.TopicFilter) ([]store.TopicCandidate, error) {
	f.listCalls = append(f.listCalls, filter)
	if filter.Ordered && f.orderedListFails {
		return nil, store.ErrIndexRequired
	}
	var out []store.TopicCandidate
	for _, topic := range f.topics {
		if filter.Status != "" && topic.Status != filter.Status {
			continue
		}
		out = append(out, topic)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeStore) ScoresForTopics(ctx context.Context, topicIDs []string) ([]store.ScoreRecord, error) {
	if len(topicIDs) > store.MaxBatchIDs {
		return nil, store.ErrBatchTooLarge
	}
	f.scoreQueries = append(f.scoreQueries, topicIDs)
	var out []store.ScoreRecord
	for _, rec := range f.scores {
		for _, id := range topicIDs {
			if rec.TopicID == id {
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

func (f *fakeStore) OptionsForTopics(ctx context.Context, topicIDs []string) ([]store.ContentOption, error) {
	if len(topicIDs) > store.MaxBatchIDs {
		return nil, store.ErrBatchTooLarge
	}
	var out []store.ContentOption
	for _, opt := range f.options {
		for _, id := range topicIDs {
			if opt.TopicID == id {
				out = append(out, opt)
			}
		}
	}
	return out, nil
}

func TestLatestScoresChunksLargeIDSets(t *testing.T) {
	fake := &fakeStore{}
	var ids []string
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("topic-%02d", i)
		ids = append(ids, id)
		fake.scores = append(fake.scores, store.ScoreRecord{
			ID:        fmt.Sprintf("score-%02d", i),
			TopicID:   id,
			Score:     float64(i) / 100,
			RunID:     "run-1",
			CreatedAt: base,
		})
	}

	resolver := NewResolver(fake)
	latest, err := resolver.LatestScores(context.Background(), ids)
	if err != nil {
		t.Fatalf("LatestScores() error = %v", err)
	}
	if len(latest) != 25 {
		t.Fatalf("len(latest) = %d, want 25", len(latest))
	}
	if len(fake.scoreQueries) != 3 {
		t.Errorf("store saw %d batched queries, want 3", len(fake.scoreQueries))
	}
	for _, q := range fake.scoreQueries {
		if len(q) > store.MaxBatchIDs {
			t.Errorf("batched query carried %d ids", len(q))
		}
	}
	if latest["topic-24"].Score != 0.24 {
		t.Errorf("topic-24 score = %v, want 0.24", latest["topic-24"].Score)
	}
}

func TestLatestScoresPicksNewestPerTopic(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	fake := &fakeStore{scores: []store.ScoreRecord{
		{ID: "s1", TopicID: "t1", Score: 0.4, RunID: "run-1", CreatedAt: base},
		{ID: "s2", TopicID: "t1", Score: 0.7, RunID: "run-2", CreatedAt: base.Add(time.Hour)},
		{ID: "s3", TopicID: "t2", Score: 0.2, RunID: "run-1", CreatedAt: base},
	}}

	latest, err := NewResolver(fake).LatestScores(context.Background(), []string{"t1", "t2"})
	if err != nil {
		t.Fatalf("LatestScores() error = %v", err)
	}
	if latest["t1"].ID != "s2" {
		t.Errorf("t1 latest = %s, want s2", latest["t1"].ID)
	}
	if latest["t2"].ID != "s3" {
		t.Errorf("t2 latest = %s, want s3", latest["t2"].ID)
	}
}

func TestLatestScoresSubstitutesDefault(t *testing.T) {
	fake := &fakeStore{scores: []store.ScoreRecord{
		{ID: "s1", TopicID: "t1", Score: 0.4, RunID: "run-1", CreatedAt: time.Now()},
	}}

	latest, err := NewResolver(fake).LatestScores(context.Background(), []string{"t1", "t2"})
	if err != nil {
		t.Fatalf("LatestScores() error = %v", err)
	}
	def := latest["t2"]
	if def.RunID != "default" || def.Score != 0 {
		t.Errorf("unexpected default record: %+v", def)
	}
	if def.Weights != scoring.DefaultWeights() {
		t.Errorf("default record weights = %+v", def.Weights)
	}
	if def.Reasoning["note"] == "" {
		t.Errorf("default record carries no reasoning note")
	}
}

func TestOptionsByTopicGroupsOldestFirst(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	fake := &fakeStore{options: []store.ContentOption{
		{ID: "o2", TopicID: "t1", OptionType: store.OptionHook, CreatedAt: base.Add(time.Minute)},
		{ID: "o1", TopicID: "t1", OptionType: store.OptionHook, CreatedAt: base},
		{ID: "o3", TopicID: "t2", OptionType: store.OptionScript, CreatedAt: base},
	}}

	grouped, err := NewResolver(fake).OptionsByTopic(context.Background(), []string{"t1", "t2"})
	if err != nil {
		t.Fatalf("OptionsByTopic() error = %v", err)
	}
	if len(grouped["t1"]) != 2 || grouped["t1"][0].ID != "o1" {
		t.Errorf("t1 options misordered: %+v", grouped["t1"])
	}
	if len(grouped["t2"]) != 1 {
		t.Errorf("t2 options = %+v", grouped["t2"])
	}
}

func TestFanOutEmptyIDs(t *testing.T) {
	latest, err := NewResolver(&fakeStore{}).LatestScores(context.Background(), nil)
	if err != nil {
		t.Fatalf("LatestScores() error = %v", err)
	}
	if len(latest) != 0 {
		t.Errorf("len(latest) = %d, want 0", len(latest))
	}
}
