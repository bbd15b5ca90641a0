package jobs

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"masthead/api/internal/scoring"
	"masthead/api/internal/store"
)

type fakeStore struct {
	inserted  []store.JobRun
	updated   []store.JobRun
	insertErr error

	topics     []store.TopicCandidate
	weights    *store.WeightsVersion
	scores     []store.ScoreRecord
	scoreErr   error
	deletedIDs []string
}

func (f *fakeStore) InsertJobRun(ctx context.Context, run store.JobRun) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, run)
	return nil
}

func (f *fakeStore) UpdateJobRun(ctx context.Context, run store.JobRun) error {
	f.updated = append(f.updated, run)
	return nil
}

func (f *fakeStore) JobRuns(ctx context.Context, limit int) ([]store.JobRun, error) {
	runs := append([]store.JobRun(nil), f.updated...)
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (f *fakeStore) DeleteJobRun(ctx context.Context, id string) error {
	f.deletedIDs = append(f.deletedIDs, id)
	return nil
}

func (f *fakeStore) ListTopics(ctx context.Context, filter store.TopicFilter) ([]store.TopicCandidate, error) {
	var out []store.TopicCandidate
	for _, topic := range f.topics {
		if filter.Status != "" && topic.Status != filter.Status {
			continue
		}
		out = append(out, topic)
	}
	return out, nil
}

func (f *fakeStore) ActiveWeights(ctx context.Context) (store.WeightsVersion, error) {
	if f.weights == nil {
		return store.WeightsVersion{}, store.ErrNotFound
	}
	return *f.weights, nil
}

func (f *fakeStore) InsertScoreRecord(ctx context.Context, rec store.ScoreRecord) error {
	if f.scoreErr != nil {
		return f.scoreErr
	}
	f.scores = append(f.scores, rec)
	return nil
}

func TestTrackerRunCompletes(t *testing.T) {
	fake := &fakeStore{}
	tracker := NewTracker(fake)

	run, err := tracker.Run(context.Background(), "scoring", map[string]any{"trigger": "manual"}, func(ctx context.Context, run *store.JobRun) error {
		run.TopicsProcessed = 7
		return nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(fake.inserted) != 1 || fake.inserted[0].Status != "running" {
		t.Fatalf("inserted runs = %+v", fake.inserted)
	}
	if len(fake.updated) != 1 {
		t.Fatalf("updated runs = %+v", fake.updated)
	}
	final := fake.updated[0]
	if final.Status != "completed" || final.CompletedAt == nil || final.TopicsProcessed != 7 {
		t.Errorf("final run = %+v", final)
	}
	if final.ID != fake.inserted[0].ID {
		t.Errorf("finalized a different run: %s vs %s", final.ID, fake.inserted[0].ID)
	}
	if run.Status != "completed" || run.Metadata["trigger"] != "manual" {
		t.Errorf("returned run = %+v", run)
	}
}

func TestTrackerRunRecordsFailure(t *testing.T) {
	fake := &fakeStore{}
	jobErr := errors.New("upstream exploded")

	run, err := NewTracker(fake).Run(context.Background(), "scoring", nil, func(ctx context.Context, run *store.JobRun) error {
		return jobErr
	})
	if !errors.Is(err, jobErr) {
		t.Fatalf("Run() error = %v, want job error", err)
	}
	if run.Status != "failed" || run.ErrorMessage != "upstream exploded" {
		t.Errorf("failed run = %+v", run)
	}
	if run.ErrorTrace == "" || !strings.Contains(run.ErrorTrace, "goroutine") {
		t.Errorf("error trace not captured")
	}
	if len(fake.updated) != 1 || fake.updated[0].Status != "failed" {
		t.Errorf("failure not persisted: %+v", fake.updated)
	}
}

func TestTrackerRunInsertFailure(t *testing.T) {
	fake := &fakeStore{insertErr: errors.New("db down")}
	called := false

	run, err := NewTracker(fake).Run(context.Background(), "scoring", nil, func(ctx context.Context, run *store.JobRun) error {
		called = true
		return nil
	})
	if err == nil {
		t.Fatalf("Run() succeeded despite insert failure")
	}
	if called {
		t.Errorf("job body ran without a tracked run")
	}
	if run.ID != "" {
		t.Errorf("run = %+v, want zero value", run)
	}
}

func TestScorerRunScoresPendingTopics(t *testing.T) {
	base := time.Now().UTC().Add(-2 * time.Hour)
	fake := &fakeStore{
		topics: []store.TopicCandidate{
			{
				ID: "t1", Status: store.TopicPending, SourcePlatform: "reddit",
				Title:        "AI startup raises series B",
				TopicCluster: "ai-infra",
				Entities:     []string{"Acme"},
				RawPayload:   map[string]any{"score": float64(400), "num_comments": float64(100)},
				CreatedAt:    base,
			},
			{
				ID: "t2", Status: store.TopicPending, SourcePlatform: "rss",
				Title:        "quarterly agriculture report",
				TopicCluster: "applied-industry",
				Metadata:     map[string]any{"integrity_penalty": -0.25},
				CreatedAt:    base,
			},
			{ID: "t3", Status: store.TopicApproved, SourcePlatform: "reddit", CreatedAt: base},
		},
	}
	scorer := NewScorer(fake, NewTracker(fake))

	run, err := scorer.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if run.TopicsIngested != 2 || run.TopicsProcessed != 2 || run.TopicsSaved != 2 {
		t.Errorf("run counters = %+v", run)
	}
	if len(fake.scores) != 2 {
		t.Fatalf("len(scores) = %d, want 2", len(fake.scores))
	}

	byTopic := map[string]store.ScoreRecord{}
	for _, rec := range fake.scores {
		byTopic[rec.TopicID] = rec
	}
	t1 := byTopic["t1"]
	if t1.RunID != run.ID {
		t.Errorf("t1 run id = %s, want %s", t1.RunID, run.ID)
	}
	if t1.Components.Velocity == 0 || t1.Components.IntegrityPenalty != 0 {
		t.Errorf("t1 components = %+v", t1.Components)
	}
	if t1.Weights != scoring.DefaultWeights() {
		t.Errorf("t1 weights = %+v", t1.Weights)
	}
	t2 := byTopic["t2"]
	if t2.Components.IntegrityPenalty != -0.25 {
		t.Errorf("t2 penalty = %v", t2.Components.IntegrityPenalty)
	}
	if t2.Reasoning["integrity"] == "" {
		t.Errorf("t2 missing integrity reasoning: %+v", t2.Reasoning)
	}
	if t1.Score <= t2.Score {
		t.Errorf("penalized topic outscored the engaged one: %v vs %v", t1.Score, t2.Score)
	}
}

func TestScorerRunUsesActiveWeights(t *testing.T) {
	custom := scoring.Weights{Recency: 0.5, Velocity: 0.25, AudienceFit: 0.25}
	fake := &fakeStore{
		topics: []store.TopicCandidate{
			{ID: "t1", Status: store.TopicPending, SourcePlatform: "manual", TopicCluster: "ai-infra", CreatedAt: time.Now()},
		},
		weights: &store.WeightsVersion{ID: "w2", Weights: custom},
	}

	if _, err := NewScorer(fake, NewTracker(fake)).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(fake.scores) != 1 || fake.scores[0].Weights != custom {
		t.Errorf("scores = %+v", fake.scores)
	}
}

func TestScorerRunRecordsInsertFailure(t *testing.T) {
	fake := &fakeStore{
		topics:   []store.TopicCandidate{{ID: "t1", Status: store.TopicPending, CreatedAt: time.Now()}},
		scoreErr: errors.New("constraint violation"),
	}

	run, err := NewScorer(fake, NewTracker(fake)).Run(context.Background())
	if err == nil {
		t.Fatalf("Run() succeeded despite insert failure")
	}
	if run.Status != "failed" || !strings.Contains(run.ErrorMessage, "t1") {
		t.Errorf("run = %+v", run)
	}
}
