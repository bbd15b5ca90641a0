package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"masthead/api/internal/scoring"
	"masthead/api/internal/store"
	"masthead/api/internal/util"
)

// ScoringStore is the persistence surface for the scoring job.
type ScoringStore interface {
	ListTopics(ctx context.Context, filter store.TopicFilter) ([]store.TopicCandidate, error)
	ActiveWeights(ctx context.Context) (store.WeightsVersion, error)
	InsertScoreRecord(ctx context.Context, rec store.ScoreRecord) error
}

// Scorer re-evaluates every pending topic under the active weights,
// appending one ScoreRecord per topic tagged with the job run id.
type Scorer struct {
	store   ScoringStore
	tracker *Tracker
}

func NewScorer(s ScoringStore, tracker *Tracker) *Scorer {
	return &Scorer{store: s, tracker: tracker}
}

func (s *Scorer) Run(ctx context.Context) (store.JobRun, error) {
	return s.tracker.Run(ctx, "scoring", nil, func(ctx context.Context, run *store.JobRun) error {
		topics, err := s.store.ListTopics(ctx, store.TopicFilter{Status: store.TopicPending})
		if err != nil {
			return err
		}
		run.TopicsIngested = len(topics)

		weights := scoring.DefaultWeights()
		if active, err := s.store.ActiveWeights(ctx); err == nil {
			weights = active.Weights
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		// Velocity is relative to the cohort being scored together.
		cohort := make([]int, len(topics))
		for i, topic := range topics {
			cohort[i] = scoring.Engagement(topic.SourcePlatform, topic.RawPayload)
		}

		now := time.Now().UTC()
		for i, topic := range topics {
			rec := scoreTopic(topic, cohort, cohort[i], weights, run.ID, now)
			if err := s.store.InsertScoreRecord(ctx, rec); err != nil {
				return fmt.Errorf("score topic %s: %w", topic.ID, err)
			}
			run.TopicsProcessed++
			run.TopicsSaved++
		}
		return nil
	})
}

func scoreTopic(topic store.TopicCandidate, cohort []int, engagement int, weights scoring.Weights, runID string, now time.Time) store.ScoreRecord {
	recency, recencyReason := scoring.RecencyScore(topic.CreatedAt, now)
	velocity, velocityReason := scoring.VelocityScore(topic.SourcePlatform, engagement, cohort)
	fit, fitReason := scoring.AudienceFitScore(topic.TopicCluster, topic.Title, len(topic.Entities))

	penalty := metadataPenalty(topic.Metadata)
	components := scoring.Components{
		Recency:          recency,
		Velocity:         velocity,
		AudienceFit:      fit,
		IntegrityPenalty: penalty,
	}
	reasoning := map[string]string{
		"recency":      recencyReason,
		"velocity":     velocityReason,
		"audience_fit": fitReason,
	}
	if penalty < 0 {
		reasoning["integrity"] = fmt.Sprintf("ingestion flagged integrity penalty %.2f", penalty)
	}

	return store.ScoreRecord{
		ID:         util.NewID("score"),
		TopicID:    topic.ID,
		Score:      scoring.Composite(components, weights),
		Components: components,
		Reasoning:  reasoning,
		Weights:    weights,
		RunID:      runID,
		CreatedAt:  now,
	}
}

// metadataPenalty reads the integrity penalty ingestion attached, if any.
func metadataPenalty(metadata map[string]any) float64 {
	switch v := metadata["integrity_penalty"].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}
