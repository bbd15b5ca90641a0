package review

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"masthead/api/internal/scoring"
	"masthead/api/internal/store"
)

// Store is the persistence surface review reads from.
type Store interface {
	GetTopic(ctx context.Context, id string) (store.TopicCandidate, error)
	ListTopics(ctx context.Context, filter store.TopicFilter) ([]store.TopicCandidate, error)
	ScoresForTopics(ctx context.Context, topicIDs []string) ([]store.ScoreRecord, error)
	OptionsForTopics(ctx context.Context, topicIDs []string) ([]store.ContentOption, error)
}

// Resolver joins id-capped store lookups back into per-topic views. Id sets
// larger than store.MaxBatchIDs are split into chunks, the chunk queries run
// concurrently, and results are merged after every chunk resolves.
type Resolver struct {
	store Store
}

func NewResolver(s Store) *Resolver {
	return &Resolver{store: s}
}

// LatestScores returns the current score record per topic id. Topics that
// have never been scored map to DefaultScore, so callers always get exactly
// one record per requested id.
func (r *Resolver) LatestScores(ctx context.Context, topicIDs []string) (map[string]store.ScoreRecord, error) {
	records, err := fanOut(ctx, topicIDs, r.store.ScoresForTopics)
	if err != nil {
		return nil, err
	}

	// Newest-first with a stable sort, then a single seen-set scan keeps
	// the first occurrence per topic.
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	latest := make(map[string]store.ScoreRecord, len(topicIDs))
	for _, rec := range records {
		if _, seen := latest[rec.TopicID]; !seen {
			latest[rec.TopicID] = rec
		}
	}
	for _, id := range topicIDs {
		if _, seen := latest[id]; !seen {
			latest[id] = DefaultScore(id)
		}
	}
	return latest, nil
}

// OptionsByTopic returns all content options grouped by topic id, oldest
// first within each topic.
func (r *Resolver) OptionsByTopic(ctx context.Context, topicIDs []string) (map[string][]store.ContentOption, error) {
	options, err := fanOut(ctx, topicIDs, r.store.OptionsForTopics)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(options, func(i, j int) bool {
		return options[i].CreatedAt.Before(options[j].CreatedAt)
	})
	grouped := make(map[string][]store.ContentOption)
	for _, opt := range options {
		grouped[opt.TopicID] = append(grouped[opt.TopicID], opt)
	}
	return grouped, nil
}

// fanOut issues one capped query per id chunk, concurrently, and
// concatenates the chunk results.
func fanOut[T any](ctx context.Context, ids []string, query func(context.Context, []string) ([]T, error)) ([]T, error) {
	chunks := store.ChunkIDs(ids, store.MaxBatchIDs)
	if len(chunks) == 0 {
		return nil, nil
	}
	results := make([][]T, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		g.Go(func() error {
			rows, err := query(gctx, chunk)
			if err != nil {
				return err
			}
			results[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var merged []T
	for _, rows := range results {
		merged = append(merged, rows...)
	}
	return merged, nil
}

// DefaultScore is the stand-in record for a topic with no scoring run yet.
func DefaultScore(topicID string) store.ScoreRecord {
	return store.ScoreRecord{
		TopicID:    topicID,
		Score:      0,
		Components: scoring.Components{},
		Weights:    scoring.DefaultWeights(),
		Reasoning:  map[string]string{"note": "no scoring run recorded"},
		RunID:      "default",
	}
}
