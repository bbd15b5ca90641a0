package app

import (
	"context"
	"errors"
	"log"
	"time"

	"masthead/api/internal/auth"
	"masthead/api/internal/scoring"
	"masthead/api/internal/store"
	"masthead/api/internal/util"
)

// Bootstrap ensures the console is usable on an empty database: the
// bootstrap operator, an initial weights version and a small set of demo
// topics. It is idempotent.
func (s *Service) Bootstrap(ctx context.Context) error {
	if err := s.ensureOperator(ctx); err != nil {
		return err
	}
	if err := s.ensureWeights(ctx); err != nil {
		return err
	}
	seeded, err := s.seedTopics(ctx)
	if err != nil {
		return err
	}
	if seeded {
		if _, err := s.scorer.Run(ctx); err != nil {
			log.Printf("bootstrap: initial scoring run failed: %v", err)
		}
	}
	if s.search != nil {
		s.search.ReindexFromStore(ctx)
	}
	return nil
}

func (s *Service) ensureOperator(ctx context.Context) error {
	if s.cfg.BootstrapEmail == "" {
		return nil
	}
	_, err := s.store.GetOperatorByEmail(ctx, s.cfg.BootstrapEmail)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	hash, err := auth.HashPassword(s.cfg.BootstrapPassword)
	if err != nil {
		return err
	}
	return s.store.InsertOperator(ctx, store.Operator{
		ID:           util.NewID("op"),
		Email:        s.cfg.BootstrapEmail,
		DisplayName:  "Masthead Operator",
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	})
}

func (s *Service) ensureWeights(ctx context.Context) error {
	_, err := s.store.ActiveWeights(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	versionID := util.NewID("wts")
	now := time.Now().UTC()
	return s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.ActiveWeights(ctx); err == nil {
			return nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return tx.InsertWeights(ctx, store.WeightsVersion{
			ID:        versionID,
			Weights:   scoring.DefaultWeights(),
			UpdatedBy: "system",
			CreatedAt: now,
		})
	})
}

func (s *Service) seedTopics(ctx context.Context) (bool, error) {
	topics, err := s.store.ListTopics(ctx, store.TopicFilter{})
	if err != nil {
		return false, err
	}
	if len(topics) > 0 {
		return false, nil
	}

	now := time.Now().UTC()
	seeds := []store.TopicCandidate{
		{
			ID:             util.NewID("topic"),
			SourcePlatform: "reddit",
			SourceURL:      "https://reddit.com/r/MachineLearning/seed-inference-costs",
			Title:          "Open-weights model matches GPT-4o on reasoning at a tenth of the inference cost",
			RawPayload:     map[string]any{"score": float64(840), "num_comments": float64(312)},
			Entities:       []string{"GPT-4o", "inference"},
			TopicCluster:   "ai-infra",
			Status:         store.TopicApproved,
			CreatedAt:      now.Add(-2 * time.Hour),
		},
		{
			ID:             util.NewID("topic"),
			SourcePlatform: "hackernews",
			SourceURL:      "https://news.ycombinator.com/item?id=seed-chip-export",
			Title:          "New chip export rules reshape the GPU secondary market",
			RawPayload:     map[string]any{"score": float64(420), "descendants": float64(255)},
			Entities:       []string{"GPU", "export controls"},
			TopicCluster:   "business-socioeconomic",
			Status:         store.TopicPending,
			CreatedAt:      now.Add(-5 * time.Hour),
		},
		{
			ID:             util.NewID("topic"),
			SourcePlatform: "rss",
			SourceURL:      "https://example.com/feeds/seed-miracle-battery",
			Title:          "Startup claims battery breakthrough doubles EV range overnight",
			RawPayload:     map[string]any{},
			Entities:       []string{"EV", "battery"},
			TopicCluster:   "applied-industry",
			Status:         store.TopicPending,
			Metadata:       map[string]any{"integrity_penalty": -0.25},
			CreatedAt:      now.Add(-26 * time.Hour),
		},
	}
	for _, topic := range seeds {
		if err := s.store.InsertTopic(ctx, topic); err != nil {
			return false, err
		}
	}

	// Generated options for the approved topic so the selection flow is
	// exercisable immediately.
	approved := seeds[0]
	demoOptions := []store.ContentOption{
		{
			OptionType: store.OptionHook,
			Content:    "What if frontier-level reasoning cost a tenth of what you pay today?",
		},
		{
			OptionType: store.OptionHook,
			Content:    "The GPT-4o price premium just lost its biggest justification.",
		},
		{
			OptionType: store.OptionScript,
			Content: "An open-weights model just matched GPT-4o on reasoning benchmarks while " +
				"costing a tenth as much to run. Here is what that breaks: the assumption that " +
				"frontier quality requires frontier pricing. Labs renting capacity are already " +
				"re-quoting contracts, and the pressure lands on every closed API this quarter.",
		},
	}
	for i, opt := range demoOptions {
		opt.ID = util.NewID("opt")
		opt.TopicID = approved.ID
		opt.Model = s.cfg.GenModel
		opt.PromptVersion = "seed-v1"
		opt.CreatedAt = now.Add(-time.Hour).Add(time.Duration(i) * time.Minute)
		if err := s.store.InsertOption(ctx, opt); err != nil {
			return false, err
		}
	}
	return true, nil
}
