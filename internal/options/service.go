package options

import (
	"context"
	"errors"
	"fmt"
	"time"

	"masthead/api/internal/genai"
	"masthead/api/internal/store"
)

var (
	// ErrUnknownRefinement rejects refinement types outside the
	// supported set.
	ErrUnknownRefinement = errors.New("unknown refinement type")
	// ErrNotScript is returned when refinement is requested for a hook
	// or outline.
	ErrNotScript = errors.New("refinement applies to scripts only")
)

// Store is the persistence surface for option mutations.
type Store interface {
	GetOption(ctx context.Context, id string) (store.ContentOption, error)
	UpdateOptionEdit(ctx context.Context, opt store.ContentOption) error
}

// RefineResult is a refined option plus the generation cost incurred.
type RefineResult struct {
	Option  store.ContentOption `json:"option"`
	Model   string              `json:"model"`
	CostUSD float64             `json:"cost_usd"`
}

type Service struct {
	store Store
	gen   genai.Generator
	model string
}

func NewService(s Store, gen genai.Generator, model string) *Service {
	return &Service{store: s, gen: gen, model: model}
}

// ApplyManualEdit replaces an option's working content and appends one
// edit history entry. The original content is never overwritten.
func (s *Service) ApplyManualEdit(ctx context.Context, optionID, content, editor string) (store.ContentOption, error) {
	opt, err := s.store.GetOption(ctx, optionID)
	if err != nil {
		return store.ContentOption{}, err
	}
	now := time.Now().UTC()
	opt.EditedContent = &content
	opt.EditedAt = &now
	opt.EditorID = editor
	opt.EditHistory = append(opt.EditHistory, store.EditRecord{
		Timestamp:  now,
		Editor:     editor,
		ChangeType: "manual_edit",
	})
	if err := s.store.UpdateOptionEdit(ctx, opt); err != nil {
		return store.ContentOption{}, err
	}
	return opt, nil
}

// Refine rewrites a script option with the text service. Supported kinds:
// tighten, casual, regenerate.
func (s *Service) Refine(ctx context.Context, optionID, kind, editor string) (RefineResult, error) {
	switch kind {
	case "tighten", "casual", "regenerate":
	default:
		return RefineResult{}, fmt.Errorf("%w: %q", ErrUnknownRefinement, kind)
	}

	opt, err := s.store.GetOption(ctx, optionID)
	if err != nil {
		return RefineResult{}, err
	}
	if opt.OptionType != store.OptionScript {
		return RefineResult{}, fmt.Errorf("%w: option %s is a %s", ErrNotScript, opt.ID, opt.OptionType)
	}

	base := opt.Content
	if kind != "regenerate" && opt.EditedContent != nil {
		base = *opt.EditedContent
	}

	text, usage, err := s.gen.Generate(ctx, genai.Request{
		System:      "You are a script editor for short-form video. Return only the revised script.",
		Prompt:      refinementPrompt(kind, base),
		Model:       s.model,
		MaxTokens:   1024,
		Temperature: 0.7,
	})
	if err != nil {
		return RefineResult{}, err
	}

	now := time.Now().UTC()
	opt.EditedContent = &text
	opt.EditedAt = &now
	opt.EditorID = editor
	opt.EditHistory = append(opt.EditHistory, store.EditRecord{
		Timestamp:      now,
		Editor:         editor,
		ChangeType:     "ai_refinement",
		RefinementType: kind,
	})
	opt.RefinementApplied = append(opt.RefinementApplied, kind)
	if err := s.store.UpdateOptionEdit(ctx, opt); err != nil {
		return RefineResult{}, err
	}

	return RefineResult{
		Option:  opt,
		Model:   s.model,
		CostUSD: genai.EstimateCost(s.model, usage),
	}, nil
}

func refinementPrompt(kind, script string) string {
	switch kind {
	case "tighten":
		return "Tighten this script. Cut filler, keep every factual claim, aim for 20% fewer words:\n\n" + script
	case "casual":
		return "Rewrite this script in a more casual, conversational tone without losing any facts:\n\n" + script
	default:
		return "Write a fresh take on this script. Same topic and facts, new structure and hook:\n\n" + script
	}
}
