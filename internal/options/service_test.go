package options

import (
	"context"
	"errors"
	"strings"
	"testing"

	"masthead/api/internal/genai"
	"masthead/api/internal/store"
)

type fakeStore struct {
	options map[string]store.ContentOption
	updated *store.ContentOption
}

func (f *fakeStore) GetOption(ctx context.Context, id string) (store.ContentOption, error) {
	opt, ok := f.options[id]
	if !ok {
		return store.ContentOption{}, store.ErrNotFound
	}
	return opt, nil
}

func (f *fakeStore) UpdateOptionEdit(ctx context.Context, opt store.ContentOption) error {
	f.updated = &opt
	return nil
}

type fakeGenerator struct {
	text    string
	usage   genai.Usage
	err     error
	lastReq genai.Request
}

func (f *fakeGenerator) Generate(ctx context.Context, req genai.Request) (string, genai.Usage, error) {
	f.lastReq = req
	return f.text, f.usage, f.err
}

func TestApplyManualEdit(t *testing.T) {
	fake := &fakeStore{options: map[string]store.ContentOption{
		"o1": {ID: "o1", TopicID: "t1", OptionType: store.OptionScript, Content: "original"},
	}}

	opt, err := NewService(fake, nil, "gpt-4o-mini").ApplyManualEdit(context.Background(), "o1", "edited text", "editor@x")
	if err != nil {
		t.Fatalf("ApplyManualEdit() error = %v", err)
	}
	if opt.Content != "original" {
		t.Errorf("original content overwritten: %q", opt.Content)
	}
	if opt.EditedContent == nil || *opt.EditedContent != "edited text" {
		t.Errorf("edited content = %v", opt.EditedContent)
	}
	if opt.EditorID != "editor@x" || opt.EditedAt == nil {
		t.Errorf("editor attribution missing: %+v", opt)
	}
	if len(opt.EditHistory) != 1 || opt.EditHistory[0].ChangeType != "manual_edit" {
		t.Errorf("edit history = %+v", opt.EditHistory)
	}
	if fake.updated == nil || fake.updated.ID != "o1" {
		t.Errorf("update not persisted")
	}
}

func TestApplyManualEditUnknownOption(t *testing.T) {
	_, err := NewService(&fakeStore{options: map[string]store.ContentOption{}}, nil, "m").
		ApplyManualEdit(context.Background(), "ghost", "x", "editor")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestRefineTighten(t *testing.T) {
	fake := &fakeStore{options: map[string]store.ContentOption{
		"o1": {ID: "o1", TopicID: "t1", OptionType: store.OptionScript, Content: "a long rambling script"},
	}}
	gen := &fakeGenerator{text: "a tight script", usage: genai.Usage{PromptTokens: 1000, CompletionTokens: 500}}

	res, err := NewService(fake, gen, "gpt-4o-mini").Refine(context.Background(), "o1", "tighten", "editor@x")
	if err != nil {
		t.Fatalf("Refine() error = %v", err)
	}

	if res.Option.EditedContent == nil || *res.Option.EditedContent != "a tight script" {
		t.Errorf("edited content = %v", res.Option.EditedContent)
	}
	if len(res.Option.EditHistory) != 1 {
		t.Fatalf("edit history = %+v", res.Option.EditHistory)
	}
	rec := res.Option.EditHistory[0]
	if rec.ChangeType != "ai_refinement" || rec.RefinementType != "tighten" || rec.Editor != "editor@x" {
		t.Errorf("edit record = %+v", rec)
	}
	if len(res.Option.RefinementApplied) != 1 || res.Option.RefinementApplied[0] != "tighten" {
		t.Errorf("refinement applied = %v", res.Option.RefinementApplied)
	}
	if res.Model != "gpt-4o-mini" {
		t.Errorf("model = %s", res.Model)
	}
	want := genai.EstimateCost("gpt-4o-mini", gen.usage)
	if res.CostUSD != want || res.CostUSD == 0 {
		t.Errorf("cost = %v, want %v", res.CostUSD, want)
	}
	if !strings.Contains(gen.lastReq.Prompt, "a long rambling script") {
		t.Errorf("prompt missing script: %q", gen.lastReq.Prompt)
	}
}

func TestRefineUsesEditedContentAsBase(t *testing.T) {
	edited := "hand-edited version"
	fake := &fakeStore{options: map[string]store.ContentOption{
		"o1": {ID: "o1", OptionType: store.OptionScript, Content: "original", EditedContent: &edited},
	}}
	gen := &fakeGenerator{text: "casual version"}

	_, err := NewService(fake, gen, "m").Refine(context.Background(), "o1", "casual", "editor")
	if err != nil {
		t.Fatalf("Refine() error = %v", err)
	}
	if !strings.Contains(gen.lastReq.Prompt, edited) {
		t.Errorf("casual refinement ignored edited content: %q", gen.lastReq.Prompt)
	}
}

func TestRefineRegenerateUsesOriginal(t *testing.T) {
	edited := "hand-edited version"
	fake := &fakeStore{options: map[string]store.ContentOption{
		"o1": {ID: "o1", OptionType: store.OptionScript, Content: "original", EditedContent: &edited},
	}}
	gen := &fakeGenerator{text: "fresh version"}

	_, err := NewService(fake, gen, "m").Refine(context.Background(), "o1", "regenerate", "editor")
	if err != nil {
		t.Fatalf("Refine() error = %v", err)
	}
	if !strings.Contains(gen.lastReq.Prompt, "original") || strings.Contains(gen.lastReq.Prompt, edited) {
		t.Errorf("regenerate base wrong: %q", gen.lastReq.Prompt)
	}
}

func TestRefineRejectsNonScript(t *testing.T) {
	fake := &fakeStore{options: map[string]store.ContentOption{
		"o1": {ID: "o1", OptionType: store.OptionHook, Content: "a hook"},
	}}

	_, err := NewService(fake, &fakeGenerator{}, "m").Refine(context.Background(), "o1", "tighten", "editor")
	if !errors.Is(err, ErrNotScript) {
		t.Errorf("error = %v, want ErrNotScript", err)
	}
}

func TestRefineRejectsUnknownKind(t *testing.T) {
	_, err := NewService(&fakeStore{}, &fakeGenerator{}, "m").Refine(context.Background(), "o1", "shorten", "editor")
	if !errors.Is(err, ErrUnknownRefinement) {
		t.Errorf("error = %v, want ErrUnknownRefinement", err)
	}
}

func TestRefinePropagatesGeneratorError(t *testing.T) {
	fake := &fakeStore{options: map[string]store.ContentOption{
		"o1": {ID: "o1", OptionType: store.OptionScript, Content: "script"},
	}}
	gen := &fakeGenerator{err: genai.ErrDisabled}

	_, err := NewService(fake, gen, "m").Refine(context.Background(), "o1", "tighten", "editor")
	if !errors.Is(err, genai.ErrDisabled) {
		t.Errorf("error = %v, want ErrDisabled", err)
	}
	if fake.updated != nil {
		t.Errorf("failed refinement persisted an update")
	}
}
