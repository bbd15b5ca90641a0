package scoring

import (
	"math"
	"testing"
	"time"
)

func TestRecencyScoreHalfLife(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	score, _ := RecencyScore(now, now)
	if score != 1 {
		t.Errorf("brand new topic recency = %v, want 1", score)
	}

	score, _ = RecencyScore(now.Add(-24*time.Hour), now)
	if math.Abs(score-0.5) > 1e-9 {
		t.Errorf("24h recency = %v, want 0.5", score)
	}

	score, _ = RecencyScore(now.Add(-48*time.Hour), now)
	if math.Abs(score-0.25) > 1e-9 {
		t.Errorf("48h recency = %v, want 0.25", score)
	}
}

func TestRecencyScoreMissingOrFutureTimestamp(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if score, _ := RecencyScore(time.Time{}, now); score != 1 {
		t.Errorf("zero timestamp recency = %v, want 1", score)
	}
	if score, _ := RecencyScore(now.Add(time.Hour), now); score != 1 {
		t.Errorf("future timestamp recency = %v, want 1", score)
	}
}

func TestEngagement(t *testing.T) {
	cases := []struct {
		name     string
		platform string
		payload  map[string]any
		want     int
	}{
		{"reddit score and comments", "reddit", map[string]any{"score": 100, "num_comments": 50}, 105},
		{"reddit float payload", "reddit", map[string]any{"score": float64(840), "num_comments": float64(312)}, 871},
		{"reddit negative floors at zero", "reddit", map[string]any{"score": -30, "num_comments": 10}, 0},
		{"hackernews descendants", "hackernews", map[string]any{"score": 42, "descendants": 30}, 45},
		{"rss has none", "rss", map[string]any{"score": 99}, 0},
		{"nil payload", "reddit", nil, 0},
	}
	for _, tc := range cases {
		if got := Engagement(tc.platform, tc.payload); got != tc.want {
			t.Errorf("%s: Engagement() = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestVelocityScorePercentilePath(t *testing.T) {
	cohort := []int{10, 50, 100, 200, 500}

	score, _ := VelocityScore("reddit", 500, cohort)
	if score != 1 {
		t.Errorf("top of cohort velocity = %v, want 1", score)
	}

	// Two cohort members below 100, so rank 2 of 4 intervals.
	score, _ = VelocityScore("reddit", 100, cohort)
	if math.Abs(score-0.5) > 1e-9 {
		t.Errorf("mid cohort velocity = %v, want 0.5", score)
	}

	score, _ = VelocityScore("reddit", 10, cohort)
	if score != 0 {
		t.Errorf("bottom of cohort velocity = %v, want 0", score)
	}
}

func TestVelocityScoreLogFallback(t *testing.T) {
	score, _ := VelocityScore("reddit", 1000, nil)
	if math.Abs(score-1) > 1e-9 {
		t.Errorf("ceiling engagement velocity = %v, want 1", score)
	}

	score, _ = VelocityScore("reddit", 99, []int{99})
	want := math.Log10(100) / math.Log10(1001)
	if math.Abs(score-want) > 1e-9 {
		t.Errorf("log velocity = %v, want %v", score, want)
	}

	if score, _ := VelocityScore("rss", 10, nil); score != 0 {
		t.Errorf("rss velocity = %v, want 0", score)
	}
	if score, _ := VelocityScore("reddit", 0, []int{1, 2, 3}); score != 0 {
		t.Errorf("zero engagement velocity = %v, want 0", score)
	}
}

func TestAudienceFitScore(t *testing.T) {
	score, _ := AudienceFitScore("unknown-cluster", "quiet local news", 0)
	if score != 0.5 {
		t.Errorf("unknown cluster fit = %v, want 0.5", score)
	}

	score, _ = AudienceFitScore("applied-industry", "AI startup tech trend", 2)
	want := 0.6 + 4*0.03 + 2*0.02
	if math.Abs(score-want) > 1e-9 {
		t.Errorf("boosted fit = %v, want %v", score, want)
	}

	// Keyword boost caps at 0.15 and entity boost at 0.10.
	score, _ = AudienceFitScore("culture-music",
		"ai startup tech innovation trend breakthrough revolutionary", 20)
	want = 0.7 + 0.15 + 0.10
	if math.Abs(score-want) > 1e-9 {
		t.Errorf("capped fit = %v, want %v", score, want)
	}

	// Total caps at 1.
	score, _ = AudienceFitScore("ai-infra",
		"ai startup tech innovation trend breakthrough", 10)
	if score != 1 {
		t.Errorf("fit over cap = %v, want 1", score)
	}
}
