package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Per-platform engagement ceilings used for log normalization when no
// within-platform cohort is available.
var platformMaxEngagement = map[string]int{
	"reddit":     1000,
	"hackernews": 500,
	"rss":        0,
	"manual":     0,
}

// Cluster base scores for the keyword-based audience fit path.
var clusterAudienceScores = map[string]float64{
	"ai-infra":               0.9,
	"business-socioeconomic": 0.85,
	"culture-music":          0.7,
	"applied-industry":       0.6,
}

var trendyKeywords = []string{
	"ai", "artificial intelligence", "startup", "tech", "innovation",
	"trend", "breakthrough", "revolutionary", "disrupt", "unicorn",
	"funding", "series", "raise", "ipo",
}

const recencyHalfLifeHours = 24.0

// RecencyScore computes exponential time decay with a 24-hour half-life.
// Missing or future timestamps score as brand new.
func RecencyScore(createdAt time.Time, now time.Time) (float64, string) {
	if createdAt.IsZero() || createdAt.After(now) {
		createdAt = now
	}
	hoursOld := now.Sub(createdAt).Hours()
	if hoursOld < 0 {
		hoursOld = 0
	}

	decayRate := math.Ln2 / recencyHalfLifeHours
	recency := math.Exp(-decayRate * hoursOld)
	recency = math.Max(0, math.Min(1, recency))

	var reasoning string
	switch {
	case hoursOld < 1:
		reasoning = fmt.Sprintf("Published %d minutes ago (very recent)", int(hoursOld*60))
	case hoursOld < 24:
		reasoning = fmt.Sprintf("Published %.1f hours ago", hoursOld)
	default:
		reasoning = fmt.Sprintf("Published %.1f days ago (recency: %.2f)", hoursOld/24, recency)
	}
	return recency, reasoning
}

// Engagement extracts a single engagement number from a platform's raw
// payload. Comments count for a tenth of a point each; negative scores
// floor at zero. Platforms without engagement metrics report zero.
func Engagement(platform string, payload map[string]any) int {
	switch platform {
	case "reddit":
		score := payloadInt(payload, "score")
		comments := payloadInt(payload, "num_comments")
		return maxInt(0, score+comments/10)
	case "hackernews":
		score := payloadInt(payload, "score")
		comments := payloadInt(payload, "descendants")
		return maxInt(0, score+comments/10)
	default:
		return 0
	}
}

// VelocityScore normalizes engagement to [0, 1]. With a cohort of at least
// two same-platform engagement values it uses the percentile rank within
// that cohort; otherwise it falls back to log normalization against the
// platform ceiling.
func VelocityScore(platform string, engagement int, cohort []int) (float64, string) {
	if engagement <= 0 {
		return 0, "No engagement metrics available"
	}

	if len(cohort) > 1 {
		sorted := append([]int(nil), cohort...)
		sort.Ints(sorted)
		rank := 0
		for _, e := range sorted {
			if e < engagement {
				rank++
			}
		}
		percentile := float64(rank) / float64(len(sorted)-1) * 100
		if percentile > 100 {
			percentile = 100
		}
		return percentile / 100, fmt.Sprintf("Ranked in %.1fth percentile for %s engagement (%d points)", percentile, platform, engagement)
	}

	maxEngagement, ok := platformMaxEngagement[platform]
	if !ok {
		maxEngagement = 100
	}
	if maxEngagement <= 0 {
		return 0, fmt.Sprintf("%s platform has no engagement metrics", platform)
	}
	normalized := math.Log10(float64(engagement)+1) / math.Log10(float64(maxEngagement)+1)
	velocity := math.Min(1, normalized)
	return velocity, fmt.Sprintf("Normalized engagement: %d/%d = %.2f", engagement, maxEngagement, velocity)
}

// AudienceFitScore is the deterministic keyword-based fit estimate: cluster
// base score plus capped boosts for trendy title keywords and detected
// entities.
func AudienceFitScore(cluster, title string, entityCount int) (float64, string) {
	base, ok := clusterAudienceScores[cluster]
	if !ok {
		base = 0.5
	}

	titleLower := strings.ToLower(title)
	var matches []string
	for _, kw := range trendyKeywords {
		if strings.Contains(titleLower, kw) {
			matches = append(matches, kw)
		}
	}
	keywordBoost := math.Min(0.15, float64(len(matches))*0.03)
	entityBoost := math.Min(0.10, float64(entityCount)*0.02)

	score := math.Min(1, base+keywordBoost+entityBoost)

	reasons := []string{fmt.Sprintf("Cluster: %s (base: %.2f)", cluster, base)}
	if len(matches) > 0 {
		shown := matches
		if len(shown) > 3 {
			shown = shown[:3]
		}
		reasons = append(reasons, "Trendy keywords: "+strings.Join(shown, ", "))
	}
	if entityCount > 0 {
		reasons = append(reasons, fmt.Sprintf("Entities detected: %d", entityCount))
	}
	return score, strings.Join(reasons, " | ")
}

func payloadInt(payload map[string]any, key string) int {
	if payload == nil {
		return 0
	}
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
