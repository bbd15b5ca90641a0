// Package scoring implements the composite topic score: weighted positive
// components plus an additive integrity penalty, and the coarse risk bucket
// derived from that penalty.
package scoring

// Components holds the per-run score components for a topic.
type Components struct {
	Recency          float64 `json:"recency"`
	Velocity         float64 `json:"velocity"`
	AudienceFit      float64 `json:"audience_fit"`
	IntegrityPenalty float64 `json:"integrity_penalty"`
}

// RiskLevel is the coarse integrity bucket shown to reviewers.
type RiskLevel string

const (
	RiskNone   RiskLevel = "none"
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ComputeRisk maps an integrity penalty to a risk level. A penalty of -0.15
// or better is not flagged at all.
func ComputeRisk(integrityPenalty float64) RiskLevel {
	if integrityPenalty >= -0.15 {
		return RiskNone
	}
	if integrityPenalty < -0.30 {
		return RiskHigh
	}
	if integrityPenalty < -0.20 {
		return RiskMedium
	}
	return RiskLow
}

// Composite combines components under the given weights. The integrity
// penalty is added raw, never weighted: it is a structural override rather
// than a tunable component. The result is clamped to [0, 1].
func Composite(c Components, w Weights) float64 {
	score := c.Recency*w.Recency +
		c.Velocity*w.Velocity +
		c.AudienceFit*w.AudienceFit +
		c.IntegrityPenalty
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
