package scoring

import (
	"errors"
	"fmt"
)

// ErrInvalidWeights is returned when a weights configuration violates the
// sum or sign invariants. Callers must not persist anything on this error.
var ErrInvalidWeights = errors.New("invalid weights")

// Weights is one version of the scoring configuration. Versions are
// append-only; the active configuration is the most recently created one.
type Weights struct {
	Recency          float64 `json:"recency"`
	Velocity         float64 `json:"velocity"`
	AudienceFit      float64 `json:"audience_fit"`
	IntegrityPenalty float64 `json:"integrity_penalty"`
}

// WeightsUpdate is a partial update; nil fields keep the current value.
type WeightsUpdate struct {
	Recency          *float64 `json:"recency"`
	Velocity         *float64 `json:"velocity"`
	AudienceFit      *float64 `json:"audience_fit"`
	IntegrityPenalty *float64 `json:"integrity_penalty"`
}

// DefaultWeights is the configuration used before any manual override has
// been recorded, and the snapshot attached to default zero scores.
func DefaultWeights() Weights {
	return Weights{Recency: 0.3, Velocity: 0.4, AudienceFit: 0.3}
}

// Merge applies a partial update on top of the current weights and validates
// the result. The merged configuration is returned so the caller can persist
// it as a new version.
func Merge(current Weights, update WeightsUpdate) (Weights, error) {
	merged := current
	if update.Recency != nil {
		merged.Recency = *update.Recency
	}
	if update.Velocity != nil {
		merged.Velocity = *update.Velocity
	}
	if update.AudienceFit != nil {
		merged.AudienceFit = *update.AudienceFit
	}
	if update.IntegrityPenalty != nil {
		merged.IntegrityPenalty = *update.IntegrityPenalty
	}
	if err := merged.Validate(); err != nil {
		return Weights{}, err
	}
	return merged, nil
}

// Validate enforces the weight invariants: each positive component in
// [0, 1], their sum in [0.95, 1.05], and a non-positive integrity penalty.
func (w Weights) Validate() error {
	for name, value := range map[string]float64{
		"recency":      w.Recency,
		"velocity":     w.Velocity,
		"audience_fit": w.AudienceFit,
	} {
		if value < 0 || value > 1 {
			return fmt.Errorf("%w: %s must be in [0, 1], got %.3f", ErrInvalidWeights, name, value)
		}
	}
	sum := w.Recency + w.Velocity + w.AudienceFit
	if sum < 0.95 || sum > 1.05 {
		return fmt.Errorf("%w: recency+velocity+audience_fit must be in [0.95, 1.05], got %.3f", ErrInvalidWeights, sum)
	}
	if w.IntegrityPenalty > 0 {
		return fmt.Errorf("%w: integrity_penalty must be <= 0, got %.3f", ErrInvalidWeights, w.IntegrityPenalty)
	}
	return nil
}
