package rank

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidConfig is returned by New when a Config field is out of range.
	ErrInvalidConfig = errors.New("rank: invalid config")

	// ErrNotInitialized is returned when scores are requested before BuildGraph.
	// It keeps an unbuilt engine distinguishable from an empty ranking.
	ErrNotInitialized = errors.New("rank: engine not initialized, call BuildGraph first")

	// ErrInvalidSnapshot is returned by Restore for an inconsistent snapshot.
	ErrInvalidSnapshot = errors.New("rank: invalid snapshot")
)

// Config holds the PageRank and personalization parameters.
type Config struct {
	// Damping is the probability of following an edge rather than restarting
	// from the personalization vector (default: 0.85). Must be in (0,1].
	Damping float64 `yaml:"damping" json:"damping"`

	// MaxIter bounds the power iteration (default: 100).
	MaxIter int `yaml:"max_iter" json:"max_iter"`

	// Tol is the L1 convergence threshold between iterations (default: 1e-6).
	Tol float64 `yaml:"tol" json:"tol"`

	// Personalization feature weights (default: 1.0 each).
	RecencyWeight   float64 `yaml:"recency_weight" json:"recency_weight"`
	EmotionWeight   float64 `yaml:"emotion_weight" json:"emotion_weight"`
	FrequencyWeight float64 `yaml:"frequency_weight" json:"frequency_weight"`

	// LocalWeightBoost multiplies the weight of edges the Locality classifier
	// reports as local (default: 1.0, no boost).
	LocalWeightBoost float64 `yaml:"local_weight_boost" json:"local_weight_boost"`

	// Locality decides which edges receive LocalWeightBoost. Nil means AllLocal.
	Locality LocalityClassifier `yaml:"-" json:"-"`
}

// DefaultConfig returns a Config with the default values.
func DefaultConfig() Config {
	return Config{
		Damping:          0.85,
		MaxIter:          100,
		Tol:              1e-6,
		RecencyWeight:    1.0,
		EmotionWeight:    1.0,
		FrequencyWeight:  1.0,
		LocalWeightBoost: 1.0,
	}
}

// Validate reports the first out-of-range field.
func (c Config) Validate() error {
	if !(c.Damping > 0 && c.Damping <= 1) {
		return fmt.Errorf("%w: damping must be in (0,1], got %v", ErrInvalidConfig, c.Damping)
	}
	if c.MaxIter < 1 {
		return fmt.Errorf("%w: max_iter must be at least 1, got %d", ErrInvalidConfig, c.MaxIter)
	}
	if !finiteNonNegative(c.Tol) {
		return fmt.Errorf("%w: tol must be a finite non-negative number, got %v", ErrInvalidConfig, c.Tol)
	}
	weights := []struct {
		name  string
		value float64
	}{
		{"recency_weight", c.RecencyWeight},
		{"emotion_weight", c.EmotionWeight},
		{"frequency_weight", c.FrequencyWeight},
	}
	for _, w := range weights {
		if !finiteNonNegative(w.value) {
			return fmt.Errorf("%w: %s must be a finite non-negative number, got %v", ErrInvalidConfig, w.name, w.value)
		}
	}
	if !(c.LocalWeightBoost >= 1) || math.IsInf(c.LocalWeightBoost, 0) {
		return fmt.Errorf("%w: local_weight_boost must be finite and >= 1, got %v", ErrInvalidConfig, c.LocalWeightBoost)
	}
	return nil
}

func finiteNonNegative(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
