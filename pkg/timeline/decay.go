package timeline

import "math"

// decayMultiplier computes exp(-ln2/halfLife * age).
//   - Returns 1.0 for negative ages (events in the future do not decay)
//   - halfLife is validated positive at construction
func decayMultiplier(age, halfLife float64) float64 {
	if age <= 0 {
		return 1.0
	}
	lambda := math.Ln2 / halfLife
	return math.Exp(-lambda * age)
}

// ImportanceScores returns Importance decayed by age relative to tNow, keyed by event ID.
func (s *Store) ImportanceScores(tNow float64) map[string]float64 {
	scores := make(map[string]float64, len(s.events))
	for _, ev := range s.events {
		scores[ev.ID] = ev.Importance * decayMultiplier(tNow-ev.Timestamp, s.cfg.RecencyHalfLife)
	}
	return scores
}

// RecencyScores is ImportanceScores with every base importance fixed at 1.0,
// giving a pure recency signal in (0,1].
func (s *Store) RecencyScores(tNow float64) map[string]float64 {
	scores := make(map[string]float64, len(s.events))
	for _, ev := range s.events {
		scores[ev.ID] = decayMultiplier(tNow-ev.Timestamp, s.cfg.RecencyHalfLife)
	}
	return scores
}

// ImportanceScoresNow calls ImportanceScores with the store clock.
func (s *Store) ImportanceScoresNow() map[string]float64 {
	return s.ImportanceScores(s.nowSeconds())
}

// RecencyScoresNow calls RecencyScores with the store clock.
func (s *Store) RecencyScoresNow() map[string]float64 {
	return s.RecencyScores(s.nowSeconds())
}

func (s *Store) nowSeconds() float64 {
	return float64(s.now().UnixNano()) / 1e9
}
