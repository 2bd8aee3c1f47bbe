package mechanism

import "log/slog"

// StallConfig defines when a run stops making progress.
type StallConfig struct {
	// Patience is the number of consecutive floored line searches tolerated.
	Patience int
}

// StallTracker counts consecutive iterations whose line search hit the step
// floor.
type StallTracker struct {
	config     StallConfig
	staleCount int
}

// NewStallTracker creates a tracker with the given config.
func NewStallTracker(config StallConfig) *StallTracker {
	return &StallTracker{config: config}
}

// Update records one iteration and reports whether the run has stalled.
func (s *StallTracker) Update(primal float64, floored bool) bool {
	if !floored {
		s.staleCount = 0
		return false
	}

	s.staleCount++
	slog.Debug("Line search reached step floor",
		"primal", primal,
		"stale_count", s.staleCount,
		"patience", s.config.Patience,
	)
	return s.staleCount >= s.config.Patience
}
