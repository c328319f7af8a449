package app

import (
	"math"
	"time"

	"quiz-coordinator/internal/domain"
)

// ScoringPolicy holds the adjudication constants.
type ScoringPolicy struct {
	// BasePoints is used for questions that do not set their own points.
	BasePoints int
	// FloorFactor is the fraction of base points a correct answer earns at the time limit.
	FloorFactor float64
	// DefaultTimeLimit applies to questions without a time limit.
	DefaultTimeLimit time.Duration
}

// DefaultScoringPolicy is 100 points decaying linearly to 50 over a 30s limit.
func DefaultScoringPolicy() ScoringPolicy {
	return ScoringPolicy{BasePoints: 100, FloorFactor: 0.5, DefaultTimeLimit: 30 * time.Second}
}

// TimeLimit returns the effective limit for q in seconds.
func (p ScoringPolicy) TimeLimit(q domain.Question) float64 {
	if q.TimeLimitSeconds > 0 {
		return float64(q.TimeLimitSeconds)
	}
	if p.DefaultTimeLimit > 0 {
		return p.DefaultTimeLimit.Seconds()
	}
	return 30
}

// ClampTime bounds a client-reported duration to [0, limit].
func (p ScoringPolicy) ClampTime(q domain.Question, taken float64) float64 {
	limit := p.TimeLimit(q)
	if math.IsNaN(taken) || taken < 0 {
		return 0
	}
	if taken > limit {
		return limit
	}
	return taken
}

// SpeedFactor decays linearly from 1 at t=0 to FloorFactor at the limit.
// It is non-increasing in taken and never negative.
func (p ScoringPolicy) SpeedFactor(q domain.Question, taken float64) float64 {
	floor := p.FloorFactor
	if floor < 0 {
		floor = 0
	}
	if floor > 1 {
		floor = 1
	}
	limit := p.TimeLimit(q)
	t := p.ClampTime(q, taken)
	return 1 - (1-floor)*(t/limit)
}

// Points scores one correct answer.
func (p ScoringPolicy) Points(q domain.Question, taken float64) int {
	base := q.Points
	if base <= 0 {
		base = p.BasePoints
	}
	if base <= 0 {
		base = 1
	}
	return int(math.Round(float64(base) * p.SpeedFactor(q, taken)))
}

// Adjudicate decides correctness and points for a single answer. A nil answer is a timeout.
func (p ScoringPolicy) Adjudicate(q domain.Question, answer *string, taken float64) (bool, int) {
	if answer == nil {
		return false, 0
	}
	if !q.Matches(*answer) {
		return false, 0
	}
	return true, p.Points(q, taken)
}
