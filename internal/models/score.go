package models

import "time"

// SeverityCounts breaks down issue counts per severity tier.
type SeverityCounts struct {
	Critical  int `json:"critical"`
	Important int `json:"important"`
	Consider  int `json:"consider"`
	Polish    int `json:"polish"`
}

// Total returns the sum across all tiers.
func (c SeverityCounts) Total() int {
	return c.Critical + c.Important + c.Consider + c.Polish
}

// Get returns the counter for the given severity.
func (c SeverityCounts) Get(s Severity) int {
	switch s {
	case SeverityCritical:
		return c.Critical
	case SeverityImportant:
		return c.Important
	case SeverityConsider:
		return c.Consider
	case SeverityPolish:
		return c.Polish
	}
	return 0
}

// Add increments the counter for the given severity.
func (c *SeverityCounts) Add(s Severity) {
	switch s {
	case SeverityCritical:
		c.Critical++
	case SeverityImportant:
		c.Important++
	case SeverityConsider:
		c.Consider++
	case SeverityPolish:
		c.Polish++
	}
}

// ScoreSnapshot is a point-in-time quality score for a session. Snapshots
// are append-only; the session exposes only the latest.
type ScoreSnapshot struct {
	ID            string
	SessionID     string
	Score         int // 0-100
	PreviousScore *int
	Breakdown     SeverityCounts
	TakenAt       time.Time
}
