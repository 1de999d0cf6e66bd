package models

import "time"

// Severity represents how serious a detected issue is, highest first.
type Severity string

const (
	SeverityCritical  Severity = "critical"
	SeverityImportant Severity = "important"
	SeverityConsider  Severity = "consider"
	SeverityPolish    Severity = "polish"
)

// Severities lists all severities in descending priority order.
var Severities = []Severity{SeverityCritical, SeverityImportant, SeverityConsider, SeverityPolish}

// Rank returns the sort rank of a severity (0 = critical). Unknown
// severities sort last.
func (s Severity) Rank() int {
	for i, sev := range Severities {
		if s == sev {
			return i
		}
	}
	return len(Severities)
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s.Rank() < len(Severities)
}

// FixDifficulty represents how involved applying a fix is.
type FixDifficulty string

const (
	FixDifficultyQuick   FixDifficulty = "quick"
	FixDifficultyMedium  FixDifficulty = "medium"
	FixDifficultyComplex FixDifficulty = "complex"
)

// Issue is one defect detected by a scan. Issues are immutable once
// created; applying a fix appends a FixRecord rather than mutating the
// issue itself.
type Issue struct {
	ID              string
	SessionID       string
	Severity        Severity
	Category        string
	LocationHint    string
	CurrentText     string // verbatim excerpt from the document, may be empty
	SuggestedFix    string // replacement text, may be empty
	FixDifficulty   FixDifficulty
	IsHighlightable bool // whether CurrentText could be spatially located
	CreatedAt       time.Time
}
