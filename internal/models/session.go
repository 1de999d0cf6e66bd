package models

import "time"

// Service identifies which review product a session belongs to.
type Service string

const (
	ServiceCVReview    Service = "cv-review"
	ServiceCoverLetter Service = "cover-letter"
)

// Valid reports whether the service names a known review product.
func (s Service) Valid() bool {
	return s == ServiceCVReview || s == ServiceCoverLetter
}

// SessionStatus represents the lifecycle state of a review session.
type SessionStatus string

const (
	SessionStatusPending  SessionStatus = "pending"
	SessionStatusScanning SessionStatus = "scanning"
	SessionStatusScanned  SessionStatus = "scanned"
	SessionStatusFixing   SessionStatus = "fixing"
	SessionStatusArchived SessionStatus = "archived"
)

// IsTerminal reports whether the status is the archived terminal state.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusArchived
}

// ReviewSession represents one document review from start through archiving.
// For a given (OwnerID, Service) pair at most one session is non-archived
// at any time; the lifecycle manager enforces this.
type ReviewSession struct {
	ID          string
	OwnerID     string
	Service     Service
	DocumentRef string
	Status      SessionStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ArchivedAt  *time.Time
}

// Active reports whether the session still holds its (owner, service) slot.
func (rs *ReviewSession) Active() bool {
	return !rs.Status.IsTerminal()
}
