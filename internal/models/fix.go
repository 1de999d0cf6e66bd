package models

import "time"

// FixOrigin records how a fix was applied.
type FixOrigin string

const (
	FixOriginManual   FixOrigin = "manual"
	FixOriginBulkAuto FixOrigin = "bulk-auto"
)

// FixRecord is one append-only audit entry for an applied remedy. The
// current fix state of an issue is its latest FixRecord, if any.
type FixRecord struct {
	ID          string
	SessionID   string
	IssueID     string
	AppliedText string
	Origin      FixOrigin
	AppliedAt   time.Time
}
