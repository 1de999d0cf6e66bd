package models

import "time"

// AuditEvent names a lifecycle transition recorded in the audit trail.
type AuditEvent string

const (
	AuditEventCreated     AuditEvent = "created"
	AuditEventScanStarted AuditEvent = "scan_started"
	AuditEventScanned     AuditEvent = "scanned"
	AuditEventScanFailed  AuditEvent = "scan_failed"
	AuditEventFixApplied  AuditEvent = "fix_applied"
	AuditEventBulkFix     AuditEvent = "bulk_fix"
	AuditEventArchived    AuditEvent = "archived"
	AuditEventReplaced    AuditEvent = "replaced"
)

// AuditEntry is one append-only record of a session lifecycle event.
// Repeated archive calls on an already-archived session write no new
// entry, so the trail never contains duplicate archive events.
type AuditEntry struct {
	ID        string
	SessionID string
	Event     AuditEvent
	Detail    string
	At        time.Time
}
