package models

import "time"

// Document holds the canonical extracted text of an uploaded document.
// Extraction (PDF/DOCX parsing) happens upstream; the engine only ever
// sees plain text. Ref is the opaque documentRef handed around by the
// lifecycle manager and the scanner.
type Document struct {
	Ref       string
	OwnerID   string
	Filename  string
	Text      string
	CreatedAt time.Time
}
