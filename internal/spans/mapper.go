// Package spans locates issue excerpts inside the canonical document text.
// Mapping is a pure function of (document text, issue): the same inputs
// always produce the same offsets. Matching is a two-tier strategy (exact
// substring first, then whitespace/case-normalized) and failures are
// signaled explicitly with the unmatched confidence rather than silently
// degraded.
package spans

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tlarkin/revu/internal/models"
)

// MatchConfidence tags how a span was located.
type MatchConfidence string

const (
	MatchExact      MatchConfidence = "exact"
	MatchNormalized MatchConfidence = "normalized"
	MatchUnmatched  MatchConfidence = "unmatched"
)

// TextSpan is the character-offset location of an issue's excerpt inside
// the document. Offsets are byte offsets into the canonical text. Unmatched
// spans carry -1 offsets and must not be highlighted.
type TextSpan struct {
	IssueID    string
	Start      int
	End        int
	Confidence MatchConfidence
}

// Matched reports whether the span points at actual document text.
func (s TextSpan) Matched() bool {
	return s.Confidence != MatchUnmatched
}

// Overlaps reports whether two matched spans cover overlapping text.
// Overlapping spans are both retained; render precedence is a presentation
// concern and is not resolved here.
func (s TextSpan) Overlaps(other TextSpan) bool {
	if !s.Matched() || !other.Matched() {
		return false
	}
	return s.Start < other.End && other.Start < s.End
}

// MapIssue locates issue.CurrentText inside documentText. Issues without
// an excerpt, and excerpts that cannot be found even after normalization,
// map to an unmatched span.
func MapIssue(documentText string, issue *models.Issue) TextSpan {
	span := TextSpan{IssueID: issue.ID, Start: -1, End: -1, Confidence: MatchUnmatched}
	if issue.CurrentText == "" {
		return span
	}

	// Tier 1: exact substring
	if idx := strings.Index(documentText, issue.CurrentText); idx >= 0 {
		span.Start = idx
		span.End = idx + len(issue.CurrentText)
		span.Confidence = MatchExact
		return span
	}

	// Tier 2: whitespace/case-normalized match mapped back to original offsets
	normDoc, starts, ends := normalizeWithOffsets(documentText)
	normFrag, _, _ := normalizeWithOffsets(issue.CurrentText)
	if normFrag == "" {
		return span
	}
	if idx := strings.Index(normDoc, normFrag); idx >= 0 {
		span.Start = starts[idx]
		span.End = ends[idx+len(normFrag)-1]
		span.Confidence = MatchNormalized
		return span
	}

	return span
}

// MapIssues maps every issue of a session onto the document. Overlapping
// spans are all returned; callers decide precedence.
func MapIssues(documentText string, issues []*models.Issue) []TextSpan {
	result := make([]TextSpan, 0, len(issues))
	for _, issue := range issues {
		result = append(result, MapIssue(documentText, issue))
	}
	return result
}

// normalizeWithOffsets lowercases the text and collapses whitespace runs to
// a single space, returning the normalized string plus, per normalized
// byte, the original start offset and original end offset of the source
// rune it came from.
func normalizeWithOffsets(s string) (string, []int, []int) {
	var out []byte
	var starts, ends []int
	pendingSpace := false
	spaceStart := -1

	for i, r := range s {
		size := utf8.RuneLen(r)
		if unicode.IsSpace(r) {
			if len(out) > 0 {
				pendingSpace = true
				if spaceStart < 0 {
					spaceStart = i
				}
			}
			continue
		}
		if pendingSpace {
			out = append(out, ' ')
			starts = append(starts, spaceStart)
			ends = append(ends, i)
			pendingSpace = false
			spaceStart = -1
		}
		lower := unicode.ToLower(r)
		var buf [utf8.UTFMax]byte
		n := utf8.EncodeRune(buf[:], lower)
		for j := 0; j < n; j++ {
			out = append(out, buf[j])
			starts = append(starts, i)
			ends = append(ends, i+size)
		}
	}
	return string(out), starts, ends
}
