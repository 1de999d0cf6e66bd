package spans

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlarkin/revu/internal/models"
)

const doc = "Senior Engineer\n\nResponsible for  the backend.\nTeam player with attention to detail."

func issueWith(text string) *models.Issue {
	return &models.Issue{ID: "iss-1", CurrentText: text}
}

func TestMapIssue_Exact(t *testing.T) {
	span := MapIssue(doc, issueWith("Team player"))

	assert.Equal(t, MatchExact, span.Confidence)
	assert.True(t, span.Matched())
	assert.Equal(t, "Team player", doc[span.Start:span.End])
}

func TestMapIssue_ExactFirstOccurrence(t *testing.T) {
	text := "good work and good pay"
	span := MapIssue(text, issueWith("good"))

	require.Equal(t, MatchExact, span.Confidence)
	assert.Equal(t, 0, span.Start, "leftmost occurrence wins")
}

func TestMapIssue_Normalized(t *testing.T) {
	// Different case and collapsed whitespace still match via tier 2.
	span := MapIssue(doc, issueWith("responsible for the backend"))

	require.Equal(t, MatchNormalized, span.Confidence)
	assert.Equal(t, "Responsible for  the backend", doc[span.Start:span.End])
}

func TestMapIssue_NormalizedAcrossNewline(t *testing.T) {
	span := MapIssue(doc, issueWith("the backend. Team player"))

	require.Equal(t, MatchNormalized, span.Confidence)
	assert.Equal(t, "the backend.\nTeam player", doc[span.Start:span.End])
}

func TestMapIssue_Unmatched(t *testing.T) {
	span := MapIssue(doc, issueWith("completely absent text"))

	assert.Equal(t, MatchUnmatched, span.Confidence)
	assert.False(t, span.Matched())
	assert.Equal(t, -1, span.Start)
	assert.Equal(t, -1, span.End)
}

func TestMapIssue_EmptyExcerpt(t *testing.T) {
	span := MapIssue(doc, issueWith(""))
	assert.Equal(t, MatchUnmatched, span.Confidence)

	span = MapIssue(doc, issueWith("   \n\t"))
	assert.Equal(t, MatchUnmatched, span.Confidence, "whitespace-only excerpt never matches")
}

func TestMapIssue_Deterministic(t *testing.T) {
	issue := issueWith("attention to detail")
	first := MapIssue(doc, issue)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, MapIssue(doc, issue))
	}
}

func TestMapIssue_Unicode(t *testing.T) {
	text := "Führte ein Team von fünf Entwicklern"
	span := MapIssue(text, issueWith("führte ein team"))

	require.Equal(t, MatchNormalized, span.Confidence)
	assert.Equal(t, "Führte ein Team", text[span.Start:span.End])
}

func TestMapIssues_OverlapsRetained(t *testing.T) {
	issues := []*models.Issue{
		{ID: "a", CurrentText: "Responsible for  the backend"},
		{ID: "b", CurrentText: "the backend"},
		{ID: "c", CurrentText: "no such excerpt"},
	}
	spansOut := MapIssues(doc, issues)
	require.Len(t, spansOut, 3)

	assert.Equal(t, "a", spansOut[0].IssueID)
	assert.True(t, spansOut[0].Overlaps(spansOut[1]), "overlapping spans are both kept")
	assert.False(t, spansOut[0].Overlaps(spansOut[2]), "unmatched spans never overlap")
	assert.Equal(t, MatchUnmatched, spansOut[2].Confidence)
}

func TestOverlaps(t *testing.T) {
	a := TextSpan{Start: 0, End: 10, Confidence: MatchExact}
	b := TextSpan{Start: 9, End: 15, Confidence: MatchExact}
	c := TextSpan{Start: 10, End: 20, Confidence: MatchExact}

	assert.True(t, a.Overlaps(b))
	assert.True(t, b.Overlaps(a))
	assert.False(t, a.Overlaps(c), "touching spans do not overlap")
}
