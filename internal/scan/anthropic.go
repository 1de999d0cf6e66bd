package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tlarkin/revu/internal/models"
)

// Client wraps the Anthropic API as both Scanner and Scorer.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates a scan client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// buildScanPrompt constructs the system and user prompts for a document scan.
func buildScanPrompt(doc *models.Document) (system string, user string) {
	system = `You review CV/resume documents and report defects. Return ONLY a JSON object with these fields:
- "score": overall document quality, integer 0-100
- "issues": array of objects, each with:
  - "severity": one of "critical", "important", "consider", "polish"
  - "category": short free-form tag (e.g. "impact", "formatting", "wording", "structure")
  - "location_hint": human-readable description of where the issue is ("Experience section, second bullet")
  - "current_text": the exact text from the document the issue refers to, or empty string for general feedback
  - "suggested_fix": replacement text, or empty string when no concrete rewrite applies
  - "fix_difficulty": one of "quick", "medium", "complex"

Rules:
- "current_text" must be copied verbatim from the document when present, never paraphrased
- General document-wide feedback uses an empty "current_text"
- Order issues most severe first
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	sb.WriteString("Review this document:\n\n")
	sb.WriteString(doc.Text)
	user = sb.String()
	return
}

// Scan sends the document to the LLM and returns detected issues plus an
// initial score.
func (c *Client) Scan(ctx context.Context, doc *models.Document) (*Result, error) {
	systemPrompt, userPrompt := buildScanPrompt(doc)

	text, err := c.complete(ctx, systemPrompt, userPrompt, 4096)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Score  int             `json:"score"`
		Issues []DetectedIssue `json:"issues"`
	}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, fmt.Errorf("parse scan response as JSON: %w\nraw response: %s", err, text)
	}

	return &Result{Issues: parsed.Issues, Score: clampScore(parsed.Score)}, nil
}

// buildScorePrompt constructs the prompts for score recomputation.
func buildScorePrompt(doc *models.Document, fixes []*models.FixRecord) (system string, user string) {
	system = `You rate CV/resume quality. Given the original document text and the list of fixes the user has applied, return ONLY a JSON object: {"score": <integer 0-100>}.

Rules:
- Score the document as it would read with all listed fixes applied
- More applied fixes never lowers the score below what the unfixed document would rate
- Be consistent: the same document and fix list must always produce the same score
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	sb.WriteString("Document:\n\n")
	sb.WriteString(doc.Text)
	sb.WriteString("\n\nApplied fixes:\n")
	if len(fixes) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, f := range fixes {
		sb.WriteString("- ")
		sb.WriteString(f.AppliedText)
		sb.WriteString("\n")
	}
	user = sb.String()
	return
}

// Score asks the LLM to re-rate the document given the applied fixes.
func (c *Client) Score(ctx context.Context, doc *models.Document, fixes []*models.FixRecord) (int, error) {
	systemPrompt, userPrompt := buildScorePrompt(doc, fixes)

	text, err := c.complete(ctx, systemPrompt, userPrompt, 256)
	if err != nil {
		return 0, err
	}

	var parsed struct {
		Score int `json:"score"`
	}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return 0, fmt.Errorf("parse score response as JSON: %w\nraw response: %s", err, text)
	}
	return clampScore(parsed.Score), nil
}

// complete runs one messages call and returns the stripped text content.
func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int64) (string, error) {
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	// Extract text from response
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return "", fmt.Errorf("no text content in API response")
	}

	// Strip markdown fencing if present
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text, nil
}

func clampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
