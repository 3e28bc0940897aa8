package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/herald/internal/llm"
)

const reviewTimeout = 45 * time.Second

// reviewUnavailableScore is the synthetic brand score stamped on a draft
// when the reviewer itself failed. Low enough to flag, never blocking.
const reviewUnavailableScore = 0.3

// Review is the structured verdict of the brand reviewer.
type Review struct {
	Score       float64  `json:"score"`
	Approved    bool     `json:"approved"`
	RedFlags    []string `json:"red_flags"`
	Suggestions []string `json:"suggestions"`
}

// Reviewer checks drafts against the brand and rewrites flagged ones.
type Reviewer struct {
	client  llm.Client
	timeout time.Duration
}

// NewReviewer creates a Reviewer over the given client.
func NewReviewer(client llm.Client) *Reviewer {
	return &Reviewer{client: client, timeout: reviewTimeout}
}

const reviewSystemPrompt = `You review social posts for a crypto wallet brand before publication. Judge voice fit, factual safety, and tone. Respond with JSON only: {"score": 0.0-1.0, "approved": bool, "red_flags": [..], "suggestions": [..]}. Approve anything publishable; red_flags are for genuine problems, not polish.`

// Review scores the draft. Any failure or malformed response surfaces as an
// error for the caller to absorb.
func (r *Reviewer) Review(ctx context.Context, body []string, sourceContext string) (Review, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	messages := []llm.Message{
		{Role: "system", Content: reviewSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Source: %s\n\nDraft:\n%s", sourceContext, strings.Join(body, "\n---\n"))},
	}

	raw, err := r.client.Chat(ctx, messages, reviewSchema())
	if err != nil {
		return Review{}, fmt.Errorf("brand review call: %w", err)
	}

	review, err := parseReview(raw)
	if err != nil {
		return Review{}, fmt.Errorf("brand review response: %w", err)
	}
	return review, nil
}

const improveSystemPrompt = `You rewrite social posts to address reviewer feedback while keeping the original intent and voice. Write only the revised post text. For a multi-part thread, separate parts with a line containing exactly "---".`

// Improve rewrites the draft once against the review's flags and
// suggestions. No convergence loop: one pass, take the result.
func (r *Reviewer) Improve(ctx context.Context, body []string, review Review) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var sb strings.Builder
	sb.WriteString("Draft:\n" + strings.Join(body, "\n---\n") + "\n\n")
	if len(review.RedFlags) > 0 {
		sb.WriteString("Problems:\n")
		for _, f := range review.RedFlags {
			sb.WriteString("- " + f + "\n")
		}
	}
	if len(review.Suggestions) > 0 {
		sb.WriteString("Suggestions:\n")
		for _, s := range review.Suggestions {
			sb.WriteString("- " + s + "\n")
		}
	}

	raw, err := r.client.Chat(ctx, []llm.Message{
		{Role: "system", Content: improveSystemPrompt},
		{Role: "user", Content: sb.String()},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("improve call: %w", err)
	}

	parsed := parseOutput(raw)
	if parsed.Skip || len(parsed.Parts) == 0 {
		return nil, fmt.Errorf("improve pass returned no content")
	}
	return parsed.Parts, nil
}

func reviewSchema() *llm.Schema {
	return &llm.Schema{
		Type: "object",
		Properties: map[string]llm.SchemaProperty{
			"score":       {Type: "number", Description: "Brand fit, 0.0 to 1.0"},
			"approved":    {Type: "boolean", Description: "Whether the draft is publishable as-is"},
			"red_flags":   {Type: "array", Description: "Genuine problems blocking approval"},
			"suggestions": {Type: "array", Description: "Concrete rewrite suggestions"},
		},
		Required: []string{"score", "approved", "red_flags", "suggestions"},
	}
}

func parseReview(raw string) (Review, error) {
	s := strings.TrimSpace(raw)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return Review{}, fmt.Errorf("no JSON object in response")
	}

	var review Review
	if err := json.Unmarshal([]byte(s[start:end+1]), &review); err != nil {
		return Review{}, fmt.Errorf("unmarshal review: %w", err)
	}
	if review.Score < 0 || review.Score > 1 {
		return Review{}, fmt.Errorf("review score out of range: %v", review.Score)
	}
	return review, nil
}
