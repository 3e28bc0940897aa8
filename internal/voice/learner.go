package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/herald/internal/llm"
)

// ErrLearnFailed means the analysis collaborator failed or returned
// malformed data. Callers continue with whatever profile is already
// persisted (or the built-in default); learning never aborts a run.
var ErrLearnFailed = errors.New("voice learning failed")

const learnTimeout = 60 * time.Second

// Samples bundles the raw content the learner analyzes.
type Samples struct {
	Posts []string // past published posts
	Docs  []string // brand documents, extracted to plain text
}

// Learner derives a voice profile from raw samples by delegating text
// analysis to the LLM collaborator.
type Learner struct {
	client  llm.Client
	timeout time.Duration
}

// NewLearner creates a Learner over the given client.
func NewLearner(client llm.Client) *Learner {
	return &Learner{client: client, timeout: learnTimeout}
}

// LearnFromSamples analyzes the samples and returns a fresh profile.
// Any collaborator failure or malformed response wraps ErrLearnFailed.
func (l *Learner) LearnFromSamples(ctx context.Context, samples Samples) (*Profile, error) {
	if len(samples.Posts) == 0 && len(samples.Docs) == 0 {
		return nil, fmt.Errorf("%w: no samples provided", ErrLearnFailed)
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	raw, err := l.client.Chat(ctx, buildLearnPrompt(samples), learnSchema())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLearnFailed, err)
	}

	p, err := parseLearnedProfile(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLearnFailed, err)
	}

	p.SampleCounts = SampleCounts{Posts: len(samples.Posts), Docs: len(samples.Docs)}
	return p, nil
}

const learnSystemPrompt = `You are a brand-voice analyst. Study the provided writing samples and summarize the voice as JSON. Estimate sliders on a 0.0-1.0 scale. Phrase lists hold short verbatim phrases, most characteristic first. Output only the JSON object.`

func buildLearnPrompt(samples Samples) []llm.Message {
	var sb strings.Builder
	if len(samples.Posts) > 0 {
		sb.WriteString("[Published posts]\n")
		for _, s := range samples.Posts {
			sb.WriteString(s)
			sb.WriteString("\n---\n")
		}
	}
	if len(samples.Docs) > 0 {
		sb.WriteString("\n[Brand documents]\n")
		for _, s := range samples.Docs {
			sb.WriteString(s)
			sb.WriteString("\n---\n")
		}
	}

	return []llm.Message{
		{Role: "system", Content: learnSystemPrompt},
		{Role: "user", Content: sb.String()},
	}
}

func learnSchema() *llm.Schema {
	return &llm.Schema{
		Type: "object",
		Properties: map[string]llm.SchemaProperty{
			"tone":            {Type: "array", Description: "Tone descriptors, e.g. direct, playful"},
			"common_phrases":  {Type: "array", Description: "Phrases the voice uses often"},
			"avoided_phrases": {Type: "array", Description: "Phrases the voice never uses"},
			"technical_level": {Type: "number", Description: "0.0 casual reader to 1.0 protocol engineer"},
			"casualness":      {Type: "number", Description: "0.0 formal to 1.0 shitpost"},
			"enthusiasm":      {Type: "number", Description: "0.0 dry to 1.0 exclamatory"},
			"structural":      {Type: "object", Description: "avg_length, thread_usage_ratio, emoji_per_item, hashtag_per_item"},
			"exemplars":       {Type: "object", Description: "strong and good example lists"},
		},
		Required: []string{"tone", "technical_level", "casualness", "enthusiasm"},
	}
}

// parseLearnedProfile extracts a Profile from a loosely structured LLM
// response: fences and filler are stripped by brace position before
// unmarshalling, and slider values are checked for range.
func parseLearnedProfile(raw string) (*Profile, error) {
	s := strings.TrimSpace(raw)

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var p Profile
	if err := json.Unmarshal([]byte(s[start:end+1]), &p); err != nil {
		return nil, fmt.Errorf("unmarshal profile: %w", err)
	}

	for name, v := range map[string]float64{
		"technical_level": p.TechnicalLevel,
		"casualness":      p.Casualness,
		"enthusiasm":      p.Enthusiasm,
	} {
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("slider %s out of range: %v", name, v)
		}
	}
	if len(p.Tone) == 0 {
		return nil, fmt.Errorf("profile has no tone descriptors")
	}

	return &p, nil
}
