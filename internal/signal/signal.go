package signal

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnsupportedKind is returned when a Signal carries a kind no component
// knows how to handle. This is a programmer error, not a data error, and
// callers must fail loudly instead of coercing.
var ErrUnsupportedKind = errors.New("unsupported signal kind")

// ErrInvalid marks a malformed signal. Pipelines skip the offending item
// and continue; they never abort a run over a single bad signal.
var ErrInvalid = errors.New("invalid signal")

// Kind discriminates the Signal union.
type Kind string

const (
	KindTrend Kind = "trend"
	KindPost  Kind = "post"
	KindTask  Kind = "task"
)

// Relevance is the source's own hint about how close a trend sits to the
// organization's domain.
type Relevance string

const (
	RelevanceDirect    Relevance = "direct"
	RelevanceRelated   Relevance = "related"
	RelevanceUnrelated Relevance = "unrelated"
)

// Trend is a snapshot of a social-media trend: a topic plus the evidence
// (sample texts) it was observed with.
type Trend struct {
	Topic           string    `json:"topic"`
	SampleTexts     []string  `json:"sample_texts"`
	EngagementScore float64   `json:"engagement_score"`
	OccurrenceCount int       `json:"occurrence_count"`
	RelevanceHint   Relevance `json:"relevance_hint"`
	Tags            []string  `json:"tags"`
}

// Post is a single influencer post with its engagement counters.
type Post struct {
	Text         string    `json:"text"`
	AuthorHandle string    `json:"author_handle"`
	PostID       string    `json:"post_id"`
	Likes        int       `json:"likes"`
	Retweets     int       `json:"retweets"`
	Replies      int       `json:"replies"`
	Quotes       int       `json:"quotes"`
	CreatedAt    time.Time `json:"created_at"`
}

// Task is a completed project-tracker task.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Labels      []string  `json:"labels"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// Signal is a tagged union over the three source variants. Exactly one
// payload is populated; downstream code switches on Kind, never on field
// presence.
type Signal struct {
	Kind  Kind   `json:"kind"`
	Trend *Trend `json:"trend,omitempty"`
	Post  *Post  `json:"post,omitempty"`
	Task  *Task  `json:"task,omitempty"`
}

// NewTrend wraps a Trend payload, sanitizing its sample texts of markup.
func NewTrend(t Trend) Signal {
	clean := make([]string, len(t.SampleTexts))
	for i, s := range t.SampleTexts {
		clean[i] = StripHTML(s)
	}
	t.SampleTexts = clean
	return Signal{Kind: KindTrend, Trend: &t}
}

// NewPost wraps a Post payload.
func NewPost(p Post) Signal {
	p.Text = StripHTML(p.Text)
	return Signal{Kind: KindPost, Post: &p}
}

// NewTask wraps a Task payload.
func NewTask(t Task) Signal {
	return Signal{Kind: KindTask, Task: &t}
}

// Validate checks the exactly-one-payload invariant and the per-variant
// required fields. Errors wrap ErrInvalid so callers can skip-and-continue.
func (s Signal) Validate() error {
	populated := 0
	if s.Trend != nil {
		populated++
	}
	if s.Post != nil {
		populated++
	}
	if s.Task != nil {
		populated++
	}
	if populated != 1 {
		return fmt.Errorf("%w: %d payloads populated, want exactly 1", ErrInvalid, populated)
	}

	switch s.Kind {
	case KindTrend:
		if s.Trend == nil {
			return fmt.Errorf("%w: kind %q without trend payload", ErrInvalid, s.Kind)
		}
		if s.Trend.Topic == "" {
			return fmt.Errorf("%w: trend topic is required", ErrInvalid)
		}
		if len(s.Trend.SampleTexts) == 0 {
			return fmt.Errorf("%w: trend needs at least one sample text", ErrInvalid)
		}
		if s.Trend.EngagementScore < 0 || s.Trend.OccurrenceCount < 0 {
			return fmt.Errorf("%w: trend engagement counters must be non-negative", ErrInvalid)
		}
	case KindPost:
		if s.Post == nil {
			return fmt.Errorf("%w: kind %q without post payload", ErrInvalid, s.Kind)
		}
		if s.Post.PostID == "" {
			return fmt.Errorf("%w: post id is required", ErrInvalid)
		}
		if s.Post.Likes < 0 || s.Post.Retweets < 0 || s.Post.Replies < 0 || s.Post.Quotes < 0 {
			return fmt.Errorf("%w: post engagement counters must be non-negative", ErrInvalid)
		}
	case KindTask:
		if s.Task == nil {
			return fmt.Errorf("%w: kind %q without task payload", ErrInvalid, s.Kind)
		}
		if s.Task.ID == "" || s.Task.Title == "" {
			return fmt.Errorf("%w: task id and title are required", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedKind, s.Kind)
	}
	return nil
}

// Text returns the variant's primary text fields joined for display and
// keyword matching.
func (s Signal) Text() string {
	switch s.Kind {
	case KindTrend:
		out := s.Trend.Topic
		for _, t := range s.Trend.SampleTexts {
			out += " " + t
		}
		return out
	case KindPost:
		return s.Post.Text
	case KindTask:
		if s.Task.Description != "" {
			return s.Task.Title + " " + s.Task.Description
		}
		return s.Task.Title
	default:
		return ""
	}
}

// Describe returns a short human-readable label used in logs and as the
// source description on generated content.
func (s Signal) Describe() string {
	switch s.Kind {
	case KindTrend:
		return fmt.Sprintf("trend: %s", s.Trend.Topic)
	case KindPost:
		return fmt.Sprintf("post by @%s", s.Post.AuthorHandle)
	case KindTask:
		return fmt.Sprintf("shipped: %s", s.Task.Title)
	default:
		return string(s.Kind)
	}
}
