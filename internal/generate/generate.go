// Package generate turns accepted signals into drafted content. The primary
// path delegates writing to the LLM collaborator; a deterministic local
// generator covers every failure of that path so a backend outage degrades
// quality, never availability.
package generate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/herald/internal/llm"
	"github.com/kalambet/herald/internal/scoring"
	"github.com/kalambet/herald/internal/signal"
	"github.com/kalambet/herald/internal/voice"
)

const generateTimeout = 90 * time.Second

// ContentKind distinguishes a single post from an ordered thread.
type ContentKind string

const (
	KindSingle ContentKind = "single"
	KindThread ContentKind = "thread"
)

// Content is a finalized draft. Immutable once persisted; edits produce a
// new row.
type Content struct {
	Body              []string
	Kind              ContentKind
	SourceDescription string
	RelevanceScore    float64
	BrandScore        float64
	ImageRef          string
}

// TriggerContext bundles everything one generation attempt needs: the scored
// signal plus ambient context about recent and upcoming work.
type TriggerContext struct {
	Scored     scoring.Scored
	RecentWork []string
	Milestones []string
}

// Orchestrator drives the generate -> parse -> review flow for one signal at
// a time.
type Orchestrator struct {
	client   llm.Client
	reviewer *Reviewer
	fallback *Fallback
	timeout  time.Duration
}

// NewOrchestrator creates an Orchestrator. A nil reviewer disables the brand
// review step.
func NewOrchestrator(client llm.Client, reviewer *Reviewer) *Orchestrator {
	return &Orchestrator{
		client:   client,
		reviewer: reviewer,
		fallback: NewFallback(),
		timeout:  generateTimeout,
	}
}

// Generate produces content for the trigger, or (nil, nil) when the signal
// genuinely had nothing worth saying. Primary-generator failure is absorbed
// by the local fallback and never propagates. The only error paths left are
// programmer errors (unsupported signal kind).
func (o *Orchestrator) Generate(ctx context.Context, trigger TriggerContext, profile voice.Profile) (*Content, error) {
	sig := trigger.Scored.Signal
	family, err := templateFamily(sig)
	if err != nil {
		return nil, err
	}

	body, kind := o.draft(ctx, trigger, profile, family)
	if body == nil {
		return nil, nil
	}

	brandScore := 1.0
	if o.reviewer != nil {
		body, brandScore = o.reviewLoop(ctx, body, trigger)
	}

	return &Content{
		Body:              body,
		Kind:              kind,
		SourceDescription: sig.Describe(),
		RelevanceScore:    trigger.Scored.Score,
		BrandScore:        brandScore,
	}, nil
}

// draft runs the primary collaborator and falls back on any failure. A nil
// body with no fallback means the primary returned SKIP.
func (o *Orchestrator) draft(ctx context.Context, trigger TriggerContext, profile voice.Profile, family templateKind) ([]string, ContentKind) {
	cctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	raw, err := o.client.Chat(cctx, buildGenerationPrompt(trigger, profile, family), nil)
	if err != nil {
		slog.Warn("primary generator failed, using fallback",
			"signal", trigger.Scored.Signal.Describe(), "error", err)
		body := o.fallback.Generate(trigger)
		return body, KindSingle
	}

	parsed := parseOutput(raw)
	if parsed.Skip {
		slog.Info("generator skipped signal", "signal", trigger.Scored.Signal.Describe())
		return nil, KindSingle
	}
	if len(parsed.Parts) == 0 {
		slog.Warn("primary generator returned empty output, using fallback",
			"signal", trigger.Scored.Signal.Describe())
		return o.fallback.Generate(trigger), KindSingle
	}

	kind := KindSingle
	if len(parsed.Parts) > 1 {
		kind = KindThread
	}
	return parsed.Parts, kind
}

// reviewLoop runs the brand review and at most one improve pass. Review
// failure flags the draft with a synthetic low score but never blocks it.
func (o *Orchestrator) reviewLoop(ctx context.Context, body []string, trigger TriggerContext) ([]string, float64) {
	review, err := o.reviewer.Review(ctx, body, trigger.Scored.Signal.Describe())
	if err != nil {
		slog.Warn("brand review failed, flagging draft", "error", err)
		return body, reviewUnavailableScore
	}
	if review.Approved || len(review.RedFlags) == 0 {
		return body, review.Score
	}

	improved, err := o.reviewer.Improve(ctx, body, review)
	if err != nil {
		slog.Warn("improve pass failed, keeping original draft", "error", err)
		return body, review.Score
	}
	// One pass only: the improved body is accepted as-is.
	return improved, review.Score
}

// templateKind selects the content template family for a signal variant.
type templateKind string

const (
	familyShipAnnouncement templateKind = "ship-announcement"
	familyTrendCommentary  templateKind = "trend-commentary"
	familyTrendEducational templateKind = "trend-educational"
	familyPostReaction     templateKind = "narrative-reaction"
)

func templateFamily(sig signal.Signal) (templateKind, error) {
	switch sig.Kind {
	case signal.KindTask:
		return familyShipAnnouncement, nil
	case signal.KindPost:
		return familyPostReaction, nil
	case signal.KindTrend:
		if sig.Trend.RelevanceHint == signal.RelevanceDirect {
			return familyTrendEducational, nil
		}
		return familyTrendCommentary, nil
	default:
		return "", fmt.Errorf("%w: %q", signal.ErrUnsupportedKind, sig.Kind)
	}
}
