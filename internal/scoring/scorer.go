// Package scoring maps raw signals to bounded relevance scores.
//
// Scoring is a pure additive/subtractive keyword heuristic: no I/O, no
// hidden state, identical output for identical input. That property is what
// lets the pipeline score items concurrently and re-score them at will.
package scoring

import (
	"fmt"
	"strings"

	"github.com/kalambet/herald/internal/signal"
)

// Category buckets a score by the fixed thresholds.
type Category string

const (
	CategoryHigh   Category = "high"
	CategoryMedium Category = "medium"
	CategoryLow    Category = "low"
)

const (
	highThreshold   = 0.7
	mediumThreshold = 0.4
)

// CategoryFor derives the category from a score. Category is never stored
// independently of the score; recompute it wherever it is needed.
func CategoryFor(score float64) Category {
	switch {
	case score >= highThreshold:
		return CategoryHigh
	case score >= mediumThreshold:
		return CategoryMedium
	default:
		return CategoryLow
	}
}

// Scored pairs a signal with its relevance score and the reasoning trail
// that produced it.
type Scored struct {
	Signal    signal.Signal
	Score     float64
	Reasoning []string
}

// Category returns the score's bucket.
func (s Scored) Category() Category {
	return CategoryFor(s.Score)
}

// Scorer applies a Weights policy to signals.
type Scorer struct {
	w Weights
}

// New creates a Scorer with the given weights.
func New(w Weights) *Scorer {
	return &Scorer{w: w}
}

// NewDefault creates a Scorer with the tuned default policy.
func NewDefault() *Scorer {
	return New(DefaultWeights())
}

// Score dispatches on the signal's kind. Unknown kinds return
// signal.ErrUnsupportedKind; callers must not coerce.
func (s *Scorer) Score(sig signal.Signal) (Scored, error) {
	if err := sig.Validate(); err != nil {
		return Scored{}, err
	}

	switch sig.Kind {
	case signal.KindTrend:
		return s.scoreTrend(sig), nil
	case signal.KindPost:
		return s.scorePost(sig), nil
	case signal.KindTask:
		return s.scoreTask(sig), nil
	default:
		return Scored{}, fmt.Errorf("scoring: %w: %q", signal.ErrUnsupportedKind, sig.Kind)
	}
}

func (s *Scorer) scoreTrend(sig signal.Signal) Scored {
	t := sig.Trend
	score := s.w.TrendTaskBase
	reasons := []string{fmt.Sprintf("trend base %.2f", s.w.TrendTaskBase)}

	text := sig.Text()
	for _, tag := range t.Tags {
		text += " " + tag
	}

	score += s.applyKeywords(text, &reasons)

	raw := t.EngagementScore + float64(t.OccurrenceCount)*100
	score += s.engagementBoost(raw, &reasons)

	return finalize(sig, score, reasons)
}

func (s *Scorer) scorePost(sig signal.Signal) Scored {
	p := sig.Post
	score := s.w.RawTextBase
	reasons := []string{fmt.Sprintf("raw text base %.2f", s.w.RawTextBase)}

	score += s.applyKeywords(p.Text, &reasons)

	raw := float64(p.Likes) + 2*float64(p.Retweets) + 1.5*float64(p.Replies) + 2*float64(p.Quotes)
	score += s.engagementBoost(raw, &reasons)

	return finalize(sig, score, reasons)
}

func (s *Scorer) scoreTask(sig signal.Signal) Scored {
	t := sig.Task
	score := s.w.TrendTaskBase
	reasons := []string{fmt.Sprintf("task base %.2f", s.w.TrendTaskBase)}

	text := sig.Text()
	for _, l := range t.Labels {
		text += " " + l
	}

	score += s.applyKeywords(text, &reasons)

	return finalize(sig, score, reasons)
}

// applyKeywords computes the total keyword-derived delta for text and
// appends one reasoning entry per applied rule.
func (s *Scorer) applyKeywords(text string, reasons *[]string) float64 {
	lower := strings.ToLower(text)
	var delta float64

	if hits := matchDistinct(lower, s.w.HighValueKeywords); len(hits) > 0 {
		boost := s.w.HighValueFirst + float64(len(hits)-1)*s.w.HighValueExtra
		if boost > s.w.HighValueCap {
			boost = s.w.HighValueCap
		}
		delta += boost
		*reasons = append(*reasons, fmt.Sprintf("high-value keywords %s: +%.2f", strings.Join(hits, ", "), boost))
	}

	for _, hit := range matchDistinct(lower, s.w.NegativeKeywords) {
		delta -= s.w.NegativePenalty
		*reasons = append(*reasons, fmt.Sprintf("off-brand keyword %q: -%.2f", hit, s.w.NegativePenalty))
	}

	if hits := matchDistinct(lower, s.w.PainPointKeywords); len(hits) > 0 {
		delta += s.w.PainPointBoost
		*reasons = append(*reasons, fmt.Sprintf("pain-point language %q: +%.2f", hits[0], s.w.PainPointBoost))
	}
	if hits := matchDistinct(lower, s.w.VisionKeywords); len(hits) > 0 {
		delta += s.w.VisionBoost
		*reasons = append(*reasons, fmt.Sprintf("vision language %q: +%.2f", hits[0], s.w.VisionBoost))
	}
	if hits := matchDistinct(lower, s.w.JargonKeywords); len(hits) > 0 {
		delta += s.w.JargonBoost
		*reasons = append(*reasons, fmt.Sprintf("technical jargon %q: +%.2f", hits[0], s.w.JargonBoost))
	}

	return delta
}

// engagementBoost is monotonically increasing but saturating: no matter how
// viral the input, it can never move the score past the configured cap.
func (s *Scorer) engagementBoost(raw float64, reasons *[]string) float64 {
	if raw <= 0 || s.w.EngagementDivisor <= 0 {
		return 0
	}
	boost := raw / s.w.EngagementDivisor
	if boost > s.w.EngagementCap {
		boost = s.w.EngagementCap
	}
	*reasons = append(*reasons, fmt.Sprintf("engagement %.0f: +%.2f", raw, boost))
	return boost
}

// matchDistinct returns the keywords found in lower-cased text, in keyword
// table order so reasoning output is deterministic.
func matchDistinct(lower string, keywords []string) []string {
	var hits []string
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, kw) {
			hits = append(hits, kw)
		}
	}
	return hits
}

func finalize(sig signal.Signal, score float64, reasons []string) Scored {
	return Scored{Signal: sig, Score: clamp(score), Reasoning: reasons}
}

func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
