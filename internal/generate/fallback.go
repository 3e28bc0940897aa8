package generate

import (
	"fmt"
	"strings"

	"github.com/kalambet/herald/internal/signal"
)

// Fallback is the local template generator: pure string work over the
// trigger text, no network, no external process. It must never fail; it is
// the last line of defense when the primary backend is down.
type Fallback struct{}

// NewFallback creates a Fallback generator.
func NewFallback() *Fallback {
	return &Fallback{}
}

type sentiment string

const (
	sentimentFrustrated sentiment = "frustrated"
	sentimentExcited    sentiment = "excited"
	sentimentConcerned  sentiment = "concerned"
	sentimentNeutral    sentiment = "neutral"
)

// Word lists are checked in order; the first list with a hit wins.
var sentimentWords = []struct {
	s     sentiment
	words []string
}{
	{sentimentFrustrated, []string{"killing", "broken", "frustrating", "annoying", "pain", "hate", "unusable", "nightmare"}},
	{sentimentExcited, []string{"shipped", "launch", "finally", "amazing", "excited", "huge", "love", "breakthrough"}},
	{sentimentConcerned, []string{"risk", "worried", "concern", "warning", "exploit", "vulnerability", "drain", "scam"}},
}

// topicStopwords are skipped when extracting a topic phrase from raw text.
var topicStopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "was": {}, "and": {},
	"or": {}, "of": {}, "to": {}, "in": {}, "on": {}, "for": {}, "with": {},
	"this": {}, "that": {}, "it": {}, "its": {}, "at": {}, "by": {}, "about": {},
}

// Generate produces a single deterministic post for the trigger. Always
// returns a non-empty body.
func (f *Fallback) Generate(trigger TriggerContext) []string {
	sig := trigger.Scored.Signal
	topic := extractTopic(sig)
	mood := classifySentiment(sig.Text())

	var body string
	switch sig.Kind {
	case signal.KindTask:
		body = fmt.Sprintf("Shipped: %s. One more step toward a wallet that just works.", sig.Task.Title)
	case signal.KindPost:
		body = reactionTemplate(mood, topic)
	case signal.KindTrend:
		body = trendTemplate(mood, topic)
	default:
		// Unknown kinds are filtered upstream; keep a defined output anyway.
		body = fmt.Sprintf("Watching the conversation around %s.", topic)
	}
	return []string{body}
}

func trendTemplate(mood sentiment, topic string) string {
	switch mood {
	case sentimentFrustrated:
		return fmt.Sprintf("Everyone is feeling the pain around %s right now. This is exactly the problem we are building against.", topic)
	case sentimentExcited:
		return fmt.Sprintf("The momentum around %s is real. Good week to be building wallets.", topic)
	case sentimentConcerned:
		return fmt.Sprintf("Worth paying attention to the concerns around %s. Self-custody only works if the defaults are safe.", topic)
	default:
		return fmt.Sprintf("%s keeps coming up. The wallet layer is where most of it gets decided.", capitalize(topic))
	}
}

func reactionTemplate(mood sentiment, topic string) string {
	switch mood {
	case sentimentFrustrated:
		return fmt.Sprintf("This frustration with %s is justified. The tooling has to get simpler before anything else does.", topic)
	case sentimentExcited:
		return fmt.Sprintf("Sharing the excitement here. %s is the kind of progress that compounds.", capitalize(topic))
	case sentimentConcerned:
		return fmt.Sprintf("A fair concern about %s. Users should not need a threat model to hold their own keys.", topic)
	default:
		return fmt.Sprintf("Good point about %s. Wallet UX decides whether any of this reaches normal people.", topic)
	}
}

// classifySentiment scans the text against the word lists.
func classifySentiment(text string) sentiment {
	lower := strings.ToLower(text)
	for _, sw := range sentimentWords {
		for _, w := range sw.words {
			if strings.Contains(lower, w) {
				return sw.s
			}
		}
	}
	return sentimentNeutral
}

// extractTopic finds a short topic phrase: the trend topic or task title when
// present, otherwise the first few non-stopword tokens of the text.
func extractTopic(sig signal.Signal) string {
	switch sig.Kind {
	case signal.KindTrend:
		return strings.ToLower(sig.Trend.Topic)
	case signal.KindTask:
		return sig.Task.Title
	}

	var picked []string
	for _, w := range strings.Fields(strings.ToLower(sig.Text())) {
		w = strings.Trim(w, ".,!?:;\"'()#@")
		if w == "" {
			continue
		}
		if _, stop := topicStopwords[w]; stop {
			continue
		}
		picked = append(picked, w)
		if len(picked) == 3 {
			break
		}
	}
	if len(picked) == 0 {
		return "the space"
	}
	return strings.Join(picked, " ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
