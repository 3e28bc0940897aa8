package generate

import (
	"fmt"
	"strings"

	"github.com/kalambet/herald/internal/llm"
	"github.com/kalambet/herald/internal/signal"
	"github.com/kalambet/herald/internal/voice"
)

const generateSystemPrompt = `You write social posts for a crypto wallet company. Stay in the brand voice described below. Write only the post text. For a multi-part thread, separate parts with a line containing exactly "---". If the signal genuinely offers nothing worth posting about, respond with the single word SKIP.`

// buildGenerationPrompt renders the full request: voice guidance, ambient
// context, and the family-specific instruction filled with signal fields.
func buildGenerationPrompt(trigger TriggerContext, profile voice.Profile, family templateKind) []llm.Message {
	var sb strings.Builder

	sb.WriteString(renderVoiceGuidance(profile))

	if len(trigger.RecentWork) > 0 {
		sb.WriteString("\n[Recently shipped]\n")
		for _, w := range trigger.RecentWork {
			sb.WriteString("- " + w + "\n")
		}
	}
	if len(trigger.Milestones) > 0 {
		sb.WriteString("\n[Upcoming]\n")
		for _, m := range trigger.Milestones {
			sb.WriteString("- " + m + "\n")
		}
	}

	sb.WriteString("\n")
	sb.WriteString(familyInstruction(trigger.Scored.Signal, family))

	return []llm.Message{
		{Role: "system", Content: generateSystemPrompt},
		{Role: "user", Content: sb.String()},
	}
}

// renderVoiceGuidance flattens the profile into prompt text: tone words,
// phrases to use and avoid, and structural targets.
func renderVoiceGuidance(p voice.Profile) string {
	var sb strings.Builder
	sb.WriteString("[Brand voice]\n")
	if len(p.Tone) > 0 {
		sb.WriteString("Tone: " + strings.Join(p.Tone, ", ") + "\n")
	}
	if len(p.CommonPhrases) > 0 {
		sb.WriteString("Phrases to lean on: " + strings.Join(p.CommonPhrases, "; ") + "\n")
	}
	if len(p.AvoidedPhrases) > 0 {
		sb.WriteString("Never use: " + strings.Join(p.AvoidedPhrases, "; ") + "\n")
	}
	sb.WriteString(fmt.Sprintf("Technical level %.1f, casualness %.1f, enthusiasm %.1f (0.0-1.0 scales).\n",
		p.TechnicalLevel, p.Casualness, p.Enthusiasm))
	if p.Structural.AvgLength > 0 {
		sb.WriteString(fmt.Sprintf("Aim for roughly %d characters per post.\n", p.Structural.AvgLength))
	}
	if len(p.Exemplars.Strong) > 0 {
		sb.WriteString("Example of the voice at its best: " + p.Exemplars.Strong[0] + "\n")
	}
	return sb.String()
}

func familyInstruction(sig signal.Signal, family templateKind) string {
	switch family {
	case familyShipAnnouncement:
		t := sig.Task
		s := fmt.Sprintf("[Signal: completed work]\nTitle: %s\n", t.Title)
		if t.Description != "" {
			s += "Details: " + t.Description + "\n"
		}
		if len(t.Labels) > 0 {
			s += "Labels: " + strings.Join(t.Labels, ", ") + "\n"
		}
		return s + "\nWrite a ship announcement for this completed work. Concrete, no hype."

	case familyTrendEducational:
		return trendBlock(sig.Trend) +
			"\nThis trend sits squarely in our domain. Write an educational take: explain what is actually going on and where wallets fit, in our voice."

	case familyTrendCommentary:
		return trendBlock(sig.Trend) +
			"\nWrite brief commentary connecting this trend back to wallet UX. Opinionated but grounded."

	case familyPostReaction:
		p := sig.Post
		return fmt.Sprintf("[Signal: post by @%s]\n%s\n\nWrite a narrative reaction: agree, extend, or push back in our voice. Do not quote the post verbatim.",
			p.AuthorHandle, p.Text)
	}
	return ""
}

func trendBlock(t *signal.Trend) string {
	var sb strings.Builder
	sb.WriteString("[Signal: trend]\nTopic: " + t.Topic + "\n")
	for i, s := range t.SampleTexts {
		if i >= 3 {
			break
		}
		sb.WriteString("Sample: " + s + "\n")
	}
	if len(t.Tags) > 0 {
		sb.WriteString("Tags: " + strings.Join(t.Tags, ", ") + "\n")
	}
	return sb.String()
}
