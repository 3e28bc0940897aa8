// Package voice owns the learned voice profile: a statistical summary of
// the organization's communication style used to bias and filter generated
// text. The profile is the only mutable singleton in the system: written
// once per run at learn/merge time, read-only afterwards.
package voice

// SampleCounts records how many raw samples of each source fed the profile.
type SampleCounts struct {
	Posts int `json:"posts"`
	Docs  int `json:"docs"`
}

// Structural captures layout-level statistics of the voice.
type Structural struct {
	AvgLength        int     `json:"avg_length"`
	ThreadUsageRatio float64 `json:"thread_usage_ratio"`
	EmojiPerItem     float64 `json:"emoji_per_item"`
	HashtagPerItem   float64 `json:"hashtag_per_item"`
}

// Exemplars holds representative past content, best first.
type Exemplars struct {
	Strong []string `json:"strong"`
	Good   []string `json:"good"`
}

// Profile is the learned voice profile. LastUpdated lives in the storage
// row, not here, so the struct stays a pure value.
type Profile struct {
	SampleCounts   SampleCounts `json:"sample_counts"`
	Tone           []string     `json:"tone"`
	CommonPhrases  []string     `json:"common_phrases"`
	AvoidedPhrases []string     `json:"avoided_phrases"`
	TechnicalLevel float64      `json:"technical_level"`
	Casualness     float64      `json:"casualness"`
	Enthusiasm     float64      `json:"enthusiasm"`
	Structural     Structural   `json:"structural"`
	Exemplars      Exemplars    `json:"exemplars"`
}

// DefaultProfile is the documented built-in used when nothing has been
// learned yet. Deliberately conservative: mid-range sliders, no phrase
// lists, so generation leans on templates rather than guessing a voice.
func DefaultProfile() Profile {
	return Profile{
		Tone:           []string{"direct", "builder-minded"},
		TechnicalLevel: 0.6,
		Casualness:     0.5,
		Enthusiasm:     0.5,
		Structural: Structural{
			AvgLength:        220,
			ThreadUsageRatio: 0.2,
		},
	}
}

// listCap bounds merged list fields so profiles don't grow without bound
// across relearn cycles.
const listCap = 20

// Merge combines two profiles: numeric fields by weighted arithmetic mean,
// list fields by capped union (old entries first since they carry more
// history, then new entries in input order), sample counts summed.
// Deterministic for
// identical inputs.
func Merge(old, fresh Profile, oldWeight, newWeight float64) Profile {
	wavg := func(a, b float64) float64 { return a*oldWeight + b*newWeight }

	return Profile{
		SampleCounts: SampleCounts{
			Posts: old.SampleCounts.Posts + fresh.SampleCounts.Posts,
			Docs:  old.SampleCounts.Docs + fresh.SampleCounts.Docs,
		},
		Tone:           unionCapped(old.Tone, fresh.Tone),
		CommonPhrases:  unionCapped(old.CommonPhrases, fresh.CommonPhrases),
		AvoidedPhrases: unionCapped(old.AvoidedPhrases, fresh.AvoidedPhrases),
		TechnicalLevel: wavg(old.TechnicalLevel, fresh.TechnicalLevel),
		Casualness:     wavg(old.Casualness, fresh.Casualness),
		Enthusiasm:     wavg(old.Enthusiasm, fresh.Enthusiasm),
		Structural: Structural{
			AvgLength:        int(wavg(float64(old.Structural.AvgLength), float64(fresh.Structural.AvgLength)) + 0.5),
			ThreadUsageRatio: wavg(old.Structural.ThreadUsageRatio, fresh.Structural.ThreadUsageRatio),
			EmojiPerItem:     wavg(old.Structural.EmojiPerItem, fresh.Structural.EmojiPerItem),
			HashtagPerItem:   wavg(old.Structural.HashtagPerItem, fresh.Structural.HashtagPerItem),
		},
		Exemplars: Exemplars{
			Strong: unionCapped(old.Exemplars.Strong, fresh.Exemplars.Strong),
			Good:   unionCapped(old.Exemplars.Good, fresh.Exemplars.Good),
		},
	}
}

func unionCapped(old, fresh []string) []string {
	seen := make(map[string]struct{}, len(old)+len(fresh))
	var out []string
	for _, lists := range [][]string{old, fresh} {
		for _, v := range lists {
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
			if len(out) >= listCap {
				return out
			}
		}
	}
	return out
}
