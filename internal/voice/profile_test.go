package voice

import (
	"math"
	"reflect"
	"testing"
)

func sampleProfile() Profile {
	return Profile{
		SampleCounts:   SampleCounts{Posts: 40, Docs: 3},
		Tone:           []string{"direct", "optimistic"},
		CommonPhrases:  []string{"just shipped", "one wallet"},
		AvoidedPhrases: []string{"to the moon"},
		TechnicalLevel: 0.7,
		Casualness:     0.4,
		Enthusiasm:     0.6,
		Structural: Structural{
			AvgLength:        180,
			ThreadUsageRatio: 0.25,
			EmojiPerItem:     0.5,
			HashtagPerItem:   0.1,
		},
		Exemplars: Exemplars{
			Strong: []string{"we fixed the thing"},
			Good:   []string{"small wins compound"},
		},
	}
}

func TestMerge_WithItselfIsIdentityForNumericFields(t *testing.T) {
	p := sampleProfile()
	merged := Merge(p, p, 0.7, 0.3)

	const eps = 1e-9
	numeric := map[string][2]float64{
		"technical_level": {p.TechnicalLevel, merged.TechnicalLevel},
		"casualness":      {p.Casualness, merged.Casualness},
		"enthusiasm":      {p.Enthusiasm, merged.Enthusiasm},
		"thread_ratio":    {p.Structural.ThreadUsageRatio, merged.Structural.ThreadUsageRatio},
		"emoji":           {p.Structural.EmojiPerItem, merged.Structural.EmojiPerItem},
		"hashtag":         {p.Structural.HashtagPerItem, merged.Structural.HashtagPerItem},
	}
	for name, pair := range numeric {
		if math.Abs(pair[0]-pair[1]) > eps {
			t.Errorf("%s changed under self-merge: %v -> %v", name, pair[0], pair[1])
		}
	}
	if merged.Structural.AvgLength != p.Structural.AvgLength {
		t.Errorf("avg_length changed under self-merge: %d -> %d", p.Structural.AvgLength, merged.Structural.AvgLength)
	}

	// Lists are unions, so self-merge keeps them unchanged.
	if !reflect.DeepEqual(merged.Tone, p.Tone) || !reflect.DeepEqual(merged.CommonPhrases, p.CommonPhrases) {
		t.Errorf("list fields changed under self-merge: %+v", merged)
	}

	// Sample counts sum by design.
	if merged.SampleCounts.Posts != 2*p.SampleCounts.Posts {
		t.Errorf("sample counts should sum: got %d", merged.SampleCounts.Posts)
	}
}

func TestMerge_WeightedMean(t *testing.T) {
	old := sampleProfile()
	fresh := sampleProfile()
	fresh.TechnicalLevel = 0.2

	merged := Merge(old, fresh, 0.7, 0.3)
	want := 0.7*0.7 + 0.2*0.3
	if math.Abs(merged.TechnicalLevel-want) > 1e-9 {
		t.Errorf("technical_level = %v, want %v", merged.TechnicalLevel, want)
	}
}

func TestMerge_ListUnionIsDeterministicAndCapped(t *testing.T) {
	var old, fresh Profile
	for i := 0; i < listCap; i++ {
		old.CommonPhrases = append(old.CommonPhrases, string(rune('a'+i)))
	}
	fresh.CommonPhrases = []string{"zzz", old.CommonPhrases[0]}

	first := Merge(old, fresh, 0.7, 0.3)
	second := Merge(old, fresh, 0.7, 0.3)

	if !reflect.DeepEqual(first.CommonPhrases, second.CommonPhrases) {
		t.Error("merge must be deterministic for identical inputs")
	}
	if len(first.CommonPhrases) > listCap {
		t.Errorf("list exceeded cap: %d", len(first.CommonPhrases))
	}
	// Old entries outrank new ones; with the cap full of old entries, the
	// new phrase is dropped.
	for _, v := range first.CommonPhrases {
		if v == "zzz" {
			t.Error("new entry should be dropped when cap is filled by old entries")
		}
	}
}

func TestDefaultProfile_IsUsable(t *testing.T) {
	p := DefaultProfile()
	if len(p.Tone) == 0 {
		t.Error("default profile needs tone descriptors")
	}
	if p.TechnicalLevel < 0 || p.TechnicalLevel > 1 {
		t.Errorf("default technical level out of range: %v", p.TechnicalLevel)
	}
}
