package classify

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"signalwatch/internal/model"
)

// Picker returns an index in [0, n).
type Picker func(n int) int

func RandomPicker() Picker {
	return rand.IntN
}

// FirstPicker always picks the first action.
func FirstPicker(int) int {
	return 0
}

type keywordTier struct {
	severity model.Severity
	keywords []string
}

// Checked top to bottom; the first tier with any keyword present wins.
var keywordTiers = []keywordTier{
	{model.SeverityCritical, []string{"ransomware", "breach", "compromise", "attack", "critical", "wannacry", "encrypted"}},
	{model.SeverityHigh, []string{"malware", "trojan", "virus", "exploit", "high"}},
	{model.SeverityMed, []string{"phishing", "suspicious", "medium", "med"}},
}

var suggestedActions = map[model.Severity][]string{
	model.SeverityLow:      {"Monitor for patterns", "Log for future reference", "Schedule routine review"},
	model.SeverityMed:      {"Investigate within 24h", "Check related systems", "Notify team lead"},
	model.SeverityHigh:     {"Immediate investigation required", "Escalate to security team", "Block suspicious activity"},
	model.SeverityCritical: {"URGENT: Immediate response required", "Activate incident response", "Contact security operations center"},
}

// SuggestedActions returns the action set for a tier.
func SuggestedActions(sev model.Severity) []string {
	actions := suggestedActions[sev]
	out := make([]string, len(actions))
	copy(out, actions)
	return out
}

// Fallback is the local keyword classifier. It never fails.
type Fallback struct {
	pick Picker
}

func NewFallback(pick Picker) *Fallback {
	if pick == nil {
		pick = RandomPicker()
	}
	return &Fallback{pick: pick}
}

func (f *Fallback) Classify(content model.EventContent, terms []string) model.Analysis {
	text := strings.ToLower(string(content.Canonical()))
	matched := MatchTerms(text, terms)
	severity := severityFor(text, len(matched))
	actions := suggestedActions[severity]
	idx := f.pick(len(actions))
	if idx < 0 || idx >= len(actions) {
		idx = 0
	}
	return model.Analysis{
		Summary:         summarize(content, matched),
		Severity:        severity,
		SuggestedAction: actions[idx],
	}
}

// MatchTerms returns the terms whose lowercase form occurs in text, in the
// order given. text must already be lowercased.
func MatchTerms(text string, terms []string) []string {
	matched := make([]string, 0, len(terms))
	for _, term := range terms {
		t := strings.ToLower(term)
		if t == "" {
			continue
		}
		if strings.Contains(text, t) {
			matched = append(matched, term)
		}
	}
	return matched
}

func severityFor(text string, matched int) model.Severity {
	for _, tier := range keywordTiers {
		for _, kw := range tier.keywords {
			if strings.Contains(text, kw) {
				return tier.severity
			}
		}
	}
	switch {
	case matched > 2:
		return model.SeverityHigh
	case matched > 0:
		return model.SeverityMed
	}
	return model.SeverityLow
}

func summarize(content model.EventContent, matched []string) string {
	terms := "with no term matches"
	if len(matched) > 0 {
		terms = "matching terms: " + strings.Join(matched, ", ")
	}
	return fmt.Sprintf("Automated analysis: Detected event of type \"%s\" %s. %s", content.Type, terms, content.Description)
}
