package classify

import (
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"signalwatch/internal/model"
)

func event(typ, desc string) model.EventContent {
	return model.EventContent{Type: typ, Description: desc}
}

func TestKeywordPrecedence(t *testing.T) {
	f := NewFallback(FirstPicker)
	tests := []struct {
		name    string
		content model.EventContent
		want    model.Severity
	}{
		{"critical beats med", event("alert", "possible breach after suspicious login"), model.SeverityCritical},
		{"critical beats high", event("malware", "ransomware dropped by trojan"), model.SeverityCritical},
		{"high", event("endpoint", "Trojan malware found on host"), model.SeverityHigh},
		{"med", event("email", "phishing link reported"), model.SeverityMed},
		{"keyword in metadata", func() model.EventContent {
			c := event("login", "user signed in")
			c.Metadata.Set("note", model.String("WannaCry indicator"))
			return c
		}(), model.SeverityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := f.Classify(tt.content, nil)
			assert.Equal(t, tt.want, got.Severity)
		})
	}
}

func TestTermVolumeEscalation(t *testing.T) {
	f := NewFallback(FirstPicker)
	terms := []string{"alpha", "bravo", "charlie", "delta", "echo"}
	tests := []struct {
		desc string
		want model.Severity
	}{
		{"saw alpha bravo charlie", model.SeverityHigh},
		{"saw alpha only", model.SeverityMed},
		{"saw nothing of note", model.SeverityLow},
	}
	for _, tt := range tests {
		got := f.Classify(event("login", tt.desc), terms)
		assert.Equal(t, tt.want, got.Severity, tt.desc)
	}
}

func TestMatchTermsPreservesOrderAndIgnoresCase(t *testing.T) {
	text := strings.ToLower(`{"type":"DNS","domain":"Evil.Example","description":"beacon to C2"}`)
	got := MatchTerms(text, []string{"c2", "missing", "EVIL.example", ""})
	assert.Equal(t, []string{"c2", "EVIL.example"}, got)
}

func TestSummaryIsDeterministic(t *testing.T) {
	content := event("dns", "beacon to c2 server")
	terms := []string{"c2", "beacon"}
	first := NewFallback(nil).Classify(content, terms)
	for i := 0; i < 20; i++ {
		got := NewFallback(nil).Classify(content, terms)
		assert.Equal(t, first.Summary, got.Summary)
		assert.Equal(t, first.Severity, got.Severity)
		assert.True(t, slices.Contains(SuggestedActions(got.Severity), got.SuggestedAction), "action %q outside tier", got.SuggestedAction)
	}
	assert.Equal(t, `Automated analysis: Detected event of type "dns" matching terms: c2, beacon. beacon to c2 server`, first.Summary)

	none := NewFallback(nil).Classify(event("dns", "quiet"), []string{"zzz"})
	assert.Equal(t, `Automated analysis: Detected event of type "dns" with no term matches. quiet`, none.Summary)
}

func TestPickerSelectsAction(t *testing.T) {
	last := func(n int) int { return n - 1 }
	got := NewFallback(last).Classify(event("email", "phishing"), nil)
	assert.Equal(t, "Notify team lead", got.SuggestedAction)

	outOfRange := func(n int) int { return n + 10 }
	got = NewFallback(outOfRange).Classify(event("email", "phishing"), nil)
	assert.Equal(t, "Investigate within 24h", got.SuggestedAction)
}

func TestFallbackAnalysisIsAlwaysValid(t *testing.T) {
	f := NewFallback(nil)
	for _, c := range []model.EventContent{event("", ""), event("x", "y"), event("attack", "critical")} {
		assert.True(t, f.Classify(c, []string{"x"}).Valid())
	}
}
