package model

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
)

func TestMetadataKeepsInsertionOrder(t *testing.T) {
	var c EventContent
	raw := `{"type":"login","description":"x","metadata":{"zeta":1,"alpha":{"b":true,"a":null},"mid":[1,"two"]}}`
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	keys := c.Metadata.Keys()
	if strings.Join(keys, ",") != "zeta,alpha,mid" {
		t.Fatalf("unexpected key order %v", keys)
	}
	want := `{"type":"login","description":"x","metadata":{"zeta":1,"alpha":{"b":true,"a":null},"mid":[1,"two"]}}`
	if got := string(c.Canonical()); got != want {
		t.Fatalf("canonical mismatch\n got %s\nwant %s", got, want)
	}
}

func TestCanonicalIsStable(t *testing.T) {
	c := EventContent{Type: "dns", Domain: "evil.example", Description: "a <b> & c"}
	c.Metadata.Set("count", Int(3))
	c.Metadata.Set("ratio", Number(0.5))
	first := string(c.Canonical())
	for i := 0; i < 5; i++ {
		if got := string(c.Canonical()); got != first {
			t.Fatalf("canonical changed between calls: %s vs %s", got, first)
		}
	}
	if !strings.Contains(first, "a <b> & c") {
		t.Fatalf("expected unescaped html characters, got %s", first)
	}
	if !strings.Contains(first, `"metadata":{"count":3,"ratio":0.5}`) {
		t.Fatalf("unexpected metadata encoding %s", first)
	}
}

func TestDecodeRejectsOutOfRangeNumbers(t *testing.T) {
	for _, raw := range []string{
		`{"type":"t","description":"d","metadata":{"n":1e400}}`,
		`{"type":"t","description":"d","metadata":{"list":[1,-1e999]}}`,
		`{"type":"t","description":"d","metadata":{"deep":{"x":{"y":2e308}}}}`,
	} {
		var c EventContent
		if err := json.Unmarshal([]byte(raw), &c); err == nil {
			t.Fatalf("expected decode error for %s", raw)
		}
	}
	var c EventContent
	if err := json.Unmarshal([]byte(`{"type":"t","description":"d","metadata":{"n":1.7e308,"m":-4.9e-324}}`), &c); err != nil {
		t.Fatalf("in-range numbers rejected: %v", err)
	}
}

func TestNumberNonFiniteIsNull(t *testing.T) {
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if !Number(f).IsNull() {
			t.Fatalf("Number(%v) should be null", f)
		}
	}
}

func TestCanonicalDropsUnencodableMetadata(t *testing.T) {
	c := EventContent{Type: "t", Description: "d"}
	c.Metadata.Set("n", Value{kind: KindNumber, n: json.Number("1e400")})
	got := string(c.Canonical())
	if got != `{"type":"t","description":"d"}` {
		t.Fatalf("unexpected canonical %s", got)
	}
	if _, err := json.Marshal(c); err == nil {
		t.Fatalf("expected marshal error for unencodable metadata")
	}
}

func TestCanonicalKeepsEmptyMetadata(t *testing.T) {
	var present, absent EventContent
	if err := json.Unmarshal([]byte(`{"type":"t","description":"d","metadata":{}}`), &present); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := json.Unmarshal([]byte(`{"type":"t","description":"d"}`), &absent); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := string(present.Canonical()); got != `{"type":"t","description":"d","metadata":{}}` {
		t.Fatalf("empty metadata lost: %s", got)
	}
	if got := string(absent.Canonical()); got != `{"type":"t","description":"d"}` {
		t.Fatalf("absent metadata written: %s", got)
	}
}

func TestMetadataDuplicateKeyKeepsFirstPosition(t *testing.T) {
	var m Metadata
	if err := json.Unmarshal([]byte(`{"a":1,"b":2,"a":3}`), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(m) != 2 || m[0].Key != "a" {
		t.Fatalf("unexpected fields %+v", m)
	}
	v, _ := m.Get("a")
	if f, _ := v.Float(); f != 3 {
		t.Fatalf("expected last value to win, got %v", f)
	}
}

func TestMetadataRejectsNonObject(t *testing.T) {
	var m Metadata
	if err := json.Unmarshal([]byte(`[1,2]`), &m); err == nil {
		t.Fatalf("expected error for array metadata")
	}
	if err := json.Unmarshal([]byte(`null`), &m); err != nil || m != nil {
		t.Fatalf("null metadata should decode to nil, got %v %v", m, err)
	}
}

func TestEventJSONUnprocessedHasNullAnalysis(t *testing.T) {
	ev := Event{ID: "e1", WatchListID: "w1", Content: EventContent{Type: "t", Description: "d"}}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, field := range []string{"summary", "severity", "suggestedAction"} {
		v, ok := generic[field]
		if !ok || v != nil {
			t.Fatalf("expected %s to be null, got %v (present=%v)", field, v, ok)
		}
	}
	if generic["processed"] != false {
		t.Fatalf("expected processed=false")
	}
}

func TestEventJSONCarriesAnalysis(t *testing.T) {
	ev := Event{
		ID:        "e1",
		Processed: true,
		Analysis:  &Analysis{Summary: "s", Severity: SeverityHigh, SuggestedAction: "a"},
	}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Event
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Analysis == nil || *back.Analysis != *ev.Analysis {
		t.Fatalf("analysis lost: %+v", back.Analysis)
	}
}

func TestParseSeverity(t *testing.T) {
	cases := map[string]Severity{
		"low":      SeverityLow,
		" MED ":    SeverityMed,
		"High":     SeverityHigh,
		"CRITICAL": SeverityCritical,
	}
	for in, want := range cases {
		got, err := ParseSeverity(in)
		if err != nil || got != want {
			t.Fatalf("ParseSeverity(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseSeverity("MEDIUM"); err == nil {
		t.Fatalf("expected MEDIUM to be rejected")
	}
	if !(SeverityLow.Rank() < SeverityMed.Rank() && SeverityHigh.Rank() < SeverityCritical.Rank()) {
		t.Fatalf("severities out of order")
	}
}
