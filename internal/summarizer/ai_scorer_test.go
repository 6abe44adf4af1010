package summarizer

import (
	"testing"
	"time"
)

func TestParseStructuredResponse(t *testing.T) {
	content := `{"summary": "A calm riverside cafe.", "tags": ["Vibe:Chill", "vibe:chill", "cuisine:thai", ""], "signals": {"hq_experience": true, "quality_score": 0.85, "dateworthy": true}}`
	res, err := parseStructuredResponse(content)
	if err != nil {
		t.Fatalf("parseStructuredResponse: %v", err)
	}
	if res.Summary != "A calm riverside cafe." {
		t.Fatalf("summary = %q", res.Summary)
	}
	// Tags are lowercased, deduped, and empties dropped.
	if len(res.Tags) != 2 || res.Tags[0] != "vibe:chill" || res.Tags[1] != "cuisine:thai" {
		t.Fatalf("tags = %v", res.Tags)
	}
	if !res.Signals.HQExperience || !res.Signals.Dateworthy || res.Signals.QualityScore != 0.85 {
		t.Fatalf("signals = %+v", res.Signals)
	}
}

func TestParseResponseFallbackSalvagesWrappedJSON(t *testing.T) {
	content := "Sure! Here is the object you asked for:\n\n" +
		`{"summary": "A rooftop bar.", "tags": ["experience:rooftop"], "signals": {}}` +
		"\n\nLet me know if you need anything else."
	res, err := parseResponseFallback(content)
	if err != nil {
		t.Fatalf("parseResponseFallback: %v", err)
	}
	if res.Summary != "A rooftop bar." || len(res.Tags) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestParseResponseFallbackNoJSON(t *testing.T) {
	if _, err := parseResponseFallback("no structured payload here"); err == nil {
		t.Fatalf("expected error when no JSON object present")
	}
}

func TestNormalizeTags(t *testing.T) {
	got := normalizeTags([]string{" Dish:Tom Yum ", "dish:tom_yum", "DRINK:CRAFT BEER"})
	want := []string{"dish:tom_yum", "drink:craft_beer"}
	if len(got) != len(want) {
		t.Fatalf("normalizeTags = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("normalizeTags = %v, want %v", got, want)
		}
	}
}

func TestVenueCacheTTLAndEviction(t *testing.T) {
	c := NewVenueCache(10*time.Millisecond, 2)
	defer c.Stop()

	c.Set("a", Result{Summary: "a"})
	c.Set("b", Result{Summary: "b"})
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("expected fresh entry to be served")
	}

	c.Set("c", Result{Summary: "c"}) // over cap: oldest evicted
	if c.GetSize() > 2 {
		t.Fatalf("cache exceeded max size: %d", c.GetSize())
	}

	time.Sleep(15 * time.Millisecond)
	if _, ok := c.Get("b"); ok {
		t.Fatalf("expected TTL-expired entry to miss")
	}
}

func TestCostTrackerAccumulates(t *testing.T) {
	ct := NewCostTracker()
	ct.AddUsage(1000, 500)
	ct.AddUsage(1000, 500)
	stats := ct.GetStats()
	if stats.TotalRequests != 2 || stats.TotalTokens != 3000 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.EstimatedCostUSD <= 0 {
		t.Fatalf("expected positive estimated cost, got %f", stats.EstimatedCostUSD)
	}
}
