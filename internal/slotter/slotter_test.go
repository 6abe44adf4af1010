package slotter

import (
	"context"
	"testing"

	"entertainment-planner/internal/models"
	"entertainment-planner/internal/ontology"
)

func mustExtractor(t *testing.T) *Extractor {
	t.Helper()
	dict, err := ontology.Load()
	if err != nil {
		t.Fatalf("ontology.Load: %v", err)
	}
	return New(dict, DefaultConfig())
}

func TestExtractOrderedSlots(t *testing.T) {
	x := mustExtractor(t)
	res, err := x.Extract(context.Background(), "today i wanna chill, eat tom yum and go on the rooftop", "", nil, nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(res.Slots) != 3 {
		t.Fatalf("expected 3 slots, got %d: %+v", len(res.Slots), res.Slots)
	}
	wantCanon := []string{"vibe:chill", "dish:tom_yum", "experience:rooftop"}
	for i, s := range res.Slots {
		if s.Canonical != wantCanon[i] {
			t.Fatalf("slot %d = %s, want %s (full: %+v)", i, s.Canonical, wantCanon[i], res.Slots)
		}
	}
	if res.FallbackUsed {
		t.Fatalf("did not expect fallback: %+v", res)
	}
}

func TestExtractPhraseBeatsUnigram(t *testing.T) {
	x := mustExtractor(t)
	res, err := x.Extract(context.Background(), "tom yum please", "", nil, nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(res.Slots) != 1 {
		t.Fatalf("expected 1 slot, got %+v", res.Slots)
	}
	if res.Slots[0].Canonical != "dish:tom_yum" {
		t.Fatalf("got %s, want dish:tom_yum", res.Slots[0].Canonical)
	}
	if res.Slots[0].MatchKind != models.MatchPhrase && res.Slots[0].MatchKind != models.MatchMultiword {
		t.Fatalf("expected phrase/multiword match, got %s", res.Slots[0].MatchKind)
	}
}

func TestExtractDenylistSuppressesMatch(t *testing.T) {
	x := mustExtractor(t)
	res, err := x.Extract(context.Background(), "not romantic at all please", "", nil, nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	for _, s := range res.Slots {
		if s.Canonical == "vibe:romantic" {
			t.Fatalf("expected vibe:romantic to be denied, got slots %+v", res.Slots)
		}
	}
}

func TestExtractEmptyQueryFallsBack(t *testing.T) {
	x := mustExtractor(t)
	res, err := x.Extract(context.Background(), "   ", "", nil, nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !res.FallbackUsed {
		t.Fatalf("expected fallback on empty query, got %+v", res)
	}
	if res.FallbackReason != "signals:editorial" && res.FallbackReason != "co-occurrence" {
		t.Fatalf("unexpected fallback reason %q", res.FallbackReason)
	}
}

func TestExtractCacheHit(t *testing.T) {
	x := mustExtractor(t)
	lat, lng := 13.7294, 100.5806
	first, err := x.Extract(context.Background(), "chill rooftop", "", &lat, &lng)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	second, err := x.Extract(context.Background(), "chill rooftop", "", &lat, &lng)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if second.DebugInfo == nil || second.DebugInfo["cache_hit"] != true {
		t.Fatalf("expected cache hit on second call, got %+v (first was %+v)", second, first)
	}
}

func TestExtractFallbackDisabledYieldsZeroSlots(t *testing.T) {
	dict, err := ontology.Load()
	if err != nil {
		t.Fatalf("ontology.Load: %v", err)
	}
	cfg := DefaultConfig()
	cfg.EnableFallback = false
	x := New(dict, cfg)
	res, err := x.Extract(context.Background(), "zzqxzq qzxzqx", "", nil, nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(res.Slots) != 0 || res.FallbackUsed {
		t.Fatalf("expected zero slots and no fallback, got %+v", res)
	}
}

func TestConfidenceFloorVagueSingleToken(t *testing.T) {
	x := mustExtractor(t)
	vague, err := x.Extract(context.Background(), "chill", "", nil, nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(vague.Slots) != 1 || vague.Slots[0].Canonical != "vibe:chill" {
		t.Fatalf("expected single chill slot, got %+v", vague.Slots)
	}
}
