package editor

import (
	"context"
	"strings"
	"testing"

	"entertainment-planner/internal/models"
	"entertainment-planner/pkg/events"
)

func publishableVenue() models.Venue {
	lat, lng := 13.7563, 100.5018
	return models.Venue{
		ID:       1,
		Name:     "Riverside Kitchen",
		Category: "restaurant",
		Summary:  "Classic Thai cooking on the river, with a quiet terrace made for slow sunset dinners over tom yum and grilled fish.",
		TagsCSV:  "cuisine:thai,dish:tom_yum,vibe:chill",
		Lat:      &lat,
		Lng:      &lng,
		Status:   models.StatusEnriched,
	}
}

func TestEvaluatePublishesCompleteVenue(t *testing.T) {
	e := NewEngine()
	v := publishableVenue()
	out := e.Evaluate(context.Background(), &v)
	if out.Status != models.StatusPublished {
		t.Fatalf("expected PUBLISHED, got %s (reason %q)", out.Status, out.Reason)
	}
	if v.PublishedAt == nil {
		t.Fatalf("expected published_at set")
	}
	if out.Event == nil || out.Event.Type != events.TypePublished {
		t.Fatalf("expected a venue.published event on the outcome, got %+v", out.Event)
	}
	if v.QualityFlags.Coords != models.QualityPresent {
		t.Fatalf("expected coords flag present, got %s", v.QualityFlags.Coords)
	}
}

func TestEvaluateMissingCoordsNeedsRevision(t *testing.T) {
	e := NewEngine()
	v := publishableVenue()
	v.Lat, v.Lng = nil, nil
	out := e.Evaluate(context.Background(), &v)
	if out.Status != models.StatusNeedsRevision {
		t.Fatalf("expected NEEDS_REVISION, got %s", out.Status)
	}
	if out.Event == nil || out.Event.Type != events.TypeNeedsRevision {
		t.Fatalf("expected a venue.needs_revision event, got %+v", out.Event)
	}
	if v.Attempts.EditorCycles != 1 {
		t.Fatalf("expected editor cycle counted, got %d", v.Attempts.EditorCycles)
	}
	if !strings.Contains(string(out.Event.Payload), "missing_coords") {
		t.Fatalf("expected missing_coords issue in event payload, got %s", out.Event.Payload)
	}
}

func TestEvaluateExhaustedBudgetFails(t *testing.T) {
	e := NewEngine()
	v := publishableVenue()
	v.Lat, v.Lng = nil, nil
	v.Attempts.EditorCycles = 3
	out := e.Evaluate(context.Background(), &v)
	if out.Status != models.StatusFailed {
		t.Fatalf("expected FAILED after budget exhaustion, got %s", out.Status)
	}
	if out.Event == nil || out.Event.Type != events.TypeFailed {
		t.Fatalf("expected a venue.failed event, got %+v", out.Event)
	}
}

// TestEvaluateMissingPhotoStillPublishes: a venue missing only non-critical
// fields publishes with the corresponding quality flag set to missing.
func TestEvaluateMissingPhotoStillPublishes(t *testing.T) {
	e := NewEngine()
	v := publishableVenue()
	v.PictureURL = nil
	out := e.Evaluate(context.Background(), &v)
	if out.Status != models.StatusPublished {
		t.Fatalf("missing photo must not block publishing, got %s", out.Status)
	}
	if v.QualityFlags.Photos != models.QualityMissing {
		t.Fatalf("expected photos flag missing, got %s", v.QualityFlags.Photos)
	}
}

func TestSummaryFlagThresholds(t *testing.T) {
	tests := []struct {
		summary string
		want    models.QualityFlag
	}{
		{"", models.QualityMissing},
		{"Short note.", models.QualityWeak},
		{strings.Repeat("a good summary ", 6), models.QualityGood},
		{strings.Repeat("a thoroughly excellent summary ", 10), models.QualityExcellent},
	}
	for _, tt := range tests {
		if got := summaryFlag(tt.summary); got != tt.want {
			t.Errorf("summaryFlag(len=%d) = %s, want %s", len(tt.summary), got, tt.want)
		}
	}
}

func TestTagsFlagThresholds(t *testing.T) {
	tests := []struct {
		tags string
		want models.QualityFlag
	}{
		{"", models.QualitySparse},
		{"cuisine:thai", models.QualitySparse},
		{"cuisine:thai,dish:tom_yum,vibe:chill", models.QualityGood},
		{"a,b,c,d,e,f", models.QualityRich},
	}
	for _, tt := range tests {
		if got := tagsFlag(tt.tags); got != tt.want {
			t.Errorf("tagsFlag(%q) = %s, want %s", tt.tags, got, tt.want)
		}
	}
}
