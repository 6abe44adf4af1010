package rails

import (
	"context"
	"testing"

	"entertainment-planner/internal/domain"
	"entertainment-planner/internal/models"
	"entertainment-planner/internal/ontology"
	"entertainment-planner/internal/profiles"
	"entertainment-planner/internal/retrieval"
	"entertainment-planner/internal/slotter"
)

type fakeRepo struct {
	venues []models.Venue
}

func (f *fakeRepo) GetByIDCtx(ctx context.Context, id int64) (*models.Venue, error) { return nil, nil }
func (f *fakeRepo) FindBySourceIDCtx(ctx context.Context, sourceID string) (*models.Venue, error) {
	return nil, nil
}
func (f *fakeRepo) BatchCtx(ctx context.Context, status models.Status, limit int) ([]models.Venue, error) {
	return nil, nil
}
func (f *fakeRepo) UpdateCtx(ctx context.Context, id int64, patch domain.VenuePatch, expectedVersion int64) error {
	return nil
}
func (f *fakeRepo) SearchViewCtx(ctx context.Context, text string, filters domain.SearchFilters, sortBy string, limit, offset int, userGeo *domain.GeoPoint) ([]models.Venue, int, error) {
	return f.venues, len(f.venues), nil
}

func sampleVenues() []models.Venue {
	lat, lng := 13.7294, 100.5806
	return []models.Venue{
		{ID: 1, Name: "Chill Cafe", Category: "cafe", TagsCSV: "vibe:chill", Lat: &lat, Lng: &lng, Signals: models.Signals{QualityScore: 0.7}},
		{ID: 2, Name: "Tom Yum House", Category: "restaurant", TagsCSV: "dish:tom_yum,cuisine:thai", Lat: &lat, Lng: &lng, Signals: models.Signals{QualityScore: 0.8}},
		{ID: 3, Name: "Rooftop Lounge", Category: "bar", TagsCSV: "experience:rooftop", Lat: &lat, Lng: &lng, Signals: models.Signals{HQExperience: true, QualityScore: 0.95}},
		{ID: 4, Name: "Another Rooftop", Category: "bar", TagsCSV: "experience:rooftop", Lat: &lat, Lng: &lng, Signals: models.Signals{QualityScore: 0.6}},
	}
}

func newComposer(t *testing.T) *Composer {
	t.Helper()
	dict, err := ontology.Load()
	if err != nil {
		t.Fatalf("ontology.Load: %v", err)
	}
	ext := slotter.New(dict, slotter.DefaultConfig())
	repo := &fakeRepo{venues: sampleVenues()}
	eng := retrieval.New(repo)
	return New(ext, eng, profiles.New())
}

func TestComposeMultiIntentProducesOrderedRails(t *testing.T) {
	c := newComposer(t)
	resp, err := c.Compose(context.Background(), Request{
		Query:   "today i wanna chill, eat tom yum and go on the rooftop",
		UserGeo: &domain.GeoPoint{Lat: 13.7563, Lng: 100.5018},
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if len(resp.Rails) != 3 {
		t.Fatalf("expected 3 rails, got %d: %+v", len(resp.Rails), resp.Rails)
	}
	wantSteps := []string{"VIBE", "DISH", "EXPERIENCE"}
	for i, r := range resp.Rails {
		if r.Step != wantSteps[i] {
			t.Fatalf("rail %d step = %s, want %s", i, r.Step, wantSteps[i])
		}
	}
}

func TestComposeCrossRailDedup(t *testing.T) {
	c := newComposer(t)
	resp, err := c.Compose(context.Background(), Request{Query: "rooftop"})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	seen := make(map[int64]int)
	for _, r := range resp.Rails {
		for _, item := range r.Items {
			seen[item.ID]++
		}
	}
	for id, count := range seen {
		if count > 1 {
			t.Fatalf("venue %d appeared in %d rails, want at most 1", id, count)
		}
	}
}

func TestComposeNoIntentsReturnsEmptyReason(t *testing.T) {
	dict, err := ontology.Load()
	if err != nil {
		t.Fatalf("ontology.Load: %v", err)
	}
	cfg := slotter.DefaultConfig()
	cfg.EnableFallback = false
	ext := slotter.New(dict, cfg)
	repo := &fakeRepo{venues: sampleVenues()}
	eng := retrieval.New(repo)
	c := New(ext, eng, profiles.New())

	resp, err := c.Compose(context.Background(), Request{Query: "zzqxzq qzxzqx"})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if resp.FallbackUsed {
		t.Fatalf("expected no fallback with EnableFallback=false, got %+v", resp)
	}
	if resp.Reason != "no_intents" {
		t.Fatalf("expected reason=no_intents, got %q", resp.Reason)
	}
}

// TestComposeSurpriseModeForcesExtraordinaryEvenWhenLowestScored exercises
// the case the naive pre-diversify reorder missed: an extraordinary venue
// that would be trimmed away by a tight limit still has to survive
// force-include in surprise mode.
func TestComposeSurpriseModeForcesExtraordinaryEvenWhenLowestScored(t *testing.T) {
	dict, err := ontology.Load()
	if err != nil {
		t.Fatalf("ontology.Load: %v", err)
	}
	ext := slotter.New(dict, slotter.DefaultConfig())
	lat, lng := 13.7294, 100.5806
	repo := &fakeRepo{venues: []models.Venue{
		{ID: 10, Name: "Rooftop A", Category: "bar", TagsCSV: "experience:rooftop", Lat: &lat, Lng: &lng, Signals: models.Signals{QualityScore: 0.95}},
		{ID: 11, Name: "Rooftop B", Category: "bar", TagsCSV: "experience:rooftop", Lat: &lat, Lng: &lng, Signals: models.Signals{QualityScore: 0.9}},
		{ID: 12, Name: "Rooftop Hidden", Category: "bar", TagsCSV: "experience:rooftop", Lat: &lat, Lng: &lng, Signals: models.Signals{Extraordinary: true, QualityScore: 0.1}},
	}}
	eng := retrieval.New(repo)
	c := New(ext, eng, profiles.New())

	resp, err := c.Compose(context.Background(), Request{Query: "rooftop", Mode: ModeSurprise, LimitPerStep: 2})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if len(resp.Rails) != 1 || len(resp.Rails[0].Items) != 2 {
		t.Fatalf("expected exactly 2 items in the rooftop rail, got %+v", resp.Rails)
	}
	found := false
	for _, item := range resp.Rails[0].Items {
		if item.Signals.Extraordinary {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the extraordinary venue to be force-included despite its low score, got %+v", resp.Rails[0].Items)
	}
}

func TestComposeSurpriseModeForcesHQFirst(t *testing.T) {
	c := newComposer(t)
	resp, err := c.Compose(context.Background(), Request{Query: "rooftop", Mode: ModeSurprise})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if len(resp.Rails) != 1 || len(resp.Rails[0].Items) == 0 {
		t.Fatalf("expected a non-empty rooftop rail, got %+v", resp.Rails)
	}
	if !resp.Rails[0].Items[0].Signals.HQExperience {
		t.Fatalf("expected hq_experience venue first in surprise mode, got %+v", resp.Rails[0].Items[0])
	}
}

func TestComposeCacheHitOnRepeat(t *testing.T) {
	c := newComposer(t)
	req := Request{Query: "chill rooftop", UserGeo: &domain.GeoPoint{Lat: 13.7563, Lng: 100.5018}}

	first, err := c.Compose(context.Background(), req)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if first.CacheHit {
		t.Fatalf("first compose must be a cache miss")
	}

	second, err := c.Compose(context.Background(), req)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if !second.CacheHit {
		t.Fatalf("second identical compose should be served from the rails cache")
	}
	if len(second.Rails) != len(first.Rails) {
		t.Fatalf("cached response should carry the same rails, got %d vs %d", len(second.Rails), len(first.Rails))
	}
}
