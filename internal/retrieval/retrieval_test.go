package retrieval

import (
	"context"
	"testing"

	"entertainment-planner/internal/domain"
	"entertainment-planner/internal/models"
	"entertainment-planner/pkg/geography"
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
	lat1, lng1 := 13.7300, 100.5800 // close to user
	lat2, lng2 := 13.9000, 100.9000 // far from user
	return []models.Venue{
		{
			ID: 1, Name: "Sky High Bar", TagsCSV: "experience:rooftop,vibe:chill",
			Lat: &lat1, Lng: &lng1,
			Signals: models.Signals{HQExperience: true, QualityScore: 0.9},
		},
		{
			ID: 2, Name: "Distant Noodle House", TagsCSV: "cuisine:thai,dish:tom_yum",
			Lat: &lat2, Lng: &lng2,
			Signals: models.Signals{QualityScore: 0.4},
		},
	}
}

func TestSearchAppliesWeightsAndOrdering(t *testing.T) {
	repo := &fakeRepo{venues: sampleVenues()}
	eng := New(repo)
	userGeo := &domain.GeoPoint{Lat: 13.7294, Lng: 100.5806}

	cands, total, err := eng.Search(context.Background(), Query{
		Text:    "rooftop chill",
		Limit:   10,
		UserGeo: userGeo,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected total=2, got %d", total)
	}
	if len(cands) == 0 {
		t.Fatalf("expected candidates, got none")
	}
	if cands[0].Card.ID != 1 {
		t.Fatalf("expected venue 1 (closer, higher quality, matching tags) first, got %d", cands[0].Card.ID)
	}
}

func TestSearchInvalidSort(t *testing.T) {
	repo := &fakeRepo{venues: sampleVenues()}
	eng := New(repo)
	_, _, err := eng.Search(context.Background(), Query{Text: "rooftop", Sort: "nonsense"})
	if err == nil {
		t.Fatalf("expected INVALID_SORT error")
	}
}

func TestSearchEmptyQueryUsesEditorialRanking(t *testing.T) {
	repo := &fakeRepo{venues: sampleVenues()}
	eng := New(repo)
	cands, _, err := eng.Search(context.Background(), Query{Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(cands) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(cands))
	}
	if cands[0].Card.ID != 1 {
		t.Fatalf("expected venue with higher quality_score first, got %d", cands[0].Card.ID)
	}
}

func TestSearchRequiredTagsFilter(t *testing.T) {
	repo := &fakeRepo{venues: sampleVenues()}
	eng := New(repo)
	slot := &models.Slot{
		Canonical: "experience:rooftop",
		Filter:    models.SlotFilter{RequiredTags: []string{"signal:hq_experience"}},
	}
	cands, _, err := eng.Search(context.Background(), Query{Slot: slot, Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, c := range cands {
		if c.Card.ID == 2 {
			t.Fatalf("expected venue 2 filtered out for lacking signal:hq_experience")
		}
	}
}

// TestSearchTagFilterAnyOf covers the inclusion-set semantics: a venue
// carrying one of the slot's sibling expansion tags passes the filter.
func TestSearchTagFilterAnyOf(t *testing.T) {
	repo := &fakeRepo{venues: sampleVenues()}
	eng := New(repo)
	slot := &models.Slot{
		Canonical:     "vibe:chill",
		ExpansionTags: []string{"vibe:chill", "vibe:relaxed"},
		Filter:        models.SlotFilter{RequiredTags: []string{"vibe:chill", "vibe:relaxed"}},
	}
	cands, _, err := eng.Search(context.Background(), Query{Slot: slot, Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	found := false
	for _, c := range cands {
		if c.Card.ID == 1 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected venue 1 (tagged vibe:chill only) to satisfy the inclusion set, got %+v", cands)
	}
}

// TestSearchRadiusBoundaryInclusive: a venue at exactly the radius limit is
// included (<=, not <).
func TestSearchRadiusBoundaryInclusive(t *testing.T) {
	userGeo := &domain.GeoPoint{Lat: 13.7294, Lng: 100.5806}
	lat, lng := 13.7300, 100.5800
	repo := &fakeRepo{venues: []models.Venue{{
		ID: 9, Name: "Edge Case Cafe", TagsCSV: "vibe:chill",
		Lat: &lat, Lng: &lng,
	}}}
	eng := New(repo)

	exact := geography.Haversine(userGeo.Lat, userGeo.Lng, lat, lng)
	cands, _, err := eng.Search(context.Background(), Query{
		Text:    "chill",
		Limit:   10,
		UserGeo: userGeo,
		RadiusM: &exact,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("venue at exactly the radius boundary must be included, got %d candidates", len(cands))
	}
}
