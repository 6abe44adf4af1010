package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"entertainment-planner/internal/domain"
	"entertainment-planner/internal/models"
	"entertainment-planner/internal/ontology"
	"entertainment-planner/internal/profiles"
	"entertainment-planner/internal/rails"
	"entertainment-planner/internal/retrieval"
	"entertainment-planner/internal/slotter"
	"entertainment-planner/pkg/config"
	"entertainment-planner/pkg/events"
	"entertainment-planner/pkg/health"
	"entertainment-planner/pkg/logging"
)

type fakeRepo struct {
	venues []models.Venue
}

func (f *fakeRepo) GetByIDCtx(ctx context.Context, id int64) (*models.Venue, error) {
	for i := range f.venues {
		if f.venues[i].ID == id {
			v := f.venues[i]
			return &v, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) FindBySourceIDCtx(ctx context.Context, sourceID string) (*models.Venue, error) {
	return nil, nil
}

func (f *fakeRepo) BatchCtx(ctx context.Context, status models.Status, limit int) ([]models.Venue, error) {
	return nil, nil
}

func (f *fakeRepo) UpdateCtx(ctx context.Context, id int64, patch domain.VenuePatch, expectedVersion int64) error {
	return nil
}

func (f *fakeRepo) SearchViewCtx(ctx context.Context, text string, filters domain.SearchFilters, sort string, limit, offset int, userGeo *domain.GeoPoint) ([]models.Venue, int, error) {
	return f.venues, len(f.venues), nil
}

func (f *fakeRepo) AppendEventCtx(ctx context.Context, venueID int64, eventType, agent string, payload []byte) error {
	return nil
}

func (f *fakeRepo) ListEventsCtx(ctx context.Context, venueID int64) ([]models.VenueEvent, error) {
	return nil, nil
}

type fakeEventStore struct{}

func (fakeEventStore) Append(ctx context.Context, e events.Event) error { return nil }
func (fakeEventStore) ListByVenue(ctx context.Context, venueID int64) ([]events.StoredEvent, error) {
	return []events.StoredEvent{{Seq: 1, VenueID: venueID, Type: events.TypePublished}}, nil
}
func (fakeEventStore) ReplayVenue(ctx context.Context, venueID int64) (*events.RebuiltState, error) {
	return nil, nil
}

func sampleVenues() []models.Venue {
	lat, lng := 13.7294, 100.5806
	return []models.Venue{
		{ID: 1, Name: "Chill Cafe", Category: "cafe", TagsCSV: "vibe:chill", Summary: "A chill cafe.", Lat: &lat, Lng: &lng, Signals: models.Signals{QualityScore: 0.7}, Status: models.StatusPublished},
		{ID: 2, Name: "Tom Yum House", Category: "restaurant", TagsCSV: "dish:tom_yum,cuisine:thai", Summary: "Tom yum specialists.", Lat: &lat, Lng: &lng, Signals: models.Signals{QualityScore: 0.8}, Status: models.StatusPublished},
		{ID: 3, Name: "Rooftop Lounge", Category: "bar", TagsCSV: "experience:rooftop", Summary: "Skyline views.", Lat: &lat, Lng: &lng, Signals: models.Signals{HQExperience: true, QualityScore: 0.95}, Status: models.StatusPublished},
	}
}

func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()
	logger, err := logging.NewLogger(logging.LogConfig{Level: logging.LevelError, Format: "json", Output: "stdout"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	dict, err := ontology.Load()
	if err != nil {
		t.Fatalf("ontology.Load: %v", err)
	}
	repo := &fakeRepo{venues: sampleVenues()}
	extractor := slotter.New(dict, slotter.DefaultConfig())
	engine := retrieval.New(repo)
	sessions := profiles.New()
	composer := rails.New(extractor, engine, sessions)
	hm := health.NewHealthManager(health.DefaultHealthConfig(), logger)
	cfg := &config.Config{SlotterDebug: true, AdminToken: "secret"}

	srv := NewServer(cfg, repo, dict, extractor, engine, composer, sessions, hm, fakeEventStore{}, nil, logger)
	router := mux.NewRouter()
	srv.Register(router)
	return router
}

func TestParseEndpoint(t *testing.T) {
	router := newTestRouter(t)
	body := `{"query": "today i wanna chill, eat tom yum and go on the rooftop"}`
	req := httptest.NewRequest(http.MethodPost, "/api/parse", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var result models.SlotterResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(result.Slots) != 3 {
		t.Fatalf("expected 3 slots, got %+v", result.Slots)
	}
	for i := 1; i < len(result.Slots); i++ {
		if result.Slots[i].Position <= result.Slots[i-1].Position {
			t.Fatalf("slot positions not strictly increasing: %+v", result.Slots)
		}
	}
}

func TestRailsEndpointDisjointRails(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/rails?q=chill+and+rooftop&user_lat=13.7563&user_lng=100.5018", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Mode") != "light" {
		t.Fatalf("expected X-Mode debug header, got %q", rec.Header().Get("X-Mode"))
	}
	var resp models.RailsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	seen := map[int64]bool{}
	for _, rail := range resp.Rails {
		for _, item := range rail.Items {
			if seen[item.ID] {
				t.Fatalf("venue %d appears in more than one rail", item.ID)
			}
			seen[item.ID] = true
		}
	}
}

func TestSearchInvalidSortReturns400(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/places/search?q=tom+yum&sort=nonsense", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var body map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["code"] != "INVALID_SORT" {
		t.Fatalf("expected INVALID_SORT code, got %+v", body)
	}
}

func TestFeedbackAndProfileRoundTrip(t *testing.T) {
	router := newTestRouter(t)
	body := `{"session_id": "sess-1", "place_id": 1, "action": "like"}`
	req := httptest.NewRequest(http.MethodPost, "/api/feedback", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("feedback status = %d, body %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/feedback/profile/sess-1", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("profile status = %d", rec.Code)
	}
	var profile models.SessionProfile
	if err := json.Unmarshal(rec.Body.Bytes(), &profile); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if profile.VibeVector["vibe:chill"] <= 0 {
		t.Fatalf("expected liked venue's tag in vibe vector, got %+v", profile.VibeVector)
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/admin/cache/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/cache/stats", nil)
	req.Header.Set("X-Admin-Token", "secret")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
