package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"entertainment-planner/internal/domain"
	"entertainment-planner/internal/editor"
	"entertainment-planner/internal/enricher"
	"entertainment-planner/internal/models"
	"entertainment-planner/internal/summarizer"
	apperrors "entertainment-planner/pkg/errors"
	"entertainment-planner/pkg/logging"
)

type stubSummarizer struct {
	result summarizer.Result
	err    error
}

func (s *stubSummarizer) Summarize(ctx context.Context, name, category, description string) (summarizer.Result, error) {
	return s.result, s.err
}

type stubEnricher struct {
	result *enricher.Result
	err    error
}

func (s *stubEnricher) Enrich(ctx context.Context, name, address string) (*enricher.Result, error) {
	return s.result, s.err
}

// memRepo applies patches to an in-memory venue, bumping the version the way
// the SQL store does, and can inject a bounded run of STALE_WRITE failures.
type memRepo struct {
	venue       models.Venue
	updates     []domain.VenuePatch
	staleWrites int
}

func (r *memRepo) GetByIDCtx(ctx context.Context, id int64) (*models.Venue, error) {
	v := r.venue
	return &v, nil
}

func (r *memRepo) FindBySourceIDCtx(ctx context.Context, sourceID string) (*models.Venue, error) {
	v := r.venue
	return &v, nil
}

func (r *memRepo) BatchCtx(ctx context.Context, status models.Status, limit int) ([]models.Venue, error) {
	if r.venue.Status == status {
		return []models.Venue{r.venue}, nil
	}
	return nil, nil
}

func (r *memRepo) UpdateCtx(ctx context.Context, id int64, patch domain.VenuePatch, expectedVersion int64) error {
	if r.staleWrites > 0 {
		r.staleWrites--
		return apperrors.NewBizCode("memRepo.UpdateCtx", "STALE_WRITE", "version mismatch", nil)
	}
	if expectedVersion != r.venue.Version {
		return apperrors.NewBizCode("memRepo.UpdateCtx", "STALE_WRITE", "version mismatch", nil)
	}
	r.updates = append(r.updates, patch)
	if patch.Status != nil {
		r.venue.Status = *patch.Status
	}
	if patch.Summary != nil {
		r.venue.Summary = *patch.Summary
	}
	if patch.TagsCSV != nil {
		r.venue.TagsCSV = *patch.TagsCSV
	}
	if patch.Lat != nil {
		r.venue.Lat = patch.Lat
	}
	if patch.Lng != nil {
		r.venue.Lng = patch.Lng
	}
	if patch.Signals != nil {
		r.venue.Signals = *patch.Signals
	}
	if patch.QualityFlags != nil {
		r.venue.QualityFlags = *patch.QualityFlags
	}
	if patch.Attempts != nil {
		r.venue.Attempts = *patch.Attempts
	}
	if patch.PictureURL != nil {
		r.venue.PictureURL = patch.PictureURL
	}
	if patch.PublishNow {
		now := time.Now()
		r.venue.PublishedAt = &now
	}
	if patch.AppendDiagnostic != nil {
		r.venue.Diagnostics = append(r.venue.Diagnostics, *patch.AppendDiagnostic)
	}
	r.venue.Version++
	return nil
}

func (r *memRepo) SearchViewCtx(ctx context.Context, text string, filters domain.SearchFilters, sort string, limit, offset int, userGeo *domain.GeoPoint) ([]models.Venue, int, error) {
	return nil, 0, nil
}

func (r *memRepo) AppendEventCtx(ctx context.Context, venueID int64, eventType, agent string, payload []byte) error {
	return nil
}

func (r *memRepo) ListEventsCtx(ctx context.Context, venueID int64) ([]models.VenueEvent, error) {
	return nil, nil
}

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	l, err := logging.NewLogger(logging.LogConfig{Level: logging.LevelError, Format: "json", Output: "stdout"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	return l
}

func newTestPipeline(t *testing.T, repo *memRepo, summ Summarizer, enr Enricher) *Pipeline {
	t.Helper()
	return New(repo, summ, enr, editor.NewEngine(), testLogger(t), DefaultConfig())
}

func validEnrichResult() *enricher.Result {
	return &enricher.Result{
		GooglePlaceID: "place-1",
		Lat:           13.7563,
		Lng:           100.5018,
		PhotoURLs:     []string{"https://example.com/p.jpg"},
	}
}

// TestLifecycleNewToPublished drives one record through the full state
// machine: summarize, enrich with a stubbed geocoder, then the editor
// publishes it with coords marked present and published_at stamped.
func TestLifecycleNewToPublished(t *testing.T) {
	repo := &memRepo{venue: models.Venue{
		ID:          1,
		Name:        "Riverside Kitchen",
		Category:    "restaurant",
		Description: "A long-standing riverside restaurant serving classic Thai dishes with a view of the water and a quiet terrace for sunset dinners.",
		Status:      models.StatusNew,
		Version:     1,
	}}
	summ := &stubSummarizer{result: summarizer.Result{
		Summary: "Classic Thai cooking on the river, with a quiet terrace made for slow sunset dinners over tom yum and grilled fish.",
		Tags:    []string{"cuisine:thai", "dish:tom_yum", "vibe:chill"},
		Signals: models.Signals{QualityScore: 0.8},
	}}
	p := newTestPipeline(t, repo, summ, &stubEnricher{result: validEnrichResult()})

	p.processOne(repo.venue)
	if repo.venue.Status != models.StatusSummarized {
		t.Fatalf("after summarize step, status = %s, want SUMMARIZED", repo.venue.Status)
	}
	if repo.venue.Summary == "" || repo.venue.TagsCSV == "" {
		t.Fatalf("expected summary and tags set, got %+v", repo.venue)
	}
	if repo.venue.Attempts.Summarizer != 1 {
		t.Fatalf("expected summarizer attempts = 1, got %d", repo.venue.Attempts.Summarizer)
	}

	p.processOne(repo.venue)
	if repo.venue.Status != models.StatusEnriched {
		t.Fatalf("after enrich step, status = %s, want ENRICHED", repo.venue.Status)
	}
	if repo.venue.Lat == nil || repo.venue.Lng == nil || *repo.venue.Lat != 13.7563 {
		t.Fatalf("expected valid coords, got %+v", repo.venue)
	}

	p.processOne(repo.venue)
	if repo.venue.Status != models.StatusPublished {
		t.Fatalf("after edit step, status = %s, want PUBLISHED", repo.venue.Status)
	}
	if repo.venue.QualityFlags.Coords != models.QualityPresent {
		t.Fatalf("expected coords quality flag present, got %s", repo.venue.QualityFlags.Coords)
	}
	if repo.venue.PublishedAt == nil {
		t.Fatalf("expected published_at stamped")
	}
}

func TestSummarizeFailureExhaustsAttemptsToFailed(t *testing.T) {
	repo := &memRepo{venue: models.Venue{
		ID:      2,
		Name:    "No Description Bar",
		Status:  models.StatusNew,
		Version: 1,
	}}
	summ := &stubSummarizer{err: apperrors.NewBizCode("stub", "NO_SUMMARY", "nothing to summarize", nil)}
	p := newTestPipeline(t, repo, summ, &stubEnricher{result: validEnrichResult()})

	for i := 0; i < 3; i++ {
		p.processOne(repo.venue)
	}
	if repo.venue.Status != models.StatusFailed {
		t.Fatalf("after 3 failed attempts, status = %s, want FAILED", repo.venue.Status)
	}
	if repo.venue.Attempts.Summarizer != 3 {
		t.Fatalf("expected 3 summarizer attempts, got %d", repo.venue.Attempts.Summarizer)
	}
}

func TestEnricherNotFoundProceedsToEditor(t *testing.T) {
	repo := &memRepo{venue: models.Venue{
		ID:      3,
		Name:    "Unmappable Cafe",
		Summary: "A cafe.",
		Status:  models.StatusSummarized,
		Version: 1,
	}}
	enr := &stubEnricher{err: apperrors.NewBizCode("stub", "NOT_FOUND", "no place found", nil)}
	p := newTestPipeline(t, repo, &stubSummarizer{}, enr)

	p.processOne(repo.venue)
	if repo.venue.Status != models.StatusEnriched {
		t.Fatalf("NOT_FOUND should advance to ENRICHED with source geo, got %s", repo.venue.Status)
	}
	found := false
	for _, d := range repo.venue.Diagnostics {
		if d.Code == "NOT_FOUND" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected NOT_FOUND diagnostic, got %+v", repo.venue.Diagnostics)
	}
}

func TestEnricherProviderErrorRetriesThenNeedsRevision(t *testing.T) {
	repo := &memRepo{venue: models.Venue{
		ID:      4,
		Name:    "Flaky Provider Bistro",
		Summary: "A bistro.",
		Status:  models.StatusSummarized,
		Version: 1,
	}}
	enr := &stubEnricher{err: apperrors.NewTransient("stub", "google", "PROVIDER_ERROR", "upstream 500", errors.New("boom"))}
	p := newTestPipeline(t, repo, &stubSummarizer{}, enr)

	for i := 0; i < 3; i++ {
		p.processOne(repo.venue)
	}
	if repo.venue.Status != models.StatusNeedsRevision {
		t.Fatalf("after exhausting enricher attempts, status = %s, want NEEDS_REVISION", repo.venue.Status)
	}
	if repo.venue.Attempts.Enricher != 3 {
		t.Fatalf("expected 3 enricher attempts, got %d", repo.venue.Attempts.Enricher)
	}
}

// TestStaleWriteRefetchesAndRetries: a conflicting write fails with
// STALE_WRITE and the step re-runs against the refetched record, landing
// exactly one applied update.
func TestStaleWriteRefetchesAndRetries(t *testing.T) {
	repo := &memRepo{
		venue: models.Venue{
			ID:          5,
			Name:        "Contended Diner",
			Description: "A diner that two workers happened to claim at once.",
			Status:      models.StatusNew,
			Version:     7,
		},
		staleWrites: 2,
	}
	summ := &stubSummarizer{result: summarizer.Result{
		Summary: "A neighborhood diner.",
		Tags:    []string{"cuisine:american"},
	}}
	p := newTestPipeline(t, repo, summ, &stubEnricher{result: validEnrichResult()})

	p.processOne(repo.venue)
	if len(repo.updates) != 1 {
		t.Fatalf("expected exactly one applied update after stale-write retries, got %d", len(repo.updates))
	}
	if repo.venue.Status != models.StatusSummarized {
		t.Fatalf("expected SUMMARIZED after retry, got %s", repo.venue.Status)
	}
}

func TestConflictNotesFlagDivergentContactData(t *testing.T) {
	addr := "99 Imaginary Road, Faraway District"
	phone := "+66 2 111 2222"
	v := models.Venue{Address: &addr, Phone: &phone}
	res := &enricher.Result{
		FormattedAddress: "123 Sukhumvit Soi 11, Khlong Toei Nuea, Bangkok",
		Phone:            "+66 81 999 8888",
	}
	notes := conflictNotes(v, res)
	if len(notes) == 0 {
		t.Fatalf("expected conflict notes for divergent address/phone, got none")
	}
}
