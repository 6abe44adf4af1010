// Package ingestion implements the venue ingestion pipeline: a worker
// pool drains venues through NEW -> SUMMARIZED -> ENRICHED -> PUBLISHED,
// branching to NEEDS_REVISION or FAILED, using the Summarizer, Enricher and
// Editor capabilities and the venue store's optimistic-locking update.
package ingestion

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"entertainment-planner/internal/constants"
	"entertainment-planner/internal/domain"
	"entertainment-planner/internal/editor"
	"entertainment-planner/internal/enricher"
	"entertainment-planner/internal/models"
	"entertainment-planner/internal/summarizer"
	apperrors "entertainment-planner/pkg/errors"
	"entertainment-planner/pkg/health"
	"entertainment-planner/pkg/logging"
	"entertainment-planner/pkg/metrics"
	"entertainment-planner/pkg/utils"
)

var (
	mClaimed    = metrics.Default.Counter("ingestion_venues_claimed_total", "venues claimed by a worker")
	mPublished  = metrics.Default.Counter("ingestion_venues_published_total", "venues transitioned to PUBLISHED")
	mRevision   = metrics.Default.Counter("ingestion_venues_needs_revision_total", "venues transitioned to NEEDS_REVISION")
	mFailed     = metrics.Default.Counter("ingestion_venues_failed_total", "venues transitioned to FAILED")
	mStaleWrite = metrics.Default.Counter("ingestion_stale_writes_total", "optimistic-lock conflicts retried")
	mStepDur    = metrics.Default.Histogram("ingestion_step_duration_seconds", "duration of one pipeline step", nil)
)

// maxUpdateRetries bounds the STALE_WRITE retry loop on a single patch.
const maxUpdateRetries = 3

// Summarizer is the summarize capability the pipeline drives. Satisfied by
// *summarizer.AIScorer; tests substitute a stub.
type Summarizer interface {
	Summarize(ctx context.Context, name, category, description string) (summarizer.Result, error)
}

// Enricher is the geocode/enrich capability. Satisfied by
// *enricher.GoogleEnricher.
type Enricher interface {
	Enrich(ctx context.Context, name, address string) (*enricher.Result, error)
}

// Editor is the publish-or-revise decision capability. Satisfied by
// *editor.Engine.
type Editor interface {
	Evaluate(ctx context.Context, v *models.Venue) editor.Outcome
}

// Pipeline owns the worker pool lifecycle, mirroring
// internal/refresh.Scheduler's Start/Stop-with-sync.Once shape.
type Pipeline struct {
	repo       domain.Repository
	summarizer Summarizer
	enricher   Enricher
	editor     Editor
	logger     *logging.ComponentLogger

	workerCount  int
	pollInterval time.Duration
	jobTimeout   time.Duration
	batchSize    int

	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup

	lastErr errHolder
}

// errHolder is a tiny concurrency-safe string holder for the last pipeline
// error, surfaced by Check for the process-wide health endpoint.
type errHolder struct {
	mu  sync.RWMutex
	val string
}

func (h *errHolder) set(v string) { h.mu.Lock(); h.val = v; h.mu.Unlock() }
func (h *errHolder) get() string  { h.mu.RLock(); defer h.mu.RUnlock(); return h.val }

// Config tunes the worker pool.
type Config struct {
	WorkerCount  int
	PollInterval time.Duration
	JobTimeout   time.Duration
	BatchSize    int
}

func DefaultConfig() Config {
	return Config{
		WorkerCount:  4,
		PollInterval: 2 * time.Second,
		JobTimeout:   constants.IngestJobTimeoutDefault,
		BatchSize:    10,
	}
}

func New(repo domain.Repository, summ Summarizer, enr Enricher, ed Editor, logger *logging.Logger, cfg Config) *Pipeline {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultConfig().WorkerCount
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultConfig().JobTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	return &Pipeline{
		repo:         repo,
		summarizer:   summ,
		enricher:     enr,
		editor:       ed,
		logger:       logger.WithComponent("ingestion"),
		workerCount:  cfg.WorkerCount,
		pollInterval: cfg.PollInterval,
		jobTimeout:   cfg.JobTimeout,
		batchSize:    cfg.BatchSize,
		shutdown:     make(chan struct{}),
	}
}

// Start launches the worker pool; each worker runs its own poll loop so a
// slow venue in one worker never starves the others.
func (p *Pipeline) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop signals all workers to exit and waits, bounded by timeout.
func (p *Pipeline) Stop(timeout time.Duration) error {
	var err error
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(timeout):
			err = context.DeadlineExceeded
		}
	})
	return err
}

var pipelineStatuses = []models.Status{
	models.StatusNew,
	models.StatusNeedsRevision,
	models.StatusSummarized,
	models.StatusEnriched,
}

func (p *Pipeline) worker(id int) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	// Stagger each worker's poll offset so the pool doesn't hit BatchCtx
	// in lockstep.
	time.Sleep(time.Duration(id) * p.pollInterval / time.Duration(p.workerCount+1))

	for {
		select {
		case <-p.shutdown:
			return
		case <-ticker.C:
			p.drainOnce()
		}
	}
}

// drainOnce claims one small batch per status and processes it synchronously
// within this worker; BatchCtx is expected to be implemented with a
// claim-style read (e.g. SELECT ... FOR UPDATE SKIP LOCKED) so concurrent
// workers don't double-process the same row.
func (p *Pipeline) drainOnce() {
	for _, status := range pipelineStatuses {
		ctx, cancel := context.WithTimeout(context.Background(), p.jobTimeout)
		batch, err := p.repo.BatchCtx(ctx, status, p.batchSize)
		cancel()
		if err != nil {
			p.logger.Warn("batch claim failed", logging.String("status", string(status)), logging.String("error", err.Error()))
			continue
		}
		for _, v := range batch {
			mClaimed.Inc(1)
			p.processOne(v)
		}
	}
}

// processOne advances one venue exactly one pipeline step, bounded by
// jobTimeout, and persists the result via an optimistic-locking patch with
// bounded STALE_WRITE retry.
func (p *Pipeline) processOne(v models.Venue) {
	ctx, cancel := context.WithTimeout(context.Background(), p.jobTimeout)
	defer cancel()

	timer := mStepDur.Start()
	defer timer.Observe()

	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		patch, nextStatus, stepErr := p.runStep(ctx, v)
		if stepErr != nil {
			p.logger.Warn("pipeline step failed", logging.String("status", string(v.Status)), logging.Int64("venue_id", v.ID), logging.String("error", stepErr.Error()))
			return
		}

		err := p.repo.UpdateCtx(ctx, v.ID, patch, v.Version)
		if err == nil {
			p.countTransition(nextStatus)
			p.lastErr.set("")
			return
		}
		if isStaleWrite(err) {
			mStaleWrite.Inc(1)
			fresh, refetchErr := p.repo.GetByIDCtx(ctx, v.ID)
			if refetchErr != nil {
				p.logger.Warn("refetch after stale write failed", logging.Int64("venue_id", v.ID), logging.String("error", refetchErr.Error()))
				p.lastErr.set(refetchErr.Error())
				return
			}
			v = *fresh
			continue
		}
		p.logger.Warn("update failed", logging.Int64("venue_id", v.ID), logging.String("error", err.Error()))
		p.lastErr.set(err.Error())
		return
	}
	p.logger.Warn("gave up after repeated stale writes", logging.Int64("venue_id", v.ID))
	p.lastErr.set("repeated stale writes on venue " + v.SourceID)
}

func (p *Pipeline) countTransition(status models.Status) {
	switch status {
	case models.StatusPublished:
		mPublished.Inc(1)
	case models.StatusNeedsRevision:
		mRevision.Inc(1)
	case models.StatusFailed:
		mFailed.Inc(1)
	}
}

// runStep computes the patch for one state transition without touching
// storage, so the caller can retry it cleanly against a refetched venue.
func (p *Pipeline) runStep(ctx context.Context, v models.Venue) (domain.VenuePatch, models.Status, error) {
	switch v.Status {
	case models.StatusNew, models.StatusNeedsRevision:
		return p.summarizeStep(ctx, v)
	case models.StatusSummarized:
		return p.enrichStep(ctx, v)
	case models.StatusEnriched:
		return p.editStep(ctx, v)
	default:
		return domain.VenuePatch{}, v.Status, apperrors.NewFatal("ingestion.runStep", "FATAL_INVARIANT", "venue in unhandled status: "+string(v.Status), nil)
	}
}

func (p *Pipeline) summarizeStep(ctx context.Context, v models.Venue) (domain.VenuePatch, models.Status, error) {
	attempts := v.Attempts
	attempts.Summarizer++

	result, err := p.summarizer.Summarize(ctx, v.Name, v.Category, v.Description)
	if err != nil {
		if attempts.Summarizer >= constants.IngestMaxAttempts {
			status := models.StatusFailed
			msg := err.Error()
			return domain.VenuePatch{
				Status:           &status,
				Attempts:         &attempts,
				LastError:        &msg,
				AppendDiagnostic: &models.DiagnosticEntry{Agent: "summarizer", Level: "error", Code: "NO_SUMMARY", Note: msg, Ts: time.Now()},
			}, status, nil
		}
		msg := err.Error()
		return domain.VenuePatch{
			Attempts:         &attempts,
			LastError:        &msg,
			AppendDiagnostic: &models.DiagnosticEntry{Agent: "summarizer", Level: "warn", Code: "NO_SUMMARY", Note: msg, Ts: time.Now()},
		}, v.Status, nil
	}

	status := models.StatusSummarized
	tagsCSV := joinTags(result.Tags)
	return domain.VenuePatch{
		Status:           &status,
		Summary:          &result.Summary,
		TagsCSV:          &tagsCSV,
		Signals:          &result.Signals,
		Attempts:         &attempts,
		AppendDiagnostic: &models.DiagnosticEntry{Agent: "summarizer", Level: "info", Code: "OK", Ts: time.Now()},
	}, status, nil
}

func (p *Pipeline) enrichStep(ctx context.Context, v models.Venue) (domain.VenuePatch, models.Status, error) {
	attempts := v.Attempts
	attempts.Enricher++

	address := ""
	if v.Address != nil {
		address = *v.Address
	}
	result, err := p.enricher.Enrich(ctx, v.Name, address)
	if err != nil {
		if isNotFound(err) {
			// NOT_FOUND: proceed to the editor with whatever geo the source
			// already supplied rather than blocking the whole record.
			status := models.StatusEnriched
			msg := err.Error()
			return domain.VenuePatch{
				Status:           &status,
				Attempts:         &attempts,
				LastError:        &msg,
				AppendDiagnostic: &models.DiagnosticEntry{Agent: "enricher", Level: "warn", Code: "NOT_FOUND", Note: msg, Ts: time.Now()},
			}, status, nil
		}
		if attempts.Enricher >= constants.IngestMaxAttempts {
			status := models.StatusNeedsRevision
			msg := err.Error()
			return domain.VenuePatch{
				Status:           &status,
				Attempts:         &attempts,
				LastError:        &msg,
				AppendDiagnostic: &models.DiagnosticEntry{Agent: "enricher", Level: "error", Code: "PROVIDER_ERROR", Note: msg, Ts: time.Now()},
			}, status, nil
		}
		msg := err.Error()
		return domain.VenuePatch{
			Attempts:         &attempts,
			LastError:        &msg,
			AppendDiagnostic: &models.DiagnosticEntry{Agent: "enricher", Level: "warn", Code: "PROVIDER_ERROR", Note: msg, Ts: time.Now()},
		}, v.Status, nil
	}

	status := models.StatusEnriched
	lat, lng := result.Lat, result.Lng
	placeID := result.GooglePlaceID
	website, phone := result.Website, result.Phone
	diag := &models.DiagnosticEntry{Agent: "enricher", Level: "info", Code: "OK", Ts: time.Now()}
	if conflicts := conflictNotes(v, result); len(conflicts) > 0 {
		diag.Level = "warn"
		diag.Code = "DATA_CONFLICT"
		diag.Note = strings.Join(conflicts, "; ")
	}
	patch := domain.VenuePatch{
		Status:           &status,
		Lat:              &lat,
		Lng:              &lng,
		GooglePlaceID:    &placeID,
		Hours:            result.Hours,
		Website:          &website,
		Phone:            &phone,
		Attempts:         &attempts,
		AppendDiagnostic: diag,
	}
	if result.FormattedAddress != "" {
		patch.Address = &result.FormattedAddress
	}
	if result.Rating != nil {
		patch.Rating = result.Rating
	}
	if result.PriceLevel != nil {
		patch.PriceLevel = result.PriceLevel
	}
	if len(result.PhotoURLs) > 0 {
		patch.PictureURL = &result.PhotoURLs[0]
	}
	return patch, status, nil
}

func (p *Pipeline) editStep(ctx context.Context, v models.Venue) (domain.VenuePatch, models.Status, error) {
	working := v
	outcome := p.editor.Evaluate(ctx, &working)

	patch := domain.VenuePatch{
		Status:       &working.Status,
		QualityFlags: &working.QualityFlags,
		Attempts:     &working.Attempts,
	}
	if outcome.Status == models.StatusPublished {
		patch.PublishNow = true
	}
	reason := outcome.Reason
	patch.AppendDiagnostic = &models.DiagnosticEntry{Agent: "editor", Level: "info", Code: string(outcome.Status), Note: reason, Ts: time.Now()}
	patch.AppendEvent = outcome.Event
	return patch, outcome.Status, nil
}

// conflictSimilarityFloor is the comparator score below which a field the
// source already carried is considered to disagree with the provider's value.
const conflictSimilarityFloor = 0.5

// conflictNotes diffs the provider's resolved contact fields against what the
// source record already carried, so a wrong place match surfaces as a
// DATA_CONFLICT diagnostic instead of silently overwriting the record.
func conflictNotes(v models.Venue, result *enricher.Result) []string {
	var notes []string
	if v.Address != nil && *v.Address != "" && result.FormattedAddress != "" {
		if sim := utils.CompareAddresses(*v.Address, result.FormattedAddress); sim < conflictSimilarityFloor {
			notes = append(notes, fmt.Sprintf("address mismatch (similarity %.2f)", sim))
		}
	}
	if v.Phone != nil && *v.Phone != "" && result.Phone != "" {
		if sim := utils.ComparePhoneNumbers(*v.Phone, result.Phone); sim < conflictSimilarityFloor {
			notes = append(notes, fmt.Sprintf("phone mismatch (similarity %.2f)", sim))
		}
	}
	if v.Website != nil && *v.Website != "" && result.Website != "" {
		if sim := utils.CompareURLs(*v.Website, result.Website); sim < conflictSimilarityFloor {
			notes = append(notes, fmt.Sprintf("website mismatch (similarity %.2f)", sim))
		}
	}
	return notes
}

func isStaleWrite(err error) bool {
	if ext, ok := err.(*apperrors.ExternalAPIError); ok {
		return ext.Code == "STALE_WRITE"
	}
	if biz, ok := err.(*apperrors.BizError); ok {
		return biz.Code == "STALE_WRITE"
	}
	return false
}

func isNotFound(err error) bool {
	biz, ok := err.(*apperrors.BizError)
	return ok && biz.Code == "NOT_FOUND"
}

func joinTags(tags []string) string {
	out := ""
	for i, t := range tags {
		if i > 0 {
			out += ","
		}
		out += t
	}
	return out
}

// Name/Check satisfy pkg/health.HealthChecker so the pipeline's last error
// surfaces on the process-wide health endpoint.
func (p *Pipeline) Name() string { return "ingestion_pipeline" }

func (p *Pipeline) Check(ctx context.Context) health.ComponentHealth {
	status := health.HealthStatusHealthy
	msg := p.lastErr.get()
	if msg != "" {
		status = health.HealthStatusDegraded
	}
	return health.ComponentHealth{
		Name:        p.Name(),
		Status:      status,
		Message:     msg,
		LastChecked: time.Now(),
		Metadata: map[string]interface{}{
			"worker_count": p.workerCount,
		},
	}
}
