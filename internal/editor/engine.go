// Package editor implements the Editor/Validator and Publisher capabilities
// of the ingestion pipeline: it computes per-field quality flags, evaluates
// the publish specification, and decides whether an ENRICHED venue is
// published, sent back for revision, or failed outright.
package editor

import (
	"context"
	"time"

	"entertainment-planner/internal/constants"
	"entertainment-planner/internal/domain"
	"entertainment-planner/internal/domain/specs"
	"entertainment-planner/internal/models"
	"entertainment-planner/pkg/events"
)

// Engine evaluates venue quality and publish eligibility.
type Engine struct {
	publishSpec specs.Specification[models.Venue]
	budgetSpec  specs.Specification[models.Venue]
}

func NewEngine() *Engine {
	return &Engine{
		publishSpec: specs.BuildPublishSpecFromEnv(),
		budgetSpec:  specs.BuildRevisionBudgetSpecFromEnv(),
	}
}

// Outcome is the Editor's decision for one venue. Event carries the
// lifecycle event to append; the caller attaches it to the same VenuePatch
// as the status transition so UpdateCtx persists both in one transaction
// instead of the Editor appending it independently.
type Outcome struct {
	Status      models.Status
	Diagnostics []models.DiagnosticEntry
	Reason      string
	Event       *domain.EventAppend
}

// Evaluate computes quality flags on venue (mutating it in place) and decides
// whether it transitions to PUBLISHED, NEEDS_REVISION or FAILED. The caller
// persists the resulting patch, including Outcome.Event.
func (e *Engine) Evaluate(ctx context.Context, venue *models.Venue) Outcome {
	venue.QualityFlags = computeQualityFlags(*venue)

	if specs.Evaluate(ctx, e.publishSpec, *venue) {
		now := time.Now()
		venue.Status = models.StatusPublished
		venue.PublishedAt = &now
		ev := events.VenuePublished{Base: events.Base{Ts: now, VID: venue.ID, Agt: "editor"}}
		return Outcome{Status: models.StatusPublished, Reason: "meets publish spec", Event: toEventAppend(ev)}
	}

	issues := missingCriteria(*venue)

	if !specs.Evaluate(ctx, e.budgetSpec, *venue) {
		venue.Status = models.StatusFailed
		reason := "editor revision budget exhausted"
		ev := events.VenueFailed{Base: events.Base{Ts: time.Now(), VID: venue.ID, Agt: "editor"}, Reason: reason}
		return Outcome{Status: models.StatusFailed, Reason: reason, Event: toEventAppend(ev)}
	}

	venue.Status = models.StatusNeedsRevision
	venue.Attempts.EditorCycles++
	reason := "does not meet publish spec"
	ev := events.VenueNeedsRevision{Base: events.Base{Ts: time.Now(), VID: venue.ID, Agt: "editor"}, Reason: reason, Issues: issues}
	return Outcome{Status: models.StatusNeedsRevision, Reason: reason, Diagnostics: venue.Diagnostics, Event: toEventAppend(ev)}
}

// toEventAppend flattens a typed pkg/events.Event into the raw row shape
// domain.VenuePatch carries, so the Editor never holds a direct EventStore
// reference and never double-appends on a STALE_WRITE retry.
func toEventAppend(ev events.Event) *domain.EventAppend {
	payload, err := ev.MarshalData()
	if err != nil {
		return nil
	}
	return &domain.EventAppend{Type: ev.Type(), Agent: ev.Agent(), Payload: payload}
}

// computeQualityFlags classifies each field per the thresholds in
// internal/constants/thresholds.go.
func computeQualityFlags(v models.Venue) models.QualityFlags {
	return models.QualityFlags{
		Summary: summaryFlag(v.Summary),
		Tags:    tagsFlag(v.TagsCSV),
		Photos:  photosFlag(v.PictureURL),
		Coords:  coordsFlag(v),
	}
}

func summaryFlag(summary string) models.QualityFlag {
	n := len([]rune(summary))
	switch {
	case n == 0:
		return models.QualityMissing
	case n < constants.SummaryWeakMax:
		return models.QualityWeak
	case n < constants.SummaryGoodMax:
		return models.QualityGood
	default:
		return models.QualityExcellent
	}
}

func tagsFlag(tagsCSV string) models.QualityFlag {
	n := countTags(tagsCSV)
	switch {
	case n <= constants.TagsSparseMax:
		return models.QualitySparse
	case n <= constants.TagsGoodMax:
		return models.QualityGood
	default:
		return models.QualityRich
	}
}

func countTags(tagsCSV string) int {
	if tagsCSV == "" {
		return 0
	}
	n := 0
	start := 0
	for i := 0; i <= len(tagsCSV); i++ {
		if i == len(tagsCSV) || tagsCSV[i] == ',' {
			if i > start {
				n++
			}
			start = i + 1
		}
	}
	return n
}

func photosFlag(pictureURL *string) models.QualityFlag {
	if pictureURL == nil || *pictureURL == "" {
		return models.QualityMissing
	}
	return models.QualityOK
}

func coordsFlag(v models.Venue) models.QualityFlag {
	if v.HasValidGeo() {
		return models.QualityPresent
	}
	return models.QualityMissing
}

// missingCriteria names the publish spec clauses a venue currently fails,
// for the diagnostics attached to its NEEDS_REVISION event.
func missingCriteria(v models.Venue) []string {
	var issues []string
	if v.Name == "" {
		issues = append(issues, "missing_name")
	}
	if !v.HasValidGeo() {
		issues = append(issues, "missing_coords")
	}
	if !v.HasDescriptionOrSummary() {
		issues = append(issues, "missing_description_or_summary")
	}
	if v.QualityFlags.Summary == models.QualityWeak || v.QualityFlags.Summary == models.QualityMissing {
		issues = append(issues, "weak_summary")
	}
	if v.QualityFlags.Tags == models.QualitySparse || v.QualityFlags.Tags == models.QualityMissing {
		issues = append(issues, "sparse_tags")
	}
	for _, d := range v.Diagnostics {
		if d.Level == "error" {
			issues = append(issues, "fatal_diagnostic:"+d.Code)
		}
	}
	return issues
}
