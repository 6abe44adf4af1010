package specs

import (
	"context"
	"strings"

	"entertainment-planner/internal/models"
)

// HasName requires a non-empty, non-whitespace venue name.
func HasName() Specification[models.Venue] {
	return New(func(ctx context.Context, v models.Venue) bool {
		if ctx.Err() != nil {
			return false
		}
		return strings.TrimSpace(v.Name) != ""
	})
}

// HasValidCoords requires lat/lng to be present and within range.
func HasValidCoords() Specification[models.Venue] {
	return New(func(ctx context.Context, v models.Venue) bool {
		if ctx.Err() != nil {
			return false
		}
		return v.HasValidGeo()
	})
}

// HasDescriptionOrSummary requires at least one of description/summary to be
// non-empty.
func HasDescriptionOrSummary() Specification[models.Venue] {
	return New(func(ctx context.Context, v models.Venue) bool {
		if ctx.Err() != nil {
			return false
		}
		return v.HasDescriptionOrSummary()
	})
}

// HasAcceptableQuality requires the summary and tags quality flags to clear
// the Editor's minimum bar.
func HasAcceptableQuality() Specification[models.Venue] {
	return New(func(ctx context.Context, v models.Venue) bool {
		if ctx.Err() != nil {
			return false
		}
		if v.QualityFlags.Summary == models.QualityWeak || v.QualityFlags.Summary == models.QualityMissing {
			return false
		}
		if v.QualityFlags.Tags == models.QualitySparse || v.QualityFlags.Tags == models.QualityMissing {
			return false
		}
		return true
	})
}

// HasNoFatalDiagnostics requires that no diagnostic entry was logged at error
// level by the Enricher or Summarizer agents.
func HasNoFatalDiagnostics() Specification[models.Venue] {
	return New(func(ctx context.Context, v models.Venue) bool {
		if ctx.Err() != nil {
			return false
		}
		for _, d := range v.Diagnostics {
			if d.Level == "error" {
				return false
			}
		}
		return true
	})
}

// IsWithinAttemptBudget requires the editor cycle counter to be below the
// configured max before another revision round is attempted.
func IsWithinAttemptBudget(maxCycles int) Specification[models.Venue] {
	return New(func(ctx context.Context, v models.Venue) bool {
		if ctx.Err() != nil {
			return false
		}
		return v.Attempts.EditorCycles < maxCycles
	})
}
