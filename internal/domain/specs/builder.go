package specs

import (
	"context"
	"os"
	"strconv"

	"entertainment-planner/internal/models"
)

// PublishRuleOptions controls how the composite publishing spec is built.
// Sourced from environment to keep it simple and avoid touching global config wiring.
// ENV vars (with defaults):
//  SPEC_REQUIRE_QUALITY (true)
//  SPEC_MAX_EDITOR_CYCLES (3)

type PublishRuleOptions struct {
	RequireQuality  bool
	MaxEditorCycles int
}

func defaultOpts() PublishRuleOptions {
	return PublishRuleOptions{RequireQuality: true, MaxEditorCycles: 3}
}

func optsFromEnv() PublishRuleOptions {
	o := defaultOpts()
	if v := os.Getenv("SPEC_REQUIRE_QUALITY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			o.RequireQuality = b
		}
	}
	if v := os.Getenv("SPEC_MAX_EDITOR_CYCLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			o.MaxEditorCycles = n
		}
	}
	return o
}

// BuildPublishSpecFromEnv builds the composite spec the Editor evaluates before
// transitioning a venue to PUBLISHED. It requires: a name, valid
// coordinates, a description or summary, no fatal diagnostics and, unless
// disabled, acceptable per-field quality.
func BuildPublishSpecFromEnv() Specification[models.Venue] {
	o := optsFromEnv()

	base := HasName().And(HasValidCoords()).And(HasDescriptionOrSummary()).And(HasNoFatalDiagnostics())
	if o.RequireQuality {
		base = base.And(HasAcceptableQuality())
	}
	return base
}

// BuildRevisionBudgetSpecFromEnv builds the spec gating whether a venue may be
// routed back to NEEDS_REVISION again rather than FAILED.
func BuildRevisionBudgetSpecFromEnv() Specification[models.Venue] {
	o := optsFromEnv()
	return IsWithinAttemptBudget(o.MaxEditorCycles)
}

// Evaluate evaluates a spec with the provided context.
func Evaluate[T any](ctx context.Context, s Specification[T], v T) bool {
	return s.IsSatisfiedBy(ctx, v)
}
