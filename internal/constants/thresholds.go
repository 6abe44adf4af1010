package constants

// Centralized threshold values used across the application.
// Keep these stable; change deliberately and document why.
// These are not configuration knobs; use pkg/config for env-driven settings.

const (
	// Circuit breaker rate thresholds
	CircuitFailureRate        = 0.6 // default for external HTTP
	CircuitSlowCallRate       = 0.7
	OpenAICircuitFailureRate  = 0.5
	OpenAICircuitSlowCallRate = 0.5

	// Editor quality-flag thresholds (summary length, in runes)
	SummaryWeakMax = 60  // below this: weak
	SummaryGoodMax = 220 // below this: good; at/above: excellent

	// Editor quality-flag thresholds (canonical tag count)
	TagsSparseMax = 1 // 0-1 tags: sparse
	TagsGoodMax   = 4 // 2-4 tags: good; 5+: rich

	// Editor quality-flag thresholds (photo count)
	PhotosOKMax = 0 // 0 photos: missing; 1+: ok. A venue keeps one picture URL, so "excellent" is never assigned

	// Retrieval ranking default weights
	WeightLexical = 1.0
	WeightGeo     = 0.8
	WeightVibe    = 0.6
	WeightSignal  = 0.5
	WeightNovel   = 0.4

	GeoScoreTau = 500.0 // meters

	SignalBoostHQExperience = 0.3
	SignalBoostEditorPick   = 0.2
	SignalBoostQualityScale = 0.2

	// Rail composition
	RailDiversificationLambda = 0.3
	RailDefaultLimitPerStep   = 6
	RailModeVibeWeightFactor  = 2.0
)
