package models

import "strings"

// SlotType enumerates the typed intents the slot extractor produces.
type SlotType string

const (
	SlotVibe       SlotType = "VIBE"
	SlotExperience SlotType = "EXPERIENCE"
	SlotDrink      SlotType = "DRINK"
	SlotCuisine    SlotType = "CUISINE"
	SlotDish       SlotType = "DISH"
	SlotArea       SlotType = "AREA"
)

// MatchKind is how a slot surfaced during matching.
type MatchKind string

const (
	MatchExact     MatchKind = "exact"
	MatchPhrase    MatchKind = "phrase"
	MatchMultiword MatchKind = "multiword"
	MatchUnigram   MatchKind = "unigram"
	MatchFuzzy     MatchKind = "fuzzy"
)

// SlotFilter is the retrieval predicate a slot carries.
type SlotFilter struct {
	RequiredTags []string  `json:"required_tags,omitempty"`
	Viewport     *Viewport `json:"viewport,omitempty"`
}

// Viewport is a rectangular lat/lng bounding box for area slots.
type Viewport struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLng float64 `json:"max_lng"`
}

// Slot is one typed intent extracted from a query.
type Slot struct {
	Type          SlotType   `json:"type"`
	Canonical     string     `json:"canonical"`
	Label         string     `json:"label"`
	Confidence    float64    `json:"confidence"`
	MatchedText   string     `json:"matched_text"`
	MatchKind     MatchKind  `json:"match_kind"`
	Filter        SlotFilter `json:"filter"`
	Position      int        `json:"position"`
	ExpansionTags []string   `json:"expansion_tags,omitempty"`
}

// SlotterResult is the slot extractor's output for one query.
type SlotterResult struct {
	Slots            []Slot         `json:"slots"`
	FallbackUsed     bool           `json:"fallback_used"`
	FallbackReason   string         `json:"fallback_reason,omitempty"`
	ProcessingTimeMs float64        `json:"processing_time_ms"`
	DebugInfo        map[string]any `json:"debug_info,omitempty"`
}

// SynonymEntry is one synonym dictionary record.
type SynonymEntry struct {
	Type           SlotType `json:"type"`
	Canonical      string   `json:"canonical"`
	Label          string   `json:"label"`
	Synonyms       []string `json:"synonyms"`
	ExpandsToTags  []string `json:"expands_to_tags"`
	Denylist       []string `json:"denylist,omitempty"`
	BoostDefault   float64  `json:"boost_default"`
	DiversityGroup string   `json:"diversity_group"`
}

// IsDenied reports whether text contains a denylisted substring.
func (e *SynonymEntry) IsDenied(text string) bool {
	if len(e.Denylist) == 0 {
		return false
	}
	lower := strings.ToLower(text)
	for _, d := range e.Denylist {
		if d == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(d)) {
			return true
		}
	}
	return false
}
