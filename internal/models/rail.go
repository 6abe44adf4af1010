package models

// PlaceCard is the UI-facing projection of a published Venue.
type PlaceCard struct {
	ID           int64        `json:"id"`
	Name         string       `json:"name"`
	Category     string       `json:"category"`
	Summary      string       `json:"summary"`
	Tags         []string     `json:"tags"`
	Address      string       `json:"address,omitempty"`
	Lat          float64      `json:"lat"`
	Lng          float64      `json:"lng"`
	PriceLevel   *int         `json:"price_level,omitempty"`
	Rating       *float64     `json:"rating,omitempty"`
	PictureURL   string       `json:"picture_url,omitempty"`
	MapURL       string       `json:"map_url,omitempty"`
	Signals      Signals      `json:"signals"`
	QualityFlags QualityFlags `json:"quality_flags"`
	Score        float64      `json:"score"`
	DistanceM    *float64     `json:"distance_m,omitempty"`
	Badges       []string     `json:"badges,omitempty"`
}

// Candidate is a scored retrieval result before rail assembly.
type Candidate struct {
	Card        PlaceCard
	LexicalRank float64
	GeoScore    float64
	VibeOverlap float64
	SignalBoost float64
	Novelty     float64
	Composite   float64
}

// Rail is one labeled, ranked list of venue cards (GLOSSARY: Rail).
type Rail struct {
	Step   string      `json:"step"`
	Label  string      `json:"label"`
	Items  []PlaceCard `json:"items"`
	Origin string      `json:"origin"`
	Reason string      `json:"reason"`
}

// RailsResponse is the composer's final assembled output.
type RailsResponse struct {
	Rails            []Rail         `json:"rails"`
	ProcessingTimeMs float64        `json:"processing_time_ms"`
	CacheHit         bool           `json:"cache_hit"`
	Mode             string         `json:"mode"`
	FallbackUsed     bool           `json:"fallback_used"`
	Reason           string         `json:"reason,omitempty"`
	DebugInfo        map[string]any `json:"debug_info,omitempty"`
}

// SearchResponse is the GET /api/places/search shape.
type SearchResponse struct {
	Results    []PlaceCard `json:"results"`
	TotalCount int         `json:"total_count"`
	Query      string      `json:"query"`
	Limit      int         `json:"limit"`
	Offset     int         `json:"offset"`
	HasMore    bool        `json:"has_more"`
}
