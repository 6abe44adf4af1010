package models

import (
	"time"
)

// Status is the lifecycle state of a Venue record.
type Status string

const (
	StatusNew           Status = "NEW"
	StatusSummarized    Status = "SUMMARIZED"
	StatusEnriched      Status = "ENRICHED"
	StatusNeedsRevision Status = "NEEDS_REVISION"
	StatusReviewPending Status = "REVIEW_PENDING"
	StatusPublished     Status = "PUBLISHED"
	StatusFailed        Status = "FAILED"
)

// QualityFlag is a per-field quality classification.
type QualityFlag string

const (
	QualityUnknown   QualityFlag = "unknown"
	QualityWeak      QualityFlag = "weak"
	QualityGood      QualityFlag = "good"
	QualitySparse    QualityFlag = "sparse"
	QualityRich      QualityFlag = "rich"
	QualityExcellent QualityFlag = "excellent"
	QualityMissing   QualityFlag = "missing"
	QualityOK        QualityFlag = "ok"
	QualityPresent   QualityFlag = "present"
)

// Attempts tracks per-agent retry counters. Counters never decrease.
type Attempts struct {
	Summarizer   int `json:"summarizer"`
	Enricher     int `json:"enricher"`
	EditorCycles int `json:"editor_cycles"`
}

// QualityFlags is the per-field quality document.
type QualityFlags struct {
	Summary QualityFlag `json:"summary"`
	Tags    QualityFlag `json:"tags"`
	Photos  QualityFlag `json:"photos"`
	Coords  QualityFlag `json:"coords"`
}

// Signals is the free-form editorial/computed signals document.
type Signals struct {
	HQExperience  bool    `json:"hq_experience"`
	QualityScore  float64 `json:"quality_score"`
	LocalGem      bool    `json:"local_gem"`
	EditorPick    bool    `json:"editor_pick"`
	Extraordinary bool    `json:"extraordinary"`
	Dateworthy    bool    `json:"dateworthy"`
}

// OpeningHours is the venue's opening-hours document, one range list per weekday
// (0=Sunday .. 6=Saturday), matching the enricher's normalized-hours output.
type OpeningHours struct {
	Periods map[int][]TimeRange `json:"periods,omitempty"`
	Note    string              `json:"note,omitempty"`
}

// TimeRange is an open/close pair in minutes-from-midnight.
type TimeRange struct {
	OpenMinute  int `json:"open_minute"`
	CloseMinute int `json:"close_minute"`
}

// DiagnosticEntry is one ordered event-log entry.
type DiagnosticEntry struct {
	Agent string    `json:"agent"`
	Level string    `json:"level"` // info|warn|error
	Code  string    `json:"code"`
	Note  string    `json:"note,omitempty"`
	Ts    time.Time `json:"ts"`
}

// HistoryEntry records a per-agent transition diff.
type HistoryEntry struct {
	FromAgent string    `json:"from_agent"`
	Diff      string    `json:"diff"`
	Ts        time.Time `json:"ts"`
}

// Venue is the primary stored entity.
type Venue struct {
	ID       int64  `json:"id" db:"id"`
	SourceID string `json:"source_id" db:"source_id"`
	Source   string `json:"source" db:"source"`

	Name        string  `json:"name" db:"name"`
	Category    string  `json:"category" db:"category"`
	Description string  `json:"description" db:"description"`
	Summary     string  `json:"summary" db:"summary"`
	TagsCSV     string  `json:"tags_csv" db:"tags_csv"`
	Address     *string `json:"address,omitempty" db:"address"`

	Lat *float64 `json:"lat,omitempty" db:"lat"`
	Lng *float64 `json:"lng,omitempty" db:"lng"`

	PriceLevel *int          `json:"price_level,omitempty" db:"price_level"`
	Rating     *float64      `json:"rating,omitempty" db:"rating"`
	Hours      *OpeningHours `json:"hours,omitempty" db:"-"`
	HoursRaw   *string       `json:"-" db:"hours_json"`
	Website    *string       `json:"website,omitempty" db:"website"`
	Phone      *string       `json:"phone,omitempty" db:"phone"`

	PictureURL    *string `json:"picture_url,omitempty" db:"picture_url"`
	MapURL        *string `json:"map_url,omitempty" db:"map_url"`
	GooglePlaceID *string `json:"google_place_id,omitempty" db:"google_place_id"`

	Signals    Signals `json:"signals" db:"-"`
	SignalsRaw *string `json:"-" db:"signals_json"`

	Status       Status       `json:"status" db:"status"`
	Attempts     Attempts     `json:"attempts" db:"-"`
	AttemptsRaw  *string      `json:"-" db:"attempts_json"`
	QualityFlags QualityFlags `json:"quality_flags" db:"-"`
	QualityRaw   *string      `json:"-" db:"quality_flags_json"`
	LastError    *string      `json:"last_error,omitempty" db:"last_error"`

	Diagnostics []DiagnosticEntry `json:"diagnostics,omitempty" db:"-"`
	History     []HistoryEntry    `json:"history,omitempty" db:"-"`

	ScrapedAt   *time.Time `json:"scraped_at,omitempty" db:"scraped_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	PublishedAt *time.Time `json:"published_at,omitempty" db:"published_at"`

	// Version is the optimistic-locking token. Every update compares
	// the expected version against the stored one inside one transaction.
	Version int64 `json:"version" db:"version"`
}

// HasValidGeo reports whether both coordinates are present and within range.
func (v *Venue) HasValidGeo() bool {
	if v.Lat == nil || v.Lng == nil {
		return false
	}
	lat, lng := *v.Lat, *v.Lng
	if lat != lat || lng != lng { // NaN check
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// HasDescriptionOrSummary reports the publishing invariant.
func (v *Venue) HasDescriptionOrSummary() bool {
	return v.Description != "" || v.Summary != ""
}

// VenueEvent is an append-only audit/lifecycle record.
type VenueEvent struct {
	Seq     int64     `json:"seq"`
	VenueID int64     `json:"venue_id"`
	Type    string    `json:"type"`
	Ts      time.Time `json:"ts"`
	Payload []byte    `json:"payload"`
}
