package models

import "time"

// FeedbackAction enumerates allowed session signal actions.
type FeedbackAction string

const (
	ActionLike       FeedbackAction = "like"
	ActionUnlike     FeedbackAction = "unlike"
	ActionOpen       FeedbackAction = "open"
	ActionAddToRoute FeedbackAction = "add_to_route"
	ActionDwell      FeedbackAction = "dwell"
)

// SignalEntry is one ring-buffered session event.
type SignalEntry struct {
	PlaceID int64          `json:"place_id"`
	Action  FeedbackAction `json:"action"`
	DwellMs *int           `json:"dwell_ms,omitempty"`
	Step    *string        `json:"step,omitempty"`
	Ts      time.Time      `json:"ts"`
}

// SessionProfile is the per-session feedback state.
type SessionProfile struct {
	SessionID         string             `json:"session_id"`
	VibeVector        map[string]float64 `json:"vibe_vector"`
	NoveltyPreference float64            `json:"novelty_preference"`
	RecentAreas       []string           `json:"recent_areas"`
	Signals           []SignalEntry      `json:"signals"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}
