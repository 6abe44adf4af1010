package events

import (
	"context"
	"encoding/json"
	"time"
)

// Event is the base interface for all venue lifecycle events.
// Keep payloads small, use JSON-friendly fields.
// Why: Enables replay and audit without coupling to DB schema.
type Event interface {
	Type() string
	VenueID() int64
	Timestamp() time.Time
	Agent() string
	MarshalData() ([]byte, error)
}

// Base contains common event metadata.
type Base struct {
	Ts  time.Time `json:"ts"`
	VID int64     `json:"venue_id"`
	Agt string    `json:"agent,omitempty"`
}

func (b Base) Timestamp() time.Time { return b.Ts }
func (b Base) VenueID() int64       { return b.VID }
func (b Base) Agent() string        { return b.Agt }

// --- Concrete events, one per ingestion state transition ---

const (
	TypeSummarized    = "venue.summarized"
	TypeEnriched      = "venue.enriched"
	TypeNeedsRevision = "venue.needs_revision"
	TypePublished     = "venue.published"
	TypeFailed        = "venue.failed"
)

// VenueSummarized is emitted when the Summarizer agent produces a summary.
type VenueSummarized struct {
	Base
	Summary string   `json:"summary"`
	Tags    []string `json:"tags"`
}

func (e VenueSummarized) Type() string                 { return TypeSummarized }
func (e VenueSummarized) MarshalData() ([]byte, error) { return json.Marshal(e) }

// VenueEnriched is emitted when the Enricher agent geocodes/enriches a venue.
type VenueEnriched struct {
	Base
	GooglePlaceID string  `json:"google_place_id"`
	Lat           float64 `json:"lat"`
	Lng           float64 `json:"lng"`
}

func (e VenueEnriched) Type() string                 { return TypeEnriched }
func (e VenueEnriched) MarshalData() ([]byte, error) { return json.Marshal(e) }

// VenueNeedsRevision is emitted when a step rejects a record back for fixes.
type VenueNeedsRevision struct {
	Base
	Reason string   `json:"reason"`
	Issues []string `json:"issues,omitempty"`
}

func (e VenueNeedsRevision) Type() string                 { return TypeNeedsRevision }
func (e VenueNeedsRevision) MarshalData() ([]byte, error) { return json.Marshal(e) }

// VenuePublished is emitted by the Editor when it publishes a record.
type VenuePublished struct {
	Base
	Warnings []string `json:"warnings,omitempty"`
}

func (e VenuePublished) Type() string                 { return TypePublished }
func (e VenuePublished) MarshalData() ([]byte, error) { return json.Marshal(e) }

// VenueFailed is emitted when a record exhausts retries or hits a fatal error.
type VenueFailed struct {
	Base
	Reason string `json:"reason"`
}

func (e VenueFailed) Type() string                 { return TypeFailed }
func (e VenueFailed) MarshalData() ([]byte, error) { return json.Marshal(e) }

// EventStore defines persistence and replay.
// Implementations must guarantee ordering per venue.
type EventStore interface {
	Append(ctx context.Context, e Event) error
	ListByVenue(ctx context.Context, venueID int64) ([]StoredEvent, error)
	ReplayVenue(ctx context.Context, venueID int64) (*RebuiltState, error)
}

// StoredEvent is a durable representation.
// Seq is a monotonic order within the DB (BIGINT AUTO_INCREMENT).
type StoredEvent struct {
	Seq     int64     `json:"seq"`
	VenueID int64     `json:"venue_id"`
	Type    string    `json:"type"`
	Ts      time.Time `json:"ts"`
	Agent   string    `json:"agent,omitempty"`
	Payload []byte    `json:"payload"` // original JSON
}

// RebuiltState is the result of replay for a venue.
type RebuiltState struct {
	VenueID     int64      `json:"venue_id"`
	Status      string     `json:"status"`
	LastUpdated time.Time  `json:"last_updated"`
	Published   *time.Time `json:"published_at,omitempty"`
	LastReason  string     `json:"last_reason"`
}

// Replay applies events in order and rebuilds state.
func Replay(events []StoredEvent) *RebuiltState {
	st := &RebuiltState{}
	for _, se := range events {
		st.VenueID = se.VenueID
		st.LastUpdated = se.Ts
		switch se.Type {
		case TypeSummarized:
			st.Status = "SUMMARIZED"
		case TypeEnriched:
			st.Status = "ENRICHED"
		case TypeNeedsRevision:
			var ev VenueNeedsRevision
			_ = json.Unmarshal(se.Payload, &ev)
			st.Status = "NEEDS_REVISION"
			st.LastReason = ev.Reason
		case TypePublished:
			st.Status = "PUBLISHED"
			pub := se.Ts
			st.Published = &pub
		case TypeFailed:
			var ev VenueFailed
			_ = json.Unmarshal(se.Payload, &ev)
			st.Status = "FAILED"
			st.LastReason = ev.Reason
		}
	}
	return st
}
