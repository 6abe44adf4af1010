package domain

import (
	"context"

	"entertainment-planner/internal/models"
)

// GeoPoint is a caller location used to bias/filter search view reads.
type GeoPoint struct {
	Lat float64
	Lng float64
}

// SearchFilters narrows a searchView read to a slot's structured constraints.
type SearchFilters struct {
	Area       string
	MaxPriceLv *int
	MinRating  *float64
	Viewport   *models.Viewport
}

// VenuePatch is a partial update applied atomically by UpdateCtx.
// Nil fields are left untouched; status transitions are validated by the caller
// before the patch reaches the repository.
type VenuePatch struct {
	Status        *models.Status
	Summary       *string
	TagsCSV       *string
	Lat           *float64
	Lng           *float64
	GooglePlaceID *string
	Hours         *models.OpeningHours
	Website       *string
	Phone         *string
	Address       *string
	Rating        *float64
	PriceLevel    *int
	PictureURL    *string
	Signals       *models.Signals
	QualityFlags  *models.QualityFlags
	Attempts      *models.Attempts
	LastError     *string

	AppendDiagnostic *models.DiagnosticEntry
	AppendHistory    *models.HistoryEntry

	// AppendEvent, when set, inserts one row into the lifecycle event log in
	// the same transaction as the version-checked UPDATE, so a status
	// transition and its event are never observed independently.
	AppendEvent *EventAppend

	PublishNow bool // when true, stamps published_at = now
}

// EventAppend is the raw shape of one lifecycle event row, built by the
// Editor from the typed events in pkg/events and carried through VenuePatch
// rather than appended via a separate call, to keep it inside UpdateCtx's
// transaction.
type EventAppend struct {
	Type    string
	Agent   string
	Payload []byte
}

// VenueRepository defines venue store data access.
type VenueRepository interface {
	GetByIDCtx(ctx context.Context, id int64) (*models.Venue, error)
	FindBySourceIDCtx(ctx context.Context, sourceID string) (*models.Venue, error)
	BatchCtx(ctx context.Context, status models.Status, limit int) ([]models.Venue, error)

	// UpdateCtx applies patch atomically, gated on the row's current version
	// matching expectedVersion. On mismatch it returns a typed STALE_WRITE
	// error rather than silently overwriting a concurrent write.
	UpdateCtx(ctx context.Context, id int64, patch VenuePatch, expectedVersion int64) error

	// SearchViewCtx reads only from the derived, published-eligible search
	// view, never the base table.
	SearchViewCtx(ctx context.Context, text string, filters SearchFilters, sort string, limit, offset int, userGeo *GeoPoint) ([]models.Venue, int, error)
}

// EventRepository exposes the append-only lifecycle log backing audit/replay.
type EventRepository interface {
	AppendEventCtx(ctx context.Context, venueID int64, eventType, agent string, payload []byte) error
	ListEventsCtx(ctx context.Context, venueID int64) ([]models.VenueEvent, error)
}

// Repository aggregates the repos commonly required by services.
type Repository interface {
	VenueRepository
	EventRepository
}
