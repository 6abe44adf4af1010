// Package repository adapts pkg/database.DB to the domain.Repository
// contract, keeping the ingestion pipeline decoupled from the SQL layer.
package repository

import (
	"context"

	"entertainment-planner/internal/domain"
	"entertainment-planner/internal/models"
	"entertainment-planner/pkg/database"
)

// SQLRepository is a thin adapter over pkg/database.DB.
type SQLRepository struct {
	db *database.DB
}

func NewSQLRepository(db *database.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

var _ domain.Repository = (*SQLRepository)(nil)

func (r *SQLRepository) GetByIDCtx(ctx context.Context, id int64) (*models.Venue, error) {
	return r.db.GetByIDCtx(ctx, id)
}

func (r *SQLRepository) FindBySourceIDCtx(ctx context.Context, sourceID string) (*models.Venue, error) {
	return r.db.FindBySourceIDCtx(ctx, sourceID)
}

func (r *SQLRepository) BatchCtx(ctx context.Context, status models.Status, limit int) ([]models.Venue, error) {
	return r.db.BatchCtx(ctx, status, limit)
}

func (r *SQLRepository) UpdateCtx(ctx context.Context, id int64, patch domain.VenuePatch, expectedVersion int64) error {
	return r.db.UpdateCtx(ctx, id, patch, expectedVersion)
}

func (r *SQLRepository) SearchViewCtx(ctx context.Context, text string, filters domain.SearchFilters, sort string, limit, offset int, userGeo *domain.GeoPoint) ([]models.Venue, int, error) {
	return r.db.SearchViewCtx(ctx, text, filters, sort, limit, offset, userGeo)
}

func (r *SQLRepository) AppendEventCtx(ctx context.Context, venueID int64, eventType, agent string, payload []byte) error {
	return r.db.AppendEventCtx(ctx, venueID, eventType, agent, payload)
}

func (r *SQLRepository) ListEventsCtx(ctx context.Context, venueID int64) ([]models.VenueEvent, error) {
	return r.db.ListEventsCtx(ctx, venueID)
}
