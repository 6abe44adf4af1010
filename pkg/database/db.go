// Package database implements the SQL-backed venue store: the venues table,
// its append-only event log, and the derived search view that ranked queries
// read from (the view only ever contains SUMMARIZED/PUBLISHED rows).
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"entertainment-planner/internal/constants"
	"entertainment-planner/internal/domain"
	"entertainment-planner/internal/models"
	"entertainment-planner/pkg/config"
	errs "entertainment-planner/pkg/errors"

	_ "github.com/go-sql-driver/mysql"
)

type DB struct {
	conn         *sql.DB
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("mysql", databaseURL)
	if err != nil {
		return nil, err
	}

	conn.SetMaxOpenConns(50)
	conn.SetMaxIdleConns(15)
	conn.SetConnMaxLifetime(10 * time.Minute)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	if err := conn.Ping(); err != nil {
		return nil, err
	}

	db := &DB{
		conn:         conn,
		readTimeout:  constants.DBReadTimeoutDefault,
		writeTimeout: constants.DBWriteTimeoutDefault,
	}
	if err := db.ensureSchema(); err != nil {
		return nil, errs.NewFatal("database.New", "FATAL_CONFIG", "failed to ensure schema", err)
	}
	return db, nil
}

// NewWithConfig creates a database connection with custom pool settings.
func NewWithConfig(databaseURL string, cfg *config.Config) (*DB, error) {
	conn, err := sql.Open("mysql", databaseURL)
	if err != nil {
		return nil, err
	}

	conn.SetMaxOpenConns(cfg.DBMaxOpenConns)
	conn.SetMaxIdleConns(cfg.DBMaxIdleConns)
	conn.SetConnMaxLifetime(time.Duration(cfg.DBConnMaxLifetime) * time.Minute)
	conn.SetConnMaxIdleTime(time.Duration(cfg.DBConnMaxIdleTime) * time.Minute)

	if err := conn.Ping(); err != nil {
		return nil, err
	}

	rt := cfg.DBReadTimeout
	if rt == 0 {
		rt = constants.DBReadTimeoutDefault
	}
	wt := cfg.DBWriteTimeout
	if wt == 0 {
		wt = constants.DBWriteTimeoutDefault
	}

	db := &DB{conn: conn, readTimeout: rt, writeTimeout: wt}
	if err := db.ensureSchema(); err != nil {
		return nil, errs.NewFatal("database.NewWithConfig", "FATAL_CONFIG", "failed to ensure schema", err)
	}
	return db, nil
}

// ensureSchema creates the venues store and its derived search view if they
// do not already exist, mirroring pkg/events.SQLEventStore's self-contained
// schema bootstrap rather than an externally managed migrations directory.
func (db *DB) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS venues (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			source_id VARCHAR(191) NOT NULL,
			source VARCHAR(64) NOT NULL,
			name VARCHAR(255) NOT NULL,
			category VARCHAR(128) NOT NULL,
			description TEXT NOT NULL,
			summary TEXT NOT NULL,
			tags_csv TEXT NOT NULL,
			address VARCHAR(500) NULL,
			lat DOUBLE NULL,
			lng DOUBLE NULL,
			price_level INT NULL,
			rating DOUBLE NULL,
			hours_json JSON NULL,
			website VARCHAR(500) NULL,
			phone VARCHAR(64) NULL,
			picture_url VARCHAR(500) NULL,
			map_url VARCHAR(500) NULL,
			google_place_id VARCHAR(191) NULL,
			signals_json JSON NULL,
			status VARCHAR(32) NOT NULL,
			attempts_json JSON NULL,
			quality_flags_json JSON NULL,
			diagnostics_json JSON NULL,
			history_json JSON NULL,
			last_error TEXT NULL,
			scraped_at TIMESTAMP NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			published_at TIMESTAMP NULL,
			version BIGINT NOT NULL DEFAULT 1,
			UNIQUE KEY uniq_source (source, source_id),
			INDEX idx_status (status, updated_at),
			FULLTEXT KEY ft_search (name, tags_csv, summary)
		)`,
		`CREATE TABLE IF NOT EXISTS venue_search_view LIKE venues`,
		`CREATE TABLE IF NOT EXISTS search_view_heartbeat (
			view_name VARCHAR(64) PRIMARY KEY,
			refreshed_at TIMESTAMP NOT NULL
		)`,
	}
	for _, q := range stmts {
		if _, err := db.conn.Exec(q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn exposes the underlying pool for callers (e.g. health checks) that
// need to ping or inspect it directly.
func (db *DB) Conn() *sql.DB { return db.conn }

// withReadTimeout creates a context with the standard read timeout.
func (db *DB) withReadTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, db.readTimeout)
}

// withWriteTimeout creates a context with the standard write timeout.
func (db *DB) withWriteTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, db.writeTimeout)
}

const venueColumns = `id, source_id, source, name, category, description, summary, tags_csv, address,
	lat, lng, price_level, rating, hours_json, website, phone, picture_url, map_url, google_place_id,
	signals_json, status, attempts_json, quality_flags_json, last_error, scraped_at, updated_at, published_at, version`

func scanVenue(row interface{ Scan(...any) error }) (*models.Venue, error) {
	var v models.Venue
	var hoursJSON, signalsJSON, attemptsJSON, qualityJSON sql.NullString

	err := row.Scan(
		&v.ID, &v.SourceID, &v.Source, &v.Name, &v.Category, &v.Description, &v.Summary, &v.TagsCSV, &v.Address,
		&v.Lat, &v.Lng, &v.PriceLevel, &v.Rating, &hoursJSON, &v.Website, &v.Phone, &v.PictureURL, &v.MapURL, &v.GooglePlaceID,
		&signalsJSON, &v.Status, &attemptsJSON, &qualityJSON, &v.LastError, &v.ScrapedAt, &v.UpdatedAt, &v.PublishedAt, &v.Version,
	)
	if err != nil {
		return nil, err
	}
	if signalsJSON.Valid && signalsJSON.String != "" {
		_ = json.Unmarshal([]byte(signalsJSON.String), &v.Signals)
	}
	if attemptsJSON.Valid && attemptsJSON.String != "" {
		_ = json.Unmarshal([]byte(attemptsJSON.String), &v.Attempts)
	}
	if qualityJSON.Valid && qualityJSON.String != "" {
		_ = json.Unmarshal([]byte(qualityJSON.String), &v.QualityFlags)
	}
	if hoursJSON.Valid && hoursJSON.String != "" {
		var h models.OpeningHours
		if json.Unmarshal([]byte(hoursJSON.String), &h) == nil {
			v.Hours = &h
		}
	}
	return &v, nil
}

// GetByIDCtx implements domain.VenueRepository.
func (db *DB) GetByIDCtx(ctx context.Context, id int64) (*models.Venue, error) {
	ctx, cancel := db.withReadTimeout(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx, "SELECT "+venueColumns+" FROM venues WHERE id = ?", id)
	v, err := scanVenue(row)
	if err == sql.ErrNoRows {
		return nil, errs.NewBizCode("database.GetByIDCtx", "NOT_FOUND", fmt.Sprintf("venue %d not found", id), nil)
	}
	if err != nil {
		return nil, errs.NewDB("database.GetByIDCtx", "scan venue row", err)
	}
	return v, nil
}

// FindBySourceIDCtx implements domain.VenueRepository.
func (db *DB) FindBySourceIDCtx(ctx context.Context, sourceID string) (*models.Venue, error) {
	ctx, cancel := db.withReadTimeout(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx, "SELECT "+venueColumns+" FROM venues WHERE source_id = ?", sourceID)
	v, err := scanVenue(row)
	if err == sql.ErrNoRows {
		return nil, errs.NewBizCode("database.FindBySourceIDCtx", "NOT_FOUND", fmt.Sprintf("venue with source_id %q not found", sourceID), nil)
	}
	if err != nil {
		return nil, errs.NewDB("database.FindBySourceIDCtx", "scan venue row", err)
	}
	return v, nil
}

// BatchCtx claims up to limit venues in the given status for one worker. The
// claim touches updated_at so a failed/slow attempt cycles to the back of the
// queue on the next poll instead of being re-claimed immediately.
func (db *DB) BatchCtx(ctx context.Context, status models.Status, limit int) ([]models.Venue, error) {
	ctx, cancel := db.withWriteTimeout(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.NewDB("database.BatchCtx", "begin tx", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		"SELECT "+venueColumns+" FROM venues WHERE status = ? ORDER BY updated_at ASC LIMIT ? FOR UPDATE SKIP LOCKED",
		status, limit)
	if err != nil {
		return nil, errs.NewDB("database.BatchCtx", "claim query", err)
	}
	var venues []models.Venue
	var ids []int64
	for rows.Next() {
		v, err := scanVenue(rows)
		if err != nil {
			rows.Close()
			return nil, errs.NewDB("database.BatchCtx", "scan claimed row", err)
		}
		venues = append(venues, *v)
		ids = append(ids, v.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errs.NewDB("database.BatchCtx", "row iteration", err)
	}

	if len(ids) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
		args := make([]any, 0, len(ids)+1)
		args = append(args, time.Now())
		for _, id := range ids {
			args = append(args, id)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE venues SET updated_at = ? WHERE id IN ("+placeholders+")", args...); err != nil {
			return nil, errs.NewDB("database.BatchCtx", "touch claimed rows", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errs.NewDB("database.BatchCtx", "commit claim", err)
	}
	return venues, nil
}

// UpdateCtx implements the optimistic-locking patch contract:
// the UPDATE's WHERE clause pins both id and expectedVersion, so a concurrent
// writer that already bumped the row causes RowsAffected==0 and a typed
// STALE_WRITE error rather than a silent lost update.
func (db *DB) UpdateCtx(ctx context.Context, id int64, patch domain.VenuePatch, expectedVersion int64) error {
	ctx, cancel := db.withWriteTimeout(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return errs.NewDB("database.UpdateCtx", "begin tx", err)
	}
	defer tx.Rollback()

	sets := []string{"version = version + 1", "updated_at = ?"}
	args := []any{time.Now()}

	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *patch.Status)
	}
	if patch.Summary != nil {
		sets = append(sets, "summary = ?")
		args = append(args, *patch.Summary)
	}
	if patch.TagsCSV != nil {
		sets = append(sets, "tags_csv = ?")
		args = append(args, *patch.TagsCSV)
	}
	if patch.Lat != nil {
		sets = append(sets, "lat = ?")
		args = append(args, *patch.Lat)
	}
	if patch.Lng != nil {
		sets = append(sets, "lng = ?")
		args = append(args, *patch.Lng)
	}
	if patch.GooglePlaceID != nil {
		sets = append(sets, "google_place_id = ?")
		args = append(args, *patch.GooglePlaceID)
	}
	if patch.Hours != nil {
		b, _ := json.Marshal(patch.Hours)
		sets = append(sets, "hours_json = ?")
		args = append(args, string(b))
	}
	if patch.Website != nil {
		sets = append(sets, "website = ?")
		args = append(args, *patch.Website)
	}
	if patch.Phone != nil {
		sets = append(sets, "phone = ?")
		args = append(args, *patch.Phone)
	}
	if patch.Address != nil {
		sets = append(sets, "address = ?")
		args = append(args, *patch.Address)
	}
	if patch.Rating != nil {
		sets = append(sets, "rating = ?")
		args = append(args, *patch.Rating)
	}
	if patch.PriceLevel != nil {
		sets = append(sets, "price_level = ?")
		args = append(args, *patch.PriceLevel)
	}
	if patch.PictureURL != nil {
		sets = append(sets, "picture_url = ?")
		args = append(args, *patch.PictureURL)
	}
	if patch.Signals != nil {
		b, _ := json.Marshal(patch.Signals)
		sets = append(sets, "signals_json = ?")
		args = append(args, string(b))
	}
	if patch.QualityFlags != nil {
		b, _ := json.Marshal(patch.QualityFlags)
		sets = append(sets, "quality_flags_json = ?")
		args = append(args, string(b))
	}
	if patch.Attempts != nil {
		b, _ := json.Marshal(patch.Attempts)
		sets = append(sets, "attempts_json = ?")
		args = append(args, string(b))
	}
	if patch.LastError != nil {
		sets = append(sets, "last_error = ?")
		args = append(args, *patch.LastError)
	}
	if patch.PublishNow {
		sets = append(sets, "published_at = ?")
		args = append(args, time.Now())
	}

	args = append(args, id, expectedVersion)
	query := "UPDATE venues SET " + strings.Join(sets, ", ") + " WHERE id = ? AND version = ?"

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return errs.NewDB("database.UpdateCtx", "update venue", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errs.NewDB("database.UpdateCtx", "rows affected", err)
	}
	if affected == 0 {
		return errs.NewBizCode("database.UpdateCtx", "STALE_WRITE", fmt.Sprintf("venue %d version mismatch (expected %d)", id, expectedVersion), nil)
	}

	if patch.AppendDiagnostic != nil {
		if err := appendDiagnosticTx(ctx, tx, id, patch.AppendDiagnostic); err != nil {
			return err
		}
		b, _ := json.Marshal(patch.AppendDiagnostic)
		if _, err := tx.ExecContext(ctx, "INSERT INTO venue_events (venue_id, type, ts, agent, payload) VALUES (?, ?, ?, ?, ?)",
			id, "venue.diagnostic", patch.AppendDiagnostic.Ts, patch.AppendDiagnostic.Agent, b); err != nil {
			return errs.NewDB("database.UpdateCtx", "append diagnostic event", err)
		}
	}
	if patch.AppendHistory != nil {
		if err := appendHistoryTx(ctx, tx, id, patch.AppendHistory); err != nil {
			return err
		}
	}
	if patch.AppendEvent != nil {
		if _, err := tx.ExecContext(ctx, "INSERT INTO venue_events (venue_id, type, ts, agent, payload) VALUES (?, ?, ?, ?, ?)",
			id, patch.AppendEvent.Type, time.Now(), patch.AppendEvent.Agent, patch.AppendEvent.Payload); err != nil {
			return errs.NewDB("database.UpdateCtx", "append lifecycle event", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.NewDB("database.UpdateCtx", "commit update", err)
	}
	return nil
}

func appendDiagnosticTx(ctx context.Context, tx *sql.Tx, id int64, d *models.DiagnosticEntry) error {
	var existing sql.NullString
	if err := tx.QueryRowContext(ctx, "SELECT diagnostics_json FROM venues WHERE id = ?", id).Scan(&existing); err != nil {
		return errs.NewDB("database.appendDiagnosticTx", "read diagnostics", err)
	}
	var list []models.DiagnosticEntry
	if existing.Valid && existing.String != "" {
		_ = json.Unmarshal([]byte(existing.String), &list)
	}
	list = append(list, *d)
	b, _ := json.Marshal(list)
	if _, err := tx.ExecContext(ctx, "UPDATE venues SET diagnostics_json = ? WHERE id = ?", string(b), id); err != nil {
		return errs.NewDB("database.appendDiagnosticTx", "write diagnostics", err)
	}
	return nil
}

func appendHistoryTx(ctx context.Context, tx *sql.Tx, id int64, h *models.HistoryEntry) error {
	var existing sql.NullString
	if err := tx.QueryRowContext(ctx, "SELECT history_json FROM venues WHERE id = ?", id).Scan(&existing); err != nil {
		return errs.NewDB("database.appendHistoryTx", "read history", err)
	}
	var list []models.HistoryEntry
	if existing.Valid && existing.String != "" {
		_ = json.Unmarshal([]byte(existing.String), &list)
	}
	list = append(list, *h)
	b, _ := json.Marshal(list)
	if _, err := tx.ExecContext(ctx, "UPDATE venues SET history_json = ? WHERE id = ?", string(b), id); err != nil {
		return errs.NewDB("database.appendHistoryTx", "write history", err)
	}
	return nil
}

// SearchViewCtx reads the derived venue_search_view table, restricted by
// RefreshSearchViewCtx to {SUMMARIZED, PUBLISHED} rows.
func (db *DB) SearchViewCtx(ctx context.Context, text string, filters domain.SearchFilters, sort string, limit, offset int, userGeo *domain.GeoPoint) ([]models.Venue, int, error) {
	ctx, cancel := db.withReadTimeout(ctx)
	defer cancel()

	where := []string{"1=1"}
	args := []any{}

	if strings.TrimSpace(text) != "" {
		where = append(where, "MATCH(name, tags_csv, summary) AGAINST (? IN NATURAL LANGUAGE MODE)")
		args = append(args, text)
	}
	if filters.Area != "" {
		where = append(where, "address LIKE ?")
		args = append(args, "%"+filters.Area+"%")
	}
	if filters.MaxPriceLv != nil {
		where = append(where, "(price_level IS NULL OR price_level <= ?)")
		args = append(args, *filters.MaxPriceLv)
	}
	if filters.MinRating != nil {
		where = append(where, "(rating IS NULL OR rating >= ?)")
		args = append(args, *filters.MinRating)
	}
	if filters.Viewport != nil {
		where = append(where, "lat BETWEEN ? AND ? AND lng BETWEEN ? AND ?")
		args = append(args, filters.Viewport.MinLat, filters.Viewport.MaxLat, filters.Viewport.MinLng, filters.Viewport.MaxLng)
	}

	orderBy := "rating DESC"
	switch sort {
	case "distance":
		if userGeo != nil {
			orderBy = fmt.Sprintf("(POW(lat-(%f),2) + POW(lng-(%f),2)) ASC", userGeo.Lat, userGeo.Lng)
		}
	case "relevance":
		if strings.TrimSpace(text) != "" {
			orderBy = "MATCH(name, tags_csv, summary) AGAINST ('" + strings.ReplaceAll(text, "'", "") + "' IN NATURAL LANGUAGE MODE) DESC"
		}
	}

	whereClause := strings.Join(where, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM venue_search_view WHERE " + whereClause
	if err := db.conn.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errs.NewDB("database.SearchViewCtx", "count search view rows", err)
	}

	query := "SELECT " + venueColumns + " FROM venue_search_view WHERE " + whereClause + " ORDER BY " + orderBy + " LIMIT ? OFFSET ?"
	queryArgs := append(append([]any{}, args...), limit, offset)

	rows, err := db.conn.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, 0, errs.NewDB("database.SearchViewCtx", "query search view", err)
	}
	defer rows.Close()

	var venues []models.Venue
	for rows.Next() {
		v, err := scanVenue(rows)
		if err != nil {
			return nil, 0, errs.NewDB("database.SearchViewCtx", "scan search view row", err)
		}
		venues = append(venues, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errs.NewDB("database.SearchViewCtx", "row iteration", err)
	}
	return venues, total, nil
}

// AppendEventCtx implements domain.EventRepository.
func (db *DB) AppendEventCtx(ctx context.Context, venueID int64, eventType, agent string, payload []byte) error {
	ctx, cancel := db.withWriteTimeout(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO venue_events (venue_id, type, ts, agent, payload) VALUES (?, ?, ?, ?, ?)",
		venueID, eventType, time.Now(), agent, payload)
	if err != nil {
		return errs.NewDB("database.AppendEventCtx", "insert event", err)
	}
	return nil
}

// ListEventsCtx implements domain.EventRepository.
func (db *DB) ListEventsCtx(ctx context.Context, venueID int64) ([]models.VenueEvent, error) {
	ctx, cancel := db.withReadTimeout(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, venue_id, type, ts, payload FROM venue_events WHERE venue_id = ? ORDER BY id ASC", venueID)
	if err != nil {
		return nil, errs.NewDB("database.ListEventsCtx", "query events", err)
	}
	defer rows.Close()

	var out []models.VenueEvent
	for rows.Next() {
		var e models.VenueEvent
		if err := rows.Scan(&e.Seq, &e.VenueID, &e.Type, &e.Ts, &e.Payload); err != nil {
			return nil, errs.NewDB("database.ListEventsCtx", "scan event row", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RefreshSearchViewCtx rebuilds venue_search_view from venues atomically via
// a three-way table rename, so readers never observe a torn or empty view
// mid-rebuild.
func (db *DB) RefreshSearchViewCtx(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, constants.RefreshDeadlineDefault)
	defer cancel()

	if _, err := db.conn.ExecContext(ctx, "DROP TABLE IF EXISTS venue_search_view_next"); err != nil {
		return errs.NewDB("database.RefreshSearchViewCtx", "drop stale shadow table", err)
	}
	if _, err := db.conn.ExecContext(ctx, "CREATE TABLE venue_search_view_next LIKE venues"); err != nil {
		return errs.NewDB("database.RefreshSearchViewCtx", "create shadow table", err)
	}
	if _, err := db.conn.ExecContext(ctx,
		"INSERT INTO venue_search_view_next SELECT * FROM venues WHERE status IN (?, ?)",
		models.StatusSummarized, models.StatusPublished); err != nil {
		return errs.NewDB("database.RefreshSearchViewCtx", "populate shadow table", err)
	}
	if _, err := db.conn.ExecContext(ctx,
		"RENAME TABLE venue_search_view TO venue_search_view_old, venue_search_view_next TO venue_search_view, venue_search_view_old TO venue_search_view_next"); err != nil {
		return errs.NewDB("database.RefreshSearchViewCtx", "swap shadow table in", err)
	}
	if _, err := db.conn.ExecContext(ctx, "DROP TABLE IF EXISTS venue_search_view_next"); err != nil {
		return errs.NewDB("database.RefreshSearchViewCtx", "drop retired table", err)
	}
	return nil
}

// WriteHeartbeatCtx stamps the last successful refresh time for view.
func (db *DB) WriteHeartbeatCtx(ctx context.Context, view string, at time.Time) error {
	ctx, cancel := db.withWriteTimeout(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO search_view_heartbeat (view_name, refreshed_at) VALUES (?, ?)
		 ON DUPLICATE KEY UPDATE refreshed_at = VALUES(refreshed_at)`, view, at)
	if err != nil {
		return errs.NewDB("database.WriteHeartbeatCtx", "write heartbeat", err)
	}
	return nil
}
