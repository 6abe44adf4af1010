// Package api implements the HTTP transport surface: the health probes, the
// places search/suggest/detail surface, slot parsing, rail composition, and
// session feedback endpoints. It is a thin JSON layer over the underlying
// components; no business logic lives here.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"entertainment-planner/internal/auth"
	"entertainment-planner/internal/domain"
	"entertainment-planner/internal/models"
	"entertainment-planner/internal/ontology"
	"entertainment-planner/internal/profiles"
	"entertainment-planner/internal/rails"
	"entertainment-planner/internal/retrieval"
	"entertainment-planner/internal/slotter"
	"entertainment-planner/pkg/config"
	apperrors "entertainment-planner/pkg/errors"
	"entertainment-planner/pkg/events"
	"entertainment-planner/pkg/health"
	"entertainment-planner/pkg/logging"
)

// Server bundles the components the HTTP layer dispatches into.
type Server struct {
	cfg       *config.Config
	repo      domain.Repository
	dict      *ontology.Dictionary
	extractor *slotter.Extractor
	retrieval *retrieval.Engine
	composer  *rails.Composer
	sessions  *profiles.Store
	health    *health.HealthManager
	events    events.EventStore
	db        *sql.DB
	logger    *logging.ComponentLogger
	adminAuth *auth.AdminAuth
}

func NewServer(
	cfg *config.Config,
	repo domain.Repository,
	dict *ontology.Dictionary,
	extractor *slotter.Extractor,
	retrievalEngine *retrieval.Engine,
	composer *rails.Composer,
	sessions *profiles.Store,
	hm *health.HealthManager,
	es events.EventStore,
	db *sql.DB,
	logger *logging.Logger,
) *Server {
	return &Server{
		cfg:       cfg,
		repo:      repo,
		dict:      dict,
		extractor: extractor,
		retrieval: retrievalEngine,
		composer:  composer,
		sessions:  sessions,
		health:    hm,
		events:    es,
		db:        db,
		logger:    logger.WithComponent("api"),
		adminAuth: auth.NewAdminAuth(cfg.AdminToken),
	}
}

// Register wires every public route plus the admin/ops surface onto router.
func (s *Server) Register(router *mux.Router) {
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/health/db", s.handleHealthDB).Methods(http.MethodGet)
	router.HandleFunc("/health/feature-flags", s.handleFeatureFlags).Methods(http.MethodGet)

	router.HandleFunc("/api/places/search", s.handleSearch).Methods(http.MethodGet)
	router.HandleFunc("/api/places/suggest", s.handleSuggest).Methods(http.MethodGet)
	router.HandleFunc("/api/places/{id:[0-9]+}", s.handlePlaceDetail).Methods(http.MethodGet)

	router.HandleFunc("/api/parse", s.handleParse).Methods(http.MethodPost)
	router.HandleFunc("/api/compose", s.handleCompose).Methods(http.MethodPost)
	router.HandleFunc("/api/rails", s.handleRails).Methods(http.MethodGet)

	router.HandleFunc("/api/feedback", s.handleFeedback).Methods(http.MethodPost)
	router.HandleFunc("/api/feedback/profile/{session_id}", s.handleProfile).Methods(http.MethodGet)

	router.Handle("/admin/ontology/reload", s.adminAuth.Handler(http.HandlerFunc(s.handleOntologyReload))).Methods(http.MethodGet)
	router.Handle("/admin/cache/stats", s.adminAuth.Handler(http.HandlerFunc(s.handleCacheStats))).Methods(http.MethodGet)
	router.Handle("/admin/places/{id:[0-9]+}/events", s.adminAuth.Handler(http.HandlerFunc(s.handleVenueEvents))).Methods(http.MethodGet)
}

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleHealthDB(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	status := "ok"
	if err := s.db.PingContext(ctx); err != nil {
		status = "error"
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"scope":     "db",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleFeatureFlags(w http.ResponseWriter, r *http.Request) {
	summary := s.health.GetCachedHealth()
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": summary.Status == health.HealthStatusHealthy,
		"flags": map[string]any{
			"slotter_wide":    s.cfg.SlotterWide,
			"slotter_shadow":  s.cfg.SlotterShadow,
			"slotter_ab_test": s.cfg.SlotterABTest,
			"slotter_debug":   s.cfg.SlotterDebug,
		},
		"config": map[string]any{
			"slotter_max_slots":      s.cfg.SlotterMaxSlots,
			"slotter_min_confidence": s.cfg.SlotterMinConf,
			"slotter_ab_ratio":       s.cfg.SlotterABRatio,
			"default_search_radius":  s.cfg.DefaultSearchRadius,
		},
		"timestamp": time.Now().UTC(),
	})
}

// --- Places ---

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := queryInt(q, "limit", 20)
	offset := queryInt(q, "offset", 0)
	sortParam := retrieval.Sort(q.Get("sort"))

	query := retrieval.Query{
		Text:    q.Get("q"),
		Limit:   limit,
		Offset:  offset,
		UserGeo: geoFromQuery(q),
		RadiusM: radiusFromQuery(q),
		Area:    q.Get("area"),
		Sort:    sortParam,
		Weights: retrieval.Default(),
	}

	cands, total, err := s.retrieval.Search(r.Context(), query)
	if err != nil {
		writeErr(w, err)
		return
	}

	cards := make([]models.PlaceCard, 0, len(cands))
	for _, c := range cands {
		cards = append(cards, c.Card)
	}

	writeJSON(w, http.StatusOK, models.SearchResponse{
		Results:    cards,
		TotalCount: total,
		Query:      query.Text,
		Limit:      limit,
		Offset:     offset,
		HasMore:    offset+len(cards) < total,
	})
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := queryInt(q, "limit", 8)

	venues, _, err := s.repo.SearchViewCtx(r.Context(), q.Get("q"), domain.SearchFilters{}, "relevance", limit, 0, nil)
	if err != nil {
		writeErr(w, err)
		return
	}
	suggestions := make([]string, 0, len(venues))
	for _, v := range venues {
		suggestions = append(suggestions, v.Name)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"suggestions": suggestions,
		"query":       q.Get("q"),
	})
}

func (s *Server) handlePlaceDetail(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid place id"})
		return
	}
	v, err := s.repo.GetByIDCtx(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if v == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "place not found"})
		return
	}
	writeJSON(w, http.StatusOK, retrieval.CardFromVenue(*v))
}

// --- Slot parsing and rail composition ---

type parseRequest struct {
	Query   string   `json:"query"`
	Area    string   `json:"area,omitempty"`
	UserLat *float64 `json:"user_lat,omitempty"`
	UserLng *float64 `json:"user_lng,omitempty"`
}

func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid request body"})
		return
	}
	result, err := s.extractor.Extract(r.Context(), req.Query, req.Area, req.UserLat, req.UserLng)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type composeRequest struct {
	Query     string   `json:"query"`
	Area      string   `json:"area,omitempty"`
	UserLat   *float64 `json:"user_lat,omitempty"`
	UserLng   *float64 `json:"user_lng,omitempty"`
	Mode      string   `json:"mode,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	Quality   string   `json:"quality,omitempty"`
	Limit     int      `json:"limit,omitempty"`
}

func (s *Server) handleCompose(w http.ResponseWriter, r *http.Request) {
	var req composeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid request body"})
		return
	}
	s.compose(w, r, composeRequest2RailsRequest(req))
}

func (s *Server) handleRails(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := rails.Request{
		Query:        q.Get("q"),
		Area:         q.Get("area"),
		UserGeo:      geoFromQuery(q),
		Mode:         rails.Mode(orDefault(q.Get("mode"), "light")),
		SessionID:    q.Get("session_id"),
		LimitPerStep: queryInt(q, "limit", 0),
	}
	s.compose(w, r, req)
}

func composeRequest2RailsRequest(req composeRequest) rails.Request {
	var geo *domain.GeoPoint
	if req.UserLat != nil && req.UserLng != nil {
		geo = &domain.GeoPoint{Lat: *req.UserLat, Lng: *req.UserLng}
	}
	return rails.Request{
		Query:        req.Query,
		Area:         req.Area,
		UserGeo:      geo,
		Mode:         rails.Mode(orDefault(req.Mode, "light")),
		SessionID:    req.SessionID,
		LimitPerStep: req.Limit,
	}
}

func (s *Server) compose(w http.ResponseWriter, r *http.Request, req rails.Request) {
	resp, err := s.composer.Compose(r.Context(), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	if s.cfg.SlotterDebug {
		w.Header().Set("X-Mode", resp.Mode)
		w.Header().Set("X-Rails-Cache", cacheHeader(resp.CacheHit))
		for _, rail := range resp.Rails {
			w.Header().Add("X-Rails", rail.Step+"="+strconv.Itoa(len(rail.Items)))
		}
		w.Header().Set("X-Route-Debug", routeDebugHeader(resp))
		w.Header().Set("X-Search-Debug", searchDebugHeader(resp))
	}
	writeJSON(w, http.StatusOK, resp)
}

func cacheHeader(hit bool) string {
	if hit {
		return "HIT"
	}
	return "MISS"
}

// routeDebugHeader summarizes per-rail routing (slot origin/reason), the
// debug counterpart to the fan-out/dedup/diversify path.
func routeDebugHeader(resp *models.RailsResponse) string {
	parts := make([]string, 0, len(resp.Rails))
	for _, r := range resp.Rails {
		parts = append(parts, r.Step+":"+r.Origin)
	}
	if resp.FallbackUsed {
		parts = append(parts, "fallback="+resp.Reason)
	}
	return strings.Join(parts, ",")
}

// searchDebugHeader surfaces the per-rail candidate counts the composer recorded
// before dedup/diversification trimmed them down.
func searchDebugHeader(resp *models.RailsResponse) string {
	parts := make([]string, 0, len(resp.DebugInfo))
	for step, count := range resp.DebugInfo {
		parts = append(parts, fmt.Sprintf("%s=%v", step, count))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// --- Feedback ---

type feedbackRequest struct {
	SessionID string  `json:"session_id"`
	PlaceID   int64   `json:"place_id"`
	Action    string  `json:"action"`
	DwellMs   *int    `json:"dwell_ms,omitempty"`
	Step      *string `json:"step,omitempty"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid request body"})
		return
	}
	if req.SessionID == "" || req.PlaceID == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "session_id and place_id are required"})
		return
	}

	var tags []string
	boosts := s.dict.BoostMap()
	if v, err := s.repo.GetByIDCtx(r.Context(), req.PlaceID); err == nil && v != nil && v.TagsCSV != "" {
		for _, t := range strings.Split(v.TagsCSV, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}

	s.sessions.AddSignal(req.SessionID, req.PlaceID, models.FeedbackAction(req.Action), tags, boosts, req.DwellMs, req.Step, time.Now())
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]
	profile, ok := s.sessions.Get(sessionID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "no profile for session"})
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// --- Admin/ops surface ---

func (s *Server) handleOntologyReload(w http.ResponseWriter, r *http.Request) {
	dict, err := ontology.Load()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	s.dict.ReplaceFrom(dict)
	writeJSON(w, http.StatusOK, map[string]any{"health": s.dict.Health()})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"note": "per-process cache counters; see /metrics for the Prometheus series",
	})
}

// handleVenueEvents surfaces a venue's replayable lifecycle log, for
// diagnosing why a record landed in NEEDS_REVISION/FAILED.
func (s *Server) handleVenueEvents(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid place id"})
		return
	}
	evs, err := s.events.ListByVenue(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"venue_id": id,
		"events":   evs,
		"state":    events.Replay(evs),
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErr(w http.ResponseWriter, err error) {
	code := "INTERNAL"
	status := http.StatusInternalServerError
	switch e := err.(type) {
	case *apperrors.ValidationError:
		status = http.StatusBadRequest
		code = "VALIDATION"
		if e.Code != "" {
			code = e.Code
		}
	case *apperrors.BizError:
		status = http.StatusNotFound
		code = e.Code
	case *apperrors.ExternalAPIError:
		status = http.StatusBadGateway
		code = e.Code
	}
	writeJSON(w, status, map[string]string{"detail": err.Error(), "code": code})
}

func queryInt(q map[string][]string, key string, def int) int {
	vals, ok := q[key]
	if !ok || len(vals) == 0 || vals[0] == "" {
		return def
	}
	n, err := strconv.Atoi(vals[0])
	if err != nil {
		return def
	}
	return n
}

func geoFromQuery(q map[string][]string) *domain.GeoPoint {
	lat, okLat := parseFloatParam(q, "user_lat")
	lng, okLng := parseFloatParam(q, "user_lng")
	if !okLat || !okLng {
		return nil
	}
	return &domain.GeoPoint{Lat: lat, Lng: lng}
}

func radiusFromQuery(q map[string][]string) *float64 {
	r, ok := parseFloatParam(q, "radius_m")
	if !ok {
		return nil
	}
	return &r
}

func parseFloatParam(q map[string][]string, key string) (float64, bool) {
	vals, ok := q[key]
	if !ok || len(vals) == 0 || vals[0] == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(vals[0], 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
