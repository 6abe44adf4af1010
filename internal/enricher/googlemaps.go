// Package enricher implements the ingestion pipeline's enrich step: given a
// venue's name and address, it calls Google Places to resolve a canonical
// place id, coordinates, formatted address, rating, price level, opening
// hours, phone, website and photo URLs.
package enricher

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/time/rate"
	"googlemaps.github.io/maps"

	"entertainment-planner/internal/constants"
	"entertainment-planner/internal/models"
	"entertainment-planner/pkg/circuit"
	apperrors "entertainment-planner/pkg/errors"
)

// Result is the Enricher's output for one venue.
type Result struct {
	GooglePlaceID    string
	Lat              float64
	Lng              float64
	FormattedAddress string
	Rating           *float64
	PriceLevel       *int
	Hours            *models.OpeningHours
	Phone            string
	Website          string
	PhotoURLs        []string
}

// GoogleEnricher implements the Enricher capability against the Google Maps
// Places API, one circuit breaker and rate limiter shared across calls.
type GoogleEnricher struct {
	client  *maps.Client
	cb      *circuit.Breaker
	limiter *rate.Limiter
	apiKey  string
	// PhotoMaxWidth bounds the width requested for resolved photo URLs.
	PhotoMaxWidth int
}

// NewGoogleEnricher builds a GoogleEnricher over the given API key.
func NewGoogleEnricher(apiKey string) (*GoogleEnricher, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, apperrors.NewFatal("enricher.NewGoogleEnricher", "FATAL_CONFIG", "failed to build maps client", err)
	}
	cb := circuit.New(circuit.Config{
		Name:              "enricher",
		OperationTimeout:  constants.EnricherOperationTimeout,
		OpenFor:           constants.EnricherOpenFor,
		MaxConsecFailures: 3,
		WindowSize:        20,
		FailureRate:       constants.CircuitFailureRate,
		SlowCallThreshold: constants.EnricherSlowCallThreshold,
		SlowCallRate:      constants.CircuitSlowCallRate,
	}, nil)
	return &GoogleEnricher{
		client:        client,
		cb:            cb,
		limiter:       rate.NewLimiter(rate.Limit(constants.EnricherRateLimitPerSec), constants.EnricherRateLimitPerSec),
		apiKey:        apiKey,
		PhotoMaxWidth: 800,
	}, nil
}

// Enrich resolves name+address against Google Places. Returns a BizError
// tagged NOT_FOUND when no place matches, or a transient ExternalAPIError
// tagged PROVIDER_ERROR on API/network failure.
func (e *GoogleEnricher) Enrich(ctx context.Context, name, address string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.EnricherRequestTimeout)
	defer cancel()

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, apperrors.NewTransient("enricher.Enrich", "google", "PROVIDER_ERROR", "rate limiter wait failed", err)
	}

	query := strings.TrimSpace(name + " " + address)
	var searchResp maps.PlacesSearchResponse
	err := e.cb.Do(ctx, func(ctx context.Context) error {
		resp, e := e.client.TextSearch(ctx, &maps.TextSearchRequest{Query: query})
		if e != nil {
			return e
		}
		searchResp = resp
		return nil
	}, nil)
	if err != nil {
		return nil, apperrors.NewTransient("enricher.Enrich", "google", "PROVIDER_ERROR", "text search failed", err)
	}
	if len(searchResp.Results) == 0 {
		return nil, apperrors.NewBizCode("enricher.Enrich", "NOT_FOUND", fmt.Sprintf("no place found for %q", query), nil)
	}
	placeID := searchResp.Results[0].PlaceID

	var details maps.PlaceDetailsResult
	err = e.cb.Do(ctx, func(ctx context.Context) error {
		d, e := e.client.PlaceDetails(ctx, &maps.PlaceDetailsRequest{
			PlaceID: placeID,
			Fields: []maps.PlaceDetailsFieldMask{
				maps.PlaceDetailsFieldMaskName,
				maps.PlaceDetailsFieldMaskPlaceID,
				maps.PlaceDetailsFieldMaskFormattedAddress,
				maps.PlaceDetailsFieldMaskGeometry,
				maps.PlaceDetailsFieldMaskFormattedPhoneNumber,
				maps.PlaceDetailsFieldMaskWebsite,
				maps.PlaceDetailsFieldMaskPriceLevel,
				maps.PlaceDetailsFieldMaskUserRatingsTotal,
				maps.PlaceDetailsFieldMaskBusinessStatus,
				maps.PlaceDetailsFieldMaskOpeningHours,
				maps.PlaceDetailsFieldMaskPhotos,
			},
		})
		if e != nil {
			return e
		}
		details = d
		return nil
	}, nil)
	if err != nil {
		return nil, apperrors.NewTransient("enricher.Enrich", "google", "PROVIDER_ERROR", "place details failed", err)
	}

	lat := details.Geometry.Location.Lat
	lng := details.Geometry.Location.Lng
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 || (lat == 0 && lng == 0) {
		return nil, apperrors.NewValidationCode("enricher.Enrich", "INVALID_COORDS", "provider returned invalid coordinates", nil)
	}

	res := &Result{
		GooglePlaceID:    details.PlaceID,
		Lat:              lat,
		Lng:              lng,
		FormattedAddress: details.FormattedAddress,
		Phone:            details.FormattedPhoneNumber,
		Website:          details.Website,
	}
	if details.Rating > 0 {
		r := float64(details.Rating)
		res.Rating = &r
	}
	if details.PriceLevel > 0 {
		pl := details.PriceLevel
		res.PriceLevel = &pl
	}
	if len(details.OpeningHours.Periods) > 0 {
		res.Hours = normalizeHours(details.OpeningHours.Periods)
	}
	res.PhotoURLs = e.photoURLs(details.Photos)
	return res, nil
}

// photoURLs converts Places photo references into fetchable image URLs
// (the client never calls the Photo endpoint itself; the caller does).
func (e *GoogleEnricher) photoURLs(photos []maps.Photo) []string {
	if len(photos) == 0 {
		return nil
	}
	urls := make([]string, 0, len(photos))
	for _, p := range photos {
		if p.PhotoReference == "" {
			continue
		}
		urls = append(urls, fmt.Sprintf(
			"https://maps.googleapis.com/maps/api/place/photo?maxwidth=%d&photoreference=%s&key=%s",
			e.PhotoMaxWidth, p.PhotoReference, e.apiKey,
		))
	}
	return urls
}

// normalizeHours converts Google's weekday/time-of-day periods into the
// minutes-from-midnight document carried on Venue.Hours.
func normalizeHours(periods []maps.OpeningHoursPeriod) *models.OpeningHours {
	out := &models.OpeningHours{Periods: make(map[int][]models.TimeRange)}
	for _, p := range periods {
		day := int(p.Open.Day)
		openMin, ok1 := parseGoogleTimeToMinutes(p.Open.Time)
		closeMin, ok2 := parseGoogleTimeToMinutes(p.Close.Time)
		if !ok1 || !ok2 {
			continue
		}
		out.Periods[day] = append(out.Periods[day], models.TimeRange{OpenMinute: openMin, CloseMinute: closeMin})
	}
	for day, ranges := range out.Periods {
		sort.Slice(ranges, func(i, j int) bool { return ranges[i].OpenMinute < ranges[j].OpenMinute })
		out.Periods[day] = ranges
	}
	return out
}

// parseGoogleTimeToMinutes parses Google's "HHMM" time-of-day format.
func parseGoogleTimeToMinutes(raw string) (int, bool) {
	if len(raw) != 4 {
		return 0, false
	}
	h := int(raw[0]-'0')*10 + int(raw[1]-'0')
	m := int(raw[2]-'0')*10 + int(raw[3]-'0')
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
