// Package retrieval implements the multi-signal scoring engine
// over the derived venue search view.
package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"

	"entertainment-planner/internal/constants"
	"entertainment-planner/internal/domain"
	"entertainment-planner/internal/models"
	apperrors "entertainment-planner/pkg/errors"
	"entertainment-planner/pkg/geography"
)

// Weights holds the five scoring coefficients. Rail modes
// apply multiplicative deltas on top of Default rather than defining a
// competing formula.
type Weights struct {
	Lexical float64
	Geo     float64
	Vibe    float64
	Signal  float64
	Novel   float64
}

// Default mirrors the canonical weights.
func Default() Weights {
	return Weights{
		Lexical: constants.WeightLexical,
		Geo:     constants.WeightGeo,
		Vibe:    constants.WeightVibe,
		Signal:  constants.WeightSignal,
		Novel:   constants.WeightNovel,
	}
}

// Sort enumerates the supported SearchViewCtx orderings.
type Sort string

const (
	SortRelevance Sort = "relevance"
	SortRating    Sort = "rating"
	SortDistance  Sort = "distance"
)

func validSort(s Sort) bool {
	switch s {
	case "", SortRelevance, SortRating, SortDistance:
		return true
	}
	return false
}

// Query bundles a single retrieval request.
type Query struct {
	Slot       *models.Slot // nil for a plain text search
	Text       string
	Limit      int
	Offset     int
	UserGeo    *domain.GeoPoint
	RadiusM    *float64
	Area       string
	Sort       Sort
	Weights    Weights
	Popularity map[int64]float64 // venue id -> normalized popularity in [0,1], for novelty
}

// Engine runs multi-signal scoring over a VenueRepository-backed derived view.
type Engine struct {
	repo domain.VenueRepository
}

func New(repo domain.VenueRepository) *Engine {
	return &Engine{repo: repo}
}

// Search runs the full retrieval pipeline: filter build, geo filter,
// weighted scoring, tie-break, and badge attachment.
func (e *Engine) Search(ctx context.Context, q Query) ([]models.Candidate, int, error) {
	if !validSort(q.Sort) {
		return nil, 0, apperrors.NewValidationCode("retrieval.Search", "INVALID_SORT", "unsupported sort option: "+string(q.Sort), nil)
	}

	filters := domain.SearchFilters{Area: q.Area}
	text := q.Text
	requiredTags := []string(nil)
	expansionTags := []string(nil)
	if q.Slot != nil {
		requiredTags = q.Slot.Filter.RequiredTags
		expansionTags = q.Slot.ExpansionTags
		filters.Viewport = q.Slot.Filter.Viewport
		if text == "" {
			text = lexicalQueryFor(q.Slot)
		}
	}

	limit := q.Limit
	if limit <= 0 {
		limit = constants.RailDefaultLimitPerStep
	}
	// Fetch a wider candidate window than limit so weighting/diversification
	// downstream has real choices, per the bounded-candidate-set min-max
	// normalization documented for lexical_rank.
	fetchLimit := limit * 4
	if fetchLimit < 24 {
		fetchLimit = 24
	}

	venues, total, err := e.repo.SearchViewCtx(ctx, text, filters, string(q.Sort), fetchLimit, q.Offset, q.UserGeo)
	if err != nil {
		return nil, 0, apperrors.NewDB("retrieval.Search", "search view read failed", err)
	}

	if text == "" && q.Slot == nil {
		// Empty query: light editorial ranking by quality_score only.
		return e.lightEditorialRanking(venues, limit), total, nil
	}

	weights := q.Weights
	if weights == (Weights{}) {
		weights = Default()
	}

	rawLexical := make([]float64, len(venues))
	maxLex, minLex := 0.0, math.Inf(1)
	for i := range venues {
		rawLexical[i] = lexicalHeuristic(venues[i], text)
		if rawLexical[i] > maxLex {
			maxLex = rawLexical[i]
		}
		if rawLexical[i] < minLex {
			minLex = rawLexical[i]
		}
	}

	candidates := make([]models.Candidate, 0, len(venues))
	for i := range venues {
		v := venues[i]
		if q.RadiusM != nil && q.UserGeo != nil {
			if v.Lat == nil || v.Lng == nil {
				continue
			}
			d := geography.Haversine(q.UserGeo.Lat, q.UserGeo.Lng, *v.Lat, *v.Lng)
			if d > *q.RadiusM {
				continue
			}
		}

		lexRank := 0.0
		if maxLex > minLex {
			lexRank = (rawLexical[i] - minLex) / (maxLex - minLex)
		} else if maxLex > 0 {
			lexRank = 1 // every candidate matched equally
		}
		geoScore := geoScoreFor(q.UserGeo, &v)
		vibeOverlap := jaccard(strings.Split(v.TagsCSV, ","), expansionTags)
		signalBoost := signalBoostFor(v.Signals)
		novelty := noveltyFor(v.ID, q.Popularity)

		composite := weights.Lexical*lexRank + weights.Geo*geoScore + weights.Vibe*vibeOverlap + weights.Signal*signalBoost + weights.Novel*novelty

		if len(requiredTags) > 0 && !satisfiesTagFilter(v, requiredTags) {
			continue
		}

		card := cardFromVenue(v)
		card.Score = composite
		if q.UserGeo != nil && v.Lat != nil && v.Lng != nil {
			d := geography.Haversine(q.UserGeo.Lat, q.UserGeo.Lng, *v.Lat, *v.Lng)
			card.DistanceM = &d
		}
		card.Badges = badgesFor(v.Signals, geoScore)

		candidates = append(candidates, models.Candidate{
			Card:        card,
			LexicalRank: lexRank,
			GeoScore:    geoScore,
			VibeOverlap: vibeOverlap,
			SignalBoost: signalBoost,
			Novelty:     novelty,
			Composite:   composite,
		})
	}

	if q.Sort == SortDistance {
		sort.SliceStable(candidates, func(i, j int) bool {
			ci, cj := candidates[i], candidates[j]
			di, dj := ptrFloatAsc(ci.Card.DistanceM), ptrFloatAsc(cj.Card.DistanceM)
			if di != dj {
				return di < dj
			}
			return ci.Card.ID < cj.Card.ID
		})
	} else {
		sort.SliceStable(candidates, func(i, j int) bool {
			ci, cj := candidates[i], candidates[j]
			if ci.Composite != cj.Composite {
				return ci.Composite > cj.Composite
			}
			ri, rj := ptrFloat(ci.Card.Rating), ptrFloat(cj.Card.Rating)
			if ri != rj {
				return ri > rj
			}
			pi, pj := ptrInt(ci.Card.PriceLevel), ptrInt(cj.Card.PriceLevel)
			if pi != pj {
				return pi > pj
			}
			return ci.Card.ID < cj.Card.ID
		})
	}

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, total, nil
}

// lightEditorialRanking handles the empty-query edge case: rank by
// quality_score alone, still honoring any area/geo filters already applied
// by SearchViewCtx.
func (e *Engine) lightEditorialRanking(venues []models.Venue, limit int) []models.Candidate {
	sort.SliceStable(venues, func(i, j int) bool {
		return venues[i].Signals.QualityScore > venues[j].Signals.QualityScore
	})
	if len(venues) > limit {
		venues = venues[:limit]
	}
	out := make([]models.Candidate, 0, len(venues))
	for _, v := range venues {
		card := cardFromVenue(v)
		card.Score = v.Signals.QualityScore
		card.Badges = badgesFor(v.Signals, 0)
		out = append(out, models.Candidate{Card: card, Composite: v.Signals.QualityScore})
	}
	return out
}

func lexicalQueryFor(slot *models.Slot) string {
	terms := append([]string{slot.Canonical}, slot.ExpansionTags...)
	return strings.Join(terms, " ")
}

// lexicalHeuristic approximates a FULLTEXT relevance score when the
// repository layer can't express MATCH...AGAINST (e.g. in unit tests using
// an in-memory repository): count of query terms present in tags/name.
func lexicalHeuristic(v models.Venue, text string) float64 {
	if text == "" {
		return 0
	}
	haystack := strings.ToLower(v.Name + " " + v.TagsCSV + " " + v.Summary)
	score := 0.0
	for _, term := range strings.Fields(strings.ToLower(text)) {
		if strings.Contains(haystack, term) {
			score++
		}
	}
	return score
}

func geoScoreFor(userGeo *domain.GeoPoint, v *models.Venue) float64 {
	if userGeo == nil || v.Lat == nil || v.Lng == nil {
		return 0
	}
	d := geography.Haversine(userGeo.Lat, userGeo.Lng, *v.Lat, *v.Lng)
	return 1 / (1 + d/constants.GeoScoreTau)
}

func jaccard(venueTags, slotTags []string) float64 {
	if len(slotTags) == 0 {
		return 0
	}
	set := make(map[string]bool, len(venueTags))
	for _, t := range venueTags {
		t = strings.TrimSpace(t)
		if t != "" {
			set[t] = true
		}
	}
	if len(set) == 0 {
		return 0
	}
	inter := 0
	union := make(map[string]bool, len(set)+len(slotTags))
	for t := range set {
		union[t] = true
	}
	for _, t := range slotTags {
		union[t] = true
		if set[t] {
			inter++
		}
	}
	if len(union) == 0 {
		return 0
	}
	return float64(inter) / float64(len(union))
}

// satisfiesTagFilter checks a slot's tag inclusion set against both the
// venue's stored tag list and its computed signals, since a few canonical
// synthetic tags (e.g. signal:hq_experience) live on Signals rather than
// TagsCSV. The filter is satisfied by any tag in the set: a slot expands to
// several sibling tags (vibe:chill, vibe:relaxed) and a venue carrying one
// of them is a match, not a miss.
func satisfiesTagFilter(v models.Venue, required []string) bool {
	set := make(map[string]bool)
	for _, t := range strings.Split(v.TagsCSV, ",") {
		set[strings.TrimSpace(t)] = true
	}
	if v.Signals.HQExperience {
		set["signal:hq_experience"] = true
	}
	if v.Signals.EditorPick {
		set["signal:editor_pick"] = true
	}
	if v.Signals.LocalGem {
		set["signal:local_gem"] = true
	}
	if v.Signals.Dateworthy {
		set["signal:dateworthy"] = true
	}
	if v.Signals.Extraordinary {
		set["signal:extraordinary"] = true
	}
	for _, r := range required {
		if set[r] {
			return true
		}
	}
	return false
}

func signalBoostFor(s models.Signals) float64 {
	boost := 0.0
	if s.HQExperience {
		boost += constants.SignalBoostHQExperience
	}
	if s.EditorPick {
		boost += constants.SignalBoostEditorPick
	}
	boost += constants.SignalBoostQualityScale * s.QualityScore
	return boost
}

func noveltyFor(id int64, popularity map[int64]float64) float64 {
	if popularity == nil {
		return 0
	}
	p, ok := popularity[id]
	if !ok {
		return 0
	}
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return 1 - p
}

func badgesFor(s models.Signals, geoScore float64) []string {
	var badges []string
	if s.HQExperience {
		badges = append(badges, "hq")
	}
	if s.EditorPick {
		badges = append(badges, "editor")
	}
	if s.LocalGem {
		badges = append(badges, "hidden_gem")
	}
	if s.Dateworthy {
		badges = append(badges, "dateworthy")
	}
	if geoScore > 0.5 {
		badges = append(badges, "near_you")
	}
	return badges
}

// CardFromVenue projects a stored Venue into its UI-facing PlaceCard shape,
// exported so callers outside this package (e.g. the place-detail endpoint) can reuse
// the same projection instead of re-deriving it.
func CardFromVenue(v models.Venue) models.PlaceCard {
	return cardFromVenue(v)
}

func cardFromVenue(v models.Venue) models.PlaceCard {
	card := models.PlaceCard{
		ID:           v.ID,
		Name:         v.Name,
		Category:     v.Category,
		Summary:      v.Summary,
		PriceLevel:   v.PriceLevel,
		Rating:       v.Rating,
		Signals:      v.Signals,
		QualityFlags: v.QualityFlags,
	}
	if v.TagsCSV != "" {
		for _, t := range strings.Split(v.TagsCSV, ",") {
			t = strings.TrimSpace(t)
			if t != "" {
				card.Tags = append(card.Tags, t)
			}
		}
	}
	if v.Address != nil {
		card.Address = *v.Address
	}
	if v.Lat != nil {
		card.Lat = *v.Lat
	}
	if v.Lng != nil {
		card.Lng = *v.Lng
	}
	if v.PictureURL != nil {
		card.PictureURL = *v.PictureURL
	}
	if v.MapURL != nil {
		card.MapURL = *v.MapURL
	}
	return card
}

func ptrFloat(f *float64) float64 {
	if f == nil {
		return math.Inf(-1)
	}
	return *f
}

// ptrFloatAsc treats a missing distance as "farthest" so sort=distance never
// promotes a venue with no computable distance ahead of one that has it.
func ptrFloatAsc(f *float64) float64 {
	if f == nil {
		return math.Inf(1)
	}
	return *f
}

func ptrInt(i *int) int {
	if i == nil {
		return -1
	}
	return *i
}
