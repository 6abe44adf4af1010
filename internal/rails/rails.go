// Package rails implements the rail composer: it turns parsed
// slots into the final, diversified, cross-deduplicated response rails.
package rails

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"entertainment-planner/internal/constants"
	"entertainment-planner/internal/domain"
	"entertainment-planner/internal/models"
	"entertainment-planner/internal/profiles"
	"entertainment-planner/internal/retrieval"
	"entertainment-planner/internal/slotter"
	"entertainment-planner/pkg/metrics"
)

var (
	mComposes     = metrics.Default.Counter("rails_composes_total", "compose calls")
	mComposeHits  = metrics.Default.Counter("rails_cache_hits_total", "rails cache hits")
	mRailTimeouts = metrics.Default.Counter("rails_rail_timeouts_total", "per-slot retrieval calls that timed out")
	mComposeDur   = metrics.Default.Histogram("rails_compose_duration_ms", "compose duration", []float64{5, 10, 25, 50, 100, 250, 500})
)

// Mode selects the weighting/behavior profile for a compose call.
type Mode string

const (
	ModeLight    Mode = "light"
	ModeVibe     Mode = "vibe"
	ModeSurprise Mode = "surprise"
)

// defaultPerCallTimeout bounds a single per-slot retrieval call inside Compose's
// fan-out; a slow retrieval call substitutes an empty rail rather than
// stalling the whole response.
const defaultPerCallTimeout = 2 * time.Second

// Request bundles a single GET /api/rails (or POST /api/compose) call.
type Request struct {
	Query          string
	Area           string
	UserGeo        *domain.GeoPoint
	RadiusM        *float64
	Mode           Mode
	SessionID      string
	LimitPerStep   int
	PerCallTimeout time.Duration
}

// Composer wires the slot extractor, retrieval engine and session store
// together into the rails response.
type Composer struct {
	extractor *slotter.Extractor
	engine    *retrieval.Engine
	sessions  *profiles.Store
	cache     *responseCache
}

func New(extractor *slotter.Extractor, engine *retrieval.Engine, sessions *profiles.Store) *Composer {
	return &Composer{
		extractor: extractor,
		engine:    engine,
		sessions:  sessions,
		cache:     newResponseCache(constants.RailsCacheTTLDefault, constants.RailsCacheMaxEntries),
	}
}

type railOutcome struct {
	index      int
	rail       models.Rail
	candidates []models.Candidate
	err        error
	timedOut   bool
}

// Compose runs the full composition pass: slot once, fan out N concurrent retrieval
// calls bounded by a per-call deadline, cross-rail dedup, MMR diversify each
// rail, and attach explanation metadata.
func (c *Composer) Compose(ctx context.Context, req Request) (*models.RailsResponse, error) {
	started := time.Now()
	limitPerStep := req.LimitPerStep
	if limitPerStep <= 0 {
		limitPerStep = constants.RailDefaultLimitPerStep
	}
	perCallTimeout := req.PerCallTimeout
	if perCallTimeout <= 0 {
		perCallTimeout = defaultPerCallTimeout
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeLight
	}
	mComposes.Inc(1)
	defer func() { mComposeDur.Observe(msSince(started)) }()

	key := requestFingerprint(req, limitPerStep)
	if cached, ok := c.cache.get(key); ok {
		mComposeHits.Inc(1)
		cached.CacheHit = true
		cached.ProcessingTimeMs = msSince(started)
		return &cached, nil
	}

	parse, err := c.extractor.Extract(ctx, req.Query, req.Area, geoLat(req.UserGeo), geoLng(req.UserGeo))
	if err != nil {
		return nil, err
	}

	if len(parse.Slots) == 0 {
		return &models.RailsResponse{
			Rails:            nil,
			ProcessingTimeMs: msSince(started),
			Mode:             string(mode),
			FallbackUsed:     false,
			Reason:           "no_intents",
		}, nil
	}

	weights := weightsFor(mode)
	var vibeVector map[string]float64
	if mode == ModeVibe && req.SessionID != "" {
		if profile, ok := c.sessions.Get(req.SessionID); ok {
			vibeVector = profile.VibeVector
		}
	}

	outcomes := c.fanOut(ctx, parse.Slots, req, weights, vibeVector, limitPerStep, perCallTimeout)

	rails, debugInfo := c.assembleRails(outcomes, parse.Slots, mode, limitPerStep)

	resp := models.RailsResponse{
		Rails:            rails,
		ProcessingTimeMs: msSince(started),
		Mode:             string(mode),
		FallbackUsed:     parse.FallbackUsed,
		DebugInfo:        debugInfo,
	}
	c.cache.put(key, resp)
	return &resp, nil
}

func (c *Composer) fanOut(ctx context.Context, slots []models.Slot, req Request, weights retrieval.Weights, vibeVector map[string]float64, limitPerStep int, perCallTimeout time.Duration) []railOutcome {
	outcomes := make([]railOutcome, len(slots))
	var wg sync.WaitGroup
	for i := range slots {
		wg.Add(1)
		go func(i int, slot models.Slot) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, perCallTimeout)
			defer cancel()

			q := retrieval.Query{
				Slot:    &slot,
				Limit:   limitPerStep * 2, // overfetch so dedup/diversification has choices
				UserGeo: req.UserGeo,
				RadiusM: req.RadiusM,
				Area:    req.Area,
				Weights: weights,
			}
			cands, _, err := c.engine.Search(callCtx, q)
			if callCtx.Err() != nil {
				mRailTimeouts.Inc(1)
				outcomes[i] = railOutcome{index: i, timedOut: true, err: callCtx.Err()}
				return
			}
			if err != nil {
				outcomes[i] = railOutcome{index: i, err: err}
				return
			}
			if vibeVector != nil {
				applyVibeVectorBoost(cands, vibeVector, weights.Vibe)
			}
			outcomes[i] = railOutcome{index: i, candidates: cands}
		}(i, slots[i])
	}
	wg.Wait()
	return outcomes
}

// assembleRails performs cross-rail dedup (keep highest score), per-rail MMR
// diversification, surprise-mode force-include, and reason/label attachment.
func (c *Composer) assembleRails(outcomes []railOutcome, slots []models.Slot, mode Mode, limitPerStep int) ([]models.Rail, map[string]any) {
	owner := make(map[int64]int) // venue id -> rail index currently holding it
	bestScore := make(map[int64]float64)

	for _, o := range outcomes {
		for _, cand := range o.candidates {
			id := cand.Card.ID
			if _, ok := owner[id]; ok && cand.Composite <= bestScore[id] {
				continue
			}
			owner[id] = o.index
			bestScore[id] = cand.Composite
		}
	}

	rails := make([]models.Rail, len(slots))
	debugCounts := make(map[string]any, len(slots))
	for _, o := range outcomes {
		slot := slots[o.index]
		var kept []models.Candidate
		for _, cand := range o.candidates {
			if owner[cand.Card.ID] == o.index {
				kept = append(kept, cand)
			}
		}

		diversified := diversify(kept, limitPerStep)

		if mode == ModeSurprise {
			diversified = ensureExtraordinary(kept, diversified)
		}

		rail := models.Rail{
			Step:   string(slot.Type),
			Label:  railLabel(slot),
			Origin: string(slot.MatchKind),
			Reason: railReason(slot),
		}
		for _, cand := range diversified {
			rail.Items = append(rail.Items, cand.Card)
		}
		if o.timedOut {
			rail.Reason = "timed out fetching candidates"
		}
		rails[o.index] = rail
		debugCounts[string(slot.Type)] = len(o.candidates)
	}
	return rails, debugCounts
}

// diversify runs MMR-style selection: repeatedly pick the remaining
// candidate maximizing score - lambda * max_similarity_to_already_picked.
func diversify(cands []models.Candidate, limit int) []models.Candidate {
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Composite > cands[j].Composite })
	if limit <= 0 || limit > len(cands) {
		limit = len(cands)
	}

	var picked []models.Candidate
	remaining := append([]models.Candidate(nil), cands...)

	for len(picked) < limit && len(remaining) > 0 {
		bestIdx, bestScore := -1, 0.0
		for i, cand := range remaining {
			maxSim := 0.0
			for _, p := range picked {
				if sim := candidateSimilarity(cand, p); sim > maxSim {
					maxSim = sim
				}
			}
			mmrScore := cand.Composite - constants.RailDiversificationLambda*maxSim
			if bestIdx == -1 || mmrScore > bestScore {
				bestIdx, bestScore = i, mmrScore
			}
		}
		picked = append(picked, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return picked
}

// candidateSimilarity is a cheap proxy: same category counts fully, plus a
// signature-hash overlap term built from sorted tags.
func candidateSimilarity(a, b models.Candidate) float64 {
	sim := 0.0
	if a.Card.Category != "" && a.Card.Category == b.Card.Category {
		sim += 0.5
	}
	if signatureHash(a.Card.Tags) == signatureHash(b.Card.Tags) {
		sim += 0.5
	}
	return sim
}

func signatureHash(tags []string) uint32 {
	sorted := append([]string(nil), tags...)
	sort.Strings(sorted)
	h := sha1.Sum([]byte(strings.Join(sorted, ",")))
	return binary.BigEndian.Uint32(h[:4])
}

// ensureExtraordinary runs after diversify, which is the final reorder/trim
// step; forcing the include any earlier would just be
// re-sorted away. If picked already carries an extraordinary/hq item it is
// left untouched; otherwise the highest-scoring such candidate from the
// full kept set is swapped in for picked's lowest-scoring item so the rail
// still surfaces one, without growing past its target length.
func ensureExtraordinary(kept, picked []models.Candidate) []models.Candidate {
	for _, c := range picked {
		if isExtraordinary(c) {
			return picked
		}
	}

	bestIdx, bestScore := -1, -1.0
	for i, c := range kept {
		if isExtraordinary(c) && c.Composite > bestScore {
			bestIdx, bestScore = i, c.Composite
		}
	}
	if bestIdx == -1 {
		return picked
	}
	candidate := kept[bestIdx]

	if len(picked) == 0 {
		return []models.Candidate{candidate}
	}

	worstIdx, worstScore := 0, picked[0].Composite
	for i, c := range picked {
		if c.Composite < worstScore {
			worstIdx, worstScore = i, c.Composite
		}
	}
	out := append([]models.Candidate(nil), picked...)
	out[worstIdx] = candidate
	return out
}

func isExtraordinary(c models.Candidate) bool {
	return c.Card.Signals.Extraordinary || c.Card.Signals.HQExperience
}

func applyVibeVectorBoost(cands []models.Candidate, vibeVector map[string]float64, vibeWeight float64) {
	for i := range cands {
		boost := 0.0
		for _, tag := range cands[i].Card.Tags {
			boost += vibeVector[tag]
		}
		cands[i].Composite += vibeWeight * boost
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Composite > cands[j].Composite })
}

func weightsFor(mode Mode) retrieval.Weights {
	w := retrieval.Default()
	switch mode {
	case ModeVibe:
		w.Vibe *= constants.RailModeVibeWeightFactor
	case ModeSurprise:
		w.Signal *= constants.RailModeVibeWeightFactor
	}
	return w
}

func railLabel(slot models.Slot) string {
	if slot.Label != "" {
		return slot.Label
	}
	s := strings.ToLower(string(slot.Type))
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func railReason(slot models.Slot) string {
	switch slot.Type {
	case models.SlotVibe:
		return fmt.Sprintf("%s spots close to you", slot.Label)
	case models.SlotArea:
		return fmt.Sprintf("Around %s", slot.Label)
	default:
		return fmt.Sprintf("Matching %s", slot.Label)
	}
}

func geoLat(g *domain.GeoPoint) *float64 {
	if g == nil {
		return nil
	}
	lat := g.Lat
	return &lat
}

func geoLng(g *domain.GeoPoint) *float64 {
	if g == nil {
		return nil
	}
	lng := g.Lng
	return &lng
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}
