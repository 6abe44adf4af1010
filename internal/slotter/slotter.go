// Package slotter turns a free-text query into an ordered set of typed
// slots via a longest-match-first, deny-filtered, confidence-ranked
// matching cascade.
package slotter

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"entertainment-planner/internal/constants"
	"entertainment-planner/internal/models"
	"entertainment-planner/internal/ontology"
	"entertainment-planner/pkg/metrics"
	"entertainment-planner/pkg/utils"
)

var (
	mQueries   = metrics.Default.Counter("slotter_queries_total", "queries parsed")
	mFallbacks = metrics.Default.Counter("slotter_fallback_total", "queries that resolved via a fallback strategy")
	mCacheHits = metrics.Default.Counter("slotter_cache_hits_total", "parse cache hits")
	mLatency   = metrics.Default.Histogram("slotter_latency_ms", "slot extraction latency", []float64{0.5, 1, 2, 5, 10, 25, 50})
	mSlotCount = metrics.Default.Counter("slotter_slots_total", "slots produced across all queries")
)

// Config tunes the extraction pipeline. Zero value is not usable;
// use DefaultConfig as a base.
type Config struct {
	MaxSlots              int
	MinConfidence         float64
	VagueConfidenceFloor  float64
	StructConfidenceFloor float64
	VagueTokenCeiling     int
	EnableFuzzy           bool
	FuzzyThreshold        float64
	EnableFallback        bool
	CacheTTL              time.Duration
	CacheMaxEntries       int
}

// DefaultConfig mirrors the constants the rest of the service is tuned
// against.
func DefaultConfig() Config {
	return Config{
		MaxSlots:              constants.SlotterMaxSlotsDefault,
		MinConfidence:         constants.SlotterMinConfidenceDefault,
		VagueConfidenceFloor:  constants.SlotterVagueConfidenceFloor,
		StructConfidenceFloor: constants.SlotterStructConfidenceFloor,
		VagueTokenCeiling:     constants.SlotterVagueTokenCeiling,
		EnableFuzzy:           true,
		FuzzyThreshold:        0.72,
		EnableFallback:        true,
		CacheTTL:              constants.SlotterCacheTTLDefault,
		CacheMaxEntries:       constants.SlotterCacheMaxEntries,
	}
}

// Confidence levels per match kind.
const (
	confPhrase    = 0.95
	confMultiword = 0.85
	confUnigram   = 0.70
	fuzzyScale    = 0.50
)

// Extractor runs the extraction pipeline against a fixed ontology dictionary.
type Extractor struct {
	dict  *ontology.Dictionary
	cfg   Config
	cache *resultCache
}

// New builds an Extractor over dict using cfg.
func New(dict *ontology.Dictionary, cfg Config) *Extractor {
	return &Extractor{
		dict:  dict,
		cfg:   cfg,
		cache: newResultCache(cfg.CacheTTL, cfg.CacheMaxEntries),
	}
}

type token struct {
	text  string // normalized
	start int    // rune offset of first token in the normalized query
}

// Extract runs the full extraction pass: normalize, longest-first match,
// deny-filter, resolve overlaps, rank and trim, and fall back when nothing
// survives.
func (x *Extractor) Extract(ctx context.Context, query, area string, lat, lng *float64) (*models.SlotterResult, error) {
	started := time.Now()
	mQueries.Inc(1)
	normQuery := normalizeQuery(query)
	key := fingerprint(normQuery, area, lat, lng)
	if cached, ok := x.cache.get(key); ok {
		mCacheHits.Inc(1)
		cached.ProcessingTimeMs = 0
		cached.DebugInfo = mergeDebug(cached.DebugInfo, map[string]any{"cache_hit": true})
		return &cached, nil
	}

	tokens := tokenize(normQuery)
	candidates := x.matchAll(normQuery, tokens)
	candidates = x.filterDenied(candidates, normQuery)
	candidates = resolveOverlaps(candidates)

	floor := x.confidenceFloor(tokens, candidates)
	slots := x.rankAndTrim(candidates, floor)

	result := models.SlotterResult{
		Slots:     slots,
		DebugInfo: map[string]any{"parse_id": uuid.NewString()},
	}
	if len(slots) == 0 && x.cfg.EnableFallback {
		x.applyFallback(&result, area)
	}
	result.ProcessingTimeMs = float64(time.Since(started).Microseconds()) / 1000.0

	if result.FallbackUsed {
		mFallbacks.Inc(1)
	}
	mSlotCount.Inc(int64(len(result.Slots)))
	mLatency.Observe(result.ProcessingTimeMs)

	x.cache.put(key, result)
	return &result, nil
}

// normalizeQuery casefolds, strips diacritics' worth of punctuation noise and
// collapses whitespace.
func normalizeQuery(q string) string {
	q = strings.ToLower(strings.TrimSpace(q))
	var b strings.Builder
	prevSpace := false
	for _, r := range q {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r) || unicode.IsPunct(r):
			if !prevSpace {
				b.WriteRune(' ')
			}
			prevSpace = true
		default:
			// drop everything else (emoji, symbols)
		}
	}
	return strings.TrimSpace(b.String())
}

func tokenize(normQuery string) []token {
	fields := strings.Fields(normQuery)
	toks := make([]token, 0, len(fields))
	pos := 0
	for _, f := range fields {
		idx := strings.Index(normQuery[pos:], f)
		start := pos
		if idx >= 0 {
			start = pos + idx
		}
		toks = append(toks, token{text: f, start: start})
		pos = start + len(f)
	}
	return toks
}

type candidate struct {
	slot models.Slot
	end  int // token index (exclusive) this candidate spans, for overlap resolution
}

// matchAll runs the longest-first match cascade: multiword phrases (longest
// token-length first), then unigrams, then optional fuzzy matching against
// unigram surfaces.
func (x *Extractor) matchAll(normQuery string, tokens []token) []candidate {
	var out []candidate
	consumed := make([]bool, len(tokens))

	phrasesByLen := x.dict.MultiwordPhrasesByLength()
	lengths := make([]int, 0, len(phrasesByLen))
	for n := range phrasesByLen {
		lengths = append(lengths, n)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(lengths)))

	for _, n := range lengths {
		if n < 2 || n > len(tokens) {
			continue
		}
		phrases := make(map[string]bool, len(phrasesByLen[n]))
		for _, p := range phrasesByLen[n] {
			phrases[p] = true
		}
		for i := 0; i+n <= len(tokens); i++ {
			if anyConsumed(consumed, i, i+n) {
				continue
			}
			window := joinTokens(tokens[i : i+n])
			if !phrases[window] {
				continue
			}
			entry, ok := x.dict.AliasMap()[window]
			if !ok {
				continue
			}
			kind := models.MatchMultiword
			conf := confMultiword
			if n >= 3 {
				kind = models.MatchPhrase
				conf = confPhrase
			}
			out = append(out, newCandidate(entry, window, kind, conf, i, i+n))
			markConsumed(consumed, i, i+n)
		}
	}

	unigrams := x.dict.UnigramMap()
	for i, t := range tokens {
		if consumed[i] {
			continue
		}
		if entry, ok := unigrams[t.text]; ok {
			out = append(out, newCandidate(entry, t.text, models.MatchUnigram, confUnigram, i, i+1))
			consumed[i] = true
		}
	}

	if x.cfg.EnableFuzzy {
		for i, t := range tokens {
			if consumed[i] || len(t.text) < 4 {
				continue
			}
			best, bestScore := "", 0.0
			var bestEntry *models.SynonymEntry
			for surface, entry := range unigrams {
				if sim := utils.CalculateStringSimilarity(t.text, surface); sim > bestScore {
					best, bestScore, bestEntry = surface, sim, entry
				}
			}
			if bestEntry != nil && bestScore >= x.cfg.FuzzyThreshold {
				out = append(out, newCandidate(bestEntry, best, models.MatchFuzzy, fuzzyScale*bestScore, i, i+1))
				consumed[i] = true
			}
		}
	}

	return out
}

func newCandidate(entry *models.SynonymEntry, matched string, kind models.MatchKind, conf float64, pos, end int) candidate {
	slot := models.Slot{
		Type:          entry.Type,
		Canonical:     entry.Canonical,
		Label:         entry.Label,
		Confidence:    conf,
		MatchedText:   matched,
		MatchKind:     kind,
		Position:      pos,
		ExpansionTags: entry.ExpandsToTags,
		Filter:        models.SlotFilter{RequiredTags: entry.ExpandsToTags},
	}
	return candidate{slot: slot, end: end}
}

func anyConsumed(consumed []bool, start, end int) bool {
	for i := start; i < end; i++ {
		if consumed[i] {
			return true
		}
	}
	return false
}

func markConsumed(consumed []bool, start, end int) {
	for i := start; i < end; i++ {
		consumed[i] = true
	}
}

func joinTokens(toks []token) string {
	parts := make([]string, len(toks))
	for i, t := range toks {
		parts[i] = t.text
	}
	return strings.Join(parts, " ")
}

// filterDenied drops any candidate whose entry denylist matches the raw
// query text.
func (x *Extractor) filterDenied(cands []candidate, normQuery string) []candidate {
	out := cands[:0:0]
	for _, c := range cands {
		entry, ok := x.dict.Entry(c.slot.Canonical)
		if ok && entry.IsDenied(normQuery) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// resolveOverlaps keeps, among candidates sharing any token position, the
// one with the highest confidence; ties break on longer match span then
// earlier position.
func resolveOverlaps(cands []candidate) []candidate {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].slot.Confidence != cands[j].slot.Confidence {
			return cands[i].slot.Confidence > cands[j].slot.Confidence
		}
		li := len(strings.Fields(cands[i].slot.MatchedText))
		lj := len(strings.Fields(cands[j].slot.MatchedText))
		if li != lj {
			return li > lj
		}
		return cands[i].slot.Position < cands[j].slot.Position
	})

	var kept []candidate
	occupied := map[int]bool{}
	for _, c := range cands {
		overlap := false
		for p := c.slot.Position; p < c.end; p++ {
			if occupied[p] {
				overlap = true
				break
			}
		}
		if overlap {
			continue
		}
		kept = append(kept, c)
		for p := c.slot.Position; p < c.end; p++ {
			occupied[p] = true
		}
	}
	return kept
}

// confidenceFloor picks the dynamic threshold: a short, phrase-less query is
// "vague" and gets the lower floor; anything more structured must clear the
// higher one.
func (x *Extractor) confidenceFloor(tokens []token, cands []candidate) float64 {
	hasPhrase := false
	for _, c := range cands {
		if c.slot.MatchKind == models.MatchPhrase || c.slot.MatchKind == models.MatchMultiword {
			hasPhrase = true
			break
		}
	}
	if len(tokens) <= x.cfg.VagueTokenCeiling && !hasPhrase {
		return x.cfg.VagueConfidenceFloor
	}
	return x.cfg.StructConfidenceFloor
}

// rankAndTrim dedupes by (type, canonical) keeping the highest-confidence
// occurrence, drops anything below floor, sorts by position and truncates to
// MaxSlots.
func (x *Extractor) rankAndTrim(cands []candidate, floor float64) []models.Slot {
	best := make(map[string]models.Slot)
	for _, c := range cands {
		if c.slot.Confidence < floor {
			continue
		}
		key := string(c.slot.Type) + "|" + c.slot.Canonical
		if prev, ok := best[key]; !ok || c.slot.Confidence > prev.Confidence {
			best[key] = c.slot
		}
	}

	slots := make([]models.Slot, 0, len(best))
	for _, s := range best {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Position < slots[j].Position })

	if len(slots) > x.cfg.MaxSlots {
		slots = slots[:x.cfg.MaxSlots]
	}
	return slots
}

// applyFallback fills an empty result with the signals:editorial strategy
// first, then co-occurrence, recording whichever wins. Order is deliberate:
// editorial picks are curated and cheap to justify, co-occurrence is a last
// resort when nothing else applies.
func (x *Extractor) applyFallback(result *models.SlotterResult, area string) {
	if slot, ok := x.editorialFallback(area); ok {
		result.Slots = []models.Slot{slot}
		result.FallbackUsed = true
		result.FallbackReason = "signals:editorial"
		return
	}
	if slot, ok := x.coOccurrenceFallback(); ok {
		result.Slots = []models.Slot{slot}
		result.FallbackUsed = true
		result.FallbackReason = "co-occurrence"
		return
	}
	result.FallbackUsed = true
	result.FallbackReason = "none"
}

// editorialFallback surfaces a synthetic hq_experience-tagged vibe slot so a
// fully ambiguous query still returns a usable rail seed.
func (x *Extractor) editorialFallback(area string) (models.Slot, bool) {
	entry, ok := x.dict.Entry("vibe:luxury")
	if !ok {
		return models.Slot{}, false
	}
	filter := models.SlotFilter{RequiredTags: []string{"signal:hq_experience"}}
	if area != "" {
		if vp, ok := x.dict.Viewport(area); ok {
			filter.Viewport = vp
		}
	}
	return models.Slot{
		Type:          entry.Type,
		Canonical:     entry.Canonical,
		Label:         entry.Label,
		Confidence:    x.cfg.VagueConfidenceFloor,
		MatchedText:   "",
		MatchKind:     models.MatchFuzzy,
		Filter:        filter,
		ExpansionTags: entry.ExpandsToTags,
	}, true
}

// coOccurrenceFallback falls back to the single most broadly boosted
// canonical in the dictionary, standing in for historical co-occurrence
// statistics this deployment does not yet collect.
func (x *Extractor) coOccurrenceFallback() (models.Slot, bool) {
	boosts := x.dict.BoostMap()
	bestID, bestBoost := "", -1.0
	for id, b := range boosts {
		if b > bestBoost {
			bestID, bestBoost = id, b
		}
	}
	if bestID == "" {
		return models.Slot{}, false
	}
	entry, ok := x.dict.Entry(bestID)
	if !ok {
		return models.Slot{}, false
	}
	return models.Slot{
		Type:          entry.Type,
		Canonical:     entry.Canonical,
		Label:         entry.Label,
		Confidence:    x.cfg.MinConfidence,
		MatchKind:     models.MatchFuzzy,
		ExpansionTags: entry.ExpandsToTags,
		Filter:        models.SlotFilter{RequiredTags: entry.ExpandsToTags},
	}, true
}

func mergeDebug(dst map[string]any, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}
