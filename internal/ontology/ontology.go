// Package ontology loads and validates the tag taxonomy and per-slot
// synonym dictionary backing slot extraction.
package ontology

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"gopkg.in/yaml.v3"

	"entertainment-planner/internal/models"
)

// Dictionary is the immutable, in-memory synonym/tag taxonomy.
// Safe for concurrent reads once Load returns; readers need no locks.
type Dictionary struct {
	entries    map[string]*models.SynonymEntry // canonical id -> entry
	aliasIdx   map[string]*models.SynonymEntry // normalized surface -> entry (includes multiword phrases)
	unigram    map[string]*models.SynonymEntry // single-token surface -> entry
	multiword  map[int][]string                // token-length -> phrases of that length, in document order
	viewports  map[string]*models.Viewport     // AREA canonical id -> bounding box
	duplicates []string                        // surfaces that mapped to more than one distinct canonical at build time
	health     models.HealthState
	mu         sync.RWMutex // guards health only; maps are read-only after Load
}

// Load reads the embedded ontology document, builds the alias/unigram
// indices and runs Validate. It returns an error only when the embedded file
// cannot be read or parsed; a failed validation still yields a Dictionary
// with Health().Healthy == false so callers can surface the health probe
// without crashing the process.
func Load() (*Dictionary, error) {
	b, err := dataFS.ReadFile("data/ontology.yaml")
	if err != nil {
		return nil, fmt.Errorf("ontology: read embedded data: %w", err)
	}
	var doc models.OntologyDocument
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("ontology: parse embedded data: %w", err)
	}
	return FromDocument(doc), nil
}

// FromDocument builds a Dictionary from an already-parsed document. Exposed
// for tests that want to exercise validation without the embedded file.
func FromDocument(doc models.OntologyDocument) *Dictionary {
	d := &Dictionary{
		entries:   make(map[string]*models.SynonymEntry),
		aliasIdx:  make(map[string]*models.SynonymEntry),
		unigram:   make(map[string]*models.SynonymEntry),
		multiword: make(map[int][]string),
	}

	add := func(items []models.OntologyItem, typ models.SlotType) {
		for i := range items {
			it := items[i]
			entry := &models.SynonymEntry{
				Type:           typ,
				Canonical:      it.ID,
				Label:          it.Label,
				Synonyms:       append([]string{it.Label}, it.Aliases...),
				ExpandsToTags:  it.ExpandsToTags,
				Denylist:       it.Denylist,
				BoostDefault:   it.BoostDefault,
				DiversityGroup: it.DiversityGroup,
			}
			d.entries[it.ID] = entry
			for _, syn := range entry.Synonyms {
				norm := normalize(syn)
				if norm == "" {
					continue
				}
				if prev, ok := d.aliasIdx[norm]; ok && prev.Canonical != entry.Canonical {
					d.duplicates = append(d.duplicates, norm)
				}
				d.aliasIdx[norm] = entry
				if !strings.Contains(norm, " ") {
					d.unigram[norm] = entry
				} else {
					n := len(strings.Fields(norm))
					d.multiword[n] = append(d.multiword[n], norm)
				}
			}
		}
	}

	add(doc.Vibes, models.SlotVibe)
	add(doc.Scenarios, models.SlotExperience)
	add(doc.Experiences, models.SlotExperience)
	add(doc.Drinks, models.SlotDrink)
	add(doc.Cuisines, models.SlotCuisine)
	add(doc.Dishes, models.SlotDish)
	add(doc.Areas, models.SlotArea)

	// Areas carry viewports; stash them back onto the entry via a side map
	// keyed by canonical id so the slotter can attach SlotFilter.Viewport.
	d.viewports = make(map[string]*models.Viewport)
	for _, it := range doc.Areas {
		if it.Viewport != nil {
			d.viewports[it.ID] = it.Viewport
		}
	}

	d.health = d.validate()
	return d
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	prevSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !prevSpace {
				b.WriteRune(' ')
			}
			prevSpace = true
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// AliasMap returns the normalized-surface -> canonical entry index used by
// the slot extractor. The returned map must not be mutated.
func (d *Dictionary) AliasMap() map[string]*models.SynonymEntry { return d.aliasIdx }

// UnigramMap returns the single-token subset of AliasMap.
func (d *Dictionary) UnigramMap() map[string]*models.SynonymEntry { return d.unigram }

// MultiwordPhrasesByLength returns, for each token length, the set of
// normalized multi-word phrases in the dictionary.
func (d *Dictionary) MultiwordPhrasesByLength() map[int][]string { return d.multiword }

// Entry looks up a canonical entry by id.
func (d *Dictionary) Entry(canonical string) (*models.SynonymEntry, bool) {
	e, ok := d.entries[canonical]
	return e, ok
}

// Viewport returns the bounding box for an AREA canonical id, if any.
func (d *Dictionary) Viewport(canonical string) (*models.Viewport, bool) {
	v, ok := d.viewports[canonical]
	return v, ok
}

// BoostMap returns canonical id -> editorial boost weight.
func (d *Dictionary) BoostMap() map[string]float64 {
	out := make(map[string]float64, len(d.entries))
	for id, e := range d.entries {
		out[id] = e.BoostDefault
	}
	return out
}

// AllCanonicals returns every canonical id in the dictionary, for
// co-occurrence fallback and round-trip tests.
func (d *Dictionary) AllCanonicals() []string {
	out := make([]string, 0, len(d.entries))
	for id := range d.entries {
		out = append(out, id)
	}
	return out
}

// Health returns the current health snapshot.
func (d *Dictionary) Health() models.HealthState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.health
}

// ReplaceFrom atomically swaps d's indices and health snapshot for other's,
// letting callers (e.g. an admin reload endpoint) hot-swap the dictionary a
// live Extractor/Scheduler already holds a pointer to, without copying d's
// mutex by value.
func (d *Dictionary) ReplaceFrom(other *Dictionary) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = other.entries
	d.aliasIdx = other.aliasIdx
	d.unigram = other.unigram
	d.multiword = other.multiword
	d.viewports = other.viewports
	d.duplicates = other.duplicates
	d.health = other.health
}

// validate checks the taxonomy invariants: every expansion tag must
// resolve to a known canonical-or-tag, no surface may map to two distinct
// canonicals, and every entry must carry a canonical id. It never returns an
// error; failures degrade Health().Healthy to false so the process keeps
// serving with a documented health flag.
func (d *Dictionary) validate() models.HealthState {
	hs := models.HealthState{Healthy: true}
	knownTags := make(map[string]bool, len(d.entries))
	for id := range d.entries {
		knownTags[id] = true
	}

	for id, e := range d.entries {
		if strings.TrimSpace(id) == "" {
			hs.Healthy = false
			hs.LastError = "MISSING_CANONICAL"
			continue
		}
		if len(e.Synonyms) <= 1 { // only the label itself, no real synonyms
			hs.Warnings = append(hs.Warnings, fmt.Sprintf("entry %s has no synonyms beyond its label", id))
		}
		for _, tag := range e.ExpandsToTags {
			if !knownTags[tag] && !strings.Contains(tag, ":") {
				hs.Healthy = false
				hs.LastError = "INVALID_TAGS"
			}
		}
	}
	// d.duplicates is populated at index-build time (FromDocument), before
	// the later-wins overwrite on d.aliasIdx collapses the collision — by
	// the time validate() runs, aliasIdx itself can no longer show it.
	if len(d.duplicates) > 0 {
		hs.Healthy = false
		hs.LastError = "DUPLICATE_SYNONYMS"
		for _, surface := range d.duplicates {
			hs.Warnings = append(hs.Warnings, fmt.Sprintf("surface %q maps to more than one canonical", surface))
		}
	}
	hs.EntryCount = len(d.entries)
	hs.SynonymCount = len(d.aliasIdx)
	return hs
}
