// Package profiles implements the in-process session profile store.
package profiles

import (
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"entertainment-planner/internal/constants"
	"entertainment-planner/internal/models"
)

// noveltyTagHints are canonical-tag substrings that nudge novelty preference
// upward on a matching like/add_to_route.
var noveltyTagHints = []string{"hidden_gem", "unique", "new", "different"}

type shard struct {
	mu       sync.Mutex
	profiles map[string]*models.SessionProfile
}

// Store is the sharded session profile table: locks are per shard, so no
// cross-session lock is ever held.
type Store struct {
	shards []*shard
	ttl    time.Duration
	maxSig int
}

// New builds a Store with the standard shard count, TTL, and ring cap.
func New() *Store {
	s := &Store{ttl: constants.ProfileTTLDefault, maxSig: constants.ProfileMaxSignals}
	s.shards = make([]*shard, constants.ProfileShardCount)
	for i := range s.shards {
		s.shards[i] = &shard{profiles: make(map[string]*models.SessionProfile)}
	}
	return s
}

func (s *Store) shardFor(sessionID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Get returns a copy of the session profile, lazily expiring it if its TTL
// has elapsed.
func (s *Store) Get(sessionID string) (models.SessionProfile, bool) {
	sh := s.shardFor(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	p, ok := sh.profiles[sessionID]
	if !ok {
		return models.SessionProfile{}, false
	}
	if s.expired(p) {
		delete(sh.profiles, sessionID)
		return models.SessionProfile{}, false
	}
	return *p, true
}

func (s *Store) expired(p *models.SessionProfile) bool {
	return time.Since(p.CreatedAt) > s.ttl
}

func (s *Store) getOrCreateLocked(sh *shard, sessionID string, now time.Time) *models.SessionProfile {
	p, ok := sh.profiles[sessionID]
	if ok && !s.expired(p) {
		return p
	}
	p = &models.SessionProfile{
		SessionID:         sessionID,
		VibeVector:        make(map[string]float64),
		NoveltyPreference: 0.5,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	sh.profiles[sessionID] = p
	return p
}

// AddSignal appends a feedback event, updates the vibe vector on like/
// add_to_route (incrementing by ProfileVibeIncrement weighted by each tag's
// boost, then L1-normalizing), nudges novelty preference toward
// ProfileNoveltyTarget on a hidden-gem-style tag match, and bounds the
// signal ring to ProfileMaxSignals.
func (s *Store) AddSignal(sessionID string, placeID int64, action models.FeedbackAction, venueTags []string, boosts map[string]float64, dwellMs *int, step *string, now time.Time) {
	sh := s.shardFor(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	p := s.getOrCreateLocked(sh, sessionID, now)
	entry := models.SignalEntry{PlaceID: placeID, Action: action, DwellMs: dwellMs, Step: step, Ts: now}
	p.Signals = append(p.Signals, entry)
	if over := len(p.Signals) - s.maxSig; over > 0 {
		p.Signals = append([]models.SignalEntry(nil), p.Signals[over:]...)
	}

	if action == models.ActionLike || action == models.ActionAddToRoute {
		applyVibeIncrement(p, venueTags, boosts)
		applyNoveltyNudge(p, venueTags)
	}
	p.UpdatedAt = now
}

func applyVibeIncrement(p *models.SessionProfile, tags []string, boosts map[string]float64) {
	for _, tag := range tags {
		boost := boosts[tag]
		if boost == 0 {
			boost = 1.0
		}
		p.VibeVector[tag] += constants.ProfileVibeIncrement * boost
	}
	l1Normalize(p.VibeVector)
}

func l1Normalize(v map[string]float64) {
	sum := 0.0
	for _, w := range v {
		if w < 0 {
			w = -w
		}
		sum += w
	}
	if sum <= 0 {
		return
	}
	for k, w := range v {
		v[k] = w / sum
	}
}

func applyNoveltyNudge(p *models.SessionProfile, tags []string) {
	for _, tag := range tags {
		lower := strings.ToLower(tag)
		for _, hint := range noveltyTagHints {
			if strings.Contains(lower, hint) {
				// Move a third of the remaining distance to target per match,
				// so repeated hidden-gem likes converge without overshooting.
				p.NoveltyPreference += (constants.ProfileNoveltyTarget - p.NoveltyPreference) / 3
				return
			}
		}
	}
}

// Sweep removes every profile whose TTL has elapsed, across all shards.
// Invokable externally on a schedule or via an admin endpoint.
func (s *Store) Sweep(now time.Time) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, p := range sh.profiles {
			if now.Sub(p.CreatedAt) > s.ttl {
				delete(sh.profiles, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}
