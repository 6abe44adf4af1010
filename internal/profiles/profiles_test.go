package profiles

import (
	"math"
	"testing"
	"time"

	"entertainment-planner/internal/models"
)

func TestAddSignalBuildsVibeVectorAndNormalizes(t *testing.T) {
	s := New()
	now := time.Now()
	s.AddSignal("sess-1", 10, models.ActionLike, []string{"vibe:chill", "vibe:romantic"}, nil, nil, nil, now)
	s.AddSignal("sess-1", 11, models.ActionLike, []string{"vibe:chill"}, nil, nil, nil, now.Add(time.Second))

	p, ok := s.Get("sess-1")
	if !ok {
		t.Fatalf("expected profile to exist")
	}
	sum := 0.0
	for _, w := range p.VibeVector {
		sum += w
	}
	if sum > 1.0+1e-9 {
		t.Fatalf("expected L1 norm <= 1+eps, got %f", sum)
	}
	if p.VibeVector["vibe:chill"] <= p.VibeVector["vibe:romantic"] {
		t.Fatalf("expected chill weight (liked twice) to exceed romantic (liked once): %+v", p.VibeVector)
	}
}

func TestAddSignalNudgesNoveltyOnHiddenGem(t *testing.T) {
	s := New()
	now := time.Now()
	s.AddSignal("sess-2", 1, models.ActionAddToRoute, []string{"vibe:hidden_gem"}, nil, nil, nil, now)
	p, _ := s.Get("sess-2")
	if p.NoveltyPreference <= 0.5 {
		t.Fatalf("expected novelty preference to rise above default 0.5, got %f", p.NoveltyPreference)
	}
}

func TestSignalRingIsBounded(t *testing.T) {
	s := New()
	now := time.Now()
	for i := 0; i < 150; i++ {
		s.AddSignal("sess-3", int64(i), models.ActionOpen, nil, nil, nil, nil, now)
	}
	p, _ := s.Get("sess-3")
	if len(p.Signals) != 100 {
		t.Fatalf("expected ring capped at 100, got %d", len(p.Signals))
	}
	if p.Signals[len(p.Signals)-1].PlaceID != 149 {
		t.Fatalf("expected ring to keep the most recent entries, got tail id %d", p.Signals[len(p.Signals)-1].PlaceID)
	}
}

func TestGetExpiresOnTTL(t *testing.T) {
	s := New()
	s.ttl = time.Millisecond
	now := time.Now()
	s.AddSignal("sess-4", 1, models.ActionOpen, nil, nil, nil, nil, now)
	time.Sleep(2 * time.Millisecond)
	_, ok := s.Get("sess-4")
	if ok {
		t.Fatalf("expected expired profile to be gone")
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	s := New()
	s.ttl = time.Millisecond
	now := time.Now()
	s.AddSignal("sess-5", 1, models.ActionOpen, nil, nil, nil, nil, now)
	removed := s.Sweep(now.Add(time.Hour))
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
}

func TestVibeVectorNeverExceedsOne(t *testing.T) {
	s := New()
	now := time.Now()
	for i := 0; i < 20; i++ {
		s.AddSignal("sess-6", int64(i), models.ActionLike, []string{"vibe:chill"}, map[string]float64{"vibe:chill": 1.1}, nil, nil, now)
	}
	p, _ := s.Get("sess-6")
	sum := 0.0
	for _, w := range p.VibeVector {
		sum += math.Abs(w)
	}
	if sum > 1.0+1e-9 {
		t.Fatalf("expected bounded L1 norm, got %f", sum)
	}
}
