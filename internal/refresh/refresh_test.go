package refresh

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"entertainment-planner/internal/ontology"
	"entertainment-planner/pkg/health"
	"entertainment-planner/pkg/logging"
)

type stubRefresher struct {
	refreshCalls atomic.Int64
	heartbeats   atomic.Int64
	refreshErr   error
	heartbeatErr error
}

func (s *stubRefresher) RefreshSearchViewCtx(ctx context.Context) error {
	s.refreshCalls.Add(1)
	return s.refreshErr
}

func (s *stubRefresher) WriteHeartbeatCtx(ctx context.Context, view string, at time.Time) error {
	s.heartbeats.Add(1)
	return s.heartbeatErr
}

func mustDict(t *testing.T) *ontology.Dictionary {
	t.Helper()
	dict, err := ontology.Load()
	if err != nil {
		t.Fatalf("ontology.Load: %v", err)
	}
	return dict
}

func mustLogger(t *testing.T) *logging.Logger {
	t.Helper()
	l, err := logging.NewLogger(logging.LogConfig{Level: logging.LevelError, Format: "json", Output: "stdout"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	return l
}

func TestRunOnceHealthyUpdatesHeartbeatAndClearsUnhealthy(t *testing.T) {
	refresher := &stubRefresher{}
	s := New(refresher, mustDict(t), mustLogger(t))
	s.unhealthy.Store(true)

	if err := s.runOnce(); err != nil {
		t.Fatalf("runOnce: %v", err)
	}
	if refresher.refreshCalls.Load() != 1 || refresher.heartbeats.Load() != 1 {
		t.Fatalf("expected one refresh and one heartbeat call, got %d/%d", refresher.refreshCalls.Load(), refresher.heartbeats.Load())
	}
	check := s.Check(context.Background())
	if check.Status != health.HealthStatusHealthy {
		t.Fatalf("expected healthy status, got %s", check.Status)
	}
}

func TestRunOnceRefreshFailureMarksUnhealthy(t *testing.T) {
	refresher := &stubRefresher{refreshErr: errors.New("boom")}
	s := New(refresher, mustDict(t), mustLogger(t))

	if err := s.runOnce(); err == nil {
		t.Fatalf("expected error from runOnce")
	}
	if refresher.heartbeats.Load() != 0 {
		t.Fatalf("heartbeat should not be written after a failed refresh")
	}
	check := s.Check(context.Background())
	if check.Status != health.HealthStatusUnhealthy {
		t.Fatalf("expected unhealthy status, got %s", check.Status)
	}
	if s.consecutive.Load() != 1 {
		t.Fatalf("expected 1 consecutive failure, got %d", s.consecutive.Load())
	}
}

func TestNextBackoffLinearWithCap(t *testing.T) {
	step := 5 * time.Second
	capD := 15 * time.Second

	b := time.Duration(0)
	for i, want := range []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second, 15 * time.Second} {
		b = nextBackoff(b, step, capD)
		if b != want {
			t.Fatalf("iteration %d: backoff = %s, want %s", i, b, want)
		}
	}
}

func TestStartStopLifecycle(t *testing.T) {
	refresher := &stubRefresher{}
	s := New(refresher, mustDict(t), mustLogger(t))
	s.ApplyInterval(10 * time.Millisecond)

	s.Start()
	time.Sleep(35 * time.Millisecond)
	if err := s.Stop(time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if refresher.refreshCalls.Load() == 0 {
		t.Fatalf("expected at least one refresh tick before shutdown")
	}
}
