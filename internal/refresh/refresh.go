// Package refresh implements the background view-refresh loop: a
// single ticker-driven goroutine that atomically rebuilds the derived search
// view, stamps a heartbeat, and re-validates the ontology, tolerating
// failures in any one iteration with linear backoff instead of aborting.
package refresh

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"entertainment-planner/internal/constants"
	"entertainment-planner/internal/ontology"
	"entertainment-planner/pkg/health"
	"entertainment-planner/pkg/logging"
)

// ViewRefresher is the storage-side contract the scheduler drives: an atomic rebuild of
// the derived search view (readers never observe a torn view) plus a
// heartbeat stamp recording when that rebuild last succeeded.
type ViewRefresher interface {
	RefreshSearchViewCtx(ctx context.Context) error
	WriteHeartbeatCtx(ctx context.Context, view string, at time.Time) error
}

// Scheduler owns the refresh loop lifecycle, using the same Start/Stop-with-
// sync.Once shape as internal/ingestion.Pipeline.
type Scheduler struct {
	refresher ViewRefresher
	dict      *ontology.Dictionary
	logger    *logging.ComponentLogger

	interval      time.Duration
	deadline      time.Duration
	backoffStep   time.Duration
	backoffCap    time.Duration
	heartbeatView string

	intervalMu sync.RWMutex

	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup

	unhealthy   atomic.Bool
	lastErr     atomic.Value // string
	lastRun     atomic.Value // time.Time
	consecutive atomic.Int64
}

// New builds a Scheduler with the default cadence, deadline, and backoff
// bounds. The cadence can be changed later with ApplyInterval; the deadline
// and backoff bounds are fixed.
func New(refresher ViewRefresher, dict *ontology.Dictionary, logger *logging.Logger) *Scheduler {
	s := &Scheduler{
		refresher:     refresher,
		dict:          dict,
		logger:        logger.WithComponent("refresh"),
		interval:      constants.RefreshIntervalDefault,
		deadline:      constants.RefreshDeadlineDefault,
		backoffStep:   constants.RefreshBackoffStep,
		backoffCap:    constants.RefreshBackoffCap,
		heartbeatView: constants.RefreshHeartbeatView,
		shutdown:      make(chan struct{}),
	}
	s.lastErr.Store("")
	s.lastRun.Store(time.Time{})
	return s
}

// Start launches the background loop. It has no guard against repeated
// calls: each call starts another loop goroutine.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop signals the loop to exit and waits for it, bounded by timeout.
func (s *Scheduler) Stop(timeout time.Duration) error {
	var err error
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(timeout):
			err = context.DeadlineExceeded
		}
	})
	return err
}

// ApplyInterval swaps the tick cadence without restarting the loop; a running
// loop picks it up when it next resets its ticker, after the current tick.
func (s *Scheduler) ApplyInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.intervalMu.Lock()
	s.interval = d
	s.intervalMu.Unlock()
}

func (s *Scheduler) currentInterval() time.Duration {
	s.intervalMu.RLock()
	defer s.intervalMu.RUnlock()
	return s.interval
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.currentInterval())
	defer ticker.Stop()

	backoff := time.Duration(0)

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			if err := s.runOnce(); err != nil {
				s.logger.Error("refresh iteration failed", err,
					logging.Int64("consecutive_failures", s.consecutive.Load()))
				backoff = nextBackoff(backoff, s.backoffStep, s.backoffCap)
				s.resetTicker(ticker, backoff)
				continue
			}
			backoff = 0
			s.resetTicker(ticker, s.currentInterval())
		}
	}
}

// resetTicker retargets the ticker's period; used both to apply a hot-reloaded
// interval and to step through the post-failure backoff schedule.
func (s *Scheduler) resetTicker(ticker *time.Ticker, d time.Duration) {
	if d <= 0 {
		d = s.currentInterval()
	}
	ticker.Reset(d)
}

func nextBackoff(current, step, ceiling time.Duration) time.Duration {
	next := current + step
	if next > ceiling {
		next = ceiling
	}
	if next <= 0 {
		next = step
	}
	return next
}

// runOnce performs one refresh iteration: rebuild the view, stamp the
// heartbeat, re-validate the ontology, and update the process-wide health
// flag on regression.
func (s *Scheduler) runOnce() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.deadline)
	defer cancel()

	now := time.Now()

	if err := s.refresher.RefreshSearchViewCtx(ctx); err != nil {
		s.markUnhealthy(err)
		return err
	}
	if err := s.refresher.WriteHeartbeatCtx(ctx, s.heartbeatView, now); err != nil {
		s.markUnhealthy(err)
		return err
	}

	state := s.dict.Health()
	if !state.Healthy {
		err := &regressionError{warnings: state.Warnings, lastErr: state.LastError}
		s.markUnhealthy(err)
		return err
	}

	s.unhealthy.Store(false)
	s.lastErr.Store("")
	s.lastRun.Store(now)
	s.consecutive.Store(0)
	return nil
}

func (s *Scheduler) markUnhealthy(err error) {
	s.unhealthy.Store(true)
	s.lastErr.Store(err.Error())
	s.consecutive.Add(1)
}

type regressionError struct {
	warnings []string
	lastErr  string
}

func (e *regressionError) Error() string {
	if e.lastErr != "" {
		return "ontology regression: " + e.lastErr
	}
	if len(e.warnings) > 0 {
		return "ontology regression: " + e.warnings[0]
	}
	return "ontology regression"
}

// Name identifies this checker to pkg/health.HealthManager.
func (s *Scheduler) Name() string { return "refresh_scheduler" }

// Check satisfies pkg/health.HealthChecker so the refresh loop's health is
// folded into the process-wide system health surface.
func (s *Scheduler) Check(ctx context.Context) health.ComponentHealth {
	status := health.HealthStatusHealthy
	if s.unhealthy.Load() {
		status = health.HealthStatusUnhealthy
	}
	lastRun, _ := s.lastRun.Load().(time.Time)
	lastErr, _ := s.lastErr.Load().(string)

	return health.ComponentHealth{
		Name:        s.Name(),
		Status:      status,
		Message:     lastErr,
		LastChecked: time.Now(),
		Metadata: map[string]interface{}{
			"last_refresh_at":      lastRun,
			"consecutive_failures": s.consecutive.Load(),
			"heartbeat_view":       s.heartbeatView,
		},
	}
}
