package workingmem

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rcliao/working-memory/internal/telemetry"
)

// SweepReport summarizes one reclamation pass.
type SweepReport struct {
	ID              string        `json:"id"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration"`
	ExpiryOnly      bool          `json:"expiry_only"`
	Expired         int           `json:"expired"`
	Promoted        int           `json:"promoted"`
	Deleted         int           `json:"deleted"`
	Retained        int           `json:"retained"`
	PressureAction  Action        `json:"pressure_action,omitempty"`
	PressureVictims int           `json:"pressure_victims"`
	BulkPromoted    int           `json:"bulk_promoted"`
}

func (r *SweepReport) count(o Outcome) {
	switch o {
	case OutcomePromoted:
		r.Promoted++
	case OutcomeDeleted:
		r.Deleted++
	case OutcomeRetained:
		r.Retained++
	}
}

// Scheduler runs sweeps on a fixed interval. At most one sweep runs at a
// time; a sweep requested while another is running is skipped.
type Scheduler struct {
	mgr      *Manager
	interval time.Duration

	sweeping atomic.Bool
	inflight sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func newScheduler(m *Manager, interval time.Duration) *Scheduler {
	return &Scheduler{mgr: m, interval: interval}
}

// Start launches the sweep loop. It returns immediately; the loop runs until
// ctx is canceled or Shutdown is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrSchedulerStopped
	}
	if s.started {
		return errors.New("scheduler already started")
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)

	s.mgr.logger.Info("reclamation loop started", zap.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A sweep that has started runs to completion even if the loop
			// is canceled meanwhile.
			if _, err := s.Sweep(context.WithoutCancel(ctx)); err != nil &&
				!errors.Is(err, ErrSweepInProgress) && !errors.Is(err, ErrSchedulerStopped) {
				s.mgr.logger.Error("scheduled sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep runs one full pass now: expired entries first, then the pressure
// action. It returns ErrSweepInProgress without doing anything if another
// sweep is running.
func (s *Scheduler) Sweep(ctx context.Context) (*SweepReport, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()
	return s.mgr.sweep(ctx, false)
}

// SweepExpired runs an expiry-only pass under the same single-flight guard.
func (s *Scheduler) SweepExpired(ctx context.Context) (*SweepReport, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()
	return s.mgr.sweep(ctx, true)
}

func (s *Scheduler) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrSchedulerStopped
	}
	if !s.sweeping.CompareAndSwap(false, true) {
		telemetry.Sweeps.WithLabelValues("skipped").Inc()
		return ErrSweepInProgress
	}
	s.inflight.Add(1)
	return nil
}

func (s *Scheduler) release() {
	s.sweeping.Store(false)
	s.inflight.Done()
}

// Shutdown stops the loop, waits for an in-flight sweep, and runs a final
// expiry-only sweep. Calling it again is a no-op.
func (s *Scheduler) Shutdown(ctx context.Context) (*SweepReport, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, nil
	}
	s.stopped = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for reclamation loop: %w", ctx.Err())
		}
	}

	idle := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(idle)
	}()
	select {
	case <-idle:
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for in-flight sweep: %w", ctx.Err())
	}

	report, err := s.mgr.sweep(ctx, true)
	if err != nil {
		return report, fmt.Errorf("final sweep: %w", err)
	}
	s.mgr.logger.Info("reclamation loop stopped", zap.String("sweep_id", report.ID))
	return report, nil
}

// sweep handles expired entries and, unless expiryOnly, acts on the pressure
// recommendation. Individual victim failures are counted as retained and do
// not abort the pass.
func (m *Manager) sweep(ctx context.Context, expiryOnly bool) (*SweepReport, error) {
	start := m.now()
	report := &SweepReport{ID: uuid.NewString(), StartedAt: start, ExpiryOnly: expiryOnly}
	logger := m.logger.With(zap.String("sweep_id", report.ID))

	err := m.runSweep(ctx, report, logger)

	report.Duration = m.now().Sub(start)
	telemetry.SweepDuration.Observe(report.Duration.Seconds())
	if err != nil {
		telemetry.Sweeps.WithLabelValues("failed").Inc()
		logger.Error("sweep failed", zap.Error(err))
		return report, err
	}

	telemetry.Sweeps.WithLabelValues("completed").Inc()
	logger.Info("sweep completed",
		zap.Bool("expiry_only", expiryOnly),
		zap.Int("expired", report.Expired),
		zap.Int("promoted", report.Promoted),
		zap.Int("deleted", report.Deleted),
		zap.Int("retained", report.Retained),
		zap.String("pressure_action", string(report.PressureAction)),
		zap.Int("bulk_promoted", report.BulkPromoted),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

func (m *Manager) runSweep(ctx context.Context, report *SweepReport, logger *zap.Logger) error {
	expired, err := m.policy.Expired(ctx, report.StartedAt)
	if err != nil {
		return fmt.Errorf("select expired entries: %w", err)
	}
	report.Expired = len(expired)
	for i := range expired {
		outcome, _ := m.handleVictim(ctx, &expired[i], TriggerExpiry)
		report.count(outcome)
	}

	if report.ExpiryOnly {
		return nil
	}

	stats, err := m.PressureStats(ctx)
	if err != nil {
		return err
	}
	report.PressureAction = stats.RecommendedAction

	switch stats.RecommendedAction {
	case ActionCleanup, ActionAggressiveCleanup:
		budget := m.policy.PressureBudget(stats.RecommendedAction, stats.TotalLive)
		victims, err := m.policy.PressureVictims(ctx, stats.RecommendedAction, m.now(), budget)
		if err != nil {
			return fmt.Errorf("select pressure victims: %w", err)
		}
		report.PressureVictims = len(victims)
		for i := range victims {
			outcome, _ := m.handleVictim(ctx, &victims[i], TriggerPressure)
			report.count(outcome)
		}
		if len(victims) < budget {
			logger.Warn("pressure cleanup fell short",
				zap.Int("budget", budget),
				zap.Int("victims", len(victims)),
			)
		}

	case ActionPromoteMemories:
		batch, err := m.policy.PromotionBatch(ctx, m.cfg.PromotionBatchSize)
		if err != nil {
			return fmt.Errorf("select promotion batch: %w", err)
		}
		for i := range batch {
			outcome := OutcomePromoted
			if _, err := m.transfer(ctx, &batch[i], TriggerBulkPromotion); err != nil {
				outcome = OutcomeRetained
				logger.Warn("bulk promotion failed", zap.String("id", batch[i].ID), zap.Error(err))
			} else {
				report.BulkPromoted++
			}
			telemetry.Evictions.WithLabelValues(string(TriggerBulkPromotion), string(outcome)).Inc()
			report.count(outcome)
		}
	}

	return nil
}
