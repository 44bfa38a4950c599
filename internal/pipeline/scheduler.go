package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	"github.com/allison-weber/EPAnomoly/internal/domain"
	"github.com/allison-weber/EPAnomoly/internal/observability"
)

// ErrRefitInProgress is returned by RunOnce while another refit is running.
var ErrRefitInProgress = errors.New("refit already in progress")

// Purger drops derived results that depend on stored scores.
type Purger interface {
	Purge()
}

// Scheduler periodically recomputes the stored residual and hourly MSE
// columns of every variable, then purges cached verdicts.
type Scheduler struct {
	engine  *Engine
	purger  Purger
	cron    *cron.Cron
	logger  *slog.Logger
	metrics *observability.Metrics

	running atomic.Bool
	mu      sync.Mutex
	ctx     context.Context
}

// NewScheduler creates a Scheduler firing on a standard five-field cron
// expression or a descriptor such as "@daily". purger may be nil.
func NewScheduler(engine *Engine, purger Purger, schedule string, logger *slog.Logger, metrics *observability.Metrics) (*Scheduler, error) {
	s := &Scheduler{
		engine:  engine,
		purger:  purger,
		cron:    cron.New(),
		logger:  logger,
		metrics: metrics,
		ctx:     context.Background(),
	}
	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		return nil, fmt.Errorf("invalid refit schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins firing. Jobs run with ctx until Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.logger.Info("refit scheduler started", "next", s.cron.Entries()[0].Schedule.Next(domain.Now()))
	s.cron.Start()
}

// Stop halts the schedule and waits for a running refit to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Warn("scheduled refit skipped", "error", err)
	}
}

// RunOnce refits every variable: daily residuals first, then hourly MSE for
// variables that have an hourly partition.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRefitInProgress
	}
	defer s.running.Store(false)
	s.metrics.RefitRunning.Set(1)
	defer s.metrics.RefitRunning.Set(0)

	daily, err := s.engine.store.Variables(ctx, domain.Daily)
	if err != nil {
		return fmt.Errorf("list daily variables: %w", err)
	}
	hourly, err := s.engine.store.Variables(ctx, domain.Hourly)
	if err != nil {
		return fmt.Errorf("list hourly variables: %w", err)
	}

	for _, v := range daily {
		outcomes, err := s.engine.FitDaily(ctx, v)
		if err != nil {
			return fmt.Errorf("refit daily %s: %w", v, err)
		}
		s.logOutcomes(domain.Daily, v, outcomes)

		if !slices.Contains(hourly, v) {
			continue
		}
		outcomes, err = s.engine.FitHourly(ctx, v)
		if err != nil {
			return fmt.Errorf("refit hourly %s: %w", v, err)
		}
		s.logOutcomes(domain.Hourly, v, outcomes)
	}

	if s.purger != nil {
		s.purger.Purge()
	}
	return nil
}

func (s *Scheduler) logOutcomes(freq domain.Frequency, variable string, outcomes []domain.FitOutcome) {
	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			s.logger.Warn("site refit failed", "frequency", freq, "site_id", o.Site, "variable", variable, "error", o.Err)
		}
	}
	s.logger.Info("refit finished", "frequency", freq, "variable", variable, "sites", len(outcomes), "failed", failed)
}
