// Package scheduler runs the keeper: cron jobs that poke the engine on a
// timer so that funding accrues and empty vaults are collected even when
// no user is trading.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"PowerPerp/internal/observability"
)

// Job results recorded on the keeper_runs metric
const (
	ResultOK      = "ok"
	ResultSkipped = "skipped"
	ResultError   = "error"
)

// JobFunc is one keeper job. It returns the result label and an error when
// the run failed.
type JobFunc func(ctx context.Context) (string, error)

// Scheduler wraps a cron runner. Jobs never overlap with themselves.
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
	metrics *observability.Metrics
	logger  zerolog.Logger

	mu   sync.Mutex
	ctx  context.Context
	jobs map[string]cron.EntryID
}

// New returns a scheduler accepting six-field specs (with seconds) as well
// as descriptors such as "@every 30s".
func New(timeout time.Duration, metrics *observability.Metrics, logger zerolog.Logger) *Scheduler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		timeout: timeout,
		metrics: metrics,
		logger:  logger,
		ctx:     context.Background(),
		jobs:    make(map[string]cron.EntryID),
	}
}

// Add registers fn under name. An empty spec disables the job.
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	if spec == "" {
		s.logger.Info().Str("job", name).Msg("keeper job disabled")
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("keeper job %q already registered", name)
	}
	id, err := s.cron.AddFunc(spec, func() { s.RunOnce(s.context(), name, fn) })
	if err != nil {
		return fmt.Errorf("keeper job %q: %w", name, err)
	}
	s.jobs[name] = id
	s.logger.Info().Str("job", name).Str("spec", spec).Msg("keeper job scheduled")
	return nil
}

// Jobs returns the registered job names
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	return names
}

// Run starts the cron loop and blocks until ctx is cancelled, then waits
// for running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("keeper stopped")
	return nil
}

// RunOnce executes fn immediately with the job timeout and records the outcome
func (s *Scheduler) RunOnce(ctx context.Context, name string, fn JobFunc) string {
	if ctx.Err() != nil {
		return ResultSkipped
	}
	jobCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	result, err := fn(jobCtx)
	if err != nil {
		result = ResultError
		s.logger.Warn().Err(err).Str("job", name).Dur("took", time.Since(start)).Msg("keeper job failed")
	} else {
		s.logger.Debug().Str("job", name).Str("result", result).Dur("took", time.Since(start)).Msg("keeper job ran")
	}
	if s.metrics != nil {
		s.metrics.KeeperRuns.WithLabelValues(name, result).Inc()
	}
	return result
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// cronLogger routes cron's own logging into zerolog
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
