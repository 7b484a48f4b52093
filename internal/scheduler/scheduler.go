package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/rentwise/internal/clock"
	"github.com/smallbiznis/rentwise/internal/config"
	"github.com/smallbiznis/rentwise/internal/lock"
	obsmetrics "github.com/smallbiznis/rentwise/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/rentwise/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const JobOverdueSweep = "overdue_sweep"

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    paymentdomain.Repository
	Policy  *config.RentPolicyHolder
	Clock   clock.Clock
	Config  Config                 `optional:"true"`
	Locker  *lock.Locker           `optional:"true"`
	Jobs    *obsmetrics.JobMetrics `optional:"true"`
	Metrics *obsmetrics.Metrics    `optional:"true"`
}

type Scheduler struct {
	db      *gorm.DB
	log     *zap.Logger
	cfg     Config
	genID   *snowflake.Node
	repo    paymentdomain.Repository
	policy  *config.RentPolicyHolder
	clock   clock.Clock
	locker  *lock.Locker
	jobs    *obsmetrics.JobMetrics
	metrics *obsmetrics.Metrics
	cron    *cron.Cron
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Repo == nil || p.Policy == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:      p.DB,
		log:     p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:     p.Config.withDefaults(),
		genID:   p.GenID,
		repo:    p.Repo,
		policy:  p.Policy,
		clock:   p.Clock,
		locker:  p.Locker,
		jobs:    p.Jobs,
		metrics: p.Metrics,
	}, nil
}

// Start registers the sweep on the configured cron schedule.
func (s *Scheduler) Start() error {
	logger := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(s.cfg.Schedule, func() {
		if err := s.RunOnce(context.Background()); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule %q: %w", s.cfg.Schedule, err)
	}
	s.cron = c
	c.Start()
	s.log.Info("scheduler started", zap.String("schedule", s.cfg.Schedule))
	return nil
}

// Stop waits for a running job to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) RunOnce(ctx context.Context) error {
	return s.runJob(ctx, JobOverdueSweep, s.OverdueSweepJob)
}

// runJob bounds fn by the run timeout and a cluster-wide lock. A run that
// finds the lock held is skipped, not failed.
func (s *Scheduler) runJob(parent context.Context, name string, fn func(context.Context, *jobRun) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.RunTimeout)
	defer cancel()

	run := s.newJobRun(name, s.cfg.BatchSize)
	err := s.locker.Do(ctx, "scheduler:"+name, s.cfg.LockTTL, func(ctx context.Context) error {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
		return fn(ctx, run)
	})

	switch {
	case errors.Is(err, lock.ErrLockHeld):
		s.jobs.ObserveRun(name, obsmetrics.JobOutcomeSkipped, time.Since(start), 0)
		s.log.Debug("job skipped, lock held elsewhere", zap.String("job", name))
		return nil
	case err != nil:
		s.jobs.ObserveRun(name, obsmetrics.JobOutcomeError, time.Since(start), int64(run.processedCount))
		if errors.Is(err, context.DeadlineExceeded) {
			s.log.Warn("job timed out", zap.String("job", name), zap.Duration("timeout", s.cfg.RunTimeout))
			return nil
		}
		return fmt.Errorf("%s: %w", name, err)
	default:
		s.jobs.ObserveRun(name, obsmetrics.JobOutcomeSuccess, time.Since(start), int64(run.processedCount))
		return nil
	}
}
