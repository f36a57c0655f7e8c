package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"campaign-mailer-go/internal/bounce"
	"campaign-mailer-go/internal/config"
	"campaign-mailer-go/internal/metrics"
	"campaign-mailer-go/internal/repository"
)

// Purger removes expired tracking data
type Purger interface {
	PurgeOlderThan(ctx context.Context, days int) (repository.PurgeResult, error)
}

// BouncePoller ingests bounce reports
type BouncePoller interface {
	Poll(ctx context.Context) (bounce.PollResult, error)
}

// Scheduler runs the retention purge and bounce polling jobs
type Scheduler struct {
	cron      *cron.Cron
	entries   map[string]cron.EntryID
	tracking  config.TrackingConfig
	bounces   config.BounceConfig
	purger    Purger
	poller    BouncePoller
	metrics   *metrics.Metrics
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.RWMutex
}

// NewScheduler creates a new scheduler. A nil poller disables bounce polling.
func NewScheduler(tracking config.TrackingConfig, bounces config.BounceConfig, purger Purger, poller BouncePoller, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		tracking: tracking,
		bounces:  bounces,
		purger:   purger,
		poller:   poller,
		metrics:  m,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	s.cron = cron.New(cron.WithSeconds())
	s.entries = make(map[string]cron.EntryID)
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if err := s.add("purge", s.tracking.PurgeSchedule, s.runPurge); err != nil {
		s.cancel()
		return err
	}
	if s.poller != nil && s.bounces.Enabled {
		if err := s.add("bounces", s.bounces.Schedule, s.runBouncePoll); err != nil {
			s.cancel()
			return err
		}
	}

	s.cron.Start()
	s.isRunning = true

	logrus.WithFields(logrus.Fields{
		"purge_schedule":  s.tracking.PurgeSchedule,
		"bounce_schedule": s.bounces.Schedule,
		"bounces_enabled": s.poller != nil && s.bounces.Enabled,
	}).Info("Scheduler started")
	return nil
}

func (s *Scheduler) add(name, spec string, job func()) error {
	id, err := s.cron.AddFunc(spec, job)
	if err != nil {
		return fmt.Errorf("failed to add %s job: %w", name, err)
	}
	s.entries[name] = id
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	s.cancel()
	ctx := s.cron.Stop()

	select {
	case <-ctx.Done():
		logrus.Info("Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Scheduler stop timeout, forcing shutdown")
	}

	s.isRunning = false
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// NextRun returns the next scheduled run of a job, or zero
func (s *Scheduler) NextRun(job string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.entries[job]
	if !s.isRunning || !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

func (s *Scheduler) jobContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

func (s *Scheduler) runPurge() {
	s.wg.Add(1)
	defer s.wg.Done()

	if _, err := s.Purge(s.jobContext()); err != nil {
		logrus.Errorf("Scheduled purge failed: %v", err)
	}
}

func (s *Scheduler) runBouncePoll() {
	s.wg.Add(1)
	defer s.wg.Done()

	if _, err := s.PollBounces(s.jobContext()); err != nil {
		logrus.Errorf("Scheduled bounce poll failed: %v", err)
	}
}

// Purge runs the retention purge once
func (s *Scheduler) Purge(ctx context.Context) (repository.PurgeResult, error) {
	startTime := time.Now()

	result, err := s.purger.PurgeOlderThan(ctx, s.tracking.RetentionDays)
	if err != nil {
		return result, err
	}
	if s.metrics != nil {
		s.metrics.PurgedMessages.Add(float64(result.Messages))
	}

	logrus.WithFields(logrus.Fields{
		"retention_days": s.tracking.RetentionDays,
		"messages":       result.Messages,
		"duration":       time.Since(startTime).String(),
	}).Info("Retention purge completed")
	return result, nil
}

// PollBounces runs one bounce poll
func (s *Scheduler) PollBounces(ctx context.Context) (bounce.PollResult, error) {
	if s.poller == nil {
		return bounce.PollResult{}, fmt.Errorf("bounce polling is not configured")
	}
	return s.poller.Poll(ctx)
}

// Wait waits for running jobs to finish
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
