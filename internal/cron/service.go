// Package cron runs the maintenance worker: a fixed-interval loop that elects
// one replica per cycle through a Redis lock and runs every job in order.
package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/bullionstore-backend/pkg/logger"
	"github.com/angelmondragon/bullionstore-backend/pkg/metrics"
)

const defaultInterval = 24 * time.Hour

type ServiceParams struct {
	Logger   *logger.Logger
	Jobs     []Job
	Lock     Lock
	Metrics  *metrics.MaintenanceJobMetrics
	Interval time.Duration
}

type Service struct {
	logg     *logger.Logger
	jobs     []Job
	lock     Lock
	metrics  *metrics.MaintenanceJobMetrics
	interval time.Duration
}

func NewService(p ServiceParams) (*Service, error) {
	if p.Logger == nil {
		return nil, errors.New("logger required")
	}
	if p.Lock == nil {
		return nil, errors.New("lock required")
	}
	seen := make(map[string]bool, len(p.Jobs))
	jobs := make([]Job, 0, len(p.Jobs))
	for _, job := range p.Jobs {
		if job == nil {
			continue
		}
		if seen[job.Name()] {
			return nil, fmt.Errorf("duplicate maintenance job %q", job.Name())
		}
		seen[job.Name()] = true
		jobs = append(jobs, job)
	}
	interval := p.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{logg: p.Logger, jobs: jobs, lock: p.Lock, metrics: p.Metrics, interval: interval}, nil
}

// Run executes a cycle immediately and then once per interval until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.runCycle(ctx); err != nil {
			s.logg.Error(ctx, "maintenance cycle failed", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "maintenance scheduler context canceled")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// runCycle returns an error only when the lock itself fails. Job failures are
// logged and counted, and never stop the remaining jobs.
func (s *Service) runCycle(ctx context.Context) error {
	held, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire maintenance lock: %w", err)
	}
	if !held {
		s.logg.Info(ctx, "another maintenance worker holds the lock; skipping this cycle")
		return nil
	}
	defer func() {
		if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Error(ctx, "failed to release maintenance lock", err)
		}
	}()

	failed := 0
	for _, job := range s.jobs {
		if ctx.Err() != nil {
			break
		}
		if !s.runJob(ctx, job) {
			failed++
		}
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{"jobs": len(s.jobs), "failed": failed}), "maintenance cycle complete")
	return nil
}

func (s *Service) runJob(ctx context.Context, job Job) bool {
	name := job.Name()
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": name, "event": "maintenance.job"})

	started := time.Now()
	err := job.Run(jobCtx)
	elapsed := time.Since(started)
	s.metrics.ObserveDuration(name, elapsed)

	jobCtx = s.logg.WithField(jobCtx, "duration_ms", elapsed.Milliseconds())
	if err != nil {
		s.metrics.IncFailure(name)
		s.logg.Error(jobCtx, "maintenance job failed", err)
		return false
	}
	s.metrics.IncSuccess(name)
	s.logg.Info(jobCtx, "maintenance job completed")
	return true
}
