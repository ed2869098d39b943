package usecase

import (
	"context"
	"time"

	"TradeScanner/internal/ports"
)

// Scheduler wires the ticker driver with recurring pipeline runs.
type Scheduler struct {
	driver   ports.Scheduler
	pipeline *Pipeline
	opts     Options
}

// NewScheduler returns a helper to start/stop recurring runs with fixed options.
func NewScheduler(driver ports.Scheduler, pipeline *Pipeline, opts Options) *Scheduler {
	return &Scheduler{driver: driver, pipeline: pipeline, opts: opts}
}

// Start registers the pipeline with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil {
		return nil
	}

	job := func(time.Time) {
		_, _ = s.pipeline.Run(ctx, s.opts)
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Stop(ctx)
}
