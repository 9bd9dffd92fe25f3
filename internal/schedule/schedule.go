// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package schedule is the timer that drives single-shot jobs such as the
// report generator.  A tick that arrives while the previous run is still
// going is skipped, so a job never overlaps itself.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Config struct {
	Interval   time.Duration `mapstructure:"interval"`
	RunOnStart bool          `mapstructure:"run_on_start"`
}

func DefaultConfig() Config {
	return Config{
		Interval: 24 * time.Hour,
	}
}

// Task is one run of a scheduled job.
type Task func(ctx context.Context) error

type Scheduler struct {
	cfg    Config
	name   string
	task   Task
	logger *slog.Logger

	running sync.Mutex
	wg      sync.WaitGroup
}

func New(name string, cfg Config, task Task, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:    cfg,
		name:   name,
		task:   task,
		logger: logger.With(slog.String("job", name)),
	}
}

// Trigger runs the task now unless a run is already in progress, in which
// case it returns false without waiting.
func (s *Scheduler) Trigger(ctx context.Context) (bool, error) {
	if !s.running.TryLock() {
		s.logger.Warn("Previous run still executing, skipping tick")
		return false, nil
	}
	defer s.running.Unlock()

	start := time.Now()
	err := s.task(ctx)
	if err != nil {
		s.logger.Error("Scheduled run failed",
			slog.Any("error", err),
			slog.Duration("elapsed", time.Since(start)))
	} else {
		s.logger.Info("Scheduled run finished", slog.Duration("elapsed", time.Since(start)))
	}
	return true, err
}

// Run fires the task every interval until ctx is done, then waits for a
// run in progress to return.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Starting scheduler",
		slog.Duration("interval", s.cfg.Interval),
		slog.Bool("runOnStart", s.cfg.RunOnStart))
	defer s.wg.Wait()

	if s.cfg.RunOnStart {
		s.fire(ctx)
	}

	t := time.NewTicker(s.cfg.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.fire(ctx)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _ = s.Trigger(ctx)
	}()
}
