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

// Package sweeper recovers files whose worker claimed them and then went
// away.  Such records sit in PROCESSING with no one to finish them; the
// sweeper fails them once they have been quiet for longer than StaleAfter
// and puts a fresh arrival notification back on the queue.  The original
// delivery may already have been acknowledged as a lost race, so a reset
// record that cannot be requeued is dead-lettered rather than left FAILED
// with nothing left to deliver it.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cardinalhq/filerunner/internal/events"
	"github.com/cardinalhq/filerunner/internal/filerecord"
	"github.com/cardinalhq/filerunner/internal/guard"
	"github.com/cardinalhq/filerunner/internal/metastore"
	"github.com/cardinalhq/filerunner/internal/queue"
)

const (
	resetReason      = "stale processing claim reset"
	notRequeuedCause = "stale processing claim reset; no requeue target"
)

type Config struct {
	StaleAfter time.Duration `mapstructure:"stale_after"`
	Interval   time.Duration `mapstructure:"interval"`
	// Lookback bounds the uploadTimestamp range scanned for PROCESSING
	// records.  A claim can only happen while a delivery exists, so it must
	// cover the queue's message retention; the default covers the SQS
	// maximum of 14 days.
	Lookback time.Duration `mapstructure:"lookback"`
	Requeue  bool          `mapstructure:"requeue"`
}

func DefaultConfig() Config {
	return Config{
		StaleAfter: 15 * time.Minute,
		Interval:   time.Minute,
		Lookback:   14 * 24 * time.Hour,
		Requeue:    true,
	}
}

type Sweeper struct {
	cfg      Config
	store    metastore.Store
	guard    *guard.Guard
	requeuer queue.Requeuer
	bucket   string
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Sweeper)

// WithRequeuer enables re-sending arrival notifications for reset files.
// The notification names the bucket recorded on the file; fallbackBucket
// is used for records written before the bucket was tracked.
func WithRequeuer(r queue.Requeuer, fallbackBucket string) Option {
	return func(s *Sweeper) {
		s.requeuer = r
		s.bucket = fallbackBucket
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) { s.logger = logger }
}

func New(cfg Config, store metastore.Store, g *guard.Guard, opts ...Option) *Sweeper {
	s := &Sweeper{
		cfg:    cfg,
		store:  store,
		guard:  g,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "sweeper"))
	return s
}

// Result tallies one sweep.
type Result struct {
	Scanned      int
	Reset        int
	DeadLettered int
	Requeued     int
}

// Sweep runs a single pass.  Records another worker moves on while the
// sweep is running are left alone.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	var res Result
	now := s.now()
	cutoff := now.Add(-s.cfg.StaleAfter).UnixMilli()

	recs, err := s.store.QueryByStatusAndTimeRange(ctx, filerecord.StatusProcessing, now.Add(-s.cfg.Lookback), now)
	if err != nil {
		return res, fmt.Errorf("list processing records: %w", err)
	}
	res.Scanned = len(recs)

	var errs []error
	for _, rec := range recs {
		if rec.UpdatedAt > cutoff {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		next, err := s.guard.ResetStale(ctx, rec, resetReason)
		if errors.Is(err, guard.ErrRaceLost) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}

		res.Reset++
		s.logger.Info("Reset stale processing claim",
			slog.String("fileId", rec.FileID),
			slog.String("sourceKey", rec.SourceKey),
			slog.String("workerId", rec.WorkerID),
			slog.Duration("idle", now.Sub(rec.UpdatedTime())),
			slog.String("status", next.Status.String()))

		if next.Status.Terminal() {
			res.DeadLettered++
			recordReset(ctx, "deadletter")
			continue
		}

		bucket := s.requeueBucket(next)
		if bucket == "" {
			next.LastError = notRequeuedCause
			_, err := s.guard.DeadLetter(ctx, next)
			if errors.Is(err, guard.ErrRaceLost) {
				continue
			}
			if err != nil {
				errs = append(errs, err)
				continue
			}
			res.DeadLettered++
			recordReset(ctx, "deadletter")
			continue
		}
		recordReset(ctx, "failed")

		if err := s.requeue(ctx, next, bucket, now); err != nil {
			errs = append(errs, err)
			continue
		}
		res.Requeued++
	}
	return res, errors.Join(errs...)
}

// requeueBucket returns where a fresh notification for rec should point,
// or "" when requeueing is off or impossible.
func (s *Sweeper) requeueBucket(rec filerecord.FileRecord) string {
	if !s.cfg.Requeue || s.requeuer == nil {
		return ""
	}
	if rec.SourceBucket != "" {
		return rec.SourceBucket
	}
	return s.bucket
}

func (s *Sweeper) requeue(ctx context.Context, rec filerecord.FileRecord, bucket string, now time.Time) error {
	body, err := events.EncodeS3Notification(bucket, rec.SourceKey, rec.FileSize, now)
	if err != nil {
		return fmt.Errorf("encode requeue for %s: %w", rec.FileID, err)
	}
	if err := s.requeuer.Send(ctx, body); err != nil {
		return fmt.Errorf("requeue %s: %w", rec.FileID, err)
	}
	return nil
}

// Run sweeps immediately and then every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("Starting stale claim sweeper",
		slog.Duration("staleAfter", s.cfg.StaleAfter),
		slog.Duration("interval", s.cfg.Interval))
	return periodicLoop(ctx, s.cfg.Interval, func(ctx context.Context) error {
		res, err := s.Sweep(ctx)
		if res.Reset > 0 {
			s.logger.Info("Sweep finished",
				slog.Int("scanned", res.Scanned),
				slog.Int("reset", res.Reset),
				slog.Int("deadLettered", res.DeadLettered),
				slog.Int("requeued", res.Requeued))
		}
		return err
	})
}

func periodicLoop(ctx context.Context, period time.Duration, f func(context.Context) error) error {
	if err := f(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("periodic task error", slog.Any("error", err))
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := f(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("periodic task error", slog.Any("error", err))
			}
		}
	}
}
