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

// Package processor runs one arrival event through claim, fetch, validate,
// transform, write and commit.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/cardinalhq/filerunner/internal/filerecord"
	"github.com/cardinalhq/filerunner/internal/guard"
	"github.com/cardinalhq/filerunner/internal/logctx"
	"github.com/cardinalhq/filerunner/internal/objstore"
)

// commitTimeout bounds the failure commit, which runs even after the
// processing context has expired.
const commitTimeout = 30 * time.Second

type Config struct {
	ProcessedPrefix string `mapstructure:"processed_prefix"`

	// DeadLetterInvalid sends files that fail validation straight to
	// DEAD_LETTERED instead of retrying them.
	DeadLetterInvalid bool  `mapstructure:"dead_letter_invalid"`
	MaxFileSize       int64 `mapstructure:"max_file_size"`
}

func DefaultConfig() Config {
	return Config{
		ProcessedPrefix: "processed/",
		MaxFileSize:     50 << 20,
	}
}

// Outcome is what happened to one arrival event.
type Outcome int

const (
	// Succeeded: this worker committed SUCCEEDED.
	Succeeded Outcome = iota
	// Skipped: nothing to do, another worker owns or finished the file.
	Skipped
	// Failed: the attempt failed and the event should be redelivered.
	Failed
	// DeadLettered: the attempt failed and the file is quarantined.
	DeadLettered
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	case DeadLettered:
		return "deadlettered"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Ack reports whether the delivery carrying the event may be removed from
// the queue.  Dead-lettered deliveries are left for the queue's own redrive.
func (o Outcome) Ack() bool {
	return o == Succeeded || o == Skipped
}

type Processor struct {
	cfg       Config
	guard     *guard.Guard
	sources   objstore.Resolver
	processed objstore.Store
	now       func() time.Time
	logger    *slog.Logger
}

type Option func(*Processor)

func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		p.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

func New(cfg Config, g *guard.Guard, sources objstore.Resolver, processed objstore.Store, opts ...Option) *Processor {
	p := &Processor{
		cfg:       cfg,
		guard:     g,
		sources:   sources,
		processed: processed,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(slog.String("component", "processor"))
	return p
}

// ProcessedKey is where the output for rec is written.  It depends only on
// the record, so every attempt for a file writes the same object.
func ProcessedKey(prefix string, rec filerecord.FileRecord) string {
	base := path.Base(rec.SourceKey)
	base = strings.TrimSuffix(base, path.Ext(base))
	id := rec.FileID
	if len(id) > 8 {
		id = id[:8]
	}
	return prefix + rec.UploadTime().Format("2006/01/02") + "/" + base + "_" + id + ".json"
}

// Process handles one arrival event.  The returned error, if any, explains a
// Failed or DeadLettered outcome.
func (p *Processor) Process(ctx context.Context, ev filerecord.ArrivalEvent) (Outcome, error) {
	logger := logctx.FromContext(ctx, p.logger).With(
		slog.String("sourceKey", ev.SourceKey),
		slog.String("fileId", ev.FileID()),
		slog.Int("deliveryAttempt", ev.DeliveryAttempt),
	)

	claimed, err := p.guard.Acquire(ctx, ev)
	switch {
	case err == nil:
	case errors.Is(err, guard.ErrRaceLost), errors.Is(err, guard.ErrTerminal), errors.Is(err, guard.ErrExhausted):
		logger.Debug("Skipping file", slog.Any("reason", err))
		recordOutcome(ctx, Skipped)
		return Skipped, nil
	default:
		recordOutcome(ctx, Failed)
		return Failed, fmt.Errorf("claim %s: %w", ev.SourceKey, err)
	}

	start := p.now()
	processedKey, records, workErr := p.work(ctx, ev, claimed)
	if workErr == nil {
		_, err := p.guard.Succeed(ctx, claimed, processedKey, records)
		switch {
		case err == nil:
			logger.Info("Processed file",
				slog.String("processedKey", processedKey),
				slog.Int64("records", records),
				slog.Int("attempt", claimed.AttemptCount),
				slog.Duration("elapsed", p.now().Sub(start)))
			recordOutcome(ctx, Succeeded)
			recordRecords(ctx, records)
			return Succeeded, nil
		case errors.Is(err, guard.ErrRaceLost):
			logger.Info("Success commit lost to another worker")
			recordOutcome(ctx, Skipped)
			return Skipped, nil
		default:
			workErr = fmt.Errorf("commit success: %w", err)
		}
	}

	return p.fail(ctx, logger, ev, claimed, workErr)
}

func (p *Processor) work(ctx context.Context, ev filerecord.ArrivalEvent, claimed filerecord.FileRecord) (string, int64, error) {
	if ev.Size > 0 && p.cfg.MaxFileSize > 0 && ev.Size > p.cfg.MaxFileSize {
		return "", 0, invalid(fmt.Sprintf("file is %d bytes, limit is %d", ev.Size, p.cfg.MaxFileSize), nil)
	}

	data, err := p.sources(ev.Bucket).Get(ctx, ev.SourceKey)
	if err != nil {
		return "", 0, fmt.Errorf("fetch source: %w", err)
	}
	if p.cfg.MaxFileSize > 0 && int64(len(data)) > p.cfg.MaxFileSize {
		return "", 0, invalid(fmt.Sprintf("file is %d bytes, limit is %d", len(data), p.cfg.MaxFileSize), nil)
	}

	doc, err := TransformCSV(data, claimed.FileID, claimed.SourceKey, p.now())
	if err != nil {
		return "", 0, err
	}
	out, err := doc.Marshal()
	if err != nil {
		return "", 0, fmt.Errorf("encode output: %w", err)
	}

	key := ProcessedKey(p.cfg.ProcessedPrefix, claimed)
	if err := p.processed.Put(ctx, key, out); err != nil {
		return "", 0, fmt.Errorf("write output: %w", err)
	}
	return key, doc.Summary.ValidRecords, nil
}

func (p *Processor) fail(ctx context.Context, logger *slog.Logger, ev filerecord.ArrivalEvent, claimed filerecord.FileRecord, cause error) (Outcome, error) {
	nonRetryable := p.cfg.DeadLetterInvalid && IsValidation(cause)
	lastDelivery := ev.DeliveryAttempt >= p.guard.MaxAttempts()

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()

	rec, err := p.guard.Fail(commitCtx, claimed, cause, nonRetryable || lastDelivery)
	switch {
	case errors.Is(err, guard.ErrRaceLost):
		logger.Info("Failure commit lost to another worker", slog.Any("error", cause))
		recordOutcome(ctx, Skipped)
		return Skipped, nil
	case err != nil:
		// The record stays PROCESSING until the sweeper resets it.
		logger.Error("Failed to record processing failure",
			slog.Any("error", err),
			slog.Any("cause", cause))
		recordOutcome(ctx, Failed)
		return Failed, cause
	case rec.Status == filerecord.StatusDeadLettered:
		logger.Error("File dead-lettered",
			slog.Any("error", cause),
			slog.Int("attempt", rec.AttemptCount),
			slog.Bool("nonRetryable", nonRetryable))
		recordOutcome(ctx, DeadLettered)
		return DeadLettered, cause
	default:
		logger.Warn("File processing failed, will retry",
			slog.Any("error", cause),
			slog.Int("attempt", rec.AttemptCount))
		recordOutcome(ctx, Failed)
		return Failed, cause
	}
}
