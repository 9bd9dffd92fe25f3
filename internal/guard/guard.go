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

// Package guard is the idempotency gate in front of file processing.  It
// moves FileRecords through their state machine using only conditional
// writes to the metadata store; the store's compare-and-swap is the sole
// mutual-exclusion mechanism between workers.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/cardinalhq/filerunner/internal/filerecord"
	"github.com/cardinalhq/filerunner/internal/metastore"
)

var (
	// ErrRaceLost means another worker advanced the record first.  It is a
	// no-op for the caller, not a failure.
	ErrRaceLost = errors.New("guard: record advanced by another worker")

	// ErrTerminal means the record is SUCCEEDED or DEAD_LETTERED.
	ErrTerminal = errors.New("guard: record is terminal")

	// ErrExhausted means the record has used all its attempts.
	ErrExhausted = errors.New("guard: attempts exhausted")
)

const (
	terminalCacheTTL      = 10 * time.Minute
	terminalCacheCapacity = 10_000
)

type Guard struct {
	store       metastore.Store
	maxAttempts int
	workerID    string
	now         func() time.Time
	logger      *slog.Logger

	terminal *ttlcache.Cache[string, filerecord.Status]
}

type Option func(*Guard)

// WithWorkerID stamps claims with the given worker identity.
func WithWorkerID(id string) Option {
	return func(g *Guard) {
		g.workerID = id
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		g.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		g.logger = logger
	}
}

func New(store metastore.Store, maxAttempts int, opts ...Option) *Guard {
	g := &Guard{
		store:       store,
		maxAttempts: max(maxAttempts, 1),
		now:         time.Now,
		logger:      slog.Default(),
		terminal: ttlcache.New(
			ttlcache.WithTTL[string, filerecord.Status](terminalCacheTTL),
			ttlcache.WithCapacity[string, filerecord.Status](terminalCacheCapacity),
			ttlcache.WithDisableTouchOnHit[string, filerecord.Status](),
		),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With(slog.String("component", "guard"))
	return g
}

func (g *Guard) MaxAttempts() int {
	return g.maxAttempts
}

// Observe returns the record for ev, creating it PENDING on first sight.
func (g *Guard) Observe(ctx context.Context, ev filerecord.ArrivalEvent) (filerecord.FileRecord, error) {
	fileID := ev.FileID()
	rec, err := g.store.Get(ctx, fileID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, metastore.ErrNotFound) {
		return rec, err
	}

	rec = filerecord.NewPending(ev, g.now())
	err = g.store.ConditionalPut(ctx, rec, metastore.MustNotExist())
	switch {
	case err == nil:
		g.logger.Debug("Observed new file",
			slog.String("fileId", fileID),
			slog.String("sourceKey", ev.SourceKey))
		return rec, nil
	case errors.Is(err, metastore.ErrConditionFailed):
		// Someone else created it between our read and write.
		return g.store.Get(ctx, fileID)
	default:
		return rec, err
	}
}

// Acquire observes ev and claims its record for processing.
func (g *Guard) Acquire(ctx context.Context, ev filerecord.ArrivalEvent) (filerecord.FileRecord, error) {
	if item := g.terminal.Get(ev.FileID()); item != nil {
		return filerecord.FileRecord{}, fmt.Errorf("%w: %s", ErrTerminal, item.Value())
	}
	rec, err := g.Observe(ctx, ev)
	if err != nil {
		return rec, fmt.Errorf("observe %s: %w", ev.SourceKey, err)
	}
	return g.Claim(ctx, rec)
}

// Claim moves rec to PROCESSING, counting a new attempt.  It succeeds only
// from PENDING or FAILED with attempts to spare, and only if the stored
// record is still rec.
func (g *Guard) Claim(ctx context.Context, rec filerecord.FileRecord) (filerecord.FileRecord, error) {
	switch {
	case rec.Status.Terminal():
		g.rememberTerminal(rec)
		return rec, fmt.Errorf("%w: %s", ErrTerminal, rec.Status)
	case rec.Status == filerecord.StatusProcessing:
		recordRaceLost(ctx, "claim")
		return rec, ErrRaceLost
	case rec.AttemptCount >= g.maxAttempts:
		if rec.Status == filerecord.StatusFailed {
			// A previous worker failed the last attempt but never finalised it.
			if _, err := g.DeadLetter(ctx, rec); err != nil && !errors.Is(err, ErrRaceLost) {
				return rec, err
			}
		}
		return rec, ErrExhausted
	}

	next, err := rec.Advance(filerecord.StatusProcessing, g.now())
	if err != nil {
		return rec, err
	}
	next.AttemptCount++
	next.WorkerID = g.workerID

	if err := g.swap(ctx, rec, next, "claim"); err != nil {
		return rec, err
	}
	return next, nil
}

// Succeed commits a finished attempt together with its output location.
func (g *Guard) Succeed(ctx context.Context, claimed filerecord.FileRecord, processedKey string, recordCount int64) (filerecord.FileRecord, error) {
	next, err := claimed.Advance(filerecord.StatusSucceeded, g.now())
	if err != nil {
		return claimed, err
	}
	next.ProcessedKey = processedKey
	next.RecordCount = recordCount

	if err := g.swap(ctx, claimed, next, "succeed"); err != nil {
		return claimed, err
	}
	g.rememberTerminal(next)
	return next, nil
}

// Fail commits a failed attempt.  When the attempts are used up, or
// deadLetter is set, the record continues straight to DEAD_LETTERED.
func (g *Guard) Fail(ctx context.Context, claimed filerecord.FileRecord, cause error, deadLetter bool) (filerecord.FileRecord, error) {
	next, err := claimed.Advance(filerecord.StatusFailed, g.now())
	if err != nil {
		return claimed, err
	}
	next.LastError = cause.Error()

	if err := g.swap(ctx, claimed, next, "fail"); err != nil {
		return claimed, err
	}
	if deadLetter || next.AttemptCount >= g.maxAttempts {
		return g.DeadLetter(ctx, next)
	}
	return next, nil
}

// DeadLetter moves a FAILED record to its terminal quarantine state.
func (g *Guard) DeadLetter(ctx context.Context, failed filerecord.FileRecord) (filerecord.FileRecord, error) {
	next, err := failed.Advance(filerecord.StatusDeadLettered, g.now())
	if err != nil {
		return failed, err
	}
	if err := g.swap(ctx, failed, next, "deadletter"); err != nil {
		return failed, err
	}
	g.rememberTerminal(next)
	g.logger.Warn("File dead-lettered",
		slog.String("fileId", next.FileID),
		slog.String("sourceKey", next.SourceKey),
		slog.Int("attemptCount", next.AttemptCount),
		slog.String("lastError", next.LastError))
	return next, nil
}

// ResetStale fails a PROCESSING record whose worker is presumed gone.
func (g *Guard) ResetStale(ctx context.Context, rec filerecord.FileRecord, reason string) (filerecord.FileRecord, error) {
	if rec.Status != filerecord.StatusProcessing {
		return rec, fmt.Errorf("reset %s: status is %s", rec.FileID, rec.Status)
	}
	return g.Fail(ctx, rec, errors.New(reason), false)
}

func (g *Guard) swap(ctx context.Context, prior, next filerecord.FileRecord, op string) error {
	err := g.store.ConditionalPut(ctx, next, metastore.Matches(prior))
	if errors.Is(err, metastore.ErrConditionFailed) {
		recordRaceLost(ctx, op)
		g.logger.Debug("Conditional write lost",
			slog.String("op", op),
			slog.String("fileId", prior.FileID),
			slog.String("expectedStatus", prior.Status.String()),
			slog.Int("expectedAttempts", prior.AttemptCount))
		return ErrRaceLost
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, prior.FileID, err)
	}
	return nil
}

func (g *Guard) rememberTerminal(rec filerecord.FileRecord) {
	g.terminal.Set(rec.FileID, rec.Status, ttlcache.DefaultTTL)
}
