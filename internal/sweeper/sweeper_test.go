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

package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/filerunner/internal/events"
	"github.com/cardinalhq/filerunner/internal/filerecord"
	"github.com/cardinalhq/filerunner/internal/guard"
	"github.com/cardinalhq/filerunner/internal/metastore"
	"github.com/cardinalhq/filerunner/internal/objstore"
	"github.com/cardinalhq/filerunner/internal/processor"
	"github.com/cardinalhq/filerunner/internal/queue"
)

var testNow = time.Date(2025, 7, 8, 12, 0, 0, 0, time.UTC)

func processing(key string, attempts int, idle time.Duration) filerecord.FileRecord {
	rec := filerecord.NewPending(filerecord.ArrivalEvent{SourceKey: key, Size: 42}, testNow.Add(-time.Hour))
	rec.Status = filerecord.StatusProcessing
	rec.AttemptCount = attempts
	rec.WorkerID = "gone"
	rec.UpdatedAt = testNow.Add(-idle).UnixMilli()
	return rec
}

func newSweeper(store metastore.Store, opts ...Option) *Sweeper {
	clock := func() time.Time { return testNow }
	g := guard.New(store, 3, guard.WithClock(clock), guard.WithWorkerID("sweeper"))
	return New(DefaultConfig(), store, g, append([]Option{WithClock(clock)}, opts...)...)
}

func TestSweepResetsOnlyStaleClaims(t *testing.T) {
	ctx := context.Background()
	store := metastore.NewMemoryStore()
	stale := processing("uploads/stale.csv", 1, time.Hour)
	fresh := processing("uploads/fresh.csv", 1, time.Minute)
	store.Seed(stale)
	store.Seed(fresh)

	q := queue.NewMemory(queue.DefaultConfig())
	s := newSweeper(store, WithRequeuer(q, "raw"))

	res, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Scanned: 2, Reset: 1, Requeued: 1}, res)

	got, err := store.Get(ctx, stale.FileID)
	require.NoError(t, err)
	assert.Equal(t, filerecord.StatusFailed, got.Status)
	assert.Equal(t, resetReason, got.LastError)
	assert.Equal(t, 1, got.AttemptCount)

	got, err = store.Get(ctx, fresh.FileID)
	require.NoError(t, err)
	assert.Equal(t, filerecord.StatusProcessing, got.Status)

	msgs, err := q.ReceiveBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	evs, err := events.NewDecoder(events.DefaultConfig()).Decode(msgs[0].Body)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "raw", evs[0].Bucket)
	assert.Equal(t, "uploads/stale.csv", evs[0].SourceKey)
	assert.Equal(t, int64(42), evs[0].Size)
}

func TestSweepDeadLettersExhaustedClaims(t *testing.T) {
	ctx := context.Background()
	store := metastore.NewMemoryStore()
	rec := processing("uploads/tired.csv", 3, time.Hour)
	store.Seed(rec)

	q := queue.NewMemory(queue.DefaultConfig())
	s := newSweeper(store, WithRequeuer(q, "raw"))

	res, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Reset)
	assert.Equal(t, 1, res.DeadLettered)
	assert.Zero(t, res.Requeued)
	assert.Zero(t, q.Len())

	got, err := store.Get(ctx, rec.FileID)
	require.NoError(t, err)
	assert.Equal(t, filerecord.StatusDeadLettered, got.Status)

	hist := store.History(rec.FileID)
	require.NotEmpty(t, hist)
	var statuses []filerecord.Status
	for _, h := range hist {
		statuses = append(statuses, h.Status)
	}
	assert.Equal(t, []filerecord.Status{
		filerecord.StatusProcessing,
		filerecord.StatusFailed,
		filerecord.StatusDeadLettered,
	}, statuses)
}

func TestSweepWithoutRequeueDeadLetters(t *testing.T) {
	ctx := context.Background()
	store := metastore.NewMemoryStore()
	rec := processing("uploads/a.csv", 1, time.Hour)
	store.Seed(rec)

	s := newSweeper(store)
	res, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Scanned: 1, Reset: 1, DeadLettered: 1}, res)

	got, err := store.Get(ctx, rec.FileID)
	require.NoError(t, err)
	assert.Equal(t, filerecord.StatusDeadLettered, got.Status)
	assert.Equal(t, notRequeuedCause, got.LastError)
	assert.Equal(t, 1, got.AttemptCount)
}

func TestSweepRequeueDisabledByConfig(t *testing.T) {
	ctx := context.Background()
	store := metastore.NewMemoryStore()
	store.Seed(processing("uploads/a.csv", 1, time.Hour))

	q := queue.NewMemory(queue.DefaultConfig())
	s := newSweeper(store, WithRequeuer(q, "raw"))
	s.cfg.Requeue = false

	res, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.DeadLettered)
	assert.Zero(t, q.Len())
}

func TestSweepRequeuesToRecordedBucket(t *testing.T) {
	ctx := context.Background()
	store := metastore.NewMemoryStore()
	rec := processing("uploads/b.csv", 1, time.Hour)
	rec.SourceBucket = "landing-eu"
	store.Seed(rec)
	legacy := processing("uploads/c.csv", 1, time.Hour)
	store.Seed(legacy)

	q := queue.NewMemory(queue.DefaultConfig())
	s := newSweeper(store, WithRequeuer(q, "raw"))

	res, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Requeued)

	msgs, err := q.ReceiveBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	buckets := map[string]string{}
	for _, m := range msgs {
		evs, err := events.NewDecoder(events.DefaultConfig()).Decode(m.Body)
		require.NoError(t, err)
		require.Len(t, evs, 1)
		buckets[evs[0].SourceKey] = evs[0].Bucket
	}
	assert.Equal(t, map[string]string{
		"uploads/b.csv": "landing-eu",
		"uploads/c.csv": "raw",
	}, buckets)
}

// A worker claims a file and dies.  The redelivery finds the record
// PROCESSING and is acknowledged as a lost race, so only the sweeper can
// bring the file back.
func TestCrashedClaimIsRecoveredBySweep(t *testing.T) {
	ctx := context.Background()
	now := testNow
	clock := func() time.Time { return now }

	store := metastore.NewMemoryStore()
	raw := objstore.NewMemory("landing")
	q := queue.NewMemory(queue.DefaultConfig())
	g := guard.New(store, 3, guard.WithClock(clock), guard.WithWorkerID("w1"))
	proc := processor.New(processor.DefaultConfig(), g, objstore.Fixed(raw), objstore.NewMemory("processed"),
		processor.WithClock(clock))

	body := "id,name\n1,alpha\n"
	require.NoError(t, raw.Put(ctx, "uploads/crash.csv", []byte(body)))
	ev := filerecord.ArrivalEvent{
		Bucket:          "landing",
		SourceKey:       "uploads/crash.csv",
		Size:            int64(len(body)),
		EventTimestamp:  now,
		DeliveryAttempt: 1,
	}

	_, err := g.Acquire(ctx, ev)
	require.NoError(t, err)

	now = now.Add(5 * time.Minute)
	ev.DeliveryAttempt = 2
	outcome, err := proc.Process(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, processor.Skipped, outcome)
	assert.True(t, outcome.Ack())

	now = now.Add(20 * time.Minute)
	s := New(DefaultConfig(), store, g, WithClock(clock), WithRequeuer(q, ""))
	res, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Scanned: 1, Reset: 1, Requeued: 1}, res)

	msgs, err := q.ReceiveBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	evs, err := events.NewDecoder(events.DefaultConfig()).Decode(msgs[0].Body)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	evs[0].DeliveryAttempt = msgs[0].DeliveryAttempt

	outcome, err = proc.Process(ctx, evs[0])
	require.NoError(t, err)
	assert.Equal(t, processor.Succeeded, outcome)

	got, err := store.Get(ctx, ev.FileID())
	require.NoError(t, err)
	assert.Equal(t, filerecord.StatusSucceeded, got.Status)
	assert.Equal(t, 2, got.AttemptCount)
	assert.Equal(t, "landing", got.SourceBucket)
}

// movingStore lets another worker finish the record between the sweeper's
// listing and its conditional write.
type movingStore struct {
	*metastore.MemoryStore
	moved bool
}

func (m *movingStore) QueryByStatusAndTimeRange(ctx context.Context, status filerecord.Status, start, end time.Time) ([]filerecord.FileRecord, error) {
	recs, err := m.MemoryStore.QueryByStatusAndTimeRange(ctx, status, start, end)
	if err != nil || m.moved {
		return recs, err
	}
	m.moved = true
	for _, rec := range recs {
		done, err := rec.Advance(filerecord.StatusSucceeded, testNow)
		if err != nil {
			return nil, err
		}
		if err := m.MemoryStore.ConditionalPut(ctx, done, metastore.Matches(rec)); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

func TestSweepLosesRaceQuietly(t *testing.T) {
	ctx := context.Background()
	store := &movingStore{MemoryStore: metastore.NewMemoryStore()}
	rec := processing("uploads/late.csv", 1, time.Hour)
	store.Seed(rec)

	q := queue.NewMemory(queue.DefaultConfig())
	s := newSweeper(store, WithRequeuer(q, "raw"))

	res, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Scanned)
	assert.Zero(t, res.Reset)
	assert.Zero(t, q.Len())

	got, err := store.Get(ctx, rec.FileID)
	require.NoError(t, err)
	assert.Equal(t, filerecord.StatusSucceeded, got.Status)
}

type brokenStore struct {
	metastore.Store
}

func (brokenStore) QueryByStatusAndTimeRange(context.Context, filerecord.Status, time.Time, time.Time) ([]filerecord.FileRecord, error) {
	return nil, errors.New("index unavailable")
}

func TestSweepQueryError(t *testing.T) {
	s := newSweeper(brokenStore{Store: metastore.NewMemoryStore()})
	_, err := s.Sweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index unavailable")
}

func TestRunSweepsImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := metastore.NewMemoryStore()
	rec := processing("uploads/a.csv", 1, time.Hour)
	store.Seed(rec)

	s := newSweeper(store)
	s.cfg.Interval = time.Hour

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		got, err := store.Get(context.Background(), rec.FileID)
		return err == nil && got.Status == filerecord.StatusDeadLettered
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
