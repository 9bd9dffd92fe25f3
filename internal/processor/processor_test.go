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

package processor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/filerunner/internal/filerecord"
	"github.com/cardinalhq/filerunner/internal/guard"
	"github.com/cardinalhq/filerunner/internal/metastore"
	"github.com/cardinalhq/filerunner/internal/objstore"
)

var testNow = time.Date(2025, 7, 8, 9, 10, 11, 0, time.UTC)

type harness struct {
	store     *metastore.MemoryStore
	raw       *objstore.Memory
	processed *objstore.Memory
	proc      *Processor
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		store:     metastore.NewMemoryStore(),
		raw:       objstore.NewMemory("raw"),
		processed: objstore.NewMemory("processed"),
	}
	clock := func() time.Time { return testNow }
	g := guard.New(h.store, 3, guard.WithClock(clock), guard.WithWorkerID("w1"))
	h.proc = New(cfg, g, objstore.Fixed(h.raw), h.processed, WithClock(clock))
	return h
}

func upload(t *testing.T, h *harness, key, body string) filerecord.ArrivalEvent {
	t.Helper()
	require.NoError(t, h.raw.Put(context.Background(), key, []byte(body)))
	return filerecord.ArrivalEvent{
		Bucket:          "raw",
		SourceKey:       key,
		Size:            int64(len(body)),
		EventTimestamp:  testNow,
		DeliveryAttempt: 1,
	}
}

func TestProcessHappyPath(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig())
	ev := upload(t, h, "uploads/a.csv", "id,name\n1,alpha\n2,beta\n")

	outcome, err := h.proc.Process(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, Succeeded, outcome)
	assert.True(t, outcome.Ack())

	rec, err := h.store.Get(ctx, ev.FileID())
	require.NoError(t, err)
	assert.Equal(t, filerecord.StatusSucceeded, rec.Status)
	assert.Equal(t, 1, rec.AttemptCount)
	assert.Equal(t, int64(2), rec.RecordCount)
	assert.Equal(t, "processed/2025/07/08/a_"+ev.FileID()[:8]+".json", rec.ProcessedKey)
	assert.Empty(t, rec.LastError)

	out, err := h.processed.Get(ctx, rec.ProcessedKey)
	require.NoError(t, err)
	var doc Document
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, int64(2), doc.Summary.ValidRecords)
	assert.Equal(t, ev.FileID(), doc.FileID)

	var statuses []filerecord.Status
	for _, r := range h.store.History(ev.FileID()) {
		statuses = append(statuses, r.Status)
	}
	assert.Equal(t, []filerecord.Status{
		filerecord.StatusPending, filerecord.StatusProcessing, filerecord.StatusSucceeded,
	}, statuses)

	again, err := h.proc.Process(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, Skipped, again)
	assert.Len(t, h.store.History(ev.FileID()), 3)
}

func TestProcessInvalidFileDeadLettersOnThirdAttempt(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig())
	ev := upload(t, h, "uploads/bad.csv", "id,name\n1\n")

	for attempt := 1; attempt <= 3; attempt++ {
		ev.DeliveryAttempt = attempt
		outcome, err := h.proc.Process(ctx, ev)
		require.Error(t, err)
		assert.True(t, IsValidation(err))
		assert.False(t, outcome.Ack())

		rec, gerr := h.store.Get(ctx, ev.FileID())
		require.NoError(t, gerr)
		assert.Equal(t, attempt, rec.AttemptCount)
		if attempt < 3 {
			assert.Equal(t, Failed, outcome)
			assert.Equal(t, filerecord.StatusFailed, rec.Status)
		} else {
			assert.Equal(t, DeadLettered, outcome)
			assert.Equal(t, filerecord.StatusDeadLettered, rec.Status)
		}
		assert.Contains(t, rec.LastError, "row 1 has 1 fields")
		assert.Empty(t, rec.ProcessedKey)
	}

	ev.DeliveryAttempt = 4
	outcome, err := h.proc.Process(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, Skipped, outcome)

	var failed int
	for _, r := range h.store.History(ev.FileID()) {
		if r.Status == filerecord.StatusFailed {
			failed++
		}
	}
	assert.Equal(t, 3, failed)
	assert.Empty(t, h.processed.Keys())
}

func TestProcessDeadLetterInvalid(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.DeadLetterInvalid = true
	h := newHarness(t, cfg)
	ev := upload(t, h, "uploads/bad.csv", "")

	outcome, err := h.proc.Process(ctx, ev)
	require.Error(t, err)
	assert.Equal(t, DeadLettered, outcome)

	rec, err := h.store.Get(ctx, ev.FileID())
	require.NoError(t, err)
	assert.Equal(t, filerecord.StatusDeadLettered, rec.Status)
	assert.Equal(t, 1, rec.AttemptCount)
}

func TestProcessLastDeliveryDeadLetters(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig())
	ev := filerecord.ArrivalEvent{Bucket: "raw", SourceKey: "uploads/missing.csv", DeliveryAttempt: 3}

	outcome, err := h.proc.Process(ctx, ev)
	require.ErrorIs(t, err, objstore.ErrNotFound)
	assert.Equal(t, DeadLettered, outcome)
}

func TestProcessTransientFailureRetries(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig())
	ev := filerecord.ArrivalEvent{Bucket: "raw", SourceKey: "uploads/late.csv", DeliveryAttempt: 1}

	outcome, err := h.proc.Process(ctx, ev)
	require.ErrorIs(t, err, objstore.ErrNotFound)
	assert.Equal(t, Failed, outcome)

	require.NoError(t, h.raw.Put(ctx, ev.SourceKey, []byte("id\n1\n")))
	ev.DeliveryAttempt = 2
	outcome, err = h.proc.Process(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, Succeeded, outcome)

	rec, err := h.store.Get(ctx, ev.FileID())
	require.NoError(t, err)
	assert.Equal(t, 2, rec.AttemptCount)
	assert.Contains(t, rec.LastError, "object not found")
}

func TestProcessSkipsFileHeldByAnotherWorker(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig())
	ev := upload(t, h, "uploads/a.csv", "id\n1\n")

	rec := filerecord.NewPending(ev, testNow)
	rec.Status = filerecord.StatusProcessing
	rec.AttemptCount = 1
	h.store.Seed(rec)

	outcome, err := h.proc.Process(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, Skipped, outcome)
	assert.True(t, outcome.Ack())
	assert.Empty(t, h.processed.Keys())
}

type failingStore struct {
	metastore.Store
	err error
}

func (f failingStore) Get(context.Context, string) (filerecord.FileRecord, error) {
	return filerecord.FileRecord{}, f.err
}

func TestProcessStoreUnavailable(t *testing.T) {
	boom := errors.New("store unavailable")
	g := guard.New(failingStore{Store: metastore.NewMemoryStore(), err: boom}, 3)
	p := New(DefaultConfig(), g, objstore.Fixed(objstore.NewMemory("raw")), objstore.NewMemory("processed"))

	outcome, err := p.Process(context.Background(), filerecord.ArrivalEvent{SourceKey: "uploads/a.csv", DeliveryAttempt: 1})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, Failed, outcome)
	assert.False(t, outcome.Ack())
}

func TestProcessOversizedFile(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.MaxFileSize = 4
	cfg.DeadLetterInvalid = true
	h := newHarness(t, cfg)
	ev := upload(t, h, "uploads/big.csv", "id,name\n1,a\n")

	outcome, err := h.proc.Process(ctx, ev)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Equal(t, DeadLettered, outcome)
}

func TestProcessedKey(t *testing.T) {
	rec := filerecord.FileRecord{
		FileID:          "0123456789abcdef",
		SourceKey:       "uploads/nested/daily.sales.csv",
		UploadTimestamp: time.Date(2025, 12, 31, 23, 59, 0, 0, time.UTC).UnixMilli(),
	}
	assert.Equal(t, "out/2025/12/31/daily.sales_01234567.json", ProcessedKey("out/", rec))
}

func TestOutcomeAck(t *testing.T) {
	assert.True(t, Succeeded.Ack())
	assert.True(t, Skipped.Ack())
	assert.False(t, Failed.Ack())
	assert.False(t, DeadLettered.Ack())
	assert.Equal(t, "deadlettered", DeadLettered.String())
}
