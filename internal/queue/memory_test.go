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

package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestMemory(clock *fakeClock) *Memory {
	return NewMemory(Config{VisibilityTimeout: 5 * time.Minute, MaxReceiveCount: 3}, WithClock(clock.Now))
}

func TestMemoryVisibilityTimeout(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	q := newTestMemory(clock)
	require.NoError(t, q.Send(ctx, []byte("a")))

	msgs, err := q.ReceiveBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 1, msgs[0].DeliveryAttempt)
	assert.Equal(t, "a", string(msgs[0].Body))

	msgs, err = q.ReceiveBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs, "in-flight message must stay hidden")

	clock.Advance(5 * time.Minute)
	msgs, err = q.ReceiveBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 2, msgs[0].DeliveryAttempt)

	require.NoError(t, q.Ack(ctx, msgs[0].ReceiptToken))
	assert.Equal(t, 0, q.Len())
}

func TestMemoryRedrivesAfterMaxReceives(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	q := newTestMemory(clock)
	require.NoError(t, q.Send(ctx, []byte("bad")))

	for attempt := 1; attempt <= 3; attempt++ {
		msgs, err := q.ReceiveBatch(ctx, 10)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, attempt, msgs[0].DeliveryAttempt)
		clock.Advance(6 * time.Minute)
	}

	msgs, err := q.ReceiveBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Equal(t, 0, q.Len())

	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "bad", string(dead[0].Body))
	assert.Equal(t, 3, dead[0].DeliveryAttempt)
}

func TestMemoryDropsExpiredMessages(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	q := NewMemory(Config{VisibilityTimeout: time.Minute, MessageRetention: time.Hour}, WithClock(clock.Now))
	require.NoError(t, q.Send(ctx, []byte("old")))
	clock.Advance(30 * time.Minute)
	require.NoError(t, q.Send(ctx, []byte("young")))

	clock.Advance(30 * time.Minute)
	msgs, err := q.ReceiveBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "young", string(msgs[0].Body))
	assert.Equal(t, 1, q.Len())
	assert.Empty(t, q.DeadLetters())
}

func TestMemoryStaleReceiptIgnored(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	q := newTestMemory(clock)
	require.NoError(t, q.Send(ctx, []byte("a")))

	first, err := q.ReceiveBatch(ctx, 1)
	require.NoError(t, err)
	clock.Advance(5 * time.Minute)
	second, err := q.ReceiveBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, second, 1)

	require.NoError(t, q.Ack(ctx, first[0].ReceiptToken))
	assert.Equal(t, 1, q.Len())
	require.NoError(t, q.Ack(ctx, second[0].ReceiptToken))
	assert.Equal(t, 0, q.Len())
}

func TestMemoryBatchLimit(t *testing.T) {
	ctx := context.Background()
	q := NewMemory(Config{VisibilityTimeout: time.Minute})
	for range 5 {
		require.NoError(t, q.Send(ctx, []byte("x")))
	}
	msgs, err := q.ReceiveBatch(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
	msgs, err = q.ReceiveBatch(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestMemoryLongPollWakesOnSend(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q := NewMemory(Config{VisibilityTimeout: time.Minute, WaitTime: 5 * time.Second})

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Send(context.Background(), []byte("late"))
	}()

	msgs, err := q.ReceiveBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "late", string(msgs[0].Body))
}

func TestMemoryLongPollHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	q := NewMemory(Config{VisibilityTimeout: time.Minute, WaitTime: time.Minute})

	_, err := q.ReceiveBatch(ctx, 10)
	assert.ErrorIs(t, err, context.Canceled)
}
