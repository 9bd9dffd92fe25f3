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
	"fmt"
	"slices"
	"sync"
	"time"
)

// Memory is an in-process queue with SQS delivery semantics: receives hide
// a message for the visibility timeout, each receive counts as a delivery
// attempt, and a message received MaxReceiveCount times is moved to the
// dead-letter list on its next receive instead of being delivered again.
// Messages older than the retention period are dropped.
type Memory struct {
	visibility time.Duration
	waitTime   time.Duration
	retention  time.Duration
	maxReceive int
	now        func() time.Time

	mu       sync.Mutex
	seq      int
	messages []*memMessage
	dead     []Message
	arrived  chan struct{}
}

type memMessage struct {
	id        string
	body      []byte
	receives  int
	sentAt    time.Time
	visibleAt time.Time
	receipt   string
}

var (
	_ Queue    = (*Memory)(nil)
	_ Requeuer = (*Memory)(nil)
)

type MemoryOption func(*Memory)

// WithClock replaces time.Now for visibility bookkeeping.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

func NewMemory(cfg Config, opts ...MemoryOption) *Memory {
	m := &Memory{
		visibility: cfg.VisibilityTimeout,
		waitTime:   cfg.WaitTime,
		retention:  cfg.MessageRetention,
		maxReceive: cfg.MaxReceiveCount,
		now:        time.Now,
		arrived:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Send(_ context.Context, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.messages = append(m.messages, &memMessage{
		id:     fmt.Sprintf("msg-%d", m.seq),
		body:   slices.Clone(body),
		sentAt: m.now(),
	})
	close(m.arrived)
	m.arrived = make(chan struct{})
	return nil
}

func (m *Memory) ReceiveBatch(ctx context.Context, max int) ([]Message, error) {
	var deadline <-chan time.Time
	if m.waitTime > 0 {
		timer := time.NewTimer(m.waitTime)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		out, arrived := m.receive(max)
		if len(out) > 0 || deadline == nil {
			return out, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, nil
		case <-arrived:
		}
	}
}

func (m *Memory) receive(max int) ([]Message, <-chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var out []Message
	kept := m.messages[:0]
	for _, msg := range m.messages {
		if m.retention > 0 && now.Sub(msg.sentAt) >= m.retention {
			continue
		}
		if len(out) >= max || now.Before(msg.visibleAt) {
			kept = append(kept, msg)
			continue
		}
		if m.maxReceive > 0 && msg.receives >= m.maxReceive {
			m.dead = append(m.dead, Message{ID: msg.id, Body: msg.body, DeliveryAttempt: msg.receives})
			continue
		}
		msg.receives++
		msg.visibleAt = now.Add(m.visibility)
		msg.receipt = fmt.Sprintf("%s#%d", msg.id, msg.receives)
		out = append(out, Message{
			ID:              msg.id,
			Body:            slices.Clone(msg.body),
			DeliveryAttempt: msg.receives,
			ReceiptToken:    msg.receipt,
		})
		kept = append(kept, msg)
	}
	m.messages = kept
	return out, m.arrived
}

// Ack deletes the message if receiptToken is its latest receipt.  A stale
// receipt is accepted and ignored, as SQS does.
func (m *Memory) Ack(_ context.Context, receiptToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = slices.DeleteFunc(m.messages, func(msg *memMessage) bool {
		return msg.receipt == receiptToken
	})
	return nil
}

// Len counts messages still on the queue, visible or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// DeadLetters returns the messages moved to the dead-letter list.
func (m *Memory) DeadLetters() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.dead)
}
