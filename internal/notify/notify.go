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

// Package notify is the outbound notification channel.
package notify

import (
	"context"
	"log/slog"
	"sync"
)

type Message struct {
	Subject string
	Body    string
}

type Notifier interface {
	Publish(ctx context.Context, msg Message) error
}

const (
	BackendSNS = "sns"
	BackendLog = "log"
)

type Config struct {
	Backend  string `mapstructure:"backend"`
	TopicARN string `mapstructure:"topic_arn"`
	Region   string `mapstructure:"region"`
	RoleARN  string `mapstructure:"role_arn"`
}

func DefaultConfig() Config {
	return Config{
		Backend: BackendSNS,
	}
}

// Log writes notifications to a logger instead of sending them.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Publish(_ context.Context, msg Message) error {
	l.logger.Info("Notification",
		slog.String("subject", msg.Subject),
		slog.String("body", msg.Body))
	return nil
}

// Recorder keeps published messages in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	Err      error
}

func (r *Recorder) Publish(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.messages = append(r.messages, msg)
	return nil
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}
