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

// Package queue is the ingestion queue collaborator.  Delivery is
// at-least-once: an unacknowledged message becomes visible again once its
// visibility timeout lapses, and the queue itself moves a message to its
// dead-letter channel after too many receives.
package queue

import (
	"context"
	"time"
)

// Message is one received delivery.
type Message struct {
	ID   string
	Body []byte

	// DeliveryAttempt is 1 on first receive and counts up on each redelivery.
	DeliveryAttempt int

	// ReceiptToken identifies this particular delivery for Ack.
	ReceiptToken string
}

type Queue interface {
	// ReceiveBatch long-polls for up to max messages.  An empty result is
	// not an error.
	ReceiveBatch(ctx context.Context, max int) ([]Message, error)

	// Ack removes the delivered message from the queue.
	Ack(ctx context.Context, receiptToken string) error
}

// Requeuer puts a fresh message on the queue.
type Requeuer interface {
	Send(ctx context.Context, body []byte) error
}

const (
	BackendSQS    = "sqs"
	BackendMemory = "memory"
)

type Config struct {
	Backend           string        `mapstructure:"backend"`
	URL               string        `mapstructure:"url"`
	Region            string        `mapstructure:"region"`
	RoleARN           string        `mapstructure:"role_arn"`
	Endpoint          string        `mapstructure:"endpoint"`
	WaitTime          time.Duration `mapstructure:"wait_time"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	// MessageRetention is how long an unacknowledged message survives.  For
	// SQS it must match the queue's MessageRetentionPeriod.
	MessageRetention time.Duration `mapstructure:"message_retention"`

	// MaxReceiveCount is the redrive threshold of the memory backend.  For
	// SQS it lives in the queue's redrive policy.
	MaxReceiveCount int `mapstructure:"max_receive_count"`
}

func DefaultConfig() Config {
	return Config{
		Backend:           BackendSQS,
		WaitTime:          20 * time.Second,
		VisibilityTimeout: 5 * time.Minute,
		MessageRetention:  4 * 24 * time.Hour,
		MaxReceiveCount:   3,
	}
}
