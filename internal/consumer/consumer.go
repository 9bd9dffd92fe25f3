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

// Package consumer pulls arrival notifications off the ingestion queue and
// feeds them to the file processor with a concurrency cap that holds across
// batches.  Redelivery is left entirely to the queue: a delivery that should
// be retried is simply not acknowledged.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/semaphore"

	"github.com/cardinalhq/filerunner/internal/events"
	"github.com/cardinalhq/filerunner/internal/filerecord"
	"github.com/cardinalhq/filerunner/internal/logctx"
	"github.com/cardinalhq/filerunner/internal/processor"
	"github.com/cardinalhq/filerunner/internal/queue"
)

const ackTimeout = 5 * time.Second

type Config struct {
	BatchSize           int           `mapstructure:"batch_size"`
	Concurrency         int           `mapstructure:"concurrency"`
	MaxAttempts         int           `mapstructure:"max_attempts"`
	ProcessingTimeout   time.Duration `mapstructure:"processing_timeout"`
	ReceiveErrorBackoff time.Duration `mapstructure:"receive_error_backoff"`
}

func DefaultConfig() Config {
	return Config{
		BatchSize:           10,
		Concurrency:         10,
		MaxAttempts:         3,
		ProcessingTimeout:   4 * time.Minute,
		ReceiveErrorBackoff: 5 * time.Second,
	}
}

// Validate checks the settings against the queue's visibility timeout.  A
// processing timeout at or past the visibility timeout lets a second
// delivery start while the first is still running.
func (c Config) Validate(visibilityTimeout time.Duration) error {
	var errs *multierror.Error
	if c.BatchSize < 1 {
		errs = multierror.Append(errs, fmt.Errorf("batch_size must be positive, got %d", c.BatchSize))
	}
	if c.Concurrency < 1 {
		errs = multierror.Append(errs, fmt.Errorf("concurrency must be positive, got %d", c.Concurrency))
	}
	if c.MaxAttempts < 1 {
		errs = multierror.Append(errs, fmt.Errorf("max_attempts must be positive, got %d", c.MaxAttempts))
	}
	if c.ProcessingTimeout <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("processing_timeout must be positive, got %s", c.ProcessingTimeout))
	}
	if visibilityTimeout > 0 && c.ProcessingTimeout >= visibilityTimeout {
		errs = multierror.Append(errs, fmt.Errorf("processing_timeout %s must be shorter than the queue visibility timeout %s",
			c.ProcessingTimeout, visibilityTimeout))
	}
	return errs.ErrorOrNil()
}

// FileProcessor handles a single arrival event.
type FileProcessor interface {
	Process(ctx context.Context, ev filerecord.ArrivalEvent) (processor.Outcome, error)
}

type Consumer struct {
	cfg     Config
	queue   queue.Queue
	decoder *events.Decoder
	proc    FileProcessor
	sem     *semaphore.Weighted
	logger  *slog.Logger
}

func New(cfg Config, q queue.Queue, decoder *events.Decoder, proc FileProcessor, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		cfg:     cfg,
		queue:   q,
		decoder: decoder,
		proc:    proc,
		sem:     semaphore.NewWeighted(int64(cfg.Concurrency)),
		logger:  logger.With(slog.String("component", "consumer")),
	}
}

// Run polls until ctx is cancelled, then waits for in-flight messages.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Starting queue consumer",
		slog.Int("batchSize", c.cfg.BatchSize),
		slog.Int("concurrency", c.cfg.Concurrency),
		slog.Int("maxAttempts", c.cfg.MaxAttempts))

	defer c.drain()

	for {
		// Only ask the queue for as many messages as there are free slots,
		// so nothing received sits waiting out its visibility timeout.
		if err := c.sem.Acquire(ctx, 1); err != nil {
			c.logger.Info("Queue consumer stopping")
			return nil
		}
		slots := 1
		for slots < c.cfg.BatchSize && c.sem.TryAcquire(1) {
			slots++
		}

		msgs, err := c.queue.ReceiveBatch(ctx, slots)
		if err != nil {
			c.sem.Release(int64(slots))
			if ctx.Err() != nil {
				c.logger.Info("Queue consumer stopping")
				return nil
			}
			c.logger.Error("Failed to receive messages", slog.Any("error", err))
			select {
			case <-ctx.Done():
			case <-time.After(c.cfg.ReceiveErrorBackoff):
			}
			continue
		}
		if unused := slots - len(msgs); unused > 0 {
			c.sem.Release(int64(unused))
		}

		for _, msg := range msgs {
			go func() {
				defer c.sem.Release(1)
				c.HandleMessage(ctx, msg)
			}()
		}
	}
}

func (c *Consumer) drain() {
	_ = c.sem.Acquire(context.Background(), int64(c.cfg.Concurrency))
	c.sem.Release(int64(c.cfg.Concurrency))
}

// HandleMessage processes msg and acknowledges it when every event in it
// reached an acknowledgeable outcome.
func (c *Consumer) HandleMessage(ctx context.Context, msg queue.Message) {
	if !c.Handle(ctx, msg) {
		return
	}

	// Ack even when shutting down: the work is already committed.
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
	defer cancel()
	if err := c.queue.Ack(ackCtx, msg.ReceiptToken); err != nil {
		c.logger.Error("Failed to acknowledge message",
			slog.String("messageId", msg.ID),
			slog.Any("error", err))
	}
}

// Handle processes every arrival event carried by msg and reports whether
// the delivery may be acknowledged.  It never acknowledges by itself.
func (c *Consumer) Handle(ctx context.Context, msg queue.Message) bool {
	start := time.Now()
	logger := c.logger.With(
		slog.String("messageId", msg.ID),
		slog.Int("deliveryAttempt", msg.DeliveryAttempt))

	evs, err := c.decoder.Decode(msg.Body)
	if err != nil {
		// Left unacknowledged, an undecodable body ends up in the queue's
		// dead-letter channel after its redrive limit.
		logger.Error("Failed to decode message", slog.Any("error", err))
		recordMessage(ctx, outcomeInvalid, time.Since(start))
		return false
	}

	// Work continues past shutdown until the processing timeout.
	workCtx := logctx.WithLogger(context.WithoutCancel(ctx), logger)

	ack := true
	deadLettered := false
	for _, ev := range evs {
		ev.DeliveryAttempt = msg.DeliveryAttempt

		pctx, cancel := context.WithTimeout(workCtx, c.cfg.ProcessingTimeout)
		outcome, err := c.proc.Process(pctx, ev)
		cancel()

		if !outcome.Ack() {
			ack = false
		}
		if outcome == processor.DeadLettered {
			deadLettered = true
		}
		if err != nil {
			logger.Debug("Event not completed",
				slog.String("sourceKey", ev.SourceKey),
				slog.String("outcome", outcome.String()),
				slog.Any("error", err))
		}
	}

	switch {
	case ack:
		recordMessage(ctx, outcomeAcked, time.Since(start))
	case deadLettered:
		recordMessage(ctx, outcomeDeadLetter, time.Since(start))
	default:
		recordMessage(ctx, outcomeRetry, time.Since(start))
	}
	return ack
}
