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

package consumer

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	outcomeAcked      = "acked"
	outcomeRetry      = "retry"
	outcomeDeadLetter = "deadletter"
	outcomeInvalid    = "invalid"
)

var (
	messagesCounter   metric.Int64Counter
	durationHistogram metric.Float64Histogram
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/filerunner/internal/consumer")

	var err error
	messagesCounter, err = meter.Int64Counter(
		"filerunner.consumer.messages",
		metric.WithDescription("Queue messages handled, by outcome"),
	)
	if err != nil {
		log.Fatalf("failed to create consumer.messages counter: %v", err)
	}

	durationHistogram, err = meter.Float64Histogram(
		"filerunner.consumer.process.duration",
		metric.WithDescription("Time spent handling one queue message"),
		metric.WithUnit("s"),
	)
	if err != nil {
		log.Fatalf("failed to create consumer.process.duration histogram: %v", err)
	}
}

func recordMessage(ctx context.Context, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	messagesCounter.Add(ctx, 1, attrs)
	durationHistogram.Record(ctx, elapsed.Seconds(), attrs)
}
