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
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	filesCounter   metric.Int64Counter
	recordsCounter metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/filerunner/internal/processor")

	var err error
	filesCounter, err = meter.Int64Counter(
		"filerunner.processor.files",
		metric.WithDescription("Arrival events handled, by outcome"),
	)
	if err != nil {
		log.Fatalf("failed to create processor.files counter: %v", err)
	}

	recordsCounter, err = meter.Int64Counter(
		"filerunner.processor.records",
		metric.WithDescription("Rows written to processed output"),
	)
	if err != nil {
		log.Fatalf("failed to create processor.records counter: %v", err)
	}
}

func recordOutcome(ctx context.Context, o Outcome) {
	filesCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", o.String())))
}

func recordRecords(ctx context.Context, n int64) {
	recordsCounter.Add(ctx, n)
}
