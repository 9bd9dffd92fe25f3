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

package guard

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var raceLost metric.Int64Counter

func init() {
	meter := otel.Meter("github.com/cardinalhq/filerunner/internal/guard")

	var err error
	raceLost, err = meter.Int64Counter(
		"filerunner.guard.race_lost",
		metric.WithDescription("Conditional writes rejected because another worker advanced the record"),
	)
	if err != nil {
		log.Fatalf("failed to create guard.race_lost counter: %v", err)
	}
}

func recordRaceLost(ctx context.Context, op string) {
	raceLost.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}
