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

package report

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var runsCounter metric.Int64Counter

func init() {
	meter := otel.Meter("github.com/cardinalhq/filerunner/internal/report")

	var err error
	runsCounter, err = meter.Int64Counter(
		"filerunner.report.runs",
		metric.WithDescription("Report generation runs, by result"),
	)
	if err != nil {
		log.Fatalf("failed to create report.runs counter: %v", err)
	}
}

func recordRun(ctx context.Context, result string) {
	runsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
