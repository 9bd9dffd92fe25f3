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

package cmd

import (
	"context"
	"fmt"
	"log/slog"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/filerunner/config"
	"github.com/cardinalhq/filerunner/internal/consumer"
	"github.com/cardinalhq/filerunner/internal/events"
	"github.com/cardinalhq/filerunner/internal/queue"
	"github.com/cardinalhq/filerunner/internal/report"
)

func init() {
	lambdaCmd := &cobra.Command{
		Use:   "lambda",
		Short: "Run as an AWS Lambda function",
	}

	processorCmd := &cobra.Command{
		Use:   "processor",
		Short: "Process files delivered by an SQS event source mapping",
		RunE: func(_ *cobra.Command, _ []string) error {
			return withTelemetry("filerunner-lambda-processor", runLambdaProcessor)
		},
	}

	reporterCmd := &cobra.Command{
		Use:   "reporter",
		Short: "Generate a report on each scheduled invocation",
		RunE: func(_ *cobra.Command, _ []string) error {
			return withTelemetry("filerunner-lambda-reporter", runLambdaReporter)
		},
	}

	lambdaCmd.AddCommand(processorCmd, reporterCmd)
	rootCmd.AddCommand(lambdaCmd)
}

// sqsBatchHandler adapts the consumer to an SQS-triggered function.  The
// event source mapping deletes every message not listed as a batch item
// failure, so "leave unacknowledged" becomes "report as failed".
type sqsBatchHandler struct {
	consumer    *consumer.Consumer
	concurrency int
}

func (h *sqsBatchHandler) Handle(ctx context.Context, ev lambdaevents.SQSEvent) (lambdaevents.SQSEventResponse, error) {
	acked := make([]bool, len(ev.Records))

	var g errgroup.Group
	g.SetLimit(max(h.concurrency, 1))
	for i, rec := range ev.Records {
		g.Go(func() error {
			acked[i] = h.consumer.Handle(ctx, queue.Message{
				ID:              rec.MessageId,
				Body:            []byte(rec.Body),
				DeliveryAttempt: queue.ReceiveCount(rec.Attributes),
				ReceiptToken:    rec.ReceiptHandle,
			})
			return nil
		})
	}
	_ = g.Wait()

	var resp lambdaevents.SQSEventResponse
	for i, ok := range acked {
		if !ok {
			resp.BatchItemFailures = append(resp.BatchItemFailures, lambdaevents.SQSBatchItemFailure{
				ItemIdentifier: ev.Records[i].MessageId,
			})
		}
	}
	if n := len(resp.BatchItemFailures); n > 0 {
		slog.Info("Returning batch item failures", slog.Int("failed", n), slog.Int("total", len(ev.Records)))
	}
	return resp, nil
}

func runLambdaProcessor(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a := newApp(cfg)
	defer a.Close()

	store, err := a.metastore(ctx)
	if err != nil {
		return err
	}
	proc, err := a.processor(ctx, store)
	if err != nil {
		return err
	}

	h := &sqsBatchHandler{
		// Messages are acknowledged by the event source mapping, not by
		// the consumer, so it needs no queue.
		consumer:    consumer.New(cfg.Consumer, nil, events.NewDecoder(cfg.Events), proc, slog.Default()),
		concurrency: cfg.Consumer.Concurrency,
	}
	lambda.StartWithOptions(h.Handle, lambda.WithContext(ctx))
	return nil
}

type scheduledReporter struct {
	gen *report.Generator
}

func (r *scheduledReporter) Handle(ctx context.Context, ev lambdaevents.CloudWatchEvent) (report.ReportRecord, error) {
	slog.Info("Scheduled report invocation",
		slog.String("eventId", ev.ID),
		slog.Time("eventTime", ev.Time))
	return r.gen.Run(ctx)
}

func runLambdaReporter(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a := newApp(cfg)
	defer a.Close()

	gen, err := newReportGenerator(ctx, a)
	if err != nil {
		return err
	}

	r := &scheduledReporter{gen: gen}
	lambda.StartWithOptions(r.Handle, lambda.WithContext(ctx))
	return nil
}
