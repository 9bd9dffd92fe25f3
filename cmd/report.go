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
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cardinalhq/filerunner/config"
	"github.com/cardinalhq/filerunner/internal/debugging"
	"github.com/cardinalhq/filerunner/internal/healthcheck"
	"github.com/cardinalhq/filerunner/internal/report"
	"github.com/cardinalhq/filerunner/internal/schedule"
)

func init() {
	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Generate processing reports",
	}

	var (
		output string
		start  string
		end    string
	)
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Generate one report and exit",
		Long: `Generate one report for the configured window ending now, or for an explicit
[--start, --end) window given as RFC3339 timestamps.`,
		RunE: func(c *cobra.Command, _ []string) error {
			if err := checkOutputFormat(output); err != nil {
				return err
			}
			return withTelemetry("filerunner-report", func(ctx context.Context) error {
				rep, err := runReportOnce(ctx, start, end)
				if err != nil {
					return err
				}
				return writeReport(c.OutOrStdout(), rep, output)
			})
		},
	}
	runCmd.Flags().StringVarP(&output, "output", "o", "yaml", "Output format: yaml, json or none")
	runCmd.Flags().StringVar(&start, "start", "", "Window start (RFC3339); requires --end")
	runCmd.Flags().StringVar(&end, "end", "", "Window end (RFC3339), exclusive")

	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Generate reports on a fixed interval",
		RunE: func(_ *cobra.Command, _ []string) error {
			return withTelemetry("filerunner-report", runReportSchedule)
		},
	}

	reportCmd.AddCommand(runCmd, scheduleCmd)
	rootCmd.AddCommand(reportCmd)
}

func newReportGenerator(ctx context.Context, a *app) (*report.Generator, error) {
	if a.cfg.Storage.ReportsBucket == "" {
		return nil, fmt.Errorf("storage.reports_bucket is required")
	}
	store, err := a.metastore(ctx)
	if err != nil {
		return nil, err
	}
	buckets, err := a.storage(ctx)
	if err != nil {
		return nil, err
	}
	notifier, err := a.notifier(ctx)
	if err != nil {
		return nil, err
	}
	return report.NewGenerator(a.cfg.Report, store, buckets(a.cfg.Storage.ReportsBucket), notifier), nil
}

// parseWindow returns the explicit window, or ok=false when neither bound
// is given.
func parseWindow(start, end string) (time.Time, time.Time, bool, error) {
	if start == "" && end == "" {
		return time.Time{}, time.Time{}, false, nil
	}
	if start == "" || end == "" {
		return time.Time{}, time.Time{}, false, fmt.Errorf("--start and --end must be given together")
	}
	s, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("invalid --start: %w", err)
	}
	e, err := time.Parse(time.RFC3339, end)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("invalid --end: %w", err)
	}
	if !s.Before(e) {
		return time.Time{}, time.Time{}, false, fmt.Errorf("--start must be before --end")
	}
	return s.UTC(), e.UTC(), true, nil
}

func runReportOnce(ctx context.Context, start, end string) (report.ReportRecord, error) {
	s, e, explicit, err := parseWindow(start, end)
	if err != nil {
		return report.ReportRecord{}, err
	}

	cfg, err := config.Load()
	if err != nil {
		return report.ReportRecord{}, fmt.Errorf("failed to load config: %w", err)
	}
	a := newApp(cfg)
	defer a.Close()

	gen, err := newReportGenerator(ctx, a)
	if err != nil {
		return report.ReportRecord{}, err
	}
	if explicit {
		return gen.Generate(ctx, s, e)
	}
	return gen.Run(ctx)
}

func runReportSchedule(ctx context.Context) error {
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

	debugging.RunPprof(ctx, cfg.Debug)
	health := startHealth(ctx, cfg.Health)
	health.SetStatus(healthcheck.StatusHealthy)
	health.SetReady(true)

	s := schedule.New("report", cfg.Schedule, func(ctx context.Context) error {
		_, err := gen.Run(ctx)
		return err
	}, nil)
	if err := s.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func checkOutputFormat(format string) error {
	switch format {
	case "yaml", "json", "none":
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func writeReport(w io.Writer, rep report.ReportRecord, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rep); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	case "none":
		return nil
	default:
		return checkOutputFormat(format)
	}
}
