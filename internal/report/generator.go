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

// Package report builds the periodic processing report: it reads FileRecords
// for a time window, aggregates them, writes a JSON and an HTML artifact and
// announces the result.  It never mutates FileRecords and has no clock loop
// of its own; something external decides when to call Run.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/filerunner/internal/filerecord"
	"github.com/cardinalhq/filerunner/internal/idgen"
	"github.com/cardinalhq/filerunner/internal/metastore"
	"github.com/cardinalhq/filerunner/internal/notify"
	"github.com/cardinalhq/filerunner/internal/objstore"
)

const errorNotifyTimeout = 10 * time.Second

type Config struct {
	Window      time.Duration `mapstructure:"window"`
	Prefix      string        `mapstructure:"prefix"`
	Environment string        `mapstructure:"environment"`
	TopN        int           `mapstructure:"top_n"`
}

func DefaultConfig() Config {
	return Config{
		Window:      24 * time.Hour,
		Prefix:      "daily-reports/",
		Environment: "dev",
		TopN:        10,
	}
}

type Generator struct {
	cfg       Config
	store     metastore.Store
	artifacts objstore.Store
	notifier  notify.Notifier
	ids       idgen.IDGenerator
	now       func() time.Time
	logger    *slog.Logger
}

type Option func(*Generator)

func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) {
		g.logger = logger
	}
}

func WithIDGenerator(ids idgen.IDGenerator) Option {
	return func(g *Generator) {
		g.ids = ids
	}
}

func NewGenerator(cfg Config, store metastore.Store, artifacts objstore.Store, notifier notify.Notifier, opts ...Option) *Generator {
	g := &Generator{
		cfg:       cfg,
		store:     store,
		artifacts: artifacts,
		notifier:  notifier,
		ids:       idgen.NewULIDGenerator(),
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With(slog.String("component", "report"))
	return g
}

// Run reports on the window that ends now.
func (g *Generator) Run(ctx context.Context) (ReportRecord, error) {
	end := g.now().UTC()
	return g.Generate(ctx, end.Add(-g.cfg.Window), end)
}

// ArtifactKeys returns the JSON and HTML keys for report reportID generated
// at t.  The reportID suffix keeps two runs in the same millisecond apart.
func ArtifactKeys(prefix string, t time.Time, reportID string) (string, string) {
	t = t.UTC()
	base := prefix + t.Format("2006/01/02") + "/report_" + t.Format("20060102_150405.000") + "_" + reportID
	return base + ".json", base + ".html"
}

// Generate builds and publishes the report for [start, end).  A failure
// before both artifacts are stored leaves nothing behind and is announced
// as an error notification.  A notification failure after the artifacts
// are stored is only logged.
func (g *Generator) Generate(ctx context.Context, start, end time.Time) (ReportRecord, error) {
	generatedAt := g.now().UTC()

	rep, err := g.build(ctx, start, end, generatedAt)
	if err != nil {
		g.announceFailure(ctx, generatedAt, err)
		recordRun(ctx, "failed")
		return rep, err
	}

	msg := notify.Message{
		Subject: Subject(g.cfg.Environment, generatedAt),
		Body:    Body(rep, g.artifacts.URL(rep.ArtifactKey), g.artifacts.URL(rep.HTMLKey)),
	}
	if err := g.notifier.Publish(ctx, msg); err != nil {
		g.logger.Warn("Report stored but notification failed; not retrying",
			slog.String("reportId", rep.ReportID),
			slog.String("artifactKey", rep.ArtifactKey),
			slog.Any("error", err))
		recordRun(ctx, "notify_failed")
		return rep, nil
	}

	g.logger.Info("Report generated",
		slog.String("reportId", rep.ReportID),
		slog.String("artifactKey", rep.ArtifactKey),
		slog.Int("totalFiles", rep.Summary.TotalFiles),
		slog.Float64("successRate", rep.Summary.SuccessRate))
	recordRun(ctx, "succeeded")
	return rep, nil
}

func (g *Generator) build(ctx context.Context, start, end, generatedAt time.Time) (ReportRecord, error) {
	byStatus, err := g.query(ctx, start, end)
	if err != nil {
		return ReportRecord{}, err
	}

	rep := Aggregate(byStatus, g.cfg.TopN)
	rep.ReportID = g.ids.Make(generatedAt)
	rep.Environment = g.cfg.Environment
	rep.WindowStart = start.UTC()
	rep.WindowEnd = end.UTC()
	rep.GeneratedAt = generatedAt
	rep.ArtifactKey, rep.HTMLKey = ArtifactKeys(g.cfg.Prefix, generatedAt, rep.ReportID)

	jsonBody, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return rep, fmt.Errorf("encode report: %w", err)
	}
	htmlBody, err := RenderHTML(rep)
	if err != nil {
		return rep, err
	}

	if err := g.artifacts.Put(ctx, rep.ArtifactKey, jsonBody); err != nil {
		return rep, fmt.Errorf("write %s: %w", rep.ArtifactKey, err)
	}
	if err := g.artifacts.Put(ctx, rep.HTMLKey, htmlBody); err != nil {
		var result *multierror.Error
		result = multierror.Append(result, fmt.Errorf("write %s: %w", rep.HTMLKey, err))
		if derr := g.artifacts.Delete(context.WithoutCancel(ctx), rep.ArtifactKey); derr != nil {
			result = multierror.Append(result, fmt.Errorf("roll back %s: %w", rep.ArtifactKey, derr))
		}
		return rep, result.ErrorOrNil()
	}
	return rep, nil
}

// query reads every status for the window concurrently.
func (g *Generator) query(ctx context.Context, start, end time.Time) (map[filerecord.Status][]filerecord.FileRecord, error) {
	var mu sync.Mutex
	byStatus := make(map[filerecord.Status][]filerecord.FileRecord, len(filerecord.AllStatuses))

	eg, egCtx := errgroup.WithContext(ctx)
	for _, status := range filerecord.AllStatuses {
		eg.Go(func() error {
			recs, err := g.store.QueryByStatusAndTimeRange(egCtx, status, start, end)
			if err != nil {
				return fmt.Errorf("query %s records: %w", status, err)
			}
			mu.Lock()
			byStatus[status] = recs
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return byStatus, nil
}

func (g *Generator) announceFailure(ctx context.Context, at time.Time, cause error) {
	g.logger.Error("Report generation failed", slog.Any("error", cause))

	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), errorNotifyTimeout)
	defer cancel()
	msg := notify.Message{
		Subject: ErrorSubject(g.cfg.Environment),
		Body:    ErrorBody(g.cfg.Environment, at, cause),
	}
	if err := g.notifier.Publish(nctx, msg); err != nil {
		g.logger.Error("Failed to publish report failure notification", slog.Any("error", err))
	}
}
