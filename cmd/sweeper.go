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

	"github.com/spf13/cobra"

	"github.com/cardinalhq/filerunner/config"
	"github.com/cardinalhq/filerunner/internal/debugging"
	"github.com/cardinalhq/filerunner/internal/healthcheck"
	"github.com/cardinalhq/filerunner/internal/sweeper"
)

func init() {
	var once bool

	cmd := &cobra.Command{
		Use:   "sweeper",
		Short: "Reset files left in PROCESSING by workers that went away",
		RunE: func(_ *cobra.Command, _ []string) error {
			return withTelemetry("filerunner-sweeper", func(ctx context.Context) error {
				return runSweeper(ctx, once)
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Run a single sweep and exit")

	rootCmd.AddCommand(cmd)
}

func runSweeper(ctx context.Context, once bool) error {
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

	if err := cfg.ValidateRequeue(); err != nil {
		return err
	}

	var opts []sweeper.Option
	if cfg.Sweeper.Requeue {
		q, err := a.queue(ctx)
		if err != nil {
			return err
		}
		opts = append(opts, sweeper.WithRequeuer(q, cfg.Storage.RawBucket))
	} else {
		slog.Warn("Requeue disabled; stale claims will be dead-lettered")
	}
	s := sweeper.New(cfg.Sweeper, store, a.guard(store), opts...)

	if once {
		res, err := s.Sweep(ctx)
		slog.Info("Sweep complete",
			slog.Int("scanned", res.Scanned),
			slog.Int("reset", res.Reset),
			slog.Int("deadLettered", res.DeadLettered),
			slog.Int("requeued", res.Requeued))
		return err
	}

	debugging.RunPprof(ctx, cfg.Debug)
	health := startHealth(ctx, cfg.Health)
	health.SetStatus(healthcheck.StatusHealthy)
	health.SetReady(true)

	if err := s.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
