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
	"github.com/cardinalhq/filerunner/internal/consumer"
	"github.com/cardinalhq/filerunner/internal/debugging"
	"github.com/cardinalhq/filerunner/internal/events"
	"github.com/cardinalhq/filerunner/internal/healthcheck"
)

func init() {
	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Consume file arrival notifications and process the files",
		RunE: func(_ *cobra.Command, _ []string) error {
			return withTelemetry("filerunner-consume", runConsume)
		},
	}

	rootCmd.AddCommand(cmd)
}

func runConsume(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	debugging.RunPprof(ctx, cfg.Debug)
	health := startHealth(ctx, cfg.Health)

	a := newApp(cfg)
	defer a.Close()

	store, err := a.metastore(ctx)
	if err != nil {
		return err
	}
	q, err := a.queue(ctx)
	if err != nil {
		return err
	}
	proc, err := a.processor(ctx, store)
	if err != nil {
		return err
	}

	c := consumer.New(cfg.Consumer, q, events.NewDecoder(cfg.Events), proc, slog.Default())

	health.SetStatus(healthcheck.StatusHealthy)
	health.SetReady(true)
	defer health.SetReady(false)

	return c.Run(ctx)
}
