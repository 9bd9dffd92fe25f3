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
	"time"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/filerunner/internal/metastore/pgstore"
	"github.com/cardinalhq/filerunner/internal/metastore/pgstore/migrations"
)

func init() {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run metadata database migrations",
		Long:  "Apply the PostgreSQL metadata store migrations using the FILERUNNER_DB_* environment.",
		RunE: func(_ *cobra.Command, _ []string) error {
			return migrate()
		},
	}

	rootCmd.AddCommand(cmd)
}

func migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := pgstore.Connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	slog.Info("Running metadata store migrations")
	if err := migrations.RunMigrationsUp(ctx, pool); err != nil {
		return fmt.Errorf("failed to migrate metadata store: %w", err)
	}
	slog.Info("Metadata store migrations completed successfully")
	return nil
}
