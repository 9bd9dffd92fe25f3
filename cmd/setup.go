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
	"sync"

	"github.com/cardinalhq/filerunner/config"
	"github.com/cardinalhq/filerunner/internal/awsclient"
	"github.com/cardinalhq/filerunner/internal/guard"
	"github.com/cardinalhq/filerunner/internal/healthcheck"
	"github.com/cardinalhq/filerunner/internal/idgen"
	"github.com/cardinalhq/filerunner/internal/metastore"
	"github.com/cardinalhq/filerunner/internal/metastore/dynamostore"
	"github.com/cardinalhq/filerunner/internal/metastore/pgstore"
	"github.com/cardinalhq/filerunner/internal/metastore/pgstore/migrations"
	"github.com/cardinalhq/filerunner/internal/notify"
	"github.com/cardinalhq/filerunner/internal/objstore"
	"github.com/cardinalhq/filerunner/internal/processor"
	"github.com/cardinalhq/filerunner/internal/queue"
)

// app builds the collaborators a command needs from configuration.  The
// AWS manager is only created once something asks for an AWS backend.
type app struct {
	cfg *config.Config

	awsOnce sync.Once
	mgr     *awsclient.Manager
	awsErr  error

	closers []func()
}

func newApp(cfg *config.Config) *app {
	return &app{cfg: cfg}
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) aws(ctx context.Context) (*awsclient.Manager, error) {
	a.awsOnce.Do(func() {
		a.mgr, a.awsErr = awsclient.NewManager(ctx, awsclient.WithAssumeRoleSessionName("filerunner"))
	})
	return a.mgr, a.awsErr
}

func (a *app) metastore(ctx context.Context) (metastore.Store, error) {
	mc := a.cfg.Metastore
	switch mc.Backend {
	case metastore.BackendDynamoDB:
		mgr, err := a.aws(ctx)
		if err != nil {
			return nil, err
		}
		opts := []awsclient.DynamoDBOption{
			awsclient.WithDynamoDBRegion(mc.Region),
			awsclient.WithDynamoDBRole(mc.RoleARN),
		}
		if mc.Endpoint != "" {
			opts = append(opts, awsclient.WithDynamoDBEndpoint(mc.Endpoint))
		}
		client, err := mgr.GetDynamoDB(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("dynamodb client: %w", err)
		}
		slog.Info("Using DynamoDB metadata store", slog.String("table", mc.Table), slog.String("index", mc.StatusIndex))
		return dynamostore.New(client, mc.Table, mc.StatusIndex), nil

	case metastore.BackendPostgres:
		pool, err := pgstore.Connect(ctx)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		if err := migrations.RunMigrationsUp(ctx, pool); err != nil {
			return nil, fmt.Errorf("metadata database migrations: %w", err)
		}
		slog.Info("Using PostgreSQL metadata store")
		return pgstore.New(pool), nil

	case metastore.BackendMemory:
		slog.Warn("Using in-memory metadata store; state is lost on exit")
		return metastore.NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unknown metastore backend %q", mc.Backend)
	}
}

// queueCollaborator is both ends of the ingestion queue.
type queueCollaborator interface {
	queue.Queue
	queue.Requeuer
}

func (a *app) queue(ctx context.Context) (queueCollaborator, error) {
	qc := a.cfg.Queue
	switch qc.Backend {
	case queue.BackendSQS:
		if qc.URL == "" {
			return nil, fmt.Errorf("queue.url is required for the sqs backend")
		}
		mgr, err := a.aws(ctx)
		if err != nil {
			return nil, err
		}
		opts := []awsclient.SQSOption{
			awsclient.WithSQSRegion(qc.Region),
			awsclient.WithSQSRole(qc.RoleARN),
		}
		if qc.Endpoint != "" {
			opts = append(opts, awsclient.WithSQSEndpoint(qc.Endpoint))
		}
		client, err := mgr.GetSQS(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("sqs client: %w", err)
		}
		return queue.NewSQS(client.Client, qc), nil

	case queue.BackendMemory:
		slog.Warn("Using in-memory queue; messages are lost on exit")
		return queue.NewMemory(qc), nil

	default:
		return nil, fmt.Errorf("unknown queue backend %q", qc.Backend)
	}
}

func (a *app) storage(ctx context.Context) (objstore.Resolver, error) {
	sc := a.cfg.Storage
	mgr, err := a.aws(ctx)
	if err != nil {
		return nil, err
	}
	opts := []awsclient.S3Option{
		awsclient.WithRegion(sc.Region),
		awsclient.WithRole(sc.RoleARN),
	}
	if sc.Endpoint != "" {
		opts = append(opts, awsclient.WithEndpoint(sc.Endpoint))
	}
	if sc.PathStyle {
		opts = append(opts, awsclient.WithPathStyle())
	}
	if sc.InsecureTLS {
		opts = append(opts, awsclient.WithInsecureTLS())
	}
	client, err := mgr.GetS3(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return objstore.S3Resolver(client), nil
}

func (a *app) notifier(ctx context.Context) (notify.Notifier, error) {
	nc := a.cfg.Notify
	switch nc.Backend {
	case notify.BackendSNS:
		if nc.TopicARN == "" {
			return nil, fmt.Errorf("notify.topic_arn is required for the sns backend")
		}
		mgr, err := a.aws(ctx)
		if err != nil {
			return nil, err
		}
		client, err := mgr.GetSNS(ctx, awsclient.WithSNSRegion(nc.Region), awsclient.WithSNSRole(nc.RoleARN))
		if err != nil {
			return nil, fmt.Errorf("sns client: %w", err)
		}
		return notify.NewSNS(client, nc.TopicARN), nil

	case notify.BackendLog:
		return notify.NewLog(slog.Default()), nil

	default:
		return nil, fmt.Errorf("unknown notify backend %q", nc.Backend)
	}
}

func (a *app) guard(store metastore.Store) *guard.Guard {
	return guard.New(store, a.cfg.Consumer.MaxAttempts, guard.WithWorkerID(idgen.WorkerID()))
}

// processor wires the file processor against the configured store and
// buckets.  Source objects are read from whatever bucket the arrival event
// names.
func (a *app) processor(ctx context.Context, store metastore.Store) (*processor.Processor, error) {
	if a.cfg.Storage.ProcessedBucket == "" {
		return nil, fmt.Errorf("storage.processed_bucket is required")
	}
	buckets, err := a.storage(ctx)
	if err != nil {
		return nil, err
	}
	return processor.New(a.cfg.Processor, a.guard(store), buckets, buckets(a.cfg.Storage.ProcessedBucket)), nil
}

// startHealth serves the probes in the background when enabled.  The
// returned server can always be updated.
func startHealth(ctx context.Context, cfg healthcheck.Config) *healthcheck.Server {
	srv := healthcheck.NewServer(cfg)
	if !cfg.Enabled {
		return srv
	}
	go func() {
		if err := srv.Start(ctx); err != nil {
			slog.Error("Health check server stopped", slog.Any("error", err))
		}
	}()
	return srv
}
