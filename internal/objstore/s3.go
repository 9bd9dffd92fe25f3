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

package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/filerunner/internal/awsclient"
)

// S3Store is a Store backed by one S3 bucket.
type S3Store struct {
	client     *awsclient.S3Client
	bucket     string
	uploader   *manager.Uploader
	downloader *manager.Downloader
}

var _ Store = (*S3Store)(nil)

func NewS3(client *awsclient.S3Client, bucket string) *S3Store {
	return &S3Store{
		client:     client,
		bucket:     bucket,
		uploader:   manager.NewUploader(client.Client),
		downloader: manager.NewDownloader(client.Client),
	}
}

// IsNotFound reports whether err is an S3 missing-object error.
func IsNotFound(err error) bool {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound"
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	ctx, span := s.client.Tracer.Start(ctx, "objstore.Put",
		trace.WithAttributes(
			attribute.String("bucketID", s.bucket),
			attribute.String("objectID", key),
			attribute.Int("size", len(data)),
		),
	)
	defer span.End()

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(ContentType(key)),
		Metadata: map[string]string{
			"writer": "filerunner-go",
		},
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("upload %s: %w", s.URL(key), err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := s.client.Tracer.Start(ctx, "objstore.Get",
		trace.WithAttributes(
			attribute.String("bucketID", s.bucket),
			attribute.String("objectID", key),
		),
	)
	defer span.End()

	buf := manager.NewWriteAtBuffer(nil)
	_, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("%s: %w", s.URL(key), ErrNotFound)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("download %s: %w", s.URL(key), err)
	}
	return buf.Bytes(), nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	ctx, span := s.client.Tracer.Start(ctx, "objstore.Delete",
		trace.WithAttributes(
			attribute.String("bucketID", s.bucket),
			attribute.String("objectID", key),
		),
	)
	defer span.End()

	_, err := s.client.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", s.URL(key), err)
	}
	return nil
}

func (s *S3Store) URL(key string) string {
	return "s3://" + s.bucket + "/" + key
}

// S3Resolver opens, and caches, a Store per bucket on the shared client.
func S3Resolver(client *awsclient.S3Client) Resolver {
	var (
		mu     sync.Mutex
		stores = make(map[string]*S3Store)
	)
	return func(bucket string) Store {
		mu.Lock()
		defer mu.Unlock()
		s, ok := stores[bucket]
		if !ok {
			s = NewS3(client, bucket)
			stores[bucket] = s
		}
		return s
	}
}
