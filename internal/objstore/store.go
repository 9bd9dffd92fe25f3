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

// Package objstore is the object storage collaborator: raw uploads, processed
// output and report artifacts all go through a Store bound to one bucket.
package objstore

import (
	"context"
	"errors"
	"mime"
	"path"
)

var ErrNotFound = errors.New("objstore: object not found")

// Store is a flat key/bytes store bound to a single bucket.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error

	// Get returns ErrNotFound when the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	Delete(ctx context.Context, key string) error

	// URL is the human-facing location of key, used in notifications.
	URL(key string) string
}

// Config describes the buckets the pipeline reads and writes.
type Config struct {
	Region      string `mapstructure:"region"`
	Endpoint    string `mapstructure:"endpoint"`
	PathStyle   bool   `mapstructure:"path_style"`
	InsecureTLS bool   `mapstructure:"insecure_tls"`
	RoleARN     string `mapstructure:"role_arn"`

	RawBucket       string `mapstructure:"raw_bucket"`
	ProcessedBucket string `mapstructure:"processed_bucket"`
	ReportsBucket   string `mapstructure:"reports_bucket"`
}

func DefaultConfig() Config {
	return Config{}
}

// ContentType guesses the MIME type from the key's extension.
func ContentType(key string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Resolver maps a bucket named in an arrival event to its Store.
type Resolver func(bucket string) Store

// Fixed resolves every bucket to s.
func Fixed(s Store) Resolver {
	return func(string) Store { return s }
}
