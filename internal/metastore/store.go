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

// Package metastore holds the FileRecord table.  It is the only shared
// mutable state in the pipeline; workers coordinate exclusively through
// ConditionalPut.
package metastore

import (
	"context"
	"errors"
	"time"

	"github.com/cardinalhq/filerunner/internal/filerecord"
)

var (
	// ErrConditionFailed is returned by ConditionalPut when the stored record
	// no longer matches the caller's precondition.
	ErrConditionFailed = errors.New("metastore: condition failed")

	ErrNotFound = errors.New("metastore: record not found")
)

// Store is the metadata store contract.
type Store interface {
	Get(ctx context.Context, fileID string) (filerecord.FileRecord, error)

	// ConditionalPut writes rec only if the current record satisfies expect.
	ConditionalPut(ctx context.Context, rec filerecord.FileRecord, expect Precondition) error

	// QueryByStatusAndTimeRange returns records with the given status whose
	// upload timestamp falls in [start, end).
	QueryByStatusAndTimeRange(ctx context.Context, status filerecord.Status, start, end time.Time) ([]filerecord.FileRecord, error)
}

// Precondition is the compare half of a compare-and-swap.  The status is
// the swap guard; the attempt count is compared too so a writer holding an
// older FAILED snapshot cannot clobber a newer attempt cycle.
type Precondition struct {
	Exists       bool
	Status       filerecord.Status
	AttemptCount int
}

// MustNotExist matches only when no record is stored under the key.
func MustNotExist() Precondition {
	return Precondition{}
}

// Matches expects the stored record to still be the one the caller observed.
func Matches(observed filerecord.FileRecord) Precondition {
	return Precondition{
		Exists:       true,
		Status:       observed.Status,
		AttemptCount: observed.AttemptCount,
	}
}

// Holds evaluates the precondition against the current record, nil meaning
// absent.
func (p Precondition) Holds(current *filerecord.FileRecord) bool {
	if !p.Exists {
		return current == nil
	}
	if current == nil {
		return false
	}
	return current.Status == p.Status && current.AttemptCount == p.AttemptCount
}

// Config selects and configures the metadata store backend.
type Config struct {
	Backend     string `mapstructure:"backend"`
	Table       string `mapstructure:"table"`
	StatusIndex string `mapstructure:"status_index"`
	Region      string `mapstructure:"region"`
	Endpoint    string `mapstructure:"endpoint"`
	RoleARN     string `mapstructure:"role_arn"`
}

const (
	BackendDynamoDB = "dynamodb"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

func DefaultConfig() Config {
	return Config{
		Backend:     BackendDynamoDB,
		Table:       "file-metadata",
		StatusIndex: "status-uploadTimestamp-index",
	}
}
