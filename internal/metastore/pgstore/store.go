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

// Package pgstore implements metastore.Store on PostgreSQL.  The
// compare-and-swap is a single UPDATE ... WHERE status = $prior.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cardinalhq/filerunner/internal/filerecord"
	"github.com/cardinalhq/filerunner/internal/metastore"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const recordColumns = `file_id, status, upload_timestamp, source_bucket, source_key,
  processed_key, attempt_count, last_error, file_size, record_count, updated_at, worker_id`

const getRecord = `SELECT ` + recordColumns + `
FROM file_records
WHERE file_id = $1`

const insertRecord = `INSERT INTO file_records (` + recordColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (file_id) DO NOTHING`

// upload_timestamp, source_bucket and source_key are deliberately absent: they are fixed
// at first observation.
const swapRecord = `UPDATE file_records SET
  status = $2,
  processed_key = $3,
  attempt_count = $4,
  last_error = $5,
  file_size = $6,
  record_count = $7,
  updated_at = $8,
  worker_id = $9
WHERE file_id = $1
  AND status = $10
  AND attempt_count = $11`

const queryByStatus = `SELECT ` + recordColumns + `
FROM file_records
WHERE status = $1
  AND upload_timestamp >= $2
  AND upload_timestamp < $3
ORDER BY upload_timestamp, file_id`

type Store struct {
	db DBTX
}

var _ metastore.Store = (*Store)(nil)

func New(db DBTX) *Store {
	return &Store{db: db}
}

func scanRecord(row pgx.Row) (filerecord.FileRecord, error) {
	var rec filerecord.FileRecord
	var status string
	err := row.Scan(
		&rec.FileID,
		&status,
		&rec.UploadTimestamp,
		&rec.SourceBucket,
		&rec.SourceKey,
		&rec.ProcessedKey,
		&rec.AttemptCount,
		&rec.LastError,
		&rec.FileSize,
		&rec.RecordCount,
		&rec.UpdatedAt,
		&rec.WorkerID,
	)
	if err != nil {
		return rec, err
	}
	rec.Status, err = filerecord.ParseStatus(status)
	return rec, err
}

func (s *Store) Get(ctx context.Context, fileID string) (filerecord.FileRecord, error) {
	rec, err := scanRecord(s.db.QueryRow(ctx, getRecord, fileID))
	if errors.Is(err, pgx.ErrNoRows) {
		return rec, metastore.ErrNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("get file record %s: %w", fileID, err)
	}
	return rec, nil
}

func (s *Store) ConditionalPut(ctx context.Context, rec filerecord.FileRecord, expect metastore.Precondition) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if expect.Exists {
		tag, err = s.db.Exec(ctx, swapRecord,
			rec.FileID,
			string(rec.Status),
			rec.ProcessedKey,
			rec.AttemptCount,
			rec.LastError,
			rec.FileSize,
			rec.RecordCount,
			rec.UpdatedAt,
			rec.WorkerID,
			string(expect.Status),
			expect.AttemptCount,
		)
	} else {
		tag, err = s.db.Exec(ctx, insertRecord,
			rec.FileID,
			string(rec.Status),
			rec.UploadTimestamp,
			rec.SourceBucket,
			rec.SourceKey,
			rec.ProcessedKey,
			rec.AttemptCount,
			rec.LastError,
			rec.FileSize,
			rec.RecordCount,
			rec.UpdatedAt,
			rec.WorkerID,
		)
	}
	if err != nil {
		return fmt.Errorf("put file record %s: %w", rec.FileID, err)
	}
	if tag.RowsAffected() == 0 {
		return metastore.ErrConditionFailed
	}
	return nil
}

func (s *Store) QueryByStatusAndTimeRange(ctx context.Context, status filerecord.Status, start, end time.Time) ([]filerecord.FileRecord, error) {
	rows, err := s.db.Query(ctx, queryByStatus, string(status), start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query %s records: %w", status, err)
	}
	defer rows.Close()

	var out []filerecord.FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s record: %w", status, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s records: %w", status, err)
	}
	return out, nil
}
