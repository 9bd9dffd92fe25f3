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

package filerecord

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// fileIDNamespace seeds the name-based UUIDs used as file identifiers.
var fileIDNamespace = uuid.MustParse("6f1c2a52-3d0e-4a57-9a43-1d8c5e0b7f21")

// FileID derives the stable identifier for a storage key.  The same key
// always yields the same id, so redelivered events land on the same record.
func FileID(sourceKey string) string {
	return uuid.NewSHA1(fileIDNamespace, []byte(sourceKey)).String()
}

// FileRecord is the per-file processing entry held by the metadata store.
type FileRecord struct {
	FileID          string `json:"fileId" dynamodbav:"fileId" yaml:"fileId"`
	Status          Status `json:"status" dynamodbav:"status" yaml:"status"`
	UploadTimestamp int64  `json:"uploadTimestamp" dynamodbav:"uploadTimestamp" yaml:"uploadTimestamp"`
	SourceBucket    string `json:"sourceBucket,omitempty" dynamodbav:"sourceBucket,omitempty" yaml:"sourceBucket,omitempty"`
	SourceKey       string `json:"sourceKey" dynamodbav:"sourceKey" yaml:"sourceKey"`
	ProcessedKey    string `json:"processedKey,omitempty" dynamodbav:"processedKey,omitempty" yaml:"processedKey,omitempty"`
	AttemptCount    int    `json:"attemptCount" dynamodbav:"attemptCount" yaml:"attemptCount"`
	LastError       string `json:"lastError,omitempty" dynamodbav:"lastError,omitempty" yaml:"lastError,omitempty"`

	FileSize    int64  `json:"fileSize" dynamodbav:"fileSize" yaml:"fileSize"`
	RecordCount int64  `json:"recordCount" dynamodbav:"recordCount" yaml:"recordCount"`
	UpdatedAt   int64  `json:"updatedAt" dynamodbav:"updatedAt" yaml:"updatedAt"`
	WorkerID    string `json:"workerId,omitempty" dynamodbav:"workerId,omitempty" yaml:"workerId,omitempty"`
}

// NewPending builds the record for the first observation of an arrival event.
func NewPending(ev ArrivalEvent, now time.Time) FileRecord {
	return FileRecord{
		FileID:          ev.FileID(),
		Status:          StatusPending,
		UploadTimestamp: now.UnixMilli(),
		SourceBucket:    ev.Bucket,
		SourceKey:       ev.SourceKey,
		FileSize:        ev.Size,
		UpdatedAt:       now.UnixMilli(),
	}
}

func (r FileRecord) UploadTime() time.Time {
	return time.UnixMilli(r.UploadTimestamp).UTC()
}

func (r FileRecord) UpdatedTime() time.Time {
	return time.UnixMilli(r.UpdatedAt).UTC()
}

// Advance returns a copy of r moved to status to, stamped with now.  It
// refuses moves the state machine does not allow.
func (r FileRecord) Advance(to Status, now time.Time) (FileRecord, error) {
	if !CanTransition(r.Status, to) {
		return r, fmt.Errorf("file %s: illegal transition %s -> %s", r.FileID, r.Status, to)
	}
	next := r
	next.Status = to
	next.UpdatedAt = now.UnixMilli()
	return next, nil
}
