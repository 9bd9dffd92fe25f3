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

package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const s3Body = `{
  "Records": [
    {
      "eventVersion": "2.1",
      "eventSource": "aws:s3",
      "eventTime": "2025-03-04T05:06:07.000Z",
      "eventName": "ObjectCreated:Put",
      "s3": {
        "bucket": {"name": "raw-data"},
        "object": {"key": "uploads/daily+sales%2C+march.csv", "size": 1234}
      }
    },
    {
      "eventTime": "2025-03-04T05:06:08.000Z",
      "eventName": "ObjectCreated:Put",
      "s3": {"bucket": {"name": "raw-data"}, "object": {"key": "uploads/notes.txt", "size": 1}}
    },
    {
      "eventTime": "2025-03-04T05:06:09.000Z",
      "eventName": "ObjectRemoved:Delete",
      "s3": {"bucket": {"name": "raw-data"}, "object": {"key": "uploads/gone.csv", "size": 0}}
    },
    {
      "eventTime": "2025-03-04T05:06:10.000Z",
      "eventName": "ObjectCreated:CompleteMultipartUpload",
      "s3": {"bucket": {"name": "raw-data"}, "object": {"key": "other/b.csv", "size": 2}}
    }
  ]
}`

func TestDecodeS3Event(t *testing.T) {
	d := NewDecoder(DefaultConfig())

	got, err := d.Decode([]byte(s3Body))
	require.NoError(t, err)
	require.Len(t, got, 1)

	ev := got[0]
	assert.Equal(t, "raw-data", ev.Bucket)
	assert.Equal(t, "uploads/daily sales, march.csv", ev.SourceKey)
	assert.Equal(t, int64(1234), ev.Size)
	assert.Equal(t, time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC), ev.EventTimestamp)
}

func TestDecodeSNSWrapped(t *testing.T) {
	envelope, err := json.Marshal(map[string]string{
		"Type":      "Notification",
		"MessageId": "abc",
		"TopicArn":  "arn:aws:sns:us-east-2:123456789012:uploads",
		"Message":   s3Body,
	})
	require.NoError(t, err)

	got, err := NewDecoder(DefaultConfig()).Decode(envelope)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "uploads/daily sales, march.csv", got[0].SourceKey)
}

func TestDecodeTestEvent(t *testing.T) {
	body := `{"Service":"Amazon S3","Event":"s3:TestEvent","Time":"2025-03-04T05:06:07.000Z","Bucket":"raw-data"}`
	got, err := NewDecoder(DefaultConfig()).Decode([]byte(body))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecodeErrors(t *testing.T) {
	d := NewDecoder(DefaultConfig())

	_, err := d.Decode([]byte("not json"))
	assert.Error(t, err)

	_, err = d.Decode([]byte(`{"hello":"world"}`))
	assert.ErrorIs(t, err, ErrUnrecognized)
}

func TestWatches(t *testing.T) {
	d := NewDecoder(Config{WatchPrefix: "uploads/", Suffix: ".csv"})
	assert.True(t, d.Watches("uploads/a.csv"))
	assert.True(t, d.Watches("uploads/nested/a.csv"))
	assert.False(t, d.Watches("uploads/"))
	assert.False(t, d.Watches("uploads/dir.csv/"))
	assert.False(t, d.Watches("processed/a.csv"))
	assert.False(t, d.Watches("uploads/a.json"))
}

func TestEncodeRoundTrip(t *testing.T) {
	at := time.Date(2025, 6, 7, 8, 9, 10, 0, time.UTC)
	body, err := EncodeS3Notification("raw-data", "uploads/with space+plus.csv", 42, at)
	require.NoError(t, err)

	got, err := NewDecoder(DefaultConfig()).Decode(body)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "uploads/with space+plus.csv", got[0].SourceKey)
	assert.Equal(t, "raw-data", got[0].Bucket)
	assert.Equal(t, int64(42), got[0].Size)
	assert.Equal(t, at, got[0].EventTimestamp)
}
