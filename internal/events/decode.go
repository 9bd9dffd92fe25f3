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

// Package events turns object storage notifications into arrival events.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/cardinalhq/filerunner/internal/filerecord"
)

const (
	s3TestEvent     = "s3:TestEvent"
	objectCreated   = "ObjectCreated"
	snsNotification = "Notification"
)

var ErrUnrecognized = errors.New("events: unrecognized notification body")

// Config is the watched location filter.
type Config struct {
	WatchPrefix string `mapstructure:"watch_prefix"`
	Suffix      string `mapstructure:"suffix"`
}

func DefaultConfig() Config {
	return Config{
		WatchPrefix: "uploads/",
		Suffix:      ".csv",
	}
}

// Decoder parses queue message bodies.
type Decoder struct {
	cfg Config
}

func NewDecoder(cfg Config) *Decoder {
	return &Decoder{cfg: cfg}
}

// Watches reports whether key falls under the watched prefix and suffix.
func (d *Decoder) Watches(key string) bool {
	if strings.HasSuffix(key, "/") {
		return false
	}
	return strings.HasPrefix(key, d.cfg.WatchPrefix) && strings.HasSuffix(key, d.cfg.Suffix)
}

// Decode returns the arrival events in body.  Test events and objects
// outside the watched location yield no events and no error.
func (d *Decoder) Decode(body []byte) ([]filerecord.ArrivalEvent, error) {
	var envelope struct {
		Type    string          `json:"Type"`
		Message string          `json:"Message"`
		Event   string          `json:"Event"`
		Records json.RawMessage `json:"Records"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}

	switch {
	case envelope.Type == snsNotification && envelope.Message != "":
		var entity events.SNSEntity
		if err := json.Unmarshal(body, &entity); err != nil {
			return nil, fmt.Errorf("decode SNS envelope: %w", err)
		}
		return d.Decode([]byte(entity.Message))
	case envelope.Event == s3TestEvent:
		slog.Debug("Ignoring S3 test event")
		return nil, nil
	case len(envelope.Records) == 0:
		return nil, ErrUnrecognized
	}

	var evt events.S3Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, fmt.Errorf("decode S3 event: %w", err)
	}

	out := make([]filerecord.ArrivalEvent, 0, len(evt.Records))
	for _, rec := range evt.Records {
		if !strings.HasPrefix(rec.EventName, objectCreated) {
			slog.Debug("Skipping non-create S3 event", slog.String("eventName", rec.EventName))
			continue
		}
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			slog.Error("Failed to unescape S3 key",
				slog.String("key", rec.S3.Object.Key),
				slog.Any("error", err))
			continue
		}
		if !d.Watches(key) {
			slog.Debug("Skipping object outside watched location", slog.String("key", key))
			continue
		}
		out = append(out, filerecord.ArrivalEvent{
			Bucket:         rec.S3.Bucket.Name,
			SourceKey:      key,
			Size:           rec.S3.Object.Size,
			EventTimestamp: rec.EventTime.UTC(),
		})
	}
	return out, nil
}

// EncodeS3Notification builds an S3 object-created notification body for
// key, in the same shape S3 delivers to the queue.
func EncodeS3Notification(bucket, key string, size int64, at time.Time) ([]byte, error) {
	evt := events.S3Event{
		Records: []events.S3EventRecord{
			{
				EventVersion: "2.1",
				EventSource:  "aws:s3",
				EventTime:    at.UTC(),
				EventName:    "ObjectCreated:Put",
				S3: events.S3Entity{
					Bucket: events.S3Bucket{Name: bucket},
					Object: events.S3Object{
						Key:  url.QueryEscape(key),
						Size: size,
					},
				},
			},
		},
	}
	return json.Marshal(evt)
}
