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

package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSNS struct {
	in  *sns.PublishInput
	err error
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.in = in
	return &sns.PublishOutput{MessageId: aws.String("m-1")}, f.err
}

func TestSNSPublish(t *testing.T) {
	api := &fakeSNS{}
	n := NewSNS(api, "arn:aws:sns:us-east-2:123456789012:reports")

	require.NoError(t, n.Publish(context.Background(), Message{Subject: "Daily Report", Body: "all good"}))
	assert.Equal(t, "arn:aws:sns:us-east-2:123456789012:reports", aws.ToString(api.in.TopicArn))
	assert.Equal(t, "Daily Report", aws.ToString(api.in.Subject))
	assert.Equal(t, "all good", aws.ToString(api.in.Message))
}

func TestSNSPublishError(t *testing.T) {
	boom := errors.New("throttled")
	n := NewSNS(&fakeSNS{err: boom}, "arn")
	assert.ErrorIs(t, n.Publish(context.Background(), Message{Subject: "s"}), boom)
}

func TestSubjectSanitised(t *testing.T) {
	assert.Equal(t, "WARNING: two lines", subject("⚠️ WARNING:\ttwo\nlines"))
	assert.Equal(t, "a b", subject(" a\nb "))
	assert.Equal(t, "ok", subject("✓ok"))
	assert.Len(t, subject(strings.Repeat("x", 150)), 100)
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	require.NoError(t, r.Publish(context.Background(), Message{Subject: "a"}))
	r.Err = errors.New("down")
	assert.Error(t, r.Publish(context.Background(), Message{Subject: "b"}))
	assert.Equal(t, []Message{{Subject: "a"}}, r.Messages())
}

func TestLogPublish(t *testing.T) {
	assert.NoError(t, NewLog(nil).Publish(context.Background(), Message{Subject: "s", Body: "b"}))
}
