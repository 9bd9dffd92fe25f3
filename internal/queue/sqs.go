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

package queue

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// maxSQSBatch is the service limit on MaxNumberOfMessages.
const maxSQSBatch = 10

// SQSAPI is the slice of the SQS client the queue uses.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

type SQSQueue struct {
	api               SQSAPI
	url               string
	waitTime          int32
	visibilityTimeout int32
}

var (
	_ Queue    = (*SQSQueue)(nil)
	_ Requeuer = (*SQSQueue)(nil)
)

func NewSQS(api SQSAPI, cfg Config) *SQSQueue {
	return &SQSQueue{
		api:               api,
		url:               cfg.URL,
		waitTime:          int32(cfg.WaitTime.Seconds()),
		visibilityTimeout: int32(cfg.VisibilityTimeout.Seconds()),
	}
}

func (q *SQSQueue) ReceiveBatch(ctx context.Context, max int) ([]Message, error) {
	max = min(max, maxSQSBatch)
	if max <= 0 {
		return nil, nil
	}

	result, err := q.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.url),
		MaxNumberOfMessages: int32(max),
		WaitTimeSeconds:     q.waitTime,
		VisibilityTimeout:   q.visibilityTimeout,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("receive from %s: %w", q.url, err)
	}

	out := make([]Message, 0, len(result.Messages))
	for _, m := range result.Messages {
		out = append(out, Message{
			ID:              aws.ToString(m.MessageId),
			Body:            []byte(aws.ToString(m.Body)),
			DeliveryAttempt: ReceiveCount(m.Attributes),
			ReceiptToken:    aws.ToString(m.ReceiptHandle),
		})
	}
	return out, nil
}

// ReceiveCount reads ApproximateReceiveCount from SQS message attributes,
// defaulting to 1.
func ReceiveCount(attrs map[string]string) int {
	n, err := strconv.Atoi(attrs[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func (q *SQSQueue) Ack(ctx context.Context, receiptToken string) error {
	_, err := q.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.url),
		ReceiptHandle: aws.String(receiptToken),
	})
	if err != nil {
		return fmt.Errorf("delete from %s: %w", q.url, err)
	}
	return nil
}

func (q *SQSQueue) Send(ctx context.Context, body []byte) error {
	_, err := q.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.url),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("send to %s: %w", q.url, err)
	}
	return nil
}
