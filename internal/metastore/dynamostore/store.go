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

// Package dynamostore implements metastore.Store on a DynamoDB table keyed
// by fileId with a global secondary index on (status, uploadTimestamp).
package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/cardinalhq/filerunner/internal/filerecord"
	"github.com/cardinalhq/filerunner/internal/metastore"
)

// API is the subset of the DynamoDB client used by Store.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

const (
	condNotExists = "attribute_not_exists(fileId)"
	condMatches   = "#status = :priorStatus AND attemptCount = :priorAttempts"
	keyCondition  = "#status = :status AND uploadTimestamp BETWEEN :start AND :last"
)

type Store struct {
	api   API
	table string
	index string
}

var _ metastore.Store = (*Store)(nil)

func New(api API, table, statusIndex string) *Store {
	return &Store{
		api:   api,
		table: table,
		index: statusIndex,
	}
}

func (s *Store) Get(ctx context.Context, fileID string) (filerecord.FileRecord, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            map[string]types.AttributeValue{"fileId": &types.AttributeValueMemberS{Value: fileID}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return filerecord.FileRecord{}, fmt.Errorf("get file record %s: %w", fileID, err)
	}
	if len(out.Item) == 0 {
		return filerecord.FileRecord{}, metastore.ErrNotFound
	}

	var rec filerecord.FileRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return filerecord.FileRecord{}, fmt.Errorf("decode file record %s: %w", fileID, err)
	}
	return rec, nil
}

func (s *Store) ConditionalPut(ctx context.Context, rec filerecord.FileRecord, expect metastore.Precondition) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("encode file record %s: %w", rec.FileID, err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}
	if expect.Exists {
		input.ConditionExpression = aws.String(condMatches)
		input.ExpressionAttributeNames = map[string]string{"#status": "status"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":priorStatus":   &types.AttributeValueMemberS{Value: string(expect.Status)},
			":priorAttempts": &types.AttributeValueMemberN{Value: strconv.Itoa(expect.AttemptCount)},
		}
	} else {
		input.ConditionExpression = aws.String(condNotExists)
	}

	if _, err := s.api.PutItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return metastore.ErrConditionFailed
		}
		return fmt.Errorf("put file record %s: %w", rec.FileID, err)
	}
	return nil
}

// QueryByStatusAndTimeRange pages through the status index.  DynamoDB has
// no exclusive upper bound on a sort key, so [start, end) becomes
// BETWEEN start AND end-1ms.
func (s *Store) QueryByStatusAndTimeRange(ctx context.Context, status filerecord.Status, start, end time.Time) ([]filerecord.FileRecord, error) {
	lo, hi := start.UnixMilli(), end.UnixMilli()-1
	if hi < lo {
		return nil, nil
	}

	paginator := dynamodb.NewQueryPaginator(s.api, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(s.index),
		KeyConditionExpression: aws.String(keyCondition),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(status)},
			":start":  &types.AttributeValueMemberN{Value: strconv.FormatInt(lo, 10)},
			":last":   &types.AttributeValueMemberN{Value: strconv.FormatInt(hi, 10)},
		},
	})

	var out []filerecord.FileRecord
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query %s records: %w", status, err)
		}
		var recs []filerecord.FileRecord
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &recs); err != nil {
			return nil, fmt.Errorf("decode %s records: %w", status, err)
		}
		out = append(out, recs...)
	}
	return out, nil
}
