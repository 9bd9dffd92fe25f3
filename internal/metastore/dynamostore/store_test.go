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

package dynamostore

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/filerunner/internal/filerecord"
	"github.com/cardinalhq/filerunner/internal/metastore"
)

// fakeDynamo understands exactly the expressions Store emits.
type fakeDynamo struct {
	mu       sync.Mutex
	items    map[string]map[string]types.AttributeValue
	pageSize int
	queries  int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}, pageSize: 2}
}

func sval(av types.AttributeValue) string {
	if s, ok := av.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func nval(av types.AttributeValue) int64 {
	if n, ok := av.(*types.AttributeValueMemberN); ok {
		v, _ := strconv.ParseInt(n.Value, 10, 64)
		return v
	}
	return -1
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[sval(in.Key["fileId"])]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := sval(in.Item["fileId"])
	cur, exists := f.items[id]
	switch aws.ToString(in.ConditionExpression) {
	case condNotExists:
		if exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
		}
	case condMatches:
		if !exists ||
			sval(cur["status"]) != sval(in.ExpressionAttributeValues[":priorStatus"]) ||
			nval(cur["attemptCount"]) != nval(in.ExpressionAttributeValues[":priorAttempts"]) {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("mismatch")}
		}
	default:
		return nil, errors.New("unexpected condition expression")
	}
	f.items[id] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++

	if aws.ToString(in.KeyConditionExpression) != keyCondition {
		return nil, errors.New("unexpected key condition")
	}
	status := sval(in.ExpressionAttributeValues[":status"])
	lo := nval(in.ExpressionAttributeValues[":start"])
	hi := nval(in.ExpressionAttributeValues[":last"])

	var ids []string
	for id, item := range f.items {
		ts := nval(item["uploadTimestamp"])
		if sval(item["status"]) == status && ts >= lo && ts <= hi {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	if in.ExclusiveStartKey != nil {
		after := sval(in.ExclusiveStartKey["fileId"])
		idx := sort.SearchStrings(ids, after)
		if idx < len(ids) && ids[idx] == after {
			idx++
		}
		ids = ids[idx:]
	}

	out := &dynamodb.QueryOutput{}
	for i, id := range ids {
		if i == f.pageSize {
			out.LastEvaluatedKey = map[string]types.AttributeValue{"fileId": &types.AttributeValueMemberS{Value: ids[i-1]}}
			break
		}
		out.Items = append(out.Items, f.items[id])
	}
	return out, nil
}

func TestStoreRoundTripAndConditions(t *testing.T) {
	ctx := context.Background()
	store := New(newFakeDynamo(), "file-metadata", "status-index")

	now := time.Date(2025, 7, 4, 10, 0, 0, 0, time.UTC)
	rec := filerecord.NewPending(filerecord.ArrivalEvent{SourceKey: "uploads/a.csv", Size: 10}, now)

	_, err := store.Get(ctx, rec.FileID)
	require.ErrorIs(t, err, metastore.ErrNotFound)

	require.NoError(t, store.ConditionalPut(ctx, rec, metastore.MustNotExist()))
	require.ErrorIs(t, store.ConditionalPut(ctx, rec, metastore.MustNotExist()), metastore.ErrConditionFailed)

	claimed := rec
	claimed.Status = filerecord.StatusProcessing
	claimed.AttemptCount = 1
	claimed.WorkerID = "w1"
	require.NoError(t, store.ConditionalPut(ctx, claimed, metastore.Matches(rec)))
	require.ErrorIs(t, store.ConditionalPut(ctx, claimed, metastore.Matches(rec)), metastore.ErrConditionFailed)

	got, err := store.Get(ctx, rec.FileID)
	require.NoError(t, err)
	assert.Equal(t, claimed, got)
}

func TestStoreQueryPagesThroughIndex(t *testing.T) {
	ctx := context.Background()
	api := newFakeDynamo()
	store := New(api, "file-metadata", "status-index")

	start := time.Date(2025, 7, 4, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	for i, offset := range []time.Duration{0, time.Hour, 2 * time.Hour, 3 * time.Hour, 4 * time.Hour} {
		rec := filerecord.NewPending(filerecord.ArrivalEvent{SourceKey: "uploads/f" + strconv.Itoa(i) + ".csv"}, start.Add(offset))
		require.NoError(t, store.ConditionalPut(ctx, rec, metastore.MustNotExist()))
	}
	edge := filerecord.NewPending(filerecord.ArrivalEvent{SourceKey: "uploads/edge.csv"}, end)
	require.NoError(t, store.ConditionalPut(ctx, edge, metastore.MustNotExist()))

	got, err := store.QueryByStatusAndTimeRange(ctx, filerecord.StatusPending, start, end)
	require.NoError(t, err)
	assert.Len(t, got, 5)
	assert.Equal(t, 3, api.queries)

	got, err = store.QueryByStatusAndTimeRange(ctx, filerecord.StatusFailed, start, end)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStoreQueryEmptyWindow(t *testing.T) {
	api := newFakeDynamo()
	store := New(api, "t", "i")
	at := time.Now()

	got, err := store.QueryByStatusAndTimeRange(context.Background(), filerecord.StatusPending, at, at)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, api.queries)
}
