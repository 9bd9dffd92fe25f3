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

package awsclient

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

type dynamoConfig struct {
	RoleARN      string
	Region       string
	applyDynamos []func(*dynamodb.Options)
}

// DynamoDBOption is a functional option for GetDynamoDB.
type DynamoDBOption func(*dynamoConfig)

func WithDynamoDBRole(roleARN string) DynamoDBOption {
	return func(c *dynamoConfig) {
		c.RoleARN = roleARN
	}
}

func WithDynamoDBRegion(region string) DynamoDBOption {
	return func(c *dynamoConfig) {
		c.Region = region
	}
}

// WithDynamoDBEndpoint targets DynamoDB Local or another compatible endpoint.
func WithDynamoDBEndpoint(url string) DynamoDBOption {
	return func(c *dynamoConfig) {
		c.applyDynamos = append(c.applyDynamos, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(url)
		})
	}
}

func (m *Manager) GetDynamoDB(_ context.Context, opts ...DynamoDBOption) (*dynamodb.Client, error) {
	var dc dynamoConfig
	for _, o := range opts {
		o(&dc)
	}

	cfg := m.configFor(dc.Region, dc.RoleARN)
	return dynamodb.NewFromConfig(cfg, dc.applyDynamos...), nil
}
