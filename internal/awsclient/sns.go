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

	"github.com/aws/aws-sdk-go-v2/service/sns"
)

type snsConfig struct {
	RoleARN string
	Region  string
}

// SNSOption is a functional option for GetSNS.
type SNSOption func(*snsConfig)

func WithSNSRole(roleARN string) SNSOption {
	return func(c *snsConfig) {
		c.RoleARN = roleARN
	}
}

func WithSNSRegion(region string) SNSOption {
	return func(c *snsConfig) {
		c.Region = region
	}
}

func (m *Manager) GetSNS(_ context.Context, opts ...SNSOption) (*sns.Client, error) {
	var nc snsConfig
	for _, o := range opts {
		o(&nc)
	}

	return sns.NewFromConfig(m.configFor(nc.Region, nc.RoleARN)), nil
}
