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

package idgen

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSonyFlakeGenerator_NextID(t *testing.T) {
	gen, err := newFlakeGenerator(nil, hostnameMachineID)
	require.NoError(t, err, "failed to create SonyFlakeGenerator")

	id := gen.NextID()
	id2 := gen.NextID()
	assert.Greater(t, id2, id, "NextID() did not return increasing id")
}

func TestSonyFlakeGenerator_NextBase32ID(t *testing.T) {
	gen, err := newFlakeGenerator(nil, hostnameMachineID)
	require.NoError(t, err, "failed to create SonyFlakeGenerator")

	id1 := gen.NextBase32ID()
	id2 := gen.NextBase32ID()

	assert.NotEqual(t, id1, id2, "NextBase32ID() returned duplicate IDs")
	assert.False(t, strings.Contains(id1, "="), "base32 ID should not contain padding")
	assert.Equal(t, strings.ToLower(id1), id1)
	assert.Len(t, id1, 13)
}

func TestWorkerID(t *testing.T) {
	a := WorkerID()
	b := WorkerID()
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "-")
}

func TestFlakeGeneratorFallsBackWhenMachineIDUnavailable(t *testing.T) {
	noPrivateIP := func() (uint16, error) { return 0, errors.New("no private ip address") }

	gen, err := newFlakeGenerator(noPrivateIP, hostnameMachineID)
	require.NoError(t, err)
	assert.NotZero(t, gen.NextID())

	_, err = newFlakeGenerator(noPrivateIP)
	require.ErrorContains(t, err, "no private ip address")
}

func TestHostnameMachineIDIsStable(t *testing.T) {
	a, err := hostnameMachineID()
	require.NoError(t, err)
	b, err := hostnameMachineID()
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
