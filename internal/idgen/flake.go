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
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/sony/sonyflake"
)

var DefaultFlakeGenerator *SonyFlakeGenerator

func init() {
	var err error
	DefaultFlakeGenerator, err = newFlakeGenerator(nil, hostnameMachineID)
	if err != nil {
		panic(err)
	}
}

type SonyFlakeGenerator struct {
	sf *sonyflake.Sonyflake
}

// newFlakeGenerator tries each machine id source in order.  A nil source
// is sonyflake's default, the lower 16 bits of the private IPv4 address,
// which is missing in some sandboxes and on hosts with only public addresses.
func newFlakeGenerator(machineIDs ...func() (uint16, error)) (*SonyFlakeGenerator, error) {
	if len(machineIDs) == 0 {
		machineIDs = []func() (uint16, error){nil}
	}

	var errs []error
	for _, machineID := range machineIDs {
		sf, err := sonyflake.New(sonyflake.Settings{
			StartTime: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
			MachineID: machineID,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if sf == nil {
			errs = append(errs, errors.New("failed to create Sonyflake instance"))
			continue
		}
		return &SonyFlakeGenerator{sf: sf}, nil
	}
	return nil, fmt.Errorf("no usable sonyflake machine id: %w", errors.Join(errs...))
}

// hostnameMachineID folds a hash of the hostname into 16 bits.  Without a
// hostname it picks a random id for the life of the process.
func hostnameMachineID() (uint16, error) {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return uint16(rand.N(1 << 16)), nil
	}
	h := xxhash.Sum64String(host)
	return uint16(h ^ h>>16 ^ h>>32 ^ h>>48), nil
}

func (sf *SonyFlakeGenerator) NextID() int64 {
	v, err := sf.sf.NextID()
	if err != nil {
		return rand.Int64()
	}
	return int64(v)
}

var base32NoPad = base32.StdEncoding.WithPadding(base32.NoPadding)

// NextBase32ID is NextID as a short lowercase string.
func (sf *SonyFlakeGenerator) NextBase32ID() string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(sf.NextID()))
	return strings.ToLower(base32NoPad.EncodeToString(b[:]))
}

func NextBase32ID() string {
	return DefaultFlakeGenerator.NextBase32ID()
}

// WorkerID names this process in FileRecord claims: the host name plus a
// flake id so restarts on the same host are told apart.
func WorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + NextBase32ID()
}
