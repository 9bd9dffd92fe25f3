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

package filerecord

import (
	"fmt"
	"slices"
)

// Status is the processing state of a file.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusProcessing   Status = "PROCESSING"
	StatusSucceeded    Status = "SUCCEEDED"
	StatusFailed       Status = "FAILED"
	StatusDeadLettered Status = "DEAD_LETTERED"
)

// AllStatuses lists every status in state machine order.
var AllStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusSucceeded,
	StatusFailed,
	StatusDeadLettered,
}

// statusNone is the pseudo-status of a record that does not exist yet.
const statusNone Status = ""

var transitions = map[Status][]Status{
	statusNone:       {StatusPending},
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusSucceeded, StatusFailed},
	StatusFailed:     {StatusProcessing, StatusDeadLettered},
}

func (s Status) String() string {
	return string(s)
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return slices.Contains(AllStatuses, s)
}

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusDeadLettered
}

// CanTransition reports whether the state machine allows from -> to.
// An empty from means the record does not exist yet.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown file status %q", s)
	}
	return st, nil
}
