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

import "time"

// ArrivalEvent says a source file exists.  It only lives in the queue; its
// effect is folded into a FileRecord on first observation.
type ArrivalEvent struct {
	Bucket          string
	SourceKey       string
	Size            int64
	EventTimestamp  time.Time
	DeliveryAttempt int
}

func (e ArrivalEvent) FileID() string {
	return FileID(e.SourceKey)
}
