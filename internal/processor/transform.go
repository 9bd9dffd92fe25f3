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

package processor

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// ValidationError marks input that can never be processed as is.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return "invalid input: " + e.Reason + ": " + e.Err.Error()
	}
	return "invalid input: " + e.Reason
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(reason string, err error) error {
	return &ValidationError{Reason: reason, Err: err}
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// Summary counts the rows of a transformed file.
type Summary struct {
	TotalRecords   int64 `json:"total_records"`
	ValidRecords   int64 `json:"valid_records"`
	InvalidRecords int64 `json:"invalid_records"`
}

// Document is the processed JSON output for one source file.
type Document struct {
	Summary            Summary             `json:"summary"`
	Records            []map[string]string `json:"records"`
	ProcessedTimestamp string              `json:"processed_timestamp"`
	SourceKey          string              `json:"source_key"`
	FileID             string              `json:"file_id"`
}

// TransformCSV validates a CSV file with a header row and turns each data
// row into a keyed record.  Rows whose fields are all blank are counted as
// invalid and dropped; any structural problem fails the whole file.
func TransformCSV(data []byte, fileID, sourceKey string, now time.Time) (Document, error) {
	doc := Document{
		Records:            []map[string]string{},
		ProcessedTimestamp: now.UTC().Format(time.RFC3339Nano),
		SourceKey:          sourceKey,
		FileID:             fileID,
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return doc, invalid("empty file", nil)
	}
	if !utf8.Valid(data) {
		return doc, invalid("file is not valid UTF-8", nil)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	reader := csv.NewReader(bytes.NewReader(data))
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return doc, invalid("unreadable header", err)
	}
	columns := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			return doc, invalid(fmt.Sprintf("header column %d is blank", i+1), nil)
		}
		if seen[name] {
			return doc, invalid(fmt.Sprintf("duplicate header column %q", name), nil)
		}
		seen[name] = true
		columns[i] = name
	}

	processedAt := doc.ProcessedTimestamp
	for rowIndex := 0; ; rowIndex++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return doc, invalid(fmt.Sprintf("row %d", rowIndex+1), err)
		}
		if len(row) != len(columns) {
			return doc, invalid(fmt.Sprintf("row %d has %d fields, header has %d", rowIndex+1, len(row), len(columns)), nil)
		}

		doc.Summary.TotalRecords++
		rec := make(map[string]string, len(columns)+2)
		blank := true
		for i, v := range row {
			v = strings.TrimSpace(v)
			if v != "" {
				blank = false
			}
			rec[columns[i]] = v
		}
		if blank {
			doc.Summary.InvalidRecords++
			continue
		}
		rec["row_id"] = fileID + ":" + strconv.Itoa(rowIndex)
		rec["processed_at"] = processedAt
		doc.Records = append(doc.Records, rec)
		doc.Summary.ValidRecords++
	}

	return doc, nil
}

// Marshal renders the document the way it is stored.
func (d Document) Marshal() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}
