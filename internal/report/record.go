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

package report

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/cardinalhq/filerunner/internal/filerecord"
)

const hourFormat = "2006-01-02 15:00"

// ReportRecord is one generated report.  It is written once and never
// updated.
type ReportRecord struct {
	ReportID    string                    `json:"reportId" yaml:"reportId"`
	Environment string                    `json:"environment" yaml:"environment"`
	WindowStart time.Time                 `json:"windowStart" yaml:"windowStart"`
	WindowEnd   time.Time                 `json:"windowEnd" yaml:"windowEnd"`
	GeneratedAt time.Time                 `json:"generatedAt" yaml:"generatedAt"`
	ArtifactKey string                    `json:"artifactKey" yaml:"artifactKey"`
	HTMLKey     string                    `json:"htmlKey" yaml:"htmlKey"`
	Counts      map[filerecord.Status]int `json:"counts" yaml:"counts"`
	Summary     Summary                   `json:"summary" yaml:"summary"`
	Hourly      map[string]HourStat       `json:"hourlyBreakdown" yaml:"hourlyBreakdown"`
	Errors      []ErrorEntry              `json:"errors" yaml:"errors"`
	TopFiles    []FileEntry               `json:"topFiles" yaml:"topFiles"`
}

type Summary struct {
	TotalFiles         int     `json:"totalFiles" yaml:"totalFiles"`
	Succeeded          int     `json:"succeeded" yaml:"succeeded"`
	Failed             int     `json:"failed" yaml:"failed"`
	DeadLettered       int     `json:"deadLettered" yaml:"deadLettered"`
	InProgress         int     `json:"inProgress" yaml:"inProgress"`
	SuccessRate        float64 `json:"successRate" yaml:"successRate"`
	SuccessRatePercent float64 `json:"successRatePercent" yaml:"successRatePercent"`
	TotalRecords       int64   `json:"totalRecords" yaml:"totalRecords"`
	TotalSizeMB        float64 `json:"totalSizeMB" yaml:"totalSizeMB"`
}

type HourStat struct {
	Count        int `json:"count" yaml:"count"`
	Succeeded    int `json:"succeeded" yaml:"succeeded"`
	Failed       int `json:"failed" yaml:"failed"`
	DeadLettered int `json:"deadLettered" yaml:"deadLettered"`
}

type ErrorEntry struct {
	FileID    string            `json:"fileId" yaml:"fileId"`
	SourceKey string            `json:"sourceKey" yaml:"sourceKey"`
	Status    filerecord.Status `json:"status" yaml:"status"`
	Error     string            `json:"error" yaml:"error"`
	Attempts  int               `json:"attempts" yaml:"attempts"`
	UpdatedAt time.Time         `json:"updatedAt" yaml:"updatedAt"`
}

type FileEntry struct {
	SourceKey   string `json:"sourceKey" yaml:"sourceKey"`
	RecordCount int64  `json:"recordCount" yaml:"recordCount"`
}

// SuccessRate is SUCCEEDED over all finished outcomes, or 0 when nothing
// finished.
func SuccessRate(counts map[filerecord.Status]int) float64 {
	s := counts[filerecord.StatusSucceeded]
	done := s + counts[filerecord.StatusFailed] + counts[filerecord.StatusDeadLettered]
	if done == 0 {
		return 0
	}
	return float64(s) / float64(done)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Aggregate folds the records found for each status into a report body.
// Every status is present in Counts, zero or not.
func Aggregate(byStatus map[filerecord.Status][]filerecord.FileRecord, topN int) ReportRecord {
	rep := ReportRecord{
		Counts:   make(map[filerecord.Status]int, len(filerecord.AllStatuses)),
		Hourly:   map[string]HourStat{},
		Errors:   []ErrorEntry{},
		TopFiles: []FileEntry{},
	}

	var sizeBytes int64
	for _, status := range filerecord.AllStatuses {
		recs := byStatus[status]
		rep.Counts[status] = len(recs)

		for _, rec := range recs {
			sizeBytes += rec.FileSize
			rep.Summary.TotalRecords += rec.RecordCount

			hour := rec.UploadTime().Format(hourFormat)
			hs := rep.Hourly[hour]
			hs.Count++
			switch status {
			case filerecord.StatusSucceeded:
				hs.Succeeded++
				if rec.RecordCount > 0 {
					rep.TopFiles = append(rep.TopFiles, FileEntry{SourceKey: rec.SourceKey, RecordCount: rec.RecordCount})
				}
			case filerecord.StatusFailed, filerecord.StatusDeadLettered:
				if status == filerecord.StatusFailed {
					hs.Failed++
				} else {
					hs.DeadLettered++
				}
				if rec.LastError != "" {
					rep.Errors = append(rep.Errors, ErrorEntry{
						FileID:    rec.FileID,
						SourceKey: rec.SourceKey,
						Status:    status,
						Error:     rec.LastError,
						Attempts:  rec.AttemptCount,
						UpdatedAt: rec.UpdatedTime(),
					})
				}
			}
			rep.Hourly[hour] = hs
		}
	}

	slices.SortFunc(rep.Errors, func(a, b ErrorEntry) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.SourceKey, b.SourceKey)
	})
	slices.SortFunc(rep.TopFiles, func(a, b FileEntry) int {
		if c := cmp.Compare(b.RecordCount, a.RecordCount); c != 0 {
			return c
		}
		return cmp.Compare(a.SourceKey, b.SourceKey)
	})
	if topN > 0 {
		rep.Errors = rep.Errors[:min(topN, len(rep.Errors))]
		rep.TopFiles = rep.TopFiles[:min(topN, len(rep.TopFiles))]
	}

	rate := SuccessRate(rep.Counts)
	rep.Summary.Succeeded = rep.Counts[filerecord.StatusSucceeded]
	rep.Summary.Failed = rep.Counts[filerecord.StatusFailed]
	rep.Summary.DeadLettered = rep.Counts[filerecord.StatusDeadLettered]
	rep.Summary.InProgress = rep.Counts[filerecord.StatusPending] + rep.Counts[filerecord.StatusProcessing]
	for _, n := range rep.Counts {
		rep.Summary.TotalFiles += n
	}
	rep.Summary.SuccessRate = rate
	rep.Summary.SuccessRatePercent = round2(rate * 100)
	rep.Summary.TotalSizeMB = round2(float64(sizeBytes) / (1 << 20))
	return rep
}
