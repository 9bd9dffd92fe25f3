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
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"strings"
	"time"
)

//go:embed report.html.tmpl
var htmlSource string

var htmlTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"rfc3339": func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
}).Parse(htmlSource))

// RenderHTML renders the human-readable form of rep.
func RenderHTML(rep ReportRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, rep); err != nil {
		return nil, fmt.Errorf("render html report: %w", err)
	}
	return buf.Bytes(), nil
}

// Subject is the notification subject for a successful run.
func Subject(env string, generatedAt time.Time) string {
	return fmt.Sprintf("Daily Data Processing Report - %s - %s",
		strings.ToUpper(env), generatedAt.UTC().Format("2006-01-02"))
}

// ErrorSubject is the notification subject for a failed run.
func ErrorSubject(env string) string {
	return "ERROR: Daily Report Generation Failed - " + strings.ToUpper(env)
}

// Body is the plain-text notification for rep, whose artifacts live at
// jsonURL and htmlURL.
func Body(rep ReportRecord, jsonURL, htmlURL string) string {
	s := rep.Summary
	var b strings.Builder
	fmt.Fprintf(&b, "Daily Data Processing Report\n\n")
	fmt.Fprintf(&b, "Environment: %s\n", rep.Environment)
	fmt.Fprintf(&b, "Report ID: %s\n", rep.ReportID)
	fmt.Fprintf(&b, "Generated At: %s\n", rep.GeneratedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Window: %s to %s\n\n",
		rep.WindowStart.UTC().Format(time.RFC3339), rep.WindowEnd.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "SUMMARY\n=======\n")
	fmt.Fprintf(&b, "Total Files: %d\n", s.TotalFiles)
	fmt.Fprintf(&b, "Successful: %d\n", s.Succeeded)
	fmt.Fprintf(&b, "Failed: %d\n", s.Failed)
	fmt.Fprintf(&b, "Dead-lettered: %d\n", s.DeadLettered)
	fmt.Fprintf(&b, "In Progress: %d\n", s.InProgress)
	fmt.Fprintf(&b, "Success Rate: %.2f%%\n", s.SuccessRatePercent)
	fmt.Fprintf(&b, "Total Records: %d\n", s.TotalRecords)
	fmt.Fprintf(&b, "Total Data Size: %.2f MB\n\n", s.TotalSizeMB)
	fmt.Fprintf(&b, "Full report available at:\n%s\n\nHTML Report:\n%s\n", jsonURL, htmlURL)

	if bad := s.Failed + s.DeadLettered; bad > 0 {
		fmt.Fprintf(&b, "\nWARNING: %d files failed processing. Check the full report for details.\n", bad)
	}
	return b.String()
}

// ErrorBody is the notification text for a failed run.
func ErrorBody(env string, at time.Time, err error) string {
	return fmt.Sprintf("Report generation failed!\n\nEnvironment: %s\nTime: %s\n\nError Message:\n%v\n\nPlease investigate immediately.\n",
		env, at.UTC().Format(time.RFC3339), err)
}
