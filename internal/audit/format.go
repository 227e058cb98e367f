// Package audit formats audit records and fans them out to the configured
// outputs without blocking the decision path.
package audit

import (
	"fmt"
	"strings"

	"opguard/internal/domain"
)

// TimeLayout is sortable and matches the historical logs.txt lines.
const TimeLayout = "2006-01-02 15:04:05"

// Format renders rec as a single line without a trailing newline:
//
//	[2024-05-01 12:00:00] BLOCKED_CMD | source: Alice | command: /op Steve
func Format(rec domain.AuditRecord) string {
	return fmt.Sprintf("[%s] %s | source: %s | command: %s",
		rec.Timestamp.Format(TimeLayout), rec.Kind, oneLine(rec.Source), oneLine(rec.Command))
}

// oneLine keeps a record on one line of the audit file.
func oneLine(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return strings.NewReplacer("\r", `\r`, "\n", `\n`).Replace(s)
}
