package identity

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/Septikai/obsidian-google-calendar-sync/pkg/event"
)

const extension = ".md"

var namePattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})(.*)$`)

// ParseName derives the date and summary of an event from a document name of the form
// "YYYY-MM-DD<optional title>.md". Names that do not follow the grammar, or carry an impossible date,
// are not events.
func ParseName(name string) (date string, summary string, ok bool) {
	base := strings.TrimSuffix(filepath.Base(name), extension)
	m := namePattern.FindStringSubmatch(base)
	if m == nil {
		return "", "", false
	}
	if _, err := time.Parse(event.DateLayout, m[1]); err != nil {
		return "", "", false
	}
	summary = strings.TrimSpace(m[2])
	if summary == "" {
		summary = event.Untitled
	}
	return m[1], summary, true
}

// FormatName is the inverse of ParseName for summaries that can be part of a file name.
func FormatName(date, summary string) string {
	return date + " " + summary + extension
}

// ValidSummary reports whether summary can be used in a document name.
func ValidSummary(summary string) bool {
	if strings.TrimSpace(summary) != summary || summary == "" {
		return false
	}
	return !strings.ContainsAny(summary, `/\:*?"<>|`+"\n\r\t")
}
