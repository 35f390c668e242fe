// Package shared holds the error taxonomy, logger construction and small helpers
// used across the services.
package shared

import (
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// NewLogger creates a [log.Logger] writing to w (default [os.Stderr]) with timestamps enabled.
func NewLogger(w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	return log.NewWithOptions(w, log.Options{ReportTimestamp: true, Prefix: "tciasync"})
}

// SetLogLevel parses a level name ("debug", "INFO", ...) and applies it. Unknown names keep the current level.
func SetLogLevel(l *log.Logger, level string) {
	if level == "" {
		return
	}
	if lvl, err := log.ParseLevel(strings.ToLower(level)); err == nil {
		l.SetLevel(lvl)
	}
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *log.Logger {
	return log.New(io.Discard)
}

// GenerateID generates a new v4 [uuid.UUID] as a string
func GenerateID() string {
	return uuid.New().String()
}

// GlobMatcher compiles a user filter where '*' matches any run of characters and
// '?' a single one. Matching is case-insensitive and unanchored. An empty
// pattern matches everything.
func GlobMatcher(pattern string) func(string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return func(string) bool { return true }
	}

	quoted := regexp.QuoteMeta(pattern)
	quoted = strings.ReplaceAll(quoted, `\*`, ".*")
	quoted = strings.ReplaceAll(quoted, `\?`, ".")

	re := regexp.MustCompile("(?i)" + quoted)
	return re.MatchString
}
