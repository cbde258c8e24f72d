// Package failurelog keeps the append-only per-job record of rows that could
// not be migrated, in enough detail to reprocess them by hand.
package failurelog

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

const timeLayout = "2006-01-02 15:04:05"

// keys printed first, in this order; anything else follows sorted, and the
// diagnostic always comes last because it can be long.
var leadingKeys = []string{"id", "secondary_id", "file_name", "category"}

// Entry is one skipped row or group.
type Entry struct {
	RowID       any
	SecondaryID any
	FileName    string
	Category    string
	Message     string
	Diagnostic  string
}

// Logger writes failure records for one job.
type Logger struct {
	log  *logrus.Logger
	file *os.File
	path string
}

// Open appends to <dir>/<job>_failure.log, creating the directory if needed.
func Open(dir, job string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create failure log directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, job+"_failure.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open failure log %s: %w", path, err)
	}

	l := New(f)
	l.file = f
	l.path = path
	return l, nil
}

// New writes failure records to w.
func New(w io.Writer) *Logger {
	log := logrus.New()
	log.SetOutput(w)
	log.SetLevel(logrus.WarnLevel)
	log.SetFormatter(&lineFormatter{})
	return &Logger{log: log}
}

// Path returns the file backing the log, or "" for writer-backed loggers.
func (l *Logger) Path() string { return l.path }

// Record writes an ERROR line for a skipped row.
func (l *Logger) Record(e Entry) {
	fields := logrus.Fields{"category": e.Category}
	if e.RowID != nil {
		fields["id"] = e.RowID
	}
	if e.SecondaryID != nil {
		fields["secondary_id"] = e.SecondaryID
	}
	if e.FileName != "" {
		fields["file_name"] = e.FileName
	}
	if e.Diagnostic != "" {
		fields["diagnostic"] = e.Diagnostic
	}
	msg := e.Message
	if msg == "" {
		msg = e.Category
	}
	l.log.WithFields(fields).Error(msg)
}

// Warn writes a WARNING line. Used for failures that do not skip a row.
func (l *Logger) Warn(msg string, fields logrus.Fields) {
	l.log.WithFields(fields).Warn(msg)
}

// Errorf writes a job-level ERROR line.
func (l *Logger) Errorf(format string, args ...any) {
	l.log.Errorf(format, args...)
}

// Close closes the underlying file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// lineFormatter renders "timestamp - LEVEL - message key=value ...".
type lineFormatter struct{}

func (f *lineFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(entry.Time.Format(timeLayout))
	b.WriteString(" - ")
	b.WriteString(strings.ToUpper(entry.Level.String()))
	b.WriteString(" - ")
	b.WriteString(entry.Message)

	for _, k := range orderedKeys(entry.Data) {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(quoteIfNeeded(fmt.Sprint(entry.Data[k])))
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func orderedKeys(data logrus.Fields) []string {
	keys := make([]string, 0, len(data))
	seen := make(map[string]bool, len(leadingKeys))
	for _, k := range leadingKeys {
		if _, ok := data[k]; ok {
			keys = append(keys, k)
			seen[k] = true
		}
	}

	var rest []string
	for k := range data {
		if !seen[k] && k != "diagnostic" {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	keys = append(keys, rest...)

	if _, ok := data["diagnostic"]; ok {
		keys = append(keys, "diagnostic")
	}
	return keys
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
