package converter

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Outcome is what happened to one source row.
type Outcome int

const (
	Migrated Outcome = iota
	SkippedLackingInput
	SkippedDownloadFailed
	SkippedUploadFailed
	SkippedDuplicate
)

var outcomeNames = map[Outcome]string{
	Migrated:              "Migrated",
	SkippedLackingInput:   "InputMissing",
	SkippedDownloadFailed: "DownloadFailed",
	SkippedUploadFailed:   "UploadFailed",
	SkippedDuplicate:      "Duplicate",
}

// String returns the failure category name used in the failure log.
func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// ErrLackingInput marks a row whose file reference is empty or malformed.
// Strategies wrap it with the reason.
var ErrLackingInput = errors.New("lacking input")

// FatalMigrationError marks an error that aborted a job and rolled back its
// transaction. The caller decides whether to continue with other jobs.
type FatalMigrationError struct {
	Job string
	Err error
}

func (e FatalMigrationError) Error() string { return fmt.Sprintf("job %s: %v", e.Job, e.Err) }
func (e FatalMigrationError) Unwrap() error { return e.Err }

// Summary counts outcomes for one job run.
type Summary struct {
	Job            string
	RunID          string
	Rows           int
	Units          int
	Counts         map[Outcome]int
	MirrorFailures int
	Committed      bool
	DryRun         bool
	Duration       time.Duration
}

func newSummary(job, runID string) *Summary {
	return &Summary{Job: job, RunID: runID, Counts: make(map[Outcome]int)}
}

func (s *Summary) add(o Outcome, n int) {
	s.Counts[o] += n
}

// Skipped is the number of rows left unmigrated.
func (s *Summary) Skipped() int {
	n := 0
	for o, c := range s.Counts {
		if o != Migrated {
			n += c
		}
	}
	return n
}

// String renders the one-line machine-friendly summary.
func (s *Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "job=%s rows=%d units=%d", s.Job, s.Rows, s.Units)
	for _, o := range []Outcome{Migrated, SkippedLackingInput, SkippedDownloadFailed, SkippedUploadFailed, SkippedDuplicate} {
		fmt.Fprintf(&b, " %s=%d", strings.ToLower(o.String()), s.Counts[o])
	}
	fmt.Fprintf(&b, " mirror_failed=%d committed=%t", s.MirrorFailures, s.Committed)
	if s.DryRun {
		b.WriteString(" dry_run=true")
	}
	fmt.Fprintf(&b, " duration=%s", s.Duration.Round(time.Millisecond))
	return b.String()
}
