// Package converter migrates legacy file references of one table at a time:
// download from the legacy store, upload to the new storage service, rewrite
// the row. All updates of a job share one transaction; a row that cannot be
// migrated is logged and left untouched.
package converter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"fs-converter/internal/database"
	"fs-converter/internal/failurelog"
	"fs-converter/internal/storage"

	"github.com/briandowns/spinner"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// heartbeatUnits is how many units pass between PROGRESS lines.
const heartbeatUnits = 100

// Mirror patches a search document after its row was migrated. The patch is
// sent right after the row's UPDATE, before the job transaction commits, so a
// job that later rolls back leaves the search index ahead of the table.
type Mirror interface {
	UpdateDocument(ctx context.Context, id int64, fields map[string]any) error
}

// Deps are the collaborators a Pipeline drives.
type Deps struct {
	// DB is the job's own connection to Job.Database.
	DB       *gorm.DB
	Resolver Resolver
	Uploader storage.Uploader
	// Mirror is optional; only Mirrored strategies use it.
	Mirror   Mirror
	Failures *failurelog.Logger
	Log      *logrus.Entry
}

// Options configures a Pipeline.
type Options struct {
	Env         Env
	TmpDir      string
	RunID       string
	DryRun      bool
	PendingOnly bool
	// ShowProgress enables the spinner and progress bar on stderr.
	ShowProgress bool
	// Out receives PROGRESS and FINAL lines; nil discards them.
	Out io.Writer
}

// Pipeline runs one Job to completion.
type Pipeline struct {
	job     Job
	deps    Deps
	opts    Options
	log     *logrus.Entry
	out     io.Writer
	summary *Summary
}

// unit is what gets migrated in one step: a row, or the representative of a
// group of rows.
type unit struct {
	key      string
	keyValue any
	groupKey string
	ids      []string
	row      database.Row
	size     int
}

// New creates a Pipeline for job.
func New(job Job, deps Deps, opts Options) *Pipeline {
	log := deps.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("job", job.Name)

	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	if opts.TmpDir == "" {
		opts.TmpDir = "tmp"
	}
	if deps.Failures == nil {
		deps.Failures = failurelog.New(io.Discard)
	}

	return &Pipeline{job: job, deps: deps, opts: opts, log: log, out: out}
}

// Run migrates every selected row. A non-nil error is always a
// FatalMigrationError and means the job's transaction was rolled back.
// The summary is returned in both cases.
func (p *Pipeline) Run(ctx context.Context) (summary *Summary, err error) {
	start := time.Now()
	p.summary = newSummary(p.job.Name, p.opts.RunID)
	summary = p.summary
	defer func() {
		summary.Duration = time.Since(start)
		p.report(summary, err)
	}()

	if err := p.job.Validate(); err != nil {
		return summary, p.fatal(err)
	}

	if err := database.VerifyColumns(p.deps.DB, p.job.Table, p.requiredColumns()); err != nil {
		return summary, p.fatal(fmt.Errorf("preflight: %w", err))
	}

	fmt.Fprintf(p.out, "PROGRESS job=%s table=%s status=started\n", p.job.Name, p.job.Table)

	rows, err := p.loadRows()
	if err != nil {
		return summary, p.fatal(err)
	}
	units := p.buildUnits(rows)
	summary.Rows = len(rows)
	summary.Units = len(units)

	if p.opts.DryRun {
		summary.DryRun = true
		p.log.Infof("[DRY RUN] Would migrate %d units (%d rows) from %s.%s", len(units), len(rows), p.job.Database, p.job.Table)
		return summary, nil
	}

	if len(units) == 0 {
		p.log.Infof("No rows to migrate in %s", p.job.Table)
		return summary, nil
	}

	p.log.Infof("Migrating %d units (%d rows) from %s.%s", len(units), len(rows), p.job.Database, p.job.Table)

	tx := p.deps.DB.Begin()
	if tx.Error != nil {
		return summary, p.fatal(fmt.Errorf("failed to start transaction: %w", tx.Error))
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback().Error; rbErr != nil {
			p.log.Warnf("Rollback failed: %v", rbErr)
		} else {
			p.log.Warn("Transaction rolled back")
		}
	}()
	// Row updates are not echoed into the application log.
	tx = tx.Session(&gorm.Session{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})

	bar := newProgressBar(len(rows), p.job.Name, p.opts.ShowProgress)
	defer bar.Finish()

	seen := make(map[string]bool, len(units))
	for i, u := range units {
		if err := ctx.Err(); err != nil {
			return summary, p.fatal(fmt.Errorf("interrupted after %d of %d units: %w", i, len(units), err))
		}

		if seen[u.key] {
			p.skip(u, SkippedDuplicate, nil, fmt.Errorf("key %s already processed in this run", u.key))
			summary.add(SkippedDuplicate, u.size)
			bar.Add(u.size)
			continue
		}
		seen[u.key] = true

		outcome, err := p.processUnit(ctx, tx, u)
		if err != nil {
			return summary, p.fatal(err)
		}
		summary.add(outcome, 1)
		if u.size > 1 {
			summary.add(SkippedDuplicate, u.size-1)
		}
		bar.Add(u.size)

		if (i+1)%heartbeatUnits == 0 {
			fmt.Fprintf(p.out, "PROGRESS job=%s processed=%d total=%d migrated=%d skipped=%d\n",
				p.job.Name, i+1, len(units), summary.Counts[Migrated], summary.Skipped())
		}
	}

	if err := tx.Commit().Error; err != nil {
		return summary, p.fatal(fmt.Errorf("failed to commit transaction: %w", err))
	}
	committed = true
	summary.Committed = true

	return summary, nil
}

// processUnit runs download, upload, update and cleanup for one unit. The
// returned error is job-fatal; row-scoped failures come back as an Outcome.
func (p *Pipeline) processUnit(ctx context.Context, tx *gorm.DB, u unit) (Outcome, error) {
	artifacts, err := p.job.Strategy.Artifacts(u.row)
	if err == nil {
		err = validateArtifacts(artifacts)
	}
	if err != nil {
		p.skip(u, SkippedLackingInput, nil, err)
		return SkippedLackingInput, nil
	}

	var dirs []string
	defer func() { p.cleanup(dirs) }()

	paths := make([]string, len(artifacts))
	sources := make([]string, len(artifacts))
	for i := range artifacts {
		a := &artifacts[i]
		paths[i] = p.localPath(*a, u)
		dirs = append(dirs, filepath.Dir(paths[i]))

		src, err := p.fetch(ctx, *a, paths[i])
		if err != nil {
			p.skip(u, SkippedDownloadFailed, a, err)
			return SkippedDownloadFailed, nil
		}
		sources[i] = src
	}

	descs := make(Descriptors, len(artifacts))
	for i, a := range artifacts {
		folder := a.Folder
		if a.FolderFromSource {
			folder = p.opts.Env.RewriteFolder(sources[i])
		}

		desc, err := p.deps.Uploader.Upload(ctx, storage.Request{
			SpaceID:   a.SpaceID,
			LocalPath: paths[i],
			Name:      a.Name,
			Folder:    folder,
			Original:  a.Original,
		})
		if err != nil {
			p.skip(u, SkippedUploadFailed, &artifacts[i], err)
			return SkippedUploadFailed, nil
		}
		descs[a.Key] = desc
	}

	stmt, args, err := p.job.Strategy.Update(u.row, descs).Render(p.job.Table, p.job.Key(), u.keyValue)
	if err != nil {
		return 0, fmt.Errorf("failed to compose update for %s=%s: %w", p.job.Key(), u.key, err)
	}

	affected, err := database.Execute(tx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update %s %s=%s: %w", p.job.Table, p.job.Key(), u.key, err)
	}
	if affected == 0 {
		p.log.WithField("key", u.key).Debug("Update matched no changed rows")
	}

	p.mirror(ctx, u, descs)
	return Migrated, nil
}

// fetch downloads a to dest and returns the URL it was fetched from.
func (p *Pipeline) fetch(ctx context.Context, a Artifact, dest string) (string, error) {
	if a.URL == "" {
		return p.deps.Resolver.FetchByID(ctx, a.FileID, dest)
	}
	return a.URL, p.deps.Resolver.FetchToDisk(ctx, a.URL, dest)
}

func (p *Pipeline) mirror(ctx context.Context, u unit, descs Descriptors) {
	m, ok := p.job.Strategy.(Mirrored)
	if !ok || p.deps.Mirror == nil {
		return
	}
	fields := m.MirrorFields(u.row, descs)
	if len(fields) == 0 {
		return
	}

	id, ok := u.row.Int64(p.job.Key())
	if !ok {
		p.log.WithField("key", u.key).Warn("Search mirror skipped: key is not numeric")
		return
	}

	if err := p.deps.Mirror.UpdateDocument(ctx, id, fields); err != nil {
		p.summary.MirrorFailures++
		p.deps.Failures.Warn("search mirror update failed", logrus.Fields{"id": id, "error": err.Error()})
		p.log.WithError(err).WithField("key", u.key).Warn("Search mirror update failed")
	}
}

func (p *Pipeline) skip(u unit, outcome Outcome, a *Artifact, err error) {
	entry := failurelog.Entry{
		RowID:      strings.Join(u.ids, ","),
		Category:   outcome.String(),
		Message:    p.job.Name + " " + outcome.String(),
		Diagnostic: err.Error(),
	}
	if u.groupKey != "" {
		entry.SecondaryID = u.groupKey
	}
	if a != nil {
		entry.FileName = a.Name
		if a.FileID > 0 {
			entry.SecondaryID = a.FileID
		} else if a.URL != "" {
			entry.Diagnostic = a.URL + ": " + entry.Diagnostic
		}
	}
	p.deps.Failures.Record(entry)

	p.log.WithFields(logrus.Fields{
		"key":      u.key,
		"category": outcome.String(),
	}).Debug(err.Error())
}

// cleanup removes every temp directory created for a unit.
func (p *Pipeline) cleanup(dirs []string) {
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			p.log.WithError(err).Warnf("Failed to remove temp directory %s", dir)
		}
	}
}

func (p *Pipeline) fatal(err error) error {
	p.deps.Failures.Errorf("Exception occurred during conversion: %v", err)
	return FatalMigrationError{Job: p.job.Name, Err: err}
}

func (p *Pipeline) report(s *Summary, err error) {
	entry := p.log.WithFields(logrus.Fields{
		"rows":      s.Rows,
		"migrated":  s.Counts[Migrated],
		"skipped":   s.Skipped(),
		"committed": s.Committed,
		"duration":  s.Duration.Round(time.Millisecond),
	})
	if err != nil {
		entry.WithError(err).Error("Job aborted")
	} else {
		entry.Info("Job finished")
	}

	exit := 0
	if err != nil {
		exit = 1
	}
	fmt.Fprintf(p.out, "FINAL %s exit=%d\n", s.String(), exit)
}

func (p *Pipeline) loadRows() ([]database.Row, error) {
	if p.opts.ShowProgress && os.Getenv("NO_SPINNER") == "" {
		sp := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
		sp.Writer = os.Stderr
		sp.Suffix = fmt.Sprintf(" Loading %s", p.job.Table)
		sp.Start()
		defer sp.Stop()
	}

	rows, err := database.Query(p.deps.DB, p.job.SourceQuery(p.opts.PendingOnly))
	if err != nil {
		return nil, fmt.Errorf("failed to load rows from %s: %w", p.job.Table, err)
	}
	return rows, nil
}

// buildUnits turns rows into units. Unless OneRepresentativePerGroup is set
// every row is a unit. Otherwise rows sharing a group value collapse into a single unit whose
// representative is the first row seen; rows with an empty group value stay
// on their own.
func (p *Pipeline) buildUnits(rows []database.Row) []unit {
	keyCol := p.job.Key()
	units := make([]unit, 0, len(rows))

	if !p.job.OneRepresentativePerGroup {
		for _, r := range rows {
			key, value := rowKey(r, keyCol)
			units = append(units, unit{key: key, keyValue: value, ids: []string{key}, row: r, size: 1})
		}
		return units
	}

	index := make(map[string]int)
	for _, r := range rows {
		key, value := rowKey(r, keyCol)
		group := r.String(p.job.GroupColumn)
		if group == "" {
			units = append(units, unit{key: "row-" + key, keyValue: value, ids: []string{key}, row: r, size: 1})
			continue
		}
		if i, ok := index[group]; ok {
			units[i].ids = append(units[i].ids, key)
			units[i].size++
			continue
		}
		index[group] = len(units)
		units = append(units, unit{key: group, keyValue: value, groupKey: group, ids: []string{key}, row: r, size: 1})
	}
	return units
}

func (p *Pipeline) requiredColumns() []string {
	cols := []string{p.job.Key()}
	if p.job.OneRepresentativePerGroup {
		cols = append(cols, p.job.GroupColumn)
	}
	return append(cols, p.job.Columns...)
}

// localPath is <tmp>/<job>_<artifact>/<unit>/<name>. The unit directory is
// the one removed after processing.
func (p *Pipeline) localPath(a Artifact, u unit) string {
	return filepath.Join(p.opts.TmpDir, p.job.Name+"_"+a.Key, safeSegment(u.key), filepath.Base(a.Name))
}

func rowKey(r database.Row, col string) (string, any) {
	if n, ok := r.Int64(col); ok {
		return strconv.FormatInt(n, 10), n
	}
	s := r.String(col)
	return s, s
}

func validateArtifacts(artifacts []Artifact) error {
	for _, a := range artifacts {
		if a.Key == "" {
			return errors.New("artifact without key")
		}
		name := filepath.Base(strings.TrimSpace(a.Name))
		if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
			return LackingInput("%s: no usable file name in %q", a.Key, a.Name)
		}
		if a.URL == "" && a.FileID <= 0 {
			return LackingInput("%s: neither url nor file id", a.Key)
		}
	}
	return nil
}

func safeSegment(s string) string {
	s = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(s)
	if s == "" {
		return "_"
	}
	return s
}
