package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fs-converter/internal/database"
	"fs-converter/internal/failurelog"
	"fs-converter/internal/legacy"
	"fs-converter/internal/storage"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// fileStrategy migrates the first entry of a JSON url list into file_info.
type fileStrategy struct{}

func (fileStrategy) Artifacts(row database.Row) ([]Artifact, error) {
	var urls []string
	if err := row.JSON("urls", &urls); err != nil {
		return nil, LackingInput("urls: %v", err)
	}
	if len(urls) == 0 || urls[0] == "" {
		return nil, LackingInput("no url")
	}
	space, _ := row.Int64("space_id")
	return []Artifact{{Key: "file", URL: urls[0], Name: NameFromURL(urls[0]), SpaceID: space, Folder: "files"}}, nil
}

func (fileStrategy) Update(_ database.Row, descs Descriptors) *Update {
	return (&Update{}).SetDescriptor("file_info", descs["file"])
}

// mirroredStrategy also patches the search index.
type mirroredStrategy struct{ fileStrategy }

func (mirroredStrategy) MirrorFields(_ database.Row, descs Descriptors) map[string]any {
	return map[string]any{"file_name": descs["file"].FileName()}
}

// brokenStrategy writes a column that does not exist for row 2.
type brokenStrategy struct{ fileStrategy }

func (brokenStrategy) Update(row database.Row, descs Descriptors) *Update {
	col := "file_info"
	if id, _ := row.Int64("id"); id == 2 {
		col = "no_such_column"
	}
	return (&Update{}).SetDescriptor(col, descs["file"])
}

// posterVideoStrategy needs two files per row, poster first.
type posterVideoStrategy struct{}

func (posterVideoStrategy) Artifacts(row database.Row) ([]Artifact, error) {
	var urls []string
	if err := row.JSON("urls", &urls); err != nil || len(urls) != 2 {
		return nil, LackingInput("want poster and video urls")
	}
	return []Artifact{
		{Key: "poster", URL: urls[0], Name: NameFromURL(urls[0]), Folder: "posters"},
		{Key: "video", URL: urls[1], Name: NameFromURL(urls[1]), Folder: "video"},
	}, nil
}

func (posterVideoStrategy) Update(_ database.Row, descs Descriptors) *Update {
	return (&Update{}).SetDescriptor("file_info", descs["video"])
}

type mockResolver struct{ mock.Mock }

func (m *mockResolver) FetchByID(ctx context.Context, fileID int64, dest string) (string, error) {
	args := m.Called(ctx, fileID, dest)
	return args.String(0), args.Error(1)
}

func (m *mockResolver) FetchToDisk(ctx context.Context, url, dest string) error {
	args := m.Called(ctx, url, dest)
	return args.Error(0)
}

type mockUploader struct{ mock.Mock }

func (m *mockUploader) Upload(ctx context.Context, req storage.Request) (storage.Descriptor, error) {
	args := m.Called(ctx, req)
	d, _ := args.Get(0).(storage.Descriptor)
	return d, args.Error(1)
}

type fakeMirror struct {
	calls map[int64]map[string]any
	err   error
}

func (f *fakeMirror) UpdateDocument(_ context.Context, id int64, fields map[string]any) error {
	if f.calls == nil {
		f.calls = make(map[int64]map[string]any)
	}
	f.calls[id] = fields
	return f.err
}

type harness struct {
	db       *gorm.DB
	resolver *mockResolver
	uploader *mockUploader
	failures *bytes.Buffer
	out      *bytes.Buffer
	tmp      string
	fetched  []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Exec(`CREATE TABLE t_file (
		id INTEGER PRIMARY KEY,
		urls TEXT,
		space_id INTEGER,
		origin_id INTEGER,
		file_info TEXT
	)`).Error)

	return &harness{
		db:       db,
		resolver: &mockResolver{},
		uploader: &mockUploader{},
		failures: &bytes.Buffer{},
		out:      &bytes.Buffer{},
		tmp:      t.TempDir(),
	}
}

func (h *harness) insert(t *testing.T, stmt string) {
	t.Helper()
	require.NoError(t, h.db.Exec(stmt).Error)
}

// fetchWrites makes FetchToDisk create the destination file, as the real
// resolver does.
func (h *harness) fetchWrites(url string) *mock.Call {
	return h.resolver.On("FetchToDisk", mock.Anything, url, mock.Anything).Run(h.writeDest).Return(nil)
}

func (h *harness) writeDest(args mock.Arguments) {
	dest := args.String(2)
	h.fetched = append(h.fetched, dest)
	_ = os.MkdirAll(filepath.Dir(dest), 0o755)
	_ = os.WriteFile(dest, []byte("payload"), 0o644)
}

func (h *harness) pipeline(job Job, mirror Mirror, opts Options) *Pipeline {
	log := logrus.New()
	log.SetOutput(&bytes.Buffer{})
	opts.TmpDir = h.tmp
	opts.Out = h.out
	return New(job, Deps{
		DB:       h.db,
		Resolver: h.resolver,
		Uploader: h.uploader,
		Mirror:   mirror,
		Failures: failurelog.New(h.failures),
		Log:      logrus.NewEntry(log),
	}, opts)
}

func (h *harness) fileInfo(t *testing.T, id int) string {
	t.Helper()
	rows, err := database.Query(h.db, "SELECT file_info FROM t_file WHERE id = ?", id)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	return rows[0].String("file_info")
}

func fileJob() Job {
	return Job{
		Name:     "files",
		Table:    "t_file",
		Query:    "SELECT id, urls, space_id, origin_id FROM t_file ORDER BY id",
		Columns:  []string{"urls", "space_id", "file_info"},
		Strategy: fileStrategy{},
	}
}

func assertNoTempLeft(t *testing.T, h *harness) {
	t.Helper()
	for _, p := range h.fetched {
		_, err := os.Stat(filepath.Dir(p))
		assert.True(t, os.IsNotExist(err), "temp directory %s should be removed", filepath.Dir(p))
	}
}

func TestRun_MigratesRow(t *testing.T) {
	h := newHarness(t)
	h.insert(t, `INSERT INTO t_file (id, urls, space_id) VALUES (1, '["http://legacy/x/y/file.bin"]', 7)`)

	h.fetchWrites("http://legacy/x/y/file.bin")
	h.uploader.On("Upload", mock.Anything, mock.MatchedBy(func(r storage.Request) bool {
		return r.SpaceID == 7 && r.Name == "file.bin" && r.Folder == "files" && !r.Original
	})).Return(storage.Descriptor{"fileName": "file-abc.bin", "spaceId": 7}, nil).Once()

	summary, err := h.pipeline(fileJob(), nil, Options{RunID: "r1"}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Counts[Migrated])
	assert.Equal(t, 0, summary.Skipped())
	assert.True(t, summary.Committed)
	assert.JSONEq(t, `{"fileName":"file-abc.bin","spaceId":7}`, h.fileInfo(t, 1))

	require.Len(t, h.fetched, 1)
	assert.Equal(t, filepath.Join(h.tmp, "files_file", "1", "file.bin"), h.fetched[0])
	assertNoTempLeft(t, h)

	assert.Contains(t, h.out.String(), "PROGRESS job=files table=t_file status=started")
	assert.Contains(t, h.out.String(), "FINAL job=files rows=1 units=1 migrated=1")
	assert.Contains(t, h.out.String(), "exit=0")
	assert.Empty(t, h.failures.String())
	h.uploader.AssertExpectations(t)
}

func TestRun_EmptyURLsSkipsWithoutNetwork(t *testing.T) {
	h := newHarness(t)
	h.insert(t, `INSERT INTO t_file (id, urls, space_id) VALUES (1, '[]', 7), (2, NULL, 7)`)

	summary, err := h.pipeline(fileJob(), nil, Options{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Counts[SkippedLackingInput])
	h.resolver.AssertNotCalled(t, "FetchToDisk", mock.Anything, mock.Anything, mock.Anything)
	h.uploader.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything)
	assert.Empty(t, h.fileInfo(t, 1))

	lines := strings.Split(strings.TrimSpace(h.failures.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "ERROR")
	assert.Contains(t, lines[0], "id=1")
	assert.Contains(t, lines[0], "category=InputMissing")
}

func TestRun_DownloadFailureSkipsUpload(t *testing.T) {
	h := newHarness(t)
	h.insert(t, `INSERT INTO t_file (id, urls, space_id) VALUES (1, '["http://legacy/x/gone.bin"]', 7)`)

	h.resolver.On("FetchToDisk", mock.Anything, "http://legacy/x/gone.bin", mock.Anything).Run(func(args mock.Arguments) {
		// A failed fetch may leave its directory behind.
		dest := args.String(2)
		h.fetched = append(h.fetched, dest)
		_ = os.MkdirAll(filepath.Dir(dest), 0o755)
	}).Return(&legacy.DownloadError{URL: "http://legacy/x/gone.bin", StatusCode: 404})

	summary, err := h.pipeline(fileJob(), nil, Options{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Counts[SkippedDownloadFailed])
	h.uploader.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything)
	assert.Empty(t, h.fileInfo(t, 1))
	assertNoTempLeft(t, h)

	log := h.failures.String()
	assert.Equal(t, 1, strings.Count(log, "\n"))
	assert.Contains(t, log, "category=DownloadFailed")
	assert.Contains(t, log, "file_name=gone.bin")
	assert.Contains(t, log, "404")
}

func TestRun_UploadFailureSkipsUpdate(t *testing.T) {
	h := newHarness(t)
	h.insert(t, `INSERT INTO t_file (id, urls, space_id) VALUES
		(1, '["http://legacy/a.bin"]', 7),
		(2, '["http://legacy/b.bin"]', 7)`)

	h.fetchWrites("http://legacy/a.bin")
	h.fetchWrites("http://legacy/b.bin")
	h.uploader.On("Upload", mock.Anything, mock.MatchedBy(func(r storage.Request) bool { return r.Name == "a.bin" })).
		Return(nil, &storage.UploadError{StatusCode: 500, Body: "boom", Reason: "unexpected status"})
	h.uploader.On("Upload", mock.Anything, mock.MatchedBy(func(r storage.Request) bool { return r.Name == "b.bin" })).
		Return(storage.Descriptor{"fileName": "b-1.bin"}, nil)

	summary, err := h.pipeline(fileJob(), nil, Options{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Counts[SkippedUploadFailed])
	assert.Equal(t, 1, summary.Counts[Migrated])
	assert.Empty(t, h.fileInfo(t, 1), "failed upload leaves the row untouched")
	assert.JSONEq(t, `{"fileName":"b-1.bin"}`, h.fileInfo(t, 2))
	assertNoTempLeft(t, h)
	assert.Contains(t, h.failures.String(), "category=UploadFailed")
	assert.Contains(t, h.failures.String(), "boom")
}

func TestRun_ResolvesFileIDs(t *testing.T) {
	h := newHarness(t)
	h.insert(t, `INSERT INTO t_file (id, urls, space_id, origin_id) VALUES (1, NULL, 7, 40), (2, NULL, 7, 41)`)

	job := fileJob()
	job.Strategy = byIDStrategy{}

	h.resolver.On("FetchByID", mock.Anything, int64(40), mock.Anything).Run(h.writeDest).
		Return("http://legacy/originalData/2024/a.mf4", nil)
	h.resolver.On("FetchByID", mock.Anything, int64(41), mock.Anything).
		Return("", fmt.Errorf("file id 41: %w", legacy.ErrNotFound))
	h.uploader.On("Upload", mock.Anything, mock.MatchedBy(func(r storage.Request) bool {
		return r.Folder == "bucket/2024" && r.Original
	})).Return(storage.Descriptor{"fileName": "a-1.mf4"}, nil).Once()

	p := h.pipeline(job, nil, Options{Env: Env{ReadBucket: "bucket", StripPrefixes: []string{"http://legacy/originalData"}}})
	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Counts[Migrated])
	assert.Equal(t, 1, summary.Counts[SkippedDownloadFailed])
	assert.Contains(t, h.failures.String(), "secondary_id=41")
	assert.Contains(t, h.failures.String(), "not found in legacy store")
	h.uploader.AssertExpectations(t)
	h.resolver.AssertNotCalled(t, "FetchToDisk", mock.Anything, mock.Anything, mock.Anything)
	assertNoTempLeft(t, h)
}

type byIDStrategy struct{ fileStrategy }

func (byIDStrategy) Artifacts(row database.Row) ([]Artifact, error) {
	id, ok := row.Int64("origin_id")
	if !ok {
		return nil, LackingInput("no origin id")
	}
	return []Artifact{{Key: "file", FileID: id, Name: "a.mf4", FolderFromSource: true, Original: true}}, nil
}

func TestRun_GroupedRowsUpdateOnce(t *testing.T) {
	h := newHarness(t)
	h.insert(t, `INSERT INTO t_file (id, urls, space_id, origin_id) VALUES
		(1, '["http://legacy/g.bin"]', 7, 40),
		(2, '["http://legacy/g.bin"]', 7, 40),
		(3, '["http://legacy/g.bin"]', 7, 40),
		(4, '["http://legacy/h.bin"]', 7, NULL)`)

	job := fileJob()
	job.GroupColumn = "origin_id"
	job.OneRepresentativePerGroup = true

	h.fetchWrites("http://legacy/g.bin").Once()
	h.fetchWrites("http://legacy/h.bin").Once()
	h.uploader.On("Upload", mock.Anything, mock.Anything).Return(storage.Descriptor{"fileName": "x"}, nil).Twice()

	summary, err := h.pipeline(job, nil, Options{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Rows)
	assert.Equal(t, 2, summary.Units)
	assert.Equal(t, 2, summary.Counts[Migrated])
	assert.Equal(t, 2, summary.Counts[SkippedDuplicate])
	assert.NotEmpty(t, h.fileInfo(t, 1), "representative is migrated")
	assert.Empty(t, h.fileInfo(t, 2))
	assert.Empty(t, h.fileInfo(t, 3))
	assert.NotEmpty(t, h.fileInfo(t, 4), "rows without a group key stand alone")
	h.resolver.AssertExpectations(t)
	h.uploader.AssertExpectations(t)
	assertNoTempLeft(t, h)
}

func TestRun_GroupColumnWithoutFlagKeepsRows(t *testing.T) {
	h := newHarness(t)
	h.insert(t, `INSERT INTO t_file (id, urls, space_id, origin_id) VALUES
		(1, '["http://legacy/g.bin"]', 7, 40),
		(2, '["http://legacy/g.bin"]', 7, 40)`)

	job := fileJob()
	job.GroupColumn = "origin_id"

	h.fetchWrites("http://legacy/g.bin").Twice()
	h.uploader.On("Upload", mock.Anything, mock.Anything).Return(storage.Descriptor{"fileName": "x"}, nil).Twice()

	summary, err := h.pipeline(job, nil, Options{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Units)
	assert.Equal(t, 2, summary.Counts[Migrated])
	assert.Equal(t, 0, summary.Counts[SkippedDuplicate])
}

func TestRun_RepeatedKeyIsNotUpdatedTwice(t *testing.T) {
	h := newHarness(t)
	h.insert(t, `INSERT INTO t_file (id, urls, space_id) VALUES (1, '["http://legacy/a.bin"]', 7)`)

	job := fileJob()
	job.Query = "SELECT id, urls, space_id FROM t_file UNION ALL SELECT id, urls, space_id FROM t_file"

	h.fetchWrites("http://legacy/a.bin").Once()
	h.uploader.On("Upload", mock.Anything, mock.Anything).Return(storage.Descriptor{"fileName": "a-1.bin"}, nil).Once()

	summary, err := h.pipeline(job, nil, Options{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Counts[Migrated])
	assert.Equal(t, 1, summary.Counts[SkippedDuplicate])
	h.uploader.AssertExpectations(t)
	assert.Contains(t, h.failures.String(), "category=Duplicate")
}

func TestRun_RelationalFailureRollsBackEverything(t *testing.T) {
	h := newHarness(t)
	h.insert(t, `INSERT INTO t_file (id, urls, space_id) VALUES
		(1, '["http://legacy/a.bin"]', 7),
		(2, '["http://legacy/b.bin"]', 7),
		(3, '["http://legacy/c.bin"]', 7)`)

	job := fileJob()
	job.Strategy = brokenStrategy{}

	h.fetchWrites("http://legacy/a.bin")
	h.fetchWrites("http://legacy/b.bin")
	h.uploader.On("Upload", mock.Anything, mock.Anything).Return(storage.Descriptor{"fileName": "x"}, nil)

	summary, err := h.pipeline(job, nil, Options{}).Run(context.Background())
	require.Error(t, err)

	var fatal FatalMigrationError
	require.True(t, errors.As(err, &fatal))
	assert.Equal(t, "files", fatal.Job)
	assert.False(t, summary.Committed)

	assert.Empty(t, h.fileInfo(t, 1), "row 1 update rolled back")
	h.resolver.AssertNotCalled(t, "FetchToDisk", mock.Anything, "http://legacy/c.bin", mock.Anything)
	assertNoTempLeft(t, h)
	assert.Contains(t, h.failures.String(), "Exception occurred during conversion")
	assert.Contains(t, h.out.String(), "exit=1")
}

func TestRun_PreflightMissingColumn(t *testing.T) {
	h := newHarness(t)
	job := fileJob()
	job.Columns = append(job.Columns, "ol_file_info")

	_, err := h.pipeline(job, nil, Options{}).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing columns: ol_file_info")
	h.resolver.AssertNotCalled(t, "FetchToDisk", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_CancelledContextRollsBack(t *testing.T) {
	h := newHarness(t)
	h.insert(t, `INSERT INTO t_file (id, urls, space_id) VALUES (1, '["http://legacy/a.bin"]', 7)`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := h.pipeline(fileJob(), nil, Options{}).Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, summary.Committed)
	h.resolver.AssertNotCalled(t, "FetchToDisk", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_DryRunOnlyCounts(t *testing.T) {
	h := newHarness(t)
	h.insert(t, `INSERT INTO t_file (id, urls, space_id, file_info) VALUES
		(1, '["http://legacy/a.bin"]', 7, NULL),
		(2, '["http://legacy/b.bin"]', 7, '{"fileName":"done"}')`)

	job := fileJob()
	job.Query = "SELECT id, urls, space_id FROM t_file"
	job.PendingColumn = "file_info"

	summary, err := h.pipeline(job, nil, Options{DryRun: true, PendingOnly: true}).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, summary.DryRun)
	assert.Equal(t, 1, summary.Rows, "pending-only excludes migrated rows")
	assert.False(t, summary.Committed)
	h.resolver.AssertNotCalled(t, "FetchToDisk", mock.Anything, mock.Anything, mock.Anything)
	assert.Contains(t, h.out.String(), "dry_run=true")
}

func TestRun_MirrorFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.insert(t, `INSERT INTO t_file (id, urls, space_id) VALUES (5, '["http://legacy/v.mp4"]', 7)`)

	job := fileJob()
	job.Strategy = mirroredStrategy{}

	h.fetchWrites("http://legacy/v.mp4")
	h.uploader.On("Upload", mock.Anything, mock.Anything).Return(storage.Descriptor{"fileName": "v-1.mp4"}, nil)

	mirror := &fakeMirror{err: errors.New("index unavailable")}
	summary, err := h.pipeline(job, mirror, Options{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Counts[Migrated])
	assert.Equal(t, 1, summary.MirrorFailures)
	assert.True(t, summary.Committed)
	assert.Equal(t, map[string]any{"file_name": "v-1.mp4"}, mirror.calls[5])
	assert.NotEmpty(t, h.fileInfo(t, 5))
	assert.Contains(t, h.failures.String(), "WARNING")
	assert.Contains(t, h.failures.String(), "index unavailable")
}

func twoFileJob(t *testing.T, h *harness) Job {
	t.Helper()
	h.insert(t, `INSERT INTO t_file (id, urls, space_id) VALUES (1, '["http://legacy/p.jpg","http://legacy/v.mp4"]', 7)`)
	job := fileJob()
	job.Strategy = posterVideoStrategy{}
	return job
}

func assertTwoFileDirsGone(t *testing.T, h *harness) {
	t.Helper()
	for _, dir := range []string{"files_poster", "files_video"} {
		_, err := os.Stat(filepath.Join(h.tmp, dir, "1"))
		assert.True(t, os.IsNotExist(err), "%s/1 should be removed", dir)
	}
}

func TestRun_SecondUploadFailureLeavesRowUntouched(t *testing.T) {
	h := newHarness(t)
	job := twoFileJob(t, h)

	h.fetchWrites("http://legacy/p.jpg")
	h.fetchWrites("http://legacy/v.mp4")
	h.uploader.On("Upload", mock.Anything, mock.MatchedBy(func(r storage.Request) bool { return r.Name == "p.jpg" })).
		Return(storage.Descriptor{"fileName": "p-1.jpg"}, nil).Once()
	h.uploader.On("Upload", mock.Anything, mock.MatchedBy(func(r storage.Request) bool { return r.Name == "v.mp4" })).
		Return(nil, &storage.UploadError{StatusCode: 500, Body: "boom", Reason: "unexpected status"}).Once()

	summary, err := h.pipeline(job, nil, Options{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[Outcome]int{SkippedUploadFailed: 1}, summary.Counts)
	assert.Empty(t, h.fileInfo(t, 1))
	h.uploader.AssertExpectations(t)
	assertTwoFileDirsGone(t, h)
	assert.Contains(t, h.failures.String(), "file_name=v.mp4")
}

func TestRun_SecondDownloadFailureUploadsNothing(t *testing.T) {
	h := newHarness(t)
	job := twoFileJob(t, h)

	h.fetchWrites("http://legacy/p.jpg")
	h.resolver.On("FetchToDisk", mock.Anything, "http://legacy/v.mp4", mock.Anything).Run(func(args mock.Arguments) {
		dest := args.String(2)
		h.fetched = append(h.fetched, dest)
		_ = os.MkdirAll(filepath.Dir(dest), 0o755)
	}).Return(&legacy.DownloadError{URL: "http://legacy/v.mp4", StatusCode: 404})

	summary, err := h.pipeline(job, nil, Options{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[Outcome]int{SkippedDownloadFailed: 1}, summary.Counts)
	h.uploader.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything)
	assert.Empty(t, h.fileInfo(t, 1))
	require.Len(t, h.fetched, 2)
	assertNoTempLeft(t, h)
	assertTwoFileDirsGone(t, h)
}

type mirroredBrokenStrategy struct{ brokenStrategy }

func (mirroredBrokenStrategy) MirrorFields(_ database.Row, descs Descriptors) map[string]any {
	return map[string]any{"file_name": descs["file"].FileName()}
}

func TestRun_MirrorIsAheadOfRolledBackRows(t *testing.T) {
	h := newHarness(t)
	h.insert(t, `INSERT INTO t_file (id, urls, space_id) VALUES
		(1, '["http://legacy/a.bin"]', 7),
		(2, '["http://legacy/b.bin"]', 7)`)

	job := fileJob()
	job.Strategy = mirroredBrokenStrategy{}

	h.fetchWrites("http://legacy/a.bin")
	h.fetchWrites("http://legacy/b.bin")
	h.uploader.On("Upload", mock.Anything, mock.Anything).Return(storage.Descriptor{"fileName": "a-1.bin"}, nil)

	mirror := &fakeMirror{}
	_, err := h.pipeline(job, mirror, Options{}).Run(context.Background())
	require.Error(t, err)

	assert.Empty(t, h.fileInfo(t, 1), "row 1 rolled back")
	assert.Contains(t, mirror.calls, int64(1), "search patch is sent before commit and not undone")
	assert.NotContains(t, mirror.calls, int64(2))
}
