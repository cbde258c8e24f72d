package converter

import (
	"context"
	"fmt"
	"strings"

	"fs-converter/internal/database"
	"fs-converter/internal/storage"
)

// Artifact is one legacy file a row needs migrated. It is addressed either by
// URL or, when URL is empty, by legacy FileID.
type Artifact struct {
	// Key names the artifact within its row ("program", "attachment"). It
	// keys the descriptor map and the temp directory.
	Key    string
	URL    string
	FileID int64
	// Name is the local file name and the display name sent on upload.
	Name    string
	SpaceID int64
	Folder  string
	// FolderFromSource derives Folder from the resolved source URL with
	// Env.RewriteFolder once the URL is known.
	FolderFromSource bool
	Original         bool
}

// Descriptors maps artifact keys to the descriptors their uploads produced.
type Descriptors map[string]storage.Descriptor

// Has reports whether the artifact key was uploaded.
func (d Descriptors) Has(key string) bool {
	_, ok := d[key]
	return ok
}

// Strategy holds the table-specific part of a job.
type Strategy interface {
	// Artifacts lists the files the row needs. An error wrapping
	// ErrLackingInput skips the row without any network call.
	Artifacts(row database.Row) ([]Artifact, error)

	// Update composes the row's SET clause from the uploaded descriptors.
	Update(row database.Row, descs Descriptors) *Update
}

// Mirrored is implemented by strategies whose rows are also indexed for
// search. The fields are patched after the row's update succeeds.
type Mirrored interface {
	MirrorFields(row database.Row, descs Descriptors) map[string]any
}

// Resolver materialises legacy files on local disk.
type Resolver interface {
	FetchToDisk(ctx context.Context, url, dest string) error
	// FetchByID resolves a legacy file id, downloads it and returns the URL
	// it was fetched from.
	FetchByID(ctx context.Context, fileID int64, dest string) (string, error)
}

// Job is one source table to migrate.
type Job struct {
	Name        string
	Description string
	// Database is the schema holding Table.
	Database string
	Table    string
	// KeyColumn is the primary key; defaults to "id".
	KeyColumn string
	// Query selects the rows to migrate.
	Query string
	// PendingColumn, when set, restricts the query to rows where it is NULL
	// if pending-only processing is requested.
	PendingColumn string
	// GroupColumn is the column rows are grouped by when
	// OneRepresentativePerGroup is set.
	GroupColumn string
	// OneRepresentativePerGroup migrates only the first row of each
	// GroupColumn group; the other rows of the group count as duplicates.
	OneRepresentativePerGroup bool
	// Columns lists every column the update may write. They are checked
	// before the job starts.
	Columns  []string
	Strategy Strategy
}

// Key returns the primary key column.
func (j Job) Key() string {
	if j.KeyColumn == "" {
		return "id"
	}
	return j.KeyColumn
}

// SourceQuery returns the select statement to run.
func (j Job) SourceQuery(pendingOnly bool) string {
	if !pendingOnly || j.PendingColumn == "" {
		return j.Query
	}
	q := strings.TrimRight(strings.TrimSpace(j.Query), ";")
	joiner := " WHERE "
	if strings.Contains(strings.ToUpper(q), " WHERE ") {
		joiner = " AND "
	}
	return q + joiner + quoteIdent(j.PendingColumn) + " IS NULL"
}

// Validate checks the static definition.
func (j Job) Validate() error {
	switch {
	case j.Name == "":
		return fmt.Errorf("job name is required")
	case j.Table == "":
		return fmt.Errorf("job %s: table is required", j.Name)
	case j.Query == "":
		return fmt.Errorf("job %s: query is required", j.Name)
	case j.Strategy == nil:
		return fmt.Errorf("job %s: strategy is required", j.Name)
	case j.OneRepresentativePerGroup && j.GroupColumn == "":
		return fmt.Errorf("job %s: group column is required for one representative per group", j.Name)
	}
	return nil
}

// LackingInput builds an error wrapping ErrLackingInput.
func LackingInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrLackingInput, fmt.Sprintf(format, args...))
}
