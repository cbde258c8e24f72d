// Package jobs defines the legacy tables that get migrated and how each of
// their rows maps to upload requests and an update.
package jobs

import (
	"fmt"
	"sort"
	"strings"

	"fs-converter/internal/converter"
	"fs-converter/internal/database"
	"fs-converter/internal/storage"
	"fs-converter/pkg/types"
)

// Schemas the jobs live in by default.
const (
	batchStorageDB  = "orienlink_batch_storage"
	shareDB         = "adhere_share"
	testProjectDB   = "adhere_testproject"
	signalMappingDB = "adhere_signal_mapping"
)

// All returns every job in run order.
func All(env converter.Env) []converter.Job {
	return []converter.Job{
		arrowJob(env),
		videoJob(env),
		programJob(env),
		parseFileJob(env),
		successFileJob(env),
		simulinkJob(env),
		viewJob(env),
	}
}

// Select returns the named jobs in run order. Unknown names are an error.
func Select(all []converter.Job, names []string) ([]converter.Job, error) {
	if len(names) == 0 {
		return all, nil
	}

	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	var selected []converter.Job
	for _, j := range all {
		if want[j.Name] {
			selected = append(selected, j)
			delete(want, j.Name)
		}
	}

	if len(want) > 0 {
		unknown := make([]string, 0, len(want))
		for n := range want {
			unknown = append(unknown, n)
		}
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown jobs: %s", strings.Join(unknown, ", "))
	}
	return selected, nil
}

// Configure applies the configured overrides and drops disabled jobs. An
// override naming an unknown job is an error.
func Configure(all []converter.Job, overrides []types.Job) ([]converter.Job, error) {
	byName := make(map[string]types.Job, len(overrides))
	for _, o := range overrides {
		byName[o.Name] = o
	}

	var configured []converter.Job
	for _, j := range all {
		o, ok := byName[j.Name]
		if !ok {
			configured = append(configured, j)
			continue
		}
		delete(byName, j.Name)

		if !o.IsEnabled() {
			continue
		}
		if o.Database != "" {
			j.Database = o.Database
		}
		configured = append(configured, j)
	}

	if len(byName) > 0 {
		unknown := make([]string, 0, len(byName))
		for n := range byName {
			unknown = append(unknown, n)
		}
		sort.Strings(unknown)
		return nil, fmt.Errorf("jobs configured but not registered: %s", strings.Join(unknown, ", "))
	}
	return configured, nil
}

// spaceOf returns the row's space column, or the default space when the
// column is NULL or absent.
func spaceOf(row database.Row, env converter.Env) int64 {
	if id, ok := row.Int64("space_id"); ok && id > 0 {
		return id
	}
	return env.DefaultSpaceID
}

// jsonPath reads the "path" member of a JSON file-info column.
func jsonPath(row database.Row, col string) (string, error) {
	var info struct {
		Path string `json:"path"`
	}
	if err := row.JSON(col, &info); err != nil {
		return "", converter.LackingInput("%v", err)
	}
	if strings.TrimSpace(info.Path) == "" {
		return "", converter.LackingInput("%s has no path", col)
	}
	return info.Path, nil
}

// setFileName assigns the backend's file name when it returned one.
func setFileName(u *converter.Update, col string, d storage.Descriptor) *converter.Update {
	if name := d.FileName(); name != "" {
		u.Set(col, name)
	}
	return u
}
