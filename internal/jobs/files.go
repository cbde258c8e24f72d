package jobs

import (
	"strings"

	"fs-converter/internal/converter"
	"fs-converter/internal/database"
)

// byIDStrategy covers the tables that reference one legacy file by id and
// store its descriptor next to the renamed file name. They all upload into
// the default space.
type byIDStrategy struct {
	env        converter.Env
	idColumn   string
	infoColumn string
	// folder is fixed unless fromSource is set, in which case the legacy
	// folder layout of the resolved URL is kept.
	folder     string
	fromSource bool
}

func (s byIDStrategy) Artifacts(row database.Row) ([]converter.Artifact, error) {
	id, ok := row.Int64(s.idColumn)
	if !ok || id <= 0 {
		return nil, converter.LackingInput("%s is empty", s.idColumn)
	}
	name := strings.TrimSpace(row.String("file_name"))
	if name == "" {
		return nil, converter.LackingInput("file_name is empty")
	}

	return []converter.Artifact{{
		Key:              "file",
		FileID:           id,
		Name:             name,
		SpaceID:          s.env.DefaultSpaceID,
		Folder:           s.folder,
		FolderFromSource: s.fromSource,
	}}, nil
}

func (s byIDStrategy) Update(_ database.Row, descs converter.Descriptors) *converter.Update {
	u := setFileName(&converter.Update{}, "file_name", descs["file"])
	return u.SetDescriptor(s.infoColumn, descs["file"])
}

func parseFileJob(env converter.Env) converter.Job {
	return converter.Job{
		Name:          "parse_file",
		Description:   "parsed test project files",
		Database:      testProjectDB,
		Table:         "t_parse_file",
		Query:         "SELECT id, file_name, file_source_id, md5 FROM t_parse_file",
		PendingColumn: "file_info",
		Columns:       []string{"file_name", "file_source_id", "file_info"},
		Strategy: byIDStrategy{
			env:        env,
			idColumn:   "file_source_id",
			infoColumn: "file_info",
			folder:     "parse_files",
		},
	}
}

// successFileJob groups rows by their origin file: every row of a group
// points at the same legacy file, which is migrated once through the first
// row of the group.
func successFileJob(env converter.Env) converter.Job {
	return converter.Job{
		Name:          "success_file",
		Description:   "successfully processed recordings, one upload per origin file",
		Database:      batchStorageDB,
		Table:         "t_success_file",
		Query:         "SELECT id, origin_file_id, file_name FROM t_success_file",
		PendingColumn: "origin_file_info",
		GroupColumn:   "origin_file_id",
		Columns:       []string{"file_name", "origin_file_info"},
		Strategy: byIDStrategy{
			env:        env,
			idColumn:   "origin_file_id",
			infoColumn: "origin_file_info",
			fromSource: true,
		},

		OneRepresentativePerGroup: true,
	}
}

func simulinkJob(env converter.Env) converter.Job {
	return converter.Job{
		Name:          "simulink",
		Description:   "simulink model files",
		Database:      signalMappingDB,
		Table:         "t_simulink_file_info",
		Query:         "SELECT id, file_id, file_name FROM t_simulink_file_info",
		PendingColumn: "simulink_file_info",
		Columns:       []string{"file_id", "file_name", "simulink_file_info"},
		Strategy: byIDStrategy{
			env:        env,
			idColumn:   "file_id",
			infoColumn: "simulink_file_info",
			folder:     "models",
		},
	}
}

func viewJob(env converter.Env) converter.Job {
	return converter.Job{
		Name:          "view",
		Description:   "data view templates",
		Database:      batchStorageDB,
		Table:         "t_node_tree",
		Query:         "SELECT id, template_url, space_id FROM t_node_tree",
		PendingColumn: "file_info",
		Columns:       []string{"template_url", "space_id", "file_info"},
		Strategy:      viewStrategy{env: env},
	}
}

type viewStrategy struct {
	env converter.Env
}

func (s viewStrategy) Artifacts(row database.Row) ([]converter.Artifact, error) {
	url := strings.TrimSpace(row.String("template_url"))
	if url == "" {
		return nil, converter.LackingInput("template_url is empty")
	}
	return []converter.Artifact{{
		Key:     "template",
		URL:     url,
		Name:    converter.NameFromURL(url),
		SpaceID: spaceOf(row, s.env),
		Folder:  "dataview",
	}}, nil
}

func (s viewStrategy) Update(_ database.Row, descs converter.Descriptors) *converter.Update {
	return (&converter.Update{}).SetDescriptor("file_info", descs["template"])
}
