package jobs

import (
	"path"

	"fs-converter/internal/converter"
	"fs-converter/internal/database"
)

func arrowJob(env converter.Env) converter.Job {
	return converter.Job{
		Name:          "arrow",
		Description:   "recorded source files and their arrow conversions",
		Database:      batchStorageDB,
		Table:         "t_arrow_file",
		Query:         "SELECT id, origin_file_info, arrow_file_info, space_id FROM t_arrow_file",
		PendingColumn: "ol_origin_file_info",
		Columns: []string{
			"origin_file_info", "arrow_file_info", "space_id",
			"origin_file_name", "ol_origin_file_info", "ol_arrow_file_info",
		},
		Strategy: arrowStrategy{env: env},
	}
}

// arrowStrategy uploads the source recording through the original path,
// keeping its legacy folder layout, and the optional arrow file under
// arrows/ next to it.
type arrowStrategy struct {
	env converter.Env
}

func (s arrowStrategy) Artifacts(row database.Row) ([]converter.Artifact, error) {
	originURL, err := jsonPath(row, "origin_file_info")
	if err != nil {
		return nil, err
	}

	space := spaceOf(row, s.env)
	originFolder := s.env.RewriteFolder(originURL)
	artifacts := []converter.Artifact{{
		Key:      "origin",
		URL:      originURL,
		Name:     converter.NameFromURL(originURL),
		SpaceID:  space,
		Folder:   originFolder,
		Original: true,
	}}

	if row.String("arrow_file_info") == "" {
		return artifacts, nil
	}

	arrowURL, err := jsonPath(row, "arrow_file_info")
	if err != nil {
		return nil, err
	}
	name := converter.QueryParam(arrowURL, "name")
	if name == "" {
		return nil, converter.LackingInput("arrow url %s has no name parameter", arrowURL)
	}

	return append(artifacts, converter.Artifact{
		Key:     "arrow",
		URL:     arrowURL,
		Name:    name,
		SpaceID: space,
		Folder:  path.Join("arrows", converter.ParentFolder(originFolder)),
	}), nil
}

func (s arrowStrategy) Update(_ database.Row, descs converter.Descriptors) *converter.Update {
	u := setFileName(&converter.Update{}, "origin_file_name", descs["origin"])
	u.SetDescriptor("ol_origin_file_info", descs["origin"])
	if descs.Has("arrow") {
		u.SetDescriptor("ol_arrow_file_info", descs["arrow"])
	}
	return u
}
