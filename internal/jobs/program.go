package jobs

import (
	"strings"

	"fs-converter/internal/converter"
	"fs-converter/internal/database"
)

func programJob(env converter.Env) converter.Job {
	return converter.Job{
		Name:          "aml",
		Description:   "operator programs and their attachments",
		Database:      shareDB,
		Table:         "t_orienlink_program",
		Query:         "SELECT id, file_id, file_name, program_urls, space_id FROM t_orienlink_program",
		PendingColumn: "program_file_info",
		Columns: []string{
			"file_id", "file_name", "program_urls", "space_id",
			"program_file_info", "upload_file_info",
		},
		Strategy: programStrategy{env: env},
	}
}

// programStrategy uploads the first program URL and, when the row names one,
// the attachment stored by legacy file id.
type programStrategy struct {
	env converter.Env
}

func (s programStrategy) Artifacts(row database.Row) ([]converter.Artifact, error) {
	var urls []string
	if err := row.JSON("program_urls", &urls); err != nil {
		return nil, converter.LackingInput("%v", err)
	}
	if len(urls) == 0 || strings.TrimSpace(urls[0]) == "" {
		return nil, converter.LackingInput("program_urls is empty")
	}

	space := spaceOf(row, s.env)
	artifacts := []converter.Artifact{{
		Key:     "program",
		URL:     urls[0],
		Name:    converter.NameFromURL(urls[0]),
		SpaceID: space,
		Folder:  "operator",
	}}

	fileID, _ := row.Int64("file_id")
	if name := strings.TrimSpace(row.String("file_name")); fileID > 0 && name != "" {
		artifacts = append(artifacts, converter.Artifact{
			Key:     "attachment",
			FileID:  fileID,
			Name:    name,
			SpaceID: space,
			Folder:  "operator/attachment",
		})
	}
	return artifacts, nil
}

func (s programStrategy) Update(_ database.Row, descs converter.Descriptors) *converter.Update {
	u := (&converter.Update{}).SetDescriptor("program_file_info", descs["program"])
	if descs.Has("attachment") {
		u.SetDescriptor("upload_file_info", descs["attachment"])
	}
	return u
}
