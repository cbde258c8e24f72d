package jobs

import (
	"strings"

	"fs-converter/internal/converter"
	"fs-converter/internal/database"
)

func videoJob(env converter.Env) converter.Job {
	return converter.Job{
		Name:          "video",
		Description:   "synchronised videos and their posters",
		Database:      batchStorageDB,
		Table:         "t_time_sequence_object",
		Query:         "SELECT id, poster_url, file_path, space_id FROM t_time_sequence_object",
		PendingColumn: "video_file_info",
		Columns:       []string{"poster_url", "file_path", "space_id", "post_file_info", "video_file_info"},
		Strategy:      videoStrategy{env: env},
	}
}

// videoStrategy migrates the video and, when present, its poster. Rows are
// also indexed for search, so the new descriptors are mirrored there.
type videoStrategy struct {
	env converter.Env
}

func (s videoStrategy) Artifacts(row database.Row) ([]converter.Artifact, error) {
	filePath := strings.TrimSpace(row.String("file_path"))
	if filePath == "" {
		return nil, converter.LackingInput("file_path is empty")
	}

	space := spaceOf(row, s.env)
	var artifacts []converter.Artifact

	if poster := strings.TrimSpace(row.String("poster_url")); poster != "" {
		artifacts = append(artifacts, converter.Artifact{
			Key:     "poster",
			URL:     s.env.LegacyURL(poster),
			Name:    converter.NameFromURL(poster),
			SpaceID: space,
			Folder:  "posters/sync",
		})
	}

	return append(artifacts, converter.Artifact{
		Key:     "video",
		URL:     s.env.LegacyURL(filePath),
		Name:    converter.NameFromURL(filePath),
		SpaceID: space,
		Folder:  "video/sync",
	}), nil
}

func (s videoStrategy) Update(_ database.Row, descs converter.Descriptors) *converter.Update {
	u := &converter.Update{}
	if descs.Has("poster") {
		u.SetDescriptor("post_file_info", descs["poster"])
	}
	return u.SetDescriptor("video_file_info", descs["video"])
}

func (s videoStrategy) MirrorFields(_ database.Row, descs converter.Descriptors) map[string]any {
	fields := map[string]any{"video_file_info": map[string]any(descs["video"])}
	if descs.Has("poster") {
		fields["post_file_info"] = map[string]any(descs["poster"])
	}
	return fields
}
