// Package storage uploads migrated files to the new object-storage service
// and returns the descriptor the service assigns to each upload.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// Request describes one file to upload.
type Request struct {
	// SpaceID is the tenant namespace in the storage service.
	SpaceID int64
	// LocalPath is the file on disk.
	LocalPath string
	// Name is the display name sent with the file.
	Name string
	// Folder is the destination folder hint.
	Folder string
	// Original routes the upload through the first-generation ingestion path.
	Original bool
}

// Uploader pushes one local file to the storage backend.
type Uploader interface {
	Upload(ctx context.Context, req Request) (Descriptor, error)
}

// Descriptor is the metadata record the backend returns for an upload. It is
// stored verbatim (JSON encoded) in the migrated row.
type Descriptor map[string]any

// FileName returns the stable name the backend assigned, or "".
func (d Descriptor) FileName() string {
	if v, ok := d["fileName"].(string); ok {
		return v
	}
	return ""
}

// JSON encodes the descriptor for a JSON text column.
func (d Descriptor) JSON() (string, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to encode descriptor: %w", err)
	}
	return string(b), nil
}

// UploadError is a rejected upload. Body carries the raw response for the
// failure log.
type UploadError struct {
	StatusCode int
	Body       string
	Reason     string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload failed (%s, status %d): %s", e.Reason, e.StatusCode, e.Body)
}
