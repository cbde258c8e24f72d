package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"fs-converter/pkg/types"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// objectPutter is the part of *minio.Client the uploader needs.
type objectPutter interface {
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinioUploader writes files straight into an S3-compatible bucket, bypassing
// the storage service's HTTP endpoints. Objects land under
// <spaceId>/<folder>/<name>; originals get an extra "original" prefix.
type MinioUploader struct {
	client objectPutter
	bucket string
}

// NewMinioUploader connects to the endpoint in cfg.
func NewMinioUploader(cfg types.Minio) (*MinioUploader, error) {
	endpoint := cfg.Endpoint
	useSSL := cfg.UseSSL
	if u, err := url.Parse(cfg.Endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		if u.Scheme == "https" {
			useSSL = true
		}
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinioUploader{client: client, bucket: cfg.Bucket}, nil
}

// Upload stores req.LocalPath and returns a descriptor shaped like the one the
// HTTP service produces, plus the object's md5.
func (u *MinioUploader) Upload(ctx context.Context, req Request) (Descriptor, error) {
	sum, size, err := fileMD5(req.LocalPath)
	if err != nil {
		return nil, err
	}

	fileName := uniqueName(req.Name)
	parts := []string{strconv.FormatInt(req.SpaceID, 10)}
	if req.Original {
		parts = append(parts, "original")
	}
	parts = append(parts, strings.Trim(req.Folder, "/"), fileName)
	objectName := path.Join(parts...)

	contentType := mime.TypeByExtension(filepath.Ext(req.Name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	info, err := u.client.FPutObject(ctx, u.bucket, objectName, req.LocalPath, minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"original-name": req.Name,
		},
	})
	if err != nil {
		return nil, &UploadError{Reason: "put object", Body: err.Error()}
	}

	return Descriptor{
		"fileName":     fileName,
		"originalName": req.Name,
		"bucket":       info.Bucket,
		"path":         info.Key,
		"etag":         info.ETag,
		"size":         size,
		"md5":          sum,
		"spaceId":      req.SpaceID,
		"contentType":  contentType,
	}, nil
}

// uniqueName keeps the extension and appends a short random suffix so that
// repeated migrations of the same name never overwrite each other.
func uniqueName(name string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return base + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12] + ext
}

// fileMD5 hashes the file in chunks so large files are not loaded whole.
func fileMD5(p string) (string, int64, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open %s: %w", p, err)
	}
	defer f.Close()

	h := md5.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("failed to hash %s: %w", p, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
