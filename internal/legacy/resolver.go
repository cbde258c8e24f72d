// Package legacy reads files out of the legacy distributed file store. Files
// are addressed either directly by URL or by a numeric id that is looked up in
// the store's origin-file table.
package legacy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const (
	defaultLookupTable = "t_origin_file"
	copyBufferSize     = 32 * 1024
)

// ErrNotFound is returned by FetchByID when the id has no URL in the lookup table.
var ErrNotFound = errors.New("file not found in legacy store")

// DownloadError reports a non-200 answer from the legacy store.
type DownloadError struct {
	URL        string
	StatusCode int
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("failed to download %s: status %d", e.URL, e.StatusCode)
}

// Options tunes a Resolver.
type Options struct {
	// LookupTable maps file ids to URLs. Defaults to t_origin_file.
	LookupTable string

	// RequestsPerSecond throttles GETs against the legacy store; 0 disables it.
	RequestsPerSecond float64

	// CacheTTL keeps resolved id→URL pairs; 0 disables the cache.
	CacheTTL time.Duration
}

// Resolver resolves legacy file ids and streams legacy files to local disk.
type Resolver struct {
	db      *gorm.DB
	client  *http.Client
	table   string
	limiter *rate.Limiter
	urls    *cache.Cache
}

// NewResolver creates a Resolver. db is the connection to the legacy lookup
// schema; it may be nil when only URL-addressed jobs run.
func NewResolver(db *gorm.DB, client *http.Client, opts Options) *Resolver {
	r := &Resolver{
		db:     db,
		client: client,
		table:  opts.LookupTable,
	}
	if r.table == "" {
		r.table = defaultLookupTable
	}
	if r.client == nil {
		r.client = http.DefaultClient
	}
	if opts.RequestsPerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	if opts.CacheTTL > 0 {
		r.urls = cache.New(opts.CacheTTL, 2*opts.CacheTTL)
	}
	return r
}

// ResolveURL looks up the URL recorded for fileID. ok is false when the id is
// unknown, which is an ordinary outcome rather than an error.
func (r *Resolver) ResolveURL(ctx context.Context, fileID int64) (url string, ok bool, err error) {
	key := strconv.FormatInt(fileID, 10)
	if r.urls != nil {
		if v, found := r.urls.Get(key); found {
			return v.(string), true, nil
		}
	}

	if r.db == nil {
		return "", false, fmt.Errorf("legacy lookup database is not configured")
	}

	var urls []string
	query := fmt.Sprintf("SELECT url FROM `%s` WHERE id = ?", r.table)
	if err := r.db.WithContext(ctx).Raw(query, fileID).Scan(&urls).Error; err != nil {
		return "", false, fmt.Errorf("failed to look up file %d: %w", fileID, err)
	}

	if len(urls) == 0 || urls[0] == "" {
		return "", false, nil
	}

	if r.urls != nil {
		r.urls.SetDefault(key, urls[0])
	}
	return urls[0], true, nil
}

// FetchToDisk streams the body of url into dest, creating parent directories
// as needed. Anything but 200 is a *DownloadError. A partially written file is
// removed on failure.
func (r *Resolver) FetchToDisk(ctx context.Context, url, dest string) error {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("download throttled: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create GET request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		return &DownloadError{URL: url, StatusCode: resp.StatusCode}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}

	n, copyErr := io.CopyBuffer(f, resp.Body, make([]byte, copyBufferSize))
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(dest)
		if copyErr != nil {
			return fmt.Errorf("failed to write %s: %w", dest, copyErr)
		}
		return fmt.Errorf("failed to close %s: %w", dest, closeErr)
	}

	logrus.WithFields(logrus.Fields{"url": url, "bytes": n}).Debug("Downloaded legacy file")
	return nil
}

// FetchByID resolves fileID and downloads it to dest. An unknown id yields
// ErrNotFound. The resolved URL is returned so callers can derive paths from it.
func (r *Resolver) FetchByID(ctx context.Context, fileID int64, dest string) (string, error) {
	url, ok, err := r.ResolveURL(ctx, fileID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("file id %d: %w", fileID, ErrNotFound)
	}
	return url, r.FetchToDisk(ctx, url, dest)
}
