package types

import "time"

// Config represents the main configuration structure
type Config struct {
	Version    string     `yaml:"version"`
	MySQL      Database   `yaml:"mysql"`
	FS         FS         `yaml:"fs"`
	Legacy     Legacy     `yaml:"legacy"`
	HTTP       HTTP       `yaml:"http"`
	Uploader   Uploader   `yaml:"uploader"`
	Search     Search     `yaml:"search"`
	Processing Processing `yaml:"processing"`
	Jobs       []Job      `yaml:"jobs"`
}

// Database holds database connection configuration. The schema is chosen
// per job, so it is not part of this block.
type Database struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Params   string `yaml:"params"`
}

// FS holds the new object-storage service endpoints
type FS struct {
	UploadAPI         string `yaml:"upload_api"`
	OriginalUploadAPI string `yaml:"original_upload_api"`
	DefaultSpaceID    int64  `yaml:"default_space_id"`
	ReadBucket        string `yaml:"read_bucket"`
}

// Legacy holds settings for the legacy distributed file store
type Legacy struct {
	Database          string        `yaml:"database"`
	LookupTable       string        `yaml:"lookup_table"`
	GofastHost        string        `yaml:"gofast_host"`
	StripPrefixes     []string      `yaml:"strip_prefixes"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	LookupCacheTTL    time.Duration `yaml:"lookup_cache_ttl"`
}

// HTTP holds transport timeouts shared by the legacy fetcher and the uploader
type HTTP struct {
	Timeout               time.Duration `yaml:"timeout"`
	ConnectTimeout        time.Duration `yaml:"connect_timeout"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`
}

// Uploader selects the object-storage backend
type Uploader struct {
	Backend string `yaml:"backend"`
	Minio   Minio  `yaml:"minio"`
}

// Minio holds direct S3-compatible backend settings
type Minio struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Bucket          string `yaml:"bucket"`
	UseSSL          bool   `yaml:"use_ssl"`
	Region          string `yaml:"region"`
}

// Search holds the search index mirror settings
type Search struct {
	Enabled    bool          `yaml:"enabled"`
	Address    string        `yaml:"address"`
	Collection string        `yaml:"collection"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Processing holds processing configuration
type Processing struct {
	LogLevel        string `yaml:"log_level"`
	LogPath         string `yaml:"log_path"`
	FailureLogDir   string `yaml:"failure_log_dir"`
	TmpDir          string `yaml:"tmp_dir"`
	DryRun          bool   `yaml:"dry_run"`
	PendingOnly     bool   `yaml:"pending_only"`
	ContinueOnError bool   `yaml:"continue_on_error"`
}

// Job overrides the built-in settings of a registered job
type Job struct {
	Name     string `yaml:"name"`
	Enabled  *bool  `yaml:"enabled"`
	Database string `yaml:"database"`
}

// IsEnabled reports whether the job should run. Jobs are enabled unless
// explicitly switched off.
func (j Job) IsEnabled() bool {
	return j.Enabled == nil || *j.Enabled
}
