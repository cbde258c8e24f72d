package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"fs-converter/pkg/types"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultLegacyDatabase = "adhere_mfs"
	defaultLookupTable    = "t_origin_file"
	defaultFailureLogDir  = "logs"
	defaultTmpDir         = "tmp"
	defaultHTTPTimeout    = 10 * time.Minute
	defaultConnectTimeout = 10 * time.Second
	defaultHeaderTimeout  = 30 * time.Second
	defaultSearchTimeout  = 5 * time.Second

	// BackendHTTP uploads through the storage service's multipart endpoints.
	BackendHTTP = "http"
	// BackendMinio writes objects straight into an S3-compatible bucket.
	BackendMinio = "minio"
)

// LoadConfig loads configuration from config.yaml file
func LoadConfig(configPath string) (*types.Config, error) {
	// If no path provided, use default
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	// Load .env if present without overwriting variables that are already set.
	if _, err := os.Stat(".env"); err == nil {
		if m, err := godotenv.Read(".env"); err == nil {
			for k, v := range m {
				if os.Getenv(k) == "" {
					os.Setenv(k, v)
				}
			}
		}
	}

	return Parse(data)
}

// Parse expands ${VAR} placeholders from the environment, decodes the YAML
// document, fills defaults and validates the result.
func Parse(data []byte) (*types.Config, error) {
	expanded := os.Expand(string(data), os.Getenv)

	var config types.Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func applyDefaults(config *types.Config) {
	if config.MySQL.Port == 0 {
		config.MySQL.Port = 3306
	}
	if config.FS.DefaultSpaceID == 0 {
		config.FS.DefaultSpaceID = 1
	}
	if config.Legacy.Database == "" {
		config.Legacy.Database = defaultLegacyDatabase
	}
	if config.Legacy.LookupTable == "" {
		config.Legacy.LookupTable = defaultLookupTable
	}
	if config.HTTP.Timeout == 0 {
		config.HTTP.Timeout = defaultHTTPTimeout
	}
	if config.HTTP.ConnectTimeout == 0 {
		config.HTTP.ConnectTimeout = defaultConnectTimeout
	}
	if config.HTTP.ResponseHeaderTimeout == 0 {
		config.HTTP.ResponseHeaderTimeout = defaultHeaderTimeout
	}
	config.Uploader.Backend = strings.ToLower(config.Uploader.Backend)
	if config.Uploader.Backend == "" {
		config.Uploader.Backend = BackendHTTP
	}
	if config.Search.Timeout == 0 {
		config.Search.Timeout = defaultSearchTimeout
	}
	if config.Processing.FailureLogDir == "" {
		config.Processing.FailureLogDir = defaultFailureLogDir
	}
	if config.Processing.TmpDir == "" {
		config.Processing.TmpDir = defaultTmpDir
	}
}

// validateConfig performs basic validation on the configuration
func validateConfig(config *types.Config) error {
	if config.MySQL.Host == "" {
		return fmt.Errorf("mysql.host is required")
	}

	if config.MySQL.User == "" {
		return fmt.Errorf("mysql.user is required")
	}

	switch config.Uploader.Backend {
	case BackendHTTP:
		if config.FS.UploadAPI == "" {
			return fmt.Errorf("fs.upload_api is required")
		}
		if config.FS.OriginalUploadAPI == "" {
			return fmt.Errorf("fs.original_upload_api is required")
		}
	case BackendMinio:
		m := config.Uploader.Minio
		if m.Endpoint == "" {
			return fmt.Errorf("uploader.minio.endpoint is required")
		}
		if m.Bucket == "" {
			return fmt.Errorf("uploader.minio.bucket is required")
		}
		if m.AccessKeyID == "" || m.SecretAccessKey == "" {
			return fmt.Errorf("uploader.minio credentials are required")
		}
	default:
		return fmt.Errorf("uploader.backend %q is not supported", config.Uploader.Backend)
	}

	if config.Legacy.RequestsPerSecond < 0 {
		return fmt.Errorf("legacy.requests_per_second must not be negative")
	}

	if config.Search.Enabled {
		if config.Search.Address == "" {
			return fmt.Errorf("search.address is required when search is enabled")
		}
		if config.Search.Collection == "" {
			return fmt.Errorf("search.collection is required when search is enabled")
		}
	}

	for i, job := range config.Jobs {
		if job.Name == "" {
			return fmt.Errorf("jobs[%d].name is required", i)
		}
	}

	return nil
}
