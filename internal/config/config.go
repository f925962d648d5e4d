// Package config holds the aggregate-s3-logs settings that are not passed on
// the command line: S3 connection details, pipeline tuning and log output.
package config

import (
	"fmt"
	"strings"

	"github.com/messa/aggregate-s3-logs/pkg/aggregate"
	"github.com/messa/aggregate-s3-logs/pkg/storageclass"
)

// Config is the root configuration.
type Config struct {
	S3        S3Config        `toml:"s3"`
	Aggregate AggregateConfig `toml:"aggregate"`
	Log       LogConfig       `toml:"log"`
}

// S3Config selects the object store. Empty credentials fall back to the AWS
// default credential chain.
type S3Config struct {
	Endpoint           string `toml:"endpoint"`
	Region             string `toml:"region"`
	AccessKey          string `toml:"access_key"`
	SecretKey          string `toml:"secret_key"`
	ForcePathStyle     bool   `toml:"force_path_style"`
	UploadStorageClass string `toml:"upload_storage_class"`
}

// AggregateConfig tunes the pipeline.
type AggregateConfig struct {
	MinAgeDays             int    `toml:"min_age_days"`
	GroupWorkers           int    `toml:"group_workers"`
	DownloadWorkers        int    `toml:"download_workers"`
	MaxConcurrentDownloads int    `toml:"max_concurrent_downloads"`
	MaxConcurrentUploads   int    `toml:"max_concurrent_uploads"`
	TempDir                string `toml:"temp_dir"`
}

// LogConfig selects log output.
type LogConfig struct {
	Verbose bool   `toml:"verbose"`
	Human   bool   `toml:"human"`
	File    string `toml:"file"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		S3: S3Config{
			UploadStorageClass: storageclass.StandardIA.String(),
		},
		Aggregate: AggregateConfig{
			MinAgeDays:             aggregate.DefaultMinAgeDays,
			GroupWorkers:           aggregate.DefaultGroupWorkers,
			DownloadWorkers:        aggregate.DefaultDownloadWorkers,
			MaxConcurrentDownloads: 16,
			MaxConcurrentUploads:   16,
		},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Aggregate.MinAgeDays < 0 {
		errs = append(errs, fmt.Sprintf("aggregate: min_age_days must not be negative, got %d", c.Aggregate.MinAgeDays))
	}
	positive := []struct {
		name string
		v    int
	}{
		{"group_workers", c.Aggregate.GroupWorkers},
		{"download_workers", c.Aggregate.DownloadWorkers},
		{"max_concurrent_downloads", c.Aggregate.MaxConcurrentDownloads},
		{"max_concurrent_uploads", c.Aggregate.MaxConcurrentUploads},
	}
	for _, p := range positive {
		if p.v <= 0 {
			errs = append(errs, fmt.Sprintf("aggregate: %s must be positive, got %d", p.name, p.v))
		}
	}

	if cls := storageclass.Parse(c.S3.UploadStorageClass); cls == storageclass.Other || cls.IsArchival() {
		errs = append(errs, fmt.Sprintf("s3: unsupported upload_storage_class %q", c.S3.UploadStorageClass))
	}
	if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
		errs = append(errs, "s3: access_key and secret_key must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
