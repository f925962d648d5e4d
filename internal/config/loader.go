package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvPrefix starts the name of every environment override.
const EnvPrefix = "AGGREGATE_S3_LOGS_"

// Load merges the TOML file at path (skipped when path is empty) over the
// defaults, then applies AGGREGATE_S3_LOGS_* environment overrides. A .env
// file in the working directory is loaded first if present. The result is not
// validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("read config %s: unknown key %s", path, undecoded[0])
		}
	}

	// Missing .env is fine.
	_ = godotenv.Load()

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	var err error
	set := func(e error) {
		if err == nil {
			err = e
		}
	}

	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	set(setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE"))
	setStr(&cfg.S3.UploadStorageClass, "S3_UPLOAD_STORAGE_CLASS")

	set(setInt(&cfg.Aggregate.MinAgeDays, "MIN_AGE_DAYS"))
	set(setInt(&cfg.Aggregate.GroupWorkers, "GROUP_WORKERS"))
	set(setInt(&cfg.Aggregate.DownloadWorkers, "DOWNLOAD_WORKERS"))
	set(setInt(&cfg.Aggregate.MaxConcurrentDownloads, "MAX_CONCURRENT_DOWNLOADS"))
	set(setInt(&cfg.Aggregate.MaxConcurrentUploads, "MAX_CONCURRENT_UPLOADS"))
	setStr(&cfg.Aggregate.TempDir, "TEMP_DIR")

	set(setBool(&cfg.Log.Verbose, "VERBOSE"))
	set(setBool(&cfg.Log.Human, "LOG_HUMAN"))
	setStr(&cfg.Log.File, "LOG_FILE")

	return err
}

// Each helper only touches dst when the variable is set and non-empty.

func setStr(dst *string, name string) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*dst = v
	}
}

func setInt(dst *int, name string) error {
	v := os.Getenv(EnvPrefix + name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, name string) error {
	v := os.Getenv(EnvPrefix + name)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	*dst = b
	return nil
}
