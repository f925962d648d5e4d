// Package cli implements the command-line interface for aggregate-s3-logs.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/messa/aggregate-s3-logs/internal/config"
	"github.com/messa/aggregate-s3-logs/internal/logctx"
	"github.com/messa/aggregate-s3-logs/pkg/aggregate"
	"github.com/messa/aggregate-s3-logs/pkg/logging"
	"github.com/messa/aggregate-s3-logs/pkg/objectstore"
	"github.com/messa/aggregate-s3-logs/pkg/storageclass"
)

// openStoreFunc creates the object store a run works against.
type openStoreFunc func(ctx context.Context, cfg *config.Config) (objectstore.Store, error)

// Run executes the CLI with the given arguments. SIGINT and SIGTERM stop the
// run before its next group.
func Run(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, args, openS3Store)
}

func run(ctx context.Context, args []string, openStore openStoreFunc) error {
	root := newRootCmd(openStore)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCmd(openStore openStoreFunc) *cobra.Command {
	root := &cobra.Command{
		Use:           "aggregate-s3-logs",
		Short:         "Merge small S3 and CloudFront log objects into daily archives",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newAggregateCmd(openStore))
	return root
}

type aggregateFlags struct {
	configPath string
	verbose    bool
	human      bool
	logFile    string
	tempDir    string
	minAgeDays int
	force      bool
}

func newAggregateCmd(openStore openStoreFunc) *cobra.Command {
	var f aggregateFlags
	cmd := &cobra.Command{
		Use:   "aggregate s3://bucket/prefix/",
		Short: "Aggregate the log objects under a prefix",
		Long: "Groups log objects under the prefix by day (and CloudFront distribution),\n" +
			"concatenates each group into a gzip archive named <group>-aggregated-<hash>.gz\n" +
			"and deletes the originals. Without --force nothing is uploaded or deleted.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAggregate(cmd, args[0], f, openStore)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "TOML config file")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "log debug messages")
	fl.BoolVar(&f.human, "human", false, "human-readable log output")
	fl.StringVar(&f.logFile, "log-file", "", "also write debug logs to this file")
	fl.StringVar(&f.tempDir, "temp-dir", "", "directory for downloads and archives (default: a fresh temp dir)")
	fl.IntVar(&f.minAgeDays, "min-age-days", aggregate.DefaultMinAgeDays, "skip objects dated within this many days")
	fl.BoolVarP(&f.force, "force", "f", false, "upload archives and delete originals (default: dry run)")
	return cmd
}

func runAggregate(cmd *cobra.Command, url string, f aggregateFlags, openStore openStoreFunc) error {
	bucket, prefix, err := objectstore.ParseURL(url)
	if err != nil {
		return err
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg, f)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, closeLog, err := logging.Init(logging.Options{
		Verbose: cfg.Log.Verbose,
		Human:   cfg.Log.Human,
		File:    cfg.Log.File,
	})
	if err != nil {
		return err
	}
	defer closeLog()
	ctx := logctx.WithLogger(cmd.Context(), logger)

	tempDir, cleanup, err := prepareTempDir(cfg.Aggregate.TempDir)
	if err != nil {
		return err
	}
	defer cleanup()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	sum, err := aggregate.Run(ctx, store, aggregate.Options{
		Bucket:          bucket,
		Prefix:          prefix,
		TempDir:         tempDir,
		MinAgeDays:      cfg.Aggregate.MinAgeDays,
		GroupWorkers:    cfg.Aggregate.GroupWorkers,
		DownloadWorkers: cfg.Aggregate.DownloadWorkers,
		Force:           f.force,
	})
	if err != nil {
		return err
	}

	ev := logger.Info().
		Int("groups", sum.GroupsProcessed).
		Int("objects", sum.ObjectsAggregated).
		Str("written", humanize.IBytes(uint64(max(sum.BytesWritten, 0))))
	if f.force {
		ev.Msg("done")
	} else {
		ev.Msg("dry run done, use --force to upload archives and delete originals")
	}
	return nil
}

// applyFlags copies explicitly set flags over the loaded configuration.
func applyFlags(cmd *cobra.Command, cfg *config.Config, f aggregateFlags) {
	fl := cmd.Flags()
	if fl.Changed("verbose") {
		cfg.Log.Verbose = f.verbose
	}
	if fl.Changed("human") {
		cfg.Log.Human = f.human
	}
	if fl.Changed("log-file") {
		cfg.Log.File = f.logFile
	}
	if fl.Changed("temp-dir") {
		cfg.Aggregate.TempDir = f.tempDir
	}
	if fl.Changed("min-age-days") {
		cfg.Aggregate.MinAgeDays = f.minAgeDays
	}
}

// prepareTempDir returns dir, created if needed, or a new temp directory that
// cleanup removes.
func prepareTempDir(dir string) (string, func(), error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", nil, fmt.Errorf("create temp dir: %w", err)
		}
		return dir, func() {}, nil
	}
	dir, err := os.MkdirTemp("", "aggregate_s3_logs.")
	if err != nil {
		return "", nil, fmt.Errorf("create temp dir: %w", err)
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}

func openS3Store(ctx context.Context, cfg *config.Config) (objectstore.Store, error) {
	return objectstore.NewS3Store(ctx, objectstore.S3Config{
		Endpoint:               cfg.S3.Endpoint,
		Region:                 cfg.S3.Region,
		AccessKey:              cfg.S3.AccessKey,
		SecretKey:              cfg.S3.SecretKey,
		ForcePathStyle:         cfg.S3.ForcePathStyle,
		UploadStorageClass:     storageclass.Parse(cfg.S3.UploadStorageClass).String(),
		MaxConcurrentDownloads: cfg.Aggregate.MaxConcurrentDownloads,
		MaxConcurrentUploads:   cfg.Aggregate.MaxConcurrentUploads,
	})
}
