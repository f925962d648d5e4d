package cli

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/messa/aggregate-s3-logs/internal/config"
	"github.com/messa/aggregate-s3-logs/pkg/objectstore"
)

// chdir changes the working directory for the duration of the test
// (stand-in for testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Errorf("restore working directory: %v", err)
		}
	})
}

func memOpener(store *objectstore.MemStore, got **config.Config) openStoreFunc {
	return func(_ context.Context, cfg *config.Config) (objectstore.Store, error) {
		if got != nil {
			*got = cfg
		}
		return store, nil
	}
}

func seed(store *objectstore.MemStore) {
	store.Put("prefix/2020-02-01-12-10-00-ABCD", []byte("Hello, World!\n"))
	store.Put("prefix/2020-02-01-12-20-00-CDEF", []byte("This file has no newline at the end"))
}

func TestRunNoArgs(t *testing.T) {
	chdir(t, t.TempDir())
	err := run(context.Background(), []string{"aggregate"}, memOpener(objectstore.NewMemStore("b"), nil))
	if err == nil {
		t.Fatal("expected error with no URL")
	}
	if !strings.Contains(err.Error(), "accepts 1 arg") {
		t.Errorf("expected arg count error, got: %v", err)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	err := run(context.Background(), []string{"unknown"}, memOpener(objectstore.NewMemStore("b"), nil))
	if err == nil {
		t.Fatal("expected error with unknown command")
	}
	if !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("expected 'unknown command' error, got: %v", err)
	}
}

func TestRunInvalidURL(t *testing.T) {
	chdir(t, t.TempDir())
	err := run(context.Background(), []string{"aggregate", "http://bucket/prefix"}, memOpener(objectstore.NewMemStore("b"), nil))
	if !errors.Is(err, objectstore.ErrInvalidURL) {
		t.Errorf("error = %v, want ErrInvalidURL", err)
	}
}

func TestRunDryRunByDefault(t *testing.T) {
	chdir(t, t.TempDir())
	store := objectstore.NewMemStore("logs")
	seed(store)
	before := store.Keys()

	err := run(context.Background(), []string{"aggregate", "s3://logs/prefix/"}, memOpener(store, nil))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := store.Keys(); strings.Join(got, ",") != strings.Join(before, ",") {
		t.Errorf("keys changed in dry run: %v", got)
	}
	if _, uploads, deletes := store.Counts(); uploads != 0 || deletes != 0 {
		t.Errorf("uploads/deletes = %d/%d, want 0/0", uploads, deletes)
	}
}

func TestRunForce(t *testing.T) {
	chdir(t, t.TempDir())
	store := objectstore.NewMemStore("logs")
	seed(store)
	tempDir := filepath.Join(t.TempDir(), "work")
	logFile := filepath.Join(t.TempDir(), "run.log")

	err := run(context.Background(), []string{
		"aggregate", "--force", "--temp-dir", tempDir, "--log-file", logFile, "-v",
		"s3://logs/prefix/",
	}, memOpener(store, nil))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	keys := store.Keys()
	if len(keys) != 1 || !strings.HasPrefix(keys[0], "prefix/2020-02-01-aggregated-") {
		t.Errorf("keys = %v, want one aggregated archive", keys)
	}

	entries, err := os.ReadDir(tempDir)
	if err != nil {
		t.Fatalf("read temp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("temp dir not cleaned: %d entries", len(entries))
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"group":"2020-02-01"`) {
		t.Errorf("log file has no group records: %s", data)
	}
}

func TestRunFlagsOverrideConfig(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	cfgPath := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(cfgPath, []byte("[aggregate]\nmin_age_days = 9\ngroup_workers = 3\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var got *config.Config
	err := run(context.Background(), []string{
		"aggregate", "--config", cfgPath, "--min-age-days", "1", "s3://logs/prefix/",
	}, memOpener(objectstore.NewMemStore("logs"), &got))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got.Aggregate.MinAgeDays != 1 {
		t.Errorf("MinAgeDays = %d, want 1 from flag", got.Aggregate.MinAgeDays)
	}
	if got.Aggregate.GroupWorkers != 3 {
		t.Errorf("GroupWorkers = %d, want 3 from config", got.Aggregate.GroupWorkers)
	}
}

func TestRunInvalidConfig(t *testing.T) {
	chdir(t, t.TempDir())
	err := run(context.Background(), []string{"aggregate", "--min-age-days", "-1", "s3://logs/prefix/"},
		memOpener(objectstore.NewMemStore("logs"), nil))
	if err == nil || !strings.Contains(err.Error(), "min_age_days") {
		t.Errorf("error = %v, want min_age_days validation error", err)
	}
}

func TestRunStoreError(t *testing.T) {
	chdir(t, t.TempDir())
	wantErr := errors.New("no credentials")
	err := run(context.Background(), []string{"aggregate", "s3://logs/prefix/"},
		func(context.Context, *config.Config) (objectstore.Store, error) { return nil, wantErr })
	if !errors.Is(err, wantErr) {
		t.Errorf("error = %v, want %v", err, wantErr)
	}
}

func TestPrepareTempDir(t *testing.T) {
	dir, cleanup, err := prepareTempDir("")
	if err != nil {
		t.Fatalf("prepareTempDir: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(dir), "aggregate_s3_logs.") {
		t.Errorf("dir = %s, want aggregate_s3_logs.* name", dir)
	}
	cleanup()
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("temp dir still exists after cleanup: %v", err)
	}

	keep := filepath.Join(t.TempDir(), "a", "b")
	got, cleanup, err := prepareTempDir(keep)
	if err != nil {
		t.Fatalf("prepareTempDir(%s): %v", keep, err)
	}
	cleanup()
	if got != keep {
		t.Errorf("dir = %s, want %s", got, keep)
	}
	if _, err := os.Stat(keep); err != nil {
		t.Errorf("explicit temp dir removed: %v", err)
	}
}
