// Package aggregate compacts small log objects under one bucket prefix into
// one gzip archive per group.
//
// A run lists the prefix, partitions the listing into groups (see package
// grouping) and processes the groups on a bounded work queue. Each group is
// downloaded, concatenated into a gzip archive, hashed and, when Force is set,
// uploaded as <GroupKey>-aggregated-<hash7>.gz before its sources are deleted.
// Without Force the run only logs what it would change.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/messa/aggregate-s3-logs/internal/logctx"
	"github.com/messa/aggregate-s3-logs/pkg/diskspace"
	"github.com/messa/aggregate-s3-logs/pkg/grouping"
	"github.com/messa/aggregate-s3-logs/pkg/logging"
	"github.com/messa/aggregate-s3-logs/pkg/objectstore"
	"github.com/messa/aggregate-s3-logs/pkg/workqueue"
)

// Defaults applied by Run to zero-valued Options fields.
const (
	DefaultMinAgeDays      = 3
	DefaultGroupWorkers    = workqueue.DefaultWorkers
	DefaultDownloadWorkers = workqueue.DefaultWorkers
)

// Options configures one run.
type Options struct {
	// Bucket and Prefix select the objects to aggregate. Only keys directly
	// under Prefix are listed.
	Bucket string
	Prefix string

	// TempDir receives downloads and archives. It must exist.
	TempDir string

	// MinAgeDays keeps objects dated within that many days of today (UTC)
	// out of any group. Negative values are rejected.
	MinAgeDays int

	// GroupWorkers bounds the groups processed at once.
	GroupWorkers int
	// DownloadWorkers bounds the concurrent downloads within one group.
	DownloadWorkers int

	// Force uploads archives and deletes sources. Without it the run is a dry
	// run.
	Force bool

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

func (o *Options) applyDefaults() error {
	if o.Bucket == "" {
		return errors.New("bucket required")
	}
	if o.TempDir == "" {
		return errors.New("temp dir required")
	}
	if o.MinAgeDays < 0 {
		return fmt.Errorf("min age days must not be negative, got %d", o.MinAgeDays)
	}
	if o.GroupWorkers <= 0 {
		o.GroupWorkers = DefaultGroupWorkers
	}
	if o.DownloadWorkers <= 0 {
		o.DownloadWorkers = DefaultDownloadWorkers
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return nil
}

// ArchiveResult describes the archive produced for one group.
type ArchiveResult struct {
	GroupKey string
	// Key is the destination object key.
	Key string
	// SHA1 is the hex digest of the compressed archive.
	SHA1 string
	// Size is the compressed archive size in bytes.
	Size int64
	// Sources lists the member keys in archive order.
	Sources []string
	// Committed is true when the archive was uploaded and the sources deleted.
	Committed bool
}

// Summary reports what a run did.
type Summary struct {
	// Listing outcome.
	Listed       int
	Unrecognized int
	Aggregated   int
	TooFresh     int

	// GroupsFound counts eligible groups; GroupsArchived counts groups left
	// out because a member is in an archival storage class.
	GroupsFound    int
	GroupsArchived int

	// GroupsProcessed counts groups that produced an archive, GroupsSkipped
	// groups that were never processed because the run was stopped.
	GroupsProcessed int
	GroupsSkipped   int

	ObjectsAggregated int
	BytesWritten      int64

	// Archives lists the produced archives sorted by group key.
	Archives []ArchiveResult
}

// Run aggregates the objects selected by opts.
//
// The first group failure cancels the groups still running, drops the ones
// not yet started and is returned wrapped with its group key. A run stopped
// through ctx is not a failure: Run returns the summary so far and nil.
func Run(ctx context.Context, store objectstore.Store, opts Options) (Summary, error) {
	if err := opts.applyDefaults(); err != nil {
		return Summary{}, err
	}
	ctx = logctx.WithStr(ctx, "bucket", opts.Bucket)
	log := logctx.FromContext(ctx)
	start := time.Now()

	records, err := store.ListObjects(ctx, opts.Bucket, opts.Prefix, "/")
	if err != nil {
		if ctx.Err() != nil {
			log.Warn().Msg("stopped while listing")
			return Summary{}, nil
		}
		return Summary{}, fmt.Errorf("list s3://%s/%s: %w", opts.Bucket, opts.Prefix, err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })

	part := grouping.Partition(ctx, records, opts.Now(), opts.MinAgeDays)
	sum := Summary{
		Listed:         len(records),
		Unrecognized:   part.Unrecognized,
		Aggregated:     part.Aggregated,
		TooFresh:       part.TooFresh,
		GroupsFound:    len(part.Groups),
		GroupsArchived: len(part.Archived),
	}
	log.Debug().
		Int("listed", sum.Listed).
		Int("unrecognized", sum.Unrecognized).
		Int("aggregated", sum.Aggregated).
		Int("too_fresh", sum.TooFresh).
		Msg("listing classified")

	if len(part.Groups) == 0 {
		log.Info().Str("prefix", opts.Prefix).Msg("nothing to do")
		return sum, nil
	}
	log.Info().
		Int("groups", len(part.Groups)).
		Int("objects", part.ObjectCount()).
		Bool("force", opts.Force).
		Msg("aggregating")

	p := &processor{
		store:     store,
		opts:      opts,
		freeSpace: diskspace.Free,
		tracker:   logging.NewProgressTracker(int64(len(part.Groups)), log),
	}
	tasks := make([]workqueue.Task, len(part.Groups))
	for i, g := range part.Groups {
		g := g
		tasks[i] = func(ctx context.Context) error {
			return p.processGroup(ctx, g)
		}
	}
	runErr := workqueue.Run(ctx, opts.GroupWorkers, tasks)
	p.tracker.LogSummary()

	sum.Archives = p.results()
	for _, a := range sum.Archives {
		sum.ObjectsAggregated += len(a.Sources)
		sum.BytesWritten += a.Size
	}
	sum.GroupsProcessed = len(sum.Archives)
	sum.GroupsSkipped = sum.GroupsFound - sum.GroupsProcessed - int(p.tracker.Failed())

	log.Info().
		Int("processed", sum.GroupsProcessed).
		Int("skipped", sum.GroupsSkipped).
		Int("objects", sum.ObjectsAggregated).
		Dur("elapsed", time.Since(start)).
		Msg("run finished")

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) && ctx.Err() != nil {
			log.Warn().Msg("stopped before all groups were processed")
			return sum, nil
		}
		return sum, runErr
	}
	return sum, nil
}

// processor holds the state shared by the groups of one run.
type processor struct {
	store     objectstore.Store
	opts      Options
	freeSpace func(dir string) diskspace.Result
	tracker   *logging.ProgressTracker

	mu       sync.Mutex
	archives []ArchiveResult
}

func (p *processor) record(a ArchiveResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.archives = append(p.archives, a)
}

func (p *processor) results() []ArchiveResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := append([]ArchiveResult(nil), p.archives...)
	sort.Slice(out, func(i, j int) bool { return out[i].GroupKey < out[j].GroupKey })
	return out
}
