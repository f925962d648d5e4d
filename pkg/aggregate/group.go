package aggregate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/messa/aggregate-s3-logs/internal/logctx"
	"github.com/messa/aggregate-s3-logs/pkg/concat"
	"github.com/messa/aggregate-s3-logs/pkg/fileutil"
	"github.com/messa/aggregate-s3-logs/pkg/grouping"
	"github.com/messa/aggregate-s3-logs/pkg/workqueue"
)

// ArchiveContentType is the content type of uploaded archives.
const ArchiveContentType = "application/gzip"

// freeSpaceFactor is the multiple of a group's listed size that must be free
// in the temp dir: the downloads plus an archive of at most the same size.
const freeSpaceFactor = 2

var (
	// ErrDownloadPathExists is returned when a member's download path is
	// already taken in the temp dir.
	ErrDownloadPathExists = errors.New("download path already exists")

	// ErrInsufficientSpace is returned when the temp dir cannot hold a group.
	ErrInsufficientSpace = errors.New("insufficient free space in temp dir")
)

var tracer = otel.Tracer("github.com/messa/aggregate-s3-logs/pkg/aggregate")

// processGroup runs the pipeline for one group. It returns nil without side
// effects when ctx is done before the group starts or while it downloads.
func (p *processor) processGroup(ctx context.Context, g grouping.Group) (err error) {
	if ctx.Err() != nil {
		p.tracker.RecordSkip()
		return nil
	}

	ctx, span := tracer.Start(ctx, "aggregate.group")
	span.SetAttributes(
		attribute.String("group", g.Key),
		attribute.Int("members", len(g.Members)),
	)
	defer span.End()

	ctx = logctx.WithStr(ctx, "group", g.Key)
	log := logctx.FromContext(ctx)
	start := time.Now()

	defer func() {
		if err != nil {
			p.tracker.RecordFailure()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			err = fmt.Errorf("group %s: %w", g.Key, err)
		}
	}()

	sources, err := p.downloadPaths(g)
	if err != nil {
		return err
	}
	resultPath := filepath.Join(p.opts.TempDir, g.Key+"-"+uuid.NewString()+".gz")

	defer func() {
		paths := make([]string, 0, len(sources)+1)
		paths = append(paths, resultPath)
		for _, src := range sources {
			paths = append(paths, src.Path)
		}
		if rmErr := fileutil.RemoveAll(paths...); rmErr != nil {
			log.Warn().Err(rmErr).Msg("failed to remove temp files")
		}
	}()

	if err := p.checkFreeSpace(g.TotalSize()); err != nil {
		return err
	}

	log.Debug().
		Int("members", len(g.Members)).
		Str("size", humanize.IBytes(uint64(max(g.TotalSize(), 0)))).
		Msg("downloading")
	if err := p.download(ctx, sources); err != nil {
		if ctx.Err() != nil {
			log.Info().Msg("stopped while downloading")
			p.tracker.RecordSkip()
			return nil
		}
		return err
	}

	if err := writeArchive(resultPath, sources); err != nil {
		return err
	}
	digest, err := fileutil.SHA1Hex(resultPath)
	if err != nil {
		return fmt.Errorf("hash archive: %w", err)
	}

	res := ArchiveResult{
		GroupKey: g.Key,
		Key:      archiveKey(g.Members[0].Key, g.Key, digest),
		SHA1:     digest,
		Size:     fileutil.Size(resultPath),
		Sources:  g.MemberKeys(),
	}
	span.SetAttributes(attribute.String("archive", res.Key))

	if !p.opts.Force {
		log.Info().
			Str("key", res.Key).
			Str("size", humanize.IBytes(uint64(max(res.Size, 0)))).
			Msg("would upload")
		for _, k := range res.Sources {
			log.Info().Str("key", k).Msg("would delete")
		}
		p.record(res)
		p.tracker.RecordCompletion(g.Key, g.TotalSize(), time.Since(start))
		return nil
	}

	if ctx.Err() != nil {
		log.Info().Msg("stopped before commit")
		p.tracker.RecordSkip()
		return nil
	}
	if err := p.commit(context.WithoutCancel(ctx), res, resultPath); err != nil {
		return err
	}
	res.Committed = true
	p.record(res)
	p.tracker.RecordCompletion(g.Key, g.TotalSize(), time.Since(start))
	return nil
}

// downloadPaths assigns each member a temp path named after the last segment
// of its key.
func (p *processor) downloadPaths(g grouping.Group) ([]concat.Source, error) {
	sources := make([]concat.Source, len(g.Members))
	seen := make(map[string]bool, len(g.Members))
	for i, m := range g.Members {
		dest := filepath.Join(p.opts.TempDir, path.Base(m.Key))
		if seen[dest] || fileutil.Exists(dest) {
			return nil, fmt.Errorf("%w: %s", ErrDownloadPathExists, dest)
		}
		seen[dest] = true
		sources[i] = concat.Source{Key: m.Key, Path: dest}
	}
	return sources, nil
}

func (p *processor) checkFreeSpace(size int64) error {
	free := p.freeSpace(p.opts.TempDir)
	if !free.Known {
		return nil
	}
	need := uint64(max(size, 0)) * freeSpaceFactor
	if free.FreeBytes < need {
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientSpace,
			humanize.IBytes(need), humanize.IBytes(free.FreeBytes))
	}
	return nil
}

func (p *processor) download(ctx context.Context, sources []concat.Source) error {
	tasks := make([]workqueue.Task, len(sources))
	for i, src := range sources {
		src := src
		tasks[i] = func(ctx context.Context) error {
			return p.store.DownloadObject(ctx, p.opts.Bucket, src.Key, src.Path)
		}
	}
	return workqueue.Run(ctx, p.opts.DownloadWorkers, tasks)
}

// commit uploads the archive and then deletes its sources. Sources are only
// deleted once the upload succeeded.
func (p *processor) commit(ctx context.Context, res ArchiveResult, resultPath string) error {
	log := logctx.FromContext(ctx)

	if err := p.store.UploadObject(ctx, p.opts.Bucket, res.Key, resultPath, ArchiveContentType); err != nil {
		return fmt.Errorf("upload %s: %w", res.Key, err)
	}
	log.Info().
		Str("key", res.Key).
		Str("size", humanize.IBytes(uint64(max(res.Size, 0)))).
		Msg("uploaded")

	if err := p.store.DeleteObjects(ctx, p.opts.Bucket, res.Sources); err != nil {
		return fmt.Errorf("delete sources of %s: %w", res.Key, err)
	}
	log.Info().Int("count", len(res.Sources)).Msg("deleted sources")
	return nil
}

// writeArchive concatenates sources into a new gzip file at dest.
func writeArchive(dest string, sources []concat.Source) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	zw, err := gzip.NewWriterLevel(f, gzip.BestCompression)
	if err != nil {
		f.Close()
		return fmt.Errorf("create gzip writer: %w", err)
	}
	if err := concat.Concatenate(zw, sources); err != nil {
		zw.Close()
		f.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finish gzip stream: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return nil
}

// archiveKey names the archive of a group. It lives next to the group's first
// member and carries the first seven hex digits of its digest.
func archiveKey(firstMember, groupKey, digest string) string {
	name := groupKey + "-" + grouping.AggregatedMarker + "-" + digest[:7] + ".gz"
	if i := strings.LastIndex(firstMember, "/"); i >= 0 {
		return firstMember[:i+1] + name
	}
	return name
}
