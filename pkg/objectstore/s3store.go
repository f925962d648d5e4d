package objectstore

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/messa/aggregate-s3-logs/internal/logctx"
	"github.com/messa/aggregate-s3-logs/pkg/storageclass"
)

const (
	// deleteBatchSize is the DeleteObjects per-request key limit.
	deleteBatchSize = 1000

	// maxDeleteAttempts bounds retries of one delete batch.
	maxDeleteAttempts = 5

	instrumentationName = "github.com/messa/aggregate-s3-logs/pkg/objectstore"
)

var (
	tracer = otel.Tracer(instrumentationName)

	downloadCount metric.Int64Counter
	downloadBytes metric.Int64Counter
	uploadCount   metric.Int64Counter
	uploadBytes   metric.Int64Counter
	deleteCount   metric.Int64Counter
	deleteRetries metric.Int64Counter
)

func init() {
	meter := otel.Meter(instrumentationName)

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&downloadCount, "aggregate_s3_logs.s3.download.count", "Number of S3 downloads"},
		{&downloadBytes, "aggregate_s3_logs.s3.download.bytes", "Bytes downloaded from S3"},
		{&uploadCount, "aggregate_s3_logs.s3.upload.count", "Number of S3 uploads"},
		{&uploadBytes, "aggregate_s3_logs.s3.upload.bytes", "Bytes uploaded to S3"},
		{&deleteCount, "aggregate_s3_logs.s3.delete.count", "Number of S3 keys deleted"},
		{&deleteRetries, "aggregate_s3_logs.s3.delete.retries", "Number of retried DeleteObjects batches"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			panic(fmt.Errorf("create %s counter: %w", c.name, err))
		}
		*c.dst = counter
	}
}

// S3Config configures an S3Store.
type S3Config struct {
	// Endpoint overrides the S3 endpoint for S3-compatible stores such as MinIO.
	Endpoint string
	// Region defaults to the AWS SDK's resolution chain when empty.
	Region string
	// AccessKey and SecretKey select static credentials. When empty the
	// default credential chain is used.
	AccessKey string
	SecretKey string
	// ForcePathStyle puts the bucket in the URL path. Implied by Endpoint.
	ForcePathStyle bool
	// UploadStorageClass is the class of uploaded archives. Default: STANDARD_IA.
	UploadStorageClass string

	// MaxConcurrentDownloads bounds concurrent list and download calls
	// across the whole process. Default: 16.
	MaxConcurrentDownloads int
	// MaxConcurrentUploads bounds concurrent upload and delete calls
	// across the whole process. Default: 16.
	MaxConcurrentUploads int
}

// s3API is the subset of *s3.Client used by S3Store.
type s3API interface {
	manager.DownloadAPIClient
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3Store implements Store on top of the AWS SDK.
type S3Store struct {
	client      s3API
	downloadSem *semaphore.Weighted
	uploadSem   *semaphore.Weighted
	uploadClass types.StorageClass

	// retryUnit scales the delete backoff; a retry after attempt n waits
	// (1 + 2^n) units.
	retryUnit time.Duration
}

// NewS3Store loads AWS configuration and creates an S3Store.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	return newS3Store(client, cfg), nil
}

func newS3Store(client s3API, cfg S3Config) *S3Store {
	if cfg.MaxConcurrentDownloads <= 0 {
		cfg.MaxConcurrentDownloads = 16
	}
	if cfg.MaxConcurrentUploads <= 0 {
		cfg.MaxConcurrentUploads = 16
	}
	if cfg.UploadStorageClass == "" {
		cfg.UploadStorageClass = string(types.StorageClassStandardIa)
	}
	return &S3Store{
		client:      client,
		downloadSem: semaphore.NewWeighted(int64(cfg.MaxConcurrentDownloads)),
		uploadSem:   semaphore.NewWeighted(int64(cfg.MaxConcurrentUploads)),
		uploadClass: types.StorageClass(cfg.UploadStorageClass),
		retryUnit:   time.Second,
	}
}

// ListObjects implements Store.
func (s *S3Store) ListObjects(ctx context.Context, bucket, prefix, delimiter string) ([]ObjectRecord, error) {
	// One permit covers every page. Listing happens once per run, before any
	// group downloads.
	if err := s.downloadSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.downloadSem.Release(1)

	ctx, span := tracer.Start(ctx, "objectstore.ListObjects", trace.WithAttributes(
		attribute.String("bucket", bucket),
		attribute.String("prefix", prefix),
	))
	defer span.End()

	log := logctx.FromContext(ctx)
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}
	if delimiter != "" {
		input.Delimiter = aws.String(delimiter)
	}

	var records []ObjectRecord
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for page := 1; paginator.HasMorePages(); page++ {
		out, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range out.Contents {
			if obj.Key == nil {
				continue
			}
			rec := ObjectRecord{
				Key:          *obj.Key,
				StorageClass: storageclass.Parse(string(obj.StorageClass)),
				LastModified: aws.ToTime(obj.LastModified),
				Size:         aws.ToInt64(obj.Size),
			}
			records = append(records, rec)
		}
		log.Info().
			Int("page", page).
			Int("page_items", len(out.Contents)).
			Int("total_items", len(records)).
			Msg("retrieved listing page")
	}
	return records, nil
}

// DownloadObject implements Store.
func (s *S3Store) DownloadObject(ctx context.Context, bucket, key, destPath string) error {
	if err := s.downloadSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.downloadSem.Release(1)

	ctx, span := tracer.Start(ctx, "objectstore.DownloadObject", trace.WithAttributes(
		attribute.String("bucket", bucket),
		attribute.String("key", key),
	))
	defer span.End()

	log := logctx.FromContext(ctx)
	log.Debug().Str("key", key).Str("path", destPath).Msg("downloading")

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}

	downloader := manager.NewDownloader(s.client)
	n, err := downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		_ = f.Close()
		_ = os.Remove(destPath)
		return fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", destPath, err)
	}

	attrs := metric.WithAttributes(attribute.String("bucket", bucket))
	downloadCount.Add(ctx, 1, attrs)
	downloadBytes.Add(ctx, n, attrs)
	return nil
}

// UploadObject implements Store.
func (s *S3Store) UploadObject(ctx context.Context, bucket, key, srcPath, contentType string) error {
	if err := s.uploadSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.uploadSem.Release(1)

	ctx, span := tracer.Start(ctx, "objectstore.UploadObject", trace.WithAttributes(
		attribute.String("bucket", bucket),
		attribute.String("key", key),
	))
	defer span.End()

	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", srcPath, err)
	}
	defer f.Close()

	var size int64 = -1
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}
	log := logctx.FromContext(ctx)
	log.Debug().
		Str("path", srcPath).
		Str("size", humanize.IBytes(uint64(max(size, 0)))).
		Str("key", key).
		Msg("uploading")

	uploader := manager.NewUploader(s.client)
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(bucket),
		Key:          aws.String(key),
		Body:         f,
		ACL:          types.ObjectCannedACLPrivate,
		StorageClass: s.uploadClass,
		ContentType:  aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", bucket, key, err)
	}

	attrs := metric.WithAttributes(attribute.String("bucket", bucket))
	uploadCount.Add(ctx, 1, attrs)
	if size > 0 {
		uploadBytes.Add(ctx, size, attrs)
	}
	return nil
}

// DeleteObjects implements Store. Keys are deleted in batches of at most
// 1000; each batch is retried up to five times on transport errors. A batch
// whose response lists per-key errors fails immediately.
func (s *S3Store) DeleteObjects(ctx context.Context, bucket string, keys []string) error {
	if err := s.uploadSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.uploadSem.Release(1)

	ctx, span := tracer.Start(ctx, "objectstore.DeleteObjects", trace.WithAttributes(
		attribute.String("bucket", bucket),
		attribute.Int("keys", len(keys)),
	))
	defer span.End()

	log := logctx.FromContext(ctx)
	batches := splitKeys(keys, deleteBatchSize)
	for i, batch := range batches {
		log.Debug().
			Int("batch", i+1).
			Int("batches", len(batches)).
			Strs("keys", batch).
			Msg("deleting keys")
		if err := s.deleteBatch(ctx, bucket, batch); err != nil {
			return err
		}
	}
	return nil
}

func (s *S3Store) deleteBatch(ctx context.Context, bucket string, keys []string) error {
	ids := make([]types.ObjectIdentifier, len(keys))
	for i, k := range keys {
		ids[i] = types.ObjectIdentifier{Key: aws.String(k)}
	}
	input := &s3.DeleteObjectsInput{
		Bucket: aws.String(bucket),
		Delete: &types.Delete{
			Objects: ids,
			Quiet:   aws.Bool(false),
		},
	}

	op := func() error {
		out, err := s.client.DeleteObjects(ctx, input)
		if err != nil {
			return fmt.Errorf("delete objects in %s: %w", bucket, err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return backoff.Permanent(fmt.Errorf("%w: %d of %d keys failed, first %s: %s %s",
				ErrPartialDelete, len(out.Errors), len(keys),
				aws.ToString(first.Key), aws.ToString(first.Code), aws.ToString(first.Message)))
		}
		return nil
	}

	log := logctx.FromContext(ctx)
	notify := func(err error, wait time.Duration) {
		deleteRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("bucket", bucket)))
		log.Warn().Err(err).Dur("retry_in", wait).Int("keys", len(keys)).Msg("delete failed, retrying")
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(&attemptBackOff{unit: s.retryUnit}, maxDeleteAttempts-1),
		ctx,
	)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return err
	}

	deleteCount.Add(ctx, int64(len(keys)), metric.WithAttributes(attribute.String("bucket", bucket)))
	return nil
}

// attemptBackOff waits (1 + 2^n) units after the n-th failed attempt.
type attemptBackOff struct {
	unit    time.Duration
	attempt int
}

func (b *attemptBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.unit * time.Duration(1+math.Pow(2, float64(b.attempt)))
}

func (b *attemptBackOff) Reset() {
	b.attempt = 0
}

// splitKeys cuts keys into consecutive batches of at most size keys.
func splitKeys(keys []string, size int) [][]string {
	var batches [][]string
	for len(keys) > size {
		batches = append(batches, keys[:size])
		keys = keys[size:]
	}
	if len(keys) > 0 {
		batches = append(batches, keys)
	}
	return batches
}

var _ Store = (*S3Store)(nil)
