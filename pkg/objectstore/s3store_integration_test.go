//go:build integration

package objectstore_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/minio"

	"github.com/messa/aggregate-s3-logs/pkg/aggregate"
	"github.com/messa/aggregate-s3-logs/pkg/objectstore"
)

const (
	integrationBucket = "aggregate-test-bucket"
	minioImage        = "minio/minio:RELEASE.2024-01-16T16-07-38Z"
)

func setupMinIO(t *testing.T) (context.Context, *objectstore.S3Store, *s3.Client) {
	t.Helper()
	ctx := context.Background()

	container, err := minio.Run(ctx, minioImage)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate MinIO container: %s", err)
		}
	})

	endpoint, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "http://" + endpoint
	}

	store, err := objectstore.NewS3Store(ctx, objectstore.S3Config{
		Endpoint:  endpoint,
		Region:    "us-east-1",
		AccessKey: container.Username,
		SecretKey: container.Password,
		// MinIO rejects STANDARD_IA.
		UploadStorageClass: "STANDARD",
	})
	require.NoError(t, err)

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(container.Username, container.Password, "")),
	)
	require.NoError(t, err)
	raw := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	_, err = raw.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(integrationBucket)})
	require.NoError(t, err)

	return ctx, store, raw
}

func TestS3Store_RoundTrip(t *testing.T) {
	ctx, store, raw := setupMinIO(t)
	dir := t.TempDir()

	for _, k := range []string{"logs/2020-02-01-12-10-00-ABCD", "logs/2020-02-01-12-20-00-CDEF", "logs/nested/x"} {
		_, err := raw.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(integrationBucket),
			Key:    aws.String(k),
			Body:   strings.NewReader("content of " + k + "\n"),
		})
		require.NoError(t, err)
	}

	recs, err := store.ListObjects(ctx, integrationBucket, "logs/", "/")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "logs/2020-02-01-12-10-00-ABCD", recs[0].Key)

	dst := filepath.Join(dir, "first")
	require.NoError(t, store.DownloadObject(ctx, integrationBucket, recs[0].Key, dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "content of logs/2020-02-01-12-10-00-ABCD\n", string(data))

	require.NoError(t, store.UploadObject(ctx, integrationBucket, "logs/out.gz", dst, "application/gzip"))
	head, err := raw.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(integrationBucket),
		Key:    aws.String("logs/out.gz"),
	})
	require.NoError(t, err)
	assert.Equal(t, "application/gzip", aws.ToString(head.ContentType))

	require.NoError(t, store.DeleteObjects(ctx, integrationBucket, []string{recs[0].Key, recs[1].Key}))
	recs, err = store.ListObjects(ctx, integrationBucket, "logs/", "/")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "logs/out.gz", recs[0].Key)
}

func TestAggregate_AgainstMinIO(t *testing.T) {
	ctx, store, raw := setupMinIO(t)

	for _, k := range []string{
		"access/2020-02-01-12-10-00-ABCD",
		"access/2020-02-01-12-20-00-CDEF",
		"access/2020-02-02-08-00-00-1234",
	} {
		_, err := raw.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(integrationBucket),
			Key:    aws.String(k),
			Body:   strings.NewReader("line from " + k + "\n"),
		})
		require.NoError(t, err)
	}

	sum, err := aggregate.Run(ctx, store, aggregate.Options{
		Bucket:     integrationBucket,
		Prefix:     "access/",
		TempDir:    t.TempDir(),
		MinAgeDays: 3,
		Force:      true,
		Now:        func() time.Time { return time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.GroupsProcessed)
	assert.Equal(t, 3, sum.ObjectsAggregated)

	recs, err := store.ListObjects(ctx, integrationBucket, "access/", "/")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for i, a := range sum.Archives {
		assert.Equal(t, a.Key, recs[i].Key)
		assert.Contains(t, a.Key, "-aggregated-")
	}
}
