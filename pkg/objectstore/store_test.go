package objectstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/messa/aggregate-s3-logs/pkg/storageclass"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		url        string
		wantBucket string
		wantPrefix string
		wantErr    bool
	}{
		{url: "s3://my-bucket/logs/", wantBucket: "my-bucket", wantPrefix: "logs/"},
		{url: "s3://b1/a/b/c/", wantBucket: "b1", wantPrefix: "a/b/c/"},
		{url: "s3://logs.example.com/cf/", wantBucket: "logs.example.com", wantPrefix: "cf/"},
		{url: "s3://bucket/", wantBucket: "bucket", wantPrefix: ""},
		{url: "s3://bucket", wantErr: true},
		{url: "https://bucket/key", wantErr: true},
		{url: "s3://Bucket/key", wantErr: true},
		{url: "s3://bucket/key?versionId=1", wantErr: true},
		{url: "/local/path", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			bucket, prefix, err := ParseURL(tt.url)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidURL) {
					t.Errorf("ParseURL(%q) error = %v, want ErrInvalidURL", tt.url, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if bucket != tt.wantBucket {
				t.Errorf("bucket = %q, want %q", bucket, tt.wantBucket)
			}
			if prefix != tt.wantPrefix {
				t.Errorf("prefix = %q, want %q", prefix, tt.wantPrefix)
			}
		})
	}
}

func TestMemStore_ListRespectsPrefixAndDelimiter(t *testing.T) {
	m := NewMemStore("b1")
	m.Put("prefix/b", []byte("2"))
	m.Put("prefix/a", []byte("1"))
	m.Put("prefix/sub/c", []byte("3"))
	m.Put("other/d", []byte("4"))
	m.PutWithClass("prefix/g", []byte("5"), storageclass.Glacier)

	recs, err := m.ListObjects(context.Background(), "b1", "prefix/", "/")
	require.NoError(t, err)

	var keys []string
	for _, r := range recs {
		keys = append(keys, r.Key)
	}
	assert.Equal(t, []string{"prefix/a", "prefix/b", "prefix/g"}, keys)
	assert.Equal(t, storageclass.Glacier, recs[2].StorageClass)
	assert.Equal(t, int64(1), recs[0].Size)

	_, err = m.ListObjects(context.Background(), "other-bucket", "", "/")
	assert.Error(t, err)
}

func TestMemStore_DownloadUploadDelete(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	m := NewMemStore("b1")
	m.Put("k1", []byte("hello"))

	dst := filepath.Join(dir, "k1")
	require.NoError(t, m.DownloadObject(ctx, "b1", "k1", dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, m.UploadObject(ctx, "b1", "k2", dst, "application/gzip"))
	obj, ok := m.Get("k2")
	require.True(t, ok)
	assert.Equal(t, storageclass.StandardIA, obj.StorageClass)
	assert.Equal(t, "application/gzip", obj.ContentType)

	require.NoError(t, m.DeleteObjects(ctx, "b1", []string{"k1"}))
	assert.Equal(t, []string{"k2"}, m.Keys())

	downloads, uploads, deletes := m.Counts()
	assert.Equal(t, 1, downloads)
	assert.Equal(t, 1, uploads)
	assert.Equal(t, 1, deletes)
}

func TestMemStore_FailingDeleteRemovesNothing(t *testing.T) {
	m := NewMemStore("b1")
	m.Put("k1", nil)
	m.Put("k2", nil)
	m.FailDelete["k2"] = errors.New("denied")

	err := m.DeleteObjects(context.Background(), "b1", []string{"k1", "k2"})
	require.ErrorIs(t, err, ErrPartialDelete)
	assert.Equal(t, []string{"k1", "k2"}, m.Keys())
}
