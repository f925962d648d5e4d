// Package objectstore provides the object store operations used by the
// aggregation pipeline: listing, downloading, uploading and batch deletion.
//
// Implementations bound their own concurrency, so callers can fan out freely
// without throttling themselves.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/messa/aggregate-s3-logs/pkg/storageclass"
)

// ObjectRecord is one entry of an object listing. Records are a snapshot of
// a single listing call and are never refreshed.
type ObjectRecord struct {
	Key          string
	StorageClass storageclass.Class
	LastModified time.Time
	Size         int64
}

// Store is the capability set the pipeline needs from an object store.
type Store interface {
	// ListObjects returns all objects under prefix, sorted by key. Keys below
	// a further delimiter are not returned. An empty result is not an error.
	ListObjects(ctx context.Context, bucket, prefix, delimiter string) ([]ObjectRecord, error)

	// DownloadObject writes the object body to destPath, creating or
	// truncating the file.
	DownloadObject(ctx context.Context, bucket, key, destPath string) error

	// UploadObject stores srcPath under key as a private object in the
	// infrequent-access storage class.
	UploadObject(ctx context.Context, bucket, key, srcPath, contentType string) error

	// DeleteObjects removes keys. Any per-key failure reported by the store
	// fails the whole call.
	DeleteObjects(ctx context.Context, bucket string, keys []string) error
}

// Errors returned by this package.
var (
	ErrInvalidURL    = errors.New("invalid object store URL")
	ErrPartialDelete = errors.New("delete reported per-key errors")
)

var reURL = regexp.MustCompile(`^s3://([a-z0-9][a-z0-9.-]*[a-z0-9])/([^?]*)$`)

// ParseURL splits an s3://bucket/prefix URL into bucket and prefix.
func ParseURL(u string) (bucket, prefix string, err error) {
	m := reURL.FindStringSubmatch(u)
	if m == nil {
		return "", "", fmt.Errorf("%w: %q (expected s3://bucket/prefix)", ErrInvalidURL, u)
	}
	return m[1], m[2], nil
}
