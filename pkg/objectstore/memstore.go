package objectstore

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/messa/aggregate-s3-logs/pkg/storageclass"
)

// MemObject is an object held by a MemStore.
type MemObject struct {
	Data         []byte
	StorageClass storageclass.Class
	ContentType  string
	LastModified time.Time
}

// MemStore is an in-memory Store for a single bucket. It is safe for
// concurrent use and counts operations so tests can assert on side effects.
type MemStore struct {
	bucket string

	mu      sync.Mutex
	objects map[string]MemObject

	downloads int
	uploads   int
	deletes   int

	// FailDownload, FailUpload and FailDelete make the matching operation
	// return an error for the given key.
	FailDownload map[string]error
	FailUpload   map[string]error
	FailDelete   map[string]error
}

// NewMemStore creates an empty store holding bucket.
func NewMemStore(bucket string) *MemStore {
	return &MemStore{
		bucket:       bucket,
		objects:      make(map[string]MemObject),
		FailDownload: make(map[string]error),
		FailUpload:   make(map[string]error),
		FailDelete:   make(map[string]error),
	}
}

// Put stores data under key in the STANDARD class.
func (m *MemStore) Put(key string, data []byte) {
	m.PutWithClass(key, data, storageclass.Standard)
}

// PutWithClass stores data under key with an explicit storage class.
func (m *MemStore) PutWithClass(key string, data []byte, class storageclass.Class) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = MemObject{Data: data, StorageClass: class, LastModified: time.Now()}
}

// Get returns the object under key.
func (m *MemStore) Get(key string) (MemObject, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[key]
	return o, ok
}

// Keys returns all stored keys in ascending order.
func (m *MemStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Counts returns the number of successful downloads, uploads and deleted keys.
func (m *MemStore) Counts() (downloads, uploads, deletes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.downloads, m.uploads, m.deletes
}

func (m *MemStore) checkBucket(bucket string) error {
	if bucket != m.bucket {
		return fmt.Errorf("no such bucket: %s", bucket)
	}
	return nil
}

// ListObjects implements Store.
func (m *MemStore) ListObjects(ctx context.Context, bucket, prefix, delimiter string) ([]ObjectRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.checkBucket(bucket); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var records []ObjectRecord
	for k, o := range m.objects {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if delimiter != "" && strings.Contains(k[len(prefix):], delimiter) {
			continue
		}
		records = append(records, ObjectRecord{
			Key:          k,
			StorageClass: o.StorageClass,
			LastModified: o.LastModified,
			Size:         int64(len(o.Data)),
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records, nil
}

// DownloadObject implements Store.
func (m *MemStore) DownloadObject(ctx context.Context, bucket, key, destPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.checkBucket(bucket); err != nil {
		return err
	}

	m.mu.Lock()
	o, ok := m.objects[key]
	failErr := m.FailDownload[key]
	m.mu.Unlock()
	if failErr != nil {
		return fmt.Errorf("download %s: %w", key, failErr)
	}
	if !ok {
		return fmt.Errorf("download %s: no such key", key)
	}
	if err := os.WriteFile(destPath, o.Data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", destPath, err)
	}

	m.mu.Lock()
	m.downloads++
	m.mu.Unlock()
	return nil
}

// UploadObject implements Store. Uploaded objects land in STANDARD_IA.
func (m *MemStore) UploadObject(ctx context.Context, bucket, key, srcPath, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.checkBucket(bucket); err != nil {
		return err
	}

	m.mu.Lock()
	failErr := m.FailUpload[key]
	m.mu.Unlock()
	if failErr != nil {
		return fmt.Errorf("upload %s: %w", key, failErr)
	}

	data, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", srcPath, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = MemObject{
		Data:         data,
		StorageClass: storageclass.StandardIA,
		ContentType:  contentType,
		LastModified: time.Now(),
	}
	m.uploads++
	return nil
}

// DeleteObjects implements Store. Failures are checked for every key before
// anything is removed, so a failing call deletes nothing.
func (m *MemStore) DeleteObjects(ctx context.Context, bucket string, keys []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.checkBucket(bucket); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		if failErr := m.FailDelete[k]; failErr != nil {
			return fmt.Errorf("%w: %s: %v", ErrPartialDelete, k, failErr)
		}
	}
	for _, k := range keys {
		delete(m.objects, k)
		m.deletes++
	}
	return nil
}

var _ Store = (*MemStore)(nil)
