// Package docstore reads classified-document blobs from the Document Store.
// The store is read-only from the application's point of view.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gurre/docreview/aws"
)

// ErrNotFound is returned when no object exists under the key.
var ErrNotFound = errors.New("document not found")

// DefaultContentType is used when neither the store nor the key name a type.
const DefaultContentType = "application/octet-stream"

// Blob is an object read from the store.
type Blob struct {
	Key         string
	Body        []byte
	ContentType string
}

// IsJSON reports whether the blob should be decoded as a JSON document.
func (b Blob) IsJSON() bool {
	return strings.HasPrefix(b.ContentType, "application/json") || strings.HasSuffix(b.Key, ".json")
}

// Store reads blobs by key.
type Store interface {
	Get(ctx context.Context, key string) (Blob, error)
}

// contentTypeFor falls back to the key's extension, then DefaultContentType.
func contentTypeFor(key, stored string) string {
	if stored != "" {
		return stored
	}
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return DefaultContentType
}

// S3Store implements Store on one S3 bucket.
type S3Store struct {
	client aws.S3Client
	bucket string
}

// NewS3Store creates a store reading from bucket.
func NewS3Store(client aws.S3Client, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket}
}

// Bucket returns the bucket name.
func (s *S3Store) Bucket() string {
	return s.bucket
}

// Get reads the object at key. Missing objects map to ErrNotFound.
func (s *S3Store) Get(ctx context.Context, key string) (Blob, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return Blob{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		// Some S3-compatible stores answer NotFound instead
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return Blob{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return Blob{}, fmt.Errorf("failed to get object %s/%s: %w", s.bucket, key, err)
	}
	if resp.Body == nil {
		return Blob{}, fmt.Errorf("object %s/%s has no body", s.bucket, key)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Blob{}, fmt.Errorf("failed to read object %s/%s: %w", s.bucket, key, err)
	}

	var stored string
	if resp.ContentType != nil {
		stored = *resp.ContentType
	}
	return Blob{Key: key, Body: body, ContentType: contentTypeFor(key, stored)}, nil
}

// FileStore implements Store on a local directory. Keys are slash-separated
// paths below the root and may not escape it.
type FileStore struct {
	root string
}

// NewFileStore creates a store rooted at dir, which must exist.
func NewFileStore(dir string) (*FileStore, error) {
	root, err := filepath.Abs(filepath.Clean(dir))
	if err != nil {
		return nil, fmt.Errorf("invalid document directory: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("document directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("document directory is not a directory: %s", root)
	}
	return &FileStore{root: root}, nil
}

// Get reads root/key.
func (f *FileStore) Get(ctx context.Context, key string) (Blob, error) {
	p, err := f.resolve(key)
	if err != nil {
		return Blob{}, err
	}
	body, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return Blob{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return Blob{}, fmt.Errorf("failed to read document file %s: %w", key, err)
	}
	return Blob{Key: key, Body: body, ContentType: contentTypeFor(key, "")}, nil
}

func (f *FileStore) resolve(key string) (string, error) {
	cleaned := path.Clean("/" + key)
	if cleaned == "/" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	p := filepath.Join(f.root, filepath.FromSlash(cleaned))
	if !strings.HasPrefix(p, f.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return p, nil
}

var (
	_ Store = (*S3Store)(nil)
	_ Store = (*FileStore)(nil)
)

// MemoryStore implements Store in memory.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]Blob
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]Blob)}
}

// Put stores body under key. An empty contentType is derived from the key.
func (m *MemoryStore) Put(key, contentType string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = Blob{
		Key:         key,
		Body:        append([]byte(nil), body...),
		ContentType: contentTypeFor(key, contentType),
	}
}

// Get returns the blob stored under key.
func (m *MemoryStore) Get(ctx context.Context, key string) (Blob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[key]
	if !ok {
		return Blob{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	b.Body = append([]byte(nil), b.Body...)
	return b, nil
}

var _ Store = (*MemoryStore)(nil)
