package mock

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Client is a mock implementation of aws.S3Client for testing. Objects are
// addressed by "bucket/key"; lookups are exact.
type S3Client struct {
	// Maps bucket/key to object content
	Files map[string][]byte
	// Maps bucket/key to content type
	ContentTypes map[string]string
	// Maps bucket/key to ETags
	ETags map[string]*string

	mu           sync.RWMutex
	failNextRead bool
	multipart    multipart
}

// NewS3Client creates a new mock S3 client
func NewS3Client() *S3Client {
	return &S3Client{
		Files:        make(map[string][]byte),
		ContentTypes: make(map[string]string),
		ETags:        make(map[string]*string),
	}
}

// AddFile stores content under bucket/key. An empty contentType is derived
// from the key's extension.
func (m *S3Client) AddFile(bucket, key, contentType string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addFile(bucket, key, contentType, content)
}

func (m *S3Client) addFile(bucket, key, contentType string, content []byte) {
	bucketKey := bucket + "/" + key
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(key))
	}
	m.Files[bucketKey] = content
	if contentType != "" {
		m.ContentTypes[bucketKey] = contentType
	}
	m.ETags[bucketKey] = aws.String(fmt.Sprintf("\"%x\"", md5.Sum(content)))
}

// LoadDir loads every regular file under dir into bucket, keyed by its
// slash-separated path relative to dir.
func (m *S3Client) LoadDir(bucket, dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		m.addFile(bucket, filepath.ToSlash(rel), "", data)
		return nil
	})
}

// SetFailNextRead makes the next GetObject fail with a generic error.
func (m *S3Client) SetFailNextRead(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNextRead = fail
}

func (m *S3Client) lookup(bucket, key *string) (string, []byte, bool) {
	bucketKey := aws.ToString(bucket) + "/" + aws.ToString(key)
	content, ok := m.Files[bucketKey]
	return bucketKey, content, ok
}

// GetObject implements the S3Client interface for reading objects
func (m *S3Client) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	fail := m.failNextRead
	m.failNextRead = false
	m.mu.Unlock()
	if fail {
		return nil, fmt.Errorf("simulated get object failure")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	bucketKey, content, ok := m.lookup(params.Bucket, params.Key)
	if !ok {
		return nil, &types.NoSuchKey{
			Message: aws.String(fmt.Sprintf("The specified key does not exist: %s", aws.ToString(params.Key))),
		}
	}

	if params.Range != nil {
		start, end, err := parseRange(aws.ToString(params.Range), int64(len(content)))
		if err != nil {
			return nil, err
		}
		content = content[start : end+1]
	}

	contentLength := int64(len(content))
	out := &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(content)),
		ETag:          m.ETags[bucketKey],
		ContentLength: &contentLength,
	}
	if ct, ok := m.ContentTypes[bucketKey]; ok {
		out.ContentType = aws.String(ct)
	}
	return out, nil
}

// parseRange parses "bytes=start-end" and clamps end to the object size.
func parseRange(header string, size int64) (int64, int64, error) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, 0, fmt.Errorf("mock S3: unsupported range %q", header)
	}
	from, to, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, 0, fmt.Errorf("mock S3: unsupported range %q", header)
	}
	start, err := strconv.ParseInt(from, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("mock S3: invalid range %q: %w", header, err)
	}
	end := size - 1
	if to != "" {
		if end, err = strconv.ParseInt(to, 10, 64); err != nil {
			return 0, 0, fmt.Errorf("mock S3: invalid range %q: %w", header, err)
		}
	}
	if end >= size {
		end = size - 1
	}
	if start < 0 || start > end {
		return 0, 0, fmt.Errorf("mock S3: range %q not satisfiable for size %d", header, size)
	}
	return start, end, nil
}

// PutObject implements the S3Client interface for writing objects
func (m *S3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.addFile(aws.ToString(params.Bucket), aws.ToString(params.Key), aws.ToString(params.ContentType), data)
	bucketKey := aws.ToString(params.Bucket) + "/" + aws.ToString(params.Key)

	return &s3.PutObjectOutput{ETag: m.ETags[bucketKey]}, nil
}

// HeadObject implements the S3Client interface for retrieving object metadata
func (m *S3Client) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bucketKey, content, ok := m.lookup(params.Bucket, params.Key)
	if !ok {
		return nil, &types.NotFound{Message: aws.String("Not Found")}
	}

	contentLength := int64(len(content))
	out := &s3.HeadObjectOutput{
		ETag:          m.ETags[bucketKey],
		ContentLength: &contentLength,
	}
	if ct, ok := m.ContentTypes[bucketKey]; ok {
		out.ContentType = aws.String(ct)
	}
	return out, nil
}

// Keys returns the stored bucket/key names, sorted.
func (m *S3Client) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.Files))
	for k := range m.Files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Object returns the content stored at bucket/key.
func (m *S3Client) Object(bucket, key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.Files[bucket+"/"+key]
	return data, ok
}
