// Package checkpoint persists the progress of a tracking import so an
// interrupted run resumes where it stopped.
package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	json "github.com/goccy/go-json"
	"github.com/gurre/docreview/aws"
)

// State is the progress of one import source.
// Example:
//
//	state, err := store.Load(ctx)
//	if err != nil {
//	    return err
//	}
//	if state.Source == source && state.Done {
//	    return nil // nothing left to import
//	}
type State struct {
	RunID  string `json:"runId"`  // Import run that wrote the checkpoint
	Source string `json:"source"` // s3:// URI of the manifest being imported
	Offset int64  `json:"offset"` // Byte position after the last written line
	Done   bool   `json:"done"`   // Source fully imported
}

// Resumes reports whether s records progress for source.
func (s State) Resumes(source string) bool {
	return s.Source != "" && s.Source == source
}

// Store saves and loads checkpoint state.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, s State) error
}

// Open returns the store for uri: s3:// or file://. An empty uri keeps
// progress in memory only.
func Open(client aws.S3Client, uri string) (Store, error) {
	switch {
	case uri == "":
		return NewMemoryStore(), nil
	case strings.HasPrefix(uri, "s3://"):
		return NewS3Store(client, uri)
	case strings.HasPrefix(uri, "file://"):
		return NewFileStore(uri)
	default:
		return nil, fmt.Errorf("unsupported checkpoint URI: %s", uri)
	}
}

// S3Store keeps the checkpoint in one S3 object.
type S3Store struct {
	client aws.S3Client
	bucket string
	key    string
}

// NewS3Store creates a store from an s3://bucket/key URI.
func NewS3Store(client aws.S3Client, uri string) (*S3Store, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid S3 URI: %w", err)
	}
	if u.Scheme != "s3" {
		return nil, fmt.Errorf("invalid S3 URI scheme: %s", u.Scheme)
	}

	return &S3Store{
		client: client,
		bucket: u.Host,
		key:    strings.TrimPrefix(u.Path, "/"),
	}, nil
}

// Load returns the saved state, or the zero State when none exists.
func (s *S3Store) Load(ctx context.Context) (State, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &s.key,
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return State{}, nil
		}
		// Some S3-compatible stores answer NotFound instead
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var state State
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return State{}, fmt.Errorf("failed to decode checkpoint: %w", err)
	}

	return state, nil
}

// Save overwrites the checkpoint object.
func (s *S3Store) Save(ctx context.Context, state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &s.key,
		Body:        bytes.NewReader(data),
		ContentType: strPtr("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	return nil
}

func strPtr(s string) *string { return &s }

// FileStore keeps the checkpoint in a local file.
type FileStore struct {
	path string
}

// NewFileStore creates a store from a file:///absolute/path URI, creating
// the parent directory.
func NewFileStore(uri string) (*FileStore, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid file URI: %w", err)
	}
	if u.Scheme != "file" {
		return nil, fmt.Errorf("invalid file URI scheme: %s", u.Scheme)
	}

	cleanPath := filepath.Clean(u.Path)
	if !filepath.IsAbs(cleanPath) {
		return nil, fmt.Errorf("checkpoint path must be absolute: %s", cleanPath)
	}

	if err := os.MkdirAll(filepath.Dir(cleanPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	return &FileStore{path: cleanPath}, nil
}

// Load returns the saved state, or the zero State when the file is missing.
func (f *FileStore) Load(ctx context.Context) (State, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("failed to decode checkpoint: %w", err)
	}

	return state, nil
}

// Save writes the state through a temporary file and rename.
func (f *FileStore) Save(ctx context.Context, state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}

	return nil
}
