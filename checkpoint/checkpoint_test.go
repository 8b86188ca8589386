package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gurre/docreview/integration/mock"
)

const source = "s3://imports/tracking/2024-03-18.jsonl"

func TestMemoryStore_SaveLoad(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	state := State{RunID: "run-1", Source: source, Offset: 1024}
	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("failed to save state: %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("failed to load state: %v", err)
	}
	if loaded != state {
		t.Errorf("state mismatch: got %+v, want %+v", loaded, state)
	}
	if store.Saves() != 1 {
		t.Errorf("expected 1 save, got %d", store.Saves())
	}
}

func TestMemoryStore_EmptyState(t *testing.T) {
	state, err := NewMemoryStore().Load(context.Background())
	if err != nil {
		t.Fatalf("failed to load empty state: %v", err)
	}
	if state != (State{}) {
		t.Errorf("expected zero state, got %+v", state)
	}
	if state.Resumes(source) {
		t.Error("zero state must not resume anything")
	}
}

func TestStateResumes(t *testing.T) {
	s := State{Source: source, Offset: 10}
	if !s.Resumes(source) {
		t.Error("expected state to resume its own source")
	}
	if s.Resumes("s3://imports/other.jsonl") {
		t.Error("state must not resume a different source")
	}
}

func TestFileStore_SaveLoad(t *testing.T) {
	uri := "file://" + filepath.Join(t.TempDir(), "checkpoint.json")

	store, err := NewFileStore(uri)
	if err != nil {
		t.Fatalf("failed to create file store: %v", err)
	}

	ctx := context.Background()
	state := State{RunID: "run-2", Source: source, Offset: 2048, Done: true}
	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("failed to save state: %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("failed to load state: %v", err)
	}
	if loaded != state {
		t.Errorf("state mismatch: got %+v, want %+v", loaded, state)
	}
}

func TestFileStore_NonExistent(t *testing.T) {
	store, err := NewFileStore("file://" + filepath.Join(t.TempDir(), "nonexistent.json"))
	if err != nil {
		t.Fatalf("failed to create file store: %v", err)
	}

	state, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("failed to load non-existent state: %v", err)
	}
	if state != (State{}) {
		t.Errorf("expected empty state for non-existent file, got: %+v", state)
	}
}

func TestFileStore_InvalidURI(t *testing.T) {
	testCases := []string{
		"s3://bucket/key",
		"http://example.com/file",
		"/path/without/scheme",
	}

	for _, uri := range testCases {
		t.Run(uri, func(t *testing.T) {
			if _, err := NewFileStore(uri); err == nil {
				t.Errorf("expected error for invalid file URI: %s", uri)
			}
		})
	}
}

func TestFileStore_CreatesDirectory(t *testing.T) {
	nestedDir := filepath.Join(t.TempDir(), "nested", "dir")
	store, err := NewFileStore("file://" + filepath.Join(nestedDir, "checkpoint.json"))
	if err != nil {
		t.Fatalf("failed to create file store: %v", err)
	}

	if _, err := os.Stat(nestedDir); os.IsNotExist(err) {
		t.Error("expected nested directory to be created")
	}
	if err := store.Save(context.Background(), State{RunID: "test"}); err != nil {
		t.Fatalf("failed to save state: %v", err)
	}
	if _, err := os.Stat(filepath.Join(nestedDir, "checkpoint.json.tmp")); !os.IsNotExist(err) {
		t.Error("temporary file should be renamed away")
	}
}

func TestS3Store_SaveLoad(t *testing.T) {
	client := mock.NewS3Client()
	store, err := NewS3Store(client, "s3://my-bucket/path/to/checkpoint.json")
	if err != nil {
		t.Fatalf("failed to create S3 store: %v", err)
	}
	if store.bucket != "my-bucket" || store.key != "path/to/checkpoint.json" {
		t.Fatalf("unexpected location %s/%s", store.bucket, store.key)
	}

	ctx := context.Background()
	empty, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("missing checkpoint should load as empty: %v", err)
	}
	if empty != (State{}) {
		t.Errorf("expected empty state, got %+v", empty)
	}

	state := State{RunID: "run-3", Source: source, Offset: 7}
	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("failed to save state: %v", err)
	}
	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("failed to load state: %v", err)
	}
	if loaded != state {
		t.Errorf("state mismatch: got %+v, want %+v", loaded, state)
	}

	client.SetFailNextRead(true)
	if _, err := store.Load(ctx); err == nil {
		t.Error("expected error when S3 read fails")
	}
}

func TestS3Store_InvalidURI(t *testing.T) {
	testCases := []string{
		"http://bucket/key",
		"https://bucket/key",
		"file:///path/to/file",
		"bucket/key",
	}

	for _, uri := range testCases {
		t.Run(uri, func(t *testing.T) {
			if _, err := NewS3Store(nil, uri); err == nil {
				t.Errorf("expected error for invalid S3 URI: %s", uri)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	if s, err := Open(nil, ""); err != nil {
		t.Errorf("empty URI: %v", err)
	} else if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("empty URI should give a memory store, got %T", s)
	}
	if s, err := Open(mock.NewS3Client(), "s3://b/k"); err != nil {
		t.Errorf("s3 URI: %v", err)
	} else if _, ok := s.(*S3Store); !ok {
		t.Errorf("expected S3Store, got %T", s)
	}
	if s, err := Open(nil, "file://"+filepath.Join(t.TempDir(), "c.json")); err != nil {
		t.Errorf("file URI: %v", err)
	} else if _, ok := s.(*FileStore); !ok {
		t.Errorf("expected FileStore, got %T", s)
	}
	if _, err := Open(nil, "ftp://x/y"); err == nil {
		t.Error("expected error for unsupported scheme")
	}
}
