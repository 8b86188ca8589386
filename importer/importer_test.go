package importer

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/gurre/docreview/checkpoint"
	"github.com/gurre/docreview/config"
	"github.com/gurre/docreview/integration/mock"
	"github.com/gurre/docreview/itemimage"
	"github.com/gurre/docreview/metrics"
	"github.com/gurre/docreview/writer"
)

const (
	bucket   = "imports"
	key      = "manifests/batch-7.jsonl"
	source   = "s3://imports/manifests/batch-7.jsonl"
	table    = "tracking"
	reportTo = "s3://imports/reports/batch-7.json"
)

func testConfig(t *testing.T, batchSize int) *config.Import {
	t.Helper()
	cfg := &config.Import{
		TableName:       table,
		ManifestS3URI:   source,
		Region:          "eu-west-1",
		BatchSize:       batchSize,
		ShutdownTimeout: 5 * time.Second,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("invalid test config: %v", err)
	}
	return cfg
}

func manifest(n int, corrupt ...int) []byte {
	bad := make(map[int]bool, len(corrupt))
	for _, i := range corrupt {
		bad[i] = true
	}
	var b strings.Builder
	for i := 0; i < n; i++ {
		if bad[i] {
			b.WriteString(`{"status":"PROVED"}` + "\n")
			continue
		}
		fmt.Fprintf(&b, `{"docId":"doc-%02d","s3Key":"classified/doc-%02d.json"}`+"\n", i, i)
	}
	return []byte(b.String())
}

// lineEnd returns the byte position after the first n lines of content.
func lineEnd(content []byte, n int) int64 {
	var pos int
	for i := 0; i < n; i++ {
		pos += bytes.IndexByte(content[pos:], '\n') + 1
	}
	return int64(pos)
}

type fixture struct {
	s3    *mock.S3Client
	ddb   *mock.DynamoDBClient
	store *checkpoint.MemoryStore
}

func newFixture(content []byte) *fixture {
	f := &fixture{
		s3:    mock.NewS3Client(),
		ddb:   mock.NewDynamoDBClient(),
		store: checkpoint.NewMemoryStore(),
	}
	f.s3.AddFile(bucket, key, "application/x-ndjson", content)
	return f
}

func (f *fixture) importer(cfg *config.Import, opts ...Option) *Importer {
	w := writer.NewDynamoDBWriter(f.ddb, cfg.TableName, cfg.BatchSize, writer.WithBaseDelay(time.Millisecond))
	opts = append([]Option{WithProgressInterval(0), WithRetryDelay(time.Millisecond)}, opts...)
	return New(cfg, f.s3, itemimage.NewJSONDecoder(), w, f.store, metrics.NewS3Uploader(f.s3), nil, opts...)
}

func TestImportHappyPath(t *testing.T) {
	f := newFixture(manifest(5, 2))
	cfg := testConfig(t, 2)
	cfg.ReportS3URI = reportTo
	im := f.importer(cfg)

	report, err := im.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := len(f.ddb.GetTableContents(table)); got != 4 {
		t.Errorf("expected 4 items in table, got %d", got)
	}
	if report.TotalItems != 4 || report.ItemsWritten != 4 || report.CorruptCount != 1 {
		t.Errorf("unexpected report: %+v", report)
	}
	if report.BatchesWritten != 2 {
		t.Errorf("expected 2 batches, got %d", report.BatchesWritten)
	}
	if report.RunID != im.RunID() || report.Source != source || report.Table != table {
		t.Errorf("report identity not set: %+v", report)
	}

	state, _ := f.store.Load(context.Background())
	if !state.Done || state.Source != source || state.Offset != int64(len(manifest(5, 2))) || state.RunID != im.RunID() {
		t.Errorf("unexpected final checkpoint: %+v", state)
	}

	body, ok := f.s3.Object(bucket, "reports/batch-7.json")
	if !ok {
		t.Fatal("report not uploaded")
	}
	if !strings.Contains(string(body), im.RunID()) {
		t.Errorf("uploaded report missing run id: %s", body)
	}
}

func TestImportResumesAfterCheckpoint(t *testing.T) {
	content := manifest(5)
	f := newFixture(content)
	_ = f.store.Save(context.Background(), checkpoint.State{RunID: "earlier", Source: source, Offset: lineEnd(content, 3)})

	report, err := f.importer(testConfig(t, 25)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	items := f.ddb.GetTableContents(table)
	if len(items) != 2 {
		t.Fatalf("expected 2 items written after resume, got %d", len(items))
	}
	for _, id := range []string{"doc-03", "doc-04"} {
		if _, ok := items["docId="+id]; !ok {
			t.Errorf("expected %s to be written", id)
		}
	}
	if report.TotalItems != 2 {
		t.Errorf("expected 2 processed, got %d", report.TotalItems)
	}
}

func TestImportReplacesExistingRecords(t *testing.T) {
	f := newFixture(manifest(1))
	f.ddb.PutItem(table, map[string]types.AttributeValue{
		"docId":  &types.AttributeValueMemberS{Value: "doc-00"},
		"status": &types.AttributeValueMemberS{Value: "PROVED"},
	})

	if _, err := f.importer(testConfig(t, 25)).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	item := f.ddb.GetTableContents(table)["docId=doc-00"]
	if _, ok := item["status"]; ok {
		t.Errorf("expected the manifest record to replace the reviewed one, got %v", item)
	}
	if _, ok := item["s3Key"]; !ok {
		t.Errorf("expected s3Key from the manifest, got %v", item)
	}
}

func TestImportIgnoresCheckpointOfOtherSource(t *testing.T) {
	f := newFixture(manifest(3))
	_ = f.store.Save(context.Background(), checkpoint.State{Source: "s3://imports/other.jsonl", Offset: 64, Done: true})

	if _, err := f.importer(testConfig(t, 25)).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := len(f.ddb.GetTableContents(table)); got != 3 {
		t.Errorf("expected 3 items, got %d", got)
	}
}

func TestImportAlreadyDone(t *testing.T) {
	f := newFixture(manifest(3))
	_ = f.store.Save(context.Background(), checkpoint.State{Source: source, Offset: 64, Done: true})

	report, err := f.importer(testConfig(t, 25)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(f.ddb.GetBatchWrites()) != 0 || report.TotalItems != 0 {
		t.Errorf("expected no work, got %d writes and report %+v", len(f.ddb.GetBatchWrites()), report)
	}
}

func TestImportDryRun(t *testing.T) {
	f := newFixture(manifest(4, 0))
	cfg := testConfig(t, 2)
	cfg.DryRun = true

	report, err := f.importer(cfg).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(f.ddb.GetBatchWrites()) != 0 {
		t.Error("dry run wrote to the table")
	}
	if f.store.Saves() != 0 {
		t.Errorf("dry run saved %d checkpoints", f.store.Saves())
	}
	if !report.DryRun || report.TotalItems != 3 || report.CorruptCount != 1 || report.ItemsWritten != 0 {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestImportCheckpointInterval(t *testing.T) {
	f := newFixture(manifest(10))

	if _, err := f.importer(testConfig(t, 2), WithCheckpointInterval(2)).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	// After batches 2 and 4, then the completion marker
	if got := f.store.Saves(); got != 3 {
		t.Errorf("expected 3 checkpoint saves, got %d", got)
	}
}

// flakyStreamer fails once after emitting failAfter lines.
type flakyStreamer struct {
	*mock.S3Client
	failAfter int
	failed    bool
	offsets   []int64
}

func (s *flakyStreamer) Stream(ctx context.Context, bucket, key string, offset int64, fn func([]byte, int64) error) error {
	s.offsets = append(s.offsets, offset)
	emitted := 0
	return s.S3Client.Stream(ctx, bucket, key, offset, func(line []byte, at int64) error {
		if !s.failed && emitted == s.failAfter {
			s.failed = true
			return errors.New("connection reset")
		}
		emitted++
		return fn(line, at)
	})
}

func TestImportRestartsFailedStream(t *testing.T) {
	content := manifest(5)
	f := newFixture(content)
	cfg := testConfig(t, 2)
	streamer := &flakyStreamer{S3Client: f.s3, failAfter: 3}
	w := writer.NewDynamoDBWriter(f.ddb, table, 2)
	im := New(cfg, streamer, itemimage.NewJSONDecoder(), w, f.store, nil, nil,
		WithProgressInterval(0), WithRetryDelay(time.Millisecond), WithCheckpointInterval(1))

	report, err := im.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := len(f.ddb.GetTableContents(table)); got != 5 {
		t.Errorf("expected 5 items, got %d", got)
	}
	// The restart begins on the newline ending line 1, the last written line
	if want := lineEnd(content, 2) - 1; len(streamer.offsets) != 2 || streamer.offsets[1] != want {
		t.Errorf("expected restart at offset %d, got %v", want, streamer.offsets)
	}
	if report.Errors != 1 {
		t.Errorf("expected 1 recorded error, got %d", report.Errors)
	}
	// Line 2 was read twice but written once
	if report.ItemsWritten != 5 || report.TotalItems != 5 {
		t.Errorf("expected 5 written and processed, got %+v", report)
	}
}

type failingWriter struct{ calls int }

func (w *failingWriter) WriteBatch(ctx context.Context, ops []itemimage.Operation) error {
	w.calls++
	return errors.New("table not found")
}

func (w *failingWriter) Flush(ctx context.Context) error { return nil }

func TestImportGivesUpAfterAttempts(t *testing.T) {
	f := newFixture(manifest(3))
	w := &failingWriter{}
	im := New(testConfig(t, 25), f.s3, itemimage.NewJSONDecoder(), w, f.store, nil, nil,
		WithProgressInterval(0), WithRetryDelay(time.Millisecond))

	_, err := im.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "table not found") {
		t.Fatalf("expected write failure, got %v", err)
	}
	if w.calls != maxStreamAttempts {
		t.Errorf("expected %d write attempts, got %d", maxStreamAttempts, w.calls)
	}
	if f.store.Saves() != 0 {
		t.Errorf("expected no checkpoint, got %d saves", f.store.Saves())
	}
}

func TestImportCancelled(t *testing.T) {
	f := newFixture(manifest(3))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.importer(testConfig(t, 25)).Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// stoppingDecoder closes stop after n decoded lines.
type stoppingDecoder struct {
	itemimage.Decoder
	n    int
	stop chan struct{}
}

func (d *stoppingDecoder) Decode(line []byte) (itemimage.Operation, error) {
	op, err := d.Decoder.Decode(line)
	d.n--
	if d.n == 0 {
		close(d.stop)
	}
	return op, err
}

func TestImportStopWritesPendingBatch(t *testing.T) {
	content := manifest(6)
	f := newFixture(content)
	stop := make(chan struct{})
	dec := &stoppingDecoder{Decoder: itemimage.NewJSONDecoder(), n: 3, stop: stop}
	w := writer.NewDynamoDBWriter(f.ddb, table, 25)
	im := New(testConfig(t, 25), f.s3, dec, w, f.store, nil, nil,
		WithProgressInterval(0), WithStop(stop))

	_, err := im.Run(context.Background())
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if got := len(f.ddb.GetTableContents(table)); got != 3 {
		t.Errorf("expected 3 items written before stop, got %d", got)
	}
	state, _ := f.store.Load(context.Background())
	if state.Done || state.Offset != lineEnd(content, 3) || state.Source != source {
		t.Errorf("unexpected checkpoint after stop: %+v", state)
	}
}

func TestImportStopThenResumeWritesEveryLine(t *testing.T) {
	tests := []struct {
		name     string
		interval int
		saves    int
	}{
		{"checkpoint every batch", 1, 2},
		{"checkpoint on stop only", defaultCheckpointInterval, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := manifest(12)
			f := newFixture(content)
			cfg := testConfig(t, 2)
			stop := make(chan struct{})
			dec := &stoppingDecoder{Decoder: itemimage.NewJSONDecoder(), n: 4, stop: stop}
			w := writer.NewDynamoDBWriter(f.ddb, table, 2)
			first := New(cfg, f.s3, dec, w, f.store, nil, nil,
				WithProgressInterval(0), WithStop(stop), WithCheckpointInterval(tt.interval))

			if _, err := first.Run(context.Background()); !errors.Is(err, ErrStopped) {
				t.Fatalf("expected ErrStopped, got %v", err)
			}
			state, _ := f.store.Load(context.Background())
			if state.Done || state.Offset != lineEnd(content, 4) {
				t.Fatalf("unexpected checkpoint after stop: %+v", state)
			}
			if f.store.Saves() != tt.saves {
				t.Errorf("expected %d saves, got %d", tt.saves, f.store.Saves())
			}

			report, err := f.importer(cfg).Run(context.Background())
			if err != nil {
				t.Fatalf("resumed Run() error = %v", err)
			}
			if report.TotalItems != 8 {
				t.Errorf("expected 8 items after resume, got %d", report.TotalItems)
			}
			items := f.ddb.GetTableContents(table)
			for i := 0; i < 12; i++ {
				if _, ok := items[fmt.Sprintf("docId=doc-%02d", i)]; !ok {
					t.Errorf("doc-%02d missing after resume", i)
				}
			}
		})
	}
}

func TestImportResumesCompressedManifest(t *testing.T) {
	content := manifest(12, 5)
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	if _, err := zw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	f := newFixture(nil)
	f.s3.AddFile(bucket, "manifests/batch-8.jsonl.gz", "application/gzip", gz.Bytes())
	cfg := testConfig(t, 2)
	cfg.ManifestS3URI = "s3://imports/manifests/batch-8.jsonl.gz"
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	_ = f.store.Save(context.Background(), checkpoint.State{Source: cfg.ManifestS3URI, Offset: lineEnd(content, 7)})

	report, err := f.importer(cfg).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	// Lines 7-11; the corrupt line 5 lies before the checkpoint
	if report.TotalItems != 5 || report.CorruptCount != 0 {
		t.Errorf("unexpected report: %+v", report)
	}
	items := f.ddb.GetTableContents(table)
	if len(items) != 5 {
		t.Errorf("expected 5 items, got %d", len(items))
	}
	if _, ok := items["docId=doc-07"]; !ok {
		t.Error("doc-07 missing")
	}
	state, _ := f.store.Load(context.Background())
	if !state.Done || state.Offset != int64(len(content)) {
		t.Errorf("unexpected final checkpoint: %+v", state)
	}
}
