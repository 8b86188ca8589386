// Package metrics counts what a tracking import did and produces the final
// report printed to the console and optionally uploaded to S3.
package metrics

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	json "github.com/goccy/go-json"

	"github.com/gurre/docreview/aws"
)

// Metrics collects import counters. Counters are updated atomically.
type Metrics struct {
	mu sync.RWMutex

	recordsProcessed int64 // Lines decoded into tracking records
	itemsWritten     int64 // Records acknowledged by DynamoDB
	batchesWritten   int64 // BatchWriteItem batches completed
	errors           int64 // Errors encountered, including retried ones
	corruptCount     int64 // Lines that could not be decoded
	throttled        int64 // Throttling responses from DynamoDB

	processingTime time.Duration // Time spent writing batches
	startTime      time.Time
}

// NewMetrics starts the clock.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// RecordProcessed counts n manifest lines whose records were handed to the
// table, or counted in a dry run.
func (m *Metrics) RecordProcessed(n int) {
	atomic.AddInt64(&m.recordsProcessed, int64(n))
}

// RecordBatchWritten counts a completed batch of n items.
func (m *Metrics) RecordBatchWritten(n int) {
	atomic.AddInt64(&m.batchesWritten, 1)
	atomic.AddInt64(&m.itemsWritten, int64(n))
}

// RecordError counts an error.
func (m *Metrics) RecordError() {
	atomic.AddInt64(&m.errors, 1)
}

// RecordCorrupt counts an undecodable line.
func (m *Metrics) RecordCorrupt() {
	atomic.AddInt64(&m.corruptCount, 1)
}

// RecordThrottled counts a throttled write attempt.
func (m *Metrics) RecordThrottled() {
	atomic.AddInt64(&m.throttled, 1)
}

// RecordProcessingTime adds the time spent writing one batch.
func (m *Metrics) RecordProcessingTime(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processingTime += d
}

// Snapshot returns the processed and written counters.
func (m *Metrics) Snapshot() (processed, written int64) {
	return atomic.LoadInt64(&m.recordsProcessed), atomic.LoadInt64(&m.itemsWritten)
}

// Report is the final summary of an import.
type Report struct {
	RunID          string        `json:"runId"`
	Source         string        `json:"source"`
	Table          string        `json:"table"`
	DryRun         bool          `json:"dryRun"`
	StartTime      time.Time     `json:"startTime"`
	EndTime        time.Time     `json:"endTime"`
	TotalItems     int64         `json:"totalItems"`
	ItemsWritten   int64         `json:"itemsWritten"`
	BatchesWritten int64         `json:"batchesWritten"`
	CorruptCount   int64         `json:"corruptCount"`
	Errors         int64         `json:"errors"`
	Throttled      int64         `json:"throttled"`
	WriteTime      time.Duration `json:"writeTime"`
	Duration       time.Duration `json:"duration"`
	Throughput     float64       `json:"throughput"` // Items processed per second
}

// GenerateReport snapshots the counters. The caller fills in RunID, Source,
// Table and DryRun.
func (m *Metrics) GenerateReport() Report {
	endTime := time.Now()
	duration := endTime.Sub(m.startTime)
	processed := atomic.LoadInt64(&m.recordsProcessed)

	var throughput float64
	if duration > 0 {
		throughput = float64(processed) / duration.Seconds()
	}

	m.mu.RLock()
	writeTime := m.processingTime
	m.mu.RUnlock()

	return Report{
		StartTime:      m.startTime,
		EndTime:        endTime,
		TotalItems:     processed,
		ItemsWritten:   atomic.LoadInt64(&m.itemsWritten),
		BatchesWritten: atomic.LoadInt64(&m.batchesWritten),
		CorruptCount:   atomic.LoadInt64(&m.corruptCount),
		Errors:         atomic.LoadInt64(&m.errors),
		Throttled:      atomic.LoadInt64(&m.throttled),
		WriteTime:      writeTime,
		Duration:       duration,
		Throughput:     throughput,
	}
}

// MarshalJSON renders durations as strings.
func (r Report) MarshalJSON() ([]byte, error) {
	type Alias Report
	return json.Marshal(&struct {
		Alias
		WriteTime string `json:"writeTime"`
		Duration  string `json:"duration"`
	}{
		Alias:     Alias(r),
		WriteTime: r.WriteTime.String(),
		Duration:  r.Duration.String(),
	})
}

// String is the console form of the report.
func (r Report) String() string {
	verb := "Import"
	if r.DryRun {
		verb = "Dry run"
	}
	return fmt.Sprintf(
		"%s completed in %s\n"+
			"Total items: %d\n"+
			"Items written: %d\n"+
			"Corrupt items: %d\n"+
			"Throttled writes: %d\n"+
			"Throughput: %.2f items/sec",
		verb,
		r.Duration,
		r.TotalItems,
		r.ItemsWritten,
		r.CorruptCount,
		r.Throttled,
		r.Throughput,
	)
}

// S3Uploader writes reports to S3 as JSON.
type S3Uploader struct {
	client aws.S3Client
}

// NewS3Uploader creates an uploader.
func NewS3Uploader(client aws.S3Client) *S3Uploader {
	return &S3Uploader{client: client}
}

// UploadReport writes report to an s3://bucket/key URI.
func (u *S3Uploader) UploadReport(ctx context.Context, uri string, report Report) error {
	parsed, err := url.Parse(uri)
	if err != nil || parsed.Scheme != "s3" || parsed.Host == "" {
		return fmt.Errorf("invalid report URI: %s", uri)
	}
	bucket := parsed.Host
	key := strings.TrimPrefix(parsed.Path, "/")
	if key == "" {
		return fmt.Errorf("report URI has no key: %s", uri)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	contentType := "application/json"
	if _, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	}); err != nil {
		return fmt.Errorf("failed to upload report: %w", err)
	}
	return nil
}
