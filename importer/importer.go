// Package importer seeds the tracking table from a JSON Lines manifest in S3.
// It streams the manifest sequentially, writes records in batches and saves a
// checkpoint so an interrupted run resumes after the last written line. Each
// line replaces the record stored under its docId.
package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gurre/s3streamer"
	"go.uber.org/zap"

	"github.com/gurre/docreview/checkpoint"
	"github.com/gurre/docreview/config"
	"github.com/gurre/docreview/itemimage"
	"github.com/gurre/docreview/logging"
	"github.com/gurre/docreview/metrics"
	"github.com/gurre/docreview/writer"
)

// ErrStopped is returned when the run was stopped before the manifest ended.
// Everything read before the stop is written and checkpointed.
var ErrStopped = errors.New("import stopped")

// ReportUploader uploads reports to S3.
type ReportUploader interface {
	UploadReport(ctx context.Context, uri string, report metrics.Report) error
}

const (
	// defaultCheckpointInterval is the number of batches between checkpoint saves.
	defaultCheckpointInterval = 100
	// maxStreamAttempts bounds how often a failed manifest stream is restarted.
	maxStreamAttempts = 3
)

// Importer runs one import.
type Importer struct {
	cfg      *config.Import
	streamer s3streamer.Streamer
	decoder  itemimage.Decoder
	writer   writer.Writer
	store    checkpoint.Store
	uploader ReportUploader
	metrics  *metrics.Metrics
	logger   *zap.Logger

	stop               <-chan struct{}
	runID              string
	checkpointInterval int
	progressInterval   time.Duration
	retryDelay         time.Duration
}

// Option configures an Importer.
type Option func(*Importer)

// WithCheckpointInterval saves a checkpoint every n batches.
func WithCheckpointInterval(n int) Option {
	return func(im *Importer) {
		if n > 0 {
			im.checkpointInterval = n
		}
	}
}

// WithProgressInterval sets how often progress is logged. Zero disables it.
func WithProgressInterval(d time.Duration) Option {
	return func(im *Importer) { im.progressInterval = d }
}

// WithRetryDelay sets the first delay before a failed stream is restarted.
func WithRetryDelay(d time.Duration) Option {
	return func(im *Importer) { im.retryDelay = d }
}

// WithStop makes the run stop reading lines once stop is closed. The pending
// batch is still written and checkpointed.
func WithStop(stop <-chan struct{}) Option {
	return func(im *Importer) { im.stop = stop }
}

// WithMetrics replaces the metrics collector, e.g. to share it with the writer.
func WithMetrics(m *metrics.Metrics) Option {
	return func(im *Importer) { im.metrics = m }
}

// New creates an Importer. uploader may be nil when no report is uploaded.
func New(
	cfg *config.Import,
	streamer s3streamer.Streamer,
	decoder itemimage.Decoder,
	w writer.Writer,
	store checkpoint.Store,
	uploader ReportUploader,
	logger *zap.Logger,
	opts ...Option,
) *Importer {
	im := &Importer{
		cfg:                cfg,
		streamer:           streamer,
		decoder:            decoder,
		writer:             w,
		store:              store,
		uploader:           uploader,
		metrics:            metrics.NewMetrics(),
		logger:             logging.OrNop(logger),
		runID:              uuid.NewString(),
		checkpointInterval: defaultCheckpointInterval,
		progressInterval:   5 * time.Second,
		retryDelay:         time.Second,
	}
	for _, opt := range opts {
		opt(im)
	}
	im.logger = im.logger.With(zap.String("runId", im.runID))
	return im
}

// RunID identifies this run in logs, checkpoints and the report.
func (im *Importer) RunID() string {
	return im.runID
}

// Run imports the manifest and returns the final report.
func (im *Importer) Run(ctx context.Context) (metrics.Report, error) {
	source := im.cfg.ManifestS3URI

	state, err := im.store.Load(ctx)
	if err != nil {
		return metrics.Report{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	resuming := state.Resumes(source)
	if resuming && state.Done {
		im.logger.Info("manifest already imported", zap.String("source", source), zap.String("previousRunId", state.RunID))
		return im.report(), nil
	}
	cur := &cursor{}
	if resuming {
		cur.pos, cur.saved, cur.seen = state.Offset, state.Offset, state.Offset
		im.logger.Info("resuming import",
			zap.String("source", source),
			zap.String("previousRunId", state.RunID),
			zap.Int64("offset", cur.pos),
		)
	} else {
		im.logger.Info("starting import", zap.String("source", source), zap.String("table", im.cfg.TableName), zap.Bool("dryRun", im.cfg.DryRun))
	}

	if im.progressInterval > 0 {
		progressCtx, stop := context.WithCancel(ctx)
		defer stop()
		go im.reportProgress(progressCtx)
	}

	var streamErr error
	for attempt := 0; attempt < maxStreamAttempts; attempt++ {
		if attempt > 0 {
			delay := im.retryDelay * time.Duration(1<<uint(attempt-1))
			im.logger.Warn("restarting manifest stream",
				zap.Int("attempt", attempt+1),
				zap.Int64("offset", cur.pos),
				zap.Duration("delay", delay),
				zap.Error(streamErr),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return im.report(), ctx.Err()
			}
		}

		streamErr = im.stream(ctx, source, cur)
		if errors.Is(streamErr, ErrStopped) {
			im.logger.Warn("import stopped", zap.Int64("offset", cur.pos))
			return im.report(), ErrStopped
		}
		if streamErr == nil || errors.Is(streamErr, context.Canceled) || errors.Is(streamErr, context.DeadlineExceeded) {
			break
		}
		im.metrics.RecordError()
	}
	if streamErr != nil {
		return im.report(), fmt.Errorf("failed to import %s after %d attempts: %w", source, maxStreamAttempts, streamErr)
	}

	if err := im.writer.Flush(ctx); err != nil {
		return im.report(), fmt.Errorf("failed to flush writer: %w", err)
	}

	if !im.cfg.DryRun {
		if err := im.store.Save(ctx, checkpoint.State{
			RunID:  im.runID,
			Source: source,
			Offset: cur.pos,
			Done:   true,
		}); err != nil {
			return im.report(), fmt.Errorf("failed to save completion checkpoint: %w", err)
		}
	}

	report := im.report()
	im.logger.Info("import finished",
		zap.Int64("items", report.TotalItems),
		zap.Int64("written", report.ItemsWritten),
		zap.Int64("corrupt", report.CorruptCount),
		zap.Duration("duration", report.Duration),
	)

	if im.cfg.ReportS3URI != "" && im.uploader != nil {
		if err := im.uploader.UploadReport(ctx, im.cfg.ReportS3URI, report); err != nil {
			return report, fmt.Errorf("failed to upload report: %w", err)
		}
		im.logger.Info("report uploaded", zap.String("uri", im.cfg.ReportS3URI))
	}
	return report, nil
}

// cursor tracks byte positions in the manifest across stream passes.
type cursor struct {
	pos   int64 // first byte after the last written line
	saved int64 // pos as of the last saved checkpoint
	seen  int64 // first byte after the furthest line read in this run
}

// compressed reports whether key names a manifest s3streamer decompresses.
// Line positions in those refer to the decompressed stream and cannot be
// used as a range start.
func compressed(key string) bool {
	for _, c := range []s3streamer.Compression{s3streamer.Gzip, s3streamer.Bzip2} {
		if strings.HasSuffix(key, c.Extension()) {
			return true
		}
	}
	return false
}

// stream makes one pass over the manifest from cur.pos and advances it as
// batches are written. A failed pass drops its unwritten batch; the next pass
// re-reads those lines.
func (im *Importer) stream(ctx context.Context, source string, cur *cursor) error {
	batchSize := im.cfg.BatchSize
	batch := make([]itemimage.Operation, 0, batchSize)
	read := cur.pos
	var batchesSinceCheckpoint int

	// Start on the newline ending the last written line: a checkpoint at the
	// end of the object is still a valid range start. Compressed manifests
	// are read from the beginning.
	var start int64
	if cur.pos > 0 && !compressed(im.cfg.ManifestKey()) {
		start = cur.pos - 1
	}

	flush := func(force bool) error {
		if len(batch) > 0 {
			if err := im.writeBatch(ctx, batch); err != nil {
				return err
			}
			batch = batch[:0]
			batchesSinceCheckpoint++
		}
		cur.pos = read
		if cur.pos == cur.saved {
			return nil
		}
		if force || batchesSinceCheckpoint >= im.checkpointInterval {
			batchesSinceCheckpoint = 0
			if err := im.saveCheckpoint(ctx, source, cur.pos); err != nil {
				return err
			}
			cur.saved = cur.pos
		}
		return nil
	}

	err := im.streamer.Stream(ctx, im.cfg.ManifestBucket(), im.cfg.ManifestKey(), start, func(line []byte, offset int64) error {
		select {
		case <-im.stop:
			return ErrStopped
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		at := start + offset
		if at < cur.pos {
			return nil
		}
		next := at + int64(len(line)) + 1
		fresh := next > cur.seen
		cur.seen = max(cur.seen, next)
		if len(line) == 0 {
			read = next
			return nil
		}

		op, err := im.decoder.Decode(line)
		if errors.Is(err, itemimage.ErrCorrupt) {
			if fresh {
				im.metrics.RecordCorrupt()
				im.logger.Warn("skipping corrupt line", zap.Int64("offset", at), zap.Error(err))
			}
			read = next
			return nil
		}
		if err != nil {
			return err
		}

		batch = append(batch, op)
		read = next
		if len(batch) >= batchSize {
			return flush(false)
		}
		return nil
	})
	if errors.Is(err, ErrStopped) {
		if ferr := flush(true); ferr != nil {
			return ferr
		}
		return ErrStopped
	}
	if err != nil {
		return err
	}
	// Run saves the completion checkpoint.
	return flush(false)
}

// writeBatch writes batch and counts its lines as processed once they are
// written, so lines re-read after a failed pass are counted once.
func (im *Importer) writeBatch(ctx context.Context, batch []itemimage.Operation) error {
	if im.cfg.DryRun {
		im.metrics.RecordProcessed(len(batch))
		return nil
	}
	start := time.Now()
	if err := im.writer.WriteBatch(ctx, batch); err != nil {
		im.metrics.RecordError()
		return fmt.Errorf("failed to write batch: %w", err)
	}
	im.metrics.RecordProcessingTime(time.Since(start))
	im.metrics.RecordProcessed(len(batch))
	im.metrics.RecordBatchWritten(len(batch))
	return nil
}

func (im *Importer) saveCheckpoint(ctx context.Context, source string, offset int64) error {
	if im.cfg.DryRun {
		return nil
	}
	if err := im.store.Save(ctx, checkpoint.State{
		RunID:  im.runID,
		Source: source,
		Offset: offset,
	}); err != nil {
		im.metrics.RecordError()
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (im *Importer) report() metrics.Report {
	r := im.metrics.GenerateReport()
	r.RunID = im.runID
	r.Source = im.cfg.ManifestS3URI
	r.Table = im.cfg.TableName
	r.DryRun = im.cfg.DryRun
	return r
}

// reportProgress logs counters until ctx ends.
func (im *Importer) reportProgress(ctx context.Context) {
	ticker := time.NewTicker(im.progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			processed, written := im.metrics.Snapshot()
			im.logger.Info("import progress", zap.Int64("processed", processed), zap.Int64("written", written))
		case <-ctx.Done():
			return
		}
	}
}
