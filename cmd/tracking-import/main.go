// Command tracking-import seeds the tracking table from a JSON Lines manifest
// in S3, one record per line keyed by docId.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gurre/s3streamer"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/gurre/docreview/aws"
	"github.com/gurre/docreview/checkpoint"
	"github.com/gurre/docreview/config"
	"github.com/gurre/docreview/importer"
	"github.com/gurre/docreview/itemimage"
	"github.com/gurre/docreview/logging"
	"github.com/gurre/docreview/metrics"
	"github.com/gurre/docreview/writer"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := flag.NewFlagSet("tracking-import", flag.ExitOnError)

	tableName := fs.String("table", os.Getenv("TABLE_NAME"), "Tracking table to write to")
	manifestURI := fs.String("manifest", "", "S3 URI of the JSON Lines manifest (s3://bucket/key)")
	region := fs.String("region", os.Getenv("AWS_REGION"), "AWS region")
	resumeKey := fs.String("resume", "", "Checkpoint location (s3://bucket/key or file:///path)")
	batchSize := fs.Int("batch", 25, "Batch size for DynamoDB writes (max 25)")
	wps := fs.Float64("wps", 0, "Maximum items written per second (0 = unlimited)")
	reportURI := fs.String("report", "", "S3 URI for the final report")
	dryRun := fs.Bool("dry-run", false, "Decode and count the manifest without writing")
	shutdownTimeout := fs.Duration("shutdown-timeout", time.Minute, "Time allowed to finish the current batch after an interrupt")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	cfg := &config.Import{
		TableName:       *tableName,
		ManifestS3URI:   *manifestURI,
		Region:          *region,
		ResumeKey:       *resumeKey,
		BatchSize:       *batchSize,
		WritesPerSecond: *wps,
		ReportS3URI:     *reportURI,
		DryRun:          *dryRun,
		ShutdownTimeout: *shutdownTimeout,
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(logging.ConfigFromEnv())
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}
	rawS3Client := s3.NewFromConfig(awsCfg)
	s3Client := aws.NewS3Client(rawS3Client)
	dynamoClient := aws.NewDynamoDBClient(dynamodb.NewFromConfig(awsCfg))

	store, err := checkpoint.Open(s3Client, cfg.ResumeKey)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	m := metrics.NewMetrics()
	writerOpts := []writer.Option{writer.WithThrottleHook(m.RecordThrottled)}
	if cfg.WritesPerSecond > 0 {
		burst := max(int(cfg.WritesPerSecond), cfg.BatchSize)
		writerOpts = append(writerOpts, writer.WithLimiter(rate.NewLimiter(rate.Limit(cfg.WritesPerSecond), burst)))
	}
	ddbWriter := writer.NewDynamoDBWriter(dynamoClient, cfg.TableName, cfg.BatchSize, writerOpts...)

	// The first signal stops reading new lines; the shutdown timeout bounds
	// how long the pending batch may take after that.
	stopCh := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
			return
		}
		logger.Warn("interrupted, finishing the pending batch", zap.Duration("timeout", cfg.ShutdownTimeout))
		close(stopCh)
		select {
		case <-time.After(cfg.ShutdownTimeout):
			cancel()
		case <-ctx.Done():
		}
	}()

	im := importer.New(
		cfg,
		s3streamer.NewS3Streamer(rawS3Client),
		itemimage.NewJSONDecoder(),
		ddbWriter,
		store,
		metrics.NewS3Uploader(s3Client),
		logger,
		importer.WithMetrics(m),
		importer.WithStop(stopCh),
	)

	report, err := im.Run(ctx)
	fmt.Println(report)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	return nil
}
