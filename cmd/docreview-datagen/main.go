// Command docreview-datagen generates classified documents for development:
// random records of every document type written to a bucket or a directory,
// plus a JSON Lines manifest for tracking-import.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/gurre/docreview/aws"
	"github.com/gurre/docreview/document"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg Config
	var bucket, outDir, region string

	flag.IntVar(&cfg.Count, "count", 20, "Number of documents to generate")
	flag.StringVar(&cfg.Prefix, "prefix", "classified", "Key prefix of generated documents")
	flag.StringVar(&cfg.ManifestKey, "manifest", "manifests/datagen.jsonl", "Key of the import manifest (empty = none)")
	flag.Int64Var(&cfg.Seed, "seed", 0, "Random seed (0 = time-based)")
	flag.StringVar(&bucket, "bucket", os.Getenv("BUCKET_NAME"), "Bucket to write to")
	flag.StringVar(&outDir, "out", "", "Directory to write to instead of a bucket")
	flag.StringVar(&region, "region", os.Getenv("AWS_REGION"), "AWS region")
	flag.Parse()

	if cfg.Count < 1 {
		return fmt.Errorf("count must be positive")
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	fmt.Printf("Using seed: %d\n", cfg.Seed)

	ctx := context.Background()
	var sink Sink
	var where string
	switch {
	case outDir != "":
		sink = &DirSink{dir: outDir}
		where = outDir
	case bucket != "":
		opts := []func(*awsconfig.LoadOptions) error{}
		if region != "" {
			opts = append(opts, awsconfig.WithRegion(region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return fmt.Errorf("unable to load SDK config: %w", err)
		}
		sink = &S3Sink{client: aws.NewS3Client(s3.NewFromConfig(awsCfg)), bucket: bucket}
		where = "s3://" + bucket
	default:
		return fmt.Errorf("either -bucket or -out is required")
	}

	res, err := Generate(ctx, sink, cfg)
	if err != nil {
		return err
	}

	fmt.Printf("Documents written to %s: %d\n", where, res.Documents)
	types := make([]string, 0, len(res.ByType))
	for t := range res.ByType {
		types = append(types, string(t))
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Printf("  %s: %d\n", t, res.ByType[document.DocType(t)])
	}
	fmt.Printf("Already reviewed: %d\n", res.Reviewed)
	if cfg.ManifestKey != "" {
		fmt.Printf("Manifest: %s/%s\n", where, cfg.ManifestKey)
	}
	return nil
}
