// Command docreview-preflight checks that the document handler's execution
// role may read and update the tracking table and read the document bucket.
// It exits non-zero when any required action is denied.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/iam"

	"github.com/gurre/docreview/aws"
	"github.com/gurre/docreview/config"
	"github.com/gurre/docreview/logging"
	"github.com/gurre/docreview/preflight"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := flag.NewFlagSet("docreview-preflight", flag.ExitOnError)
	roleARN := fs.String("role", "", "ARN of the document handler's execution role")
	tableName := fs.String("table", os.Getenv("TABLE_NAME"), "Tracking table")
	bucketName := fs.String("bucket", os.Getenv("BUCKET_NAME"), "Document bucket")
	region := fs.String("region", os.Getenv("AWS_REGION"), "Region of the tracking table")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	cfg := &config.Preflight{
		RoleARN:    *roleARN,
		TableName:  *tableName,
		BucketName: *bucketName,
		Region:     *region,
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(logging.ConfigFromEnv())
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	checker := preflight.NewChecker(aws.NewIAMClient(iam.NewFromConfig(awsCfg)), logger)
	results, err := checker.Check(ctx, cfg)
	if err != nil && !errors.Is(err, preflight.ErrDenied) {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ACTION\tRESOURCE\tDECISION")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Action, r.Resource, r.Decision)
	}
	if ferr := tw.Flush(); ferr != nil {
		return ferr
	}
	return err
}
