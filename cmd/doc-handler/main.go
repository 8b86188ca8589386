// Command doc-handler is the Lambda function behind GET and POST /doc.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/gurre/docreview/auth"
	"github.com/gurre/docreview/aws"
	"github.com/gurre/docreview/config"
	"github.com/gurre/docreview/docstore"
	"github.com/gurre/docreview/handler"
	"github.com/gurre/docreview/logging"
	"github.com/gurre/docreview/tracking"
)

func main() {
	logger, err := logging.New(logging.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	h, err := build(context.Background(), logger)
	if err != nil {
		logger.Fatal("failed to initialize document handler", zap.Error(err))
	}
	lambda.Start(h.Handle)
}

func build(ctx context.Context, logger *zap.Logger) (*handler.DocHandler, error) {
	cfg := config.HandlerFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	docs := docstore.NewS3Store(aws.NewS3Client(s3.NewFromConfig(awsCfg)), cfg.BucketName)
	tr := tracking.NewDynamoDBStore(aws.NewDynamoDBClient(dynamodb.NewFromConfig(awsCfg)), cfg.TableName)
	validator, err := auth.ForHandler(ctx, cfg, nil, logger)
	if err != nil {
		return nil, err
	}
	authn := auth.NewAuthenticator(validator)

	logger.Info("document handler ready",
		zap.String("bucket", cfg.BucketName),
		zap.String("table", cfg.TableName),
	)
	return handler.New(cfg, docs, tr, authn, logger), nil
}
