// Package aws defines the narrow AWS service surfaces the document-review
// components depend on. Each interface is satisfied by the corresponding SDK
// client and by the in-memory fakes under integration/mock.
package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DynamoDBClient defines the DynamoDB operations used against the tracking table.
// GetItem and UpdateItem serve the document handler; BatchWriteItem serves the
// tracking import.
type DynamoDBClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// S3Client defines the S3 operations for reading classified documents and web
// assets, and for persisting import checkpoints and reports.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// IAMClient defines the IAM operations used by the permission preflight.
type IAMClient interface {
	SimulatePrincipalPolicy(ctx context.Context, params *iam.SimulatePrincipalPolicyInput, optFns ...func(*iam.Options)) (*iam.SimulatePrincipalPolicyOutput, error)
}

// CognitoClient defines the user pool operations the review client needs to
// obtain a session token.
type CognitoClient interface {
	InitiateAuth(ctx context.Context, params *cognitoidentityprovider.InitiateAuthInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.InitiateAuthOutput, error)
}

// Compile-time interface checks to ensure implementations satisfy interfaces
var (
	_ DynamoDBClient = (*DynamoDBClientImpl)(nil)
	_ S3Client       = (*S3ClientImpl)(nil)
	_ IAMClient      = (*IAMClientImpl)(nil)
	_ CognitoClient  = (*CognitoClientImpl)(nil)

	// AWS SDK interface checks to ensure SDK clients satisfy interfaces
	_ DynamoDBClient = (*dynamodb.Client)(nil)
	_ S3Client       = (*s3.Client)(nil)
	_ IAMClient      = (*iam.Client)(nil)
	_ CognitoClient  = (*cognitoidentityprovider.Client)(nil)
)
