package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Import holds the configuration of the tracking import tool.
type Import struct {
	TableName       string        // Target tracking table
	ManifestS3URI   string        // JSON Lines manifest (s3://bucket/key)
	Region          string        // AWS region for the operation
	ResumeKey       string        // Checkpoint location (s3:// or file://)
	BatchSize       int           // Batch size for DynamoDB writes (≤25)
	WritesPerSecond float64       // Item write rate limit, 0 disables limiting
	ReportS3URI     string        // S3 URI for the final report
	DryRun          bool          // Decode and count without writing
	ShutdownTimeout time.Duration // Graceful shutdown timeout

	// Internal fields
	manifestBucket string
	manifestKey    string
}

// ManifestBucket returns the bucket parsed from ManifestS3URI
func (c *Import) ManifestBucket() string {
	return c.manifestBucket
}

// ManifestKey returns the key parsed from ManifestS3URI
func (c *Import) ManifestKey() string {
	return c.manifestKey
}

// Validate ensures all required fields are present and have valid values.
func (c *Import) Validate() error {
	if c.TableName == "" {
		return fmt.Errorf("table name is required")
	}

	if c.ManifestS3URI == "" {
		return fmt.Errorf("manifest S3 URI is required")
	}
	if !strings.HasPrefix(c.ManifestS3URI, "s3://") {
		return fmt.Errorf("manifest S3 URI must start with s3://")
	}
	u, err := url.Parse(c.ManifestS3URI)
	if err != nil {
		return fmt.Errorf("invalid manifest S3 URI: %w", err)
	}
	c.manifestBucket = u.Host
	c.manifestKey = strings.TrimPrefix(u.Path, "/")
	if c.manifestBucket == "" || c.manifestKey == "" {
		return fmt.Errorf("manifest S3 URI must be s3://bucket/key")
	}

	if c.Region == "" {
		return fmt.Errorf("region is required")
	}

	if c.BatchSize < 1 || c.BatchSize > 25 {
		return fmt.Errorf("batch size must be between 1 and 25")
	}

	if c.WritesPerSecond < 0 {
		return fmt.Errorf("writes per second must not be negative")
	}

	if c.ResumeKey != "" && !strings.HasPrefix(c.ResumeKey, "s3://") && !strings.HasPrefix(c.ResumeKey, "file://") {
		return fmt.Errorf("resume key must start with s3:// or file://")
	}

	if c.ReportS3URI != "" && !strings.HasPrefix(c.ReportS3URI, "s3://") {
		return fmt.Errorf("report S3 URI must start with s3://")
	}

	if c.ShutdownTimeout < time.Second {
		return fmt.Errorf("shutdown timeout must be at least 1 second")
	}

	return nil
}

// Preflight holds the configuration of the IAM permission check.
type Preflight struct {
	RoleARN    string // Execution role of the document handler
	TableName  string // Tracking table
	BucketName string // Document Store bucket
	Region     string // Region of the tracking table
}

// Validate checks the role ARN shape and required names.
func (c *Preflight) Validate() error {
	if c.RoleARN == "" {
		return fmt.Errorf("role ARN is required")
	}
	if _, err := c.AccountID(); err != nil {
		return err
	}
	if c.TableName == "" {
		return fmt.Errorf("table name is required")
	}
	if c.BucketName == "" {
		return fmt.Errorf("bucket name is required")
	}
	if c.Region == "" {
		return fmt.Errorf("region is required")
	}
	return nil
}

// AccountID extracts the account from RoleARN (arn:partition:iam::account:role/name).
func (c *Preflight) AccountID() (string, error) {
	parts := strings.SplitN(c.RoleARN, ":", 6)
	if len(parts) != 6 || parts[0] != "arn" || parts[2] != "iam" || parts[4] == "" {
		return "", fmt.Errorf("invalid role ARN: %s", c.RoleARN)
	}
	return parts[4], nil
}

// Partition returns the ARN partition of RoleARN, defaulting to "aws".
func (c *Preflight) Partition() string {
	parts := strings.SplitN(c.RoleARN, ":", 3)
	if len(parts) < 2 || parts[1] == "" {
		return "aws"
	}
	return parts[1]
}

// Client holds the configuration of the review client.
type Client struct {
	APIURL      string        // Base URL of the API, empty selects offline mode
	Region      string        // Cognito region
	UserPoolID  string        // Cognito user pool, informational
	AppClientID string        // Cognito app client for USER_PASSWORD_AUTH
	Username    string        // Reviewer login
	Password    string        // Reviewer password
	Token       string        // Pre-issued ID token, bypasses Cognito login
	HTTPTimeout time.Duration // Timeout of API calls
}

// Offline reports whether the client should serve the bundled sample.
func (c *Client) Offline() bool {
	return strings.TrimSpace(c.APIURL) == ""
}

// Validate checks that a token can be obtained when the client is online.
func (c *Client) Validate() error {
	if c.HTTPTimeout < 0 {
		return fmt.Errorf("http timeout must not be negative")
	}
	if c.Offline() {
		return nil
	}
	if _, err := url.ParseRequestURI(c.APIURL); err != nil {
		return fmt.Errorf("invalid API URL: %w", err)
	}
	if c.Token != "" {
		return nil
	}
	if c.AppClientID == "" || c.Username == "" || c.Password == "" {
		return fmt.Errorf("either a token or app client id, username and password are required")
	}
	if c.Region == "" {
		return fmt.Errorf("region is required for Cognito login")
	}
	return nil
}
