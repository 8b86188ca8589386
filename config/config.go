// Package config holds the configuration for the document handler, the signup
// gate and the supporting tools. Every config is a plain struct filled from
// flags or the environment and checked with Validate before use.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// DefaultHandlerTimeout matches the execution budget of the deployed functions.
const DefaultHandlerTimeout = 10 * time.Second

// DefaultAllowlist is used when WHITELIST_EMAILS is unset or blank.
const DefaultAllowlist = "user@example.com"

// Handler holds the configuration of the /doc document handler.
type Handler struct {
	BucketName string        // Document Store bucket holding classified JSON blobs
	TableName  string        // Tracking Table keyed by docId
	Region     string        // AWS region, empty means SDK default resolution
	KeyPrefix  string        // Prepended to docId to derive the default object key
	KeySuffix  string        // Appended to docId to derive the default object key
	Timeout    time.Duration // Per-invocation execution budget

	// Token validation outside API Gateway. The deployed API validates tokens
	// with a Cognito authorizer before the handler runs.
	UserPoolID     string // Cognito user pool whose JWKS verifies ID tokens
	ClientID       string // Expected audience of ID tokens, optional
	AuthHMACSecret string // Shared secret for locally minted tokens, never set in AWS
}

// HandlerFromEnv reads the handler configuration from the environment the
// deployment provides.
func HandlerFromEnv() *Handler {
	cfg := &Handler{
		BucketName:     os.Getenv("BUCKET_NAME"),
		TableName:      os.Getenv("TABLE_NAME"),
		Region:         os.Getenv("AWS_REGION"),
		KeyPrefix:      os.Getenv("DOC_KEY_PREFIX"),
		KeySuffix:      os.Getenv("DOC_KEY_SUFFIX"),
		Timeout:        DefaultHandlerTimeout,
		UserPoolID:     os.Getenv("COGNITO_USER_POOL_ID"),
		ClientID:       os.Getenv("COGNITO_CLIENT_ID"),
		AuthHMACSecret: os.Getenv("AUTH_HMAC_SECRET"),
	}
	if v := os.Getenv("HANDLER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Timeout = d
		}
	}
	return cfg
}

// Validate ensures the stores are named and the timeout is usable.
func (c *Handler) Validate() error {
	if c.BucketName == "" || c.TableName == "" {
		return fmt.Errorf("environment variables BUCKET_NAME and TABLE_NAME must be set")
	}
	if strings.Contains(c.BucketName, "/") {
		return fmt.Errorf("bucket name must not contain '/': %s", c.BucketName)
	}
	if c.Timeout < time.Second {
		return fmt.Errorf("handler timeout must be at least 1 second")
	}
	if c.UserPoolID != "" && c.Region == "" {
		return fmt.Errorf("region is required to verify tokens from user pool %s", c.UserPoolID)
	}
	return nil
}

// DocumentKey derives the Document Store key for a docId when the caller
// does not name one.
func (c *Handler) DocumentKey(docID string) string {
	return c.KeyPrefix + docID + c.KeySuffix
}

// Issuer returns the Cognito issuer URL for the configured user pool, or ""
// when no pool is configured.
func (c *Handler) Issuer() string {
	if c.UserPoolID == "" {
		return ""
	}
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", c.Region, c.UserPoolID)
}

// Signup holds the configuration of the pre-sign-up gate.
type Signup struct {
	WhitelistEmails string // Comma-separated allow-list
}

// SignupFromEnv reads WHITELIST_EMAILS, falling back to DefaultAllowlist.
func SignupFromEnv() *Signup {
	v := os.Getenv("WHITELIST_EMAILS")
	if strings.TrimSpace(strings.ReplaceAll(v, ",", "")) == "" {
		v = DefaultAllowlist
	}
	return &Signup{WhitelistEmails: v}
}
