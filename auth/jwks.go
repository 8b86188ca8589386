package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/gurre/docreview/logging"
)

// DefaultJWKSRefresh bounds how often an unknown kid triggers a refetch.
const DefaultJWKSRefresh = time.Minute

// CognitoJWKSURL returns the key set URL of a Cognito issuer.
func CognitoJWKSURL(issuer string) string {
	return issuer + "/.well-known/jwks.json"
}

// NewJWKSKeyfunc returns a keyfunc over the key set at url, such as the one a
// Cognito user pool publishes. The set is fetched once here, refreshed in the
// background until ctx ends, and refetched at most every DefaultJWKSRefresh
// when a token names an unknown kid. A failed first fetch is logged, not
// returned. A nil client uses http.DefaultClient.
func NewJWKSKeyfunc(ctx context.Context, url string, client *http.Client, logger *zap.Logger) (jwt.Keyfunc, error) {
	logger = logging.OrNop(logger)
	k, err := keyfunc.NewDefaultOverrideCtx(ctx, []string{url}, keyfunc.Override{
		Client:            client,
		HTTPTimeout:       5 * time.Second,
		RateLimitWaitMax:  time.Second,
		RefreshUnknownKID: rate.NewLimiter(rate.Every(DefaultJWKSRefresh), 1),
		RefreshErrorHandlerFunc: func(u string) func(context.Context, error) {
			return func(_ context.Context, err error) {
				logger.Warn("failed to refresh JWKS", zap.String("url", u), zap.Error(err))
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS keyfunc: %w", err)
	}
	return k.Keyfunc, nil
}
