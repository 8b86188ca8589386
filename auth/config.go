package auth

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/gurre/docreview/config"
)

// ForHandler picks the header validator for a handler configuration: the
// user pool's JWKS when a pool is configured, the shared HMAC secret when
// one is set, otherwise nil so only authorizer claims are accepted. ctx ends
// the JWKS background refresh.
func ForHandler(ctx context.Context, cfg *config.Handler, client *http.Client, logger *zap.Logger) (Validator, error) {
	switch {
	case cfg.UserPoolID != "":
		kf, err := NewJWKSKeyfunc(ctx, CognitoJWKSURL(cfg.Issuer()), client, logger)
		if err != nil {
			return nil, err
		}
		return NewJWTValidator(kf, cfg.Issuer(), cfg.ClientID, "RS256"), nil
	case cfg.AuthHMACSecret != "":
		return NewJWTValidator(NewHMACKeyfunc([]byte(cfg.AuthHMACSecret)), "", "", "HS256"), nil
	default:
		return nil, nil
	}
}
