// Package auth verifies the session tokens reviewers present to the document
// handler. In AWS the API Gateway Cognito authorizer has already verified the
// token and passes its claims along; elsewhere the Authorization header is
// validated here.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned when a request carries no acceptable token.
var ErrUnauthorized = errors.New("unauthorized")

// Claims are the Cognito ID token claims the handler uses.
type Claims struct {
	jwt.RegisteredClaims
	Email    string `json:"email,omitempty"`
	TokenUse string `json:"token_use,omitempty"`
	Username string `json:"cognito:username,omitempty"`
}

// Validator verifies a raw token and returns its claims.
type Validator interface {
	Validate(ctx context.Context, token string) (*Claims, error)
}

// JWTValidator validates signed JWTs against a key function.
type JWTValidator struct {
	keyfunc  jwt.Keyfunc
	issuer   string
	audience string
	methods  []string
}

// NewJWTValidator creates a validator. Empty issuer or audience skips that
// check. methods restricts the accepted signing algorithms.
func NewJWTValidator(keyfunc jwt.Keyfunc, issuer, audience string, methods ...string) *JWTValidator {
	return &JWTValidator{keyfunc: keyfunc, issuer: issuer, audience: audience, methods: methods}
}

// Validate parses the token and checks signature, expiry, issuer, audience
// and token_use.
func (v *JWTValidator) Validate(ctx context.Context, token string) (*Claims, error) {
	if v == nil || v.keyfunc == nil {
		return nil, fmt.Errorf("validator uninitialized")
	}

	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if len(v.methods) > 0 {
		opts = append(opts, jwt.WithValidMethods(v.methods))
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.keyfunc, opts...)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	// Access tokens carry no email and are not accepted by the API
	if claims.TokenUse != "" && claims.TokenUse != "id" {
		return nil, fmt.Errorf("unexpected token_use %q", claims.TokenUse)
	}
	return claims, nil
}

// NewHMACKeyfunc returns a key function for HS256/384/512 tokens signed with
// secret. Used for locally minted development tokens.
func NewHMACKeyfunc(secret []byte) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}
}

// SignHMAC mints an HS256 ID token for subject/email valid for ttl.
func SignHMAC(secret []byte, issuer, subject, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email:    email,
		TokenUse: "id",
		Username: subject,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Authenticator decides whether an API Gateway request is authenticated.
type Authenticator struct {
	validator Validator
}

// NewAuthenticator creates an authenticator. A nil validator accepts only
// requests that API Gateway has already authorized.
func NewAuthenticator(v Validator) *Authenticator {
	return &Authenticator{validator: v}
}

// Authenticate returns the caller's claims. Authorizer claims injected by API
// Gateway are trusted as-is; otherwise the Authorization header must carry a
// valid token, with or without the Bearer scheme.
func (a *Authenticator) Authenticate(ctx context.Context, req events.APIGatewayProxyRequest) (*Claims, error) {
	if claims, ok := authorizerClaims(req); ok {
		return claims, nil
	}

	token := BearerToken(header(req.Headers, "Authorization"))
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}
	if a == nil || a.validator == nil {
		return nil, fmt.Errorf("%w: token validation not configured", ErrUnauthorized)
	}
	claims, err := a.validator.Validate(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return claims, nil
}

// BearerToken strips an optional Bearer scheme from an Authorization value.
func BearerToken(value string) string {
	value = strings.TrimSpace(value)
	if len(value) > 7 && strings.EqualFold(value[:7], "bearer ") {
		return strings.TrimSpace(value[7:])
	}
	return value
}

func header(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func authorizerClaims(req events.APIGatewayProxyRequest) (*Claims, bool) {
	raw, ok := req.RequestContext.Authorizer["claims"].(map[string]any)
	if !ok || len(raw) == 0 {
		return nil, false
	}
	str := func(k string) string {
		s, _ := raw[k].(string)
		return s
	}
	c := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: str("sub"),
			Issuer:  str("iss"),
		},
		Email:    str("email"),
		TokenUse: str("token_use"),
		Username: str("cognito:username"),
	}
	if c.Subject == "" && c.Username == "" {
		return nil, false
	}
	return c, true
}
