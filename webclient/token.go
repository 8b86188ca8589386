package webclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"

	"github.com/gurre/docreview/aws"
)

// ErrUnauthorized is returned when no session token can be obtained or the
// API refuses the one presented.
var ErrUnauthorized = errors.New("no valid session token")

// TokenSource yields the session token attached to API calls.
type TokenSource interface {
	SessionToken(ctx context.Context) (string, error)
}

// StaticTokenSource returns a fixed token.
type StaticTokenSource string

// SessionToken returns the token, or ErrUnauthorized when it is blank.
func (s StaticTokenSource) SessionToken(ctx context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", ErrUnauthorized
	}
	return string(s), nil
}

// expirySkew renews tokens slightly before Cognito expires them.
const expirySkew = 30 * time.Second

// CognitoTokenSource signs in with USER_PASSWORD_AUTH and caches the ID token
// until shortly before it expires.
type CognitoTokenSource struct {
	client   aws.CognitoClient
	clientID string
	username string
	password string
	now      func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewCognitoTokenSource creates a token source for one reviewer.
func NewCognitoTokenSource(client aws.CognitoClient, clientID, username, password string) *CognitoTokenSource {
	return &CognitoTokenSource{
		client:   client,
		clientID: clientID,
		username: username,
		password: password,
		now:      time.Now,
	}
}

// SessionToken returns the cached ID token or signs in again.
func (c *CognitoTokenSource) SessionToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.expires) {
		return c.token, nil
	}

	out, err := c.client.InitiateAuth(ctx, &cognitoidentityprovider.InitiateAuthInput{
		AuthFlow: types.AuthFlowTypeUserPasswordAuth,
		ClientId: &c.clientID,
		AuthParameters: map[string]string{
			"USERNAME": c.username,
			"PASSWORD": c.password,
		},
	})
	if err != nil {
		var notAuthorized *types.NotAuthorizedException
		var userNotFound *types.UserNotFoundException
		if errors.As(err, &notAuthorized) || errors.As(err, &userNotFound) {
			return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return "", fmt.Errorf("failed to sign in: %w", err)
	}
	if out.ChallengeName != "" {
		return "", fmt.Errorf("%w: sign-in requires challenge %s", ErrUnauthorized, out.ChallengeName)
	}
	if out.AuthenticationResult == nil || out.AuthenticationResult.IdToken == nil {
		return "", fmt.Errorf("%w: sign-in returned no ID token", ErrUnauthorized)
	}

	c.token = *out.AuthenticationResult.IdToken
	ttl := time.Duration(out.AuthenticationResult.ExpiresIn) * time.Second
	c.expires = c.now().Add(ttl - expirySkew)
	return c.token, nil
}

var (
	_ TokenSource = StaticTokenSource("")
	_ TokenSource = (*CognitoTokenSource)(nil)
)
