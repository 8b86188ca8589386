// Package signup implements the Cognito pre-sign-up trigger that admits only
// allow-listed email addresses.
package signup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/gurre/docreview/logging"
)

var (
	// ErrEmailRequired is returned when the sign-up carries no email attribute.
	ErrEmailRequired = errors.New("email is required")

	// ErrSignupRejected is returned for emails outside the allow-list.
	ErrSignupRejected = errors.New("email is not authorized to sign up")
)

// Allowlist is a set of normalised email addresses.
type Allowlist map[string]struct{}

// ParseAllowlist splits a comma-separated list, trimming and lower-casing
// entries and dropping blanks.
func ParseAllowlist(s string) Allowlist {
	a := Allowlist{}
	for _, e := range strings.Split(s, ",") {
		if e = normalize(e); e != "" {
			a[e] = struct{}{}
		}
	}
	return a
}

// Allowed reports whether email is on the list, ignoring case and
// surrounding whitespace.
func (a Allowlist) Allowed(email string) bool {
	email = normalize(email)
	if email == "" {
		return false
	}
	_, ok := a[email]
	return ok
}

// Entries returns the list sorted.
func (a Allowlist) Entries() []string {
	out := make([]string, 0, len(a))
	for e := range a {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Gate handles pre-sign-up events.
type Gate struct {
	allow  Allowlist
	logger *zap.Logger
}

// NewGate creates a gate over allow.
func NewGate(allow Allowlist, logger *zap.Logger) *Gate {
	return &Gate{allow: allow, logger: logging.OrNop(logger)}
}

// Handle admits allow-listed users, auto-confirming them and marking their
// email verified. Any error aborts the sign-up in Cognito.
func (g *Gate) Handle(ctx context.Context, event events.CognitoEventUserPoolsPreSignup) (events.CognitoEventUserPoolsPreSignup, error) {
	email := event.Request.UserAttributes["email"]
	if strings.TrimSpace(email) == "" {
		g.logger.Warn("sign-up without email", zap.String("userName", event.UserName))
		return event, ErrEmailRequired
	}
	if !g.allow.Allowed(email) {
		g.logger.Warn("sign-up rejected", zap.String("email", email))
		return event, fmt.Errorf("%w: %s", ErrSignupRejected, email)
	}

	event.Response.AutoConfirmUser = true
	event.Response.AutoVerifyEmail = true
	g.logger.Info("sign-up admitted", zap.String("email", email))
	return event, nil
}
