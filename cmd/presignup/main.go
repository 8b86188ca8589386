// Command presignup is the Cognito pre-sign-up trigger that admits only
// allow-listed email addresses.
package main

import (
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/gurre/docreview/config"
	"github.com/gurre/docreview/logging"
	"github.com/gurre/docreview/signup"
)

func main() {
	logger, err := logging.New(logging.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	allow := signup.ParseAllowlist(config.SignupFromEnv().WhitelistEmails)
	logger.Info("signup gate ready", zap.Int("allowed", len(allow)))

	lambda.Start(signup.NewGate(allow, logger).Handle)
}
