// Command docreview is the reviewer's terminal client. It loads a classified
// document, prints it under its type tab and records approve or reject
// decisions. Without an API URL it shows the bundled sample document.
//
// Usage:
//
//	docreview [flags] view <docId> [s3Key]
//	docreview [flags] prove <docId>
//	docreview [flags] reject <docId>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"go.uber.org/zap"

	"github.com/gurre/docreview/aws"
	"github.com/gurre/docreview/config"
	"github.com/gurre/docreview/document"
	"github.com/gurre/docreview/logging"
	"github.com/gurre/docreview/webclient"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("docreview", flag.ExitOnError)
	apiURL := fs.String("api", os.Getenv("API_URL"), "Base URL of the review API (empty = offline sample)")
	region := fs.String("region", os.Getenv("AWS_REGION"), "Cognito region")
	userPool := fs.String("user-pool", os.Getenv("COGNITO_USER_POOL_ID"), "Cognito user pool id")
	clientID := fs.String("client-id", os.Getenv("COGNITO_CLIENT_ID"), "Cognito app client id")
	username := fs.String("username", os.Getenv("DOCREVIEW_USERNAME"), "Reviewer login")
	password := fs.String("password", os.Getenv("DOCREVIEW_PASSWORD"), "Reviewer password")
	token := fs.String("token", os.Getenv("DOCREVIEW_TOKEN"), "Pre-issued ID token")
	tab := fs.String("tab", "", "Show the document under this type tab")
	timeout := fs.Duration("timeout", 30*time.Second, "Timeout of API calls")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	cfg := &config.Client{
		APIURL:      *apiURL,
		Region:      *region,
		UserPoolID:  *userPool,
		AppClientID: *clientID,
		Username:    *username,
		Password:    *password,
		Token:       *token,
		HTTPTimeout: *timeout,
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(logging.ConfigFromEnv())
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	api, err := newAPIClient(ctx, cfg)
	if err != nil {
		return err
	}
	ctrl := webclient.NewController(api, logger)
	if ctrl.Offline() {
		logger.Info("no API URL configured, showing the bundled sample")
	}

	cmd, rest := "view", fs.Args()
	if len(rest) > 0 {
		cmd, rest = rest[0], rest[1:]
	}

	switch cmd {
	case "view":
		var docID, s3Key string
		if len(rest) > 0 {
			docID = rest[0]
		}
		if len(rest) > 1 {
			s3Key = rest[1]
		}
		return view(ctx, ctrl, docID, s3Key, *tab, out)
	case "prove", "reject":
		if len(rest) != 1 {
			return fmt.Errorf("usage: docreview %s <docId>", cmd)
		}
		status := webclient.StatusProved
		if cmd == "reject" {
			status = webclient.StatusRejected
		}
		res, err := ctrl.UpdateStatus(ctx, rest[0], status)
		if err != nil {
			return err
		}
		logger.Debug("update result", zap.Strings("updated", res.Updated))
		return view(ctx, ctrl, rest[0], "", *tab, out)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func view(ctx context.Context, ctrl *webclient.Controller, docID, s3Key, tab string, out io.Writer) error {
	if _, err := ctrl.FetchDocument(ctx, docID, s3Key); err != nil {
		if errors.Is(err, document.ErrInvalidDocType) {
			return fmt.Errorf("document %s has an unknown type and cannot be shown: %w", docID, err)
		}
		return err
	}
	if tab != "" {
		if err := ctrl.SelectTab(document.DocType(tab)); err != nil {
			return err
		}
	}
	page, ok := ctrl.Page()
	if !ok {
		return fmt.Errorf("no document loaded")
	}
	return page.WriteText(out)
}

func newAPIClient(ctx context.Context, cfg *config.Client) (*webclient.APIClient, error) {
	if cfg.Offline() {
		return nil, nil
	}

	var tokens webclient.TokenSource
	if cfg.Token != "" {
		tokens = webclient.StaticTokenSource(cfg.Token)
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client := aws.NewCognitoClient(cognitoidentityprovider.NewFromConfig(awsCfg))
		tokens = webclient.NewCognitoTokenSource(client, cfg.AppClientID, cfg.Username, cfg.Password)
	}
	return webclient.NewAPIClient(cfg.APIURL, tokens, nil, cfg.HTTPTimeout), nil
}
