// Command docreview-local runs the review stack on a workstation: the
// document handler and static assets behind a local HTTP server, direct
// handler invocations, and locally signed session tokens.
//
// Usage:
//
//	docreview-local [flags] serve
//	docreview-local [flags] invoke get <docId> [s3Key]
//	docreview-local [flags] invoke update <docId> <json>
//	docreview-local [flags] token [email]
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	json "github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/gurre/docreview/assets"
	"github.com/gurre/docreview/auth"
	"github.com/gurre/docreview/aws"
	"github.com/gurre/docreview/config"
	"github.com/gurre/docreview/docstore"
	"github.com/gurre/docreview/handler"
	"github.com/gurre/docreview/itemimage"
	"github.com/gurre/docreview/logging"
	"github.com/gurre/docreview/server"
	"github.com/gurre/docreview/tracking"
)

// localIssuer is the issuer of locally signed tokens.
const localIssuer = "docreview-local"

type options struct {
	envFile      string
	addr         string
	docsDir      string
	webDir       string
	trackingSeed string
	memory       bool
	ttl          time.Duration
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("docreview-local", flag.ExitOnError)
	var o options
	fs.StringVar(&o.envFile, "env", ".env", "Environment file to load, missing files are ignored")
	fs.StringVar(&o.addr, "addr", ":8080", "Listen address for serve")
	fs.StringVar(&o.docsDir, "docs-dir", "", "Serve documents from this directory instead of BUCKET_NAME")
	fs.StringVar(&o.webDir, "web-dir", "", "Serve /api/ assets from this directory instead of WEB_BUCKET_NAME")
	fs.BoolVar(&o.memory, "memory", false, "Keep tracking records in memory instead of TABLE_NAME")
	fs.StringVar(&o.trackingSeed, "seed", "", "JSON Lines file of tracking records loaded into the in-memory table")
	fs.DurationVar(&o.ttl, "ttl", 12*time.Hour, "Lifetime of tokens minted by the token command")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", o.envFile, err)
	}

	logger, err := logging.New(logging.ConfigFromEnv())
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cmd, rest := "serve", fs.Args()
	if len(rest) > 0 {
		cmd, rest = rest[0], rest[1:]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "token":
		return mintToken(rest, o.ttl, out)
	case "serve":
		env, err := build(ctx, o, logger)
		if err != nil {
			return err
		}
		return serve(ctx, o.addr, env, logger)
	case "invoke":
		env, err := build(ctx, o, logger)
		if err != nil {
			return err
		}
		return invoke(ctx, env.handler, rest, out)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

type environment struct {
	handler *handler.DocHandler
	assets  http.Handler
}

func build(ctx context.Context, o options, logger *zap.Logger) (*environment, error) {
	cfg := config.HandlerFromEnv()
	if o.docsDir != "" && cfg.BucketName == "" {
		cfg.BucketName = "local"
	}
	if o.memory && cfg.TableName == "" {
		cfg.TableName = "local"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var s3Client aws.S3Client
	var ddbClient aws.DynamoDBClient
	needS3 := o.docsDir == "" || (o.webDir == "" && os.Getenv("WEB_BUCKET_NAME") != "")
	if needS3 || !o.memory {
		opts := []func(*awsconfig.LoadOptions) error{}
		if cfg.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		s3Client = aws.NewS3Client(s3.NewFromConfig(awsCfg))
		ddbClient = aws.NewDynamoDBClient(dynamodb.NewFromConfig(awsCfg))
	}

	var docs docstore.Store
	if o.docsDir != "" {
		fsStore, err := docstore.NewFileStore(o.docsDir)
		if err != nil {
			return nil, err
		}
		docs = fsStore
	} else {
		docs = docstore.NewS3Store(s3Client, cfg.BucketName)
	}

	var tr tracking.Store
	if o.memory {
		mem := tracking.NewMemoryStore()
		if o.trackingSeed != "" {
			n, err := seedTracking(mem, o.trackingSeed)
			if err != nil {
				return nil, err
			}
			logger.Info("seeded in-memory tracking table", zap.Int("records", n), zap.String("file", o.trackingSeed))
		}
		tr = mem
	} else {
		tr = tracking.NewDynamoDBStore(ddbClient, cfg.TableName)
	}

	validator, err := auth.ForHandler(ctx, cfg, nil, logger)
	if err != nil {
		return nil, err
	}
	env := &environment{
		handler: handler.New(cfg, docs, tr, auth.NewAuthenticator(validator), logger),
	}
	switch {
	case o.webDir != "":
		webStore, err := docstore.NewFileStore(o.webDir)
		if err != nil {
			return nil, err
		}
		env.assets = assets.New(webStore, logger)
	case os.Getenv("WEB_BUCKET_NAME") != "":
		env.assets = assets.New(docstore.NewS3Store(s3Client, os.Getenv("WEB_BUCKET_NAME")), logger)
	}
	return env, nil
}

// seedTracking loads tracking records in import manifest format.
func seedTracking(store *tracking.MemoryStore, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()

	decoder := itemimage.NewJSONDecoder()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	n := 0
	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		op, err := decoder.Decode(scanner.Bytes())
		if err != nil {
			return n, fmt.Errorf("seed file line %d: %w", line, err)
		}
		var item tracking.Item
		if err := attributevalue.UnmarshalMap(op.Item, &item); err != nil {
			return n, fmt.Errorf("seed file line %d: %w", line, err)
		}
		store.Put(op.DocID, item)
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("failed to read seed file: %w", err)
	}
	return n, nil
}

func serve(ctx context.Context, addr string, env *environment, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.New(env.handler.Handle, env.assets, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// invoke calls the handler directly with an already-authorized request.
func invoke(ctx context.Context, h *handler.DocHandler, args []string, out io.Writer) error {
	req, err := invocation(args)
	if err != nil {
		return err
	}
	resp, err := h.Handle(ctx, req)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func invocation(args []string) (events.APIGatewayProxyRequest, error) {
	req := events.APIGatewayProxyRequest{
		Path: "/doc",
		RequestContext: events.APIGatewayProxyRequestContext{
			Authorizer: map[string]any{
				"claims": map[string]any{"sub": "local", "email": "user@example.com"},
			},
		},
	}
	if len(args) == 0 {
		return req, fmt.Errorf("usage: invoke get <docId> [s3Key] | invoke update <docId> <json>")
	}

	switch args[0] {
	case "get":
		if len(args) < 2 || len(args) > 3 {
			return req, fmt.Errorf("usage: invoke get <docId> [s3Key]")
		}
		req.HTTPMethod = http.MethodGet
		req.QueryStringParameters = map[string]string{"docId": args[1]}
		if len(args) == 3 {
			req.QueryStringParameters["s3Key"] = args[2]
		}
	case "update":
		if len(args) != 3 {
			return req, fmt.Errorf("usage: invoke update <docId> <json>")
		}
		var updates map[string]any
		if err := json.Unmarshal([]byte(args[2]), &updates); err != nil {
			return req, fmt.Errorf("updates must be a JSON object: %w", err)
		}
		body, err := json.Marshal(map[string]any{"docId": args[1], "updates": updates})
		if err != nil {
			return req, err
		}
		req.HTTPMethod = http.MethodPost
		req.Headers = map[string]string{"Content-Type": "application/json"}
		req.Body = string(body)
	default:
		return req, fmt.Errorf("unknown invoke action %q", args[0])
	}
	return req, nil
}

// mintToken prints an HS256 ID token accepted by a handler running with
// the same AUTH_HMAC_SECRET.
func mintToken(args []string, ttl time.Duration, out io.Writer) error {
	secret := os.Getenv("AUTH_HMAC_SECRET")
	if secret == "" {
		return fmt.Errorf("AUTH_HMAC_SECRET must be set to mint tokens")
	}
	email := config.DefaultAllowlist
	if len(args) > 0 {
		email = args[0]
	}
	token, err := auth.SignHMAC([]byte(secret), localIssuer, email, email, ttl)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
