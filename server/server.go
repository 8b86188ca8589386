// Package server exposes the document handler and static assets over plain
// HTTP for local development, shaped like the deployed API Gateway.
package server

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/gurre/docreview/logging"
)

// MaxBodyBytes caps request bodies read into proxy events.
const MaxBodyBytes = 1 << 20

// ProxyHandler is the Lambda handler signature /doc is served by.
type ProxyHandler func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)

// New builds the router. assets may be nil.
func New(doc ProxyHandler, assets http.Handler, logger *zap.Logger) http.Handler {
	logger = logging.OrNop(logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))
	r.Use(cors)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.HandleFunc("/doc", proxy(doc, logger))
	if assets != nil {
		r.Handle("/api", assets)
		r.Handle("/api/*", assets)
	}
	return r
}

// cors answers preflight requests the way API Gateway does for the deployed
// API and marks every response as shareable.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("requestId", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func proxy(h ProxyHandler, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := ToProxyRequest(r)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		resp, err := h(r.Context(), req)
		if err != nil {
			logger.Error("handler failed", zap.Error(err))
			http.Error(w, `{"error":"Internal server error"}`, http.StatusInternalServerError)
			return
		}
		WriteProxyResponse(w, resp)
	}
}

// ToProxyRequest converts an HTTP request into the event API Gateway would
// deliver for it.
func ToProxyRequest(r *http.Request) (events.APIGatewayProxyRequest, error) {
	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes))
		if err != nil {
			return events.APIGatewayProxyRequest{}, err
		}
	}

	req := events.APIGatewayProxyRequest{
		Resource:                        r.URL.Path,
		Path:                            r.URL.Path,
		HTTPMethod:                      r.Method,
		Headers:                         map[string]string{},
		MultiValueHeaders:               map[string][]string{},
		QueryStringParameters:           map[string]string{},
		MultiValueQueryStringParameters: map[string][]string{},
		Body:                            string(body),
		RequestContext: events.APIGatewayProxyRequestContext{
			RequestID:  middleware.GetReqID(r.Context()),
			Stage:      "local",
			HTTPMethod: r.Method,
			Path:       r.URL.Path,
		},
	}
	for k, vs := range r.Header {
		if len(vs) > 0 {
			req.Headers[k] = vs[0]
			req.MultiValueHeaders[k] = vs
		}
	}
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			req.QueryStringParameters[k] = vs[0]
			req.MultiValueQueryStringParameters[k] = vs
		}
	}
	return req, nil
}

// WriteProxyResponse writes a Lambda proxy response to w.
func WriteProxyResponse(w http.ResponseWriter, resp events.APIGatewayProxyResponse) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	for k, vs := range resp.MultiValueHeaders {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}

	body := []byte(resp.Body)
	if resp.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(resp.Body)
		if err != nil {
			http.Error(w, "invalid base64 response body", http.StatusBadGateway)
			return
		}
		body = decoded
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
