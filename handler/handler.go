// Package handler implements the /doc endpoint: GET returns a classified
// document merged with its tracking record, POST upserts tracking attributes.
package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gurre/docreview/auth"
	"github.com/gurre/docreview/config"
	"github.com/gurre/docreview/docstore"
	"github.com/gurre/docreview/document"
	"github.com/gurre/docreview/logging"
	"github.com/gurre/docreview/tracking"
)

// ErrBadRequest classifies client errors answered with 400.
var ErrBadRequest = errors.New("bad request")

type requestError struct {
	msg string
}

func (e *requestError) Error() string        { return e.msg }
func (e *requestError) Is(target error) bool { return target == ErrBadRequest }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

var responseHeaders = map[string]string{
	"Content-Type":                 "application/json",
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Headers": "Content-Type,Authorization",
	"Access-Control-Allow-Methods": "GET,POST,OPTIONS",
}

// DocHandler serves GET and POST /doc.
type DocHandler struct {
	cfg      *config.Handler
	docs     docstore.Store
	tracking tracking.Store
	authn    *auth.Authenticator
	logger   *zap.Logger
}

// New creates a handler. cfg must have passed Validate.
func New(cfg *config.Handler, docs docstore.Store, tr tracking.Store, authn *auth.Authenticator, logger *zap.Logger) *DocHandler {
	return &DocHandler{
		cfg:      cfg,
		docs:     docs,
		tracking: tr,
		authn:    authn,
		logger:   logging.OrNop(logger),
	}
}

// Handle routes one API Gateway proxy request.
func (h *DocHandler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if h.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.Timeout)
		defer cancel()
	}

	h.logger.Info("request",
		zap.String("method", req.HTTPMethod),
		zap.String("path", req.Path),
		zap.Any("query", req.QueryStringParameters),
	)

	method := strings.ToUpper(req.HTTPMethod)
	if method != http.MethodGet && method != http.MethodPost {
		return errorResponse(http.StatusMethodNotAllowed, fmt.Sprintf("Method %s not allowed", req.HTTPMethod)), nil
	}

	claims, err := h.authn.Authenticate(ctx, req)
	if err != nil {
		h.logger.Warn("rejected request", zap.Error(err))
		return errorResponse(http.StatusUnauthorized, "Unauthorized"), nil
	}
	logger := h.logger.With(zap.String("user", claims.Email), zap.String("sub", claims.Subject))

	if method == http.MethodGet {
		return h.get(ctx, logger, req)
	}
	return h.post(ctx, logger, req)
}

type getResponse struct {
	DocID    string        `json:"docId"`
	S3Key    string        `json:"s3Key"`
	Document document.Node `json:"document"`
	Metadata tracking.Item `json:"metadata"`
}

func (h *DocHandler) get(ctx context.Context, logger *zap.Logger, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	docID := strings.TrimSpace(req.QueryStringParameters["docId"])
	if docID == "" {
		return errorResponse(http.StatusBadRequest, "Missing required parameter: docId"), nil
	}
	key := strings.TrimSpace(req.QueryStringParameters["s3Key"])
	if key == "" {
		key = h.cfg.DocumentKey(docID)
	}

	var (
		item tracking.Item
		blob docstore.Blob
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		item, err = h.tracking.Get(gctx, docID)
		return err
	})
	g.Go(func() error {
		var err error
		blob, err = h.docs.Get(gctx, key)
		return err
	})
	if err := g.Wait(); err != nil {
		switch {
		case errors.Is(err, tracking.ErrNotFound):
			return errorResponse(http.StatusNotFound, "Document not found: "+docID), nil
		case errors.Is(err, docstore.ErrNotFound):
			return errorResponse(http.StatusNotFound, "Document not found: "+key), nil
		default:
			logger.Error("failed to retrieve document", zap.String("docId", docID), zap.String("s3Key", key), zap.Error(err))
			return errorResponse(http.StatusInternalServerError, "Failed to retrieve document"), nil
		}
	}

	if blob.IsJSON() {
		doc, err := document.ParseNode(blob.Body)
		if err == nil {
			return jsonResponse(http.StatusOK, getResponse{DocID: docID, S3Key: key, Document: doc, Metadata: item})
		}
		logger.Warn("document is not valid JSON, returning raw bytes", zap.String("s3Key", key), zap.Error(err))
	}

	headers := copyHeaders()
	headers["Content-Type"] = blob.ContentType
	return events.APIGatewayProxyResponse{
		StatusCode:      http.StatusOK,
		Headers:         headers,
		Body:            base64.StdEncoding.EncodeToString(blob.Body),
		IsBase64Encoded: true,
	}, nil
}

type updateResponse struct {
	Message string        `json:"message"`
	DocID   string        `json:"docId"`
	Updated []string      `json:"updated"`
	Item    tracking.Item `json:"item"`
}

func (h *DocHandler) post(ctx context.Context, logger *zap.Logger, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	docID, updates, err := parseUpdate(req)
	if err != nil {
		if errors.Is(err, ErrBadRequest) {
			return errorResponse(http.StatusBadRequest, err.Error()), nil
		}
		return errorResponse(http.StatusInternalServerError, "Failed to update metadata"), nil
	}

	valid, skipped := tracking.FilterUpdates(updates)
	for _, k := range skipped {
		logger.Warn("skipping unsupported update value", zap.String("docId", docID), zap.String("attribute", k))
	}
	if len(valid) == 0 {
		return errorResponse(http.StatusBadRequest, "No valid updates provided"), nil
	}

	item, err := h.tracking.Update(ctx, docID, valid)
	if err != nil {
		if errors.Is(err, tracking.ErrNoUpdates) {
			return errorResponse(http.StatusBadRequest, "No valid updates provided"), nil
		}
		logger.Error("failed to update metadata", zap.String("docId", docID), zap.Error(err))
		return errorResponse(http.StatusInternalServerError, "Failed to update metadata"), nil
	}

	updated := make([]string, 0, len(valid))
	for k := range valid {
		updated = append(updated, k)
	}
	sort.Strings(updated)
	logger.Info("updated metadata", zap.String("docId", docID), zap.Strings("attributes", updated))

	return jsonResponse(http.StatusOK, updateResponse{
		Message: "Document metadata updated successfully",
		DocID:   docID,
		Updated: updated,
		Item:    item,
	})
}

// parseUpdate validates a POST body of the form {docId, updates}.
func parseUpdate(req events.APIGatewayProxyRequest) (string, map[string]any, error) {
	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return "", nil, badRequest("Invalid JSON in request body")
		}
		body = decoded
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return "", nil, badRequest("Request body must be a JSON object")
	}

	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", nil, badRequest("Invalid JSON in request body")
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return "", nil, badRequest("Request body must be a JSON object")
	}

	docID, _ := obj["docId"].(string)
	if strings.TrimSpace(docID) == "" {
		return "", nil, badRequest("Missing required field: docId")
	}
	rawUpdates, present := obj["updates"]
	if !present || rawUpdates == nil {
		return "", nil, badRequest("Missing required field: updates")
	}
	updates, ok := rawUpdates.(map[string]any)
	if !ok {
		return "", nil, badRequest("Field updates must be a JSON object")
	}
	if len(updates) == 0 {
		return "", nil, badRequest("Missing required field: updates")
	}
	return docID, updates, nil
}

func copyHeaders() map[string]string {
	h := make(map[string]string, len(responseHeaders))
	for k, v := range responseHeaders {
		h[k] = v
	}
	return h
}

func jsonResponse(status int, v any) (events.APIGatewayProxyResponse, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return errorResponse(http.StatusInternalServerError, "Failed to encode response"), nil
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    copyHeaders(),
		Body:       string(body),
	}, nil
}

// errorResponse is the single place errors become HTTP responses.
func errorResponse(status int, msg string) events.APIGatewayProxyResponse {
	body, _ := json.Marshal(map[string]string{"error": msg})
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    copyHeaders(),
		Body:       string(body),
	}
}
