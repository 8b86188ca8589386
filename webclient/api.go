package webclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// APIError is a non-2xx answer from the document API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// APIClient calls the /doc endpoint.
type APIClient struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
}

// NewAPIClient creates a client for baseURL. A nil httpClient uses a client
// with timeout.
func NewAPIClient(baseURL string, tokens TokenSource, httpClient *http.Client, timeout time.Duration) *APIClient {
	if httpClient == nil {
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &APIClient{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient, tokens: tokens}
}

// GetDocument fetches the raw response body for docID and an optional key.
func (c *APIClient) GetDocument(ctx context.Context, docID, s3Key string) ([]byte, error) {
	q := url.Values{}
	if docID != "" {
		q.Set("docId", docID)
	}
	if s3Key != "" {
		q.Set("s3Key", s3Key)
	}
	u := c.baseURL + "/doc"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	return c.do(ctx, req)
}

// UpdateResult is the handler's answer to a metadata update.
type UpdateResult struct {
	Message string         `json:"message"`
	DocID   string         `json:"docId"`
	Updated []string       `json:"updated"`
	Item    map[string]any `json:"item"`
}

// PostUpdate sends {docId, updates}.
func (c *APIClient) PostUpdate(ctx context.Context, docID string, updates map[string]any) (*UpdateResult, error) {
	body, err := json.Marshal(map[string]any{"docId": docID, "updates": updates})
	if err != nil {
		return nil, fmt.Errorf("failed to encode update: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/doc", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	var res UpdateResult
	if err := json.Unmarshal(resp, &res); err != nil {
		return nil, fmt.Errorf("failed to decode update response: %w", err)
	}
	return &res, nil
}

func (c *APIClient) do(ctx context.Context, req *http.Request) ([]byte, error) {
	token, err := c.tokens.SessionToken(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body, resp.Status)}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, fmt.Errorf("%w: %w", ErrUnauthorized, apiErr)
		}
		return nil, apiErr
	}
	return body, nil
}

func errorMessage(body []byte, fallback string) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}
	return fallback
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
