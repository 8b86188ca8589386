package main

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gurre/docreview/auth"
	"github.com/gurre/docreview/config"
	"github.com/gurre/docreview/docstore"
	"github.com/gurre/docreview/handler"
	"github.com/gurre/docreview/tracking"
)

func TestInvocation(t *testing.T) {
	req, err := invocation([]string{"get", "doc-1", "classified/doc-1.json"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, req.HTTPMethod)
	assert.Equal(t, "doc-1", req.QueryStringParameters["docId"])
	assert.Equal(t, "classified/doc-1.json", req.QueryStringParameters["s3Key"])
	assert.Contains(t, req.RequestContext.Authorizer, "claims")

	req, err = invocation([]string{"update", "doc-1", `{"status":"PROVED"}`})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, req.HTTPMethod)
	assert.JSONEq(t, `{"docId":"doc-1","updates":{"status":"PROVED"}}`, req.Body)

	for _, args := range [][]string{nil, {"get"}, {"update", "doc-1"}, {"update", "doc-1", "[1]"}, {"delete", "doc-1"}} {
		_, err := invocation(args)
		assert.Error(t, err, "args %v", args)
	}
}

func TestSeedTracking(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.jsonl")
	content := `{"docId":"doc-1","status":"PROVED"}` + "\n\n" + `{"docId":"doc-2","pages":2}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	store := tracking.NewMemoryStore()
	n, err := seedTracking(store, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	item, err := store.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "PROVED", item.Status())
}

func TestSeedTrackingRejectsCorruptLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"status":"PROVED"}`+"\n"), 0o644))

	_, err := seedTracking(tracking.NewMemoryStore(), path)
	assert.ErrorContains(t, err, "line 1")
}

func TestInvokeUpdateThenGet(t *testing.T) {
	docs := docstore.NewMemoryStore()
	docs.Put("doc-1", "application/json", []byte(`{"matched_blueprint":{"name":"invoice","confidence":0.9},"document_class":{"type":"Type1"},"inference_result":{}}`))
	tr := tracking.NewMemoryStore()
	tr.Put("doc-1", tracking.Item{"docId": "doc-1"})
	cfg := &config.Handler{BucketName: "local", TableName: "local", Timeout: 5 * time.Second}
	h := handler.New(cfg, docs, tr, auth.NewAuthenticator(nil), nil)

	var out bytes.Buffer
	require.NoError(t, invoke(context.Background(), h, []string{"update", "doc-1", `{"status":"PROVED"}`}, &out))
	assert.Contains(t, out.String(), `"statusCode": 200`)

	out.Reset()
	require.NoError(t, invoke(context.Background(), h, []string{"get", "doc-1"}, &out))
	var resp struct {
		StatusCode int    `json:"statusCode"`
		Body       string `json:"body"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(resp.Body, `"status":"PROVED"`), resp.Body)
}

func TestMintToken(t *testing.T) {
	t.Setenv("AUTH_HMAC_SECRET", "local-secret")
	var out bytes.Buffer
	require.NoError(t, mintToken([]string{"reviewer@example.com"}, time.Minute, &out))

	v, err := auth.ForHandler(context.Background(), &config.Handler{AuthHMACSecret: "local-secret"}, nil, nil)
	require.NoError(t, err)
	claims, err := v.Validate(context.Background(), strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "reviewer@example.com", claims.Email)

	t.Setenv("AUTH_HMAC_SECRET", "")
	assert.Error(t, mintToken(nil, time.Minute, &out))
}
