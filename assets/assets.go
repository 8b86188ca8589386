// Package assets serves the web client's static files under /api/, from the
// web bucket in AWS or a local directory in development.
package assets

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/gurre/docreview/docstore"
	"github.com/gurre/docreview/logging"
)

// IndexKey is served for the bare /api/ path.
const IndexKey = "index.html"

// Server reads assets from a blob store.
type Server struct {
	store  docstore.Store
	logger *zap.Logger
}

// New creates an asset server over store.
func New(store docstore.Store, logger *zap.Logger) *Server {
	return &Server{store: store, logger: logging.OrNop(logger)}
}

// KeyFor maps a request path below /api/ to an object key.
func KeyFor(path string) string {
	path = strings.TrimPrefix(path, "/api")
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return IndexKey
	}
	return path
}

// Get returns the asset for a request path.
func (s *Server) Get(ctx context.Context, path string) (docstore.Blob, error) {
	return s.store.Get(ctx, KeyFor(path))
}

// ServeHTTP answers GET and HEAD requests for assets.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	blob, err := s.Get(r.Context(), r.URL.Path)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		s.logger.Error("failed to read asset", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, "failed to read asset", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", blob.ContentType)
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = w.Write(blob.Body)
	}
}
