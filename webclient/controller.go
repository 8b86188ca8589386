// Package webclient is the reviewer-facing client: it loads documents from
// the API (or a bundled sample when offline), keeps the view state and builds
// the page the terminal client prints.
package webclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/gurre/docreview/document"
	"github.com/gurre/docreview/logging"
	"github.com/gurre/docreview/render"
)

var (
	// ErrDocIDRequired is returned by UpdateStatus without a docId.
	ErrDocIDRequired = errors.New("docId required")

	// ErrOffline is returned for operations that need the API in offline mode.
	ErrOffline = errors.New("no API endpoint configured")

	// ErrTabDisabled is returned when selecting a tab other than the loaded
	// document's type.
	ErrTabDisabled = errors.New("tab is disabled")
)

// Review statuses set by the client.
const (
	StatusProved   = "PROVED"
	StatusRejected = "REJECTED"
)

// ViewState is everything the page is built from.
type ViewState struct {
	Doc       *document.Record
	DocID     string
	S3Key     string
	ActiveTab document.DocType
	Err       error
}

// Controller owns a ViewState. A nil api selects offline mode.
type Controller struct {
	api    *APIClient
	state  ViewState
	logger *zap.Logger
}

// NewController creates a controller with an empty view.
func NewController(api *APIClient, logger *zap.Logger) *Controller {
	return &Controller{api: api, state: ViewState{ActiveTab: document.Type1}, logger: logging.OrNop(logger)}
}

// Offline reports whether the controller serves the bundled sample.
func (c *Controller) Offline() bool {
	return c.api == nil
}

// State returns a copy of the current view state.
func (c *Controller) State() ViewState {
	return c.state
}

// FetchDocument loads and validates a document. On failure the loaded
// document is cleared and the error recorded in the state.
func (c *Controller) FetchDocument(ctx context.Context, docID, s3Key string) (*document.Record, error) {
	c.state.DocID = docID
	c.state.S3Key = s3Key

	rec, err := c.fetch(ctx, docID, s3Key)
	if err != nil {
		c.logger.Warn("failed to load document", zap.String("docId", docID), zap.Error(err))
		c.state.Doc = nil
		c.state.Err = err
		return nil, err
	}
	c.state.Doc = rec
	c.state.ActiveTab = rec.DocumentClass.Type
	c.state.Err = nil
	return rec, nil
}

func (c *Controller) fetch(ctx context.Context, docID, s3Key string) (*document.Record, error) {
	if c.Offline() {
		return document.Parse(sampleDocument)
	}
	body, err := c.api.GetDocument(ctx, docID, s3Key)
	if err != nil {
		return nil, err
	}
	raw, status, err := extractDocument(body)
	if err != nil {
		return nil, err
	}
	rec, err := document.Parse(raw)
	if err != nil {
		return nil, err
	}
	if rec.Status == "" {
		rec.Status = status
	}
	return rec, nil
}

// extractDocument accepts the document under "document", "doc" or as the
// whole body, and returns the tracking status when the body carries one.
func extractDocument(body []byte) ([]byte, string, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, "", fmt.Errorf("%w: %v", document.ErrMalformed, err)
	}

	var status string
	if meta, ok := envelope["metadata"]; ok {
		var m struct {
			Status string `json:"status"`
		}
		if json.Unmarshal(meta, &m) == nil {
			status = m.Status
		}
	}

	for _, k := range []string{"document", "doc"} {
		if v, ok := envelope[k]; ok && !isNull(v) {
			return v, status, nil
		}
	}
	return body, status, nil
}

func isNull(v json.RawMessage) bool {
	return strings.TrimSpace(string(v)) == "null"
}

// UpdateStatus records a review decision for docID. The loaded document is
// left untouched; callers fetch again to see the new status.
func (c *Controller) UpdateStatus(ctx context.Context, docID, status string) (*UpdateResult, error) {
	if strings.TrimSpace(docID) == "" {
		c.state.Err = ErrDocIDRequired
		return nil, ErrDocIDRequired
	}
	if c.Offline() {
		c.state.Err = ErrOffline
		return nil, ErrOffline
	}
	res, err := c.api.PostUpdate(ctx, docID, map[string]any{"status": status})
	if err != nil {
		c.logger.Warn("failed to update status", zap.String("docId", docID), zap.String("status", status), zap.Error(err))
		c.state.Err = err
		return nil, err
	}
	c.state.Err = nil
	c.logger.Info("status updated", zap.String("docId", docID), zap.String("status", status))
	return res, nil
}

// SelectTab switches the active tab. Only the loaded document's type is
// selectable.
func (c *Controller) SelectTab(t document.DocType) error {
	if c.state.Doc == nil || t != c.state.Doc.DocumentClass.Type {
		return fmt.Errorf("%w: %s", ErrTabDisabled, t)
	}
	c.state.ActiveTab = t
	return nil
}

// Page builds the view for the current state.
func (c *Controller) Page() (Page, bool) {
	return BuildPage(c.state)
}

// Tab is one document type selector.
type Tab struct {
	Type     document.DocType
	Active   bool
	Disabled bool
}

// Mismatch is shown instead of the content when the active tab is not the
// document's type.
type Mismatch struct {
	Expected document.DocType
	Found    document.DocType
}

// Page is the rendered view of a loaded document.
type Page struct {
	Title      string
	Confidence string
	Status     string
	Tabs       []Tab
	Mismatch   *Mismatch
	Content    []render.Element
}

// BuildPage derives the page from state. It reports false when no document
// is loaded.
func BuildPage(state ViewState) (Page, bool) {
	doc := state.Doc
	if doc == nil {
		return Page{}, false
	}
	current := doc.DocumentClass.Type
	p := Page{
		Title:      doc.MatchedBlueprint.Name,
		Confidence: FormatConfidence(doc.MatchedBlueprint.Confidence),
		Status:     doc.Status,
		Tabs:       make([]Tab, 0, len(document.DocTypes)),
	}
	for _, t := range document.DocTypes {
		active := t == current
		p.Tabs = append(p.Tabs, Tab{Type: t, Active: active, Disabled: !active})
	}
	if state.ActiveTab != current {
		p.Mismatch = &Mismatch{Expected: state.ActiveTab, Found: current}
		return p, true
	}
	p.Content = render.InferenceResult(doc.InferenceResult)
	return p, true
}

// FormatConfidence shows a 0..1 confidence as a percentage with two decimals.
func FormatConfidence(c float64) string {
	return fmt.Sprintf("%.2f%%", c*100)
}

// WriteText prints the page for a terminal.
func (p Page) WriteText(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%s\nConfidence: %s\n", p.Title, p.Confidence); err != nil {
		return err
	}
	if p.Status != "" {
		if _, err := fmt.Fprintf(w, "Status: %s\n", p.Status); err != nil {
			return err
		}
	}

	tabs := make([]string, 0, len(p.Tabs))
	for _, t := range p.Tabs {
		if t.Active {
			tabs = append(tabs, "["+string(t.Type)+"]")
		} else {
			tabs = append(tabs, " "+string(t.Type)+" ")
		}
	}
	if _, err := fmt.Fprintf(w, "%s\n\n", strings.Join(tabs, " ")); err != nil {
		return err
	}

	if p.Mismatch != nil {
		_, err := fmt.Fprintf(w, "Document type mismatch\nExpected: %s\nFound: %s\n", p.Mismatch.Expected, p.Mismatch.Found)
		return err
	}
	return render.Text(w, p.Content)
}
