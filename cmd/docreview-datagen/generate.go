package main

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	json "github.com/goccy/go-json"

	"github.com/gurre/docreview/aws"
	"github.com/gurre/docreview/document"
)

// Sink stores generated objects.
type Sink interface {
	Put(ctx context.Context, key, contentType string, body []byte) error
}

// S3Sink writes objects to a bucket.
type S3Sink struct {
	client aws.S3Client
	bucket string
}

// Put implements Sink.
func (s *S3Sink) Put(ctx context.Context, key, contentType string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to put s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// DirSink writes objects below a local directory.
type DirSink struct {
	dir string
}

// Put implements Sink.
func (d *DirSink) Put(ctx context.Context, key, contentType string, body []byte) error {
	path := filepath.Join(d.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, body, 0o644)
}

// Config holds the generator settings.
type Config struct {
	Count       int    // Documents to generate
	Prefix      string // Key prefix of document objects
	ManifestKey string // Key of the JSON Lines import manifest, empty skips it
	Seed        int64
}

// Result summarises a generation run.
type Result struct {
	Documents int
	ByType    map[document.DocType]int
	Reviewed  int
}

var blueprints = []string{"supplier-invoice", "purchase-order", "bank-statement", "delivery-note", "credit-memo"}

var statuses = []string{"", "", "PROVED", "REJECTED"}

func randomString(r *rand.Rand, n int) string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[r.Intn(len(letters))]
	}
	return string(b)
}

func randomAmount(r *rand.Rand) document.Number {
	return document.Number(fmt.Sprintf("%d.%02d", r.Intn(5000), r.Intn(100)))
}

// generateInference builds a nested inference result. Some fields are null
// or empty so every rendering path is exercised.
func generateInference(r *rand.Rand) document.Node {
	items := make([]document.Node, r.Intn(4))
	for i := range items {
		items[i] = document.Section(
			document.F("description", document.Leaf("Item "+randomString(r, 5))),
			document.F("quantity", document.Leaf(document.Number(fmt.Sprintf("%d", 1+r.Intn(20))))),
			document.F("unit_price", document.Leaf(randomAmount(r))),
		)
	}

	var notes document.Node
	switch r.Intn(3) {
	case 0:
		notes = document.Null()
	case 1:
		notes = document.Leaf("")
	default:
		notes = document.Leaf("Checked by " + randomString(r, 3))
	}

	return document.Section(
		document.F("header", document.Section(
			document.F("document_number", document.Leaf(randomString(r, 8))),
			document.F("issue_date", document.Leaf(fmt.Sprintf("2026-%02d-%02d", 1+r.Intn(12), 1+r.Intn(28)))),
			document.F("currency", document.Leaf([]string{"EUR", "USD", "SEK"}[r.Intn(3)])),
		)),
		document.F("parties", document.Section(
			document.F("supplier", document.Section(
				document.F("name", document.Leaf("Supplier "+randomString(r, 4))),
				document.F("vat_id", document.Leaf(randomString(r, 10))),
			)),
			document.F("customer", document.Section(
				document.F("name", document.Leaf("Customer "+randomString(r, 4))),
			)),
		)),
		document.F("line_items", document.List(items...)),
		document.F("totals", document.Section(
			document.F("net", document.Leaf(randomAmount(r))),
			document.F("tax", document.Leaf(randomAmount(r))),
			document.F("paid", document.Leaf(r.Intn(2) == 0)),
		)),
		document.F("notes", notes),
	)
}

type manifestLine struct {
	DocID  string `json:"docId"`
	S3Key  string `json:"s3Key"`
	Status string `json:"status,omitempty"`
}

// Generate writes cfg.Count documents and, when configured, a manifest the
// tracking import understands.
func Generate(ctx context.Context, sink Sink, cfg Config) (Result, error) {
	r := rand.New(rand.NewSource(cfg.Seed))
	res := Result{ByType: make(map[document.DocType]int)}
	var manifest bytes.Buffer
	enc := json.NewEncoder(&manifest)

	for i := 0; i < cfg.Count; i++ {
		docID := fmt.Sprintf("doc-%05d", i)
		key := strings.TrimSuffix(cfg.Prefix, "/")
		if key != "" {
			key += "/"
		}
		key += docID + ".json"

		rec := document.Record{
			MatchedBlueprint: document.Blueprint{
				Name:       blueprints[r.Intn(len(blueprints))],
				Confidence: 0.5 + r.Float64()/2,
			},
			DocumentClass:   document.Class{Type: document.DocTypes[r.Intn(len(document.DocTypes))]},
			InferenceResult: generateInference(r),
		}
		body, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return res, fmt.Errorf("failed to encode %s: %w", docID, err)
		}
		if err := sink.Put(ctx, key, "application/json", body); err != nil {
			return res, err
		}
		res.Documents++
		res.ByType[rec.DocumentClass.Type]++

		line := manifestLine{DocID: docID, S3Key: key, Status: statuses[r.Intn(len(statuses))]}
		if line.Status != "" {
			res.Reviewed++
		}
		if err := enc.Encode(line); err != nil {
			return res, fmt.Errorf("failed to encode manifest line: %w", err)
		}
	}

	if cfg.ManifestKey != "" {
		if err := sink.Put(ctx, cfg.ManifestKey, "application/x-ndjson", manifest.Bytes()); err != nil {
			return res, err
		}
	}
	return res, nil
}
