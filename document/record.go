// Package document models the classified documents under review: the closed
// set of document types, the record shape read from the Document Store and the
// inference result tree rendered to reviewers.
package document

import (
	stdjson "encoding/json"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

// Number is the numeric scalar type held by leaves.
type Number = stdjson.Number

// DocType is a document class tag. Only the members of DocTypes are valid.
type DocType string

const (
	Type1 DocType = "Type1"
	Type2 DocType = "Type2"
	Type3 DocType = "Type3"
	TypeN DocType = "TypeN"
)

// DocTypes is the fixed, ordered set of recognised document types.
var DocTypes = []DocType{Type1, Type2, Type3, TypeN}

// Valid reports whether t is one of DocTypes.
func (t DocType) Valid() bool {
	for _, known := range DocTypes {
		if t == known {
			return true
		}
	}
	return false
}

var (
	// ErrInvalidDocType is returned for records whose document_class.type is
	// missing or outside DocTypes. Such records are never rendered.
	ErrInvalidDocType = errors.New("invalid document type")

	// ErrMalformed is returned when the payload is not a JSON object.
	ErrMalformed = errors.New("malformed document")
)

// Blueprint is the classifier blueprint that matched the document.
type Blueprint struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Class carries the document type.
type Class struct {
	Type DocType `json:"type"`
}

// Record is a classified document merged with its tracking status.
type Record struct {
	MatchedBlueprint Blueprint `json:"matched_blueprint"`
	DocumentClass    Class     `json:"document_class"`
	InferenceResult  Node      `json:"inference_result"`
	Status           string    `json:"status,omitempty"`
}

// Validate enforces the closed document type set.
func (r *Record) Validate() error {
	if !r.DocumentClass.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidDocType, r.DocumentClass.Type)
	}
	return nil
}

type rawRecord struct {
	MatchedBlueprint *Blueprint `json:"matched_blueprint"`
	DocumentClass    *struct {
		Type any `json:"type"`
	} `json:"document_class"`
	InferenceResult *Node  `json:"inference_result"`
	Status          string `json:"status"`
}

// Parse decodes and validates a document. Validation fails closed: a missing
// or unknown document_class.type yields ErrInvalidDocType. A missing blueprint
// becomes {Unknown, 0} and a missing inference result an empty section.
func Parse(data []byte) (*Record, error) {
	var raw rawRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if raw.DocumentClass == nil || raw.DocumentClass.Type == nil {
		return nil, fmt.Errorf("%w: document_class.type is missing", ErrInvalidDocType)
	}
	typ, ok := raw.DocumentClass.Type.(string)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocType, raw.DocumentClass.Type)
	}

	rec := &Record{
		MatchedBlueprint: Blueprint{Name: "Unknown"},
		DocumentClass:    Class{Type: DocType(typ)},
		InferenceResult:  Section(),
		Status:           raw.Status,
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if raw.MatchedBlueprint != nil {
		rec.MatchedBlueprint = *raw.MatchedBlueprint
	}
	if raw.InferenceResult != nil && !raw.InferenceResult.IsNull() {
		rec.InferenceResult = *raw.InferenceResult
	}
	return rec, nil
}
