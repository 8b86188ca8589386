// Package itemimage decodes import manifest lines into tracking table puts.
package itemimage

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	json "github.com/goccy/go-json"

	"github.com/gurre/docreview/tracking"
)

// Operation is one tracking record to write.
type Operation struct {
	DocID string                          // Value of the key attribute
	Item  map[string]types.AttributeValue // Full item, key included
}

// ErrCorrupt is returned when a line cannot be decoded into a tracking record.
var ErrCorrupt = fmt.Errorf("corrupt line")

// Decoder turns one manifest line into an Operation.
type Decoder interface {
	Decode(line []byte) (Operation, error)
}

// JSONDecoder accepts two line shapes:
//   - plain records: {"docId": "...", "status": "PROVED", ...}
//   - DynamoDB JSON items: {"Item": {"docId": {"S": "..."}, ...}}
//
// Every line must carry a non-empty string docId.
type JSONDecoder struct{}

// NewJSONDecoder creates a new JSONDecoder instance
func NewJSONDecoder() *JSONDecoder {
	return &JSONDecoder{}
}

// Decode parses a single line.
func (d *JSONDecoder) Decode(line []byte) (Operation, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return Operation{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var item map[string]types.AttributeValue
	if itemRaw, ok := raw["Item"]; ok && len(raw) == 1 {
		var err error
		item, err = attributevalue.UnmarshalMapJSON(itemRaw)
		if err != nil {
			return Operation{}, fmt.Errorf("%w: failed to parse Item: %v", ErrCorrupt, err)
		}
	} else {
		var record map[string]any
		if err := json.Unmarshal(line, &record); err != nil {
			return Operation{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		var err error
		item, err = attributevalue.MarshalMap(record)
		if err != nil {
			return Operation{}, fmt.Errorf("%w: failed to marshal record: %v", ErrCorrupt, err)
		}
	}

	key, ok := item[tracking.KeyAttribute].(*types.AttributeValueMemberS)
	if !ok || key.Value == "" {
		return Operation{}, fmt.Errorf("%w: missing %s", ErrCorrupt, tracking.KeyAttribute)
	}
	return Operation{DocID: key.Value, Item: item}, nil
}
