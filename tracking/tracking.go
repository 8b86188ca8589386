// Package tracking reads and upserts the per-document tracking records that
// hold review status. Records are keyed by docId; every other attribute is
// free-form.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/gurre/docreview/aws"
)

// KeyAttribute is the partition key of the tracking table.
const KeyAttribute = "docId"

// StatusAttribute is the attribute reviewers change.
const StatusAttribute = "status"

var (
	// ErrNotFound is returned by Get when no record exists for the docId.
	ErrNotFound = errors.New("tracking record not found")

	// ErrNoUpdates is returned by Update when no attribute survives filtering.
	ErrNoUpdates = errors.New("no valid updates provided")
)

// Item is a tracking record as plain Go values.
type Item map[string]any

// Status returns the status attribute, or "" when unset.
func (i Item) Status() string {
	s, _ := i[StatusAttribute].(string)
	return s
}

// Store reads and upserts tracking records.
type Store interface {
	Get(ctx context.Context, docID string) (Item, error)
	Update(ctx context.Context, docID string, updates map[string]any) (Item, error)
}

// DynamoDBStore implements Store on a DynamoDB table.
type DynamoDBStore struct {
	client    aws.DynamoDBClient
	tableName string
}

// NewDynamoDBStore creates a store for tableName.
func NewDynamoDBStore(client aws.DynamoDBClient, tableName string) *DynamoDBStore {
	return &DynamoDBStore{client: client, tableName: tableName}
}

func keyOf(docID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		KeyAttribute: &types.AttributeValueMemberS{Value: docID},
	}
}

// Get reads the record for docID with a strongly consistent read, so a status
// written by a previous Update is always visible.
func (s *DynamoDBStore) Get(ctx context.Context, docID string) (Item, error) {
	consistent := true
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.tableName,
		Key:            keyOf(docID),
		ConsistentRead: &consistent,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get tracking record %s: %w", docID, err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, docID)
	}

	item := Item{}
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to decode tracking record %s: %w", docID, err)
	}
	return item, nil
}

// Update merges updates into the record for docID, creating it when absent.
// Values are filtered with FilterUpdates first. The write is a single
// UpdateItem, so concurrent updates to one record resolve last-write-wins.
func (s *DynamoDBStore) Update(ctx context.Context, docID string, updates map[string]any) (Item, error) {
	valid, _ := FilterUpdates(updates)
	if len(valid) == 0 {
		return nil, ErrNoUpdates
	}

	// Sorted for a deterministic expression
	keys := make([]string, 0, len(valid))
	for k := range valid {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	setExpr := make([]string, 0, len(keys))
	names := make(map[string]string, len(keys))
	values := make(map[string]types.AttributeValue, len(keys))
	for idx, k := range keys {
		av, err := attributevalue.Marshal(valid[k])
		if err != nil {
			return nil, fmt.Errorf("failed to encode attribute %s: %w", k, err)
		}
		name := fmt.Sprintf("#k%d", idx)
		value := fmt.Sprintf(":v%d", idx)
		setExpr = append(setExpr, name+" = "+value)
		names[name] = k
		values[value] = av
	}
	updateExpr := "SET " + strings.Join(setExpr, ", ")

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       keyOf(docID),
		UpdateExpression:          &updateExpr,
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update tracking record %s: %w", docID, err)
	}

	item := Item{}
	if err := attributevalue.UnmarshalMap(out.Attributes, &item); err != nil {
		return nil, fmt.Errorf("failed to decode updated record %s: %w", docID, err)
	}
	return item, nil
}

// FilterUpdates keeps the values DynamoDB can store without surprises:
// scalars, lists of scalars and maps of scalars. Nulls, the key attribute and
// nested structures are dropped and reported in skipped (sorted).
func FilterUpdates(updates map[string]any) (valid map[string]any, skipped []string) {
	valid = make(map[string]any, len(updates))
	for k, v := range updates {
		if k == "" || k == KeyAttribute {
			skipped = append(skipped, k)
			continue
		}
		switch x := v.(type) {
		case nil:
			// Dropped silently, as an absent value.
		case []any:
			if allScalar(x) {
				valid[k] = x
			} else {
				skipped = append(skipped, k)
			}
		case map[string]any:
			vals := make([]any, 0, len(x))
			for _, mv := range x {
				vals = append(vals, mv)
			}
			if allScalar(vals) {
				valid[k] = x
			} else {
				skipped = append(skipped, k)
			}
		default:
			if isScalar(x) {
				valid[k] = x
			} else {
				skipped = append(skipped, k)
			}
		}
	}
	sort.Strings(skipped)
	return valid, skipped
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, bool, float64, float32, int, int32, int64, uint, uint32, uint64:
		return true
	default:
		return false
	}
}

func allScalar(vs []any) bool {
	for _, v := range vs {
		if !isScalar(v) {
			return false
		}
	}
	return true
}
