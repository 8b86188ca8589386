package mock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDBClient is a mock implementation of aws.DynamoDBClient for testing.
// Items are stored per table under a composite of their key attributes.
type DynamoDBClient struct {
	// KeyAttributes names the primary key attributes, docId by default.
	KeyAttributes []string

	// Thread-safe map of table data: tableName -> compositeKey -> attributes
	tableData     map[string]map[string]map[string]types.AttributeValue
	mu            sync.RWMutex
	batchWrites   []dynamodb.BatchWriteItemInput
	updateItems   []dynamodb.UpdateItemInput
	failNextWrite bool
	failNextRead  bool
	throttleNext  int
	failMu        sync.Mutex
}

// NewDynamoDBClient creates a new mock DynamoDB client
func NewDynamoDBClient() *DynamoDBClient {
	return &DynamoDBClient{
		KeyAttributes: []string{"docId"},
		tableData:     make(map[string]map[string]map[string]types.AttributeValue),
	}
}

// compositeKey builds a deterministic storage key from the key attributes
// present in item.
func (m *DynamoDBClient) compositeKey(item map[string]types.AttributeValue) string {
	pairs := make([]string, 0, len(m.KeyAttributes))
	for _, name := range m.KeyAttributes {
		if v, ok := item[name]; ok {
			pairs = append(pairs, name+"="+attributeToString(v))
		}
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "#")
}

// attributeToString converts an AttributeValue to a string for key generation
func attributeToString(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	default:
		return ""
	}
}

// SetFailNextWrite configures the client to fail the next write operation
func (m *DynamoDBClient) SetFailNextWrite(fail bool) {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	m.failNextWrite = fail
}

// SetFailNextRead configures the client to fail the next GetItem
func (m *DynamoDBClient) SetFailNextRead(fail bool) {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	m.failNextRead = fail
}

// ThrottleNext makes the next n BatchWriteItem calls fail with a throughput error.
func (m *DynamoDBClient) ThrottleNext(n int) {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	m.throttleNext = n
}

func (m *DynamoDBClient) shouldFail(flag *bool) bool {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	if *flag {
		*flag = false
		return true
	}
	return false
}

func (m *DynamoDBClient) shouldThrottle() bool {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	if m.throttleNext > 0 {
		m.throttleNext--
		return true
	}
	return false
}

func (m *DynamoDBClient) table(name string) map[string]map[string]types.AttributeValue {
	if _, exists := m.tableData[name]; !exists {
		m.tableData[name] = make(map[string]map[string]types.AttributeValue)
	}
	return m.tableData[name]
}

// PutItem seeds an item directly.
func (m *DynamoDBClient) PutItem(tableName string, item map[string]types.AttributeValue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.table(tableName)[m.compositeKey(item)] = copyAttributes(item)
}

// GetItem implements the DynamoDBClient interface for reading one item.
func (m *DynamoDBClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if m.shouldFail(&m.failNextRead) {
		return nil, fmt.Errorf("simulated get failure")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.tableData[*params.TableName][m.compositeKey(params.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: copyAttributes(item)}, nil
}

// BatchWriteItem implements the DynamoDBClient interface for batch writing items.
func (m *DynamoDBClient) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	m.mu.Lock()
	m.batchWrites = append(m.batchWrites, *params)
	m.mu.Unlock()

	if m.shouldFail(&m.failNextWrite) {
		return nil, fmt.Errorf("simulated batch write failure")
	}
	if m.shouldThrottle() {
		return nil, &types.ProvisionedThroughputExceededException{Message: stringPtr("simulated throttling")}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for tableName, writeRequests := range params.RequestItems {
		table := m.table(tableName)
		for _, writeRequest := range writeRequests {
			if writeRequest.PutRequest != nil {
				item := writeRequest.PutRequest.Item
				table[m.compositeKey(item)] = copyAttributes(item)
			}
			if writeRequest.DeleteRequest != nil {
				delete(table, m.compositeKey(writeRequest.DeleteRequest.Key))
			}
		}
	}

	return &dynamodb.BatchWriteItemOutput{
		UnprocessedItems: make(map[string][]types.WriteRequest),
	}, nil
}

// UpdateItem implements the DynamoDBClient interface for updating individual items.
// It applies SET and REMOVE clauses, creates missing items and honours
// ReturnValues ALL_NEW.
func (m *DynamoDBClient) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.mu.Lock()
	m.updateItems = append(m.updateItems, *params)
	m.mu.Unlock()

	if m.shouldFail(&m.failNextWrite) {
		return nil, fmt.Errorf("simulated update failure")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	table := m.table(*params.TableName)
	key := m.compositeKey(params.Key)

	// Create item if it doesn't exist
	item, exists := table[key]
	if !exists {
		item = copyAttributes(params.Key)
		table[key] = item
	}

	resolveName := func(ref string) string {
		if resolved, ok := params.ExpressionAttributeNames[ref]; ok {
			return resolved
		}
		return ref
	}

	if params.UpdateExpression != nil {
		expr := *params.UpdateExpression

		// SET #attr1 = :val1, #attr2 = :val2
		if idx := strings.Index(expr, "SET "); idx != -1 {
			setExpr := expr[idx+4:]
			if end := strings.Index(setExpr, " REMOVE"); end != -1 {
				setExpr = setExpr[:end]
			}
			for _, assignment := range strings.Split(setExpr, ", ") {
				parts := strings.Split(strings.TrimSpace(assignment), " = ")
				if len(parts) != 2 {
					continue
				}
				if val, ok := params.ExpressionAttributeValues[strings.TrimSpace(parts[1])]; ok {
					item[resolveName(strings.TrimSpace(parts[0]))] = val
				}
			}
		}

		// REMOVE #attr1, #attr2
		if idx := strings.Index(expr, "REMOVE "); idx != -1 {
			for _, attr := range strings.Split(expr[idx+7:], ", ") {
				delete(item, resolveName(strings.TrimSpace(attr)))
			}
		}
	}

	out := &dynamodb.UpdateItemOutput{}
	if params.ReturnValues == types.ReturnValueAllNew {
		out.Attributes = copyAttributes(item)
	}
	return out, nil
}

// GetTableContents returns a copy of a table's contents for verification
func (m *DynamoDBClient) GetTableContents(tableName string) map[string]map[string]types.AttributeValue {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]map[string]types.AttributeValue, len(m.tableData[tableName]))
	for k, item := range m.tableData[tableName] {
		out[k] = copyAttributes(item)
	}
	return out
}

// GetBatchWrites returns all recorded batch write calls
func (m *DynamoDBClient) GetBatchWrites() []dynamodb.BatchWriteItemInput {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]dynamodb.BatchWriteItemInput(nil), m.batchWrites...)
}

// GetUpdateItems returns all recorded update calls
func (m *DynamoDBClient) GetUpdateItems() []dynamodb.UpdateItemInput {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]dynamodb.UpdateItemInput(nil), m.updateItems...)
}

func copyAttributes(in map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func stringPtr(s string) *string { return &s }
