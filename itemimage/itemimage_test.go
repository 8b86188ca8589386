package itemimage

import (
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var testData = [][]byte{
	[]byte(`{"docId":"invoice-0001","s3Key":"classified/invoice-0001.json","status":"PROVED"}`),
	[]byte(`{"docId":"invoice-0002","s3Key":"classified/invoice-0002.json","pages":3,"tags":["scan","batch-7"]}`),
	[]byte(`{"Item":{"docId":{"S":"invoice-0003"},"status":{"S":"REJECTED"},"pages":{"N":"2"}}}`),
}

func TestDecodePlainRecord(t *testing.T) {
	op, err := NewJSONDecoder().Decode(testData[0])
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if op.DocID != "invoice-0001" {
		t.Errorf("DocID = %q", op.DocID)
	}
	status, ok := op.Item["status"].(*types.AttributeValueMemberS)
	if !ok || status.Value != "PROVED" {
		t.Errorf("status = %#v", op.Item["status"])
	}
	if _, ok := op.Item["s3Key"].(*types.AttributeValueMemberS); !ok {
		t.Errorf("s3Key = %#v", op.Item["s3Key"])
	}
}

func TestDecodeNestedValues(t *testing.T) {
	op, err := NewJSONDecoder().Decode(testData[1])
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if pages, ok := op.Item["pages"].(*types.AttributeValueMemberN); !ok || pages.Value != "3" {
		t.Errorf("pages = %#v", op.Item["pages"])
	}
	if tags, ok := op.Item["tags"].(*types.AttributeValueMemberL); !ok || len(tags.Value) != 2 {
		t.Errorf("tags = %#v", op.Item["tags"])
	}
}

func TestDecodeDynamoDBJSON(t *testing.T) {
	op, err := NewJSONDecoder().Decode(testData[2])
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if op.DocID != "invoice-0003" {
		t.Errorf("DocID = %q", op.DocID)
	}
	if pages, ok := op.Item["pages"].(*types.AttributeValueMemberN); !ok || pages.Value != "2" {
		t.Errorf("pages = %#v", op.Item["pages"])
	}
}

func TestDecodeCorrupt(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"not json", `{"docId":`},
		{"array", `["docId"]`},
		{"missing docId", `{"status":"PROVED"}`},
		{"empty docId", `{"docId":""}`},
		{"numeric docId", `{"docId":42}`},
		{"item without docId", `{"Item":{"status":{"S":"PROVED"}}}`},
	}
	d := NewJSONDecoder()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := d.Decode([]byte(tt.line)); !errors.Is(err, ErrCorrupt) {
				t.Errorf("Decode() error = %v, want ErrCorrupt", err)
			}
		})
	}
}

// BenchmarkDecode measures decoding of a mixed batch of lines
func BenchmarkDecode(b *testing.B) {
	decoder := NewJSONDecoder()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, data := range testData {
			_, _ = decoder.Decode(data)
		}
	}
}
