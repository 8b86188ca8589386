package document

import (
	"bytes"
	stdjson "encoding/json"
	"fmt"
	"io"
	"strconv"

	json "github.com/goccy/go-json"
)

// Kind tags the variant held by a Node.
type Kind int

const (
	KindNull    Kind = iota // absent or JSON null
	KindLeaf                // string, number or boolean
	KindList                // ordered sequence of nodes
	KindSection             // ordered mapping from key to node
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindLeaf:
		return "leaf"
	case KindList:
		return "list"
	case KindSection:
		return "section"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Node is one value of an inference result tree. Exactly one of Scalar, Items
// or Fields is meaningful, selected by Kind. The zero Node is Null.
type Node struct {
	Kind   Kind
	Scalar any     // string, Number or bool when Kind is KindLeaf
	Items  []Node  // when Kind is KindList
	Fields []Field // when Kind is KindSection, in document order
}

// Field is a keyed entry of a section.
type Field struct {
	Key   string
	Value Node
}

// Null returns the empty node.
func Null() Node { return Node{} }

// Leaf wraps a scalar. Numbers are stored as Number so that encoding
// round-trips the original digits.
func Leaf(v any) Node {
	switch x := v.(type) {
	case nil:
		return Null()
	case int:
		v = stdjson.Number(strconv.Itoa(x))
	case int64:
		v = stdjson.Number(strconv.FormatInt(x, 10))
	case float64:
		v = stdjson.Number(strconv.FormatFloat(x, 'f', -1, 64))
	}
	return Node{Kind: KindLeaf, Scalar: v}
}

// List builds a list node.
func List(items ...Node) Node {
	if items == nil {
		items = []Node{}
	}
	return Node{Kind: KindList, Items: items}
}

// Section builds a section node from fields in order.
func Section(fields ...Field) Node {
	if fields == nil {
		fields = []Field{}
	}
	return Node{Kind: KindSection, Fields: fields}
}

// F is shorthand for a Field.
func F(key string, v Node) Field { return Field{Key: key, Value: v} }

// IsNull reports whether the node is absent or null.
func (n Node) IsNull() bool { return n.Kind == KindNull }

// Get returns the value of key in a section.
func (n Node) Get(key string) (Node, bool) {
	if n.Kind != KindSection {
		return Node{}, false
	}
	for _, f := range n.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Node{}, false
}

// Text formats a leaf the way it is shown to reviewers: strings verbatim,
// numbers in shortest form, booleans as true/false.
func (n Node) Text() string {
	switch v := n.Scalar.(type) {
	case string:
		return v
	case stdjson.Number:
		if f, err := v.Float64(); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// MarshalJSON encodes the node preserving section key order.
func (n Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := n.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (n Node) encode(buf *bytes.Buffer) error {
	switch n.Kind {
	case KindNull:
		buf.WriteString("null")
	case KindLeaf:
		if num, ok := n.Scalar.(stdjson.Number); ok {
			buf.WriteString(num.String())
			return nil
		}
		b, err := json.Marshal(n.Scalar)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindList:
		buf.WriteByte('[')
		for i, item := range n.Items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindSection:
		buf.WriteByte('{')
		for i, f := range n.Fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, err := json.Marshal(f.Key)
			if err != nil {
				return err
			}
			buf.Write(k)
			buf.WriteByte(':')
			if err := f.Value.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unknown node kind %v", n.Kind)
	}
	return nil
}

// UnmarshalJSON decodes any JSON value into a node tree, keeping object keys
// in document order.
func (n *Node) UnmarshalJSON(data []byte) error {
	dec := stdjson.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	node, err := decodeNode(dec)
	if err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("unexpected data after JSON value")
	}
	*n = node
	return nil
}

// ParseNode decodes a JSON document into a Node.
func ParseNode(data []byte) (Node, error) {
	var n Node
	if err := n.UnmarshalJSON(data); err != nil {
		return Node{}, err
	}
	return n, nil
}

func decodeNode(dec *stdjson.Decoder) (Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return Node{}, err
	}
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case string, stdjson.Number, bool:
		return Node{Kind: KindLeaf, Scalar: t}, nil
	case stdjson.Delim:
		switch t {
		case '[':
			items := []Node{}
			for dec.More() {
				item, err := decodeNode(dec)
				if err != nil {
					return Node{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Node{}, err
			}
			return Node{Kind: KindList, Items: items}, nil
		case '{':
			fields := []Field{}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Node{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Node{}, fmt.Errorf("expected object key, got %v", keyTok)
				}
				value, err := decodeNode(dec)
				if err != nil {
					return Node{}, err
				}
				fields = append(fields, Field{Key: key, Value: value})
			}
			if _, err := dec.Token(); err != nil {
				return Node{}, err
			}
			return Node{Kind: KindSection, Fields: fields}, nil
		}
	}
	return Node{}, fmt.Errorf("unexpected JSON token %v", tok)
}
