// Package render turns inference result trees into a display-neutral element
// tree. Rendering is total over document.Node and deterministic.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/gurre/docreview/document"
)

// Placeholders shown for absent values.
const (
	EmptyValue = "(empty)"
	EmptyList  = "(empty list)"
)

// Kind identifies what an Element displays.
type Kind int

const (
	KindPlaceholder Kind = iota // absent value or empty list
	KindLeaf                    // scalar text
	KindList                    // bulleted children
	KindGroup                   // section children, one per key
	KindSection                 // titled subsection with a single child
)

// Element is one node of the rendered tree.
type Element struct {
	Kind     Kind
	Level    int
	Title    string
	Text     string
	Children []Element
}

// Humanize turns a field key into a title.
func Humanize(key string) string {
	return strings.ReplaceAll(key, "_", " ")
}

// Value renders node at nesting level.
func Value(node document.Node, level int) Element {
	switch node.Kind {
	case document.KindLeaf:
		return Element{Kind: KindLeaf, Level: level, Text: node.Text()}
	case document.KindList:
		if len(node.Items) == 0 {
			return Element{Kind: KindPlaceholder, Level: level, Text: EmptyList}
		}
		items := make([]Element, 0, len(node.Items))
		for _, item := range node.Items {
			items = append(items, Value(item, level+1))
		}
		return Element{Kind: KindList, Level: level, Children: items}
	case document.KindSection:
		sections := make([]Element, 0, len(node.Fields))
		for _, f := range node.Fields {
			sections = append(sections, section(f, level))
		}
		return Element{Kind: KindGroup, Level: level, Children: sections}
	default:
		return Element{Kind: KindPlaceholder, Level: level, Text: EmptyValue}
	}
}

func section(f document.Field, level int) Element {
	return Element{
		Kind:     KindSection,
		Level:    level,
		Title:    Humanize(f.Key),
		Children: []Element{Value(f.Value, level+1)},
	}
}

// InferenceResult renders the top level of an inference result: one titled
// group per key of a section root, or a single untitled value otherwise.
func InferenceResult(node document.Node) []Element {
	if node.Kind != document.KindSection {
		return []Element{Value(node, 0)}
	}
	out := make([]Element, 0, len(node.Fields))
	for _, f := range node.Fields {
		out = append(out, section(f, 0))
	}
	return out
}

// Text writes elements as an indented plain-text tree.
func Text(w io.Writer, elements []Element) error {
	tw := &textWriter{w: w}
	for _, e := range elements {
		tw.element(e, 0)
	}
	return tw.err
}

type textWriter struct {
	w   io.Writer
	err error
}

func (t *textWriter) line(depth int, s string) {
	if t.err != nil {
		return
	}
	_, t.err = fmt.Fprintf(t.w, "%s%s\n", strings.Repeat("  ", depth), s)
}

func inline(e Element) bool {
	return e.Kind == KindLeaf || e.Kind == KindPlaceholder
}

func (t *textWriter) element(e Element, depth int) {
	switch e.Kind {
	case KindLeaf, KindPlaceholder:
		t.line(depth, e.Text)
	case KindList:
		for _, item := range e.Children {
			if inline(item) {
				t.line(depth, "- "+item.Text)
				continue
			}
			t.line(depth, "-")
			t.element(item, depth+1)
		}
	case KindGroup:
		for _, c := range e.Children {
			t.element(c, depth)
		}
	case KindSection:
		if len(e.Children) == 1 && inline(e.Children[0]) {
			t.line(depth, e.Title+": "+e.Children[0].Text)
			return
		}
		t.line(depth, e.Title+":")
		for _, c := range e.Children {
			if c.Kind == KindGroup && len(c.Children) == 0 {
				continue
			}
			t.element(c, depth+1)
		}
	}
}
