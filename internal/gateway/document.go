package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"

	"otbr-gateway/internal/otstack"
)

// NodeKind is the type of a document node.
type NodeKind uint8

const (
	KindString NodeKind = iota
	KindInt
	KindArray
	KindTable
)

// Node is one element of a reply document. Containers keep their children
// in insertion order.
type Node struct {
	Name     string
	Kind     NodeKind
	Str      string
	Int      int64
	Children []*Node
}

// Field returns the first child named name.
func (n *Node) Field(name string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (n *Node) clone() *Node {
	c := *n
	if n.Children != nil {
		c.Children = make([]*Node, len(n.Children))
		for i, ch := range n.Children {
			c.Children[i] = ch.clone()
		}
	}
	return &c
}

// ErrorField is the status field every reply ends with.
const ErrorField = "Error"

// Document is an append-only ordered reply under construction. A Document
// belongs to one caller and is not safe for concurrent use.
type Document struct {
	root     *Node
	open     []*Node
	finished bool
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	root := &Node{Kind: KindTable}
	return &Document{root: root, open: []*Node{root}}
}

func (d *Document) cur() *Node {
	return d.open[len(d.open)-1]
}

func (d *Document) add(n *Node) {
	if d.finished {
		return
	}
	cur := d.cur()
	cur.Children = append(cur.Children, n)
}

// AddString appends a string field.
func (d *Document) AddString(name, v string) {
	d.add(&Node{Name: name, Kind: KindString, Str: v})
}

// AddInt appends an integer field.
func (d *Document) AddInt(name string, v int64) {
	d.add(&Node{Name: name, Kind: KindInt, Int: v})
}

// OpenArray appends an array and makes it the current container.
func (d *Document) OpenArray(name string) {
	d.openContainer(name, KindArray)
}

// OpenTable appends a table and makes it the current container.
func (d *Document) OpenTable(name string) {
	d.openContainer(name, KindTable)
}

func (d *Document) openContainer(name string, kind NodeKind) {
	if d.finished {
		return
	}
	n := &Node{Name: name, Kind: kind, Children: []*Node{}}
	d.add(n)
	d.open = append(d.open, n)
}

// Close ends the current container. Closing the root is a no-op.
func (d *Document) Close() {
	if len(d.open) > 1 {
		d.open = d.open[:len(d.open)-1]
	}
}

// Depth returns the number of containers still open below the root.
func (d *Document) Depth() int {
	return len(d.open) - 1
}

// Finish closes any open containers and appends the Error field.
// Only the first call has an effect.
func (d *Document) Finish(code otstack.Error) {
	if d.finished {
		return
	}
	d.open = d.open[:1]
	d.AddInt(ErrorField, int64(code))
	d.finished = true
}

// Finished reports whether Finish has run.
func (d *Document) Finished() bool {
	return d.finished
}

// Root returns the top-level table.
func (d *Document) Root() *Node {
	return d.root
}

// Field returns the first top-level field named name.
func (d *Document) Field(name string) *Node {
	return d.root.Field(name)
}

// Clone returns a deep copy, including which containers are open.
func (d *Document) Clone() *Document {
	c := &Document{root: d.root.clone(), finished: d.finished}
	c.open = []*Node{c.root}
	n := c.root
	for i := 1; i < len(d.open); i++ {
		n = n.Children[len(n.Children)-1]
		c.open = append(c.open, n)
	}
	return c
}

// MarshalJSON encodes the document as a JSON object in insertion order.
// Names of array elements are dropped.
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeNode(&buf, d.root); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeNode(buf *bytes.Buffer, n *Node) error {
	switch n.Kind {
	case KindString:
		b, err := json.Marshal(n.Str)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindInt:
		buf.WriteString(strconv.FormatInt(n.Int, 10))
	case KindArray:
		buf.WriteByte('[')
		for i, c := range n.Children {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeNode(buf, c); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindTable:
		buf.WriteByte('{')
		for i, c := range n.Children {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(c.Name)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := encodeNode(buf, c); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("document: unknown node kind %d", n.Kind)
	}
	return nil
}

// UnmarshalJSON replaces the document with the JSON object in b, keeping
// key order. Booleans load as 0/1 and nulls are skipped.
func (d *Document) UnmarshalJSON(b []byte) error {
	if !gjson.ValidBytes(b) {
		return fmt.Errorf("document: invalid json")
	}
	res := gjson.ParseBytes(b)
	if !res.IsObject() {
		return fmt.Errorf("document: top level is %s, want object", res.Type)
	}
	root := &Node{Kind: KindTable, Children: []*Node{}}
	loadChildren(root, res)
	d.root = root
	d.open = []*Node{root}
	d.finished = root.Field(ErrorField) != nil
	return nil
}

func loadChildren(parent *Node, res gjson.Result) {
	res.ForEach(func(key, value gjson.Result) bool {
		var n *Node
		switch {
		case value.IsObject():
			n = &Node{Kind: KindTable, Children: []*Node{}}
			loadChildren(n, value)
		case value.IsArray():
			n = &Node{Kind: KindArray, Children: []*Node{}}
			loadChildren(n, value)
		case value.Type == gjson.String:
			n = &Node{Kind: KindString, Str: value.String()}
		case value.Type == gjson.Number:
			n = &Node{Kind: KindInt, Int: value.Int()}
		case value.Type == gjson.True:
			n = &Node{Kind: KindInt, Int: 1}
		case value.Type == gjson.False:
			n = &Node{Kind: KindInt, Int: 0}
		default:
			return true
		}
		if parent.Kind == KindTable {
			n.Name = key.String()
		}
		parent.Children = append(parent.Children, n)
		return true
	})
}
