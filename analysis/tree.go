// Package analysis holds the data model a batch inspection produces: the
// ordered metadata tree built for each file, the per-file record, and the
// aggregate batch result.
package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Node is one entry in a metadata tree. A node is either a string leaf or,
// when Children is non-nil, a named group of nested nodes.
type Node struct {
	Key      string
	Value    string
	Children *Tree
}

// Tree is an ordered set of nodes keyed by display name. Keys are unique
// per level; setting an existing key updates the node in place so the
// original position is kept.
type Tree struct {
	nodes []*Node
}

func NewTree() *Tree {
	return &Tree{}
}

func (t *Tree) find(key string) *Node {
	for _, n := range t.nodes {
		if n.Key == key {
			return n
		}
	}
	return nil
}

// SetLeaf adds a string leaf, or updates the existing node with that key.
func (t *Tree) SetLeaf(key, value string) {
	if n := t.find(key); n != nil {
		n.Value = value
		n.Children = nil
		return
	}
	t.nodes = append(t.nodes, &Node{Key: key, Value: value})
}

// Group returns the subtree under key, creating it when absent. A leaf
// already stored under the key is converted to a group.
func (t *Tree) Group(key string) *Tree {
	if n := t.find(key); n != nil {
		if n.Children == nil {
			n.Value = ""
			n.Children = NewTree()
		}
		return n.Children
	}
	sub := NewTree()
	t.nodes = append(t.nodes, &Node{Key: key, Children: sub})
	return sub
}

// Attach sets key to the given subtree, replacing any prior node.
func (t *Tree) Attach(key string, sub *Tree) {
	if sub == nil {
		sub = NewTree()
	}
	if n := t.find(key); n != nil {
		n.Value = ""
		n.Children = sub
		return
	}
	t.nodes = append(t.nodes, &Node{Key: key, Children: sub})
}

// Get looks up a node by key at this level only.
func (t *Tree) Get(key string) (*Node, bool) {
	n := t.find(key)
	return n, n != nil
}

// Leaf returns the value of a string leaf at this level.
func (t *Tree) Leaf(key string) (string, bool) {
	n := t.find(key)
	if n == nil || n.Children != nil {
		return "", false
	}
	return n.Value, true
}

// Nodes returns the node list in insertion order. Callers must not modify
// the returned slice.
func (t *Tree) Nodes() []*Node {
	return t.nodes
}

func (t *Tree) Len() int {
	return len(t.nodes)
}

// MarshalJSON renders the tree as a nested JSON object preserving insertion
// order. Leaves with empty values are dropped; groups are always emitted,
// empty ones as {}.
func (t *Tree) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for _, n := range t.nodes {
		var val []byte
		if n.Children != nil {
			b, err := n.Children.MarshalJSON()
			if err != nil {
				return nil, err
			}
			val = b
		} else {
			if n.Value == "" {
				continue
			}
			b, err := json.Marshal(n.Value)
			if err != nil {
				return nil, err
			}
			val = b
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		key, err := json.Marshal(n.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON rebuilds a tree from its exported object form, keeping key
// order. Scalar values are stored as strings.
func (t *Tree) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("metadata tree must be a JSON object, got %v", tok)
	}
	t.nodes = nil
	return t.decodeObject(dec)
}

func (t *Tree) decodeObject(dec *json.Decoder) error {
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", keyTok)
		}
		valTok, err := dec.Token()
		if err != nil {
			return err
		}
		switch v := valTok.(type) {
		case json.Delim:
			if v != '{' {
				return fmt.Errorf("unsupported value for %q: %v", key, v)
			}
			sub := NewTree()
			if err := sub.decodeObject(dec); err != nil {
				return err
			}
			t.Attach(key, sub)
		case string:
			t.SetLeaf(key, v)
		case json.Number:
			t.SetLeaf(key, v.String())
		case bool:
			t.SetLeaf(key, strconv.FormatBool(v))
		case nil:
			// null leaves are dropped, matching the export filter
		default:
			return fmt.Errorf("unsupported value for %q: %v", key, valTok)
		}
	}
	// consume the closing brace
	_, err := dec.Token()
	return err
}
