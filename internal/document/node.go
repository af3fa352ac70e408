// Package document holds the ordered tree used for every metadata document
// the explorer displays: dataset, product and metadata type definitions.
//
// A Node keeps mapping keys in the order they were read, so a document
// decoded from YAML or JSON renders and re-serialises with its original
// key order.
package document

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"time"
)

// Kind classifies a Node.
type Kind int

const (
	Null Kind = iota
	Scalar
	Mapping
	Sequence
	// Other wraps a value with no natural tree form. It is displayed
	// through its JSON or fmt rendering.
	Other
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Scalar:
		return "scalar"
	case Mapping:
		return "mapping"
	case Sequence:
		return "sequence"
	case Other:
		return "other"
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Number is a numeric scalar kept in its source text form.
type Number string

// Int64 parses the number as an integer.
func (n Number) Int64() (int64, error) { return strconv.ParseInt(string(n), 10, 64) }

// Float64 parses the number as a float.
func (n Number) Float64() (float64, error) { return strconv.ParseFloat(string(n), 64) }

// Entry is one key/value pair of a mapping.
type Entry struct {
	Key   string
	Value *Node
}

// Node is one value of a document tree.
//
// Scalar values are string, bool or Number. Other values hold whatever
// the caller supplied.
type Node struct {
	Kind    Kind
	Value   any
	Entries []Entry
	Items   []*Node
}

// NewNull returns a null node.
func NewNull() *Node { return &Node{Kind: Null} }

// NewString returns a string scalar.
func NewString(s string) *Node { return &Node{Kind: Scalar, Value: s} }

// NewBool returns a boolean scalar.
func NewBool(b bool) *Node { return &Node{Kind: Scalar, Value: b} }

// NewNumber returns a numeric scalar from its text form.
func NewNumber(text string) *Node { return &Node{Kind: Scalar, Value: Number(text)} }

// NewMapping returns a mapping holding entries in the given order.
func NewMapping(entries ...Entry) *Node {
	return &Node{Kind: Mapping, Entries: entries}
}

// NewSequence returns a sequence holding items in the given order.
func NewSequence(items ...*Node) *Node {
	if items == nil {
		items = []*Node{}
	}
	return &Node{Kind: Sequence, Items: items}
}

// NewOther wraps an arbitrary value.
func NewOther(v any) *Node { return &Node{Kind: Other, Value: v} }

// IsNull reports whether n is absent or null.
func (n *Node) IsNull() bool { return n == nil || n.Kind == Null }

// Len is the number of entries or items of a container, zero otherwise.
func (n *Node) Len() int {
	if n == nil {
		return 0
	}
	switch n.Kind {
	case Mapping:
		return len(n.Entries)
	case Sequence:
		return len(n.Items)
	}
	return 0
}

// Keys returns the mapping keys in document order.
func (n *Node) Keys() []string {
	if n == nil || n.Kind != Mapping {
		return nil
	}
	out := make([]string, 0, len(n.Entries))
	for _, e := range n.Entries {
		out = append(out, e.Key)
	}
	return out
}

// Get returns the value stored under key in a mapping.
func (n *Node) Get(key string) (*Node, bool) {
	if n == nil || n.Kind != Mapping {
		return nil, false
	}
	for _, e := range n.Entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Path walks nested mappings and returns the value at the end of keys.
func (n *Node) Path(keys ...string) (*Node, bool) {
	cur := n
	for _, k := range keys {
		next, ok := cur.Get(k)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, cur != nil
}

// Set replaces the value under key, appending a new entry when absent.
func (n *Node) Set(key string, value *Node) {
	if n == nil || n.Kind != Mapping {
		return
	}
	for i := range n.Entries {
		if n.Entries[i].Key == key {
			n.Entries[i].Value = value
			return
		}
	}
	n.Entries = append(n.Entries, Entry{Key: key, Value: value})
}

// Delete removes key from a mapping.
func (n *Node) Delete(key string) {
	if n == nil || n.Kind != Mapping {
		return
	}
	for i := range n.Entries {
		if n.Entries[i].Key == key {
			n.Entries = append(n.Entries[:i:i], n.Entries[i+1:]...)
			return
		}
	}
}

// String returns the text of a scalar. Null yields "" and containers
// yield their compact JSON form.
func (n *Node) String() string {
	if n == nil {
		return ""
	}
	switch n.Kind {
	case Null:
		return ""
	case Scalar:
		switch v := n.Value.(type) {
		case string:
			return v
		case bool:
			return strconv.FormatBool(v)
		case Number:
			return string(v)
		}
		return fmt.Sprint(n.Value)
	case Other:
		return OtherText(n.Value)
	}
	b, err := n.MarshalJSON()
	if err != nil {
		return ""
	}
	return string(b)
}

// Clone returns a deep copy of containers. Scalar and Other values are
// shared.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{Kind: n.Kind, Value: n.Value}
	if n.Entries != nil {
		out.Entries = make([]Entry, len(n.Entries))
		for i, e := range n.Entries {
			out.Entries[i] = Entry{Key: e.Key, Value: e.Value.Clone()}
		}
	}
	if n.Items != nil {
		out.Items = make([]*Node, len(n.Items))
		for i, it := range n.Items {
			out.Items[i] = it.Clone()
		}
	}
	return out
}

// FromValue converts a Go value into a Node. Maps are emitted with keys in
// sorted order since Go maps carry none.
func FromValue(v any) *Node {
	switch t := v.(type) {
	case nil:
		return NewNull()
	case *Node:
		if t == nil {
			return NewNull()
		}
		return t
	case string:
		return NewString(t)
	case bool:
		return NewBool(t)
	case Number:
		return NewNumber(string(t))
	case int:
		return NewNumber(strconv.FormatInt(int64(t), 10))
	case int32:
		return NewNumber(strconv.FormatInt(int64(t), 10))
	case int64:
		return NewNumber(strconv.FormatInt(t, 10))
	case uint64:
		return NewNumber(strconv.FormatUint(t, 10))
	case float32:
		return NewNumber(strconv.FormatFloat(float64(t), 'g', -1, 32))
	case float64:
		return NewNumber(strconv.FormatFloat(t, 'g', -1, 64))
	case time.Time:
		return NewString(t.Format(time.RFC3339Nano))
	case fmt.Stringer:
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
			return NewNull()
		}
		return NewOther(v)
	case []any:
		items := make([]*Node, 0, len(t))
		for _, it := range t {
			items = append(items, FromValue(it))
		}
		return NewSequence(items...)
	case []string:
		items := make([]*Node, 0, len(t))
		for _, it := range t {
			items = append(items, NewString(it))
		}
		return NewSequence(items...)
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		entries := make([]Entry, 0, len(keys))
		for _, k := range keys {
			entries = append(entries, Entry{Key: k, Value: FromValue(t[k])})
		}
		return NewMapping(entries...)
	case map[string]string:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		entries := make([]Entry, 0, len(keys))
		for _, k := range keys {
			entries = append(entries, Entry{Key: k, Value: NewString(t[k])})
		}
		return NewMapping(entries...)
	}
	return NewOther(v)
}
