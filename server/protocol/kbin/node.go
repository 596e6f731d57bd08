// Package kbin implements the self-describing document tree exchanged with
// arcade cabinets, in its binary form and its textual XML form.
package kbin

import (
	"encoding/hex"
	"net/netip"
	"reflect"
	"strconv"
	"strings"
)

// Attr is a string-valued node attribute.
type Attr struct {
	Name  string
	Value string
}

// Node is one element of a document tree. Value holds the typed payload
// described by Type (see value.go for the Go representations); Array marks
// a variable-length sequence of the type.
type Node struct {
	Name     string
	Type     Type
	Array    bool
	Value    interface{}
	Attrs    []Attr
	Children []*Node
}

// NewVoid creates a node without a value.
func NewVoid(name string, children ...*Node) *Node {
	return &Node{Name: name, Type: TypeVoid, Children: children}
}

// NewValue creates a node of type t. The value is checked on serialization.
func NewValue(name string, t Type, value interface{}) *Node {
	return &Node{Name: name, Type: t, Value: value}
}

// NewArray creates an array node of type t holding a slice value.
func NewArray(name string, t Type, value interface{}) *Node {
	return &Node{Name: name, Type: t, Array: true, Value: value}
}

func NewString(name, value string) *Node    { return NewValue(name, TypeString, value) }
func NewBinary(name string, b []byte) *Node { return NewValue(name, TypeBinary, b) }
func NewS8(name string, v int8) *Node       { return NewValue(name, TypeS8, v) }
func NewU8(name string, v uint8) *Node      { return NewValue(name, TypeU8, v) }
func NewS16(name string, v int16) *Node     { return NewValue(name, TypeS16, v) }
func NewU16(name string, v uint16) *Node    { return NewValue(name, TypeU16, v) }
func NewS32(name string, v int32) *Node     { return NewValue(name, TypeS32, v) }
func NewU32(name string, v uint32) *Node    { return NewValue(name, TypeU32, v) }
func NewS64(name string, v int64) *Node     { return NewValue(name, TypeS64, v) }
func NewU64(name string, v uint64) *Node    { return NewValue(name, TypeU64, v) }
func NewBool(name string, v bool) *Node     { return NewValue(name, TypeBool, v) }
func NewTime(name string, unix uint32) *Node {
	return NewValue(name, TypeTime, unix)
}

// NewIP4 creates an ip4 node. Invalid or non-IPv4 addresses become 0.0.0.0.
func NewIP4(name, addr string) *Node {
	a, err := netip.ParseAddr(addr)
	if err != nil || !a.Is4() {
		a = netip.IPv4Unspecified()
	}
	return NewValue(name, TypeIP4, a)
}

// LookupAttr returns the value of the named attribute.
func (n *Node) LookupAttr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// Attr returns the value of the named attribute or "".
func (n *Node) Attr(name string) string {
	v, _ := n.LookupAttr(name)
	return v
}

// SetAttr replaces an existing attribute in place or appends a new one.
func (n *Node) SetAttr(name, value string) *Node {
	for i := range n.Attrs {
		if n.Attrs[i].Name == name {
			n.Attrs[i].Value = value
			return n
		}
	}
	n.Attrs = append(n.Attrs, Attr{Name: name, Value: value})
	return n
}

// Append adds children and returns n.
func (n *Node) Append(children ...*Node) *Node {
	n.Children = append(n.Children, children...)
	return n
}

// Child returns the first direct child with the given name.
func (n *Node) Child(name string) *Node {
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

// ChildrenNamed returns all direct children with the given name.
func (n *Node) ChildrenNamed(name string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Path follows a slash separated list of child names.
func (n *Node) Path(path string) *Node {
	cur := n
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		cur = cur.Child(part)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Text returns the value of a scalar node as text. String nodes return
// their content and numeric nodes their decimal form.
func (n *Node) Text() string {
	if n == nil || n.Value == nil {
		return ""
	}
	// []uint8 is also the value of the u8 vector types, so only bin is hex
	if b, ok := n.Value.([]byte); ok && n.Type == TypeBinary {
		return hex.EncodeToString(b)
	}
	if s, ok := n.Value.(string); ok {
		return s
	}
	d, ok := types[n.Type]
	if !ok || d.elem == elemNone {
		return ""
	}
	return formatValue(d.elem, n.Value)
}

// ChildText returns the text of the named child or "".
func (n *Node) ChildText(name string) string {
	return n.Child(name).Text()
}

// Int returns an integer-typed scalar value widened to int64.
func (n *Node) Int() (int64, bool) {
	if n == nil {
		return 0, false
	}
	switch v := n.Value.(type) {
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		return int64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return i, err == nil
	}
	return 0, false
}

// ChildInt returns the integer value of the named child, or def.
func (n *Node) ChildInt(name string, def int64) int64 {
	if v, ok := n.Child(name).Int(); ok {
		return v
	}
	return def
}

// Clone returns a deep copy of the tree.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := &Node{Name: n.Name, Type: n.Type, Array: n.Array, Value: cloneValue(n.Value)}
	if n.Attrs != nil {
		c.Attrs = append([]Attr(nil), n.Attrs...)
	}
	for _, child := range n.Children {
		c.Children = append(c.Children, child.Clone())
	}
	return c
}

func cloneValue(v interface{}) interface{} {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return v
	}
	out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
	reflect.Copy(out, rv)
	return out.Interface()
}

// Equal reports whether two trees have the same names, types, values,
// attributes in order and children in order.
func (n *Node) Equal(other *Node) bool {
	if n == nil || other == nil {
		return n == other
	}
	if n.Name != other.Name || n.Type != other.Type || n.Array != other.Array {
		return false
	}
	if !valuesEqual(n.Value, other.Value) {
		return false
	}
	if len(n.Attrs) != len(other.Attrs) || len(n.Children) != len(other.Children) {
		return false
	}
	for i := range n.Attrs {
		if n.Attrs[i] != other.Attrs[i] {
			return false
		}
	}
	for i := range n.Children {
		if !n.Children[i].Equal(other.Children[i]) {
			return false
		}
	}
	return true
}

// valuesEqual treats a one element slice and its scalar as equal.
func valuesEqual(a, b interface{}) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if !ra.IsValid() || !rb.IsValid() {
		return false
	}
	if ra.Kind() == reflect.Slice && ra.Len() == 1 && ra.Type().Elem() == rb.Type() {
		return reflect.DeepEqual(ra.Index(0).Interface(), b)
	}
	if rb.Kind() == reflect.Slice && rb.Len() == 1 && rb.Type().Elem() == ra.Type() {
		return reflect.DeepEqual(a, rb.Index(0).Interface())
	}
	return false
}

// String renders the tree as indented text XML for logs.
func (n *Node) String() string {
	var b strings.Builder
	writeText(&b, n, 0, true)
	return b.String()
}
