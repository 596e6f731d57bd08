package kbin

import (
	"bytes"
	"encoding/hex"
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	"github.com/gear6io/oxygen/pkg/errors"
)

// typing attributes of the text form
const (
	attrType  = "__type"
	attrCount = "__count"
	attrSize  = "__size"
)

// MarshalText encodes root as an XML document in the given encoding.
func MarshalText(root *Node, enc Encoding) ([]byte, error) {
	if root == nil {
		return nil, errors.New(ErrInvalidValue, "document has no root", nil)
	}
	if err := checkTree(root); err != nil {
		return nil, err
	}
	charset, err := enc.charset()
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="`)
	b.WriteString(enc.String())
	b.WriteString(`"?>`)
	writeText(&b, root, 0, false)

	out, err := charset.NewEncoder().Bytes([]byte(b.String()))
	if err != nil {
		return nil, errors.New(ErrInvalidValue, "document is not representable in "+enc.String(), err)
	}
	return out, nil
}

func checkTree(n *Node) error {
	if err := checkValue(n); err != nil {
		return err
	}
	for _, c := range n.Children {
		if err := checkTree(c); err != nil {
			return err
		}
	}
	return nil
}

func typingAttrs(n *Node) []Attr {
	if n.Type == TypeVoid {
		return nil
	}
	attrs := []Attr{{attrType, n.Type.String()}}
	switch {
	case n.Type == TypeBinary:
		if b, ok := n.Value.([]byte); ok {
			attrs = append(attrs, Attr{attrSize, strconv.Itoa(len(b))})
		}
	case n.Array:
		if count, ok := components(types[n.Type].elem, n.Value); ok {
			attrs = append(attrs, Attr{attrCount, strconv.Itoa(count / types[n.Type].count)})
		}
	}
	return attrs
}

// writeText renders n. With indent set, children go on their own lines.
func writeText(b *strings.Builder, n *Node, depth int, indent bool) {
	if n == nil {
		return
	}
	if indent && depth > 0 {
		b.WriteString("\n")
		b.WriteString(strings.Repeat("  ", depth))
	}

	b.WriteString("<")
	b.WriteString(n.Name)
	for _, a := range append(typingAttrs(n), n.Attrs...) {
		b.WriteString(" ")
		b.WriteString(a.Name)
		b.WriteString(`="`)
		xml.EscapeText(b, []byte(a.Value))
		b.WriteString(`"`)
	}

	body := n.Text()
	if body == "" && len(n.Children) == 0 {
		b.WriteString("/>")
		return
	}
	b.WriteString(">")
	xml.EscapeText(b, []byte(body))
	for _, c := range n.Children {
		writeText(b, c, depth+1, indent)
	}
	if indent && len(n.Children) > 0 {
		b.WriteString("\n")
		b.WriteString(strings.Repeat("  ", depth))
	}
	b.WriteString("</")
	b.WriteString(n.Name)
	b.WriteString(">")
}

// UnmarshalText decodes an XML document. Nodes without a __type attribute
// are strings when they carry text and void otherwise.
func UnmarshalText(data []byte) (*Node, Options, error) {
	opts := Options{Format: FormatText, Encoding: EncodingUTF8}

	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = true
	dec.CharsetReader = func(label string, input io.Reader) (io.Reader, error) {
		enc, err := lookupCharset(label)
		if err != nil {
			return nil, err
		}
		return enc.NewDecoder().Reader(input), nil
	}

	var root *Node
	var stack []*Node
	var texts []*strings.Builder

	for {
		at := int(dec.InputOffset())
		tok, err := dec.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, opts, malformed(at, "%v", err)
		}

		switch t := tok.(type) {
		case xml.ProcInst:
			if t.Target == "xml" {
				if label := procInstEncoding(string(t.Inst)); label != "" {
					if e, ok := ParseEncoding(label); ok {
						opts.Encoding = e
					}
				}
			}

		case xml.StartElement:
			if root != nil && len(stack) == 0 {
				return nil, opts, malformed(at, "second root element %q", qualified(t.Name))
			}
			n := &Node{Name: qualified(t.Name), Type: TypeVoid}
			var typeName string
			for _, a := range t.Attr {
				switch name := qualified(a.Name); name {
				case attrType:
					typeName = a.Value
				case attrCount:
					n.Array = true
				case attrSize:
				default:
					n.Attrs = append(n.Attrs, Attr{Name: name, Value: a.Value})
				}
			}
			if typeName != "" {
				typ, ok := ParseType(typeName)
				if !ok {
					return nil, opts, malformed(at, "unknown type %q on %q", typeName, n.Name)
				}
				n.Type = typ
			}
			if n.Type == TypeVoid || n.Type == TypeString || n.Type == TypeBinary {
				n.Array = false
			}

			if len(stack) == 0 {
				root = n
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			}
			stack = append(stack, n)
			texts = append(texts, &strings.Builder{})

		case xml.CharData:
			if len(texts) > 0 {
				texts[len(texts)-1].Write(t)
			}

		case xml.EndElement:
			if len(stack) == 0 {
				return nil, opts, malformed(at, "unexpected end element %q", qualified(t.Name))
			}
			n := stack[len(stack)-1]
			if name := qualified(t.Name); name != n.Name {
				return nil, opts, malformed(at, "end element %q closes %q", name, n.Name)
			}
			text := texts[len(texts)-1].String()
			stack = stack[:len(stack)-1]
			texts = texts[:len(texts)-1]

			if err := setText(n, text); err != nil {
				return nil, opts, malformed(at, "%s", err.Error())
			}
		}
	}

	if root == nil {
		return nil, opts, malformed(len(data), "document has no root element")
	}
	if len(stack) != 0 {
		return nil, opts, malformed(len(data), "element %q is not closed", stack[len(stack)-1].Name)
	}
	return root, opts, nil
}

func qualified(name xml.Name) string {
	if name.Space == "" {
		return name.Local
	}
	return name.Space + ":" + name.Local
}

func procInstEncoding(inst string) string {
	idx := strings.Index(inst, "encoding=")
	if idx < 0 {
		return ""
	}
	rest := inst[idx+len("encoding="):]
	if len(rest) < 2 {
		return ""
	}
	quote := rest[0]
	end := strings.IndexByte(rest[1:], quote)
	if end < 0 {
		return ""
	}
	return rest[1 : 1+end]
}

// setText converts collected character data into the node's typed value.
func setText(n *Node, text string) error {
	switch n.Type {
	case TypeVoid:
		if strings.TrimSpace(text) != "" && len(n.Children) == 0 {
			n.Type = TypeString
			n.Value = text
		}
		return nil
	case TypeString:
		n.Value = text
		return nil
	case TypeBinary:
		b, err := hex.DecodeString(strings.TrimSpace(text))
		if err != nil {
			return errors.Newf(ErrInvalidValue, "node %q: bad hex", n.Name)
		}
		n.Value = b
		return nil
	}

	d := types[n.Type]
	fields := strings.Fields(text)
	switch {
	case n.Array && len(fields)%d.count != 0:
		return errors.Newf(ErrInvalidValue, "node %q: %d values for %s array", n.Name, len(fields), n.Type)
	case !n.Array && len(fields) != d.count:
		return errors.Newf(ErrInvalidValue, "node %q: %d values for %s", n.Name, len(fields), n.Type)
	}
	v, err := parseValue(d.elem, fields, !n.Array && d.count == 1)
	if err != nil {
		return errors.Newf(ErrInvalidValue, "node %q: %v", n.Name, err)
	}
	n.Value = v
	return nil
}
