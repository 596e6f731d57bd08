package kbin

import (
	"encoding/binary"

	"github.com/gear6io/oxygen/pkg/errors"
)

const (
	binaryMagic  byte = 0xa0
	namesSixbit  byte = 0x42
	namesRaw     byte = 0x45
	headerLength      = 8
	maxRawName        = 64
)

// IsBinary reports whether data starts with a binary document header.
func IsBinary(data []byte) bool {
	return len(data) >= 2 && data[0] == binaryMagic && (data[1] == namesSixbit || data[1] == namesRaw)
}

func align4(n int) int {
	return (n + 3) &^ 3
}

// binaryWriter keeps the node section and the data section. Values of one
// and two bytes are packed into shared dwords of the data section.
type binaryWriter struct {
	opts    Options
	nodes   []byte
	data    []byte
	bytePos int
	wordPos int
}

// MarshalBinary encodes root in binary form.
func MarshalBinary(root *Node, opts Options) ([]byte, error) {
	if root == nil {
		return nil, errors.New(ErrInvalidValue, "document has no root", nil)
	}
	if !opts.Encoding.Valid() {
		return nil, errors.Newf(ErrUnsupportedEncoding, "unknown encoding byte 0x%02x", byte(opts.Encoding))
	}

	w := &binaryWriter{opts: opts}
	if err := w.node(root); err != nil {
		return nil, err
	}
	w.nodes = append(w.nodes, codeEndDoc|arrayFlag)
	for len(w.nodes)%4 != 0 {
		w.nodes = append(w.nodes, 0)
	}

	names := namesSixbit
	if opts.RawNames {
		names = namesRaw
	}

	out := make([]byte, 0, headerLength+len(w.nodes)+4+len(w.data))
	out = append(out, binaryMagic, names, byte(opts.Encoding), ^byte(opts.Encoding))
	out = binary.BigEndian.AppendUint32(out, uint32(len(w.nodes)))
	out = append(out, w.nodes...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(w.data)))
	out = append(out, w.data...)
	return out, nil
}

func (w *binaryWriter) name(name string) error {
	if !w.opts.RawNames {
		out, err := packSixbit(w.nodes, name)
		if err != nil {
			return err
		}
		w.nodes = out
		return nil
	}

	encoded, err := w.opts.Encoding.encode(name)
	if err != nil {
		return err
	}
	if len(encoded) == 0 || len(encoded) > maxRawName {
		return errors.Newf(ErrInvalidName, "name length %d out of range", len(encoded)).AddContext("name", name)
	}
	w.nodes = append(w.nodes, byte(len(encoded)-1)|arrayFlag)
	w.nodes = append(w.nodes, encoded...)
	return nil
}

func (w *binaryWriter) node(n *Node) error {
	if err := checkValue(n); err != nil {
		return err
	}

	code := byte(n.Type)
	if n.Array {
		code |= arrayFlag
	}
	w.nodes = append(w.nodes, code)
	if err := w.name(n.Name); err != nil {
		return err
	}

	switch {
	case n.Type == TypeVoid:
	case n.Type == TypeString:
		if err := w.string(n.Value.(string)); err != nil {
			return err
		}
	case n.Type == TypeBinary:
		w.auto(n.Value.([]byte))
	case n.Array:
		w.auto(packValue(types[n.Type].elem, n.Value))
	default:
		w.aligned(packValue(types[n.Type].elem, n.Value))
	}

	for _, a := range n.Attrs {
		w.nodes = append(w.nodes, codeAttr)
		if err := w.name(a.Name); err != nil {
			return err
		}
		if err := w.string(a.Value); err != nil {
			return err
		}
	}

	for _, c := range n.Children {
		if err := w.node(c); err != nil {
			return err
		}
	}

	w.nodes = append(w.nodes, codeEndNode|arrayFlag)
	return nil
}

func (w *binaryWriter) string(s string) error {
	encoded, err := w.opts.Encoding.encode(s)
	if err != nil {
		return err
	}
	w.auto(append(encoded, 0))
	return nil
}

// auto appends a length-prefixed block padded to four bytes.
func (w *binaryWriter) auto(b []byte) {
	w.data = binary.BigEndian.AppendUint32(w.data, uint32(len(b)))
	w.data = append(w.data, b...)
	w.pad()
}

func (w *binaryWriter) pad() {
	for len(w.data)%4 != 0 {
		w.data = append(w.data, 0)
	}
}

// aligned stores a fixed-size value. Values of one and two bytes share a
// dword with neighbours of the same size.
func (w *binaryWriter) aligned(b []byte) {
	if w.bytePos%4 == 0 {
		w.bytePos = len(w.data)
	}
	if w.wordPos%4 == 0 {
		w.wordPos = len(w.data)
	}

	switch len(b) {
	case 1:
		if w.bytePos%4 == 0 {
			w.data = append(w.data, 0, 0, 0, 0)
		}
		w.data[w.bytePos] = b[0]
		w.bytePos++
	case 2:
		if w.wordPos%4 == 0 {
			w.data = append(w.data, 0, 0, 0, 0)
		}
		copy(w.data[w.wordPos:], b)
		w.wordPos += 2
	default:
		w.data = append(w.data, b...)
		w.pad()
	}
}

// binaryReader mirrors binaryWriter. Offsets in errors are relative to the
// start of the document.
type binaryReader struct {
	opts Options

	nodes    []byte
	nodePos  int
	nodeBase int

	data     []byte
	dataPos  int
	bytePos  int
	wordPos  int
	dataBase int
}

// UnmarshalBinary decodes a binary document.
func UnmarshalBinary(data []byte) (*Node, Options, error) {
	opts := Options{Format: FormatBinary}
	if len(data) < headerLength {
		return nil, opts, malformed(len(data), "header needs %d bytes, have %d", headerLength, len(data))
	}
	if data[0] != binaryMagic {
		return nil, opts, malformed(0, "bad magic 0x%02x", data[0])
	}
	switch data[1] {
	case namesSixbit:
	case namesRaw:
		opts.RawNames = true
	default:
		return nil, opts, malformed(1, "bad name mode 0x%02x", data[1])
	}
	if data[3] != ^data[2] {
		return nil, opts, malformed(3, "encoding check byte 0x%02x does not match 0x%02x", data[3], data[2])
	}
	opts.Encoding = Encoding(data[2])
	if !opts.Encoding.Valid() {
		return nil, opts, malformed(2, "unknown encoding byte 0x%02x", data[2])
	}

	nodeLen := int(binary.BigEndian.Uint32(data[4:8]))
	if nodeLen > len(data)-headerLength {
		return nil, opts, malformed(4, "node section of %d bytes exceeds document", nodeLen)
	}
	dataStart := headerLength + nodeLen
	if len(data)-dataStart < 4 {
		return nil, opts, malformed(dataStart, "missing data section length")
	}
	dataLen := int(binary.BigEndian.Uint32(data[dataStart : dataStart+4]))
	if dataLen > len(data)-dataStart-4 {
		return nil, opts, malformed(dataStart, "data section of %d bytes exceeds document", dataLen)
	}

	r := &binaryReader{
		opts:     opts,
		nodes:    data[headerLength:dataStart],
		nodeBase: headerLength,
		data:     data[dataStart+4 : dataStart+4+dataLen],
		dataBase: dataStart + 4,
	}
	root, err := r.document()
	if err != nil {
		return nil, opts, err
	}
	return root, opts, nil
}

func (r *binaryReader) nodeOffset() int {
	return r.nodeBase + r.nodePos
}

func (r *binaryReader) nodeByte() (byte, error) {
	if r.nodePos >= len(r.nodes) {
		return 0, malformed(r.nodeOffset(), "node section ended before end of document")
	}
	b := r.nodes[r.nodePos]
	r.nodePos++
	return b, nil
}

func (r *binaryReader) nodeBytes(n int) ([]byte, error) {
	if n > len(r.nodes)-r.nodePos {
		return nil, malformed(r.nodeOffset(), "name needs %d bytes, have %d", n, len(r.nodes)-r.nodePos)
	}
	b := r.nodes[r.nodePos : r.nodePos+n]
	r.nodePos += n
	return b, nil
}

func (r *binaryReader) name() (string, error) {
	first, err := r.nodeByte()
	if err != nil {
		return "", err
	}

	if !r.opts.RawNames {
		n := int(first)
		if n == 0 {
			return "", malformed(r.nodeOffset()-1, "empty name")
		}
		packed, err := r.nodeBytes(sixbitLen(n))
		if err != nil {
			return "", err
		}
		return unpackSixbit(packed, n), nil
	}

	start := r.nodeOffset() - 1
	raw, err := r.nodeBytes(int(first&^arrayFlag) + 1)
	if err != nil {
		return "", err
	}
	name, err := r.opts.Encoding.decode(raw)
	if err != nil {
		return "", malformed(start, "undecodable name")
	}
	return name, nil
}

func (r *binaryReader) document() (*Node, error) {
	var root *Node
	var stack []*Node

	for {
		at := r.nodeOffset()
		b, err := r.nodeByte()
		if err != nil {
			return nil, err
		}
		array := b&arrayFlag != 0
		code := b &^ arrayFlag

		switch code {
		case codeEndDoc:
			if root == nil {
				return nil, malformed(at, "document has no root node")
			}
			if len(stack) != 0 {
				return nil, malformed(at, "end of document inside node %q", stack[len(stack)-1].Name)
			}
			return root, nil

		case codeEndNode:
			if len(stack) == 0 {
				return nil, malformed(at, "end of node without open node")
			}
			stack = stack[:len(stack)-1]

		case codeAttr:
			name, err := r.name()
			if err != nil {
				return nil, err
			}
			if len(stack) == 0 {
				return nil, malformed(at, "attribute %q outside of a node", name)
			}
			value, err := r.string()
			if err != nil {
				return nil, err
			}
			top := stack[len(stack)-1]
			top.Attrs = append(top.Attrs, Attr{Name: name, Value: value})

		default:
			t := Type(code)
			if !t.Valid() {
				return nil, malformed(at, "unknown node type %d", code)
			}
			name, err := r.name()
			if err != nil {
				return nil, err
			}
			n := &Node{Name: name, Type: t, Array: array && t != TypeVoid}
			if err := r.value(n); err != nil {
				return nil, err
			}

			if len(stack) == 0 {
				if root != nil {
					return nil, malformed(at, "second root node %q", name)
				}
				root = n
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			}
			stack = append(stack, n)
		}
	}
}

func (r *binaryReader) dataOffset(pos int) int {
	return r.dataBase + pos
}

func (r *binaryReader) value(n *Node) error {
	switch {
	case n.Type == TypeVoid:
		return nil
	case n.Type == TypeString:
		s, err := r.string()
		if err != nil {
			return err
		}
		n.Value = s
		return nil
	case n.Type == TypeBinary:
		b, err := r.auto()
		if err != nil {
			return err
		}
		n.Value = append([]byte{}, b...)
		return nil
	}

	d := types[n.Type]
	if n.Array {
		at := r.dataOffset(r.dataPos)
		raw, err := r.auto()
		if err != nil {
			return err
		}
		if len(raw)%d.width() != 0 {
			return malformed(at, "array of %d bytes is not a multiple of %s", len(raw), n.Type)
		}
		n.Value = unpackValue(d.elem, raw, false)
		return nil
	}

	raw, err := r.aligned(d.width())
	if err != nil {
		return err
	}
	n.Value = unpackValue(d.elem, raw, d.count == 1)
	return nil
}

func (r *binaryReader) string() (string, error) {
	at := r.dataOffset(r.dataPos)
	raw, err := r.auto()
	if err != nil {
		return "", err
	}
	if len(raw) > 0 && raw[len(raw)-1] == 0 {
		raw = raw[:len(raw)-1]
	}
	s, err := r.opts.Encoding.decode(raw)
	if err != nil {
		return "", malformed(at, "undecodable string")
	}
	return s, nil
}

func (r *binaryReader) auto() ([]byte, error) {
	at := r.dataPos
	if len(r.data)-at < 4 {
		return nil, malformed(r.dataOffset(at), "data section ended before block length")
	}
	size := int(binary.BigEndian.Uint32(r.data[at:]))
	if size > len(r.data)-at-4 {
		return nil, malformed(r.dataOffset(at), "block of %d bytes exceeds data section", size)
	}
	b := r.data[at+4 : at+4+size]
	r.dataPos = align4(at + 4 + size)
	return b, nil
}

func (r *binaryReader) aligned(size int) ([]byte, error) {
	if r.bytePos%4 == 0 {
		r.bytePos = r.dataPos
	}
	if r.wordPos%4 == 0 {
		r.wordPos = r.dataPos
	}

	var pos *int
	switch size {
	case 1:
		pos = &r.bytePos
	case 2:
		pos = &r.wordPos
	default:
		pos = &r.dataPos
	}
	at := *pos
	if size > len(r.data)-at {
		return nil, malformed(r.dataOffset(at), "value of %d bytes exceeds data section", size)
	}
	b := r.data[at : at+size]
	*pos += size
	if size > 2 {
		r.dataPos = align4(r.dataPos)
	}

	trailing := r.bytePos
	if r.wordPos > trailing {
		trailing = r.wordPos
	}
	if r.dataPos < trailing {
		r.dataPos = align4(trailing)
	}
	return b, nil
}
