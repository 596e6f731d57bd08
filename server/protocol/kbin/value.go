package kbin

import (
	"encoding/binary"
	"math"
	"net/netip"
	"strconv"
	"strings"

	"github.com/gear6io/oxygen/pkg/errors"
)

// Go representations of node values:
//
//	s8..u64        int8, uint8, int16, uint16, int32, uint32, int64, uint64
//	time           uint32 (unix seconds)
//	float, double  float32, float64
//	bool           bool
//	ip4            netip.Addr
//	str            string
//	bin            []byte
//
// Multi-component types (2u16, vs8, 3b, ...) and arrays hold slices of the
// component type.

func sliceOf[T any](v interface{}) ([]T, bool) {
	switch x := v.(type) {
	case T:
		return []T{x}, true
	case []T:
		return x, true
	}
	return nil, false
}

func pick[T any](s []T, scalar bool) interface{} {
	if scalar {
		return s[0]
	}
	return s
}

// components returns the number of components held by v for e.
func components(e elem, v interface{}) (int, bool) {
	switch e {
	case elemS8:
		s, ok := sliceOf[int8](v)
		return len(s), ok
	case elemU8:
		s, ok := sliceOf[uint8](v)
		return len(s), ok
	case elemS16:
		s, ok := sliceOf[int16](v)
		return len(s), ok
	case elemU16:
		s, ok := sliceOf[uint16](v)
		return len(s), ok
	case elemS32:
		s, ok := sliceOf[int32](v)
		return len(s), ok
	case elemU32:
		s, ok := sliceOf[uint32](v)
		return len(s), ok
	case elemS64:
		s, ok := sliceOf[int64](v)
		return len(s), ok
	case elemU64:
		s, ok := sliceOf[uint64](v)
		return len(s), ok
	case elemF32:
		s, ok := sliceOf[float32](v)
		return len(s), ok
	case elemF64:
		s, ok := sliceOf[float64](v)
		return len(s), ok
	case elemBool:
		s, ok := sliceOf[bool](v)
		return len(s), ok
	case elemIP4:
		s, ok := sliceOf[netip.Addr](v)
		return len(s), ok
	}
	return 0, false
}

func invalidValue(n *Node, reason string) *errors.Error {
	return errors.Newf(ErrInvalidValue, "node %q of type %s: %s", n.Name, n.Type, reason).
		AddContext("node", n.Name).
		AddContext("type", n.Type.String())
}

// checkValue verifies that the Go value of n matches its declared type.
func checkValue(n *Node) error {
	d, ok := types[n.Type]
	if !ok {
		return invalidValue(n, "unknown type")
	}
	switch n.Type {
	case TypeVoid:
		if n.Value != nil || n.Array {
			return invalidValue(n, "void node carries a value")
		}
		return nil
	case TypeString:
		if _, ok := n.Value.(string); !ok || n.Array {
			return invalidValue(n, "expected string")
		}
		return nil
	case TypeBinary:
		if _, ok := n.Value.([]byte); !ok || n.Array {
			return invalidValue(n, "expected []byte")
		}
		return nil
	}

	count, ok := components(d.elem, n.Value)
	if !ok {
		return invalidValue(n, "value has the wrong Go type")
	}
	switch {
	case n.Array && count%d.count != 0:
		return invalidValue(n, "array length is not a multiple of the component count")
	case !n.Array && count != d.count:
		return invalidValue(n, "wrong number of components")
	}
	if d.elem == elemIP4 {
		for _, a := range mustSlice[netip.Addr](n.Value) {
			if !a.Is4() {
				return invalidValue(n, "not an IPv4 address")
			}
		}
	}
	return nil
}

func mustSlice[T any](v interface{}) []T {
	s, _ := sliceOf[T](v)
	return s
}

// packValue encodes a checked numeric value big-endian.
func packValue(e elem, v interface{}) []byte {
	n, _ := components(e, v)
	out := make([]byte, n*e.size())
	switch e {
	case elemS8:
		for i, x := range mustSlice[int8](v) {
			out[i] = byte(x)
		}
	case elemU8:
		copy(out, mustSlice[uint8](v))
	case elemBool:
		for i, x := range mustSlice[bool](v) {
			if x {
				out[i] = 1
			}
		}
	case elemS16:
		for i, x := range mustSlice[int16](v) {
			binary.BigEndian.PutUint16(out[i*2:], uint16(x))
		}
	case elemU16:
		for i, x := range mustSlice[uint16](v) {
			binary.BigEndian.PutUint16(out[i*2:], x)
		}
	case elemS32:
		for i, x := range mustSlice[int32](v) {
			binary.BigEndian.PutUint32(out[i*4:], uint32(x))
		}
	case elemU32:
		for i, x := range mustSlice[uint32](v) {
			binary.BigEndian.PutUint32(out[i*4:], x)
		}
	case elemF32:
		for i, x := range mustSlice[float32](v) {
			binary.BigEndian.PutUint32(out[i*4:], math.Float32bits(x))
		}
	case elemIP4:
		for i, x := range mustSlice[netip.Addr](v) {
			a := x.As4()
			copy(out[i*4:], a[:])
		}
	case elemS64:
		for i, x := range mustSlice[int64](v) {
			binary.BigEndian.PutUint64(out[i*8:], uint64(x))
		}
	case elemU64:
		for i, x := range mustSlice[uint64](v) {
			binary.BigEndian.PutUint64(out[i*8:], x)
		}
	case elemF64:
		for i, x := range mustSlice[float64](v) {
			binary.BigEndian.PutUint64(out[i*8:], math.Float64bits(x))
		}
	}
	return out
}

// unpackValue decodes raw, whose length is a multiple of the element size.
func unpackValue(e elem, raw []byte, scalar bool) interface{} {
	n := len(raw) / e.size()
	switch e {
	case elemS8:
		s := make([]int8, n)
		for i := range s {
			s[i] = int8(raw[i])
		}
		return pick(s, scalar)
	case elemU8:
		s := make([]uint8, n)
		copy(s, raw)
		return pick(s, scalar)
	case elemBool:
		s := make([]bool, n)
		for i := range s {
			s[i] = raw[i] != 0
		}
		return pick(s, scalar)
	case elemS16:
		s := make([]int16, n)
		for i := range s {
			s[i] = int16(binary.BigEndian.Uint16(raw[i*2:]))
		}
		return pick(s, scalar)
	case elemU16:
		s := make([]uint16, n)
		for i := range s {
			s[i] = binary.BigEndian.Uint16(raw[i*2:])
		}
		return pick(s, scalar)
	case elemS32:
		s := make([]int32, n)
		for i := range s {
			s[i] = int32(binary.BigEndian.Uint32(raw[i*4:]))
		}
		return pick(s, scalar)
	case elemU32:
		s := make([]uint32, n)
		for i := range s {
			s[i] = binary.BigEndian.Uint32(raw[i*4:])
		}
		return pick(s, scalar)
	case elemF32:
		s := make([]float32, n)
		for i := range s {
			s[i] = math.Float32frombits(binary.BigEndian.Uint32(raw[i*4:]))
		}
		return pick(s, scalar)
	case elemIP4:
		s := make([]netip.Addr, n)
		for i := range s {
			s[i] = netip.AddrFrom4([4]byte(raw[i*4 : i*4+4]))
		}
		return pick(s, scalar)
	case elemS64:
		s := make([]int64, n)
		for i := range s {
			s[i] = int64(binary.BigEndian.Uint64(raw[i*8:]))
		}
		return pick(s, scalar)
	case elemU64:
		s := make([]uint64, n)
		for i := range s {
			s[i] = binary.BigEndian.Uint64(raw[i*8:])
		}
		return pick(s, scalar)
	case elemF64:
		s := make([]float64, n)
		for i := range s {
			s[i] = math.Float64frombits(binary.BigEndian.Uint64(raw[i*8:]))
		}
		return pick(s, scalar)
	}
	return nil
}

// formatValue renders a checked numeric value as space separated text.
func formatValue(e elem, v interface{}) string {
	var parts []string
	switch e {
	case elemS8:
		for _, x := range mustSlice[int8](v) {
			parts = append(parts, strconv.FormatInt(int64(x), 10))
		}
	case elemU8:
		for _, x := range mustSlice[uint8](v) {
			parts = append(parts, strconv.FormatUint(uint64(x), 10))
		}
	case elemS16:
		for _, x := range mustSlice[int16](v) {
			parts = append(parts, strconv.FormatInt(int64(x), 10))
		}
	case elemU16:
		for _, x := range mustSlice[uint16](v) {
			parts = append(parts, strconv.FormatUint(uint64(x), 10))
		}
	case elemS32:
		for _, x := range mustSlice[int32](v) {
			parts = append(parts, strconv.FormatInt(int64(x), 10))
		}
	case elemU32:
		for _, x := range mustSlice[uint32](v) {
			parts = append(parts, strconv.FormatUint(uint64(x), 10))
		}
	case elemS64:
		for _, x := range mustSlice[int64](v) {
			parts = append(parts, strconv.FormatInt(x, 10))
		}
	case elemU64:
		for _, x := range mustSlice[uint64](v) {
			parts = append(parts, strconv.FormatUint(x, 10))
		}
	case elemF32:
		for _, x := range mustSlice[float32](v) {
			parts = append(parts, strconv.FormatFloat(float64(x), 'f', 6, 32))
		}
	case elemF64:
		for _, x := range mustSlice[float64](v) {
			parts = append(parts, strconv.FormatFloat(x, 'f', 6, 64))
		}
	case elemBool:
		for _, x := range mustSlice[bool](v) {
			if x {
				parts = append(parts, "1")
			} else {
				parts = append(parts, "0")
			}
		}
	case elemIP4:
		for _, x := range mustSlice[netip.Addr](v) {
			parts = append(parts, x.String())
		}
	}
	return strings.Join(parts, " ")
}

// parseValue reads space separated components from text.
func parseValue(e elem, fields []string, scalar bool) (interface{}, error) {
	switch e {
	case elemS8:
		return parseInts[int8](fields, 8, scalar)
	case elemS16:
		return parseInts[int16](fields, 16, scalar)
	case elemS32:
		return parseInts[int32](fields, 32, scalar)
	case elemS64:
		return parseInts[int64](fields, 64, scalar)
	case elemU8:
		return parseUints[uint8](fields, 8, scalar)
	case elemU16:
		return parseUints[uint16](fields, 16, scalar)
	case elemU32:
		return parseUints[uint32](fields, 32, scalar)
	case elemU64:
		return parseUints[uint64](fields, 64, scalar)
	case elemF32:
		s := make([]float32, len(fields))
		for i, f := range fields {
			x, err := strconv.ParseFloat(f, 32)
			if err != nil {
				return nil, err
			}
			s[i] = float32(x)
		}
		return pick(s, scalar), nil
	case elemF64:
		s := make([]float64, len(fields))
		for i, f := range fields {
			x, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, err
			}
			s[i] = x
		}
		return pick(s, scalar), nil
	case elemBool:
		s := make([]bool, len(fields))
		for i, f := range fields {
			x, err := strconv.ParseBool(f)
			if err != nil {
				return nil, err
			}
			s[i] = x
		}
		return pick(s, scalar), nil
	case elemIP4:
		s := make([]netip.Addr, len(fields))
		for i, f := range fields {
			a, err := netip.ParseAddr(f)
			if err != nil {
				return nil, err
			}
			if !a.Is4() {
				return nil, errors.Newf(ErrInvalidValue, "%s is not an IPv4 address", f)
			}
			s[i] = a
		}
		return pick(s, scalar), nil
	}
	return nil, errors.Newf(ErrInvalidValue, "unsupported component kind %d", e)
}

type signed interface{ ~int8 | ~int16 | ~int32 | ~int64 }
type unsigned interface{ ~uint8 | ~uint16 | ~uint32 | ~uint64 }

func parseInts[T signed](fields []string, bits int, scalar bool) (interface{}, error) {
	s := make([]T, len(fields))
	for i, f := range fields {
		x, err := strconv.ParseInt(f, 10, bits)
		if err != nil {
			return nil, err
		}
		s[i] = T(x)
	}
	return pick(s, scalar), nil
}

func parseUints[T unsigned](fields []string, bits int, scalar bool) (interface{}, error) {
	s := make([]T, len(fields))
	for i, f := range fields {
		x, err := strconv.ParseUint(f, 10, bits)
		if err != nil {
			return nil, err
		}
		s[i] = T(x)
	}
	return pick(s, scalar), nil
}
