package kbin

import "github.com/gear6io/oxygen/pkg/errors"

const sixbitAlphabet = "0123456789:ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"

var sixbitIndex = func() [256]int8 {
	var idx [256]int8
	for i := range idx {
		idx[i] = -1
	}
	for i := 0; i < len(sixbitAlphabet); i++ {
		idx[sixbitAlphabet[i]] = int8(i)
	}
	return idx
}()

func sixbitLen(chars int) int {
	return (chars*6 + 7) / 8
}

// packSixbit appends the length-prefixed sixbit form of name to dst.
func packSixbit(dst []byte, name string) ([]byte, error) {
	if len(name) == 0 || len(name) > 255 {
		return nil, errors.Newf(ErrInvalidName, "name length %d out of range", len(name)).AddContext("name", name)
	}
	dst = append(dst, byte(len(name)))

	var acc uint32
	bits := 0
	for i := 0; i < len(name); i++ {
		v := sixbitIndex[name[i]]
		if v < 0 {
			return nil, errors.Newf(ErrInvalidName, "character %q cannot be packed", name[i]).AddContext("name", name)
		}
		acc = acc<<6 | uint32(v)
		bits += 6
		for bits >= 8 {
			bits -= 8
			dst = append(dst, byte(acc>>bits))
		}
	}
	if bits > 0 {
		dst = append(dst, byte(acc<<(8-bits)))
	}
	return dst, nil
}

// unpackSixbit decodes n characters from packed.
func unpackSixbit(packed []byte, n int) string {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		bit := i * 6
		hi := uint16(packed[bit/8]) << 8
		if bit/8+1 < len(packed) {
			hi |= uint16(packed[bit/8+1])
		}
		shift := 10 - bit%8
		out[i] = sixbitAlphabet[(hi>>shift)&0x3f]
	}
	return string(out)
}

// CanPack reports whether name can be stored in sixbit form.
func CanPack(name string) bool {
	if len(name) == 0 || len(name) > 255 {
		return false
	}
	for i := 0; i < len(name); i++ {
		if sixbitIndex[name[i]] < 0 {
			return false
		}
	}
	return true
}
