// Package lz77 implements the byte-oriented LZ77 variant spoken by arcade
// cabinets on the X-Compress: lz77 channel.
//
// A stream is a sequence of groups. Each group starts with a flag byte whose
// bits, least significant first, describe up to eight tokens:
//
//   - bit set: one literal byte follows
//   - bit clear: a two-byte back-reference "hi lo" follows, with
//     offset = hi<<4 | lo>>4 and length = (lo & 0x0f) + 3
//
// A back-reference with offset zero ends the stream. Offsets count back from
// the current end of output and copies may overlap the bytes they produce.
package lz77

import (
	"strconv"

	"github.com/gear6io/oxygen/pkg/errors"
)

const (
	// WindowSize is the span addressable by a 12-bit offset.
	WindowSize = 1 << 12
	// MaxOffset is the largest distance a back-reference can reach.
	MaxOffset = WindowSize - 1
	// MinMatch is the shortest back-reference the format can express.
	MinMatch = 3
	// MaxMatch is the longest back-reference the format can express.
	MaxMatch = 0x0f + MinMatch

	// UnknownLength tells Decompress to run until the end-of-stream token.
	UnknownLength = -1
)

// Frame is a payload as it travels on the wire.
type Frame struct {
	Data       []byte
	Compressed bool
	// DeclaredLength is the uncompressed size announced by the transport,
	// or UnknownLength.
	DeclaredLength int
}

// NewFrame compresses payload when compress is true.
func NewFrame(payload []byte, compress bool) Frame {
	if !compress {
		return Frame{Data: payload, DeclaredLength: len(payload)}
	}
	return Frame{
		Data:           Compress(payload),
		Compressed:     true,
		DeclaredLength: len(payload),
	}
}

// Payload returns the uncompressed bytes of the frame.
func (f Frame) Payload() ([]byte, error) {
	if !f.Compressed {
		return f.Data, nil
	}
	return Decompress(f.Data, f.DeclaredLength)
}

// Decompress inflates src. When declaredLength is not UnknownLength the
// output must be exactly that long.
//
// On ErrTruncatedInput the returned slice holds the bytes produced so far;
// they are a correct prefix of the original payload but the result is
// incomplete. Every other error returns a nil slice.
func Decompress(src []byte, declaredLength int) ([]byte, error) {
	capacity := declaredLength
	if capacity < 0 {
		capacity = len(src) * 2
	}
	out := make([]byte, 0, capacity)
	bounded := declaredLength >= 0

	pos := 0
	for {
		if pos >= len(src) {
			return finish(out, declaredLength, pos)
		}
		flags := src[pos]
		pos++

		for bit := uint(0); bit < 8; bit++ {
			if pos >= len(src) {
				return finish(out, declaredLength, pos)
			}

			if flags&(1<<bit) != 0 {
				if bounded && len(out) == declaredLength {
					return nil, overrun(pos, len(out)+1, declaredLength)
				}
				out = append(out, src[pos])
				pos++
				continue
			}

			if pos+1 >= len(src) {
				return finish(out, declaredLength, pos)
			}
			hi, lo := src[pos], src[pos+1]
			offset := int(hi)<<4 | int(lo)>>4
			length := int(lo&0x0f) + MinMatch

			if offset == 0 {
				if bounded && len(out) < declaredLength {
					return out, truncated(pos, len(out), declaredLength)
				}
				return out, nil
			}
			if offset > len(out) {
				return nil, errors.New(ErrMalformedStream, "back-reference before start of output", nil).
					AddContext("offset", strconv.Itoa(pos)).
					AddContext("distance", strconv.Itoa(offset)).
					AddContext("produced", strconv.Itoa(len(out)))
			}
			if bounded && len(out)+length > declaredLength {
				return nil, overrun(pos, len(out)+length, declaredLength)
			}
			pos += 2

			start := len(out) - offset
			for i := 0; i < length; i++ {
				out = append(out, out[start+i])
			}
		}
	}
}

// finish handles running out of input. Without a declared length the
// end-of-stream token is mandatory.
func finish(out []byte, declaredLength, pos int) ([]byte, error) {
	if declaredLength >= 0 && len(out) == declaredLength {
		return out, nil
	}
	return out, truncated(pos, len(out), declaredLength)
}

func truncated(pos, produced, declared int) error {
	return errors.New(ErrTruncatedInput, "compressed stream ended early", nil).
		AddContext("offset", strconv.Itoa(pos)).
		AddContext("produced", strconv.Itoa(produced)).
		AddContext("declared", strconv.Itoa(declared))
}

func overrun(pos, wanted, declared int) error {
	return errors.New(ErrOverrunInput, "compressed stream exceeds declared length", nil).
		AddContext("offset", strconv.Itoa(pos)).
		AddContext("wanted", strconv.Itoa(wanted)).
		AddContext("declared", strconv.Itoa(declared))
}

// Compress deflates src with greedy longest-match parsing. The output always
// ends with the end-of-stream token.
func Compress(src []byte) []byte {
	var m matcher
	matches := m.FindMatches(nil, src)
	return encode(make([]byte, 0, len(src)+len(src)/8+4), src, matches)
}

// encode writes the token stream for src described by matches.
func encode(dst []byte, src []byte, matches []Match) []byte {
	var w tokenWriter
	w.buf = dst

	pos := 0
	for _, match := range matches {
		for i := 0; i < match.Unmatched; i++ {
			w.literal(src[pos])
			pos++
		}
		if match.Length > 0 {
			w.reference(match.Distance, match.Length)
			pos += match.Length
		}
	}
	for ; pos < len(src); pos++ {
		w.literal(src[pos])
	}

	w.reference(0, MinMatch)
	return w.buf
}

// tokenWriter groups tokens under flag bytes.
type tokenWriter struct {
	buf      []byte
	flagsPos int
	bit      uint
}

func (w *tokenWriter) next(literal bool) {
	if w.bit == 0 {
		w.flagsPos = len(w.buf)
		w.buf = append(w.buf, 0)
	}
	if literal {
		w.buf[w.flagsPos] |= 1 << w.bit
	}
	w.bit = (w.bit + 1) % 8
}

func (w *tokenWriter) literal(b byte) {
	w.next(true)
	w.buf = append(w.buf, b)
}

func (w *tokenWriter) reference(distance, length int) {
	w.next(false)
	w.buf = append(w.buf, byte(distance>>4), byte(distance&0x0f)<<4|byte(length-MinMatch))
}
