package kbin

import (
	"strings"

	"github.com/gear6io/oxygen/pkg/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
)

// Encoding is the character set byte of a binary document header.
type Encoding byte

const (
	// EncodingNone is the unlabelled default; cabinets treat it as Shift_JIS.
	EncodingNone     Encoding = 0x00
	EncodingASCII    Encoding = 0x20
	EncodingISO88591 Encoding = 0x40
	EncodingEUCJP    Encoding = 0x60
	EncodingShiftJIS Encoding = 0x80
	EncodingUTF8     Encoding = 0xa0
)

type charset struct {
	label string
	enc   encoding.Encoding
}

// ASCII is passed through unchanged; it is a subset of every other charset.
var charsets = map[Encoding]charset{
	EncodingNone:     {"SHIFT_JIS", japanese.ShiftJIS},
	EncodingASCII:    {"ASCII", encoding.Nop},
	EncodingISO88591: {"ISO-8859-1", charmap.ISO8859_1},
	EncodingEUCJP:    {"EUC-JP", japanese.EUCJP},
	EncodingShiftJIS: {"SHIFT_JIS", japanese.ShiftJIS},
	EncodingUTF8:     {"UTF-8", unicode.UTF8},
}

var encodingAliases = map[string]Encoding{
	"shift_jis":   EncodingShiftJIS,
	"shift-jis":   EncodingShiftJIS,
	"sjis":        EncodingShiftJIS,
	"cp932":       EncodingShiftJIS,
	"windows-31j": EncodingShiftJIS,
	"ascii":       EncodingASCII,
	"us-ascii":    EncodingASCII,
	"iso-8859-1":  EncodingISO88591,
	"latin1":      EncodingISO88591,
	"euc-jp":      EncodingEUCJP,
	"euc_jp":      EncodingEUCJP,
	"utf-8":       EncodingUTF8,
	"utf8":        EncodingUTF8,
}

// Valid reports whether e is a known encoding byte.
func (e Encoding) Valid() bool {
	_, ok := charsets[e]
	return ok
}

// String returns the XML declaration label of the encoding.
func (e Encoding) String() string {
	if cs, ok := charsets[e]; ok {
		return cs.label
	}
	return "UNKNOWN"
}

// ParseEncoding resolves an XML declaration label.
func ParseEncoding(label string) (Encoding, bool) {
	e, ok := encodingAliases[strings.ToLower(strings.TrimSpace(label))]
	return e, ok
}

// lookupCharset resolves a label to a decoder, falling back to the WHATWG
// index for labels without an Encoding byte.
func lookupCharset(label string) (encoding.Encoding, error) {
	if e, ok := ParseEncoding(label); ok {
		return charsets[e].enc, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, errors.New(ErrUnsupportedEncoding, "unsupported character set", err).AddContext("label", label)
	}
	return enc, nil
}

func (e Encoding) charset() (encoding.Encoding, error) {
	cs, ok := charsets[e]
	if !ok {
		return nil, errors.Newf(ErrUnsupportedEncoding, "unknown encoding byte 0x%02x", byte(e))
	}
	return cs.enc, nil
}

func (e Encoding) encode(s string) ([]byte, error) {
	enc, err := e.charset()
	if err != nil {
		return nil, err
	}
	out, err := enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, errors.New(ErrInvalidValue, "string is not representable in "+e.String(), err)
	}
	return out, nil
}

func (e Encoding) decode(b []byte) (string, error) {
	enc, err := e.charset()
	if err != nil {
		return "", err
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
