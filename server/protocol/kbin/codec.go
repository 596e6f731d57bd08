package kbin

import "bytes"

// Format is the grammar a document was read from.
type Format int

const (
	FormatBinary Format = iota
	FormatText
)

func (f Format) String() string {
	if f == FormatText {
		return "text"
	}
	return "binary"
}

// Options are the framing choices of a document. Parse reports the options
// it found so that Serialize can answer in kind.
type Options struct {
	Format   Format
	Encoding Encoding
	// RawNames stores names as encoded bytes instead of sixbit.
	RawNames bool
}

// DefaultOptions are what cabinets expect when nothing else is known.
func DefaultOptions() Options {
	return Options{Format: FormatBinary, Encoding: EncodingShiftJIS}
}

// Detect identifies the grammar from the leading bytes.
func Detect(data []byte) (Format, error) {
	if IsBinary(data) {
		return FormatBinary, nil
	}
	trimmed := bytes.TrimLeft(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")), " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '<' {
		return FormatText, nil
	}
	if len(data) == 0 {
		return 0, malformed(0, "empty document")
	}
	return 0, malformed(0, "unrecognised leading byte 0x%02x", data[0])
}

// Parse decodes a document in either grammar.
func Parse(data []byte) (*Node, Options, error) {
	format, err := Detect(data)
	if err != nil {
		return nil, Options{}, err
	}
	if format == FormatText {
		return UnmarshalText(data)
	}
	return UnmarshalBinary(data)
}

// Serialize encodes root with opts.
func Serialize(root *Node, opts Options) ([]byte, error) {
	if opts.Format == FormatText {
		return MarshalText(root, opts.Encoding)
	}
	return MarshalBinary(root, opts)
}
