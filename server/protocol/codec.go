package protocol

import (
	"strings"

	"github.com/gear6io/oxygen/pkg/errors"
	"github.com/gear6io/oxygen/server/protocol/kbin"
	"github.com/gear6io/oxygen/server/protocol/lz77"
	"github.com/gear6io/oxygen/utils"
)

// Header names as cabinets send them. Some clients compare them
// case-sensitively.
const (
	HeaderCompress = "X-Compress"
	HeaderInfo     = "X-Eamuse-Info"
)

// Frame is a packet as carried by a transport: the two framing headers and
// the raw body.
type Frame struct {
	Compression string
	Info        string
	Body        []byte
	// DeclaredLength is the uncompressed size when the transport carries
	// it. Zero means unknown.
	DeclaredLength int
}

func (f Frame) compression() (string, error) {
	switch c := strings.ToLower(strings.TrimSpace(f.Compression)); c {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionLZ77:
		return CompressionLZ77, nil
	default:
		return "", errors.New(ErrUnsupportedCompression, "unsupported compression", nil).AddContext("compression", f.Compression)
	}
}

// Decrypt returns the plaintext body of the frame.
func Decrypt(f Frame) ([]byte, error) {
	if f.Info == "" {
		return f.Body, nil
	}
	info, err := ParseInfo(f.Info)
	if err != nil {
		return nil, err
	}
	return info.crypt(f.Body), nil
}

// Decompress inflates a decrypted body according to the frame's compression.
func Decompress(f Frame, body []byte) ([]byte, error) {
	c, err := f.compression()
	if err != nil {
		return nil, err
	}
	if c == CompressionNone {
		return body, nil
	}
	declared := f.DeclaredLength
	if declared <= 0 {
		declared = lz77.UnknownLength
	}
	return lz77.Decompress(body, declared)
}

// ParseEnvelope parses a plain payload received in frame f.
func ParseEnvelope(f Frame, payload []byte) (*Envelope, error) {
	root, docOpts, err := kbin.Parse(payload)
	if err != nil {
		return nil, err
	}
	c, err := f.compression()
	if err != nil {
		return nil, err
	}

	env := &Envelope{
		Root:          root,
		Options:       Options{Document: docOpts, Compression: c, Info: f.Info},
		CorrelationID: f.Info,
	}
	if env.CorrelationID == "" {
		env.CorrelationID = utils.GenerateULIDString()
	}
	return env, nil
}

// Decode turns a frame into an envelope.
func Decode(f Frame) (*Envelope, error) {
	plain, err := Decrypt(f)
	if err != nil {
		return nil, err
	}
	payload, err := Decompress(f, plain)
	if err != nil {
		return nil, err
	}
	return ParseEnvelope(f, payload)
}

// Serialize encodes the document of env without framing.
func Serialize(env *Envelope) ([]byte, error) {
	if env == nil || env.Root == nil {
		return nil, errors.New(ErrInvalidEnvelope, "envelope has no document", nil)
	}
	return kbin.Serialize(env.Root, env.Options.Document)
}

// Pack compresses and encrypts payload according to opts.
func Pack(opts Options, payload []byte) (Frame, error) {
	f := Frame{Compression: CompressionNone, Info: opts.Info, DeclaredLength: len(payload)}

	body := payload
	if opts.Compressed() {
		f.Compression = CompressionLZ77
		body = lz77.Compress(payload)
	}
	if opts.Info != "" {
		info, err := ParseInfo(opts.Info)
		if err != nil {
			return Frame{}, err
		}
		body = info.crypt(body)
	}
	f.Body = body
	return f, nil
}

// Encode turns an envelope into a frame.
func Encode(env *Envelope) (Frame, error) {
	payload, err := Serialize(env)
	if err != nil {
		return Frame{}, err
	}
	return Pack(env.Options, payload)
}
