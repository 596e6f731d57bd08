package protocol

import "github.com/gear6io/oxygen/pkg/errors"

// Wire codec error codes
var (
	ErrInvalidInfo            = errors.MustNewCode("protocol.invalid_info")
	ErrUnsupportedCompression = errors.MustNewCode("protocol.unsupported_compression")
	ErrInvalidEnvelope        = errors.MustNewCode("protocol.invalid_envelope")
)
