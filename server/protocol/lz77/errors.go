package lz77

import "github.com/gear6io/oxygen/pkg/errors"

// Compression-layer error codes. All of them are recoverable per request.
var (
	ErrTruncatedInput  = errors.MustNewCode("lz77.truncated_input")
	ErrOverrunInput    = errors.MustNewCode("lz77.overrun_input")
	ErrMalformedStream = errors.MustNewCode("lz77.malformed_stream")
)
