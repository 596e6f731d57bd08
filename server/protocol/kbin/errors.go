package kbin

import (
	"strconv"

	"github.com/gear6io/oxygen/pkg/errors"
)

// Envelope codec error codes
var (
	ErrMalformedEnvelope   = errors.MustNewCode("kbin.malformed_envelope")
	ErrInvalidValue        = errors.MustNewCode("kbin.invalid_value")
	ErrInvalidName         = errors.MustNewCode("kbin.invalid_name")
	ErrUnsupportedEncoding = errors.MustNewCode("kbin.unsupported_encoding")
)

func malformed(offset int, format string, args ...interface{}) *errors.Error {
	return errors.Newf(ErrMalformedEnvelope, format, args...).
		AddContext("offset", strconv.Itoa(offset))
}

// Offset reports the byte offset carried by a malformed envelope error.
func Offset(err error) (int, bool) {
	found := errors.Find(err, ErrMalformedEnvelope)
	if found == nil {
		return 0, false
	}
	raw, ok := found.Context["offset"]
	if !ok {
		return 0, false
	}
	n, convErr := strconv.Atoi(raw)
	return n, convErr == nil
}
