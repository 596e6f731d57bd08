package stream

import "github.com/gear6io/oxygen/pkg/errors"

// Stream transport error codes
var (
	ErrServerListenFailed = errors.MustNewCode("stream.server_listen_failed")
	ErrFrameTooLarge      = errors.MustNewCode("stream.frame_too_large")
	ErrUnknownPacket      = errors.MustNewCode("stream.unknown_packet")
	ErrReadFailed         = errors.MustNewCode("stream.read_failed")
	ErrWriteFailed        = errors.MustNewCode("stream.write_failed")
	ErrServerException    = errors.MustNewCode("stream.server_exception")
)
