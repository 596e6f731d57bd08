package sdk

import "github.com/gear6io/oxygen/pkg/errors"

// SDK error codes
var (
	ErrInvalidDSN      = errors.MustNewCode("sdk.invalid_dsn")
	ErrInvalidOptions  = errors.MustNewCode("sdk.invalid_options")
	ErrDialFailed      = errors.MustNewCode("sdk.dial_failed")
	ErrClientClosed    = errors.MustNewCode("sdk.client_closed")
	ErrTransportFailed = errors.MustNewCode("sdk.transport_failed")
	ErrUnexpectedReply = errors.MustNewCode("sdk.unexpected_reply")
	ErrHTTPStatus      = errors.MustNewCode("sdk.http_status")
)
