package dispatch

import "github.com/gear6io/oxygen/pkg/errors"

// Dispatch error codes
var (
	ErrUnroutableRequest = errors.MustNewCode("dispatch.unroutable_request")
	ErrHandlerFailure    = errors.MustNewCode("dispatch.handler_failure")
	ErrNotHandled        = errors.MustNewCode("dispatch.not_handled")
	ErrRejectedRequest   = errors.MustNewCode("dispatch.rejected_request")
	ErrEncodeFailed      = errors.MustNewCode("dispatch.encode_failed")
)

// NotHandled is returned by a handler that does not serve the request, so
// that the next handler in line gets a chance.
func NotHandled(service, method string) *errors.Error {
	return errors.New(ErrNotHandled, "no handler for request", nil).
		AddContext("service", service).
		AddContext("method", method)
}

func unroutable(reason string) *errors.Error {
	return errors.New(ErrUnroutableRequest, reason, nil)
}
