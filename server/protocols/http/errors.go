package http

import "github.com/gear6io/oxygen/pkg/errors"

// HTTP backend error codes
var (
	ErrListenFailed = errors.MustNewCode("http.listen_failed")
)
