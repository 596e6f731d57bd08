package server

import "github.com/gear6io/oxygen/pkg/errors"

// Server error codes
var (
	ErrInitFailed  = errors.MustNewCode("server.init_failed")
	ErrStartFailed = errors.MustNewCode("server.start_failed")
)
