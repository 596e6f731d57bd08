package pipeline

import "github.com/gear6io/oxygen/pkg/errors"

// Pipeline error codes
var (
	ErrClosed   = errors.MustNewCode("pipeline.closed")
	ErrCanceled = errors.MustNewCode("pipeline.canceled")
)
