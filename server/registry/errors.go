package registry

import "github.com/gear6io/oxygen/pkg/errors"

// Registry error codes
var (
	ErrAmbiguousRegistration = errors.MustNewCode("registry.ambiguous_registration")
	ErrInvalidRange          = errors.MustNewCode("registry.invalid_range")
	ErrNotFound              = errors.MustNewCode("registry.not_found")
	ErrInvalidModel          = errors.MustNewCode("registry.invalid_model")
)
