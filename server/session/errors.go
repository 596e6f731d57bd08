package session

import "github.com/gear6io/oxygen/pkg/errors"

// Session error codes
var (
	ErrSequenceViolation = errors.MustNewCode("session.sequence_violation")
	ErrCapacity          = errors.MustNewCode("session.capacity")
	ErrClosed            = errors.MustNewCode("session.closed")
)
