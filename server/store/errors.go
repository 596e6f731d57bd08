package store

import "github.com/gear6io/oxygen/pkg/errors"

// Store error codes
var (
	ErrNotFound          = errors.MustNewCode("store.not_found")
	ErrExists            = errors.MustNewCode("store.record_exists")
	ErrInvalidRecord     = errors.MustNewCode("store.invalid_record")
	ErrUnsupportedDriver = errors.MustNewCode("store.unsupported_driver")
	ErrOpenFailed        = errors.MustNewCode("store.open_failed")
	ErrMigrationFailed   = errors.MustNewCode("store.migration_failed")
	ErrQueryFailed       = errors.MustNewCode("store.query_failed")
	ErrClosed            = errors.MustNewCode("store.closed")
)

func notFound(kind, key string) *errors.Error {
	return errors.New(ErrNotFound, "record not found", nil).
		AddContext("kind", kind).
		AddContext("key", key)
}

func exists(kind, key string) *errors.Error {
	return errors.New(ErrExists, "record already exists", nil).
		AddContext("kind", kind).
		AddContext("key", key)
}

// IsExists reports whether err is a conditional write that lost to an
// existing record.
func IsExists(err error) bool {
	return errors.HasCode(err, ErrExists)
}

// IsNotFound reports whether err is a missing record.
func IsNotFound(err error) bool {
	return errors.HasCode(err, ErrNotFound)
}
