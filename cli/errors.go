package cli

import "github.com/gear6io/oxygen/pkg/errors"

// CLI error codes
var (
	ErrInvalidFlag    = errors.MustNewCode("cli.invalid_flag")
	ErrReadFailed     = errors.MustNewCode("cli.read_failed")
	ErrWriteFailed    = errors.MustNewCode("cli.write_failed")
	ErrTerminalOutput = errors.MustNewCode("cli.terminal_output")
)
