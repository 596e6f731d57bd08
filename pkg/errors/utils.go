package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// InternalError is implemented by package-local error types that know how to
// convert themselves into the shared Error shape.
type InternalError interface {
	error
	Transform() *Error
}

// GetContext extracts the context map from our errors
func GetContext(err error) map[string]string {
	if oxErr, ok := err.(*Error); ok {
		return oxErr.Context
	}
	return nil
}

// GetCode returns the code of the outermost Error in the chain
func GetCode(err error) string {
	var oxErr *Error
	if stderrors.As(err, &oxErr) {
		return oxErr.Code.String()
	}
	return ""
}

// HasCode walks the cause chain and reports whether any Error carries code
func HasCode(err error, code Code) bool {
	for err != nil {
		if oxErr, ok := err.(*Error); ok && oxErr.Code.Equals(code) {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// Find returns the first Error in the cause chain that carries code
func Find(err error, code Code) *Error {
	for err != nil {
		if oxErr, ok := err.(*Error); ok && oxErr.Code.Equals(code) {
			return oxErr
		}
		err = stderrors.Unwrap(err)
	}
	return nil
}

// FormatError renders an error with its code and context for logs
func FormatError(err error) string {
	oxErr, ok := err.(*Error)
	if !ok {
		return err.Error()
	}

	var parts []string
	parts = append(parts, fmt.Sprintf("Code: %s", oxErr.Code))
	parts = append(parts, fmt.Sprintf("Message: %s", oxErr.Message))

	if len(oxErr.Context) > 0 {
		keys := make([]string, 0, len(oxErr.Context))
		for k := range oxErr.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts = append(parts, "Context:")
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("  %s: %v", k, oxErr.Context[k]))
		}
	}

	if oxErr.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause: %v", oxErr.Cause))
	}

	return strings.Join(parts, "\n")
}

// AsError converts any error to the shared Error format.
//
// InternalError types are transformed, existing Errors are returned as-is and
// anything else is wrapped in a CommonInternal error.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}

	if ie, ok := err.(InternalError); ok {
		return ie.Transform()
	}

	if oxErr, ok := err.(*Error); ok {
		return oxErr
	}

	return New(CommonInternal, err.Error(), err)
}
