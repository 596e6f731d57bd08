package dispatch

import "strconv"

// Status values returned to cabinets in the status attribute.
const (
	StatusSuccess       = 0
	StatusNoProfile     = 109
	StatusNotAllowed    = 110
	StatusNotRegistered = 112
	StatusInvalidPIN    = 116
)

// Status formats a status value as an attribute.
func Status(code int) string {
	return strconv.Itoa(code)
}
