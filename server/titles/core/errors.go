package core

import "github.com/gear6io/oxygen/pkg/errors"

// Account error codes
var (
	ErrInvalidCard  = errors.MustNewCode("core.invalid_card")
	ErrInvalidPIN   = errors.MustNewCode("core.invalid_pin")
	ErrCardTaken    = errors.MustNewCode("core.card_taken")
	ErrUnknownRefID = errors.MustNewCode("core.unknown_refid")
)
