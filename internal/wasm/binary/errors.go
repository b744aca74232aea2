package binary

import (
	"errors"
)

var (
	ErrInvalidByte          = errors.New("invalid byte")
	ErrInvalidMagicNumber   = errors.New("invalid magic number")
	ErrInvalidVersion       = errors.New("invalid version header")
	ErrInvalidSectionID     = errors.New("invalid section id")
	ErrInvalidSectionOrder  = errors.New("invalid section order")
	ErrSectionSizeMismatch  = errors.New("section size mismatch")
	ErrUnexpectedEndOfInput = errors.New("unexpected end of input")
)
