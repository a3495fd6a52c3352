package fix

import "errors"

var (
	ErrMalformedMessage   = errors.New("malformed fix message")
	ErrDuplicateTag       = errors.New("duplicate tag")
	ErrChecksumMismatch   = errors.New("checksum mismatch")
	ErrBodyLengthMismatch = errors.New("body length mismatch")
	ErrFrameTooLarge      = errors.New("frame exceeds maximum size")
	ErrMissingField       = errors.New("missing required field")
	ErrCompIDMismatch     = errors.New("compid mismatch")
	ErrSequenceGap        = errors.New("sequence gap")
	ErrDuplicateSequence  = errors.New("duplicate sequence number")
	ErrInvalidState       = errors.New("invalid session state")
)
