package core

import "errors"

var (
	// ErrTextEmpty indicates the request text was empty, or became empty
	// after normalization.
	ErrTextEmpty = errors.New("text cannot be empty")
	// ErrTextTooLong indicates the request text exceeds MaxTextChars.
	ErrTextTooLong = errors.New("text exceeds maximum length")
)
