package gate

import "errors"

// Caller-visible error categories.
var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("not authorized")
	ErrBypassDisabled  = errors.New("emergency bypass disabled")
	ErrInvalidArgument = errors.New("invalid argument")
)
