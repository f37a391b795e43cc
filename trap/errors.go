package trap

import "errors"

var (
	ErrInvalidSource   = errors.New("invalid interrupt source")
	ErrInvalidPriority = errors.New("invalid interrupt priority")
	ErrNilHandler      = errors.New("nil interrupt handler")
	ErrUnhandledTrap   = errors.New("unhandled trap")
)
