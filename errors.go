package newjoy

import (
	"errors"
	"fmt"
)

// Error classes. Every error returned by the packages of this module wraps
// one of them so callers can branch with errors.Is.
var (
	ErrConfiguration     = errors.New("configuration error")
	ErrDevice            = errors.New("device error")
	ErrTransientIO       = errors.New("transient i/o error")
	ErrProtocolViolation = errors.New("protocol violation")
)

var (
	ErrDeviceNotFound    = fmt.Errorf("%w: device not found", ErrDevice)
	ErrIdentityMismatch  = fmt.Errorf("%w: identity mismatch", ErrDevice)
	ErrMalformedResponse = fmt.Errorf("%w: malformed response", ErrTransientIO)
)
