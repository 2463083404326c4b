package models

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the registry and the journey controller. Callers
// branch on them with errors.Is; call sites wrap them to add context.
var (
	ErrConnection         = errors.New("connection error")
	ErrInvalidPairingArgs = errors.New("invalid pairing arguments")
	ErrPMVNotAvailable    = errors.New("vehicle not available")
	ErrProcedural         = errors.New("procedural error")
	ErrPairingNotFound    = errors.New("pairing not found")
	ErrValidation         = errors.New("validation error")
	ErrImageDecode        = errors.New("image decode error")
)

var (
	ErrInvalidTransition = fmt.Errorf("%w: invalid vehicle state transition", ErrProcedural)
	ErrVehicleNotFound   = fmt.Errorf("%w: vehicle not found", ErrConnection)
)

// ErrorKind names the base kind of err for logs and metric labels.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrImageDecode):
		return "image_decode"
	case errors.Is(err, ErrInvalidPairingArgs):
		return "invalid_pairing_args"
	case errors.Is(err, ErrPMVNotAvailable):
		return "pmv_not_available"
	case errors.Is(err, ErrPairingNotFound):
		return "pairing_not_found"
	case errors.Is(err, ErrProcedural):
		return "procedural"
	case errors.Is(err, ErrConnection):
		return "connection"
	default:
		return "internal"
	}
}
