package main

import (
	"errors"

	"github.com/podotrace/podotrace/internal/link"
	"github.com/podotrace/podotrace/internal/session"
)

// FormatUserError maps engine errors to operator-facing messages. Anything
// unrecognized passes through unchanged.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, link.ErrUnsupported):
		return "Bluetooth is not available on this system; use --demo to record with the simulated insole"
	case errors.Is(err, link.ErrPermissionDenied):
		return "Bluetooth access was denied; grant the permission or use --demo"
	case errors.Is(err, link.ErrServiceNotFound):
		return "the selected device does not expose the pressure service; is it a pressure insole?"
	case errors.Is(err, link.ErrCharacteristicNotFound):
		return "the selected device is missing the pressure data characteristic"
	case errors.Is(err, link.ErrConnectionLost):
		return "the insole dropped the connection; partial data was kept"
	case errors.Is(err, session.ErrLinkDown):
		return "no insole is linked; connect or use --demo before recording"
	case errors.Is(err, session.ErrEmptySession):
		return "the session ended with no data; check the insole and try again"
	default:
		return err.Error()
	}
}
