package link

import (
	"errors"
	"fmt"
)

// Transport and discovery errors surfaced to the link state machine. All of
// them degrade to demo mode rather than aborting the workflow; they are kept
// distinct so the operator log can say what actually went wrong.
var (
	// ErrUnsupported indicates the platform has no usable Bluetooth stack.
	ErrUnsupported = errors.New("bluetooth not supported")

	// ErrUserCancelled indicates the operator aborted discovery or connect.
	ErrUserCancelled = errors.New("cancelled by user")

	// ErrServiceNotFound indicates the peripheral lacks the pressure service.
	ErrServiceNotFound = errors.New("pressure service not found")

	// ErrCharacteristicNotFound indicates the service lacks the data
	// characteristic.
	ErrCharacteristicNotFound = errors.New("pressure characteristic not found")

	// ErrPermissionDenied indicates the OS refused Bluetooth access.
	ErrPermissionDenied = errors.New("bluetooth permission denied")

	// ErrNotConnected indicates an attempt to use a transport that has no
	// active connection.
	ErrNotConnected = errors.New("not connected")

	// ErrConnectionLost indicates the peripheral dropped the connection
	// unsolicited. Distinct from ErrNotConnected, which means the caller
	// never had one.
	ErrConnectionLost = errors.New("connection lost")
)

// ConnectError wraps a connect failure with the handle it was for. The link
// falls back to demo mode on any ConnectError; the wrapped cause is kept for
// the operator log.
type ConnectError struct {
	Handle DeviceHandle
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Handle.DisplayName(), e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// WriteError wraps a failed command write.
type WriteError struct {
	Command string
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Command, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
