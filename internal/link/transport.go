// Package link owns the wireless side of the measurement engine: transport
// discovery and connection over a single GATT notify/write characteristic
// pair, and the connection state machine that decides whether a real insole
// or the simulator feeds the session.
package link

import (
	"context"
	"time"

	"github.com/go-ble/ble"
)

// The insole exposes one fixed service with one characteristic used for both
// notifications (device to host) and command writes (host to device).
var (
	PressureServiceUUID = ble.MustParse("6E400001-B5A3-F393-E0A9-E50E24DCCA9E")
	PressureCharUUID    = ble.MustParse("6E400003-B5A3-F393-E0A9-E50E24DCCA9E")
)

// Sampling commands written to the characteristic. No acknowledgement is
// expected from the firmware.
var (
	CmdStart = []byte("START")
	CmdStop  = []byte("STOP")
)

// DemoDeviceID is the sentinel handle ID for the built-in simulated insole.
const DemoDeviceID = "demo-insole"

// DeviceHandle identifies a discovered peripheral.
type DeviceHandle struct {
	ID   string
	Name string
	Demo bool
}

// DisplayName returns the advertised name, falling back to the ID for
// peripherals that advertise none.
func (h DeviceHandle) DisplayName() string {
	if h.Name != "" {
		return h.Name
	}
	return h.ID
}

// DemoDevice returns the sentinel simulated insole handle. Discovery falls
// back to it whenever the platform cannot produce a real device list, so the
// workflow always has a path to continue.
func DemoDevice() DeviceHandle {
	return DeviceHandle{ID: DemoDeviceID, Name: "Demo insole", Demo: true}
}

// DiscoverOptions filters discovery. Zero value means accept any peripheral.
type DiscoverOptions struct {
	NamePrefix  string
	ServiceUUID *ble.UUID
	Timeout     time.Duration
}

// Transport wraps the platform peripheral API. Implementations must accept
// demo handles everywhere: Connect on a demo handle succeeds without any
// network operation, Write and Disconnect become no-ops.
type Transport interface {
	// Discover returns peripherals matching opts. It degrades rather than
	// fails: a filtered scan error retries unfiltered, and a total failure
	// (no Bluetooth support, permission denied, cancellation) returns the
	// demo sentinel list with a nil error.
	Discover(ctx context.Context, opts DiscoverOptions) ([]DeviceHandle, error)

	// Connect resolves the pressure service and characteristic on the
	// peripheral and subscribes to value-change notifications.
	Connect(ctx context.Context, handle DeviceHandle) error

	// Write sends a command to the characteristic.
	Write(data []byte) error

	// Disconnect unsubscribes and closes the connection. Idempotent.
	Disconnect() error

	// SetFrameHandler registers the callback invoked with each raw
	// notification payload. Must be set before Connect.
	SetFrameHandler(fn func(raw []byte))

	// SetDisconnectHandler registers the callback invoked when the
	// peripheral drops the connection unsolicited.
	SetDisconnectHandler(fn func())
}
