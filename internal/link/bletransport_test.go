package link

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// withFailingDeviceFactory makes platform BLE init fail with the given error
// for the duration of the test.
func withFailingDeviceFactory(t *testing.T, factoryErr error) {
	t.Helper()
	orig := DeviceFactory
	DeviceFactory = func() (ble.Device, error) {
		return nil, factoryErr
	}
	deviceInitOnce = sync.Once{}
	deviceInitErr = nil
	t.Cleanup(func() {
		DeviceFactory = orig
		deviceInitOnce = sync.Once{}
		deviceInitErr = nil
	})
}

func TestDiscoverFallsBackToDemoWithoutBluetooth(t *testing.T) {
	withFailingDeviceFactory(t, errors.New("no adapter"))
	tr := NewBLETransport(quietLogger())

	handles, err := tr.Discover(context.Background(), DiscoverOptions{NamePrefix: "Insole"})

	require.NoError(t, err, "discovery must degrade, not fail")
	require.Len(t, handles, 1)
	assert.True(t, handles[0].Demo)
	assert.Equal(t, DemoDeviceID, handles[0].ID)
}

func TestConnectRealHandleWithoutBluetooth(t *testing.T) {
	withFailingDeviceFactory(t, errors.New("no adapter"))
	tr := NewBLETransport(quietLogger())

	err := tr.Connect(context.Background(), DeviceHandle{ID: "AA:BB:CC:DD:EE:FF"})

	var connectErr *ConnectError
	require.ErrorAs(t, err, &connectErr)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestPermissionRefusalClassified(t *testing.T) {
	withFailingDeviceFactory(t, errors.New("can't init hci: operation not permitted"))
	tr := NewBLETransport(quietLogger())

	err := tr.Connect(context.Background(), DeviceHandle{ID: "AA:BB:CC:DD:EE:FF"})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	// Discovery still degrades to the demo sentinel.
	handles, err := tr.Discover(context.Background(), DiscoverOptions{})
	require.NoError(t, err)
	require.Len(t, handles, 1)
	assert.True(t, handles[0].Demo)
}

func TestClassifyPlatformError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"macos unauthorized", errors.New("CBManagerStateUnauthorized: not authorized"), ErrPermissionDenied},
		{"linux eperm", os.ErrPermission, ErrPermissionDenied},
		{"explicit denial", errors.New("permission denied"), ErrPermissionDenied},
		{"missing adapter", errors.New("no adapter found"), ErrUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classifyPlatformError(tt.err), tt.want)
		})
	}
}

func TestDemoHandleLifecycle(t *testing.T) {
	withFailingDeviceFactory(t, errors.New("no adapter"))
	tr := NewBLETransport(quietLogger())

	// Demo connect touches no hardware, so a missing adapter is irrelevant.
	require.NoError(t, tr.Connect(context.Background(), DemoDevice()))

	assert.NoError(t, tr.Write(CmdStart))
	assert.NoError(t, tr.Write(CmdStop))
	assert.NoError(t, tr.Disconnect())

	// Disconnect with nothing connected is a no-op.
	assert.NoError(t, tr.Disconnect())
}

func TestWriteRequiresConnection(t *testing.T) {
	tr := NewBLETransport(quietLogger())

	err := tr.Write(CmdStart)

	var writeErr *WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, "START", writeErr.Command)
	assert.ErrorIs(t, err, ErrNotConnected)
}

// fakeAdv implements ble.Advertisement for filter tests.
type fakeAdv struct {
	name     string
	services []ble.UUID
}

func (a *fakeAdv) LocalName() string              { return a.name }
func (a *fakeAdv) ManufacturerData() []byte       { return nil }
func (a *fakeAdv) ServiceData() []ble.ServiceData { return nil }
func (a *fakeAdv) Services() []ble.UUID           { return a.services }
func (a *fakeAdv) OverflowService() []ble.UUID    { return nil }
func (a *fakeAdv) TxPowerLevel() int              { return 0 }
func (a *fakeAdv) Connectable() bool              { return true }
func (a *fakeAdv) SolicitedService() []ble.UUID   { return nil }
func (a *fakeAdv) RSSI() int                      { return -40 }
func (a *fakeAdv) Addr() ble.Addr                 { return ble.NewAddr("AA:BB:CC:DD:EE:FF") }

func TestMatchesFilter(t *testing.T) {
	insole := &fakeAdv{name: "Insole L", services: []ble.UUID{PressureServiceUUID}}
	other := &fakeAdv{name: "Thermometer"}

	assert.True(t, matchesFilter(insole, DiscoverOptions{}))
	assert.True(t, matchesFilter(other, DiscoverOptions{}))

	assert.True(t, matchesFilter(insole, DiscoverOptions{NamePrefix: "Insole"}))
	assert.False(t, matchesFilter(other, DiscoverOptions{NamePrefix: "Insole"}))

	assert.True(t, matchesFilter(insole, DiscoverOptions{ServiceUUID: &PressureServiceUUID}))
	assert.False(t, matchesFilter(other, DiscoverOptions{ServiceUUID: &PressureServiceUUID}))
}
