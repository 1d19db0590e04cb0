package link

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
)

// DeviceFactory creates the platform BLE device (overridden in tests).
var DeviceFactory = func() (ble.Device, error) {
	return newPlatformDevice()
}

var (
	deviceInitOnce sync.Once
	deviceInitErr  error
)

// initDevice sets up the platform BLE stack once per process.
func initDevice() error {
	deviceInitOnce.Do(func() {
		d, err := DeviceFactory()
		if err != nil {
			deviceInitErr = classifyPlatformError(err)
			return
		}
		ble.SetDefaultDevice(d)
	})
	return deviceInitErr
}

// classifyPlatformError maps a platform BLE failure onto the error taxonomy.
// Permission refusals (macOS "not authorized", Linux EPERM on the HCI
// socket) become ErrPermissionDenied; everything else means the stack is
// unusable, ErrUnsupported.
func classifyPlatformError(err error) error {
	msg := strings.ToLower(err.Error())
	if errors.Is(err, os.ErrPermission) ||
		strings.Contains(msg, "permission denied") ||
		strings.Contains(msg, "operation not permitted") ||
		strings.Contains(msg, "not authorized") ||
		strings.Contains(msg, "unauthorized") {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrUnsupported, err)
}

// BLETransport is the real-hardware Transport over go-ble. A connected demo
// handle short-circuits every network operation.
type BLETransport struct {
	logger *logrus.Logger

	mu           sync.RWMutex
	client       ble.Client
	char         *ble.Characteristic
	connected    bool
	demo         bool
	closing      bool
	onFrame      func([]byte)
	onDisconnect func()

	writeMu sync.Mutex
}

// NewBLETransport creates a transport. The logger must not be nil.
func NewBLETransport(logger *logrus.Logger) *BLETransport {
	if logger == nil {
		logger = logrus.New()
	}
	return &BLETransport{logger: logger}
}

// SetFrameHandler registers the raw notification callback.
func (t *BLETransport) SetFrameHandler(fn func(raw []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onFrame = fn
}

// SetDisconnectHandler registers the unsolicited-disconnect callback.
func (t *BLETransport) SetDisconnectHandler(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDisconnect = fn
}

// Discover scans for insoles matching opts. Scan failures degrade: first to
// an unfiltered scan, then to the demo sentinel list, so the caller always
// gets a device list it can proceed with.
func (t *BLETransport) Discover(ctx context.Context, opts DiscoverOptions) ([]DeviceHandle, error) {
	if err := initDevice(); err != nil {
		t.logger.WithError(err).Warn("Bluetooth unavailable, offering demo device only")
		return []DeviceHandle{DemoDevice()}, nil
	}
	if opts.Timeout <= 0 {
		opts.Timeout = scanDefaultTimeout
	}

	handles, err := t.scan(ctx, opts)
	if err != nil && !errors.Is(err, ErrUserCancelled) {
		t.logger.WithError(err).Warn("Filtered scan failed, retrying unfiltered")
		handles, err = t.scan(ctx, DiscoverOptions{Timeout: opts.Timeout})
	}
	if err != nil || len(handles) == 0 {
		if err != nil {
			t.logger.WithError(err).Warn("Discovery failed, offering demo device only")
		}
		return []DeviceHandle{DemoDevice()}, nil
	}
	return handles, nil
}

func (t *BLETransport) scan(ctx context.Context, opts DiscoverOptions) ([]DeviceHandle, error) {
	scanCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var (
		seenMu  sync.Mutex
		seen    = make(map[string]struct{})
		handles []DeviceHandle
	)
	handler := func(adv ble.Advertisement) {
		seenMu.Lock()
		defer seenMu.Unlock()
		id := adv.Addr().String()
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		handles = append(handles, DeviceHandle{ID: id, Name: adv.LocalName()})
		t.logger.WithFields(logrus.Fields{
			"device": adv.LocalName(),
			"addr":   id,
			"rssi":   adv.RSSI(),
		}).Info("Discovered device")
	}

	filter := func(adv ble.Advertisement) bool {
		return matchesFilter(adv, opts)
	}

	err := ble.Scan(scanCtx, false, handler, filter)
	if err != nil && err != context.Canceled && err != context.DeadlineExceeded {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ErrUserCancelled
		}
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	seenMu.Lock()
	defer seenMu.Unlock()
	return handles, nil
}

// matchesFilter applies the name-prefix and service filters. An empty
// options struct accepts any advertisement.
func matchesFilter(adv ble.Advertisement, opts DiscoverOptions) bool {
	if opts.NamePrefix != "" && !strings.HasPrefix(adv.LocalName(), opts.NamePrefix) {
		return false
	}
	if opts.ServiceUUID != nil {
		for _, u := range adv.Services() {
			if u.Equal(*opts.ServiceUUID) {
				return true
			}
		}
		return false
	}
	return true
}

// Connect dials the peripheral, resolves the pressure service and
// characteristic, and subscribes to notifications. Demo handles connect
// instantly with no network operation.
func (t *BLETransport) Connect(ctx context.Context, handle DeviceHandle) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return fmt.Errorf("already connected")
	}

	if handle.Demo {
		t.connected = true
		t.demo = true
		t.logger.WithField("device", handle.DisplayName()).Info("Demo transport attached")
		return nil
	}

	if err := initDevice(); err != nil {
		return &ConnectError{Handle: handle, Err: err}
	}

	t.logger.WithField("device", handle.DisplayName()).Info("Connecting to insole")

	client, err := ble.Dial(ctx, ble.NewAddr(handle.ID))
	if err != nil {
		return &ConnectError{Handle: handle, Err: err}
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		client.CancelConnection()
		return &ConnectError{Handle: handle, Err: fmt.Errorf("discover profile: %w", err)}
	}

	var char *ble.Characteristic
	for _, svc := range profile.Services {
		if !svc.UUID.Equal(PressureServiceUUID) {
			continue
		}
		for _, c := range svc.Characteristics {
			if c.UUID.Equal(PressureCharUUID) {
				char = c
				break
			}
		}
		if char == nil {
			client.CancelConnection()
			return &ConnectError{Handle: handle, Err: ErrCharacteristicNotFound}
		}
		break
	}
	if char == nil {
		client.CancelConnection()
		return &ConnectError{Handle: handle, Err: ErrServiceNotFound}
	}

	if err := client.Subscribe(char, false, t.handleNotification); err != nil {
		client.CancelConnection()
		return &ConnectError{Handle: handle, Err: fmt.Errorf("subscribe: %w", err)}
	}

	t.client = client
	t.char = char
	t.connected = true
	t.demo = false
	t.closing = false

	go t.watchDisconnect(client)

	t.logger.WithField("device", handle.DisplayName()).Info("Insole link established")
	return nil
}

// watchDisconnect fires the disconnect handler when the peripheral drops the
// connection without a local Disconnect call.
func (t *BLETransport) watchDisconnect(client ble.Client) {
	<-client.Disconnected()

	t.mu.Lock()
	solicited := t.closing || !t.connected
	handler := t.onDisconnect
	if !solicited {
		t.connected = false
		t.client = nil
		t.char = nil
	}
	t.mu.Unlock()

	if solicited {
		return
	}
	t.logger.Warn("Insole dropped the connection")
	if handler != nil {
		handler()
	}
}

// handleNotification forwards one raw notification payload to the frame
// handler.
func (t *BLETransport) handleNotification(data []byte) {
	t.mu.RLock()
	handler := t.onFrame
	t.mu.RUnlock()

	t.logger.WithField("bytes", len(data)).Debug("Notification received")
	if handler != nil {
		handler(data)
	}
}

// Write sends a command to the characteristic. No-op success in demo mode.
func (t *BLETransport) Write(data []byte) error {
	t.mu.RLock()
	connected, demo := t.connected, t.demo
	client, char := t.client, t.char
	t.mu.RUnlock()

	if !connected {
		return &WriteError{Command: string(data), Err: ErrNotConnected}
	}
	if demo {
		return nil
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := client.WriteCharacteristic(char, data, false); err != nil {
		return &WriteError{Command: string(data), Err: err}
	}
	t.logger.WithField("command", string(data)).Debug("Command written")
	return nil
}

// Disconnect unsubscribes and closes the connection. Calling it with nothing
// connected is a no-op.
func (t *BLETransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return nil
	}

	t.closing = true
	if t.client != nil {
		if err := t.client.Unsubscribe(t.char, false); err != nil {
			t.logger.WithError(err).Debug("Unsubscribe failed during disconnect")
		}
		if err := t.client.CancelConnection(); err != nil {
			t.logger.WithError(err).Warn("Error closing insole connection")
		}
	}

	t.connected = false
	t.demo = false
	t.client = nil
	t.char = nil

	t.logger.Info("Insole link closed")
	return nil
}

// scanDefaultTimeout bounds discovery when the caller does not.
const scanDefaultTimeout = 10 * time.Second
