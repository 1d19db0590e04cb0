package link

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/podotrace/podotrace/internal/events"
	"github.com/podotrace/podotrace/internal/frame"
)

// Status is the connection state of the link.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusDemo
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDemo:
		return "demo"
	default:
		return "disconnected"
	}
}

// StatusEvent is one link status transition. Err carries the connect error
// that forced a demo fallback, or ErrConnectionLost on an unsolicited drop.
type StatusEvent struct {
	Status Status
	Handle DeviceHandle
	Err    error
}

// Event channel capacities. Samples arrive at the sensor rate and are also
// accumulated by the session, so a modest buffer with drop-oldest semantics
// is enough for the live view.
const (
	statusChanCap = 16
	sampleChanCap = 64
	diagChanCap   = 128
)

// Link is the connection state machine. It exclusively owns the transport
// and the device handle; every other component observes its status through
// the event channel and never mutates it.
type Link struct {
	transport Transport
	logger    *logrus.Logger

	mu     sync.RWMutex
	status Status
	handle DeviceHandle
	onLost func()

	statusEvents *events.RingChannel[StatusEvent]
	samples      *events.RingChannel[frame.Sample]
	diagnostics  *events.RingChannel[string]
}

// New creates a link supervising the given transport.
func New(transport Transport, logger *logrus.Logger) *Link {
	if logger == nil {
		logger = logrus.New()
	}
	l := &Link{
		transport:    transport,
		logger:       logger,
		status:       StatusDisconnected,
		statusEvents: events.NewRingChannel[StatusEvent](statusChanCap),
		samples:      events.NewRingChannel[frame.Sample](sampleChanCap),
		diagnostics:  events.NewRingChannel[string](diagChanCap),
	}
	transport.SetFrameHandler(l.Ingest)
	transport.SetDisconnectHandler(l.onUnsolicitedDisconnect)
	return l
}

// StatusEvents returns the status transition channel.
func (l *Link) StatusEvents() <-chan StatusEvent {
	return l.statusEvents.C()
}

// Samples returns the decoded sample channel. Both real notifications and
// simulator frames arrive here after passing the frame parser.
func (l *Link) Samples() <-chan frame.Sample {
	return l.samples.C()
}

// Diagnostics returns the human-readable event log channel.
func (l *Link) Diagnostics() <-chan string {
	return l.diagnostics.C()
}

// SetLinkLostHandler registers the callback fired on an unsolicited
// disconnect, after the status transition. The session wiring uses it to
// stop an active recording.
func (l *Link) SetLinkLostHandler(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onLost = fn
}

// Status returns the current link status.
func (l *Link) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}

// Handle returns the device handle the link currently holds.
func (l *Link) Handle() (DeviceHandle, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.handle, l.status == StatusConnected || l.status == StatusDemo
}

// IsConnected reports whether a session can run. Demo counts: once linked,
// the rest of the system is transport-agnostic.
func (l *Link) IsConnected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status == StatusConnected || l.status == StatusDemo
}

// Discover lists available insoles through the transport.
func (l *Link) Discover(ctx context.Context, opts DiscoverOptions) ([]DeviceHandle, error) {
	return l.transport.Discover(ctx, opts)
}

// Connect attaches the link to a peripheral. On any transport failure the
// link falls back to the demo device instead of surfacing a dead end: the
// returned error is the original connect failure, kept for display, and the
// link is usable (in demo mode) regardless.
func (l *Link) Connect(ctx context.Context, handle DeviceHandle) error {
	l.setStatus(StatusConnecting, handle, nil)

	err := l.transport.Connect(ctx, handle)
	if err == nil {
		if handle.Demo {
			l.setStatus(StatusDemo, handle, nil)
			l.Report("Linked to simulated insole " + handle.DisplayName())
		} else {
			l.setStatus(StatusConnected, handle, nil)
			l.Report("Linked to insole " + handle.DisplayName())
		}
		return nil
	}

	l.logger.WithError(err).WithField("device", handle.DisplayName()).
		Warn("Connect failed, falling back to demo mode")
	l.Report("Connect failed (" + err.Error() + "), continuing with simulated insole")

	demo := DemoDevice()
	if demoErr := l.transport.Connect(ctx, demo); demoErr != nil {
		// Demo connects never touch the network; a failure here means the
		// transport is misbehaving, not the peripheral.
		l.setStatus(StatusDisconnected, DeviceHandle{}, demoErr)
		return demoErr
	}
	l.setStatus(StatusDemo, demo, err)
	return err
}

// Disconnect tears the link down. Idempotent: the status swaps to
// Disconnected under the guard lock, so concurrent callers past the first
// see the link already down and return without touching the transport or
// publishing a second event.
func (l *Link) Disconnect() {
	l.mu.Lock()
	if l.status == StatusDisconnected {
		l.mu.Unlock()
		return
	}
	l.status = StatusDisconnected
	l.handle = DeviceHandle{}
	l.mu.Unlock()

	if err := l.transport.Disconnect(); err != nil {
		l.logger.WithError(err).Warn("Transport disconnect failed")
	}
	l.logger.WithField("status", StatusDisconnected.String()).Debug("Link status changed")
	l.statusEvents.Send(StatusEvent{Status: StatusDisconnected})
	l.Report("Link closed")
}

// Write sends a sampling command through the transport.
func (l *Link) Write(cmd []byte) error {
	return l.transport.Write(cmd)
}

// Ingest decodes one raw frame and publishes the sample. Malformed frames
// are reported on the diagnostic channel and skipped; a dropped frame only
// reduces the sample count, it never becomes a zero reading. The simulator
// feeds this same entry point, so both data paths share the parser.
func (l *Link) Ingest(raw []byte) {
	sample, err := frame.Parse(raw)
	if err != nil {
		l.logger.WithError(err).Debug("Dropping unparseable frame")
		l.Report("Dropped unparseable frame: " + err.Error())
		return
	}
	l.samples.Send(sample)
}

// Report publishes a human-readable event for the operator log.
func (l *Link) Report(msg string) {
	l.diagnostics.Send(msg)
}

func (l *Link) setStatus(status Status, handle DeviceHandle, err error) {
	l.mu.Lock()
	l.status = status
	l.handle = handle
	l.mu.Unlock()

	l.logger.WithFields(logrus.Fields{
		"status": status.String(),
		"device": handle.DisplayName(),
	}).Debug("Link status changed")
	l.statusEvents.Send(StatusEvent{Status: status, Handle: handle, Err: err})
}

// onUnsolicitedDisconnect handles the peripheral dropping the connection.
// Demo mode never produces one. An active session is stopped through the
// registered handler; partial data stays summarizable under the stop-early
// rule.
func (l *Link) onUnsolicitedDisconnect() {
	l.mu.Lock()
	if l.status != StatusConnected {
		l.mu.Unlock()
		return
	}
	l.status = StatusDisconnected
	l.handle = DeviceHandle{}
	onLost := l.onLost
	l.mu.Unlock()

	l.logger.Warn("Link lost")
	l.Report("Insole connection lost")
	l.statusEvents.Send(StatusEvent{Status: StatusDisconnected, Err: ErrConnectionLost})

	if onLost != nil {
		onLost()
	}
}
