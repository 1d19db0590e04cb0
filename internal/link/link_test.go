package link

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/podotrace/podotrace/internal/frame"
)

// MockTransport implements Transport for testing
type MockTransport struct {
	mock.Mock

	frameHandler      func([]byte)
	disconnectHandler func()
}

func (m *MockTransport) Discover(ctx context.Context, opts DiscoverOptions) ([]DeviceHandle, error) {
	args := m.Called(ctx, opts)
	return args.Get(0).([]DeviceHandle), args.Error(1)
}

func (m *MockTransport) Connect(ctx context.Context, handle DeviceHandle) error {
	args := m.Called(ctx, handle)
	return args.Error(0)
}

func (m *MockTransport) Write(data []byte) error {
	args := m.Called(data)
	return args.Error(0)
}

func (m *MockTransport) Disconnect() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockTransport) SetFrameHandler(fn func(raw []byte)) {
	m.frameHandler = fn
}

func (m *MockTransport) SetDisconnectHandler(fn func()) {
	m.disconnectHandler = fn
}

func newTestLink(t *testing.T) (*Link, *MockTransport) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	transport := &MockTransport{}
	return New(transport, logger), transport
}

func drainStatuses(l *Link) []StatusEvent {
	var out []StatusEvent
	for {
		select {
		case ev := <-l.StatusEvents():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestConnectRealDevice(t *testing.T) {
	l, transport := newTestLink(t)
	handle := DeviceHandle{ID: "AA:BB:CC:DD:EE:FF", Name: "Insole L"}
	transport.On("Connect", mock.Anything, handle).Return(nil)

	require.NoError(t, l.Connect(context.Background(), handle))

	assert.Equal(t, StatusConnected, l.Status())
	assert.True(t, l.IsConnected())

	held, ok := l.Handle()
	require.True(t, ok)
	assert.Equal(t, handle, held)

	statuses := drainStatuses(l)
	require.Len(t, statuses, 2)
	assert.Equal(t, StatusConnecting, statuses[0].Status)
	assert.Equal(t, StatusConnected, statuses[1].Status)
}

func TestConnectDemoDevice(t *testing.T) {
	l, transport := newTestLink(t)
	demo := DemoDevice()
	transport.On("Connect", mock.Anything, demo).Return(nil)

	require.NoError(t, l.Connect(context.Background(), demo))

	assert.Equal(t, StatusDemo, l.Status())
	assert.True(t, l.IsConnected())
}

func TestConnectFailureFallsBackToDemo(t *testing.T) {
	l, transport := newTestLink(t)
	handle := DeviceHandle{ID: "AA:BB:CC:DD:EE:FF", Name: "Insole L"}
	connectErr := &ConnectError{Handle: handle, Err: ErrServiceNotFound}
	transport.On("Connect", mock.Anything, handle).Return(connectErr)
	transport.On("Connect", mock.Anything, DemoDevice()).Return(nil)

	err := l.Connect(context.Background(), handle)

	// The original failure is reported for display, but the link is usable.
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServiceNotFound)
	assert.Equal(t, StatusDemo, l.Status())
	assert.True(t, l.IsConnected())

	held, ok := l.Handle()
	require.True(t, ok)
	assert.True(t, held.Demo)

	statuses := drainStatuses(l)
	require.Len(t, statuses, 2)
	assert.Equal(t, StatusDemo, statuses[1].Status)
	assert.ErrorIs(t, statuses[1].Err, ErrServiceNotFound)
}

func TestUnsolicitedDisconnect(t *testing.T) {
	l, transport := newTestLink(t)
	handle := DeviceHandle{ID: "AA:BB:CC:DD:EE:FF"}
	transport.On("Connect", mock.Anything, handle).Return(nil)
	require.NoError(t, l.Connect(context.Background(), handle))

	lost := make(chan struct{}, 1)
	l.SetLinkLostHandler(func() { lost <- struct{}{} })

	require.NotNil(t, transport.disconnectHandler)
	transport.disconnectHandler()

	assert.Equal(t, StatusDisconnected, l.Status())
	assert.False(t, l.IsConnected())

	select {
	case <-lost:
	case <-time.After(time.Second):
		t.Fatal("link lost handler not invoked")
	}

	statuses := drainStatuses(l)
	last := statuses[len(statuses)-1]
	assert.Equal(t, StatusDisconnected, last.Status)
	assert.ErrorIs(t, last.Err, ErrConnectionLost)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	l, transport := newTestLink(t)

	// Nothing connected: the transport must not be touched.
	l.Disconnect()
	transport.AssertNotCalled(t, "Disconnect")

	handle := DeviceHandle{ID: "AA:BB:CC:DD:EE:FF"}
	transport.On("Connect", mock.Anything, handle).Return(nil)
	transport.On("Disconnect").Return(nil).Once()
	require.NoError(t, l.Connect(context.Background(), handle))

	l.Disconnect()
	l.Disconnect()

	assert.Equal(t, StatusDisconnected, l.Status())
	transport.AssertExpectations(t)
}

func TestConcurrentDisconnectsTearDownOnce(t *testing.T) {
	l, transport := newTestLink(t)
	handle := DeviceHandle{ID: "AA:BB:CC:DD:EE:FF"}
	transport.On("Connect", mock.Anything, handle).Return(nil)
	transport.On("Disconnect").Return(nil).Once()
	require.NoError(t, l.Connect(context.Background(), handle))
	drainStatuses(l)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Disconnect()
		}()
	}
	wg.Wait()

	assert.Equal(t, StatusDisconnected, l.Status())

	down := 0
	for _, ev := range drainStatuses(l) {
		if ev.Status == StatusDisconnected {
			down++
		}
	}
	assert.Equal(t, 1, down, "only the first Disconnect may publish the transition")
	transport.AssertExpectations(t)
}

func TestIngestPublishesDecodedSamples(t *testing.T) {
	l, _ := newTestLink(t)

	l.Ingest([]byte("PRESSURE_LEFT:10,20,30,40,50,60,70,80"))

	select {
	case sample := <-l.Samples():
		assert.Equal(t, [frame.Channels]int{10, 20, 30, 40, 50, 60, 70, 80}, sample.Values)
		assert.Equal(t, frame.SideLeft, sample.Side)
	default:
		t.Fatal("expected a decoded sample")
	}
}

func TestIngestSkipsMalformedFrames(t *testing.T) {
	l, _ := newTestLink(t)

	l.Ingest([]byte("BATTERY:LOW"))

	select {
	case <-l.Samples():
		t.Fatal("malformed frame must not produce a sample")
	default:
	}

	select {
	case msg := <-l.Diagnostics():
		assert.Contains(t, msg, "BATTERY:LOW")
	default:
		t.Fatal("expected a diagnostic event")
	}
}

func TestNotificationPathFeedsIngest(t *testing.T) {
	l, transport := newTestLink(t)

	require.NotNil(t, transport.frameHandler)
	transport.frameHandler([]byte("PRESSURE_RIGHT:1,2,3,4,5,6,7,8"))

	select {
	case sample := <-l.Samples():
		assert.Equal(t, frame.SideRight, sample.Side)
	default:
		t.Fatal("expected a decoded sample from the transport path")
	}
}

func TestDiscoverDelegatesToTransport(t *testing.T) {
	l, transport := newTestLink(t)
	want := []DeviceHandle{{ID: "AA:BB:CC:DD:EE:FF", Name: "Insole L"}, DemoDevice()}
	transport.On("Discover", mock.Anything, mock.Anything).Return(want, nil)

	got, err := l.Discover(context.Background(), DiscoverOptions{NamePrefix: "Insole"})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestConnectErrorFormatting(t *testing.T) {
	err := &ConnectError{
		Handle: DeviceHandle{ID: "AA:BB", Name: "Insole L"},
		Err:    ErrPermissionDenied,
	}
	assert.Contains(t, err.Error(), "Insole L")
	assert.True(t, errors.Is(err, ErrPermissionDenied))
}
