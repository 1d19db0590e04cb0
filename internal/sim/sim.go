// Package sim generates synthetic pressure frames when no physical insole is
// linked. Frames are emitted in the same tagged-text wire format the real
// firmware sends, so the simulated path exercises the frame parser exactly
// like the hardware path does.
package sim

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/podotrace/podotrace/internal/frame"
)

// DefaultInterval is the cadence of synthetic frames.
const DefaultInterval = 500 * time.Millisecond

// noiseAmplitude bounds the per-channel perturbation around the baseline.
const noiseAmplitude = 12

// defaultBaseline approximates a standing plantar pressure distribution:
// higher load under heel and forefoot, lighter under the arch.
var defaultBaseline = [frame.Channels]int{120, 95, 60, 45, 55, 90, 130, 140}

// Emitter receives one encoded wire frame per tick. The session wiring
// passes the link's Ingest here so simulated frames travel the normal
// decode path.
type Emitter func(raw []byte)

// Simulator emits synthetic frames at a fixed cadence while armed. It never
// runs concurrently with a real link's notifications; the session controller
// arms it only when the link is in demo mode.
type Simulator struct {
	logger   *logrus.Logger
	emit     Emitter
	side     frame.Side
	interval time.Duration
	baseline [frame.Channels]int
	rng      *rand.Rand

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a disarmed simulator emitting frames tagged for the given side.
func New(emit Emitter, side frame.Side, logger *logrus.Logger) *Simulator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Simulator{
		logger:   logger,
		emit:     emit,
		side:     side,
		interval: DefaultInterval,
		baseline: defaultBaseline,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetInterval overrides the emission cadence. Only effective before Arm.
func (s *Simulator) SetInterval(d time.Duration) {
	if d > 0 {
		s.interval = d
	}
}

// Arm starts emitting. Arming an armed simulator is a no-op.
func (s *Simulator) Arm() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go s.run(ctx)

	s.logger.WithField("interval", s.interval).Debug("Simulator armed")
}

// Disarm stops emitting and waits for the emission goroutine to exit. After
// Disarm returns, no further frames are delivered.
func (s *Simulator) Disarm() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Debug("Simulator disarmed")
}

// IsArmed reports whether the simulator is currently emitting.
func (s *Simulator) IsArmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Simulator) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.emit(frame.EncodeTagged(s.side, s.nextValues()))
		}
	}
}

// nextValues perturbs the baseline with bounded noise, re-clamped to the
// valid reading range.
func (s *Simulator) nextValues() [frame.Channels]int {
	var values [frame.Channels]int
	for i, base := range s.baseline {
		noise := s.rng.Intn(2*noiseAmplitude+1) - noiseAmplitude
		values[i] = frame.Clamp(base + noise)
	}
	return values
}
