// Package session owns the timed measurement window: it accumulates decoded
// pressure samples while recording, and reduces them into per-point averages
// when the window closes. One controller serves one insole side; it is the
// single writer of the sample list regardless of which goroutine delivers
// frames, ticks, or an early stop.
package session

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/podotrace/podotrace/internal/frame"
	"github.com/podotrace/podotrace/internal/link"
)

// DefaultDurationTicks is the measurement window length in scheduler ticks.
const DefaultDurationTicks = 20

var (
	// ErrLinkDown indicates Start was called with no link attached.
	ErrLinkDown = errors.New("cannot start session: link disconnected")

	// ErrAlreadyRecording indicates Start was called mid-session.
	ErrAlreadyRecording = errors.New("session already recording")

	// ErrEmptySession indicates the window closed with zero accepted
	// samples. The session returns to idle and produces no averages: a
	// summary fabricated from nothing would be worse than no summary.
	ErrEmptySession = errors.New("session ended with no samples")
)

// State is the session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateRecording:
		return "recording"
	case StateCompleted:
		return "completed"
	default:
		return "idle"
	}
}

// Summary is the reduction of one completed session. Immutable once
// computed; replaced wholesale when the next session completes.
type Summary struct {
	// Averages holds the rounded per-channel mean across all samples.
	Averages [frame.Channels]int
	// OverallMean is the rounded mean of the channel averages.
	OverallMean int
	// MaxIndex is the first channel index reaching the maximum average.
	MaxIndex int
	// MaxValue is the average at MaxIndex.
	MaxValue int
}

// Report is the export-boundary payload: everything a report or spreadsheet
// generator needs about one completed session.
type Report struct {
	ID        string
	Side      frame.Side
	Notes     string
	Samples   []frame.Sample
	Summary   Summary
	StartedAt time.Time
	EndedAt   time.Time
}

// LinkController is the slice of the link the session needs: status checks,
// sampling commands, and the operator log.
type LinkController interface {
	Status() link.Status
	IsConnected() bool
	Write(cmd []byte) error
	Report(msg string)
}

// FrameSource is armed while a demo session records. The simulator
// implements it.
type FrameSource interface {
	Arm()
	Disarm()
}

// Visualizer receives the display vector after every accepted sample, tick,
// and completion: live values while recording, averages once completed,
// zeros otherwise. Read-only consumer; must not block.
type Visualizer func(values [frame.Channels]int, recording bool)

// Controller is the session state machine.
type Controller struct {
	logger *logrus.Logger
	link   LinkController
	source FrameSource
	viz    Visualizer

	mu        sync.Mutex
	state     State
	remaining int
	elapsed   int
	samples   []frame.Sample
	report    Report
	side      frame.Side
	notes     string
}

// New creates an idle controller. source may be nil when no simulator is
// available; viz may be nil when nothing displays live data.
func New(lc LinkController, source FrameSource, logger *logrus.Logger) *Controller {
	if logger == nil {
		logger = logrus.New()
	}
	return &Controller{
		logger: logger,
		link:   lc,
		source: source,
	}
}

// SetVisualizer registers the live display consumer. Call before Start.
func (c *Controller) SetVisualizer(viz Visualizer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.viz = viz
}

// SetClinicalInfo attaches the side label and free-text notes carried into
// the session report.
func (c *Controller) SetClinicalInfo(side frame.Side, notes string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.side = side
	c.notes = notes
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Remaining returns the ticks left in the window, zero when not recording.
func (c *Controller) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRecording {
		return 0
	}
	return c.remaining
}

// Elapsed returns the ticks consumed by the current window.
func (c *Controller) Elapsed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed
}

// SampleCount returns the number of samples accepted so far.
func (c *Controller) SampleCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.samples)
}

// CompletedReport returns the report of the last completed session. ok is
// false while no completed session exists.
func (c *Controller) CompletedReport() (Report, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateCompleted {
		return Report{}, false
	}
	return c.report, true
}

// Vector returns what the display should show right now: the latest live
// sample while recording, the averages once completed, zeros otherwise.
func (c *Controller) Vector() ([frame.Channels]int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vectorLocked()
}

func (c *Controller) vectorLocked() ([frame.Channels]int, bool) {
	switch c.state {
	case StateRecording:
		if n := len(c.samples); n > 0 {
			return c.samples[n-1].Values, true
		}
		return [frame.Channels]int{}, true
	case StateCompleted:
		return c.report.Summary.Averages, false
	default:
		return [frame.Channels]int{}, false
	}
}

// Start opens a measurement window of the given number of ticks (zero or
// negative selects the default). Any previous samples and averages are
// discarded, so restarting from Completed behaves exactly like starting from
// Idle. With a real link the START command is issued; in demo mode the
// simulator is armed instead.
func (c *Controller) Start(ticks int) error {
	c.mu.Lock()

	if c.state == StateRecording {
		c.mu.Unlock()
		return ErrAlreadyRecording
	}
	if c.link == nil || !c.link.IsConnected() {
		c.mu.Unlock()
		return ErrLinkDown
	}
	if ticks <= 0 {
		ticks = DefaultDurationTicks
	}

	c.state = StateRecording
	c.remaining = ticks
	c.elapsed = 0
	c.samples = nil
	c.report = Report{
		ID:        uuid.NewString(),
		Side:      c.side,
		Notes:     c.notes,
		StartedAt: time.Now(),
	}
	realLink := c.link.Status() == link.StatusConnected
	c.mu.Unlock()

	if realLink {
		if err := c.link.Write(link.CmdStart); err != nil {
			// Best effort: the window stays open, frames may still arrive.
			c.logger.WithError(err).Warn("START command failed")
			c.link.Report("START command failed: " + err.Error())
		}
	} else if c.source != nil {
		c.source.Arm()
	}

	c.logger.WithFields(logrus.Fields{
		"ticks": ticks,
		"real":  realLink,
	}).Info("Session started")
	c.link.Report("Measurement started")
	c.pushVector()
	return nil
}

// HandleSample incorporates one decoded sample. Samples arriving outside a
// recording window are dropped; a sample racing StopEarly is either fully
// counted or fully excluded, never half-applied.
func (c *Controller) HandleSample(sample frame.Sample) {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return
	}
	c.samples = append(c.samples, sample)
	c.mu.Unlock()

	c.pushVector()
}

// OnTick advances the countdown by one scheduler tick. When the window is
// exhausted the session completes with whatever was collected. Ticks outside
// a recording window are ignored.
func (c *Controller) OnTick() {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return
	}
	c.elapsed++
	c.remaining--
	if c.remaining > 0 {
		c.mu.Unlock()
		c.pushVector()
		return
	}
	c.mu.Unlock()

	c.logger.Debug("Session window elapsed")
	c.finish(false)
}

// StopEarly cancels the countdown and completes immediately with the samples
// collected so far. Safe to call at any point while recording; calling it
// outside a recording window is a no-op.
func (c *Controller) StopEarly() error {
	return c.finish(true)
}

// finish closes the window. The state transition and the reduction happen
// under one lock acquisition: the moment the lock is released the session is
// no longer StateRecording, so a concurrent finish (an early stop racing the
// final tick, or the link-lost handler racing expiry) drops out at the state
// check, and an in-flight HandleSample is either already appended or
// excluded. A stale finish can therefore never touch a window opened by a
// later Start.
func (c *Controller) finish(early bool) error {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return nil
	}

	realLink := c.link.Status() == link.StatusConnected
	empty := len(c.samples) == 0
	if empty {
		c.state = StateIdle
	} else {
		c.report.Samples = c.samples
		c.report.Summary = summarize(c.samples)
		c.report.EndedAt = time.Now()
		c.state = StateCompleted
	}
	c.remaining = 0
	count := len(c.samples)
	summary := c.report.Summary
	c.mu.Unlock()

	if realLink && early {
		if err := c.link.Write(link.CmdStop); err != nil {
			c.logger.WithError(err).Warn("STOP command failed")
			c.link.Report("STOP command failed: " + err.Error())
		}
	}
	if c.source != nil {
		c.source.Disarm()
	}

	if empty {
		c.logger.Warn("Session ended with no samples")
		c.link.Report("Measurement ended with no data")
		c.pushVector()
		return ErrEmptySession
	}

	c.logger.WithFields(logrus.Fields{
		"samples":   count,
		"max_point": summary.MaxIndex,
		"max_value": summary.MaxValue,
	}).Info("Session completed")
	c.link.Report("Measurement completed")
	c.pushVector()
	return nil
}

// pushVector delivers the current display vector to the visualizer.
func (c *Controller) pushVector() {
	c.mu.Lock()
	viz := c.viz
	values, recording := c.vectorLocked()
	c.mu.Unlock()

	if viz != nil {
		viz(values, recording)
	}
}

// summarize computes the per-channel rounded means, their overall mean, and
// the first channel holding the maximum average.
func summarize(samples []frame.Sample) Summary {
	var sums [frame.Channels]int64
	for _, s := range samples {
		for i, v := range s.Values {
			sums[i] += int64(v)
		}
	}

	var summary Summary
	n := float64(len(samples))
	total := 0
	for i, sum := range sums {
		avg := int(math.Round(float64(sum) / n))
		summary.Averages[i] = avg
		total += avg
		if avg > summary.MaxValue || i == 0 {
			summary.MaxIndex = i
			summary.MaxValue = avg
		}
	}
	summary.OverallMean = int(math.Round(float64(total) / frame.Channels))
	return summary
}
