package main

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/podotrace/podotrace/internal/frame"
)

const clearLineSequence = "\r\033[K"

// liveView redraws one status line with the countdown and the latest pressure
// vector while a session records. It stays silent when stdout is not a
// terminal so piped output only carries the final summary.
type liveView struct {
	enabled bool

	mu        sync.Mutex
	remaining int
	drawn     bool
}

func newLiveView() *liveView {
	return &liveView{
		enabled: term.IsTerminal(int(os.Stdout.Fd())),
	}
}

// update is the session visualizer: called with live values while recording
// and with the averages on completion.
func (v *liveView) update(values [frame.Channels]int, recording bool) {
	if !v.enabled || !recording {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	var cells []string
	for _, val := range values {
		cells = append(cells, fmt.Sprintf("%3d", val))
	}
	fmt.Printf("%s%s %s", clearLineSequence,
		color.CyanString("[%2ds left]", v.remaining),
		strings.Join(cells, " "))
	v.drawn = true
}

// setRemaining records the countdown value shown on the next redraw.
func (v *liveView) setRemaining(ticks int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.remaining = ticks
}

// clear erases the status line before the summary prints.
func (v *liveView) clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.enabled && v.drawn {
		fmt.Print(clearLineSequence)
		v.drawn = false
	}
}
