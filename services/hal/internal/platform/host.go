//go:build !rp2040 && !rp2350

package platform

import (
	"runtime"
	"runtime/debug"
	"time"
)

// SpinDelay busy-waits on the monotonic clock. time.Sleep is far too coarse
// for microsecond pulses on a general-purpose OS.
type SpinDelay struct{}

func (SpinDelay) Delay(d time.Duration) {
	if d <= 0 {
		return
	}
	start := time.Now()
	for time.Since(start) < d {
	}
}

// GCInterrupts approximates masking interrupts on a hosted OS: it pins the
// reading goroutine to its thread and suspends the garbage collector.
// Disable and Enable must be called from the same goroutine.
type GCInterrupts struct {
	depth int
	gc    int
}

func (g *GCInterrupts) DisableInterrupts() {
	g.depth++
	if g.depth > 1 {
		return
	}
	runtime.LockOSThread()
	g.gc = debug.SetGCPercent(-1)
}

func (g *GCInterrupts) EnableInterrupts() {
	if g.depth == 0 {
		return
	}
	g.depth--
	if g.depth > 0 {
		return
	}
	debug.SetGCPercent(g.gc)
	runtime.UnlockOSThread()
}
