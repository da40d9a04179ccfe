// Package lifecycle tracks where the process is in its life: starting up, serving, or
// draining after a shutdown signal. The health handler reports it.
package lifecycle

import "sync/atomic"

// Phase is the process phase.
type Phase int32

const (
	Starting Phase = iota
	Serving
	ShuttingDown
)

func (p Phase) String() string {
	switch p {
	case Starting:
		return "starting"
	case Serving:
		return "serving"
	case ShuttingDown:
		return "shutting-down"
	default:
		return "unknown"
	}
}

var current atomic.Int32

// Set moves the process to p. ShuttingDown is sticky: later calls other than Reset are ignored.
func Set(p Phase) {
	for {
		old := current.Load()
		if Phase(old) == ShuttingDown {
			return
		}
		if current.CompareAndSwap(old, int32(p)) {
			return
		}
	}
}

// Current returns the process phase.
func Current() Phase {
	return Phase(current.Load())
}

// IsShuttingDown reports whether the process is draining and should not take new searches.
func IsShuttingDown() bool {
	return Current() == ShuttingDown
}

// Reset returns to Starting. Tests only.
func Reset() {
	current.Store(int32(Starting))
}
