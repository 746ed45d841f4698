// Package capture provides frame sources that feed the replay window at a
// fixed rate.
package capture

import (
	"errors"

	"github.com/bryanchriswhite/ShadowReplay/internal/frame"
)

// ErrAlreadyRunning is returned by Start on an active source.
var ErrAlreadyRunning = errors.New("capture: source already running")

// FrameHandler receives each captured frame on the source's goroutine.
// It must not block for long.
type FrameHandler func(frame.Frame)

// Source produces frames at a paced rate until stopped.
type Source interface {
	// Start begins delivering frames to onFrame from a background goroutine.
	Start(onFrame FrameHandler) error

	// Stop asks the loop to exit. It is safe to call more than once and
	// returns once the loop has exited or a bounded wait has elapsed.
	Stop()

	// IsActive reports whether the loop is running.
	IsActive() bool

	// Name returns a human-readable name for this source
	Name() string
}

// Stats counts loop outcomes for a source.
type Stats struct {
	Captured uint64 `json:"captured"`
	Skipped  uint64 `json:"skipped"`
}

// StatsReporter is implemented by sources that expose loop counters.
type StatsReporter interface {
	Stats() Stats
}
