// Package output publishes live frames from the replay window to viewers.
package output

import (
	"github.com/bryanchriswhite/ShadowReplay/internal/frame"
)

// Output defines the interface for frame output mechanisms.
// Frames arrive already JPEG-compressed.
type Output interface {
	// Start initializes the output mechanism
	Start() error

	// Stop cleanly shuts down the output
	Stop() error

	// WriteFrame sends a frame to the output
	WriteFrame(f frame.Frame) error

	// Name returns a human-readable name for this output type
	Name() string

	// IsRunning returns true if the output is currently active
	IsRunning() bool
}

// Config holds common configuration for all output types
type Config struct {
	Width  int
	Height int
	FPS    int
}
