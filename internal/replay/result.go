package replay

import (
	"time"

	"github.com/bryanchriswhite/ShadowReplay/internal/clipstore"
	"github.com/bryanchriswhite/ShadowReplay/internal/input"
)

// SaveResult is the outcome of one save request.
type SaveResult struct {
	ID         string          `json:"id"`
	Success    bool            `json:"success"`
	Clip       *clipstore.Info `json:"clip,omitempty"`
	Frames     int             `json:"frames"`
	Error      string          `json:"error,omitempty"`
	Err        error           `json:"-"`
	Haptic     input.Haptic    `json:"haptic"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// PendingSave describes a save that was queued.
type PendingSave struct {
	ID     string `json:"id"`
	Frames int    `json:"frames"`
}

// Elapsed is the time spent encoding.
func (r SaveResult) Elapsed() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Stats are the orchestrator's running counters.
type Stats struct {
	FramesReceived uint64 `json:"frames_received"`
	ClipsSaved     uint64 `json:"clips_saved"`
	SaveErrors     uint64 `json:"save_errors"`
}

// Status is a point-in-time view for status endpoints.
type Status struct {
	Recording  bool    `json:"recording"`
	Source     string  `json:"source,omitempty"`
	Saving     bool    `json:"saving"`
	BufferFill float32 `json:"buffer_fill"`
	FrameCount int     `json:"frame_count"`
	Capacity   int     `json:"capacity"`
	Stats      Stats   `json:"stats"`
}
