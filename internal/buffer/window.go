package buffer

import (
	"sync"

	"github.com/bryanchriswhite/ShadowReplay/internal/frame"
	"github.com/bryanchriswhite/ShadowReplay/internal/logger"
)

// Mark identifies the position of a snapshot in the push sequence.
type Mark uint64

// Window is the shared replay window. The capture side pushes frames while
// readers take chronological snapshots. Pushes hold the write lock only for
// the ring update, so the producer is never held up by a save.
type Window struct {
	mu     sync.RWMutex
	ring   *Ring[frame.Frame]
	pushed uint64 // total frames ever pushed
}

// NewWindow creates a window retaining at most capacity frames.
func NewWindow(capacity int) *Window {
	w := &Window{ring: NewRing[frame.Frame](capacity)}
	logger.WithComponent("buffer").Info().
		Int("capacity", capacity).
		Msg("Replay window created")
	return w
}

// Push appends a frame, evicting the oldest when full.
func (w *Window) Push(f frame.Frame) {
	w.mu.Lock()
	w.ring.Push(f)
	w.pushed++
	w.mu.Unlock()
}

// Snapshot returns a copy of the retained frames, oldest first.
// The window is not modified.
func (w *Window) Snapshot() []frame.Frame {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ring.Slice()
}

// SnapshotMarked is Snapshot plus a mark that DiscardThrough can use to drop
// exactly the frames that were part of this snapshot.
func (w *Window) SnapshotMarked() ([]frame.Frame, Mark) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ring.Slice(), Mark(w.pushed)
}

// DiscardThrough removes frames pushed at or before mark that are still
// retained. Frames pushed after the mark stay. It returns the number removed.
func (w *Window) DiscardThrough(m Mark) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	oldest := w.pushed - uint64(w.ring.Len())
	if uint64(m) <= oldest {
		return 0
	}
	return w.ring.DropOldest(int(uint64(m) - oldest))
}

// Newest returns the most recent frame, if any.
func (w *Window) Newest() (frame.Frame, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ring.PeekNewest()
}

// Clear empties the window without changing its capacity.
func (w *Window) Clear() {
	w.mu.Lock()
	w.ring.Clear()
	w.mu.Unlock()
}

// FillPercentage reports occupancy as a fraction in [0, 1].
func (w *Window) FillPercentage() float32 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return float32(w.ring.Len()) / float32(w.ring.Capacity())
}

func (w *Window) FrameCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ring.Len()
}

func (w *Window) Capacity() int {
	// capacity is fixed at construction
	return w.ring.Capacity()
}

// TotalPushed is the number of frames pushed since creation.
func (w *Window) TotalPushed() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.pushed
}
