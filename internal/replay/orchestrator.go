// Package replay ties the frame window, trigger detector and clip store
// together: frames stream in continuously and a trigger saves the window
// without stalling capture.
package replay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bryanchriswhite/ShadowReplay/internal/buffer"
	"github.com/bryanchriswhite/ShadowReplay/internal/capture"
	"github.com/bryanchriswhite/ShadowReplay/internal/clipstore"
	"github.com/bryanchriswhite/ShadowReplay/internal/frame"
	"github.com/bryanchriswhite/ShadowReplay/internal/input"
	"github.com/bryanchriswhite/ShadowReplay/internal/logger"
)

// shutdownPoll is how often Shutdown checks for an in-flight save.
const shutdownPoll = 50 * time.Millisecond

// ClearPolicy controls what happens to the window after a successful save.
type ClearPolicy string

const (
	// ClearNone keeps the window; old frames leave by eviction only.
	ClearNone ClearPolicy = "none"
	// ClearSnapshot drops the saved frames and keeps anything newer.
	ClearSnapshot ClearPolicy = "snapshot"
	// ClearAll empties the window.
	ClearAll ClearPolicy = "all"
)

// ParseClearPolicy accepts a configured policy name.
func ParseClearPolicy(s string) (ClearPolicy, error) {
	switch p := ClearPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case ClearNone, ClearSnapshot, ClearAll:
		return p, nil
	case "":
		return ClearSnapshot, nil
	default:
		return "", fmt.Errorf("unknown clear policy %q", s)
	}
}

// Saver persists a snapshot. clipstore.Store implements it.
type Saver interface {
	Save(frames []frame.Frame, rate, bitrate uint32, saveID string) (clipstore.Info, error)
}

// Config holds the orchestrator settings.
type Config struct {
	Capacity    int
	Rate        uint32
	Bitrate     uint32
	Combo       input.Combo
	Threshold   float32
	Cooldown    time.Duration
	ClearPolicy ClearPolicy
}

func (c Config) validate() error {
	var errs []error
	if c.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("capacity must be positive, got %d", c.Capacity))
	}
	if c.Rate == 0 {
		errs = append(errs, errors.New("rate must be positive"))
	}
	if _, err := input.ParseCombo(string(c.Combo)); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseClearPolicy(string(c.ClearPolicy)); err != nil {
		errs = append(errs, err)
	}
	if c.Cooldown < 0 {
		errs = append(errs, errors.New("cooldown must not be negative"))
	}
	return errors.Join(errs...)
}

type saveJob struct {
	id          string
	frames      []frame.Frame
	mark        buffer.Mark
	requestedAt time.Time
}

// Orchestrator owns the replay window and runs saves on a single worker
// goroutine. At most one save is in flight at any time.
type Orchestrator struct {
	cfg      Config
	window   *buffer.Window
	detector *input.Detector
	saver    Saver
	now      func() time.Time

	saving atomic.Bool
	closed atomic.Bool

	framesReceived atomic.Uint64
	clipsSaved     atomic.Uint64
	saveErrors     atomic.Uint64

	jobs     chan saveJob
	quit     chan struct{}
	quitOnce sync.Once
	workerWG sync.WaitGroup

	mu        sync.RWMutex
	listeners []chan SaveResult
	hooks     []func(SaveResult)
	last      *SaveResult
	source    capture.Source
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces time.Now for result timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithDetector replaces the detector built from Config.
func WithDetector(d *input.Detector) Option {
	return func(o *Orchestrator) { o.detector = d }
}

// New validates cfg and starts the save worker.
func New(cfg Config, saver Saver, opts ...Option) (*Orchestrator, error) {
	if cfg.ClearPolicy == "" {
		cfg.ClearPolicy = ClearSnapshot
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = input.DefaultThreshold
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid replay config: %w", err)
	}
	if saver == nil {
		return nil, errors.New("invalid replay config: saver is required")
	}

	o := &Orchestrator{
		cfg:    cfg,
		window: buffer.NewWindow(cfg.Capacity),
		saver:  saver,
		now:    time.Now,
		jobs:   make(chan saveJob, 1),
		quit:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.detector == nil {
		o.detector = input.NewDetector(cfg.Combo,
			input.WithThreshold(cfg.Threshold),
			input.WithCooldown(cfg.Cooldown),
		)
	}

	o.workerWG.Add(1)
	go o.worker()

	logger.WithComponent("replay").Info().
		Int("capacity", cfg.Capacity).
		Uint32("rate", cfg.Rate).
		Str("combo", string(cfg.Combo)).
		Str("clear_policy", string(cfg.ClearPolicy)).
		Msg("Replay orchestrator started")
	return o, nil
}

// OnFrameCaptured records a frame and, when no save is running, checks the
// trigger against the latest input sample.
func (o *Orchestrator) OnFrameCaptured(f frame.Frame) {
	o.window.Push(f)
	o.framesReceived.Add(1)

	if o.saving.Load() {
		return
	}
	if o.detector.Check() {
		o.RequestSave()
	}
}

// UpdateInput stores the latest controller sample for the next trigger check.
func (o *Orchestrator) UpdateInput(s input.Sample) {
	o.detector.Update(s)
}

// RequestSave snapshots the window and queues it for encoding. It returns
// false when a save is already in flight or the orchestrator is shut down.
// It never waits for the encode.
func (o *Orchestrator) RequestSave() bool {
	_, ok := o.StartSave()
	return ok
}

// StartSave is RequestSave that also reports the queued save.
func (o *Orchestrator) StartSave() (PendingSave, bool) {
	if !o.saving.CompareAndSwap(false, true) {
		logger.WithComponent("replay").Debug().Msg("Save already in progress, request ignored")
		return PendingSave{}, false
	}
	// Shutdown sets closed before it polls saving, so a claim that sees
	// closed unset here is always waited for.
	if o.closed.Load() {
		o.saving.Store(false)
		return PendingSave{}, false
	}

	frames, mark := o.window.SnapshotMarked()
	job := saveJob{
		id:          uuid.NewString(),
		frames:      frames,
		mark:        mark,
		requestedAt: o.now(),
	}

	logger.WithComponent("replay").Info().
		Str("save_id", job.id).
		Int("frames", len(frames)).
		Msg("Save requested")

	// the saving flag admits one job at a time, so the buffered send never blocks
	o.jobs <- job
	return PendingSave{ID: job.id, Frames: len(frames)}, true
}

func (o *Orchestrator) worker() {
	defer o.workerWG.Done()
	for {
		select {
		case <-o.quit:
			return
		case job := <-o.jobs:
			o.runSave(job)
		}
	}
}

func (o *Orchestrator) runSave(job saveJob) {
	log := logger.WithComponent("replay")

	result := SaveResult{
		ID:        job.id,
		Frames:    len(job.frames),
		StartedAt: job.requestedAt,
	}

	info, err := o.saver.Save(job.frames, o.cfg.Rate, o.cfg.Bitrate, job.id)
	result.FinishedAt = o.now()
	if err != nil {
		o.saveErrors.Add(1)
		result.Err = err
		result.Error = err.Error()
		result.Haptic = input.HapticFailure
		log.Error().Err(err).Str("save_id", job.id).Msg("Save failed")
	} else {
		o.clipsSaved.Add(1)
		result.Success = true
		result.Clip = &info
		result.Haptic = input.HapticSuccess
		o.applyClearPolicy(job.mark)
		log.Info().
			Str("save_id", job.id).
			Str("clip", info.ID).
			Dur("elapsed", result.Elapsed()).
			Msg("Save complete")
	}

	o.mu.Lock()
	o.last = &result
	o.mu.Unlock()

	o.saving.Store(false)
	o.notify(result)
}

func (o *Orchestrator) applyClearPolicy(mark buffer.Mark) {
	switch o.cfg.ClearPolicy {
	case ClearAll:
		o.window.Clear()
	case ClearSnapshot:
		n := o.window.DiscardThrough(mark)
		logger.WithComponent("replay").Debug().Int("discarded", n).Msg("Saved frames discarded")
	}
}

// IsSaving reports whether a save is in flight.
func (o *Orchestrator) IsSaving() bool { return o.saving.Load() }

// BufferFill is the window occupancy in [0, 1].
func (o *Orchestrator) BufferFill() float32 { return o.window.FillPercentage() }

func (o *Orchestrator) BufferFrameCount() int { return o.window.FrameCount() }

func (o *Orchestrator) BufferCapacity() int { return o.window.Capacity() }

// Window exposes the replay window to read-only consumers such as the preview stream.
func (o *Orchestrator) Window() *buffer.Window { return o.window }

func (o *Orchestrator) Detector() *input.Detector { return o.detector }

// Stats returns a copy of the counters.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		FramesReceived: o.framesReceived.Load(),
		ClipsSaved:     o.clipsSaved.Load(),
		SaveErrors:     o.saveErrors.Load(),
	}
}

// LastResult returns the most recent save outcome, if any.
func (o *Orchestrator) LastResult() (SaveResult, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.last == nil {
		return SaveResult{}, false
	}
	return *o.last, true
}

// Status gathers the current state.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	src := o.source
	o.mu.RUnlock()

	st := Status{
		Saving:     o.IsSaving(),
		BufferFill: o.BufferFill(),
		FrameCount: o.BufferFrameCount(),
		Capacity:   o.BufferCapacity(),
		Stats:      o.Stats(),
	}
	if src != nil {
		st.Recording = src.IsActive()
		st.Source = src.Name()
	}
	return st
}

// StartCapture starts src feeding this orchestrator. Only one source is
// attached at a time.
func (o *Orchestrator) StartCapture(src capture.Source) error {
	if o.closed.Load() {
		return errors.New("replay: orchestrator is shut down")
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.source != nil && o.source.IsActive() {
		return capture.ErrAlreadyRunning
	}
	if err := src.Start(o.OnFrameCaptured); err != nil {
		return err
	}
	o.source = src
	return nil
}

// StopCapture stops the attached source, if any.
func (o *Orchestrator) StopCapture() {
	o.mu.RLock()
	src := o.source
	o.mu.RUnlock()
	if src != nil {
		src.Stop()
	}
}

// Reconfigure updates the trigger settings at runtime.
func (o *Orchestrator) Reconfigure(combo input.Combo, threshold float32, cooldown time.Duration) {
	o.detector.SetCombo(combo)
	o.detector.SetThreshold(threshold)
	o.detector.SetCooldown(cooldown)
	logger.WithComponent("replay").Info().
		Str("combo", string(combo)).
		Dur("cooldown", cooldown).
		Msg("Trigger reconfigured")
}

// Shutdown stops capture, waits for an in-flight save and stops the worker.
// It returns ctx.Err() when the context ends before the save finishes.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.closed.Store(true)
	o.StopCapture()

	ticker := time.NewTicker(shutdownPoll)
	defer ticker.Stop()
	for o.saving.Load() {
		select {
		case <-ctx.Done():
			logger.WithComponent("replay").Warn().Msg("Shutdown interrupted while a save was in progress")
			return ctx.Err()
		case <-ticker.C:
		}
	}

	o.quitOnce.Do(func() { close(o.quit) })
	o.workerWG.Wait()

	st := o.Stats()
	logger.WithComponent("replay").Info().
		Uint64("frames_received", st.FramesReceived).
		Uint64("clips_saved", st.ClipsSaved).
		Uint64("save_errors", st.SaveErrors).
		Msg("Replay orchestrator stopped")
	return nil
}
