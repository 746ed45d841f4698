package capture

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/ShadowReplay/internal/frame"
	"github.com/bryanchriswhite/ShadowReplay/internal/logger"
)

// grabFunc acquires frame number index. An error skips that frame.
type grabFunc func(index uint64) (frame.Frame, error)

// pacer runs the capture loop shared by every source. Frame i is due at
// start + i*interval, so a slow grab delays one frame instead of shifting
// every later deadline.
type pacer struct {
	name     string
	interval time.Duration
	grab     grabFunc

	mu   sync.Mutex
	stop chan struct{} // per run, closed by Stop
	done chan struct{} // per run, closed when the loop exits

	active   atomic.Bool
	captured atomic.Uint64
	skipped  atomic.Uint64
}

func newPacer(name string, rate float64, grab grabFunc) *pacer {
	if rate <= 0 {
		rate = 30
	}
	return &pacer{
		name:     name,
		interval: time.Duration(float64(time.Second) / rate),
		grab:     grab,
	}
}

func (p *pacer) Start(onFrame FrameHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active.Load() {
		return ErrAlreadyRunning
	}

	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	p.active.Store(true)

	logger.WithComponent("capture").Info().
		Str("source", p.name).
		Dur("interval", p.interval).
		Msg("Capture started")

	go p.run(p.stop, p.done, onFrame)
	return nil
}

func (p *pacer) run(stop, done chan struct{}, onFrame FrameHandler) {
	defer func() {
		p.mu.Lock()
		// a timed-out Stop may already have started a newer run
		if p.done == done {
			p.active.Store(false)
		}
		p.mu.Unlock()
		close(done)
	}()

	log := logger.WithComponent("capture")
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	start := time.Now()
	for i := uint64(0); ; i++ {
		deadline := start.Add(time.Duration(i) * p.interval)
		if wait := time.Until(deadline); wait > 0 {
			timer.Reset(wait)
			select {
			case <-stop:
				return
			case <-timer.C:
			}
		} else {
			select {
			case <-stop:
				return
			default:
			}
		}

		f, err := p.grab(i)
		if err != nil {
			n := p.skipped.Add(1)
			// first failure and then every 100th, the loop may fail at frame rate
			if n == 1 || n%100 == 0 {
				log.Warn().
					Err(err).
					Str("source", p.name).
					Uint64("skipped", n).
					Msg("Frame acquisition failed")
			}
			continue
		}
		p.captured.Add(1)
		onFrame(f)
	}
}

func (p *pacer) Stop() {
	p.mu.Lock()
	stop, done := p.stop, p.done
	if stop != nil {
		select {
		case <-stop:
		default:
			close(stop)
		}
	}
	p.mu.Unlock()

	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(p.interval + time.Second):
		logger.WithComponent("capture").Warn().
			Str("source", p.name).
			Msg("Capture loop did not exit in time")
	}
	p.active.Store(false)

	logger.WithComponent("capture").Info().
		Str("source", p.name).
		Uint64("captured", p.captured.Load()).
		Uint64("skipped", p.skipped.Load()).
		Msg("Capture stopped")
}

func (p *pacer) IsActive() bool { return p.active.Load() }

func (p *pacer) Stats() Stats {
	return Stats{Captured: p.captured.Load(), Skipped: p.skipped.Load()}
}
