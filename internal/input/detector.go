package input

import (
	"sync"
	"time"

	"github.com/bryanchriswhite/ShadowReplay/internal/logger"
)

// DefaultCooldown is the minimum spacing between two emitted triggers.
const DefaultCooldown = 500 * time.Millisecond

// Detector emits one event per press of its combo. An event fires only on
// the released-to-held transition, and a transition closer than the cooldown
// to the previous event is suppressed without blocking the state change.
type Detector struct {
	mu          sync.Mutex
	combo       Combo
	threshold   float32
	cooldown    time.Duration
	lastTrigger time.Time // zero when nothing was emitted yet
	held        bool
	latest      Sample
	now         func() time.Time
}

// Option configures a Detector.
type Option func(*Detector)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// WithThreshold sets the analog engage threshold.
func WithThreshold(threshold float32) Option {
	return func(d *Detector) { d.threshold = threshold }
}

// WithCooldown sets the debounce window.
func WithCooldown(cooldown time.Duration) Option {
	return func(d *Detector) { d.cooldown = cooldown }
}

func NewDetector(combo Combo, opts ...Option) *Detector {
	d := &Detector{
		combo:     combo,
		threshold: DefaultThreshold,
		cooldown:  DefaultCooldown,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Update stores the newest sample. It does not evaluate the combo.
func (d *Detector) Update(s Sample) {
	d.mu.Lock()
	d.latest = s
	d.mu.Unlock()
}

// Check evaluates the latest sample and reports whether a save should start.
func (d *Detector) Check() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	engaged := d.combo.Engaged(d.latest, d.threshold)
	rising := engaged && !d.held
	d.held = engaged
	if !rising {
		return false
	}

	now := d.now()
	if !d.lastTrigger.IsZero() && now.Sub(d.lastTrigger) < d.cooldown {
		logger.WithComponent("input").Debug().
			Str("combo", d.combo.String()).
			Dur("since_last", now.Sub(d.lastTrigger)).
			Msg("Save trigger debounced")
		return false
	}

	d.lastTrigger = now
	logger.WithComponent("input").Info().
		Str("combo", d.combo.String()).
		Msg("Save triggered")
	return true
}

// IsHeld reports whether the combo was engaged at the last Check.
func (d *Detector) IsHeld() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.held
}

// Latest returns the most recent sample.
func (d *Detector) Latest() Sample {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.latest
}

func (d *Detector) Combo() Combo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.combo
}

// SetCombo switches the combination. The held state is reset so the new
// combo must be pressed from released to fire.
func (d *Detector) SetCombo(c Combo) {
	d.mu.Lock()
	d.combo = c
	d.held = c.Engaged(d.latest, d.threshold)
	d.mu.Unlock()
}

func (d *Detector) SetCooldown(cooldown time.Duration) {
	d.mu.Lock()
	d.cooldown = cooldown
	d.mu.Unlock()
}

func (d *Detector) SetThreshold(threshold float32) {
	d.mu.Lock()
	d.threshold = threshold
	d.mu.Unlock()
}
