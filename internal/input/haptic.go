package input

import "time"

// Haptic describes a controller vibration pulse.
type Haptic struct {
	Duration  time.Duration `json:"duration"`
	Amplitude float32       `json:"amplitude"`
	Frequency float32       `json:"frequency"`
}

var (
	// HapticClick acknowledges a trigger.
	HapticClick = Haptic{Duration: 50 * time.Millisecond, Amplitude: 0.7, Frequency: 200}
	// HapticSuccess signals a saved clip.
	HapticSuccess = Haptic{Duration: 200 * time.Millisecond, Amplitude: 0.8, Frequency: 250}
	// HapticFailure signals a failed save.
	HapticFailure = Haptic{Duration: 300 * time.Millisecond, Amplitude: 1.0, Frequency: 100}
)
