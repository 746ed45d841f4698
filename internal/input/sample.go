// Package input turns controller samples into save triggers.
package input

import (
	"fmt"
	"strings"
)

// DefaultThreshold is the analog value above which a trigger or grip counts as engaged.
const DefaultThreshold = 0.9

// Sample is one reading of both controllers. Analog values are in [0, 1],
// stick axes in [-1, 1].
type Sample struct {
	LeftTrigger float32 `json:"left_trigger"`
	LeftGrip    float32 `json:"left_grip"`
	LeftStickX  float32 `json:"left_stick_x"`
	LeftStickY  float32 `json:"left_stick_y"`
	LeftX       bool    `json:"left_x"`
	LeftY       bool    `json:"left_y"`
	LeftMenu    bool    `json:"left_menu"`

	RightTrigger float32 `json:"right_trigger"`
	RightGrip    float32 `json:"right_grip"`
	RightStickX  float32 `json:"right_stick_x"`
	RightStickY  float32 `json:"right_stick_y"`
	RightA       bool    `json:"right_a"`
	RightB       bool    `json:"right_b"`
}

// Combo names a button combination that requests a save.
type Combo string

const (
	LeftGripAndTrigger  Combo = "left_grip_trigger"
	RightGripAndTrigger Combo = "right_grip_trigger"
	BothGrips           Combo = "both_grips"
)

// Combos lists every supported combination.
var Combos = []Combo{LeftGripAndTrigger, RightGripAndTrigger, BothGrips}

// ParseCombo accepts the configured name of a combination.
func ParseCombo(s string) (Combo, error) {
	c := Combo(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Combos {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown trigger combo %q", s)
}

// Engaged reports whether every constituent of the combo is above threshold.
func (c Combo) Engaged(s Sample, threshold float32) bool {
	switch c {
	case LeftGripAndTrigger:
		return s.LeftGrip > threshold && s.LeftTrigger > threshold
	case RightGripAndTrigger:
		return s.RightGrip > threshold && s.RightTrigger > threshold
	case BothGrips:
		return s.LeftGrip > threshold && s.RightGrip > threshold
	default:
		return false
	}
}

func (c Combo) String() string { return string(c) }
