package overlay

import (
	"fmt"
	"image/color"

	"github.com/bryanchriswhite/ShadowReplay/internal/replay"
)

var (
	recColor    = color.RGBA{255, 64, 64, 255}
	savingColor = color.RGBA{255, 200, 0, 255}
	idleColor   = color.RGBA{160, 160, 160, 255}
)

// StatusText renders a replay status as a short badge label.
func StatusText(s replay.Status) (string, color.RGBA) {
	switch {
	case s.Saving:
		return "SAVING", savingColor
	case s.Recording:
		return fmt.Sprintf("REC %d%%", int(s.BufferFill*100+0.5)), recColor
	default:
		return "IDLE", idleColor
	}
}

// NewStatusBadge creates a badge in the top-left corner driven by status.
func NewStatusBadge(status func() replay.Status) *TextWidget {
	return NewTextWidget("status", 8, 8, func() (string, color.RGBA) {
		return StatusText(status())
	})
}
