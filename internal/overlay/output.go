package overlay

import (
	"github.com/bryanchriswhite/ShadowReplay/internal/frame"
	"github.com/bryanchriswhite/ShadowReplay/internal/logger"
	"github.com/bryanchriswhite/ShadowReplay/internal/output"
)

// Output stamps frames with the manager's widgets before forwarding them to
// the wrapped output. Buffered frames are never modified; only the copy
// handed to the preview carries the overlay.
type Output struct {
	output.Output
	manager *Manager
}

// Wrap decorates out with the overlay manager.
func Wrap(out output.Output, m *Manager) *Output {
	return &Output{Output: out, manager: m}
}

// WriteFrame stamps f and forwards it. A frame that cannot be stamped is
// forwarded unchanged.
func (o *Output) WriteFrame(f frame.Frame) error {
	stamped, err := o.manager.Stamp(f.Payload())
	if err != nil {
		logger.WithComponent("overlay").Debug().Err(err).Msg("Forwarding frame without overlay")
		return o.Output.WriteFrame(f)
	}
	return o.Output.WriteFrame(frame.New(stamped, f.CapturedAt(), f.StreamIndex(), f.Width(), f.Height()))
}
