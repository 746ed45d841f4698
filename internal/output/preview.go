package output

import (
	"context"
	"time"

	"github.com/bryanchriswhite/ShadowReplay/internal/frame"
	"github.com/bryanchriswhite/ShadowReplay/internal/logger"
)

// DefaultPreviewFPS caps the preview well below capture rate.
const DefaultPreviewFPS = 15

// NewestSource yields the most recent captured frame. buffer.Window
// implements it.
type NewestSource interface {
	Newest() (frame.Frame, bool)
}

// Pump forwards the newest frame from src to out at fps until ctx ends.
// A frame is written once even if it is still the newest on the next tick.
func Pump(ctx context.Context, src NewestSource, out Output, fps int) {
	if fps <= 0 {
		fps = DefaultPreviewFPS
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	log := logger.WithComponent("preview")
	log.Debug().Int("fps", fps).Str("output", out.Name()).Msg("Preview pump started")

	var (
		lastTS uint64
		sent   bool
	)
	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("Preview pump stopped")
			return
		case <-ticker.C:
			f, ok := src.Newest()
			if !ok || (sent && f.CapturedAt() == lastTS) {
				continue
			}
			if err := out.WriteFrame(f); err != nil {
				continue
			}
			lastTS, sent = f.CapturedAt(), true
		}
	}
}
