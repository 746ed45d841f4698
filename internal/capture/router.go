package capture

import (
	"fmt"
	"image"
	"strings"

	"github.com/bryanchriswhite/ShadowReplay/internal/frame"
	"github.com/bryanchriswhite/ShadowReplay/internal/logger"
)

// Source kinds accepted by New.
const (
	KindPattern = "pattern"
	KindX11     = "x11"
	KindScreen  = "screen"
	KindAuto    = "auto"
)

// Kinds lists the accepted source kinds.
var Kinds = []string{KindPattern, KindX11, KindScreen, KindAuto}

// Options selects and configures a source.
type Options struct {
	Kind        string
	Width       int
	Height      int
	Rate        float64
	StreamIndex uint32
	Quality     int
}

// New builds the source named by opts.Kind. KindAuto prefers the X server
// and falls back to the pattern generator when no display is reachable.
func New(opts Options) (Source, error) {
	log := logger.WithComponent("capture-router")
	c := frame.NewCompressor(opts.Quality)

	switch strings.ToLower(opts.Kind) {
	case KindPattern, "":
		return NewPatternSource(opts.Width, opts.Height, opts.Rate, opts.StreamIndex, c), nil
	case KindX11:
		return NewX11Source(opts.Width, opts.Height, opts.Rate, opts.StreamIndex, c)
	case KindScreen:
		var region image.Rectangle
		if opts.Width > 0 && opts.Height > 0 {
			region = image.Rect(0, 0, opts.Width, opts.Height)
		}
		return NewScreenSource(region, opts.Rate, opts.StreamIndex, c), nil
	case KindAuto:
		src, err := NewX11Source(opts.Width, opts.Height, opts.Rate, opts.StreamIndex, c)
		if err == nil {
			log.Info().Msg("Using X11 capture source")
			return src, nil
		}
		log.Warn().Err(err).Msg("X11 capture not available, using pattern source")
		return NewPatternSource(opts.Width, opts.Height, opts.Rate, opts.StreamIndex, c), nil
	default:
		return nil, fmt.Errorf("unknown capture source %q", opts.Kind)
	}
}
