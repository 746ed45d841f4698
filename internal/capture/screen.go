package capture

import (
	"image"

	"github.com/vova616/screenshot"

	"github.com/bryanchriswhite/ShadowReplay/internal/frame"
)

// ScreenSource grabs the primary monitor, or a rectangle of it, through the
// portable screenshot package.
type ScreenSource struct {
	*pacer
	region     image.Rectangle // empty means full screen
	stream     uint32
	compressor *frame.Compressor
}

func NewScreenSource(region image.Rectangle, rate float64, stream uint32, c *frame.Compressor) *ScreenSource {
	if c == nil {
		c = frame.NewCompressor(frame.DefaultQuality)
	}
	s := &ScreenSource{region: region, stream: stream, compressor: c}
	s.pacer = newPacer(s.Name(), rate, s.grab)
	return s
}

func (s *ScreenSource) Name() string { return "screen" }

func (s *ScreenSource) grab(uint64) (frame.Frame, error) {
	var (
		img *image.RGBA
		err error
	)
	if s.region.Empty() {
		img, err = screenshot.CaptureScreen()
	} else {
		img, err = screenshot.CaptureRect(s.region)
	}
	if err != nil {
		return frame.Frame{}, err
	}

	payload, err := s.compressor.Compress(img)
	if err != nil {
		return frame.Frame{}, err
	}
	b := img.Bounds()
	return frame.New(payload, frame.Now(), s.stream, uint32(b.Dx()), uint32(b.Dy())), nil
}
