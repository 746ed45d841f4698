package capture

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/bryanchriswhite/ShadowReplay/internal/frame"
)

// PatternSource generates synthetic frames whose content depends only on
// the frame index. It needs no display and backs tests and demos.
type PatternSource struct {
	*pacer
	width      int
	height     int
	stream     uint32
	compressor *frame.Compressor
}

// NewPatternSource returns a generator producing width x height frames at rate fps.
func NewPatternSource(width, height int, rate float64, stream uint32, c *frame.Compressor) *PatternSource {
	if c == nil {
		c = frame.NewCompressor(frame.DefaultQuality)
	}
	s := &PatternSource{
		width:      width,
		height:     height,
		stream:     stream,
		compressor: c,
	}
	s.pacer = newPacer(s.Name(), rate, s.grab)
	return s
}

func (s *PatternSource) Name() string { return "pattern" }

func (s *PatternSource) grab(index uint64) (frame.Frame, error) {
	payload, err := s.compressor.Compress(RenderPattern(index, s.width, s.height))
	if err != nil {
		return frame.Frame{}, err
	}
	return frame.New(payload, frame.Now(), s.stream, uint32(s.width), uint32(s.height)), nil
}

// RenderPattern draws frame index: a diagonal gradient that scrolls one step
// per frame with the frame number printed in the corner.
func RenderPattern(index uint64, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	shift := int(index % 256)
	for y := 0; y < height; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < width; x++ {
			i := x * 4
			row[i] = uint8((x + shift) & 0xff)
			row[i+1] = uint8((y + 2*shift) & 0xff)
			row[i+2] = uint8((x + y + 3*shift) & 0xff)
			row[i+3] = 0xff
		}
	}

	label := fmt.Sprintf("#%d", index)
	face := basicfont.Face7x13
	d := &font.Drawer{Face: face}
	labelWidth := d.MeasureString(label).Ceil()
	bg := image.Rect(0, 0, min(labelWidth+4, width), min(face.Height+2, height))
	draw.Draw(img, bg, image.NewUniform(color.Black), image.Point{}, draw.Src)

	d.Dst = img
	d.Src = image.NewUniform(color.White)
	d.Dot = fixed.Point26_6{X: fixed.I(2), Y: fixed.I(face.Ascent + 1)}
	d.DrawString(label)
	return img
}
