package overlay

import (
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// lineHeight is the pixel height of basicfont.Face7x13.
const lineHeight = 13

// TextFunc supplies the text for each rendered frame.
type TextFunc func() (text string, c color.RGBA)

// TextWidget draws a single line of text on an optional background box.
type TextWidget struct {
	*BaseWidget
	text    TextFunc
	bgColor *color.RGBA
	padding int
}

// NewTextWidget creates a text widget at (x, y). text is evaluated on every
// Render; an empty string draws nothing.
func NewTextWidget(id string, x, y int, text TextFunc) *TextWidget {
	bg := color.RGBA{0, 0, 0, 255}
	return &TextWidget{
		BaseWidget: NewBaseWidget(id, x, y, 0.85),
		text:       text,
		bgColor:    &bg,
		padding:    4,
	}
}

// SetBackground sets the background color (nil for transparent)
func (w *TextWidget) SetBackground(c *color.RGBA) {
	w.bgColor = c
}

// StaticText returns a TextFunc that always yields s in c.
func StaticText(s string, c color.RGBA) TextFunc {
	return func() (string, color.RGBA) { return s, c }
}

// Render draws the text widget
func (w *TextWidget) Render(img *image.RGBA) error {
	if !w.IsEnabled() || w.text == nil {
		return nil
	}
	text, fg := w.text()
	if text == "" {
		return nil
	}

	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()

	if w.bgColor != nil {
		box := image.Rect(w.x, w.y, w.x+width+w.padding*2, w.y+lineHeight+w.padding*2)
		DrawRectangle(img, box, *w.bgColor, w.opacity)
	}

	textImg := image.NewRGBA(image.Rect(0, 0, width, lineHeight))
	d := &font.Drawer{
		Dst:  textImg,
		Src:  image.NewUniform(fg),
		Face: face,
		Dot:  fixed.Point26_6{X: 0, Y: fixed.I(face.Ascent)},
	}
	d.DrawString(text)

	BlendImage(img, textImg, w.x+w.padding, w.y+w.padding, 1)
	return nil
}
