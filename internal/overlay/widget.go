// Package overlay draws status badges onto preview frames.
package overlay

import (
	"image"
	"image/color"
	"image/draw"
)

// Widget represents a renderable overlay widget
type Widget interface {
	// ID returns the unique identifier for this widget instance
	ID() string

	// Render draws the widget onto img
	Render(img *image.RGBA) error

	// IsEnabled returns whether the widget should be rendered
	IsEnabled() bool

	// SetEnabled sets whether the widget should be rendered
	SetEnabled(enabled bool)
}

// BaseWidget provides common functionality for all widgets
type BaseWidget struct {
	id      string
	enabled bool
	x       int
	y       int
	opacity float64 // 0.0 to 1.0
}

// NewBaseWidget creates a new base widget
func NewBaseWidget(id string, x, y int, opacity float64) *BaseWidget {
	w := &BaseWidget{id: id, enabled: true, x: x, y: y}
	w.SetOpacity(opacity)
	return w
}

func (w *BaseWidget) ID() string { return w.id }

func (w *BaseWidget) IsEnabled() bool { return w.enabled }

func (w *BaseWidget) SetEnabled(enabled bool) { w.enabled = enabled }

// SetOpacity clamps opacity to [0, 1].
func (w *BaseWidget) SetOpacity(opacity float64) {
	w.opacity = min(max(opacity, 0), 1)
}

// BlendImage alpha-blends src onto dst with its top-left corner at (x, y),
// scaling the source alpha by opacity. Pixels outside dst are clipped.
func BlendImage(dst *image.RGBA, src image.Image, x, y int, opacity float64) {
	if opacity <= 0 {
		return
	}
	sb := src.Bounds()
	r := image.Rect(x, y, x+sb.Dx(), y+sb.Dy())
	mask := image.NewUniform(color.Alpha{A: uint8(opacity * 255)})
	draw.DrawMask(dst, r, src, sb.Min, mask, image.Point{}, draw.Over)
}

// DrawRectangle fills a rectangle with c at the given opacity.
func DrawRectangle(dst *image.RGBA, rect image.Rectangle, c color.Color, opacity float64) {
	if rect.Empty() || opacity <= 0 {
		return
	}
	mask := image.NewUniform(color.Alpha{A: uint8(min(opacity, 1) * 255)})
	draw.DrawMask(dst, rect, image.NewUniform(c), image.Point{}, mask, image.Point{}, draw.Over)
}
