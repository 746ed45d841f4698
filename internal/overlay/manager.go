package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"sync"

	"github.com/bryanchriswhite/ShadowReplay/internal/logger"
)

// Manager handles overlay widgets and rendering. Widgets render in the
// order they were added.
type Manager struct {
	widgets []Widget
	mu      sync.RWMutex
	enabled bool
	quality int
}

// NewManager creates an overlay manager that re-encodes stamped frames at
// the given JPEG quality.
func NewManager(quality int) *Manager {
	if quality < 1 || quality > 100 {
		quality = 75
	}
	return &Manager{enabled: true, quality: quality}
}

// AddWidget adds a widget to the overlay
func (m *Manager) AddWidget(widget Widget) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range m.widgets {
		if w.ID() == widget.ID() {
			return fmt.Errorf("widget with ID %s already exists", widget.ID())
		}
	}
	m.widgets = append(m.widgets, widget)
	logger.WithComponent("overlay").Debug().Str("widget", widget.ID()).Msg("Widget added")
	return nil
}

// RemoveWidget removes a widget from the overlay
func (m *Manager) RemoveWidget(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, w := range m.widgets {
		if w.ID() == id {
			m.widgets = append(m.widgets[:i], m.widgets[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("widget with ID %s not found", id)
}

// SetEnabled enables or disables the entire overlay
func (m *Manager) SetEnabled(enabled bool) {
	m.mu.Lock()
	m.enabled = enabled
	m.mu.Unlock()
}

// IsEnabled returns whether the overlay is enabled
func (m *Manager) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled && len(m.widgets) > 0
}

// Render renders all enabled widgets onto img
func (m *Manager) Render(img *image.RGBA) {
	m.mu.RLock()
	widgets := append([]Widget(nil), m.widgets...)
	m.mu.RUnlock()

	for _, widget := range widgets {
		if !widget.IsEnabled() {
			continue
		}
		if err := widget.Render(img); err != nil {
			logger.WithComponent("overlay").Debug().Err(err).Str("widget", widget.ID()).Msg("Widget render failed")
		}
	}
}

// Stamp decodes a JPEG frame, renders the widgets onto it and re-encodes
// it. The input is returned unchanged when the overlay is disabled.
func (m *Manager) Stamp(jpegData []byte) ([]byte, error) {
	if !m.IsEnabled() {
		return jpegData, nil
	}

	src, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	img := image.NewRGBA(src.Bounds())
	draw.Draw(img, img.Bounds(), src, src.Bounds().Min, draw.Src)

	m.Render(img)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: m.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
