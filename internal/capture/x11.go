package capture

import (
	"fmt"
	"image"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"

	"github.com/bryanchriswhite/ShadowReplay/internal/frame"
	"github.com/bryanchriswhite/ShadowReplay/internal/logger"
)

// X11Source grabs a region of the X11 root window.
type X11Source struct {
	*pacer
	conn       *xgb.Conn
	root       xproto.Window
	screen     *xproto.ScreenInfo
	region     image.Rectangle
	stream     uint32
	compressor *frame.Compressor
	mu         sync.Mutex
}

// NewX11Source connects to the X server. A zero width or height captures the
// whole screen.
func NewX11Source(width, height int, rate float64, stream uint32, c *frame.Compressor) (*X11Source, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	if width <= 0 || width > int(screen.WidthInPixels) {
		width = int(screen.WidthInPixels)
	}
	if height <= 0 || height > int(screen.HeightInPixels) {
		height = int(screen.HeightInPixels)
	}
	if c == nil {
		c = frame.NewCompressor(frame.DefaultQuality)
	}

	s := &X11Source{
		conn:       conn,
		root:       screen.Root,
		screen:     screen,
		region:     image.Rect(0, 0, width, height),
		stream:     stream,
		compressor: c,
	}
	s.pacer = newPacer(s.Name(), rate, s.grab)

	logger.WithComponent("x11-source").Info().
		Int("width", width).
		Int("height", height).
		Uint8("depth", screen.RootDepth).
		Msg("Connected to X server")
	return s, nil
}

func (s *X11Source) Name() string { return "x11" }

// Close stops capture and releases the X connection.
func (s *X11Source) Close() error {
	s.Stop()
	s.conn.Close()
	return nil
}

func (s *X11Source) grab(uint64) (frame.Frame, error) {
	img, err := s.captureRegion()
	if err != nil {
		return frame.Frame{}, err
	}
	payload, err := s.compressor.Compress(img)
	if err != nil {
		return frame.Frame{}, err
	}
	return frame.New(payload, frame.Now(), s.stream, uint32(s.region.Dx()), uint32(s.region.Dy())), nil
}

func (s *X11Source) captureRegion() (*image.RGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.region
	reply, err := xproto.GetImage(
		s.conn,
		xproto.ImageFormatZPixmap,
		xproto.Drawable(s.root),
		int16(r.Min.X), int16(r.Min.Y),
		uint16(r.Dx()), uint16(r.Dy()),
		0xffffffff,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}

	depth := int(s.screen.RootDepth)
	if depth != 24 && depth != 32 {
		return nil, fmt.Errorf("unsupported root depth %d", depth)
	}
	return bgraToRGBA(reply.Data, r.Dx(), r.Dy()), nil
}

// bgraToRGBA converts a ZPixmap reply in BGRX order. Short data leaves the
// missing pixels black.
func bgraToRGBA(data []byte, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	n := min(len(data), len(img.Pix)) &^ 3
	for i := 0; i < n; i += 4 {
		img.Pix[i] = data[i+2]
		img.Pix[i+1] = data[i+1]
		img.Pix[i+2] = data[i]
		img.Pix[i+3] = 0xff
	}
	for i := n + 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	return img
}
