package clip

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bryanchriswhite/ShadowReplay/internal/frame"
)

// Clip is a fully parsed container.
type Clip struct {
	Header Header
	Frames []frame.Frame
}

// FrameCount returns the number of frames in the clip.
func (c *Clip) FrameCount() int { return len(c.Frames) }

// Dimensions returns the header width and height.
func (c *Clip) Dimensions() (uint32, uint32) { return c.Header.Width, c.Header.Height }

// FPS returns the nominal capture rate.
func (c *Clip) FPS() uint32 { return c.Header.Rate }

// Duration is frame count over the nominal rate.
func (c *Clip) Duration() time.Duration {
	if c.Header.Rate == 0 {
		return 0
	}
	return time.Duration(float64(len(c.Frames)) / float64(c.Header.Rate) * float64(time.Second))
}

// Parse decodes a whole container. It either returns every frame or an
// error; no partial result is produced.
func Parse(data []byte) (*Clip, error) {
	h, err := parseHeader(data)
	if err != nil {
		return nil, err
	}

	frames := make([]frame.Frame, 0, min(int(h.FrameCount), len(data)/RecordHeaderSize))
	off := HeaderSize
	for i := uint32(0); i < h.FrameCount; i++ {
		if len(data)-off < RecordHeaderSize {
			return nil, fmt.Errorf("%w: record %d header at offset %d", ErrTruncatedRecord, i, off)
		}
		ts := binary.LittleEndian.Uint64(data[off:])
		stream := binary.LittleEndian.Uint32(data[off+8:])
		n := int(binary.LittleEndian.Uint32(data[off+12:]))
		off += RecordHeaderSize

		if len(data)-off < n {
			return nil, fmt.Errorf("%w: record %d payload needs %d bytes, %d left", ErrTruncatedRecord, i, n, len(data)-off)
		}
		payload := make([]byte, n)
		copy(payload, data[off:off+n])
		off += n

		frames = append(frames, frame.New(payload, ts, stream, h.Width, h.Height))
	}

	if off != len(data) {
		return nil, fmt.Errorf("%w: %d bytes", ErrTrailingData, len(data)-off)
	}
	return &Clip{Header: h, Frames: frames}, nil
}

// Read parses a container from r.
func Read(r io.Reader) (*Clip, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read clip: %w", err)
	}
	return Parse(data)
}

// Open parses the container stored at path.
func Open(path string) (*Clip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// ReadHeader reads only the header, for listing clips without loading payloads.
func ReadHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()

	b := make([]byte, HeaderSize)
	if _, err := io.ReadFull(f, b); err != nil {
		return Header{}, ErrMalformedHeader
	}
	return parseHeader(b)
}
