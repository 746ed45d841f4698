// Package frame defines the captured image sample that flows from a capture
// source through the replay window and into saved clips.
package frame

import "time"

var epoch = time.Now()

// Now returns a monotonic timestamp in nanoseconds since process start.
// Wall-clock adjustments do not affect it.
func Now() uint64 {
	return uint64(time.Since(epoch))
}

// Frame is one captured image. The payload is an independently decodable
// JPEG image. A Frame is never modified after New returns, so copies share
// the payload safely.
type Frame struct {
	payload     []byte
	capturedAt  uint64
	streamIndex uint32
	width       uint32
	height      uint32
}

// New builds a frame that takes ownership of payload.
func New(payload []byte, capturedAt uint64, streamIndex, width, height uint32) Frame {
	return Frame{
		payload:     payload,
		capturedAt:  capturedAt,
		streamIndex: streamIndex,
		width:       width,
		height:      height,
	}
}

// Payload returns the encoded image bytes. Callers must not modify the slice.
func (f Frame) Payload() []byte { return f.payload }

// CapturedAt returns the monotonic capture time in nanoseconds.
func (f Frame) CapturedAt() uint64 { return f.capturedAt }

// StreamIndex identifies the stream (eye, display) the frame came from.
func (f Frame) StreamIndex() uint32 { return f.streamIndex }

func (f Frame) Width() uint32  { return f.width }
func (f Frame) Height() uint32 { return f.height }

// CompressedSize is the payload length in bytes.
func (f Frame) CompressedSize() int { return len(f.payload) }

// UncompressedSize is the RGBA size of the decoded frame.
func (f Frame) UncompressedSize() int {
	return int(f.width) * int(f.height) * 4
}

// CompressionRatio is uncompressed over compressed size, 0 for an empty payload.
func (f Frame) CompressionRatio() float64 {
	if len(f.payload) == 0 {
		return 0
	}
	return float64(f.UncompressedSize()) / float64(len(f.payload))
}
