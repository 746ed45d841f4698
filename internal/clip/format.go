// Package clip reads and writes the replay container: a fixed header followed
// by one record per frame, all integers little-endian.
//
//	offset 0   magic+version "QSPLAY01"
//	offset 8   frame_count u32
//	offset 12  width u32
//	offset 16  height u32
//	offset 20  rate u32
//	offset 24  records: timestamp_ns u64, stream_index u32, payload_len u32, payload
package clip

import (
	"encoding/binary"
	"errors"
	"time"
)

// Magic is the container signature including its version suffix.
const Magic = "QSPLAY01"

// Extension is the file extension used for saved clips.
const Extension = ".qsp"

const (
	HeaderSize       = 24
	RecordHeaderSize = 16
)

var (
	ErrEmptyInput      = errors.New("clip: no frames to encode")
	ErrMalformedHeader = errors.New("clip: malformed header")
	ErrTruncatedRecord = errors.New("clip: truncated record")
	ErrTrailingData    = errors.New("clip: trailing data after last record")
)

// Header is the fixed-size container header.
type Header struct {
	FrameCount uint32 `json:"frame_count"`
	Width      uint32 `json:"width"`
	Height     uint32 `json:"height"`
	Rate       uint32 `json:"rate"`
}

func (h Header) marshal() []byte {
	b := make([]byte, HeaderSize)
	copy(b, Magic)
	binary.LittleEndian.PutUint32(b[8:], h.FrameCount)
	binary.LittleEndian.PutUint32(b[12:], h.Width)
	binary.LittleEndian.PutUint32(b[16:], h.Height)
	binary.LittleEndian.PutUint32(b[20:], h.Rate)
	return b
}

func parseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize || string(b[:len(Magic)]) != Magic {
		return Header{}, ErrMalformedHeader
	}
	return Header{
		FrameCount: binary.LittleEndian.Uint32(b[8:]),
		Width:      binary.LittleEndian.Uint32(b[12:]),
		Height:     binary.LittleEndian.Uint32(b[16:]),
		Rate:       binary.LittleEndian.Uint32(b[20:]),
	}, nil
}

// Info describes the encoder settings for a clip.
type Info struct {
	Width   uint32
	Height  uint32
	FPS     uint32
	Bitrate uint32
}

// EstimatedSizeBytes estimates output size for a clip of the given length
// at the configured bitrate.
func (i Info) EstimatedSizeBytes(d time.Duration) uint64 {
	return uint64(float64(i.Bitrate) * d.Seconds() / 8)
}
