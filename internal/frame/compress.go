package frame

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
)

// DefaultQuality is the JPEG quality used when none is configured.
const DefaultQuality = 80

// ErrInvalidSize is returned when pixel data does not match the stated dimensions.
var ErrInvalidSize = errors.New("frame: pixel data does not match dimensions")

// Compressor encodes raw RGBA pixels into JPEG payloads.
type Compressor struct {
	quality int
}

// NewCompressor returns a compressor; quality is clamped to [1, 100].
func NewCompressor(quality int) *Compressor {
	if quality > 100 {
		quality = 100
	}
	if quality < 1 {
		quality = 1
	}
	return &Compressor{quality: quality}
}

func (c *Compressor) Quality() int { return c.quality }

// CompressRGBA encodes tightly packed RGBA pixels of the given size.
func (c *Compressor) CompressRGBA(pix []byte, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 || len(pix) != width*height*4 {
		return nil, fmt.Errorf("%w: %dx%d with %d bytes", ErrInvalidSize, width, height, len(pix))
	}
	img := &image.RGBA{
		Pix:    pix,
		Stride: width * 4,
		Rect:   image.Rect(0, 0, width, height),
	}
	return c.Compress(img)
}

// Compress encodes any image as JPEG.
func (c *Compressor) Compress(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
