package clip

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bryanchriswhite/ShadowReplay/internal/frame"
	"github.com/bryanchriswhite/ShadowReplay/internal/logger"
)

// Write serializes frames into w. Dimensions are taken from the first frame.
func Write(w io.Writer, frames []frame.Frame, rate uint32) error {
	if len(frames) == 0 {
		return ErrEmptyInput
	}

	h := Header{
		FrameCount: uint32(len(frames)),
		Width:      frames[0].Width(),
		Height:     frames[0].Height(),
		Rate:       rate,
	}
	if _, err := w.Write(h.marshal()); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	var rec [RecordHeaderSize]byte
	for i, f := range frames {
		binary.LittleEndian.PutUint64(rec[0:], f.CapturedAt())
		binary.LittleEndian.PutUint32(rec[8:], f.StreamIndex())
		binary.LittleEndian.PutUint32(rec[12:], uint32(len(f.Payload())))
		if _, err := w.Write(rec[:]); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
		if _, err := w.Write(f.Payload()); err != nil {
			return fmt.Errorf("failed to write payload %d: %w", i, err)
		}
	}
	return nil
}

// Encoder writes clips to disk.
type Encoder struct {
	info Info
}

// NewEncoder returns an encoder for the given settings. Width and height in
// info are informational; the written header uses the first frame's size.
func NewEncoder(info Info) *Encoder {
	return &Encoder{info: info}
}

func (e *Encoder) Info() Info { return e.info }

// Encode writes frames to path, creating parent directories.
func (e *Encoder) Encode(frames []frame.Frame, path string) error {
	return Encode(frames, path, e.info.FPS, e.info.Bitrate)
}

// Encode writes frames to path at the given rate. bitrate is a hint used
// only for logging the size estimate. The clip is written to a temporary
// file in the same directory, synced and renamed over path, so path never
// holds a partial clip.
func Encode(frames []frame.Frame, path string, rate, bitrate uint32) (err error) {
	log := logger.WithComponent("clip")
	if len(frames) == 0 {
		return ErrEmptyInput
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create clip directory: %w", err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create clip file: %w", err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	bw := bufio.NewWriterSize(f, 1<<20)
	if err := Write(bw, frames, rate); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush clip: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync clip: %w", err)
	}
	if err := f.Chmod(0644); err != nil {
		return fmt.Errorf("failed to set clip permissions: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close clip file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to move clip into place: %w", err)
	}

	log.Info().
		Str("path", path).
		Int("frames", len(frames)).
		Uint32("rate", rate).
		Uint32("bitrate", bitrate).
		Msg("Clip encoded")
	return nil
}
