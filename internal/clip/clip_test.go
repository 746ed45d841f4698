package clip

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bryanchriswhite/ShadowReplay/internal/frame"
)

func sampleFrames() []frame.Frame {
	return []frame.Frame{
		frame.New([]byte("a"), 0, 0, 4, 4),
		frame.New([]byte("b"), 1, 0, 4, 4),
	}
}

func encodeBytes(t *testing.T, frames []frame.Frame, rate uint32) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := Write(&buf, frames, rate); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return buf.Bytes()
}

func assertFramesEqual(t *testing.T, got, want []frame.Frame) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d frames, want %d", len(got), len(want))
	}
	for i := range want {
		g, w := got[i], want[i]
		if g.CapturedAt() != w.CapturedAt() || g.StreamIndex() != w.StreamIndex() ||
			!bytes.Equal(g.Payload(), w.Payload()) || g.Width() != w.Width() || g.Height() != w.Height() {
			t.Errorf("frame %d = (%d,%d,%q,%dx%d), want (%d,%d,%q,%dx%d)", i,
				g.CapturedAt(), g.StreamIndex(), g.Payload(), g.Width(), g.Height(),
				w.CapturedAt(), w.StreamIndex(), w.Payload(), w.Width(), w.Height())
		}
	}
}

func TestWriteLayout(t *testing.T) {
	data := encodeBytes(t, sampleFrames(), 90)

	if string(data[:8]) != Magic {
		t.Fatalf("magic = %q", data[:8])
	}
	want := HeaderSize + 2*(RecordHeaderSize+1)
	if len(data) != want {
		t.Fatalf("len = %d, want %d", len(data), want)
	}
	if n := binary.LittleEndian.Uint32(data[8:]); n != 2 {
		t.Errorf("frame_count = %d", n)
	}
	if r := binary.LittleEndian.Uint32(data[20:]); r != 90 {
		t.Errorf("rate = %d", r)
	}
	// second record timestamp
	if ts := binary.LittleEndian.Uint64(data[HeaderSize+RecordHeaderSize+1:]); ts != 1 {
		t.Errorf("second timestamp = %d", ts)
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		frames []frame.Frame
	}{
		{"two small", sampleFrames()},
		{"empty payload", []frame.Frame{frame.New(nil, 7, 1, 2, 2)}},
		{"mixed streams", []frame.Frame{
			frame.New(bytes.Repeat([]byte{0xff}, 300), 1_000_000, 0, 8, 8),
			frame.New(bytes.Repeat([]byte{0x01}, 5), 2_000_000, 1, 8, 8),
			frame.New([]byte{0, 1, 2}, 3_000_000, 0, 8, 8),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Parse(encodeBytes(t, tt.frames, 30))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if c.Header.Rate != 30 || int(c.Header.FrameCount) != len(tt.frames) {
				t.Errorf("header = %+v", c.Header)
			}
			assertFramesEqual(t, c.Frames, tt.frames)
		})
	}
}

func TestEncodeEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.qsp")
	if err := Encode(nil, path, 30, 0); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("err = %v, want ErrEmptyInput", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file created for empty input")
	}
	if err := Write(&bytes.Buffer{}, nil, 30); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("Write err = %v, want ErrEmptyInput", err)
	}
}

func TestEncodeAndOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "clip.qsp")
	enc := NewEncoder(Info{FPS: 90, Bitrate: 20_000_000})
	if err := enc.Encode(sampleFrames(), path); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	assertFramesEqual(t, c.Frames, sampleFrames())
	if w, h := c.Dimensions(); w != 4 || h != 4 {
		t.Errorf("dimensions = %dx%d", w, h)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if h.FrameCount != 2 || h.Rate != 90 {
		t.Errorf("header = %+v", h)
	}
}

func TestEncodeReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.qsp")
	// an empty placeholder, as left by a name reservation
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if err := Encode(sampleFrames(), path, 30, 0); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	assertFramesEqual(t, c.Frames, sampleFrames())

	// a rename onto a non-empty directory fails and must not leave temp files
	blocked := filepath.Join(dir, "blocked.qsp")
	if err := os.MkdirAll(filepath.Join(blocked, "x"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := Encode(sampleFrames(), blocked, 30, 0); err == nil {
		t.Fatal("expected error encoding onto a directory")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory holds %v, want only clip.qsp and blocked.qsp", names)
	}
}

func TestParseErrors(t *testing.T) {
	good := encodeBytes(t, sampleFrames(), 30)

	badMagic := append([]byte(nil), good...)
	copy(badMagic, "QSPLAY02")

	extraCount := append([]byte(nil), good...)
	binary.LittleEndian.PutUint32(extraCount[8:], 3)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrMalformedHeader},
		{"short header", good[:HeaderSize-1], ErrMalformedHeader},
		{"bad version", badMagic, ErrMalformedHeader},
		{"record header cut", good[:HeaderSize+8], ErrTruncatedRecord},
		{"payload cut", good[:HeaderSize+RecordHeaderSize], ErrTruncatedRecord},
		{"missing record", extraCount, ErrTruncatedRecord},
		{"trailing byte", append(append([]byte(nil), good...), 0), ErrTrailingData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Parse(tt.data)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if c != nil {
				t.Error("partial clip returned with error")
			}
		})
	}
}

func TestParseHeaderOnlyZeroFrames(t *testing.T) {
	h := Header{FrameCount: 0, Width: 1, Height: 1, Rate: 30}
	c, err := Parse(h.marshal())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.FrameCount() != 0 {
		t.Errorf("FrameCount = %d", c.FrameCount())
	}
}

func TestDuration(t *testing.T) {
	frames := make([]frame.Frame, 90)
	for i := range frames {
		frames[i] = frame.New([]byte{1}, uint64(i), 0, 1, 1)
	}
	c, err := Read(bytes.NewReader(encodeBytes(t, frames, 90)))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if c.Duration() != time.Second {
		t.Errorf("Duration = %v, want 1s", c.Duration())
	}
	if (&Clip{}).Duration() != 0 {
		t.Error("zero-rate clip should have zero duration")
	}
}

func TestEstimatedSizeBytes(t *testing.T) {
	info := Info{Bitrate: 20_000_000}
	if got := info.EstimatedSizeBytes(10 * time.Second); got != 25_000_000 {
		t.Errorf("EstimatedSizeBytes = %d, want 25000000", got)
	}
}
