package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"testing"

	"github.com/bryanchriswhite/ShadowReplay/internal/clip"
	"github.com/bryanchriswhite/ShadowReplay/internal/frame"
)

func framesAt(timestamps ...uint64) []frame.Frame {
	out := make([]frame.Frame, len(timestamps))
	for i, ts := range timestamps {
		out[i] = frame.New([]byte{byte(i)}, ts, 0, 2, 2)
	}
	return out
}

func TestFrameRate(t *testing.T) {
	second := uint64(1e9)
	tests := []struct {
		name   string
		frames []frame.Frame
		want   int
	}{
		{"empty", nil, FallbackFPS},
		{"single", framesAt(5), FallbackFPS},
		{"same timestamps", framesAt(7, 7, 7), FallbackFPS},
		{"out of order", framesAt(10, 1), FallbackFPS},
		{"sixty over one second", func() []frame.Frame {
			ts := make([]uint64, 60)
			for i := range ts {
				ts[i] = uint64(i) * second / 59
			}
			return framesAt(ts...)
		}(), 60},
		{"four over two seconds", framesAt(0, second, 2*second-second/2, 2*second), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FrameRate(tt.frames); got != tt.want {
				t.Errorf("FrameRate = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWriteFrames(t *testing.T) {
	dir := t.TempDir()
	frames := []frame.Frame{
		frame.New([]byte("a"), 1, 0, 1, 1),
		frame.New([]byte("bb"), 2, 0, 1, 1),
	}
	if err := WriteFrames(dir, frames); err != nil {
		t.Fatal(err)
	}
	for i, want := range []string{"a", "bb"} {
		got, err := os.ReadFile(filepath.Join(dir, fmt.Sprintf("frame_%05d.jpg", i)))
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != want {
			t.Errorf("frame %d = %q, want %q", i, got, want)
		}
	}
}

func TestArgs(t *testing.T) {
	e := New(Options{Preset: "veryfast", CRF: 20})
	got := e.Args(60, "in/frame_%05d.jpg", "out.mp4")
	want := []string{
		"-y", "-framerate", "60", "-i", "in/frame_%05d.jpg",
		"-c:v", "libx264", "-preset", "veryfast", "-crf", "20",
		"-pix_fmt", "yuv420p", "out.mp4",
	}
	if !slices.Equal(got, want) {
		t.Errorf("Args = %v\nwant %v", got, want)
	}
}

func TestExportRunsEncoder(t *testing.T) {
	var (
		gotName string
		gotArgs []string
		seen    int
	)
	e := New(Options{}).WithRunner(func(ctx context.Context, name string, args []string, stderr io.Writer) error {
		gotName, gotArgs = name, args
		// frames must exist while the encoder runs
		matches, _ := filepath.Glob(filepath.Join(filepath.Dir(args[4]), "frame_*.jpg"))
		seen = len(matches)
		return os.WriteFile(args[len(args)-1], []byte("mp4"), 0644)
	})

	c := &clip.Clip{Frames: framesAt(0, 33_333_333, 66_666_667)}
	out := filepath.Join(t.TempDir(), "nested", "clip.mp4")
	if err := e.Export(context.Background(), c, out); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if gotName != "ffmpeg" {
		t.Errorf("runner name = %q", gotName)
	}
	if seen != 3 {
		t.Errorf("encoder saw %d frames, want 3", seen)
	}
	if gotArgs[2] != "45" {
		t.Errorf("framerate arg = %s, want 45", gotArgs[2])
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("output missing: %v", err)
	}
	// temp frames are cleaned up
	if _, err := os.Stat(filepath.Dir(gotArgs[4])); !os.IsNotExist(err) {
		t.Errorf("temp dir left behind: %v", err)
	}
}

func TestExportErrors(t *testing.T) {
	e := New(Options{})
	if err := e.Export(context.Background(), &clip.Clip{}, "x.mp4"); !errors.Is(err, ErrNoFrames) {
		t.Errorf("empty clip err = %v", err)
	}

	e.WithRunner(func(ctx context.Context, name string, args []string, stderr io.Writer) error {
		io.WriteString(stderr, "Unknown encoder 'libx264'\n")
		return &exec.Error{Name: name, Err: exec.ErrNotFound}
	})
	err := e.Export(context.Background(), &clip.Clip{Frames: framesAt(1, 2)}, filepath.Join(t.TempDir(), "x.mp4"))
	if !errors.Is(err, ErrFFmpegNotFound) {
		t.Errorf("missing binary err = %v", err)
	}

	runErr := errors.New("exit status 1")
	e.WithRunner(func(ctx context.Context, name string, args []string, stderr io.Writer) error {
		io.WriteString(stderr, "ffmpeg version 6.1\n\nInput #0, image2\n[libx264] broken preset\nConversion failed!\n")
		return runErr
	})
	err = e.Export(context.Background(), &clip.Clip{Frames: framesAt(1, 2)}, filepath.Join(t.TempDir(), "x.mp4"))
	if err == nil || errors.Is(err, ErrFFmpegNotFound) || !errors.Is(err, runErr) {
		t.Fatalf("failed run err = %v", err)
	}
	want := "ffmpeg failed: exit status 1: Input #0, image2 | [libx264] broken preset | Conversion failed!"
	if err.Error() != want {
		t.Errorf("err = %q, want %q", err, want)
	}
}

func TestStderrTail(t *testing.T) {
	tests := []struct {
		output string
		n      int
		want   string
	}{
		{"", 3, ""},
		{"\n  \n", 3, ""},
		{"one\ntwo\n", 3, "one | two"},
		{"a\nb\nc\nd", 2, "c | d"},
		{"  padded  \r\n", 1, "padded"},
	}
	for _, tt := range tests {
		if got := stderrTail(tt.output, tt.n); got != tt.want {
			t.Errorf("stderrTail(%q, %d) = %q, want %q", tt.output, tt.n, got, tt.want)
		}
	}
}

func TestOutputPath(t *testing.T) {
	if got := OutputPath("/clips/clip_20240101_120000.qsp", ""); got != "/clips/clip_20240101_120000.mp4" {
		t.Errorf("OutputPath = %s", got)
	}
	if got := OutputPath("/clips/a.qsp", "/tmp/out"); got != "/tmp/out/a.mp4" {
		t.Errorf("OutputPath = %s", got)
	}
}

func TestLogStderrHandlesEmpty(t *testing.T) {
	logStderr(bytes.NewReader(nil))
}
