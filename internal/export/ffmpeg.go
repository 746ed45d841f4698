// Package export converts saved clips to MP4 by handing the JPEG frames to
// an ffmpeg subprocess.
package export

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bryanchriswhite/ShadowReplay/internal/clip"
	"github.com/bryanchriswhite/ShadowReplay/internal/frame"
	"github.com/bryanchriswhite/ShadowReplay/internal/logger"
)

// FallbackFPS is used when the frame timestamps give no usable rate.
const FallbackFPS = 30

// stderrTailLines is how much ffmpeg output a failed export reports.
const stderrTailLines = 3

// framePattern names the intermediate images handed to ffmpeg.
const framePattern = "frame_%05d.jpg"

var (
	// ErrNoFrames is returned for a clip without frames.
	ErrNoFrames = errors.New("clip has no frames")
	// ErrFFmpegNotFound means the configured binary is not on PATH.
	ErrFFmpegNotFound = errors.New("ffmpeg not found")
)

// Runner executes the encoder. The default runs a real subprocess.
type Runner func(ctx context.Context, name string, args []string, stderr io.Writer) error

// Options configure an Exporter.
type Options struct {
	FFmpegPath string
	Preset     string
	CRF        int
}

// Exporter turns clips into H.264 MP4 files.
type Exporter struct {
	opts Options
	run  Runner
}

// New builds an Exporter. Empty options take the ffmpeg defaults.
func New(opts Options) *Exporter {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.Preset == "" {
		opts.Preset = "fast"
	}
	if opts.CRF <= 0 {
		opts.CRF = 23
	}
	return &Exporter{opts: opts, run: runCommand}
}

// WithRunner replaces the subprocess runner.
func (e *Exporter) WithRunner(r Runner) *Exporter {
	e.run = r
	return e
}

// Available reports whether the ffmpeg binary can be found.
func (e *Exporter) Available() bool {
	_, err := exec.LookPath(e.opts.FFmpegPath)
	return err == nil
}

// Export writes c to outPath as MP4.
func (e *Exporter) Export(ctx context.Context, c *clip.Clip, outPath string) error {
	log := logger.WithComponent("export")

	if c == nil || len(c.Frames) == 0 {
		return ErrNoFrames
	}

	tmp, err := os.MkdirTemp("", "shadowreplay-export-")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := WriteFrames(tmp, c.Frames); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	fps := FrameRate(c.Frames)
	args := e.Args(fps, filepath.Join(tmp, framePattern), outPath)

	log.Info().
		Int("frames", len(c.Frames)).
		Int("fps", fps).
		Str("output", outPath).
		Msg("Exporting clip")
	log.Debug().Str("cmd", e.opts.FFmpegPath+" "+strings.Join(args, " ")).Msg("Running ffmpeg")

	var stderr bytes.Buffer
	if err := e.run(ctx, e.opts.FFmpegPath, args, &stderr); err != nil {
		output := stderr.String()
		logStderr(strings.NewReader(output))
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrFFmpegNotFound, e.opts.FFmpegPath)
		}
		if tail := stderrTail(output, stderrTailLines); tail != "" {
			return fmt.Errorf("ffmpeg failed: %w: %s", err, tail)
		}
		return fmt.Errorf("ffmpeg failed: %w", err)
	}

	log.Info().Str("output", outPath).Msg("Export complete")
	return nil
}

// Args builds the ffmpeg argument list.
func (e *Exporter) Args(fps int, input, output string) []string {
	return []string{
		"-y",
		"-framerate", strconv.Itoa(fps),
		"-i", input,
		"-c:v", "libx264",
		"-preset", e.opts.Preset,
		"-crf", strconv.Itoa(e.opts.CRF),
		"-pix_fmt", "yuv420p",
		output,
	}
}

// FrameRate derives the playback rate from the first and last capture
// timestamps, rounded to the nearest whole frame per second.
func FrameRate(frames []frame.Frame) int {
	if len(frames) < 2 {
		return FallbackFPS
	}
	first := frames[0].CapturedAt()
	last := frames[len(frames)-1].CapturedAt()
	if last <= first {
		return FallbackFPS
	}
	seconds := float64(last-first) / 1e9
	fps := int(math.Round(float64(len(frames)) / seconds))
	if fps <= 0 {
		return FallbackFPS
	}
	return fps
}

// WriteFrames writes each payload to dir as frame_00000.jpg onward.
func WriteFrames(dir string, frames []frame.Frame) error {
	for i, f := range frames {
		path := filepath.Join(dir, fmt.Sprintf(framePattern, i))
		if err := os.WriteFile(path, f.Payload(), 0644); err != nil {
			return fmt.Errorf("failed to write frame %d: %w", i, err)
		}
	}
	return nil
}

// OutputPath puts the MP4 next to the clip unless dir is set.
func OutputPath(clipPath, dir string) string {
	base := strings.TrimSuffix(filepath.Base(clipPath), filepath.Ext(clipPath)) + ".mp4"
	if dir == "" {
		dir = filepath.Dir(clipPath)
	}
	return filepath.Join(dir, base)
}

func runCommand(ctx context.Context, name string, args []string, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = stderr
	return cmd.Run()
}

func logStderr(r io.Reader) {
	log := logger.WithComponent("export")
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			log.Warn().Str("stderr", line).Msg("ffmpeg")
		}
	}
}

// stderrTail returns the last n non-empty lines of output joined by " | ".
func stderrTail(output string, n int) string {
	var lines []string
	for _, line := range strings.Split(output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
