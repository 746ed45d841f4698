package config

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"slices"
	"time"

	"github.com/adrg/xdg"

	"github.com/bryanchriswhite/ShadowReplay/internal/buffer"
	"github.com/bryanchriswhite/ShadowReplay/internal/capture"
	"github.com/bryanchriswhite/ShadowReplay/internal/input"
	"github.com/bryanchriswhite/ShadowReplay/internal/logger"
	"github.com/bryanchriswhite/ShadowReplay/internal/replay"
)

// Bounds accepted by Validate.
const (
	MinBufferSeconds = 5
	MaxBufferSeconds = 60
	MinFPS           = 30
	MaxFPS           = 144
	MinBitrate       = 1_000_000
	MaxBitrate       = 100_000_000
)

// Config represents the application configuration
type Config struct {
	Buffer  BufferConfig  `json:"buffer" yaml:"buffer" mapstructure:"buffer"`
	Capture CaptureConfig `json:"capture" yaml:"capture" mapstructure:"capture"`
	Trigger TriggerConfig `json:"trigger" yaml:"trigger" mapstructure:"trigger"`
	Output  OutputConfig  `json:"output" yaml:"output" mapstructure:"output"`
	Export  ExportConfig  `json:"export" yaml:"export" mapstructure:"export"`
	MQTT    MQTTConfig    `json:"mqtt" yaml:"mqtt" mapstructure:"mqtt"`
	Preview PreviewConfig `json:"preview" yaml:"preview" mapstructure:"preview"`

	ServerPort int    `json:"server_port" yaml:"server_port" mapstructure:"server_port"`
	LogLevel   string `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	LogPretty  bool   `json:"log_pretty" yaml:"log_pretty" mapstructure:"log_pretty"`
}

// BufferConfig sizes the replay window
type BufferConfig struct {
	DurationSeconds float64 `json:"duration_seconds" yaml:"duration_seconds" mapstructure:"duration_seconds"`
	TargetFPS       int     `json:"target_fps" yaml:"target_fps" mapstructure:"target_fps"`
}

// CaptureConfig selects the frame source
type CaptureConfig struct {
	Source      string `json:"source" yaml:"source" mapstructure:"source"`
	Width       int    `json:"width" yaml:"width" mapstructure:"width"`
	Height      int    `json:"height" yaml:"height" mapstructure:"height"`
	JPEGQuality int    `json:"jpeg_quality" yaml:"jpeg_quality" mapstructure:"jpeg_quality"`
	StreamIndex uint32 `json:"stream_index" yaml:"stream_index" mapstructure:"stream_index"`
	AutoStart   bool   `json:"auto_start" yaml:"auto_start" mapstructure:"auto_start"`
}

// TriggerConfig configures the save combination
type TriggerConfig struct {
	Combo      string  `json:"combo" yaml:"combo" mapstructure:"combo"`
	Threshold  float32 `json:"threshold" yaml:"threshold" mapstructure:"threshold"`
	CooldownMS int     `json:"cooldown_ms" yaml:"cooldown_ms" mapstructure:"cooldown_ms"`
}

// OutputConfig controls where and how clips are written
type OutputConfig struct {
	Directory      string `json:"directory" yaml:"directory" mapstructure:"directory"`
	VideoBitrate   uint32 `json:"video_bitrate" yaml:"video_bitrate" mapstructure:"video_bitrate"`
	ClearAfterSave string `json:"clear_after_save" yaml:"clear_after_save" mapstructure:"clear_after_save"`
}

// ExportConfig controls MP4 export through ffmpeg
type ExportConfig struct {
	FFmpegPath string `json:"ffmpeg_path" yaml:"ffmpeg_path" mapstructure:"ffmpeg_path"`
	Preset     string `json:"preset" yaml:"preset" mapstructure:"preset"`
	CRF        int    `json:"crf" yaml:"crf" mapstructure:"crf"`
}

// MQTTConfig enables save notifications; an empty broker disables them
type MQTTConfig struct {
	Broker   string `json:"broker" yaml:"broker" mapstructure:"broker"`
	Topic    string `json:"topic" yaml:"topic" mapstructure:"topic"`
	ClientID string `json:"client_id" yaml:"client_id" mapstructure:"client_id"`
}

// PreviewConfig controls the MJPEG preview stream
type PreviewConfig struct {
	FPS     int  `json:"fps" yaml:"fps" mapstructure:"fps"`
	Overlay bool `json:"overlay" yaml:"overlay" mapstructure:"overlay"`
}

// DefaultClipDir is the clip directory used when none is configured.
func DefaultClipDir() string {
	return filepath.Join(xdg.UserDirs.Videos, "ShadowReplay")
}

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		Buffer: BufferConfig{
			DurationSeconds: 10,
			TargetFPS:       90,
		},
		Capture: CaptureConfig{
			Source:      capture.KindPattern,
			Width:       256,
			Height:      256,
			JPEGQuality: 80,
			AutoStart:   true,
		},
		Trigger: TriggerConfig{
			Combo:      string(input.LeftGripAndTrigger),
			Threshold:  input.DefaultThreshold,
			CooldownMS: int(input.DefaultCooldown / time.Millisecond),
		},
		Output: OutputConfig{
			Directory:      DefaultClipDir(),
			VideoBitrate:   20_000_000,
			ClearAfterSave: string(replay.ClearSnapshot),
		},
		Export: ExportConfig{
			FFmpegPath: "ffmpeg",
			Preset:     "fast",
			CRF:        23,
		},
		MQTT: MQTTConfig{
			Topic:    "shadowreplay/saves",
			ClientID: "shadowreplay",
		},
		Preview: PreviewConfig{
			FPS:     15,
			Overlay: true,
		},
		ServerPort: 8080,
		LogLevel:   "info",
		LogPretty:  true,
	}
}

// FieldError reports one invalid setting.
type FieldError struct {
	Field  string
	Value  any
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %v %s", e.Field, e.Value, e.Reason)
}

// Validate returns every violation joined into one error, or nil.
func (c *Config) Validate() error {
	var errs []error
	bad := func(field string, value any, reason string) {
		errs = append(errs, &FieldError{Field: field, Value: value, Reason: reason})
	}

	if c.Buffer.DurationSeconds < MinBufferSeconds {
		bad("buffer.duration_seconds", c.Buffer.DurationSeconds, fmt.Sprintf("is below the minimum of %d", MinBufferSeconds))
	}
	if c.Buffer.DurationSeconds > MaxBufferSeconds {
		bad("buffer.duration_seconds", c.Buffer.DurationSeconds, fmt.Sprintf("exceeds the maximum of %d", MaxBufferSeconds))
	}
	if c.Buffer.TargetFPS < MinFPS || c.Buffer.TargetFPS > MaxFPS {
		bad("buffer.target_fps", c.Buffer.TargetFPS, fmt.Sprintf("must be between %d and %d", MinFPS, MaxFPS))
	}

	if !slices.Contains(capture.Kinds, c.Capture.Source) {
		bad("capture.source", c.Capture.Source, fmt.Sprintf("must be one of %v", capture.Kinds))
	}
	if c.Capture.Source == capture.KindPattern && (c.Capture.Width <= 0 || c.Capture.Height <= 0) {
		bad("capture.width/height", fmt.Sprintf("%dx%d", c.Capture.Width, c.Capture.Height), "must be positive")
	}
	if c.Capture.JPEGQuality < 1 || c.Capture.JPEGQuality > 100 {
		bad("capture.jpeg_quality", c.Capture.JPEGQuality, "must be between 1 and 100")
	}

	if _, err := input.ParseCombo(c.Trigger.Combo); err != nil {
		bad("trigger.combo", c.Trigger.Combo, "is not a known combination")
	}
	if c.Trigger.Threshold <= 0 || c.Trigger.Threshold > 1 {
		bad("trigger.threshold", c.Trigger.Threshold, "must be in (0, 1]")
	}
	if c.Trigger.CooldownMS < 0 {
		bad("trigger.cooldown_ms", c.Trigger.CooldownMS, "must not be negative")
	}

	if c.Output.Directory == "" {
		bad("output.directory", `""`, "must be set")
	}
	if c.Output.VideoBitrate < MinBitrate {
		bad("output.video_bitrate", c.Output.VideoBitrate, "is too low")
	}
	if c.Output.VideoBitrate > MaxBitrate {
		bad("output.video_bitrate", c.Output.VideoBitrate, "is too high")
	}
	if _, err := replay.ParseClearPolicy(c.Output.ClearAfterSave); err != nil {
		bad("output.clear_after_save", c.Output.ClearAfterSave, "must be none, snapshot or all")
	}

	if c.Export.CRF < 0 || c.Export.CRF > 51 {
		bad("export.crf", c.Export.CRF, "must be between 0 and 51")
	}
	if c.Preview.FPS < 1 || c.Preview.FPS > 60 {
		bad("preview.fps", c.Preview.FPS, "must be between 1 and 60")
	}
	if c.ServerPort < 1 || c.ServerPort > 65535 {
		bad("server_port", c.ServerPort, "is not a valid port")
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		bad("log_level", c.LogLevel, "is not a known level")
	}

	return errors.Join(errs...)
}

// BufferFrameCount is the replay window capacity in frames.
func (c *Config) BufferFrameCount() int {
	return buffer.CapacityFor(c.Buffer.DurationSeconds, float64(c.Buffer.TargetFPS))
}

// EstimatedMemoryMB approximates window memory assuming roughly 100 KB per
// frame at quality 80, scaled linearly with quality.
func (c *Config) EstimatedMemoryMB() float64 {
	perFrame := 100_000.0 * float64(c.Capture.JPEGQuality) / 80.0
	mb := float64(c.BufferFrameCount()) * perFrame / (1024 * 1024)
	return math.Round(mb*10) / 10
}

// Cooldown returns the trigger cooldown as a duration.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Trigger.CooldownMS) * time.Millisecond
}

// Replay builds the orchestrator settings.
func (c *Config) Replay() replay.Config {
	policy, _ := replay.ParseClearPolicy(c.Output.ClearAfterSave)
	combo, err := input.ParseCombo(c.Trigger.Combo)
	if err != nil {
		combo = input.Combo(c.Trigger.Combo)
	}
	return replay.Config{
		Capacity:    c.BufferFrameCount(),
		Rate:        uint32(c.Buffer.TargetFPS),
		Bitrate:     c.Output.VideoBitrate,
		Combo:       combo,
		Threshold:   c.Trigger.Threshold,
		Cooldown:    c.Cooldown(),
		ClearPolicy: policy,
	}
}

// CaptureOptions builds the capture source settings.
func (c *Config) CaptureOptions() capture.Options {
	return capture.Options{
		Kind:        c.Capture.Source,
		Width:       c.Capture.Width,
		Height:      c.Capture.Height,
		Rate:        float64(c.Buffer.TargetFPS),
		StreamIndex: c.Capture.StreamIndex,
		Quality:     c.Capture.JPEGQuality,
	}
}
