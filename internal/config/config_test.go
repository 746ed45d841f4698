package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bryanchriswhite/ShadowReplay/internal/input"
	"github.com/bryanchriswhite/ShadowReplay/internal/replay"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if got := cfg.BufferFrameCount(); got != 900 {
		t.Errorf("BufferFrameCount = %d, want 900", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"buffer too short", func(c *Config) { c.Buffer.DurationSeconds = 4 }, "buffer.duration_seconds"},
		{"buffer too long", func(c *Config) { c.Buffer.DurationSeconds = 61 }, "buffer.duration_seconds"},
		{"fps too low", func(c *Config) { c.Buffer.TargetFPS = 29 }, "buffer.target_fps"},
		{"fps too high", func(c *Config) { c.Buffer.TargetFPS = 145 }, "buffer.target_fps"},
		{"unknown source", func(c *Config) { c.Capture.Source = "webcam" }, "capture.source"},
		{"zero pattern size", func(c *Config) { c.Capture.Width = 0 }, "capture.width/height"},
		{"quality", func(c *Config) { c.Capture.JPEGQuality = 0 }, "capture.jpeg_quality"},
		{"combo", func(c *Config) { c.Trigger.Combo = "a_button" }, "trigger.combo"},
		{"threshold", func(c *Config) { c.Trigger.Threshold = 1.5 }, "trigger.threshold"},
		{"cooldown", func(c *Config) { c.Trigger.CooldownMS = -1 }, "trigger.cooldown_ms"},
		{"directory", func(c *Config) { c.Output.Directory = "" }, "output.directory"},
		{"bitrate too low", func(c *Config) { c.Output.VideoBitrate = 999_999 }, "output.video_bitrate"},
		{"bitrate too high", func(c *Config) { c.Output.VideoBitrate = 100_000_001 }, "output.video_bitrate"},
		{"clear policy", func(c *Config) { c.Output.ClearAfterSave = "never" }, "output.clear_after_save"},
		{"crf", func(c *Config) { c.Export.CRF = 52 }, "export.crf"},
		{"preview fps", func(c *Config) { c.Preview.FPS = 0 }, "preview.fps"},
		{"port", func(c *Config) { c.ServerPort = 0 }, "server_port"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			var fe *FieldError
			if !errors.As(err, &fe) || fe.Field != tt.field {
				t.Errorf("error = %v, want field %s", err, tt.field)
			}
		})
	}
}

func TestValidateReportsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Buffer.TargetFPS = 1
	cfg.ServerPort = -1
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "buffer.target_fps") || !strings.Contains(msg, "server_port") {
		t.Errorf("joined error missing a field: %v", msg)
	}
}

func TestBoundaryValuesAccepted(t *testing.T) {
	cfg := Defaults()
	cfg.Buffer.DurationSeconds = MinBufferSeconds
	cfg.Buffer.TargetFPS = MaxFPS
	cfg.Output.VideoBitrate = MinBitrate
	if err := cfg.Validate(); err != nil {
		t.Fatalf("boundary values rejected: %v", err)
	}
	if got := cfg.BufferFrameCount(); got != 720 {
		t.Errorf("BufferFrameCount = %d, want 720", got)
	}
}

func TestEstimatedMemoryMB(t *testing.T) {
	cfg := Defaults()
	// 900 frames at 100 KB
	if got := cfg.EstimatedMemoryMB(); got != 85.8 {
		t.Errorf("EstimatedMemoryMB = %v, want 85.8", got)
	}
}

func TestReplayConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Trigger.Combo = "BOTH_GRIPS"
	cfg.Trigger.CooldownMS = 250
	cfg.Output.ClearAfterSave = "all"

	rc := cfg.Replay()
	if rc.Capacity != 900 || rc.Rate != 90 || rc.Bitrate != 20_000_000 {
		t.Errorf("replay config = %+v", rc)
	}
	if rc.Combo != input.BothGrips {
		t.Errorf("combo = %q", rc.Combo)
	}
	if rc.ClearPolicy != replay.ClearAll {
		t.Errorf("clear policy = %q", rc.ClearPolicy)
	}
	if rc.Cooldown.Milliseconds() != 250 {
		t.Errorf("cooldown = %v", rc.Cooldown)
	}

	opts := cfg.CaptureOptions()
	if opts.Kind != cfg.Capture.Source || opts.Rate != 90 || opts.Quality != 80 {
		t.Errorf("capture options = %+v", opts)
	}
}

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shadowreplay", "config.yaml")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, path
}

func TestManagerCreatesDefaultFile(t *testing.T) {
	m, path := newTestManager(t)

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not created: %v", err)
	}
	if m.GetConfigPath() != path || m.GetConfigDir() != filepath.Dir(path) {
		t.Errorf("paths = %s, %s", m.GetConfigPath(), m.GetConfigDir())
	}
	if got := m.Get(); got.Buffer.TargetFPS != 90 || got.Trigger.Combo != "left_grip_trigger" {
		t.Errorf("loaded config = %+v", got)
	}
}

func TestManagerLoadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "buffer:\n  duration_seconds: 15\n  target_fps: 60\ntrigger:\n  combo: both_grips\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := m.Get()
	if cfg.Buffer.DurationSeconds != 15 || cfg.Buffer.TargetFPS != 60 {
		t.Errorf("buffer = %+v", cfg.Buffer)
	}
	if cfg.Trigger.Combo != "both_grips" {
		t.Errorf("combo = %q", cfg.Trigger.Combo)
	}
	// unset keys fall back to defaults
	if cfg.ServerPort != 8080 || cfg.Capture.JPEGQuality != 80 {
		t.Errorf("defaults not applied: port=%d quality=%d", cfg.ServerPort, cfg.Capture.JPEGQuality)
	}
}

func TestManagerSetPersists(t *testing.T) {
	m, path := newTestManager(t)

	if err := m.Set("buffer.target_fps", "120"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := m.Get().Buffer.TargetFPS; got != 120 {
		t.Errorf("TargetFPS = %d, want 120", got)
	}

	reloaded, err := NewManager(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := reloaded.Get().Buffer.TargetFPS; got != 120 {
		t.Errorf("persisted TargetFPS = %d, want 120", got)
	}
}

func TestManagerSetRejectsInvalid(t *testing.T) {
	m, _ := newTestManager(t)

	if err := m.Set("buffer.target_fps", 500); err == nil {
		t.Fatal("expected validation error")
	}
	if got := m.Get().Buffer.TargetFPS; got != 90 {
		t.Errorf("invalid value kept: %d", got)
	}
	if err := m.Set("no.such.key", 1); err == nil {
		t.Fatal("expected unknown key error")
	}
}

func TestManagerEnvOverride(t *testing.T) {
	t.Setenv("SHADOWREPLAY_SERVER_PORT", "9090")
	t.Setenv("SHADOWREPLAY_TRIGGER_COMBO", "right_grip_trigger")

	m, _ := newTestManager(t)
	cfg := m.Get()
	if cfg.ServerPort != 9090 {
		t.Errorf("ServerPort = %d, want 9090", cfg.ServerPort)
	}
	if cfg.Trigger.Combo != "right_grip_trigger" {
		t.Errorf("Combo = %q", cfg.Trigger.Combo)
	}
}

func TestManagerGetReturnsCopy(t *testing.T) {
	m, _ := newTestManager(t)
	cfg := m.Get()
	cfg.ServerPort = 1
	if m.Get().ServerPort == 1 {
		t.Error("Get returned shared state")
	}
}

func TestHandleChangeNotifiesListeners(t *testing.T) {
	m, path := newTestManager(t)

	got := make(chan *Config, 1)
	m.mu.Lock()
	m.listeners = append(m.listeners, func(c *Config) { got <- c })
	m.mu.Unlock()

	data := "trigger:\n  cooldown_ms: 900\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	if err := m.v.ReadInConfig(); err != nil {
		t.Fatal(err)
	}
	m.handleChange(path)

	select {
	case c := <-got:
		if c.Trigger.CooldownMS != 900 {
			t.Errorf("CooldownMS = %d", c.Trigger.CooldownMS)
		}
	default:
		t.Fatal("listener not called")
	}
}
