package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/adrg/xdg"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/bryanchriswhite/ShadowReplay/internal/logger"
)

// EnvPrefix prefixes environment overrides, e.g. SHADOWREPLAY_BUFFER_TARGET_FPS.
const EnvPrefix = "SHADOWREPLAY"

// DefaultConfigPath is $XDG_CONFIG_HOME/shadowreplay/config.yaml.
func DefaultConfigPath() (string, error) {
	return xdg.ConfigFile(filepath.Join("shadowreplay", "config.yaml"))
}

// Manager handles configuration
type Manager struct {
	configPath string
	v          *viper.Viper
	config     *Config
	mu         sync.RWMutex

	listeners []func(*Config)
}

// NewManager loads configFile, or the default path when empty. A missing
// file is created with defaults.
func NewManager(configFile string) (*Manager, error) {
	log := logger.WithComponent("config")

	path := configFile
	if path == "" {
		p, err := DefaultConfigPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path: %w", err)
		}
		path = p
	}

	m := &Manager{
		configPath: path,
		v:          newViper(path),
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		log.Info().
			Str("path", path).
			Msg("Config file not found, creating new config")
		m.config = Defaults()
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	if err := m.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := m.reload(); err != nil {
		return nil, err
	}

	log.Info().
		Str("path", m.configPath).
		Int("buffer_frames", m.Get().BufferFrameCount()).
		Msg("Config loaded")
	return m, nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Defaults())
	return v
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("buffer.duration_seconds", d.Buffer.DurationSeconds)
	v.SetDefault("buffer.target_fps", d.Buffer.TargetFPS)
	v.SetDefault("capture.source", d.Capture.Source)
	v.SetDefault("capture.width", d.Capture.Width)
	v.SetDefault("capture.height", d.Capture.Height)
	v.SetDefault("capture.jpeg_quality", d.Capture.JPEGQuality)
	v.SetDefault("capture.stream_index", d.Capture.StreamIndex)
	v.SetDefault("capture.auto_start", d.Capture.AutoStart)
	v.SetDefault("trigger.combo", d.Trigger.Combo)
	v.SetDefault("trigger.threshold", d.Trigger.Threshold)
	v.SetDefault("trigger.cooldown_ms", d.Trigger.CooldownMS)
	v.SetDefault("output.directory", d.Output.Directory)
	v.SetDefault("output.video_bitrate", d.Output.VideoBitrate)
	v.SetDefault("output.clear_after_save", d.Output.ClearAfterSave)
	v.SetDefault("export.ffmpeg_path", d.Export.FFmpegPath)
	v.SetDefault("export.preset", d.Export.Preset)
	v.SetDefault("export.crf", d.Export.CRF)
	v.SetDefault("mqtt.broker", d.MQTT.Broker)
	v.SetDefault("mqtt.topic", d.MQTT.Topic)
	v.SetDefault("mqtt.client_id", d.MQTT.ClientID)
	v.SetDefault("preview.fps", d.Preview.FPS)
	v.SetDefault("preview.overlay", d.Preview.Overlay)
	v.SetDefault("server_port", d.ServerPort)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_pretty", d.LogPretty)
}

// reload decodes the viper state into a fresh Config.
func (m *Manager) reload() error {
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	m.mu.Lock()
	m.config = &cfg
	m.mu.Unlock()
	return nil
}

// GetViper exposes the underlying viper instance for key lookups.
func (m *Manager) GetViper() *viper.Viper {
	return m.v
}

// BindFlag makes a command-line flag override key.
func (m *Manager) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return nil
	}
	if err := m.v.BindPFlag(key, flag); err != nil {
		return fmt.Errorf("failed to bind flag %s: %w", flag.Name, err)
	}
	return m.reload()
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}
	cfg := *m.config
	return &cfg
}

// Set stores value under key, validates the result and saves it.
func (m *Manager) Set(key string, value any) error {
	if !m.isKnownKey(key) {
		return fmt.Errorf("unknown configuration key: %s", key)
	}

	prev := m.v.Get(key)
	m.v.Set(key, value)
	if err := m.reload(); err != nil {
		m.v.Set(key, prev)
		m.reload()
		return err
	}
	if err := m.Get().Validate(); err != nil {
		m.v.Set(key, prev)
		m.reload()
		return err
	}
	return m.Save()
}

func (m *Manager) isKnownKey(key string) bool {
	for _, k := range m.v.AllKeys() {
		if k == strings.ToLower(key) {
			return true
		}
	}
	return false
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	log := logger.WithComponent("config")
	cfg := m.Get()

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		log.Error().
			Err(err).
			Str("config_dir", configDir).
			Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		log.Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	log.Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

// OnChange registers fn to run with the new configuration whenever the file
// changes on disk. Invalid edits are logged and ignored.
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	first := len(m.listeners) == 0
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()

	if !first {
		return
	}
	m.v.OnConfigChange(func(e fsnotify.Event) {
		m.handleChange(e.Name)
	})
	m.v.WatchConfig()
}

func (m *Manager) handleChange(name string) {
	log := logger.WithComponent("config")

	if err := m.reload(); err != nil {
		log.Warn().Err(err).Str("file", name).Msg("Ignoring unreadable config change")
		return
	}
	cfg := m.Get()
	if err := cfg.Validate(); err != nil {
		log.Warn().Err(err).Str("file", name).Msg("Ignoring invalid config change")
		return
	}

	log.Info().Str("file", name).Msg("Config changed")
	m.mu.RLock()
	listeners := slices.Clone(m.listeners)
	m.mu.RUnlock()
	for _, fn := range listeners {
		fn(cfg)
	}
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// GetConfigDir returns the config directory path
func (m *Manager) GetConfigDir() string {
	return filepath.Dir(m.configPath)
}
