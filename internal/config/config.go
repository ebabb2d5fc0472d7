package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendPortAudio = "portaudio"
	BackendMalgo     = "malgo"
)

// MinFeatureBufferSize is the smallest analysis buffer giving every
// loudness band two spectrum bins.
const MinFeatureBufferSize = 48

type Config struct {
	LogLevel string        `mapstructure:"log_level"`
	Audio    AudioConfig   `mapstructure:"audio"`
	Capture  CaptureConfig `mapstructure:"capture"`
	Feature  FeatureConfig `mapstructure:"feature"`
	Watcher  WatcherConfig `mapstructure:"watcher"`
	App      AppConfig     `mapstructure:"app"`
	Sink     SinkConfig    `mapstructure:"sink"`

	path string
}

type AudioConfig struct {
	Backend         string `mapstructure:"backend"` // "portaudio" or "malgo"
	DeviceID        string `mapstructure:"device_id"`
	SampleRate      int    `mapstructure:"sample_rate"`
	Channels        int    `mapstructure:"channels"`
	FramesPerBuffer int    `mapstructure:"frames_per_buffer"`
}

type CaptureConfig struct {
	Formats       []string      `mapstructure:"formats"` // preference order
	ChunkInterval time.Duration `mapstructure:"chunk_interval"`
}

type FeatureConfig struct {
	BufferSize int `mapstructure:"buffer_size"` // power of two
}

type WatcherConfig struct {
	Debounce     time.Duration `mapstructure:"debounce"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Path         string        `mapstructure:"path"` // hotplug directory, empty disables fsnotify
}

type AppConfig struct {
	FollowDeviceChanges bool `mapstructure:"follow_device_changes"`
	PersistSelection    bool `mapstructure:"persist_selection"`
}

type SinkConfig struct {
	WebSocketURL string `mapstructure:"websocket_url"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("audio.backend", BackendPortAudio)
	v.SetDefault("audio.device_id", "")
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.frames_per_buffer", 512)
	v.SetDefault("capture.formats", []string{"audio/wav", "audio/pcm"})
	v.SetDefault("capture.chunk_interval", 100*time.Millisecond)
	v.SetDefault("feature.buffer_size", 512)
	v.SetDefault("watcher.debounce", 500*time.Millisecond)
	v.SetDefault("watcher.poll_interval", 2*time.Second)
	v.SetDefault("watcher.path", defaultWatchPath())
	v.SetDefault("app.follow_device_changes", true)
	v.SetDefault("app.persist_selection", true)
	v.SetDefault("sink.websocket_url", "")
}

// Default returns the built-in configuration without touching disk
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return cfg
}

// Load reads the config from path (or the platform config path when empty),
// applies MICSTREAM_* environment overrides and returns defaults for
// anything unset. A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = configPath()
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix("MICSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.path = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the capture pipeline cannot run with
func (c *Config) Validate() error {
	var errs []error
	switch c.Audio.Backend {
	case BackendPortAudio, BackendMalgo:
	default:
		errs = append(errs, fmt.Errorf("audio.backend: unknown backend %q", c.Audio.Backend))
	}
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, errors.New("audio.sample_rate must be positive"))
	}
	if c.Audio.Channels <= 0 {
		errs = append(errs, errors.New("audio.channels must be positive"))
	}
	if c.Audio.FramesPerBuffer <= 0 {
		errs = append(errs, errors.New("audio.frames_per_buffer must be positive"))
	}
	if c.Capture.ChunkInterval <= 0 {
		errs = append(errs, errors.New("capture.chunk_interval must be positive"))
	}
	if n := c.Feature.BufferSize; n < MinFeatureBufferSize || n&(n-1) != 0 {
		errs = append(errs, fmt.Errorf("feature.buffer_size must be a power of two >= %d, got %d", MinFeatureBufferSize, n))
	}
	if c.Watcher.Debounce < 0 {
		errs = append(errs, errors.New("watcher.debounce must not be negative"))
	}
	if c.Watcher.PollInterval <= 0 {
		errs = append(errs, errors.New("watcher.poll_interval must be positive"))
	}
	return errors.Join(errs...)
}

// Path returns the file the config was loaded from
func (c *Config) Path() string {
	if c.path == "" {
		return configPath()
	}
	return c.path
}

// SetPath changes where SaveDeviceID writes to
func (c *Config) SetPath(path string) {
	c.path = path
}

// SaveDeviceID records id as the selected device. Only audio.device_id is
// written: the rest of the file stays as it is on disk, so flag and
// environment overrides applied to c are never persisted.
func (c *Config) SaveDeviceID(id string) error {
	path := c.Path()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}
	v.Set("audio.device_id", id)
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}

	c.Audio.DeviceID = id
	return nil
}

func defaultWatchPath() string {
	if runtime.GOOS == "linux" {
		return "/dev/snd"
	}
	return ""
}

// configPath returns the platform-specific config file path
func configPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "micstream", "config.json")
}
