package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Channel codecs
const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

// Permission modes
const (
	PermissionSystem  = "system"  // ask the OS (AVFoundation on macOS)
	PermissionHost    = "host"    // ask the connected host application
	PermissionGranted = "granted" // no gate, microphone always available
)

const envPrefix = "SOUNDSTREAM"

type Config struct {
	LogLevel   string           `json:"log_level" mapstructure:"log_level"`
	Audio      AudioConfig      `json:"audio" mapstructure:"audio"`
	Channel    ChannelConfig    `json:"channel" mapstructure:"channel"`
	Permission PermissionConfig `json:"permission" mapstructure:"permission"`

	path string
}

type AudioConfig struct {
	DeviceID     string `json:"device_id" mapstructure:"device_id"`
	SampleRate   int    `json:"sample_rate" mapstructure:"sample_rate"`     // Hz, used when initializeRecorder omits it
	PeriodFrames int    `json:"period_frames" mapstructure:"period_frames"` // samples per dataPeriod event
}

type ChannelConfig struct {
	ListenAddr string `json:"listen_addr" mapstructure:"listen_addr"`
	Path       string `json:"path" mapstructure:"path"`
	Codec      string `json:"codec" mapstructure:"codec"` // "json" or "msgpack"
	SendQueue  int    `json:"send_queue" mapstructure:"send_queue"`
}

type PermissionConfig struct {
	Mode    string        `json:"mode" mapstructure:"mode"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"` // 0 waits forever
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Audio: AudioConfig{
			DeviceID:     "",
			SampleRate:   16000,
			PeriodFrames: 8192,
		},
		Channel: ChannelConfig{
			ListenAddr: "127.0.0.1:8787",
			Path:       "/channel",
			Codec:      CodecJSON,
			SendQueue:  64,
		},
		Permission: PermissionConfig{
			Mode:    PermissionSystem,
			Timeout: 0,
		},
	}
}

// Load reads the config from the default location, or returns defaults when
// no file exists. Environment variables prefixed with SOUNDSTREAM_ override
// file values (e.g. SOUNDSTREAM_CHANNEL_LISTEN_ADDR).
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config path. An empty path uses the
// platform config location.
func LoadFile(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = configPath()
	}

	v := viper.New()
	setDefaults(v, Default())
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound):
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
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

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("audio.device_id", d.Audio.DeviceID)
	v.SetDefault("audio.sample_rate", d.Audio.SampleRate)
	v.SetDefault("audio.period_frames", d.Audio.PeriodFrames)
	v.SetDefault("channel.listen_addr", d.Channel.ListenAddr)
	v.SetDefault("channel.path", d.Channel.Path)
	v.SetDefault("channel.codec", d.Channel.Codec)
	v.SetDefault("channel.send_queue", d.Channel.SendQueue)
	v.SetDefault("permission.mode", d.Permission.Mode)
	v.SetDefault("permission.timeout", d.Permission.Timeout)
}

// Validate checks values that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate)
	}
	if c.Audio.PeriodFrames <= 0 {
		return fmt.Errorf("audio.period_frames must be positive, got %d", c.Audio.PeriodFrames)
	}
	switch c.Channel.Codec {
	case CodecJSON, CodecMsgpack:
	default:
		return fmt.Errorf("unknown channel.codec %q", c.Channel.Codec)
	}
	switch c.Permission.Mode {
	case PermissionSystem, PermissionHost, PermissionGranted:
	default:
		return fmt.Errorf("unknown permission.mode %q", c.Permission.Mode)
	}
	if c.Channel.SendQueue <= 0 {
		c.Channel.SendQueue = Default().Channel.SendQueue
	}
	return nil
}

// Path returns the file the config was loaded from (or will be saved to).
func (c *Config) Path() string {
	if c.path == "" {
		return configPath()
	}
	return c.path
}

// Save writes the config to disk
func (c *Config) Save() error {
	path := c.Path()

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
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

	return filepath.Join(base, "soundstream", "config.json")
}
