// Package config holds the typed configuration of prayon and loads it
// through viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Backend modes.
const (
	BackendHTTP      = "http"
	BackendSimulated = "simulated"
)

// Speech engines.
const (
	EnginePiper = "piper"
	EngineTone  = "tone"
)

// Audio output devices.
const (
	DeviceOto  = "oto"
	DeviceMock = "mock"
)

// Config contains all prayon configuration options.
type Config struct {
	// Prayers is the YAML file prayers are read from.
	Prayers string `yaml:"prayers" mapstructure:"prayers"`

	Backend BackendConfig `yaml:"backend" mapstructure:"backend"`
	Voices  VoicesConfig  `yaml:"voices" mapstructure:"voices"`
	Speech  SpeechConfig  `yaml:"speech" mapstructure:"speech"`
	Cache   CacheConfig   `yaml:"cache" mapstructure:"cache"`
	Audio   AudioConfig   `yaml:"audio" mapstructure:"audio"`
	Preview PreviewConfig `yaml:"preview" mapstructure:"preview"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// BackendConfig configures the audio generation backend.
type BackendConfig struct {
	Mode              string        `yaml:"mode" mapstructure:"mode"`
	URL               string        `yaml:"url" mapstructure:"url"`
	Token             string        `yaml:"token" mapstructure:"token"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	PollInterval      time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	BuildTimeout      time.Duration `yaml:"build_timeout" mapstructure:"build_timeout"`
	// SimulatedDelay is how long the simulated backend takes per build.
	SimulatedDelay time.Duration `yaml:"simulated_delay" mapstructure:"simulated_delay"`
}

// VoicesConfig selects where the voice catalog comes from. Without a file
// and with Remote unset the built-in catalog is used.
type VoicesConfig struct {
	File   string `yaml:"file" mapstructure:"file"`
	Remote bool   `yaml:"remote" mapstructure:"remote"`
}

// SpeechConfig configures on-device speech.
type SpeechConfig struct {
	Engine    string        `yaml:"engine" mapstructure:"engine"`
	Binary    string        `yaml:"binary" mapstructure:"binary"`
	ModelsDir string        `yaml:"models_dir" mapstructure:"models_dir"`
	Speed     float64       `yaml:"speed" mapstructure:"speed"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// CacheConfig configures the downloaded audio cache. Sizes are in MB.
type CacheConfig struct {
	Dir              string        `yaml:"dir" mapstructure:"dir"`
	MemoryMB         int           `yaml:"memory_mb" mapstructure:"memory_mb"`
	DiskMB           int           `yaml:"disk_mb" mapstructure:"disk_mb"`
	TTL              time.Duration `yaml:"ttl" mapstructure:"ttl"`
	CompressionLevel int           `yaml:"compression_level" mapstructure:"compression_level"`
}

// AudioConfig configures the output device.
type AudioConfig struct {
	Device     string  `yaml:"device" mapstructure:"device"`
	SampleRate int     `yaml:"sample_rate" mapstructure:"sample_rate"`
	Channels   int     `yaml:"channels" mapstructure:"channels"`
	Volume     float64 `yaml:"volume" mapstructure:"volume"`
	// BundleDir holds the voice sample files shipped with the app.
	BundleDir string `yaml:"bundle_dir" mapstructure:"bundle_dir"`
}

// PreviewConfig configures voice previews.
type PreviewConfig struct {
	Phrase string `yaml:"phrase" mapstructure:"phrase"`
}

// LogConfig configures the log file.
type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	File  string `yaml:"file" mapstructure:"file"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend: BackendConfig{
			Mode:              BackendSimulated,
			Timeout:           15 * time.Second,
			RequestsPerMinute: 60,
			PollInterval:      3 * time.Second,
			BuildTimeout:      5 * time.Minute,
			SimulatedDelay:    4 * time.Second,
		},
		Speech: SpeechConfig{
			Engine:  EngineTone,
			Binary:  "piper",
			Speed:   1.0,
			Timeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			MemoryMB:         32,
			DiskMB:           256,
			TTL:              7 * 24 * time.Hour,
			CompressionLevel: 3,
		},
		Audio: AudioConfig{
			Device:     DeviceOto,
			SampleRate: 44100,
			Channels:   2,
			Volume:     1.0,
		},
		Preview: PreviewConfig{
			Phrase: "Lord, hear my prayer.",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// SetDefaults registers the defaults with v.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("prayers", d.Prayers)

	v.SetDefault("backend.mode", d.Backend.Mode)
	v.SetDefault("backend.url", d.Backend.URL)
	v.SetDefault("backend.token", d.Backend.Token)
	v.SetDefault("backend.timeout", d.Backend.Timeout.String())
	v.SetDefault("backend.requests_per_minute", d.Backend.RequestsPerMinute)
	v.SetDefault("backend.poll_interval", d.Backend.PollInterval.String())
	v.SetDefault("backend.build_timeout", d.Backend.BuildTimeout.String())
	v.SetDefault("backend.simulated_delay", d.Backend.SimulatedDelay.String())

	v.SetDefault("voices.file", d.Voices.File)
	v.SetDefault("voices.remote", d.Voices.Remote)

	v.SetDefault("speech.engine", d.Speech.Engine)
	v.SetDefault("speech.binary", d.Speech.Binary)
	v.SetDefault("speech.models_dir", d.Speech.ModelsDir)
	v.SetDefault("speech.speed", d.Speech.Speed)
	v.SetDefault("speech.timeout", d.Speech.Timeout.String())

	v.SetDefault("cache.dir", d.Cache.Dir)
	v.SetDefault("cache.memory_mb", d.Cache.MemoryMB)
	v.SetDefault("cache.disk_mb", d.Cache.DiskMB)
	v.SetDefault("cache.ttl", d.Cache.TTL.String())
	v.SetDefault("cache.compression_level", d.Cache.CompressionLevel)

	v.SetDefault("audio.device", d.Audio.Device)
	v.SetDefault("audio.sample_rate", d.Audio.SampleRate)
	v.SetDefault("audio.channels", d.Audio.Channels)
	v.SetDefault("audio.volume", d.Audio.Volume)
	v.SetDefault("audio.bundle_dir", d.Audio.BundleDir)

	v.SetDefault("preview.phrase", d.Preview.Phrase)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
}

// Load decodes the configuration held by v, expands home-relative paths and
// validates the result.
func Load(v *viper.Viper) (Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unable to decode configuration: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{
		&c.Prayers,
		&c.Voices.File,
		&c.Speech.Binary,
		&c.Speech.ModelsDir,
		&c.Cache.Dir,
		&c.Audio.BundleDir,
		&c.Log.File,
	} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("unable to expand %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks all configuration values.
func (c Config) Validate() error {
	var errs []error

	switch c.Backend.Mode {
	case BackendHTTP:
		if c.Backend.URL == "" {
			errs = append(errs, errors.New("backend.url is required in http mode"))
		} else if !strings.HasPrefix(c.Backend.URL, "http://") && !strings.HasPrefix(c.Backend.URL, "https://") {
			errs = append(errs, fmt.Errorf("backend.url must be an http(s) url, got %q", c.Backend.URL))
		}
	case BackendSimulated:
	default:
		errs = append(errs, fmt.Errorf("invalid backend mode %q: use %s or %s", c.Backend.Mode, BackendHTTP, BackendSimulated))
	}
	if c.Backend.RequestsPerMinute < 1 || c.Backend.RequestsPerMinute > 6000 {
		errs = append(errs, fmt.Errorf("backend.requests_per_minute must be between 1 and 6000, got %d", c.Backend.RequestsPerMinute))
	}
	if c.Backend.PollInterval <= 0 {
		errs = append(errs, errors.New("backend.poll_interval must be positive"))
	}
	if c.Backend.BuildTimeout < c.Backend.PollInterval {
		errs = append(errs, errors.New("backend.build_timeout must not be shorter than backend.poll_interval"))
	}
	if c.Voices.Remote && c.Backend.Mode != BackendHTTP {
		errs = append(errs, errors.New("voices.remote needs backend.mode http"))
	}

	switch c.Speech.Engine {
	case EnginePiper:
		if c.Speech.ModelsDir == "" {
			errs = append(errs, errors.New("speech.models_dir is required for piper"))
		}
	case EngineTone:
	default:
		errs = append(errs, fmt.Errorf("invalid speech engine %q: use %s or %s", c.Speech.Engine, EnginePiper, EngineTone))
	}
	if c.Speech.Speed < 0.5 || c.Speech.Speed > 2.0 {
		errs = append(errs, fmt.Errorf("speech.speed must be between 0.5 and 2.0, got %.2f", c.Speech.Speed))
	}

	if c.Cache.MemoryMB < 1 || c.Cache.MemoryMB > 1024 {
		errs = append(errs, fmt.Errorf("cache.memory_mb must be between 1 and 1024, got %d", c.Cache.MemoryMB))
	}
	if c.Cache.DiskMB < 1 || c.Cache.DiskMB > 10000 {
		errs = append(errs, fmt.Errorf("cache.disk_mb must be between 1 and 10000, got %d", c.Cache.DiskMB))
	}
	if c.Cache.CompressionLevel < 0 || c.Cache.CompressionLevel > 22 {
		errs = append(errs, fmt.Errorf("cache.compression_level must be between 0 and 22, got %d", c.Cache.CompressionLevel))
	}

	switch c.Audio.Device {
	case DeviceOto, DeviceMock:
	default:
		errs = append(errs, fmt.Errorf("invalid audio device %q: use %s or %s", c.Audio.Device, DeviceOto, DeviceMock))
	}
	if c.Audio.SampleRate != 44100 && c.Audio.SampleRate != 48000 {
		errs = append(errs, fmt.Errorf("invalid sample rate %d: use 44100 or 48000", c.Audio.SampleRate))
	}
	if c.Audio.Channels != 1 && c.Audio.Channels != 2 {
		errs = append(errs, fmt.Errorf("audio.channels must be 1 or 2, got %d", c.Audio.Channels))
	}
	if c.Audio.Volume < 0 || c.Audio.Volume > 1 {
		errs = append(errs, fmt.Errorf("volume must be between 0.0 and 1.0, got %.2f", c.Audio.Volume))
	}

	if strings.TrimSpace(c.Preview.Phrase) == "" {
		errs = append(errs, errors.New("preview.phrase cannot be empty"))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log level %q", c.Log.Level))
	}

	return errors.Join(errs...)
}
