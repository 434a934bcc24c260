package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NoError(t, cfg.Validate(), "default config should be valid")
	assert.Equal(t, BackendSimulated, cfg.Backend.Mode)
	assert.Equal(t, "Lord, hear my prayer.", cfg.Preview.Phrase)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "valid config",
			modify: func(c *Config) {},
		},
		{
			name:   "invalid backend mode",
			modify: func(c *Config) { c.Backend.Mode = "grpc" },
			errMsg: "invalid backend mode",
		},
		{
			name:   "http without url",
			modify: func(c *Config) { c.Backend.Mode = BackendHTTP },
			errMsg: "backend.url is required",
		},
		{
			name: "http with bad url",
			modify: func(c *Config) {
				c.Backend.Mode = BackendHTTP
				c.Backend.URL = "ftp://example.com"
			},
			errMsg: "must be an http(s) url",
		},
		{
			name: "http with url",
			modify: func(c *Config) {
				c.Backend.Mode = BackendHTTP
				c.Backend.URL = "https://api.example.com/v1"
			},
		},
		{
			name:   "remote voices need http",
			modify: func(c *Config) { c.Voices.Remote = true },
			errMsg: "voices.remote needs backend.mode http",
		},
		{
			name:   "build timeout shorter than poll",
			modify: func(c *Config) { c.Backend.BuildTimeout = time.Second },
			errMsg: "build_timeout",
		},
		{
			name:   "piper without models",
			modify: func(c *Config) { c.Speech.Engine = EnginePiper },
			errMsg: "speech.models_dir is required",
		},
		{
			name:   "speed too high",
			modify: func(c *Config) { c.Speech.Speed = 3 },
			errMsg: "speech.speed must be between",
		},
		{
			name:   "invalid sample rate",
			modify: func(c *Config) { c.Audio.SampleRate = 22050 },
			errMsg: "invalid sample rate",
		},
		{
			name:   "volume too high",
			modify: func(c *Config) { c.Audio.Volume = 1.5 },
			errMsg: "volume must be between",
		},
		{
			name:   "cache too small",
			modify: func(c *Config) { c.Cache.MemoryMB = 0 },
			errMsg: "cache.memory_mb",
		},
		{
			name:   "compression level out of range",
			modify: func(c *Config) { c.Cache.CompressionLevel = 30 },
			errMsg: "cache.compression_level",
		},
		{
			name:   "empty preview phrase",
			modify: func(c *Config) { c.Preview.Phrase = "  " },
			errMsg: "preview.phrase",
		},
		{
			name:   "invalid log level",
			modify: func(c *Config) { c.Log.Level = "loud" },
			errMsg: "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Audio.Device = "speaker"
	cfg.Audio.Channels = 6

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "invalid audio device")
	assert.ErrorContains(t, err, "audio.channels")
}

func TestLoadFromViper(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prayon.yml")
	content := `
backend:
  mode: http
  url: https://api.example.com/v1
  poll_interval: 2s
  build_timeout: 1m
speech:
  speed: 1.25
cache:
  memory_mb: 8
  ttl: 12h
audio:
  device: mock
  volume: 0.5
preview:
  phrase: Be still.
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, BackendHTTP, cfg.Backend.Mode)
	assert.Equal(t, "https://api.example.com/v1", cfg.Backend.URL)
	assert.Equal(t, 2*time.Second, cfg.Backend.PollInterval)
	assert.Equal(t, time.Minute, cfg.Backend.BuildTimeout)
	assert.Equal(t, 60, cfg.Backend.RequestsPerMinute, "unset keys keep their defaults")
	assert.Equal(t, 1.25, cfg.Speech.Speed)
	assert.Equal(t, 8, cfg.Cache.MemoryMB)
	assert.Equal(t, 12*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, DeviceMock, cfg.Audio.Device)
	assert.Equal(t, 0.5, cfg.Audio.Volume)
	assert.Equal(t, "Be still.", cfg.Preview.Phrase)
}

func TestLoadExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	homedir.DisableCache = true
	defer func() { homedir.DisableCache = false }()

	v := viper.New()
	SetDefaults(v)
	v.Set("cache.dir", "~/prayon-cache")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "prayon-cache"), cfg.Cache.Dir)
}

func TestLoadRejectsInvalid(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("audio.sample_rate", 8000)

	_, err := Load(v)
	assert.Error(t, err)
}
