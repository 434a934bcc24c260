package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/prayonit/prayon/internal/asset"
	"github.com/prayonit/prayon/internal/audio"
	"github.com/prayonit/prayon/internal/audiofile"
	"github.com/prayonit/prayon/internal/buildclient"
	"github.com/prayonit/prayon/internal/cache"
	"github.com/prayonit/prayon/internal/config"
	"github.com/prayonit/prayon/internal/playback"
	"github.com/prayonit/prayon/internal/prayer"
	"github.com/prayonit/prayon/internal/speech"
	"github.com/prayonit/prayon/internal/voice"
)

// app is the assembled audio core.
type app struct {
	cfg     config.Config
	logger  *log.Logger
	catalog *voice.Catalog
	prayers []prayer.Prayer

	backend buildclient.Client
	store   *asset.Store
	cache   *cache.Manager
	files   *audiofile.Source
	player  audio.Player
	ctrl    *playback.Controller
}

func newApp(ctx context.Context, cfg config.Config, logger *log.Logger) (*app, error) {
	if logger == nil {
		logger = log.Default()
	}
	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	var sim *buildclient.Simulated
	switch cfg.Backend.Mode {
	case config.BackendHTTP:
		c, err := buildclient.NewHTTPClient(buildclient.HTTPConfig{
			BaseURL:           cfg.Backend.URL,
			Token:             cfg.Backend.Token,
			Timeout:           cfg.Backend.Timeout,
			RequestsPerMinute: cfg.Backend.RequestsPerMinute,
			Logger:            logger,
		})
		if err != nil {
			return nil, err
		}
		a.backend = c
	default:
		sim = buildclient.NewSimulated(cfg.Backend.SimulatedDelay, logger)
		a.backend = sim
	}
	logger.Debug("Backend", "mode", cfg.Backend.Mode)

	var err error
	if a.catalog, err = loadCatalog(ctx, cfg); err != nil {
		return nil, err
	}
	if a.prayers, err = loadPrayers(cfg); err != nil {
		return nil, err
	}

	dir := cfg.Cache.Dir
	if dir == "" {
		if dir, err = defaultCacheDir(); err != nil {
			return nil, err
		}
	}
	a.cache, err = cache.NewManager(cache.Config{
		MemoryCapacity:   int64(cfg.Cache.MemoryMB) << 20,
		DiskCapacity:     int64(cfg.Cache.DiskMB) << 20,
		DiskPath:         dir,
		CompressionLevel: cfg.Cache.CompressionLevel,
		TTL:              cfg.Cache.TTL,
		CleanupInterval:  time.Hour,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("unable to open audio cache: %w", err)
	}

	download := audiofile.NewHTTPFetcher(&http.Client{Timeout: time.Minute}, cfg.Backend.RequestsPerMinute)
	opts := []audiofile.Option{
		audiofile.WithCache(a.cache),
		audiofile.WithLogger(logger),
		audiofile.WithFetcher("", download),
	}
	if cfg.Audio.BundleDir != "" {
		opts = append(opts, audiofile.WithBundledDir(cfg.Audio.BundleDir))
	}
	if sim != nil {
		opts = append(opts, audiofile.WithFetcher(buildclient.SimulatedScheme, sim))
	}
	a.files = audiofile.NewSource(opts...)

	var synth speech.Synthesizer
	switch cfg.Speech.Engine {
	case config.EnginePiper:
		p, err := speech.NewPiper(speech.PiperConfig{
			Binary:    cfg.Speech.Binary,
			ModelsDir: cfg.Speech.ModelsDir,
			Speed:     cfg.Speech.Speed,
			Timeout:   cfg.Speech.Timeout,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		if err := p.Available(); err != nil {
			logger.Warn("Piper is not available", "err", err)
		}
		synth = p
	default:
		synth = speech.NewTone()
	}

	if a.player, err = newPlayer(cfg, logger); err != nil {
		return nil, err
	}

	a.store = asset.NewStore(a.backend, asset.Config{
		PollInterval: cfg.Backend.PollInterval,
		BuildTimeout: cfg.Backend.BuildTimeout,
		Logger:       logger,
	})

	a.ctrl, err = playback.New(playback.Deps{
		Catalog: a.catalog,
		Store:   a.store,
		Synth:   synth,
		Files:   a.files,
		Player:  a.player,
	}, playback.Config{
		PreviewPhrase: cfg.Preview.Phrase,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

func newPlayer(cfg config.Config, logger *log.Logger) (audio.Player, error) {
	if cfg.Audio.Device == config.DeviceMock {
		p := audio.DefaultMockPlayer()
		if err := p.SetVolume(cfg.Audio.Volume); err != nil {
			return nil, err
		}
		return p, nil
	}
	pc := audio.DefaultPlayerConfig()
	pc.Format = audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels}
	pc.Volume = cfg.Audio.Volume
	pc.Logger = logger
	p, err := audio.NewOtoPlayer(pc)
	if err != nil {
		return nil, fmt.Errorf("unable to open audio device (set audio.device to mock to run without one): %w", err)
	}
	return p, nil
}

func loadCatalog(ctx context.Context, cfg config.Config) (*voice.Catalog, error) {
	switch {
	case cfg.Voices.File != "":
		return voice.LoadCatalogFile(cfg.Voices.File)
	case cfg.Voices.Remote:
		client := &http.Client{Timeout: cfg.Backend.Timeout}
		return voice.FetchCatalog(ctx, client, cfg.Backend.URL, cfg.Backend.Token)
	default:
		return voice.DefaultCatalog(), nil
	}
}

func loadPrayers(cfg config.Config) ([]prayer.Prayer, error) {
	if cfg.Prayers == "" {
		return samplePrayers(), nil
	}
	ps, err := prayer.LoadFile(cfg.Prayers)
	if err != nil {
		return nil, err
	}
	if len(ps) == 0 {
		return nil, fmt.Errorf("no prayers in %s", cfg.Prayers)
	}
	return ps, nil
}

func defaultCacheDir() (string, error) {
	dir, err := gap.NewScope(gap.User, "prayon").CacheDir()
	if err != nil {
		return "", fmt.Errorf("unable to find cache directory: %w", err)
	}
	return filepath.Join(dir, "audio"), nil
}

// findPrayer looks a prayer up by id.
func (a *app) findPrayer(id string) (prayer.Prayer, error) {
	p, ok := prayer.Find(a.prayers, id)
	if !ok {
		return prayer.Prayer{}, fmt.Errorf("no prayer with id %q", id)
	}
	return p, nil
}

// remoteVoices returns the voices whose audio is generated by the backend.
func (a *app) remoteVoices() []voice.Voice {
	var out []voice.Voice
	for _, v := range a.catalog.All() {
		if v.Provider.IsRemote() {
			out = append(out, v)
		}
	}
	return out
}

// Close releases everything newApp opened. It is safe on a partial app.
func (a *app) Close() {
	if a.ctrl != nil {
		a.ctrl.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	var errs []error
	if a.player != nil {
		errs = append(errs, a.player.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("Error during shutdown", "err", err)
	}
}

func samplePrayers() []prayer.Prayer {
	created := time.Date(2024, time.March, 3, 7, 0, 0, 0, time.UTC)
	return []prayer.Prayer{
		{
			ID:        "morning",
			Title:     "Morning offering",
			Body:      "Lord, thank you for this new day.\n\nGuide my words and my work, and let me *notice* the people you put in my path.",
			CreatedAt: created,
			UpdatedAt: created,
		},
		{
			ID:        "evening",
			Title:     "Evening rest",
			Body:      "As this day ends, I give you what went well and what did not.\n\n- Forgive what I got wrong.\n- Keep the ones I love safe tonight.",
			CreatedAt: created,
			UpdatedAt: created,
		},
		{
			ID:        "serenity",
			Title:     "Serenity",
			Body:      "Grant me the serenity to accept the things I cannot change, courage to change the things I can, and wisdom to know the difference.",
			CreatedAt: created,
			UpdatedAt: created,
		},
	}
}
