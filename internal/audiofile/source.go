// Package audiofile loads encoded prayer audio: rendered files downloaded
// from the backend and sample files bundled with the voice catalog.
package audiofile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prayonit/prayon/internal/apperr"
	"github.com/prayonit/prayon/internal/cache"
	"golang.org/x/time/rate"
)

// MaxFileSize bounds a downloaded audio file.
const MaxFileSize = 64 << 20

// Fetcher opens the audio behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// HTTPFetcher downloads audio over HTTP(S) at a bounded rate.
type HTTPFetcher struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPFetcher creates a fetcher. A zero perMinute disables pacing.
func NewHTTPFetcher(client *http.Client, perMinute int) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return &HTTPFetcher{client: client, limiter: rate.NewLimiter(limit, 2)}
}

// Fetch issues a GET and returns the body. Non-2xx answers are network
// failures.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, apperr.New(apperr.CodeNetworkFailure, "download cancelled", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, apperr.New(apperr.CodeNetworkFailure, "download "+url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, apperr.Newf(apperr.CodeNetworkFailure, "download %s: HTTP status %d", url, resp.StatusCode)
	}
	return resp.Body, nil
}

// Source serves audio files through the cache.
type Source struct {
	fetchers   map[string]Fetcher
	cache      *cache.Manager
	bundledDir string
	logger     *log.Logger
}

// Option configures a Source.
type Option func(*Source)

// WithFetcher routes URLs starting with prefix to f. The longest matching
// prefix wins; the empty prefix is the fallback.
func WithFetcher(prefix string, f Fetcher) Option {
	return func(s *Source) { s.fetchers[prefix] = f }
}

// WithCache stores downloads in c.
func WithCache(c *cache.Manager) Option {
	return func(s *Source) { s.cache = c }
}

// WithBundledDir sets the directory bundled sample files are read from.
func WithBundledDir(dir string) Option {
	return func(s *Source) { s.bundledDir = dir }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Source) { s.logger = l }
}

// NewSource creates a source. Without options it downloads over HTTP and
// caches nothing.
func NewSource(opts ...Option) *Source {
	s := &Source{fetchers: make(map[string]Fetcher)}
	for _, o := range opts {
		o(s)
	}
	if _, ok := s.fetchers[""]; !ok {
		s.fetchers[""] = NewHTTPFetcher(nil, 0)
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	s.logger = s.logger.WithPrefix("audiofile")
	return s
}

// Load returns the encoded audio of a rendered file. assetKey identifies
// the (prayer, voice) the file belongs to and scopes the cache entry.
func (s *Source) Load(ctx context.Context, assetKey, url string) ([]byte, error) {
	ck := cache.Key(assetKey, url)
	if s.cache != nil {
		if data, ok := s.cache.Get(ck); ok {
			s.logger.Debug("Cache hit", "key", assetKey)
			return data, nil
		}
	}

	start := time.Now()
	rc, err := s.fetcher(url).Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(rc, MaxFileSize+1))
	if err != nil {
		return nil, apperr.New(apperr.CodeNetworkFailure, "download "+url, err)
	}
	if len(data) > MaxFileSize {
		return nil, apperr.Newf(apperr.CodeDecodeFailure, "%s exceeds %d bytes", url, MaxFileSize)
	}
	if len(data) == 0 {
		return nil, apperr.Newf(apperr.CodeDecodeFailure, "%s is empty", url)
	}
	s.logger.Debug("Downloaded audio", "key", assetKey, "bytes", len(data), "duration", time.Since(start))

	if s.cache != nil {
		if err := s.cache.Put(ck, data); err != nil {
			s.logger.Debug("Audio not cached", "key", assetKey, "err", err)
		}
	}
	return data, nil
}

// Forget drops the cached copy of a rendered file.
func (s *Source) Forget(assetKey, url string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Delete(cache.Key(assetKey, url))
}

// LoadBundled reads a sample shipped with the catalog. name is relative to
// the bundle directory; absolute paths are used as is.
func (s *Source) LoadBundled(name string) ([]byte, error) {
	if name == "" {
		return nil, errors.New("no bundled file")
	}
	p := name
	if !filepath.IsAbs(p) {
		if s.bundledDir == "" {
			return nil, fmt.Errorf("bundled file %q: no bundle directory configured", name)
		}
		p = filepath.Join(s.bundledDir, filepath.Clean("/"+name))
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("unable to read bundled file: %w", err)
	}
	return data, nil
}

func (s *Source) fetcher(url string) Fetcher {
	best, bestLen := s.fetchers[""], -1
	for prefix, f := range s.fetchers {
		if strings.HasPrefix(url, prefix) && len(prefix) > bestLen {
			best, bestLen = f, len(prefix)
		}
	}
	return best
}
