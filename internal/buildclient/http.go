package buildclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/prayonit/prayon/internal/apperr"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// maxResponseSize bounds status response bodies.
const maxResponseSize = 64 << 10

// HTTPConfig configures the backend client.
type HTTPConfig struct {
	// BaseURL of the backend API, e.g. https://api.example.com/v1.
	BaseURL string

	// Token is sent as a bearer token when set.
	Token string

	// Timeout per request (defaults to 15s).
	Timeout time.Duration

	// RequestsPerMinute paces calls to the backend (defaults to 120).
	RequestsPerMinute int

	// HTTPClient overrides the transport (optional).
	HTTPClient *http.Client

	Logger *log.Logger
}

// HTTPClient implements Client against the REST backend.
type HTTPClient struct {
	base    *url.URL
	token   string
	http    *http.Client
	limiter *rate.Limiter
	group   singleflight.Group
	logger  *log.Logger
}

// statusResponse is the body of both audio endpoints.
type statusResponse struct {
	Status string `json:"status"`
	URL    string `json:"url"`
}

type buildRequest struct {
	VoiceID string `json:"voice_id"`
}

// NewHTTPClient creates a backend client.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("backend base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("%s is not a supported protocol", base.Scheme)
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RequestsPerMinute == 0 {
		cfg.RequestsPerMinute = 120
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &HTTPClient{
		base:    base,
		token:   cfg.Token,
		http:    hc,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 4),
		logger:  logger.WithPrefix("buildclient"),
	}, nil
}

// RequestBuild asks the backend to render a prayer with a voice.
// Concurrent calls for one key share a single request.
func (c *HTTPClient) RequestBuild(ctx context.Context, prayerID, voiceID string) (Status, error) {
	v, err, shared := c.group.Do(prayerID+"\x00"+voiceID, func() (interface{}, error) {
		body, err := json.Marshal(buildRequest{VoiceID: voiceID})
		if err != nil {
			return Status{}, fmt.Errorf("unable to encode build request: %w", err)
		}
		return c.do(ctx, http.MethodPost, c.audioURL(prayerID, ""), body)
	})
	if shared {
		c.logger.Debug("Joined in-flight build request", "prayer", prayerID, "voice", voiceID)
	}
	st, _ := v.(Status)
	return st, err
}

// PollStatus reports the current render status of a key.
func (c *HTTPClient) PollStatus(ctx context.Context, prayerID, voiceID string) (Status, error) {
	return c.do(ctx, http.MethodGet, c.audioURL(prayerID, voiceID), nil)
}

func (c *HTTPClient) audioURL(prayerID, voiceID string) string {
	u := c.base.JoinPath("prayers", prayerID, "audio")
	if voiceID != "" {
		u.RawQuery = url.Values{"voice_id": {voiceID}}.Encode()
	}
	return u.String()
}

func (c *HTTPClient) do(ctx context.Context, method, target string, body []byte) (Status, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Status{}, apperr.New(apperr.CodeNetworkFailure, "rate limit wait cancelled", err)
	}

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return Status{}, fmt.Errorf("unable to create request: %w", err)
	}
	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("Backend request failed", "method", method, "url", target, "request_id", reqID, "err", err)
		return Status{}, apperr.New(apperr.CodeNetworkFailure, method+" "+target, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	c.logger.Debug("Backend request", "method", method, "url", target, "status", resp.StatusCode,
		"request_id", reqID, "duration", time.Since(start))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return Status{}, apperr.New(apperr.CodeNetworkFailure, "read response", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound && method == http.MethodGet:
		return Status{State: BuildMissing}, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return Status{}, apperr.Newf(apperr.CodeNetworkFailure, "%s %s: HTTP status %d", method, target, resp.StatusCode)
	case resp.StatusCode >= 400:
		return Status{}, apperr.Newf(apperr.CodeBuildFailed, "%s %s: HTTP status %d", method, target, resp.StatusCode).
			WithContext("body", string(raw))
	}

	st, err := decodeStatus(raw)
	if err != nil {
		c.logger.Error("Malformed backend response", "url", target, "request_id", reqID, "err", err)
		return Status{}, err
	}
	return st, nil
}

func decodeStatus(raw []byte) (Status, error) {
	var sr statusResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return Status{}, apperr.New(apperr.CodeDecodeFailure, "decode status", err)
	}
	state, err := parseBuildState(strings.ToLower(strings.TrimSpace(sr.Status)))
	if err != nil {
		return Status{}, apperr.New(apperr.CodeDecodeFailure, "decode status", err)
	}
	if state == BuildReady {
		if sr.URL == "" {
			return Status{}, apperr.Newf(apperr.CodeDecodeFailure, "ready status without url")
		}
		if _, err := url.ParseRequestURI(sr.URL); err != nil {
			return Status{}, apperr.New(apperr.CodeDecodeFailure, "ready status with invalid url", err)
		}
		return Status{State: state, URL: sr.URL}, nil
	}
	return Status{State: state}, nil
}

var _ Client = (*HTTPClient)(nil)
