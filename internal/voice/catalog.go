package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/prayonit/prayon/internal/apperr"
	"github.com/sahilm/fuzzy"
	"gopkg.in/yaml.v3"
)

// Catalog is the immutable set of voices available to this process.
type Catalog struct {
	voices []Voice
	byID   map[string]int
}

// catalogFile is the on-disk and on-wire shape of a catalog.
type catalogFile struct {
	Voices []Voice `yaml:"voices" json:"voices"`
}

// NewCatalog validates voices and builds a catalog. Duplicate ids are rejected.
func NewCatalog(voices []Voice) (*Catalog, error) {
	c := &Catalog{
		voices: make([]Voice, 0, len(voices)),
		byID:   make(map[string]int, len(voices)),
	}
	for _, v := range voices {
		if err := v.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.byID[v.ID]; dup {
			return nil, fmt.Errorf("duplicate voice id %q", v.ID)
		}
		c.byID[v.ID] = len(c.voices)
		c.voices = append(c.voices, v)
	}
	return c, nil
}

// DefaultCatalog returns the voices shipped with the app.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog([]Voice{
		{ID: "device-amy", Name: "Amy", Provider: ProviderOnDevice, Language: "en-US", Model: "en_US-amy-medium.onnx"},
		{ID: "device-alan", Name: "Alan", Provider: ProviderOnDevice, Language: "en-GB", Model: "en_GB-alan-medium.onnx"},
		{ID: "grace", Name: "Grace", Provider: ProviderRemoteFile, Language: "en-US", BundledFile: "grace.mp3"},
		{ID: "samuel", Name: "Samuel", Provider: ProviderRemoteFile, Language: "en-US", BundledFile: "samuel.mp3"},
		{ID: "miriam", Name: "Miriam", Provider: ProviderRemoteSynthesized, Language: "en-US"},
	})
	if err != nil {
		panic(err)
	}
	return c
}

// LoadCatalogFile reads a YAML catalog of the form `voices: [...]`.
func LoadCatalogFile(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read voice catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("unable to parse voice catalog %s: %w", path, err)
	}
	return NewCatalog(f.Voices)
}

// FetchCatalog loads the voice list from the backend's GET {baseURL}/voices.
func FetchCatalog(ctx context.Context, client *http.Client, baseURL, token string) (*Catalog, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("unable to create voices request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, apperr.New(apperr.CodeNetworkFailure, "fetch voices", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Newf(apperr.CodeNetworkFailure, "fetch voices: HTTP status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperr.New(apperr.CodeNetworkFailure, "read voices", err)
	}
	var f catalogFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, apperr.New(apperr.CodeDecodeFailure, "decode voices", err)
	}
	c, err := NewCatalog(f.Voices)
	if err != nil {
		return nil, apperr.New(apperr.CodeDecodeFailure, "invalid voice list", err)
	}
	return c, nil
}

// Lookup returns the voice with the given id.
func (c *Catalog) Lookup(id string) (Voice, error) {
	i, ok := c.byID[id]
	if !ok {
		return Voice{}, apperr.Newf(apperr.CodeVoiceNotFound, "voice %q", id)
	}
	return c.voices[i], nil
}

// All returns a copy of the voices in catalog order.
func (c *Catalog) All() []Voice {
	out := make([]Voice, len(c.voices))
	copy(out, c.voices)
	return out
}

// Len returns the number of voices.
func (c *Catalog) Len() int { return len(c.voices) }

// Filter returns voices whose name or id fuzzily match query, best first.
// An empty query returns every voice.
func (c *Catalog) Filter(query string) []Voice {
	query = strings.TrimSpace(query)
	if query == "" {
		return c.All()
	}
	matches := fuzzy.FindFrom(query, searchSource(c.voices))
	out := make([]Voice, 0, len(matches))
	for _, m := range matches {
		out = append(out, c.voices[m.Index])
	}
	return out
}

type searchSource []Voice

func (s searchSource) String(i int) string { return s[i].Name + " " + s[i].ID }
func (s searchSource) Len() int            { return len(s) }
