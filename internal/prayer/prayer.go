// Package prayer holds the prayer value the audio core plays, the rule that
// freezes a prayer's body once audio exists, and speakable-text extraction.
package prayer

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrBodyImmutable is returned when editing the body of a prayer that already
// has generated audio.
var ErrBodyImmutable = errors.New("prayer text can't be changed once audio has been generated")

// Prayer is a journal entry. The audio core receives prayers by value and
// never mutates them.
type Prayer struct {
	ID        string    `yaml:"id" json:"id"`
	Title     string    `yaml:"title" json:"title"`
	Body      string    `yaml:"body" json:"body"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at"`
}

// WithTitle returns a copy with a new title. Titles stay editable.
func (p Prayer) WithTitle(title string) Prayer {
	p.Title = title
	p.UpdatedAt = time.Now()
	return p
}

// WithBody returns a copy with a new body. locked reports whether generated
// audio exists for any voice of this prayer.
func (p Prayer) WithBody(body string, locked bool) (Prayer, error) {
	if locked && body != p.Body {
		return p, ErrBodyImmutable
	}
	p.Body = body
	p.UpdatedAt = time.Now()
	return p, nil
}

// prayerFile is the local YAML file the host reads prayers from.
type prayerFile struct {
	Prayers []Prayer `yaml:"prayers"`
}

// LoadFile reads prayers from a YAML file of the form `prayers: [...]`.
func LoadFile(path string) ([]Prayer, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read prayers: %w", err)
	}
	var f prayerFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("unable to parse prayers %s: %w", path, err)
	}
	seen := make(map[string]bool, len(f.Prayers))
	for i, p := range f.Prayers {
		if strings.TrimSpace(p.ID) == "" {
			return nil, fmt.Errorf("prayer #%d has no id", i+1)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("duplicate prayer id %q", p.ID)
		}
		seen[p.ID] = true
	}
	return f.Prayers, nil
}

// Find returns the prayer with the given id.
func Find(prayers []Prayer, id string) (Prayer, bool) {
	for _, p := range prayers {
		if p.ID == id {
			return p, true
		}
	}
	return Prayer{}, false
}
