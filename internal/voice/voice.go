// Package voice describes the synthesis voices a prayer can be spoken with
// and the immutable catalog they are loaded into.
package voice

import (
	"fmt"
	"strings"
)

// Provider is where a voice's audio comes from.
type Provider int

const (
	// ProviderOnDevice voices are synthesized locally.
	ProviderOnDevice Provider = iota
	// ProviderRemoteFile voices play a file pre-rendered by the backend.
	ProviderRemoteFile
	// ProviderRemoteSynthesized voices are rendered by the backend on request.
	ProviderRemoteSynthesized
)

// String returns the wire name of the provider.
func (p Provider) String() string {
	switch p {
	case ProviderOnDevice:
		return "on-device"
	case ProviderRemoteFile:
		return "remote-file"
	case ProviderRemoteSynthesized:
		return "remote-synthesized"
	default:
		return "unknown"
	}
}

// IsRemote reports whether audio for this provider is generated by the backend.
func (p Provider) IsRemote() bool {
	return p == ProviderRemoteFile || p == ProviderRemoteSynthesized
}

// ParseProvider parses a wire name.
func ParseProvider(s string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on-device", "ondevice", "local":
		return ProviderOnDevice, nil
	case "remote-file", "file":
		return ProviderRemoteFile, nil
	case "remote-synthesized", "remote":
		return ProviderRemoteSynthesized, nil
	default:
		return 0, fmt.Errorf("unknown voice provider %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Provider) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Provider) UnmarshalText(b []byte) error {
	v, err := ParseProvider(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Voice is a synthesis voice. Voices are immutable once loaded.
type Voice struct {
	ID       string   `yaml:"id" json:"id"`
	Name     string   `yaml:"name" json:"name"`
	Provider Provider `yaml:"provider" json:"provider"`
	Language string   `yaml:"language,omitempty" json:"language,omitempty"`

	// BundledFile is an optional sample shipped with the app, relative to the
	// bundle directory. Remote voices use it for previews.
	BundledFile string `yaml:"bundled_file,omitempty" json:"bundled_file,omitempty"`

	// Model is the piper model for on-device voices.
	Model string `yaml:"model,omitempty" json:"model,omitempty"`
}

// Validate checks the fields every voice needs.
func (v Voice) Validate() error {
	if strings.TrimSpace(v.ID) == "" {
		return fmt.Errorf("voice id is required")
	}
	if strings.TrimSpace(v.Name) == "" {
		return fmt.Errorf("voice %q: name is required", v.ID)
	}
	switch v.Provider {
	case ProviderOnDevice, ProviderRemoteFile, ProviderRemoteSynthesized:
	default:
		return fmt.Errorf("voice %q: invalid provider %d", v.ID, v.Provider)
	}
	return nil
}

// String returns "Name (provider)".
func (v Voice) String() string {
	return fmt.Sprintf("%s (%s)", v.Name, v.Provider)
}
