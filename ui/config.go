package ui

import "time"

// Config contains TUI-specific configuration.
type Config struct {
	EnableMouse bool `env:"PRAYON_MOUSE"`

	// How long status messages stay in the footer.
	StatusTimeout time.Duration `env:"PRAYON_STATUS_TIMEOUT" envDefault:"3s"`

	// Copy audio URLs with the c key.
	Clipboard bool `env:"PRAYON_CLIPBOARD" envDefault:"true"`

	// For debugging the UI
	AltScreen bool `env:"PRAYON_ALT_SCREEN" envDefault:"true"`
}
