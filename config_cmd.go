package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# YAML file with your prayers (default: built-in samples)
# prayers: "~/prayers.yml"

# Audio generation backend
backend:
  # http or simulated
  mode: "simulated"
  # url: "https://api.example.com/v1"
  # token: ""
  timeout: "15s"
  requests_per_minute: 60
  poll_interval: "3s"
  build_timeout: "5m"
  # how long the simulated backend takes to render audio
  simulated_delay: "4s"

# Voice catalog
voices:
  # file: "~/voices.yml"
  # fetch the catalog from the backend (http mode only)
  remote: false

# On-device speech
speech:
  # piper or tone
  engine: "tone"
  binary: "piper"
  # models_dir: "~/.local/share/piper"
  speed: 1.0
  timeout: "30s"

# Downloaded audio cache
cache:
  # dir: "~/.cache/prayon/audio"
  memory_mb: 32
  disk_mb: 256
  ttl: "168h"
  # zstd level, 0 disables compression
  compression_level: 3

# Audio output
audio:
  # oto or mock
  device: "oto"
  sample_rate: 44100
  channels: 2
  volume: 1.0
  # directory with the voice preview samples
  # bundle_dir: "/usr/share/prayon/voices"

preview:
  phrase: "Lord, hear my prayer."

log:
  # debug, info, warn or error
  level: "info"
  # file: "~/prayon.log"
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the prayon config file",
	Long:    paragraph(fmt.Sprintf("\n%s the prayon config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("prayon config\nprayon config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		file, err := ensureConfigFile()
		if err != nil {
			return err
		}

		c, err := editor.Cmd("Prayon", file)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Wrote config file to:", file)
		return nil
	},
}

// configPath returns the config file in effect: --config, the file viper
// read, or the default location.
func configPath() string {
	if configFile != "" {
		return configFile
	}
	if used := viper.GetViper().ConfigFileUsed(); used != "" {
		return used
	}
	return defaultConfigFile
}

// ensureConfigFile writes the default config unless the file exists and
// returns its path.
func ensureConfigFile() (string, error) {
	file := configPath()
	if file == "" {
		return "", errors.New("no configuration directory found")
	}

	if ext := path.Ext(file); ext != ".yaml" && ext != ".yml" {
		return "", fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(file); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(file), 0o700); err != nil {
			return "", fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(file)
		if err != nil {
			return "", fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return "", fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return "", fmt.Errorf("unable to stat config file: %w", err)
	}
	return file, nil
}
