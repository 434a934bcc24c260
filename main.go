// Package main provides the entry point for the prayon CLI application.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/prayonit/prayon/internal/config"
	"github.com/prayonit/prayon/internal/prayer"
	"github.com/prayonit/prayon/ui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile        string
	defaultConfigFile string
	width             int
	cfg               config.Config
	logCloser         = func() error { return nil }

	rootCmd = &cobra.Command{
		Use:   "prayon",
		Short: "Listen to your prayers",
		Long: paragraph(
			fmt.Sprintf("\nListen to your prayers, %s or in a voice rendered for you.", keyword("spoken on your device")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateOptions(cmd)
		},
		RunE: execute,
	}
)

// needsConfig reports whether cmd assembles the audio core.
func needsConfig(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case configCmd.Name(), "man", "completion", "help": // "man" is manCmd.Name(); referencing manCmd here is an init cycle
		return false
	}
	return true
}

func validateOptions(cmd *cobra.Command) error {
	if cmd.Flags().Changed("config") {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("unable to read config file %s: %w", configFile, err)
		}
	}

	isTerminal := term.IsTerminal(int(os.Stdout.Fd()))
	if isTerminal {
		if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
			width = w
		}
	}
	if width == 0 {
		width = 80
	}
	if width > 120 {
		width = 120
	}

	if !needsConfig(cmd) {
		return nil
	}
	var err error
	cfg, err = config.Load(viper.GetViper())
	if err != nil {
		return err //nolint:wrapcheck
	}
	if err := applyLogConfig(cfg.Log.Level, cfg.Log.File, &logCloser); err != nil {
		return fmt.Errorf("unable to set up logging: %w", err)
	}
	log.Debug("Configuration loaded", "backend", cfg.Backend.Mode, "speech", cfg.Speech.Engine, "device", cfg.Audio.Device)
	return nil
}

func execute(cmd *cobra.Command, _ []string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return printOverview(cmd)
	}
	return runTUI(cmd.Context())
}

// printOverview lists prayers and voices when there is no terminal to run
// the TUI in.
func printOverview(cmd *cobra.Command) error {
	a, err := newApp(cmd.Context(), cfg, log.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "Prayers:")
	for _, p := range a.prayers {
		fmt.Fprintln(w, line(fmt.Sprintf("  %-12s %s", p.ID, p.Title)))
	}
	fmt.Fprintln(w, "\nVoices:")
	for _, v := range a.catalog.All() {
		fmt.Fprintln(w, line(fmt.Sprintf("  %-12s %s", v.ID, v)))
	}
	return nil
}

func runTUI(ctx context.Context) error {
	// Read environment to get debugging stuff
	uiCfg, err := env.ParseAs[ui.Config]()
	if err != nil {
		return fmt.Errorf("error parsing config: %v", err)
	}

	a, err := newApp(ctx, cfg, log.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	deps := ui.Deps{
		Controller: a.ctrl,
		Store:      a.store,
		Catalog:    a.catalog,
		Prayers:    a.prayers,
		Cache:      a.cache,
	}
	if cfg.Prayers != "" {
		w, err := prayer.Watch(cfg.Prayers, log.Default())
		if err != nil {
			log.Warn("Prayers file will not be reloaded", "err", err)
		} else {
			defer w.Close() //nolint:errcheck
			log.Debug("Watching prayers", "path", w.Path())
			deps.Watcher = w
		}
	}
	if _, err := ui.NewProgram(uiCfg, deps).Run(); err != nil {
		return fmt.Errorf("unable to run tui program: %w", err)
	}
	return nil
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	logCloser = closer

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err = rootCmd.ExecuteContext(ctx)
	stop()
	_ = logCloser()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	config.SetDefaults(viper.GetViper())
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	flags.String("backend", "", "audio backend: http or simulated")
	flags.String("backend-url", "", "base url of the prayer audio API")
	flags.String("prayers", "", "YAML file to read prayers from")
	flags.String("voices", "", "YAML voice catalog (default: built-in voices)")
	flags.String("speech", "", "on-device speech engine: piper or tone")
	flags.String("device", "", "audio output: oto or mock")
	flags.String("log-level", "", "log level: debug, info, warn or error")

	// Config bindings
	_ = viper.BindPFlag("backend.mode", flags.Lookup("backend"))
	_ = viper.BindPFlag("backend.url", flags.Lookup("backend-url"))
	_ = viper.BindPFlag("prayers", flags.Lookup("prayers"))
	_ = viper.BindPFlag("voices.file", flags.Lookup("voices"))
	_ = viper.BindPFlag("speech.engine", flags.Lookup("speech"))
	_ = viper.BindPFlag("audio.device", flags.Lookup("device"))
	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))

	rootCmd.AddCommand(playCmd, previewCmd, generateCmd, statusCmd, voicesCmd, configCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "prayon")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "prayon")}, dirs...)
	}

	if c := os.Getenv("PRAYON_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("prayon")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("prayon")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", used)
		return
	}

	defaultConfigFile = filepath.Join(dirs[0], "prayon.yml")
	if _, err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
