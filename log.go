package main

import (
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
)

func getLogFilePath() (string, error) {
	dir, err := gap.NewScope(gap.User, "prayon").CacheDir()
	if err != nil {
		return "", err //nolint:wrapcheck
	}
	return filepath.Join(dir, "prayon.log"), nil
}

// setupLog sends the default logger to a file in the user cache dir. The
// terminal belongs to the TUI and command output.
func setupLog() (func() error, error) {
	log.SetOutput(io.Discard)

	logFile, err := getLogFilePath()
	if err != nil {
		return nil, err
	}
	return openLog(logFile)
}

func openLog(path string) (func() error, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec
		return nil, err //nolint:wrapcheck
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	log.SetOutput(f)
	log.SetReportTimestamp(true)
	log.SetLevel(log.InfoLevel)
	return f.Close, nil
}

// applyLogConfig sets the level and, when configured, moves the log to
// another file.
func applyLogConfig(level, file string, closer *func() error) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return err //nolint:wrapcheck
	}
	if file != "" {
		c, err := openLog(file)
		if err != nil {
			return err
		}
		_ = (*closer)()
		*closer = c
	}
	log.SetLevel(lvl)
	return nil
}
