package config

import (
	"io"
	"log/slog"
	"os"
)

// SetupLog installs a global text logger on stderr whose level follows LOG_LEVEL.
func SetupLog(cfg *Config) {
	slog.SetDefault(NewLogger(cfg, os.Stderr))
}

// NewLogger returns a text logger writing to w, tagged with the service name.
func NewLogger(cfg *Config, w io.Writer) *slog.Logger {
	var lv slog.LevelVar
	cfg.OnLogLevelChange(func(level slog.Level) { lv.Set(level) })
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: &lv})
	return slog.New(h).With("service", cfg.GetServiceName())
}
