package logger

import (
	"log/slog"
)

func newStdHandler(cfg Config) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     effectiveLevel(cfg),
		AddSource: cfg.AddSource,
	}
	if cfg.Env != EnvDev {
		return slog.NewJSONHandler(cfg.Out, opts)
	}
	return slog.NewTextHandler(cfg.Out, opts)
}

// effectiveLevel: Debug включает debug, только если уровень не задан явно.
func effectiveLevel(cfg Config) slog.Level {
	if cfg.Debug && cfg.Level == 0 {
		return slog.LevelDebug
	}
	return cfg.Level
}
