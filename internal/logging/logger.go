package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/edvin/certverify/internal/config"
)

// NewLogger creates the process-wide JSON logger. The service name is
// attached to every line and the level comes from LOG_LEVEL.
func NewLogger(cfg *config.Config) zerolog.Logger {
	return newLogger(os.Stdout, cfg)
}

func newLogger(w io.Writer, cfg *config.Config) zerolog.Logger {
	ctx := zerolog.New(w).With().Timestamp()
	if cfg.ServiceName != "" {
		ctx = ctx.Str("service", cfg.ServiceName)
	}
	if cfg.Store != "" {
		ctx = ctx.Str("store", cfg.Store)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return ctx.Logger().Level(level)
}

// Component returns a child logger tagged with the component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
