package logging

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/pingup-app/eventd/internal/config"
)

// NewLogger creates a structured zerolog.Logger with observability context
// fields from the config. Non-empty fields are added automatically.
func NewLogger(cfg *config.Config) zerolog.Logger {
	ctx := zerolog.New(os.Stdout).With().Timestamp()

	if cfg.ServiceName != "" {
		ctx = ctx.Str("service", cfg.ServiceName)
	}

	logger := ctx.Logger()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	return logger.Level(level)
}
