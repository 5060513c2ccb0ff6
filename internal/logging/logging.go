package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/yulincoder/Controller-Device/internal/config"
)

// New builds a zerolog logger from the [log] config section.
//
// level "none" disables output entirely (the original gateway honored the
// same sentinel). format "pretty" switches to the console writer; anything
// else emits JSON. When outfile is set, log lines are appended there
// instead of stdout.
func New(cfg config.LogConfig, service string) (zerolog.Logger, error) {
	if cfg.Level == "none" {
		return zerolog.Nop(), nil
	}

	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	var output io.Writer = os.Stdout
	if cfg.Outfile != "" {
		f, err := os.OpenFile(cfg.Outfile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("open log file: %w", err)
		}
		output = f
	}
	if cfg.Format == "pretty" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	logger := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", service).
		Logger()

	return logger, nil
}
