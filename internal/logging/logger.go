package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const AppName = "markdown-composer"

// New builds the process logger and installs it as the zerolog global.
// Output goes to stderr so stdout stays free for the preview URL.
func New(level string) (zerolog.Logger, error) {
	return NewWithWriter(os.Stderr, level)
}

func NewWithWriter(w io.Writer, level string) (zerolog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}

	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	}
	logger := zerolog.New(output).Level(lvl).With().Timestamp().Str("app", AppName).Logger()
	log.Logger = logger
	return logger, nil
}

// ParseLevel accepts the zerolog level names plus "off" and "none".
// An empty string selects info.
func ParseLevel(raw string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, nil
	case "off", "none":
		return zerolog.Disabled, nil
	}
	return zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
}

// Component returns a child logger tagged with the component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
