package logging

import (
	"io"

	"github.com/rs/zerolog"
)

// New creates a timestamped zerolog.Logger writing JSON to w. Unknown levels
// fall back to info.
func New(level string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).With().Timestamp().Str("app", "deploywait").Logger().Level(lvl)
}
