package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns a JSON logger on stdout tagged with component. Level and
// format come from COVER_LOG_LEVEL and COVER_LOG_FORMAT.
func NewLogger(component string) zerolog.Logger {
	w := Output(os.Getenv("COVER_LOG_FORMAT"), os.Stdout)
	return NewLoggerTo(w, component, ParseLogLevel(os.Getenv("COVER_LOG_LEVEL")))
}

func NewLoggerTo(w io.Writer, component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).Level(level).With().Timestamp().Str("component", component).Logger()
}

// Output wraps w for the given format. "console" is the human-readable
// development format; anything else is JSON.
func Output(format string, w io.Writer) io.Writer {
	if format == "console" {
		return zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	return w
}

// ParseLogLevel maps a level name to zerolog, with unknown names and the
// empty string meaning info.
func ParseLogLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(s)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond
}
