package telemetry

import (
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps a config-supplied level string to a slog.Level. Unknown
// strings fall back to info rather than erroring: a typo in LOGGING_LEVEL
// should never stop the server from booting.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger installs the process-wide default slog logger. format "json"
// selects the JSON handler (production); anything else selects the text
// handler. Source locations are attached only at debug level.
//
// Installing the default means handlers and repositories can call
// slog.InfoContext etc. directly without threading a *slog.Logger around.
func SetupLogger(format, level string) {
	lvl := ParseLevel(level)

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialised", "format", format, "level", lvl.String())
}
