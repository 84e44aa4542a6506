package logger

import (
	"log/slog"
	"os"
)

// New returns a structured logger writing to stdout. format "text" is meant
// for local development; anything else gets JSON.
func New(format string) *slog.Logger {
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, nil)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, nil)
	}
	return slog.New(handler)
}
