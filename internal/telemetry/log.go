// Package telemetry is a thin log/slog wrapper matching the teacher's
// terse "component: message key=value" call-site style, used in place of
// the teacher's plain log.Printf (internal/telegram/bot.go) now that
// multiple engines/subsystems need leveled, structured output.
package telemetry

import (
	"io"
	"log/slog"
	"os"
)

// New builds a text-handler logger writing to w (os.Stderr if nil),
// matching the teacher's unadorned log output rather than switching to
// JSON — this stays human-readable in a terminal or systemd journal.
func New(w io.Writer, level slog.Level) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
