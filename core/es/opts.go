package es

import "log/slog"

// LogOption sets the logger for engine components.
type LogOption struct{ v *slog.Logger }

// WithLog sets the logger for engine components.
func WithLog(l *slog.Logger) LogOption { return LogOption{v: l} }
