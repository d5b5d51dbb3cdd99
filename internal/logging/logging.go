// Shoal is a Redfish aggregator service.
// Copyright (C) 2025  Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package logging builds the slog.Logger the rest of the service shares.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New constructs a text-handler slog.Logger at the given level. Recognized
// levels are "debug", "info", "warn" and "error"; anything else falls back
// to info.
func New(level string) *slog.Logger {
	return NewWithWriter(os.Stderr, level)
}

// NewWithWriter is like New but writes to the given file instead of
// stderr.
func NewWithWriter(w *os.File, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// WithCorrelationID returns a logger with the correlation id attached as a
// structured field, for call sites that already hold the id string (e.g.
// after internal/ctxkeys.EnsureCorrelationID).
func WithCorrelationID(logger *slog.Logger, id string) *slog.Logger {
	if id == "" {
		return logger
	}
	return logger.With(slog.String("correlation_id", id))
}
