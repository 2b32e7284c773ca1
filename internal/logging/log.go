// Package logging builds the slog loggers used across the daemon. Every
// subsystem logs through a child logger tagged with its component name so
// output can be filtered per subsystem.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Component identifies a subsystem for log filtering.
type Component string

const (
	ComponentKeyboard  Component = "keyboard"
	ComponentSerial    Component = "serial"
	ComponentBus       Component = "bus"
	ComponentBroker    Component = "broker"
	ComponentWS        Component = "ws"
	ComponentInventory Component = "inventory"
	ComponentMock      Component = "mock"
)

// ParseLevel maps a config level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// New returns a text or JSON logger writing to w.
func New(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", format)
}

// For returns a child of logger tagged with the component. A nil logger
// means slog.Default().
func For(logger *slog.Logger, c Component) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", string(c))
}

// Discard returns a logger that drops everything. Tests use it to keep
// output quiet.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
