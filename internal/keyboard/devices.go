package keyboard

import (
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/storekeeper/scanbridge/internal/clock"
)

// defaultDeviceGlob matches the stable per-keyboard symlinks udev creates.
// Keyboard-wedge scanners enumerate as keyboards and show up here too.
const defaultDeviceGlob = "/dev/input/by-id/*-event-kbd"

// Devices reads key events from evdev input devices. When Paths is empty it
// watches every keyboard matching defaultDeviceGlob and picks up keyboards
// plugged in later on each rescan.
type Devices struct {
	Paths  []string
	Rescan time.Duration
	Clock  clock.Clock
	Logger *slog.Logger

	glob func(pattern string) ([]string, error)
}

func (d *Devices) candidates() []string {
	if len(d.Paths) > 0 {
		return d.Paths
	}
	glob := d.glob
	if glob == nil {
		glob = filepath.Glob
	}
	paths, err := glob(defaultDeviceGlob)
	if err != nil {
		d.logger().Warn("keyboard glob failed", "pattern", defaultDeviceGlob, "error", err)
		return nil
	}
	sort.Strings(paths)
	return paths
}

func (d *Devices) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d *Devices) clock() clock.Clock {
	if d.Clock == nil {
		return clock.Real()
	}
	return d.Clock
}
