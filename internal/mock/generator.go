// Package mock simulates a keyboard-wedge barcode scanner and a small demo
// inventory so the daemon can be exercised without hardware or a backend.
package mock

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/storekeeper/scanbridge/internal/clock"
	"github.com/storekeeper/scanbridge/internal/inventory"
	"github.com/storekeeper/scanbridge/internal/keyboard"
)

const (
	// DeviceName is reported as the origin of simulated scans.
	DeviceName = "mock-scanner"

	scannerGap = 8 * time.Millisecond   // typical wedge scanner inter-key time
	humanGap   = 180 * time.Millisecond // comfortable typing speed
	humanEvery = 4                      // every Nth tick is a typed word instead of a scan
)

// humanWords are typed at human speed to show the classifier rejecting them.
var humanWords = []string{"hello", "receipt", "cash"}

// Generator is a keyboard.KeySource that types barcodes at scanner speed on
// a fixed interval. Event timestamps are synthesized from the clock, so the
// classifier sees realistic gaps without the generator sleeping between
// keys.
type Generator struct {
	barcodes []string
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger
	tick     int
}

func NewGenerator(barcodes []string, interval time.Duration, clk clock.Clock, logger *slog.Logger) *Generator {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{barcodes: barcodes, interval: interval, clock: clk, logger: logger}
}

// Run implements keyboard.KeySource.
func (g *Generator) Run(ctx context.Context, out chan<- keyboard.KeyEvent) error {
	if len(g.barcodes) == 0 {
		return fmt.Errorf("mock scanner: no barcodes configured")
	}
	ticker := g.clock.NewTicker(g.interval)
	defer ticker.Stop()

	g.logger.Info("mock scanner started", "interval", g.interval, "barcodes", len(g.barcodes))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			events := g.next()
			for _, ev := range events {
				select {
				case out <- ev:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

// next advances the tick counter and returns the key events for it.
func (g *Generator) next() []keyboard.KeyEvent {
	g.tick++
	if g.tick%humanEvery == 0 {
		word := humanWords[(g.tick/humanEvery-1)%len(humanWords)]
		g.logger.Debug("mock typing", "text", word)
		return Type(word+"\n", g.clock.Now(), humanGap, DeviceName)
	}
	code := g.barcodes[(g.tick-1-(g.tick-1)/humanEvery)%len(g.barcodes)]
	g.logger.Debug("mock scan", "barcode", code)
	return Type(code+"\n", g.clock.Now(), scannerGap, DeviceName)
}

// Type returns the press and release events that type s starting at start,
// one key every gap. Characters outside the key table are skipped.
func Type(s string, start time.Time, gap time.Duration, device string) []keyboard.KeyEvent {
	var events []keyboard.KeyEvent
	at := start
	for _, r := range s {
		keys, ok := keyboard.KeysFor(string(r))
		if !ok {
			continue
		}
		events = append(events,
			keyboard.KeyEvent{Key: keys[0], Transition: keyboard.Press, Time: at, Device: device},
			keyboard.KeyEvent{Key: keys[0], Transition: keyboard.Release, Time: at.Add(gap / 2), Device: device},
		)
		at = at.Add(gap)
	}
	return events
}

// SeedInventory fills backend with a demo item for every configured barcode
// (the outbound "-" prefix is ignored) plus a few fixed products.
func SeedInventory(backend *inventory.MemoryBackend, barcodes []string) {
	demo := []struct {
		barcode, name, unit string
		qty                 int
	}{
		{"8801043015653", "Shin Ramyun", "ea", 40},
		{"8801062636358", "Choco Pie", "box", 12},
		{"8801117752804", "Pepero Original", "ea", 25},
		{"8809022200119", "Jeju Samdasoo 2L", "bottle", 30},
	}
	known := make(map[string]bool)
	for _, d := range demo {
		backend.Add(d.barcode, d.name, d.unit, d.qty)
		known[d.barcode] = true
	}
	for i, raw := range barcodes {
		code := strings.TrimPrefix(strings.TrimSpace(raw), "-")
		if code == "" || known[code] {
			continue
		}
		backend.Add(code, fmt.Sprintf("Demo item %d", i+1), "ea", 20)
		known[code] = true
	}
}
