// Package scan merges the keyboard and serial capture paths into a single
// stream of scan events.
package scan

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/storekeeper/scanbridge/internal/clock"
)

// Bus is a pure fan-in: every Publish becomes exactly one Event handed to the
// consumer running Run, in publish order. There is no queue between producer
// and consumer; Publish waits until the consumer takes the event.
type Bus struct {
	clock  clock.Clock
	logger *slog.Logger
	events chan Event
	done   chan struct{}
	once   sync.Once
	newID  func() string
}

func NewBus(clk clock.Clock, logger *slog.Logger) *Bus {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		clock:  clk,
		logger: logger,
		events: make(chan Event),
		done:   make(chan struct{}),
		newID:  uuid.NewString,
	}
}

// Publish stamps a barcode with a fresh scan id and capture time and hands
// it to the consumer. It returns false if the bus stopped before the event
// was taken.
func (b *Bus) Publish(source Source, barcode, origin string) (Event, bool) {
	ev := Event{
		ID:         b.newID(),
		Barcode:    barcode,
		Source:     source,
		Origin:     origin,
		DetectedAt: b.clock.Now(),
	}
	select {
	case b.events <- ev:
		b.logger.Debug("scan published", "scan_id", ev.ID, "source", source, "origin", origin)
		return ev, true
	case <-b.done:
		b.logger.Warn("scan dropped, bus stopped", "source", source, "origin", origin)
		return ev, false
	}
}

// Run delivers events to handle until ctx is cancelled. The handler is
// called from this goroutine only, so it sees events in delivery order.
func (b *Bus) Run(ctx context.Context, handle func(Event)) {
	defer b.stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.events:
			handle(ev)
		}
	}
}

func (b *Bus) stop() {
	b.once.Do(func() { close(b.done) })
}
