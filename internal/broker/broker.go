// Package broker decides, for every scan event, whether an interactive UI
// session or the headless direct processor acts on it. Each scan is acted on
// exactly once: the first of an acknowledgment and the deadline timer claims
// it, and the loser becomes a no-op.
package broker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/storekeeper/scanbridge/internal/clock"
	"github.com/storekeeper/scanbridge/internal/metrics"
	"github.com/storekeeper/scanbridge/internal/scan"
)

// Offerer broadcasts an offer to every connected interactive session and
// returns how many sessions it reached.
type Offerer interface {
	Offer(ev scan.Event, deadline time.Time) int
}

// Processor performs the inventory update when no session claims a scan.
type Processor interface {
	Process(ctx context.Context, barcode string, source scan.Source) error
}

// Outcome records who acted on a scan.
type Outcome string

const (
	OutcomeInteractive Outcome = "interactive"
	OutcomeDirect      Outcome = "direct"
)

// Resolution is reported once per scan after its terminal transition.
type Resolution struct {
	ScanID  string
	Barcode string
	Source  scan.Source
	Outcome Outcome
	Err     error // direct processor error, nil for interactive
}

type pending struct {
	ev       scan.Event
	deadline time.Time
	timer    *clock.Timer
}

type Broker struct {
	offerer   Offerer
	processor Processor
	deadline  time.Duration
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	pending  map[string]*pending
	stopped  bool
	resolved []func(Resolution)
}

// New returns a broker that waits up to deadline for an acknowledgment
// before falling back to processor.
func New(offerer Offerer, processor Processor, deadline time.Duration, clk clock.Clock, logger *slog.Logger, m *metrics.Metrics) *Broker {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		offerer:   offerer,
		processor: processor,
		deadline:  deadline,
		clock:     clk,
		logger:    logger,
		metrics:   m,
		ctx:       ctx,
		cancel:    cancel,
		pending:   make(map[string]*pending),
	}
}

// OnResolved registers fn to be called after every terminal transition.
func (b *Broker) OnResolved(fn func(Resolution)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resolved = append(b.resolved, fn)
}

// OnScanEvent arbitrates one scan. When no session is reachable it runs the
// direct processor before returning; otherwise it arms the deadline timer
// and returns immediately.
func (b *Broker) OnScanEvent(ev scan.Event) {
	deadline := b.clock.Now().Add(b.deadline)
	p := &pending{ev: ev, deadline: deadline}

	// Register before offering so an ack racing the offer finds the entry.
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		b.logger.Warn("scan ignored, broker stopped", "scan_id", ev.ID)
		return
	}
	if _, dup := b.pending[ev.ID]; dup {
		b.mu.Unlock()
		b.logger.Warn("duplicate scan id ignored", "scan_id", ev.ID)
		return
	}
	b.pending[ev.ID] = p
	b.mu.Unlock()

	reached := 0
	if b.offerer != nil {
		reached = b.offerer.Offer(ev, deadline)
	}
	if reached == 0 {
		if b.claim(ev.ID) != nil {
			b.logger.Debug("no interactive session, processing directly", "scan_id", ev.ID)
			b.direct(ev)
		}
		return
	}

	b.logger.Debug("scan offered", "scan_id", ev.ID, "sessions", reached, "deadline", b.deadline)
	timer := b.clock.AfterFunc(b.deadline, func() { b.expire(ev.ID) })

	b.mu.Lock()
	if cur, ok := b.pending[ev.ID]; ok && cur == p {
		p.timer = timer
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	// Already claimed by an ack that arrived during the offer.
	timer.Stop()
}

// Ack claims a scan for the acknowledging session. It reports false when the
// scan is unknown or already claimed; late acks change nothing.
func (b *Broker) Ack(scanID string) bool {
	_, ok := b.Claim(scanID)
	return ok
}

// Claim is Ack returning the claimed event, so the caller acts on the
// barcode that was actually scanned.
func (b *Broker) Claim(scanID string) (scan.Event, bool) {
	p := b.claim(scanID)
	if p == nil {
		b.logger.Debug("late or unknown ack dropped", "scan_id", scanID)
		b.metrics.LateAck()
		return scan.Event{}, false
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	b.logger.Info("scan acknowledged", "scan_id", scanID, "barcode", p.ev.Barcode)
	b.resolve(Resolution{ScanID: scanID, Barcode: p.ev.Barcode, Source: p.ev.Source, Outcome: OutcomeInteractive})
	return p.ev, true
}

// Pending returns the number of scans awaiting an acknowledgment.
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Stop cancels every outstanding deadline without falling back to the
// direct processor. Scans arriving afterwards are ignored.
func (b *Broker) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	dropped := len(b.pending)
	for id, p := range b.pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(b.pending, id)
	}
	b.mu.Unlock()

	b.cancel()
	b.logger.Info("broker stopped", "dropped_pending", dropped)
}

func (b *Broker) expire(scanID string) {
	p := b.claim(scanID)
	if p == nil {
		return
	}
	b.logger.Info("ack deadline elapsed, processing directly", "scan_id", scanID, "barcode", p.ev.Barcode)
	b.direct(p.ev)
}

// claim atomically removes and returns the pending entry, or nil if another
// path already claimed it.
func (b *Broker) claim(scanID string) *pending {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[scanID]
	if !ok {
		return nil
	}
	delete(b.pending, scanID)
	return p
}

func (b *Broker) direct(ev scan.Event) {
	var err error
	if b.processor != nil {
		start := b.clock.Now()
		err = b.processor.Process(b.ctx, ev.Barcode, ev.Source)
		b.metrics.DirectProcessed(b.clock.Now().Sub(start), err)
		if err != nil {
			b.logger.Warn("direct processing failed", "scan_id", ev.ID, "barcode", ev.Barcode, "error", err)
		}
	}
	b.resolve(Resolution{ScanID: ev.ID, Barcode: ev.Barcode, Source: ev.Source, Outcome: OutcomeDirect, Err: err})
}

func (b *Broker) resolve(r Resolution) {
	b.metrics.Resolved(string(r.Outcome))
	b.mu.Lock()
	hooks := append([]func(Resolution){}, b.resolved...)
	b.mu.Unlock()
	for _, fn := range hooks {
		fn(r)
	}
}
