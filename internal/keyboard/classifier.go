// Package keyboard tells keyboard-wedge barcode scanners apart from human
// typing. Scanners emit characters at a high, near-constant rate; the
// classifier accepts a buffer only if it is long enough and was typed with
// enough consecutive fast keystrokes.
package keyboard

import (
	"sync"
	"time"

	"github.com/storekeeper/scanbridge/internal/clock"
)

// Transition is the key state carried by an input event.
type Transition uint8

const (
	Release Transition = iota
	Press
	Repeat
)

// KeyEvent is one raw key transition from an input device.
type KeyEvent struct {
	Key        Key
	Transition Transition
	Time       time.Time
	Device     string
}

// Barcode is a classified scan.
type Barcode struct {
	Text   string
	Device string
}

type Options struct {
	FastThreshold time.Duration // gap below which a keystroke counts as fast
	MinLength     int
	MinFastKeys   int
	FlushWindow   time.Duration // inactivity after which the buffer is judged without a terminator
}

// Classifier holds the single accumulating buffer. ProcessKeyEvent and the
// flush timer both mutate it, so state is guarded by mu.
type Classifier struct {
	opts  Options
	clock clock.Clock
	emit  func(Barcode)

	mu     sync.Mutex
	buf    []rune
	last   time.Time
	fast   int
	device string
	timer  *clock.Timer
	gen    uint64 // invalidates flush timers that lost the race with new input
}

// NewClassifier returns a classifier. emit receives barcodes classified by
// the inactivity flush; barcodes completed by a terminator are returned from
// ProcessKeyEvent instead.
func NewClassifier(opts Options, clk clock.Clock, emit func(Barcode)) *Classifier {
	if clk == nil {
		clk = clock.Real()
	}
	if emit == nil {
		emit = func(Barcode) {}
	}
	return &Classifier{opts: opts, clock: clk, emit: emit}
}

// ProcessKeyEvent feeds one event through the classifier and returns the
// barcode it completes, if any.
func (c *Classifier) ProcessKeyEvent(ev KeyEvent) (Barcode, bool) {
	if ev.Transition != Press {
		return Barcode{}, false
	}
	ch, ok := Char(ev.Key)
	if !ok {
		return Barcode{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ch == terminator {
		bc, ok := c.judgeLocked()
		c.resetLocked()
		return bc, ok
	}

	if !c.last.IsZero() && ev.Time.Sub(c.last) < c.opts.FastThreshold {
		c.fast++
	} else if c.fast < c.opts.MinFastKeys {
		c.buf = c.buf[:0]
		c.fast = 0
	}
	c.last = ev.Time
	c.device = ev.Device
	c.buf = append(c.buf, ch)
	c.armLocked()
	return Barcode{}, false
}

// Reset discards any partial buffer and cancels the flush timer.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

// Buffered returns the characters accumulated so far.
func (c *Classifier) Buffered() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.buf)
}

func (c *Classifier) judgeLocked() (Barcode, bool) {
	if len(c.buf) >= c.opts.MinLength && c.fast >= c.opts.MinFastKeys {
		return Barcode{Text: string(c.buf), Device: c.device}, true
	}
	return Barcode{}, false
}

func (c *Classifier) resetLocked() {
	c.buf = c.buf[:0]
	c.fast = 0
	c.last = time.Time{}
	c.device = ""
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Classifier) armLocked() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.timer = c.clock.AfterFunc(c.opts.FlushWindow, func() { c.flush(gen) })
}

func (c *Classifier) flush(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	bc, ok := c.judgeLocked()
	c.timer = nil
	c.resetLocked()
	c.mu.Unlock()

	if ok {
		c.emit(bc)
	}
}
