package keyboard

import (
	"context"
	"errors"
	"log/slog"
)

// ErrUnsupported is returned by KeySource implementations that cannot read
// system-wide keyboard input on this platform.
var ErrUnsupported = errors.New("keyboard capture not supported on this platform")

// KeySource produces raw key events until ctx is cancelled.
type KeySource interface {
	Run(ctx context.Context, out chan<- KeyEvent) error
}

// Capture connects a KeySource to a Classifier. Every event is fed to the
// classifier from the Run goroutine, so the classifier sees a single writer
// besides its own flush timer.
type Capture struct {
	source     KeySource
	classifier *Classifier
	emit       func(Barcode)
	logger     *slog.Logger
}

// NewCapture wires source into classifier. emit must be the same function
// the classifier was constructed with, so terminator and flush emissions
// reach the same sink.
func NewCapture(source KeySource, classifier *Classifier, emit func(Barcode), logger *slog.Logger) *Capture {
	if logger == nil {
		logger = slog.Default()
	}
	return &Capture{source: source, classifier: classifier, emit: emit, logger: logger}
}

// Run blocks until ctx is cancelled or the source fails. The classifier's
// pending flush is cancelled on return.
func (c *Capture) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.classifier.Reset()

	events := make(chan KeyEvent, 64)
	srcErr := make(chan error, 1)
	go func() { srcErr <- c.source.Run(ctx, events) }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-srcErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		case ev := <-events:
			if bc, ok := c.classifier.ProcessKeyEvent(ev); ok {
				c.logger.Debug("barcode classified", "device", bc.Device, "length", len(bc.Text))
				c.emit(bc)
			}
		}
	}
}
