// Package inventory applies scanned barcodes to store stock. It is the
// direct processor the broker falls back to, and the engine behind the
// REST scan endpoint used by interactive sessions.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/storekeeper/scanbridge/internal/clock"
	"github.com/storekeeper/scanbridge/internal/metrics"
	"github.com/storekeeper/scanbridge/internal/scan"
)

type Options struct {
	StoreID         string
	DefaultMode     Mode
	Quantity        int
	DuplicateWindow time.Duration
	HistorySize     int
}

// Request is one inventory change. Zero Quantity and empty Mode take the
// service defaults.
type Request struct {
	Barcode  string      `json:"barcode"`
	Quantity int         `json:"quantity,omitempty"`
	Mode     Mode        `json:"mode,omitempty"`
	Source   scan.Source `json:"source,omitempty"`
	ScanID   string      `json:"scanId,omitempty"`
}

// Report is delivered to result hooks after every Apply, successful or not.
type Report struct {
	Request Request
	Result  *Result
	Err     error
}

type Service struct {
	backend Backend
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
	station Station
	opts    Options
	history *History

	mu          sync.Mutex
	lastBarcode string
	lastAt      time.Time
	hooks       []func(Report)
}

func NewService(backend Backend, opts Options, station Station, clk clock.Clock, logger *slog.Logger, m *metrics.Metrics) *Service {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DefaultMode == "" {
		opts.DefaultMode = ModeAuto
	}
	if opts.Quantity == 0 {
		opts.Quantity = 1
	}
	return &Service{
		backend: backend,
		clock:   clk,
		logger:  logger,
		metrics: m,
		station: station,
		opts:    opts,
		history: NewHistory(opts.HistorySize),
	}
}

// OnResult registers fn to receive a report for every Apply call.
func (s *Service) OnResult(fn func(Report)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

func (s *Service) History() []Result { return s.history.Recent() }

// RestoreHistory seeds the history, newest first, from a previous run.
func (s *Service) RestoreHistory(results []Result) { s.history.Restore(results) }

func (s *Service) Station() Station { return s.station }

// Process applies barcode with the default mode and quantity. It satisfies
// the broker's Processor interface.
func (s *Service) Process(ctx context.Context, barcode string, source scan.Source) error {
	_, err := s.Apply(ctx, Request{Barcode: barcode, Source: source})
	return err
}

// LookupItem resolves a barcode, stripping an outbound prefix.
func (s *Service) LookupItem(ctx context.Context, barcode string) (*Item, error) {
	code, _ := ResolveMode(barcode, ModeAuto)
	if code == "" {
		return nil, ErrUnknownBarcode
	}
	return s.backend.LookupItem(ctx, code)
}

// Apply looks up the item, checks and updates its stock and appends an
// inventory log row. A repeat of the previous raw barcode inside the
// duplicate window fails with ErrDuplicateScan without touching the backend.
func (s *Service) Apply(ctx context.Context, req Request) (*Result, error) {
	res, err := s.apply(ctx, req)
	s.report(Report{Request: req, Result: res, Err: err})
	return res, err
}

func (s *Service) apply(ctx context.Context, req Request) (*Result, error) {
	raw := strings.TrimSpace(req.Barcode)
	if s.duplicate(raw) {
		s.logger.Debug("duplicate scan dropped", "barcode", raw)
		return nil, ErrDuplicateScan
	}

	mode := req.Mode
	if mode == "" {
		mode = s.opts.DefaultMode
	}
	qty := req.Quantity
	if qty == 0 {
		qty = s.opts.Quantity
	}
	qty = ClampQuantity(qty)

	code, change := ResolveMode(raw, mode)
	if code == "" {
		return nil, ErrUnknownBarcode
	}

	item, err := s.backend.LookupItem(ctx, code)
	if err != nil {
		return nil, err
	}
	stock, err := s.backend.GetStock(ctx, item.ID)
	if err != nil {
		if errors.Is(err, ErrNoStock) {
			return nil, fmt.Errorf("%s: %w", item.Name, err)
		}
		return nil, err
	}

	delta := qty
	if change == ChangeOutput {
		delta = -qty
	}
	after := stock.Quantity + delta
	if after < 0 {
		return nil, fmt.Errorf("%s (current: %d%s): %w", item.Name, stock.Quantity, item.Unit, ErrInsufficientStock)
	}

	now := s.clock.Now()
	if err := s.backend.SetStock(ctx, stock.ID, after, now); err != nil {
		return nil, err
	}

	entry := LogEntry{
		StockID:        stock.ID,
		ItemID:         item.ID,
		StoreID:        s.opts.StoreID,
		QuantityBefore: stock.Quantity,
		QuantityAfter:  after,
		ChangeAmount:   delta,
		ChangeType:     change,
		Notes:          fmt.Sprintf("barcode scanner %s (%s)", change, s.station.Hostname),
	}
	if err := s.backend.AppendLog(ctx, entry); err != nil {
		// Stock is already updated; a missing log row is not worth failing
		// the scan over.
		s.logger.Warn("inventory log append failed", "barcode", code, "error", err)
	}

	res := &Result{
		ScanID:     req.ScanID,
		Barcode:    code,
		Item:       item.Name,
		Unit:       item.Unit,
		Before:     stock.Quantity,
		After:      after,
		Change:     delta,
		ChangeType: change,
		Source:     req.Source,
		At:         now,
	}
	s.history.Add(*res)
	s.metrics.InventoryUpdated(string(change))
	s.logger.Info("inventory updated", "barcode", code, "item", item.Name,
		"before", res.Before, "after", res.After, "change", delta, "source", req.Source)
	return res, nil
}

func (s *Service) duplicate(raw string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	dup := raw == s.lastBarcode && s.opts.DuplicateWindow > 0 && now.Sub(s.lastAt) < s.opts.DuplicateWindow
	if !dup {
		s.lastBarcode = raw
		s.lastAt = now
	}
	return dup
}

func (s *Service) report(r Report) {
	s.mu.Lock()
	hooks := append([]func(Report){}, s.hooks...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(r)
	}
}
