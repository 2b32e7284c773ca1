package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/storekeeper/scanbridge/internal/broker"
	"github.com/storekeeper/scanbridge/internal/clock"
	"github.com/storekeeper/scanbridge/internal/config"
	"github.com/storekeeper/scanbridge/internal/inventory"
	"github.com/storekeeper/scanbridge/internal/keyboard"
	"github.com/storekeeper/scanbridge/internal/logging"
	"github.com/storekeeper/scanbridge/internal/metrics"
	"github.com/storekeeper/scanbridge/internal/mock"
	"github.com/storekeeper/scanbridge/internal/scan"
	"github.com/storekeeper/scanbridge/internal/serial"
	"github.com/storekeeper/scanbridge/internal/ws"
)

// Keyboard capture states reported by /api/status.
const (
	keyboardDisabled    = "disabled"
	keyboardListening   = "listening"
	keyboardMock        = "mock"
	keyboardUnsupported = "unsupported"
	keyboardFailed      = "failed"
)

type flags struct {
	configPath string
	port       int
	mock       bool
	logLevel   string
	noKeyboard bool
	noSerial   bool
}

func main() {
	var f flags
	flag.StringVarP(&f.configPath, "config", "c", "config.yaml", "Path to config file")
	flag.IntVarP(&f.port, "port", "p", 0, "Override server port")
	flag.BoolVar(&f.mock, "mock", false, "Simulate a scanner and use a demo in-memory inventory")
	flag.StringVar(&f.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	flag.BoolVar(&f.noKeyboard, "no-keyboard", false, "Disable keyboard-wedge capture")
	flag.BoolVar(&f.noSerial, "no-serial", false, "Disable serial port capture")
	flag.Parse()

	if err := run(f); err != nil {
		fmt.Fprintf(os.Stderr, "scanbridge: %v\n", err)
		os.Exit(1)
	}
}

func run(f flags) error {
	cfg, err := config.LoadOrDefault(f.configPath)
	if err != nil {
		return err
	}
	if f.port > 0 {
		cfg.Server.Port = f.port
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.noKeyboard {
		cfg.Classifier.Enabled = false
	}
	if f.noSerial {
		cfg.Serial.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	station := inventory.DetectStation()
	backend, err := newBackend(cfg, f.mock)
	if err != nil {
		return err
	}
	defaultMode, _ := inventory.ParseMode(cfg.Inventory.DefaultMode)
	svc := inventory.NewService(backend, inventory.Options{
		StoreID:         cfg.Inventory.StoreID,
		DefaultMode:     defaultMode,
		Quantity:        cfg.Inventory.Quantity,
		DuplicateWindow: cfg.Inventory.DuplicateWindow,
		HistorySize:     cfg.Inventory.HistorySize,
	}, station, clk, logging.For(logger, logging.ComponentInventory), m)

	if cfg.Inventory.PersistHistory && !f.mock {
		persistHistory(svc, inventory.NewHistoryStore(cfg.Inventory.StateDir), logging.For(logger, logging.ComponentInventory))
	}

	bus := scan.NewBus(clk, logging.For(logger, logging.ComponentBus))

	var ports *serial.Manager
	if cfg.Serial.Enabled {
		ports = serial.NewManager(serial.Options{
			BaudRates:  cfg.Serial.BaudRates,
			Interval:   cfg.Serial.DiscoveryInterval,
			Delimiters: cfg.Serial.Delimiters,
			MinLength:  cfg.Serial.MinLength,
			Vendors:    vendorMatchers(cfg.Serial.Vendors),
		}, serial.SystemEnumerator{}, serial.SystemOpener{}, clk,
			logging.For(logger, logging.ComponentSerial),
			func(barcode, port string) { bus.Publish(scan.SourceSerial, barcode, port) })
	}

	wsLogger := logging.For(logger, logging.ComponentWS)
	broadcaster := ws.NewBroadcaster(func() ws.SnapshotPayload {
		snap := ws.SnapshotPayload{History: svc.History(), Station: station.Hostname}
		if ports != nil {
			snap.Ports = ports.ActivePorts()
		}
		return snap
	}, cfg.Server.MaxConnections, wsLogger, m)

	brk := broker.New(broadcaster, svc, cfg.Arbitration.Deadline, clk, logging.For(logger, logging.ComponentBroker), m)
	brk.OnResolved(broadcaster.BroadcastResolved)
	svc.OnResult(broadcaster.BroadcastResult)

	var portsAPI ws.Ports
	if ports != nil {
		portsAPI = ports
		ports.OnPortsChanged(func(active []string) {
			m.SetSerialPorts(len(active))
			broadcaster.BroadcastPorts(active)
		})
	}

	server := ws.NewServer(ws.Options{
		AuthToken:      cfg.Server.AuthToken,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
	}, broadcaster, brk, svc, portsAPI, wsLogger)

	var wg sync.WaitGroup
	goRun := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	goRun(func() {
		bus.Run(ctx, func(ev scan.Event) {
			m.ScanPublished(string(ev.Source))
			brk.OnScanEvent(ev)
		})
	})

	if ports != nil {
		goRun(func() { ports.Start(ctx) })
	}

	if cfg.Classifier.Enabled || f.mock {
		source, state := keySource(cfg, f.mock, clk, logger)
		server.SetKeyboardState(state)
		goRun(func() {
			err := runCapture(ctx, cfg, source, clk, bus, logging.For(logger, logging.ComponentKeyboard))
			switch {
			case errors.Is(err, keyboard.ErrUnsupported):
				logger.Warn("keyboard capture unavailable on this platform")
				server.SetKeyboardState(keyboardUnsupported)
			case err != nil:
				logger.Error("keyboard capture stopped", "error", err)
				server.SetKeyboardState(keyboardFailed)
			}
		})
	} else {
		server.SetKeyboardState(keyboardDisabled)
	}

	goRun(func() { broadcaster.RunSnapshots(ctx, clk, cfg.Server.SnapshotInterval) })

	logger.Info("scanbridge starting",
		"station", station.Hostname,
		"mock", f.mock,
		"keyboard", cfg.Classifier.Enabled,
		"serial", cfg.Serial.Enabled,
		"deadline", cfg.Arbitration.Deadline)

	serveErr := ws.ListenAndServe(ctx, cfg.Server.Host, cfg.Server.Port, server.Handler(), wsLogger)
	stop()

	logger.Info("shutting down")
	brk.Stop()
	broadcaster.CloseAll()
	wg.Wait()
	return serveErr
}

func newBackend(cfg *config.Config, mockMode bool) (inventory.Backend, error) {
	if mockMode {
		mem := inventory.NewMemoryBackend(cfg.Inventory.StoreID)
		mock.SeedInventory(mem, cfg.Mock.Barcodes)
		return mem, nil
	}
	if !cfg.RemoteInventory() {
		return nil, errors.New("inventory.base_url and inventory.store_id are required outside --mock")
	}
	return inventory.NewHTTPBackend(cfg.Inventory.BaseURL, cfg.Inventory.ServiceKey, cfg.Inventory.StoreID, cfg.Inventory.Timeout), nil
}

// persistHistory restores the last run's history and saves it after every
// successful update.
func persistHistory(svc *inventory.Service, store *inventory.HistoryStore, logger *slog.Logger) {
	results, err := store.Load()
	if err != nil {
		logger.Warn("history not restored", "path", store.Path(), "error", err)
	} else if len(results) > 0 {
		svc.RestoreHistory(results)
		logger.Info("history restored", "path", store.Path(), "entries", len(results))
	}
	svc.OnResult(func(r inventory.Report) {
		if r.Err != nil {
			return
		}
		if err := store.Save(svc.History()); err != nil {
			logger.Warn("history not saved", "path", store.Path(), "error", err)
		}
	})
}

func vendorMatchers(vs []config.VendorConfig) []serial.VendorMatcher {
	out := make([]serial.VendorMatcher, 0, len(vs))
	for _, v := range vs {
		out = append(out, serial.VendorMatcher{VendorID: v.VendorID, Fragment: v.Fragment})
	}
	return out
}

func keySource(cfg *config.Config, mockMode bool, clk clock.Clock, logger *slog.Logger) (keyboard.KeySource, string) {
	if mockMode {
		return mock.NewGenerator(cfg.Mock.Barcodes, cfg.Mock.Interval, clk, logging.For(logger, logging.ComponentMock)), keyboardMock
	}
	return &keyboard.Devices{
		Paths:  cfg.Classifier.Devices,
		Rescan: cfg.Classifier.RescanInterval,
		Clock:  clk,
		Logger: logging.For(logger, logging.ComponentKeyboard),
	}, keyboardListening
}

func runCapture(ctx context.Context, cfg *config.Config, source keyboard.KeySource, clk clock.Clock, bus *scan.Bus, logger *slog.Logger) error {
	emit := func(bc keyboard.Barcode) {
		bus.Publish(scan.SourceKeyboard, bc.Text, bc.Device)
	}
	classifier := keyboard.NewClassifier(keyboard.Options{
		FastThreshold: cfg.Classifier.FastThreshold,
		MinLength:     cfg.Classifier.MinLength,
		MinFastKeys:   cfg.Classifier.MinFastKeys,
		FlushWindow:   cfg.Classifier.FlushWindow,
	}, clk, emit)
	return keyboard.NewCapture(source, classifier, emit, logger).Run(ctx)
}
