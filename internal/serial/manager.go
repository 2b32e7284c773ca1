// Package serial discovers and supervises serial-attached barcode readers.
//
// A Manager re-enumerates the system's serial ports on a fixed interval,
// opens every port whose USB bridge matches a known vendor signature, and
// emits each delimited line a reader sends. Ports that disappear from the
// enumeration are treated as unplugged and closed. All failures are local to
// a port and heal on the next discovery cycle.
package serial

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/storekeeper/scanbridge/internal/clock"
)

// ErrNoBaudRate is returned when a port could not be opened at any of the
// candidate baud rates.
var ErrNoBaudRate = errors.New("no candidate baud rate accepted")

type Options struct {
	BaudRates  []int // tried in order; the first successful open wins
	Interval   time.Duration
	Delimiters string // any of these bytes ends a line
	MinLength  int
	Vendors    []VendorMatcher
}

// PortStatus describes an open session.
type PortStatus struct {
	Port     string    `json:"port"`
	Baud     int       `json:"baud"`
	OpenedAt time.Time `json:"openedAt"`
	Scans    int64     `json:"scans"`
}

// AvailablePort is an enumerated port with the manager's verdict on it.
type AvailablePort struct {
	PortInfo
	Matched   bool `json:"matched"`
	Connected bool `json:"connected"`
}

// session is one open port. It is owned by the manager's session map and
// removed from it exactly once.
type session struct {
	port     string
	baud     int
	rc       io.ReadCloser
	openedAt time.Time
	scans    atomic.Int64

	closeOnce sync.Once
	closed    atomic.Bool
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.rc.Close()
	})
}

type Manager struct {
	opts   Options
	enum   Enumerator
	opener Opener
	clock  clock.Clock
	logger *slog.Logger
	emit   func(barcode, port string)

	mu        sync.Mutex // protects sessions and listeners
	sessions  map[string]*session
	listeners []func(ports []string)

	// notifyMu orders deliveries: the set is read and delivered under it,
	// so the last set a listener sees is the current one.
	notifyMu sync.Mutex

	rescan chan struct{}
	wg     sync.WaitGroup
}

// NewManager returns a manager that reports every accepted line to emit.
func NewManager(opts Options, enum Enumerator, opener Opener, clk clock.Clock, logger *slog.Logger, emit func(barcode, port string)) *Manager {
	if enum == nil {
		enum = SystemEnumerator{}
	}
	if opener == nil {
		opener = SystemOpener{}
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if emit == nil {
		emit = func(string, string) {}
	}
	if opts.Delimiters == "" {
		opts.Delimiters = "\r\n"
	}
	return &Manager{
		opts:     opts,
		enum:     enum,
		opener:   opener,
		clock:    clk,
		logger:   logger,
		emit:     emit,
		sessions: make(map[string]*session),
		rescan:   make(chan struct{}, 1),
	}
}

// OnPortsChanged registers fn to receive the connected port set after every
// open or close. fn runs without the manager's lock held.
func (m *Manager) OnPortsChanged(fn func(ports []string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Start runs discovery until ctx is cancelled, then closes every session and
// waits for their readers to exit.
func (m *Manager) Start(ctx context.Context) {
	ticker := m.clock.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	m.logger.Info("serial discovery started", "interval", m.opts.Interval, "baud_rates", m.opts.BaudRates)
	m.discover()

	for {
		select {
		case <-ctx.Done():
			m.closeAll("shutdown")
			m.wg.Wait()
			m.logger.Info("serial discovery stopped")
			return
		case <-ticker.C:
			m.discover()
		case <-m.rescan:
			m.discover()
		}
	}
}

// Reconnect closes every open session and asks the discovery loop for an
// immediate cycle, which reopens whatever is still attached.
func (m *Manager) Reconnect() {
	m.closeAll("reconnect")
	select {
	case m.rescan <- struct{}{}:
	default:
	}
}

// ActivePorts returns the identifiers of all open sessions, sorted.
func (m *Manager) ActivePorts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked()
}

func (m *Manager) Status() []PortStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PortStatus, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, PortStatus{Port: s.port, Baud: s.baud, OpenedAt: s.openedAt, Scans: s.scans.Load()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}

// AvailablePorts enumerates every serial port, matched or not.
func (m *Manager) AvailablePorts() ([]AvailablePort, error) {
	infos, err := m.enum.Ports()
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AvailablePort, 0, len(infos))
	for _, info := range infos {
		_, open := m.sessions[info.Name]
		out = append(out, AvailablePort{
			PortInfo:  info,
			Matched:   Matches(m.opts.Vendors, info),
			Connected: open,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Manager) discover() {
	infos, err := m.enum.Ports()
	if err != nil {
		// Keep existing sessions; a failed enumeration says nothing about
		// whether they are still attached.
		m.logger.Warn("serial enumeration failed", "error", err)
		return
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	present := make(map[string]bool, len(infos))
	for _, info := range infos {
		present[info.Name] = true
	}

	m.mu.Lock()
	var detached []*session
	for name, s := range m.sessions {
		if !present[name] {
			detached = append(detached, s)
		}
	}
	m.mu.Unlock()
	for _, s := range detached {
		m.closeSession(s, "detached")
	}

	for _, info := range infos {
		if !Matches(m.opts.Vendors, info) {
			continue
		}
		m.mu.Lock()
		_, open := m.sessions[info.Name]
		m.mu.Unlock()
		if open {
			continue
		}
		if err := m.open(info); err != nil {
			m.logger.Warn("serial open failed", "port", info.Name, "error", err)
		}
	}
}

func (m *Manager) open(info PortInfo) error {
	for _, baud := range m.opts.BaudRates {
		rc, err := m.opener.Open(info.Name, baud)
		if err != nil {
			m.logger.Debug("serial open attempt failed", "port", info.Name, "baud", baud, "error", err)
			continue
		}

		s := &session{port: info.Name, baud: baud, rc: rc, openedAt: m.clock.Now()}
		m.mu.Lock()
		m.sessions[info.Name] = s
		m.mu.Unlock()

		m.logger.Info("serial port opened", "port", info.Name, "baud", baud, "vid", info.VendorID, "pid", info.ProductID)
		m.notify()

		m.wg.Add(1)
		go m.readLoop(s)
		return nil
	}
	return ErrNoBaudRate
}

func (m *Manager) readLoop(s *session) {
	defer m.wg.Done()

	sc := bufio.NewScanner(s.rc)
	sc.Split(splitOn(m.opts.Delimiters))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if utf8.RuneCountInString(line) < m.opts.MinLength {
			continue
		}
		s.scans.Add(1)
		m.emit(line, s.port)
	}

	reason := "eof"
	if err := sc.Err(); err != nil {
		reason = "read error"
		if !s.closed.Load() {
			m.logger.Warn("serial read failed", "port", s.port, "error", err)
		}
	}
	m.closeSession(s, reason)
}

// closeSession removes s from the session map if it is still the current
// session for its port, closes the device and notifies listeners. Safe to
// call more than once for the same session.
func (m *Manager) closeSession(s *session, reason string) {
	m.mu.Lock()
	cur, ok := m.sessions[s.port]
	removed := ok && cur == s
	if removed {
		delete(m.sessions, s.port)
	}
	m.mu.Unlock()

	s.close()
	if removed {
		m.logger.Info("serial port closed", "port", s.port, "reason", reason)
		m.notify()
	}
}

func (m *Manager) closeAll(reason string) {
	m.mu.Lock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()
	for _, s := range all {
		m.closeSession(s, reason)
	}
}

func (m *Manager) activeLocked() []string {
	ports := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		ports = append(ports, name)
	}
	sort.Strings(ports)
	return ports
}

func (m *Manager) notify() {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	ports := m.activeLocked()
	listeners := append([]func([]string){}, m.listeners...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(ports)
	}
}
