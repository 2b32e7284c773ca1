package serial

import (
	"context"
	"errors"
	"io"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/storekeeper/scanbridge/internal/clock"
	"github.com/storekeeper/scanbridge/internal/logging"
)

type fakeEnumerator struct {
	mu    sync.Mutex
	ports []PortInfo
	err   error
}

func (e *fakeEnumerator) Ports() ([]PortInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	return append([]PortInfo(nil), e.ports...), nil
}

func (e *fakeEnumerator) set(ports ...PortInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ports = ports
}

type openAttempt struct {
	name string
	baud int
}

// fakeOpener hands out pipes; tests write to the writer half to simulate a
// reader sending data.
type fakeOpener struct {
	mu       sync.Mutex
	accept   map[string]int // port -> only baud that opens; 0 accepts any
	attempts []openAttempt
	writers  map[string]*io.PipeWriter
	readers  map[string]*io.PipeReader
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		accept:  make(map[string]int),
		writers: make(map[string]*io.PipeWriter),
		readers: make(map[string]*io.PipeReader),
	}
}

func (o *fakeOpener) Open(name string, baud int) (io.ReadCloser, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts = append(o.attempts, openAttempt{name, baud})
	if want, ok := o.accept[name]; ok && want != 0 && want != baud {
		return nil, errors.New("invalid baud")
	}
	r, w := io.Pipe()
	o.writers[name] = w
	o.readers[name] = r
	return r, nil
}

func (o *fakeOpener) writer(name string) *io.PipeWriter {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.writers[name]
}

func (o *fakeOpener) opened(name string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, a := range o.attempts {
		if a.name == name {
			n++
		}
	}
	return n
}

type emitted struct {
	barcode string
	port    string
}

type recorder struct {
	ch chan emitted
}

func newRecorder() *recorder { return &recorder{ch: make(chan emitted, 16)} }

func (r *recorder) emit(barcode, port string) { r.ch <- emitted{barcode, port} }

func (r *recorder) next(t *testing.T) emitted {
	t.Helper()
	select {
	case e := <-r.ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for emission")
		return emitted{}
	}
}

var (
	ch340   = PortInfo{Name: "/dev/ttyUSB0", USB: true, VendorID: "1a86", ProductID: "7523", Product: "USB Serial"}
	ftdi    = PortInfo{Name: "/dev/ttyUSB1", USB: true, VendorID: "0403", ProductID: "6001", Product: "FT232R"}
	builtin = PortInfo{Name: "/dev/ttyS0"}
)

func testOptions() Options {
	return Options{
		BaudRates:  []int{9600, 115200},
		Interval:   time.Second,
		Delimiters: "\r\n",
		MinLength:  4,
		Vendors:    []VendorMatcher{{VendorID: "1a86"}, {VendorID: "0403"}},
	}
}

func newTestManager(enum Enumerator, opener Opener, emit func(string, string)) *Manager {
	clk := clock.NewFake(time.Unix(0, 0))
	return NewManager(testOptions(), enum, opener, clk, logging.Discard(), emit)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func TestDiscoverOpensOnlyMatchingPorts(t *testing.T) {
	enum := &fakeEnumerator{}
	enum.set(ch340, builtin)
	opener := newFakeOpener()
	m := newTestManager(enum, opener, nil)
	defer m.closeAll("test")

	m.discover()

	if got := m.ActivePorts(); !reflect.DeepEqual(got, []string{"/dev/ttyUSB0"}) {
		t.Fatalf("ActivePorts = %v", got)
	}
	if opener.opened("/dev/ttyS0") != 0 {
		t.Error("unmatched port was opened")
	}

	// A second cycle must not reopen a port that is already connected.
	m.discover()
	if n := opener.opened("/dev/ttyUSB0"); n != 1 {
		t.Errorf("open attempts = %d, want 1", n)
	}
}

func TestDiscoverFallsBackThroughBaudRates(t *testing.T) {
	enum := &fakeEnumerator{}
	enum.set(ch340)
	opener := newFakeOpener()
	opener.accept["/dev/ttyUSB0"] = 115200
	m := newTestManager(enum, opener, nil)
	defer m.closeAll("test")

	m.discover()

	st := m.Status()
	if len(st) != 1 || st[0].Baud != 115200 {
		t.Fatalf("Status = %+v, want one session at 115200", st)
	}
	if n := opener.opened("/dev/ttyUSB0"); n != 2 {
		t.Errorf("open attempts = %d, want 2", n)
	}
}

func TestOpenReturnsErrNoBaudRate(t *testing.T) {
	opener := newFakeOpener()
	opener.accept["/dev/ttyUSB0"] = 4800
	m := newTestManager(&fakeEnumerator{}, opener, nil)

	if err := m.open(ch340); !errors.Is(err, ErrNoBaudRate) {
		t.Fatalf("open error = %v, want ErrNoBaudRate", err)
	}
	if len(m.ActivePorts()) != 0 {
		t.Error("session registered after failed negotiation")
	}
}

func TestDetachClosesSessionAndNotifies(t *testing.T) {
	enum := &fakeEnumerator{}
	enum.set(ch340, ftdi)
	opener := newFakeOpener()
	m := newTestManager(enum, opener, nil)
	defer m.closeAll("test")

	var mu sync.Mutex
	var changes [][]string
	m.OnPortsChanged(func(ports []string) {
		mu.Lock()
		changes = append(changes, ports)
		mu.Unlock()
	})

	m.discover()
	enum.set(ftdi)
	m.discover()

	if got := m.ActivePorts(); !reflect.DeepEqual(got, []string{"/dev/ttyUSB1"}) {
		t.Fatalf("ActivePorts after detach = %v", got)
	}

	mu.Lock()
	last := changes[len(changes)-1]
	mu.Unlock()
	if !reflect.DeepEqual(last, []string{"/dev/ttyUSB1"}) {
		t.Errorf("last notification = %v", last)
	}

	// The detached port's reader must see its device closed.
	if _, err := opener.writer("/dev/ttyUSB0").Write([]byte("x")); err == nil {
		t.Error("write to detached port succeeded")
	}
}

func TestEnumerationErrorKeepsSessions(t *testing.T) {
	enum := &fakeEnumerator{}
	enum.set(ch340)
	m := newTestManager(enum, newFakeOpener(), nil)
	defer m.closeAll("test")

	m.discover()
	enum.mu.Lock()
	enum.err = errors.New("sysfs unavailable")
	enum.mu.Unlock()
	m.discover()

	if len(m.ActivePorts()) != 1 {
		t.Fatalf("ActivePorts = %v, want session kept", m.ActivePorts())
	}
}

func TestReadLoopEmitsDelimitedLines(t *testing.T) {
	enum := &fakeEnumerator{}
	enum.set(ch340)
	opener := newFakeOpener()
	rec := newRecorder()
	m := newTestManager(enum, opener, rec.emit)
	defer m.closeAll("test")

	m.discover()
	w := opener.writer("/dev/ttyUSB0")
	go w.Write([]byte("  8801043015653\r\nabc\r\n4006381333931\n"))

	if got := rec.next(t); got != (emitted{"8801043015653", "/dev/ttyUSB0"}) {
		t.Errorf("first emission = %+v", got)
	}
	// "abc" is below the minimum length and is dropped.
	if got := rec.next(t); got.barcode != "4006381333931" {
		t.Errorf("second emission = %+v", got)
	}
	waitFor(t, func() bool { return m.Status()[0].Scans == 2 })
}

func TestReadErrorClosesOnlyThatPort(t *testing.T) {
	enum := &fakeEnumerator{}
	enum.set(ch340, ftdi)
	opener := newFakeOpener()
	m := newTestManager(enum, opener, nil)
	defer m.closeAll("test")

	m.discover()
	opener.writer("/dev/ttyUSB0").CloseWithError(errors.New("input/output error"))

	waitFor(t, func() bool { return len(m.ActivePorts()) == 1 })
	if got := m.ActivePorts(); got[0] != "/dev/ttyUSB1" {
		t.Errorf("ActivePorts = %v", got)
	}

	// The next cycle reopens the port that is still enumerated.
	m.discover()
	if got := m.ActivePorts(); len(got) != 2 {
		t.Errorf("ActivePorts after rediscovery = %v", got)
	}
}

func TestAvailablePortsReportsVerdicts(t *testing.T) {
	enum := &fakeEnumerator{}
	enum.set(ftdi, builtin, ch340)
	opener := newFakeOpener()
	opener.accept["/dev/ttyUSB1"] = 1 // never opens
	m := newTestManager(enum, opener, nil)
	defer m.closeAll("test")

	m.discover()
	got, err := m.AvailablePorts()
	if err != nil {
		t.Fatal(err)
	}
	want := []struct {
		name               string
		matched, connected bool
	}{
		{"/dev/ttyS0", false, false},
		{"/dev/ttyUSB0", true, true},
		{"/dev/ttyUSB1", true, false},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d ports, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Name != w.name || got[i].Matched != w.matched || got[i].Connected != w.connected {
			t.Errorf("port %d = %+v, want %+v", i, got[i], w)
		}
	}
}

func TestStartReconnectAndShutdown(t *testing.T) {
	enum := &fakeEnumerator{}
	enum.set(ch340)
	opener := newFakeOpener()
	m := newTestManager(enum, opener, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return len(m.ActivePorts()) == 1 })

	m.Reconnect()
	waitFor(t, func() bool { return opener.opened("/dev/ttyUSB0") == 2 && len(m.ActivePorts()) == 1 })

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	if len(m.ActivePorts()) != 0 {
		t.Errorf("ActivePorts after shutdown = %v", m.ActivePorts())
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("input/output error") }
func (failingReader) Close() error             { return nil }

type failingOpener struct{}

func (failingOpener) Open(string, int) (io.ReadCloser, error) { return failingReader{}, nil }

func TestImmediateReadFailureLeavesNoStalePort(t *testing.T) {
	enum := &fakeEnumerator{}
	enum.set(ch340)
	m := newTestManager(enum, failingOpener{}, nil)

	var mu sync.Mutex
	var seen [][]string
	m.OnPortsChanged(func(ports []string) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ports)
	})

	m.discover()
	m.wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	want := [][]string{{"/dev/ttyUSB0"}, {}}
	if !reflect.DeepEqual(seen, want) {
		t.Fatalf("notifications = %v, want %v", seen, want)
	}
	if last := seen[len(seen)-1]; !reflect.DeepEqual(last, m.ActivePorts()) {
		t.Errorf("last notification %v disagrees with ActivePorts %v", last, m.ActivePorts())
	}
}
