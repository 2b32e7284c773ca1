package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/storekeeper/scanbridge/internal/logging"
	"github.com/storekeeper/scanbridge/internal/scan"
)

// dialTestWS creates a test HTTP server that upgrades to WebSocket and returns
// the server-side connection together with the client side.
func dialTestWS(t *testing.T) (*httptest.Server, *websocket.Conn, *websocket.Conn) {
	t.Helper()

	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		connCh <- c
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}

	select {
	case serverConn := <-connCh:
		t.Cleanup(func() {
			clientConn.Close()
			srv.Close()
		})
		return srv, serverConn, clientConn
	case <-time.After(2 * time.Second):
		srv.Close()
		t.Fatal("timed out waiting for server-side WebSocket connection")
		return nil, nil, nil
	}
}

type received struct {
	Type    MessageType     `json:"type"`
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

// readUntil reads messages from conn until one of type want arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want MessageType) received {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		var msg received
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Type == want {
			return msg
		}
	}
}

func newTestBroadcaster(maxConns int) *Broadcaster {
	return NewBroadcaster(func() SnapshotPayload {
		return SnapshotPayload{Ports: []string{"/dev/ttyUSB0"}}
	}, maxConns, logging.Discard(), nil)
}

func TestAddClient_SendsSnapshot(t *testing.T) {
	b := newTestBroadcaster(0)
	_, serverConn, clientConn := dialTestWS(t)

	if _, err := b.AddClient(serverConn); err != nil {
		t.Fatal(err)
	}
	msg := readUntil(t, clientConn, MsgSnapshot)
	var snap SnapshotPayload
	json.Unmarshal(msg.Payload, &snap)
	if len(snap.Ports) != 1 || snap.Ports[0] != "/dev/ttyUSB0" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestAddClient_MaxConnections(t *testing.T) {
	const maxConns = 2
	b := newTestBroadcaster(maxConns)

	var clients []*client
	for i := 0; i < maxConns; i++ {
		_, conn, _ := dialTestWS(t)
		c, err := b.AddClient(conn)
		if err != nil {
			t.Fatalf("AddClient[%d]: unexpected error: %v", i, err)
		}
		clients = append(clients, c)
	}

	_, conn, _ := dialTestWS(t)
	if _, err := b.AddClient(conn); !errors.Is(err, ErrTooManyConnections) {
		t.Fatalf("expected ErrTooManyConnections, got %v", err)
	}
	if got := b.ClientCount(); got != maxConns {
		t.Fatalf("expected %d clients after rejection, got %d", maxConns, got)
	}

	b.RemoveClient(clients[0])
	b.RemoveClient(clients[0])

	_, conn2, _ := dialTestWS(t)
	if _, err := b.AddClient(conn2); err != nil {
		t.Fatalf("AddClient after removal: unexpected error: %v", err)
	}
	if got := b.ClientCount(); got != maxConns {
		t.Fatalf("expected %d clients after re-add, got %d", maxConns, got)
	}
}

func TestOffer_CountsReachedSessions(t *testing.T) {
	b := newTestBroadcaster(0)
	ev := scan.Event{ID: "s1", Barcode: "8801043015653", Source: scan.SourceSerial, Origin: "/dev/ttyUSB0"}

	if n := b.Offer(ev, time.Now()); n != 0 {
		t.Fatalf("Offer with no sessions reached %d", n)
	}

	var conns []*websocket.Conn
	for i := 0; i < 2; i++ {
		_, serverConn, clientConn := dialTestWS(t)
		if _, err := b.AddClient(serverConn); err != nil {
			t.Fatal(err)
		}
		conns = append(conns, clientConn)
	}

	deadline := time.Date(2024, 3, 1, 9, 0, 1, 500e6, time.UTC)
	if n := b.Offer(ev, deadline); n != 2 {
		t.Fatalf("Offer reached %d sessions, want 2", n)
	}
	for _, conn := range conns {
		msg := readUntil(t, conn, MsgOffer)
		var offer OfferPayload
		if err := json.Unmarshal(msg.Payload, &offer); err != nil {
			t.Fatal(err)
		}
		if offer.ScanID != "s1" || offer.Barcode != ev.Barcode || !offer.Deadline.Equal(deadline) {
			t.Errorf("offer = %+v", offer)
		}
	}
}

func TestBroadcast_DisconnectsSlowClient(t *testing.T) {
	b := newTestBroadcaster(0)
	_, serverConn, _ := dialTestWS(t)

	// Registered without a write pump, so its queue never drains.
	c := &client{conn: serverConn, b: b, send: make(chan []byte, 1)}
	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	if n := b.broadcast([]byte(`{}`)); n != 1 {
		t.Fatalf("first broadcast delivered %d", n)
	}
	if n := b.broadcast([]byte(`{}`)); n != 0 {
		t.Fatalf("second broadcast delivered %d, want 0", n)
	}
	if b.ClientCount() != 0 {
		t.Fatal("slow client not removed")
	}
}

// TestWritePump_RemovesClientOnWriteError verifies that a write failure
// removes the dead client from the broadcaster.
func TestWritePump_RemovesClientOnWriteError(t *testing.T) {
	_, serverConn, _ := dialTestWS(t)
	b := newTestBroadcaster(0)

	c := &client{conn: serverConn, b: b, send: make(chan []byte, 64)}
	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	serverConn.Close()
	c.send <- []byte(`{"type":"test"}`)
	go c.writePump()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b.ClientCount() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("client not removed after write error; ClientCount = %d", b.ClientCount())
}

func TestBroadcaster_SequenceNumberIncrement(t *testing.T) {
	b := newTestBroadcaster(0)
	_, serverConn, clientConn := dialTestWS(t)
	if _, err := b.AddClient(serverConn); err != nil {
		t.Fatal(err)
	}
	first := readUntil(t, clientConn, MsgSnapshot)

	b.BroadcastPorts(nil)
	ports := readUntil(t, clientConn, MsgPorts)
	if ports.Seq != first.Seq+1 {
		t.Errorf("seq = %d, want %d", ports.Seq, first.Seq+1)
	}
	if string(ports.Payload) != `{"ports":[]}` {
		t.Errorf("ports payload = %s", ports.Payload)
	}
}
