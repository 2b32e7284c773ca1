package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/storekeeper/scanbridge/internal/broker"
	"github.com/storekeeper/scanbridge/internal/clock"
	"github.com/storekeeper/scanbridge/internal/inventory"
	"github.com/storekeeper/scanbridge/internal/metrics"
	"github.com/storekeeper/scanbridge/internal/scan"
)

// ErrTooManyConnections is returned by AddClient when the connection limit
// is reached.
var ErrTooManyConnections = errors.New("too many websocket connections")

const writeWait = 10 * time.Second

type client struct {
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			return
		}
	}
}

// Broadcaster fans server messages out to every connected UI session. It
// implements broker.Offerer.
type Broadcaster struct {
	mu       sync.RWMutex // protects clients; held for reading while sending
	clients  map[*client]bool
	maxConns int
	seq      atomic.Uint64

	snapshot func() SnapshotPayload
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewBroadcaster creates a broadcaster. snapshot builds the state sent to a
// session on connect and on every snapshot tick. maxConns of 0 means
// unlimited.
func NewBroadcaster(snapshot func() SnapshotPayload, maxConns int, logger *slog.Logger, m *metrics.Metrics) *Broadcaster {
	if snapshot == nil {
		snapshot = func() SnapshotPayload { return SnapshotPayload{} }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		clients:  make(map[*client]bool),
		maxConns: maxConns,
		snapshot: snapshot,
		logger:   logger,
		metrics:  m,
	}
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	c := &client{conn: conn, b: b, send: make(chan []byte, 64)}

	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	b.clients[c] = true
	n := len(b.clients)
	b.mu.Unlock()

	b.metrics.SetClients(n)
	go c.writePump()

	if data, ok := b.encode(MsgSnapshot, b.snapshot()); ok {
		b.sendTo(c, data)
	}
	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	_, ok := b.clients[c]
	if ok {
		delete(b.clients, c)
		close(c.send)
	}
	n := len(b.clients)
	b.mu.Unlock()
	if ok {
		b.metrics.SetClients(n)
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Offer broadcasts a scan offer and returns how many sessions accepted it
// into their send queue.
func (b *Broadcaster) Offer(ev scan.Event, deadline time.Time) int {
	data, ok := b.encode(MsgOffer, OfferPayload{
		ScanID:     ev.ID,
		Barcode:    ev.Barcode,
		Source:     ev.Source,
		Origin:     ev.Origin,
		DetectedAt: ev.DetectedAt,
		Deadline:   deadline,
	})
	if !ok {
		return 0
	}
	return b.broadcast(data)
}

func (b *Broadcaster) BroadcastPorts(ports []string) {
	if ports == nil {
		ports = []string{}
	}
	if data, ok := b.encode(MsgPorts, PortsPayload{Ports: ports}); ok {
		b.broadcast(data)
	}
}

func (b *Broadcaster) BroadcastResolved(r broker.Resolution) {
	p := ResolvedPayload{ScanID: r.ScanID, Barcode: r.Barcode, Outcome: string(r.Outcome)}
	if r.Err != nil {
		p.Error = r.Err.Error()
	}
	if data, ok := b.encode(MsgResolved, p); ok {
		b.broadcast(data)
	}
}

func (b *Broadcaster) BroadcastResult(r inventory.Report) {
	p := ResultPayload{ScanID: r.Request.ScanID, Barcode: r.Request.Barcode, Success: r.Err == nil, Result: r.Result}
	if r.Err != nil {
		p.Message = r.Err.Error()
	}
	if data, ok := b.encode(MsgResult, p); ok {
		b.broadcast(data)
	}
}

func (b *Broadcaster) BroadcastSnapshot() {
	if data, ok := b.encode(MsgSnapshot, b.snapshot()); ok {
		b.broadcast(data)
	}
}

// RunSnapshots re-sends the full snapshot every interval until ctx ends, so
// a session that missed a message converges.
func (b *Broadcaster) RunSnapshots(ctx context.Context, clk clock.Clock, interval time.Duration) {
	ticker := clk.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.BroadcastSnapshot()
		}
	}
}

// CloseAll disconnects every session.
func (b *Broadcaster) CloseAll() {
	b.mu.Lock()
	for c := range b.clients {
		delete(b.clients, c)
		close(c.send)
	}
	b.mu.Unlock()
	b.metrics.SetClients(0)
}

func (b *Broadcaster) encode(t MessageType, payload interface{}) ([]byte, bool) {
	data, err := json.Marshal(WSMessage{Type: t, Seq: b.seq.Add(1), Payload: payload})
	if err != nil {
		b.logger.Error("ws marshal failed", "type", t, "error", err)
		return nil, false
	}
	return data, true
}

// sendTo queues data for one client, disconnecting it if its queue is full.
func (b *Broadcaster) sendTo(c *client, data []byte) bool {
	b.mu.RLock()
	ok := b.clients[c]
	if ok {
		select {
		case c.send <- data:
		default:
			ok = false
		}
	}
	b.mu.RUnlock()
	if !ok {
		b.RemoveClient(c)
	}
	return ok
}

func (b *Broadcaster) broadcast(data []byte) int {
	var slow []*client
	delivered := 0

	b.mu.RLock()
	for c := range b.clients {
		select {
		case c.send <- data:
			delivered++
		default:
			slow = append(slow, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range slow {
		b.logger.Warn("ws client too slow, disconnecting", "remote", c.conn.RemoteAddr().String())
		b.RemoveClient(c)
	}
	return delivered
}
