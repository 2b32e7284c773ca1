package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second
	pongTimeout        = 60 * time.Second
	pingInterval       = 30 * time.Second
)

// WSClient manages the WebSocket connection to the scanbridge daemon.
type WSClient struct {
	url    string
	logger *slog.Logger

	mu      sync.Mutex
	writeMu sync.Mutex // serialises all conn writes
	conn    *websocket.Conn
	seq     uint64
	pingCtx context.CancelFunc // cancels the active ping goroutine
}

// NewWSClient creates a client that connects to the given WebSocket URL.
// The auth token, if any, travels in the URL's token query parameter.
func NewWSClient(url string, logger *slog.Logger) *WSClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSClient{url: url, logger: logger}
}

// --- Bubble Tea messages ---

// WSConnectedMsg is sent when the WebSocket connects.
type WSConnectedMsg struct{}

// WSDisconnectedMsg is sent when the connection drops.
type WSDisconnectedMsg struct{ Err error }

// WSSnapshotMsg delivers the daemon's full state.
type WSSnapshotMsg struct{ Payload SnapshotPayload }

// WSOfferMsg delivers a scan this session may claim.
type WSOfferMsg struct{ Payload OfferPayload }

// WSResolvedMsg reports that a scan has been acted on.
type WSResolvedMsg struct{ Payload ResolvedPayload }

// WSPortsMsg reports the connected serial readers.
type WSPortsMsg struct{ Payload PortsPayload }

// WSResultMsg reports an inventory update.
type WSResultMsg struct{ Payload ResultPayload }

// WSErrorMsg wraps a server-side error.
type WSErrorMsg struct{ Payload ErrorPayload }

// Listen returns a Bubble Tea command that connects, retrying with
// exponential backoff until it succeeds or ctx ends.
func (c *WSClient) Listen(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		delay := reconnectBaseDelay
		for {
			select {
			case <-ctx.Done():
				return nil
			default:
			}

			conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
			if err != nil {
				c.logger.Debug("ws dial failed", "error", err, "retry_in", delay)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(delay):
				}
				delay = min(delay*2, reconnectMaxDelay)
				continue
			}

			c.mu.Lock()
			if c.pingCtx != nil {
				c.pingCtx()
			}
			pingCtx, pingCancel := context.WithCancel(ctx)
			c.conn = conn
			c.seq = 0
			c.pingCtx = pingCancel
			c.mu.Unlock()

			go c.pingLoop(pingCtx, conn)

			return WSConnectedMsg{}
		}
	}
}

// ReadLoop returns a Bubble Tea command that reads until the next message
// the UI cares about. It should be re-issued after every message.
func (c *WSClient) ReadLoop(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return WSDisconnectedMsg{Err: fmt.Errorf("no connection")}
		}

		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongTimeout))
			return nil
		})
		conn.SetReadDeadline(time.Now().Add(pongTimeout))

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				c.mu.Lock()
				if c.conn == conn {
					c.conn = nil
				}
				c.mu.Unlock()
				conn.Close()
				return WSDisconnectedMsg{Err: err}
			}

			var msg WSMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}

			c.mu.Lock()
			c.seq = msg.Seq
			c.mu.Unlock()

			if teaMsg := dispatch(msg); teaMsg != nil {
				return teaMsg
			}
		}
	}
}

// pingLoop sends periodic pings on the given connection. It exits when the
// context is cancelled or the connection changes.
func (c *WSClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			cc := c.conn
			c.mu.Unlock()
			if cc != conn {
				return
			}
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Ack claims a scan over the socket without processing it.
func (c *WSClient) Ack(scanID string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(map[string]interface{}{
		"type":    "ack",
		"payload": map[string]string{"scanId": scanID},
	})
}

// Seq returns the last seen sequence number.
func (c *WSClient) Seq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// dispatch turns an envelope into the tea message the UI handles, or nil
// for types and payloads it does not understand.
func dispatch(msg WSMessage) tea.Msg {
	switch msg.Type {
	case MsgSnapshot:
		return decode(msg.Payload, func(p SnapshotPayload) tea.Msg { return WSSnapshotMsg{Payload: p} })
	case MsgOffer:
		return decode(msg.Payload, func(p OfferPayload) tea.Msg { return WSOfferMsg{Payload: p} })
	case MsgResolved:
		return decode(msg.Payload, func(p ResolvedPayload) tea.Msg { return WSResolvedMsg{Payload: p} })
	case MsgPorts:
		return decode(msg.Payload, func(p PortsPayload) tea.Msg { return WSPortsMsg{Payload: p} })
	case MsgResult:
		return decode(msg.Payload, func(p ResultPayload) tea.Msg { return WSResultMsg{Payload: p} })
	case MsgError:
		return decode(msg.Payload, func(p ErrorPayload) tea.Msg { return WSErrorMsg{Payload: p} })
	}
	return nil
}

func decode[T any](raw json.RawMessage, wrap func(T) tea.Msg) tea.Msg {
	var p T
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	return wrap(p)
}
