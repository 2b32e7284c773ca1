package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/storekeeper/scanbridge/internal/tui/client"
	"github.com/storekeeper/scanbridge/internal/tui/theme"
	"github.com/storekeeper/scanbridge/internal/tui/views/events"
	"github.com/storekeeper/scanbridge/internal/tui/views/history"
	"github.com/storekeeper/scanbridge/internal/tui/views/status"
)

const (
	minQuantity = 1
	maxQuantity = 99
)

// claimDoneMsg carries the outcome of claiming an offered scan over REST.
type claimDoneMsg struct {
	scanID  string
	barcode string
	resp    *client.ScanResponse
	err     error
}

// skipDoneMsg reports a held scan claimed over the socket with no inventory
// change.
type skipDoneMsg struct {
	barcode string
	err     error
}

// portsReconnectedMsg reports the outcome of a manual port rescan.
type portsReconnectedMsg struct{ err error }

// Model is the root Bubble Tea model. Each offered scan is claimed by
// posting it back with the selected mode and quantity.
type Model struct {
	ws     *client.WSClient
	http   *client.HTTPClient
	ctx    context.Context
	cancel context.CancelFunc

	keys   KeyMap
	width  int
	height int

	mode     client.Mode
	quantity int
	paused   bool

	// scan id -> offer, until resolved or claimed
	pending map[string]client.OfferPayload
	// offers seen while paused, oldest first; dropped once resolved
	held []client.OfferPayload
	ack  func(scanID string) error

	statusBar status.Model
	history   history.Model
	events    events.Model

	lastResult *client.ResultPayload
	connected  bool
}

// New creates the root model.
func New(ws *client.WSClient, http *client.HTTPClient) Model {
	ctx, cancel := context.WithCancel(context.Background())
	m := Model{
		ws:        ws,
		http:      http,
		ctx:       ctx,
		cancel:    cancel,
		keys:      DefaultKeyMap(),
		mode:      client.ModeAuto,
		quantity:  1,
		pending:   make(map[string]client.OfferPayload),
		statusBar: status.New(),
		history:   history.New(),
		events:    events.New(),
	}
	if ws != nil {
		m.ack = ws.Ack
	}
	return m
}

// Init starts the WebSocket connection.
func (m Model) Init() tea.Cmd {
	if m.ws == nil {
		return nil
	}
	return m.ws.Listen(m.ctx)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.history.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case client.WSConnectedMsg:
		m.connected = true
		m.events.Add(events.KindConn, "connected")
		m.syncStatus()
		return m, m.readNext()

	case client.WSDisconnectedMsg:
		m.connected = false
		m.pending = make(map[string]client.OfferPayload)
		m.held = nil
		if msg.Err != nil {
			m.events.Addf(events.KindConn, "disconnected: %v", msg.Err)
		}
		m.syncStatus()
		if m.ws == nil {
			return m, nil
		}
		return m, m.ws.Listen(m.ctx)

	case client.WSSnapshotMsg:
		m.statusBar.Station = msg.Payload.Station
		m.statusBar.Ports = msg.Payload.Ports
		m.history.Set(msg.Payload.History)
		return m, m.readNext()

	case client.WSPortsMsg:
		m.statusBar.Ports = msg.Payload.Ports
		m.events.Addf(events.KindConn, "%d serial reader(s)", len(msg.Payload.Ports))
		return m, m.readNext()

	case client.WSOfferMsg:
		cmd := m.handleOffer(msg.Payload)
		return m, tea.Batch(cmd, m.readNext())

	case client.WSResolvedMsg:
		delete(m.pending, msg.Payload.ScanID)
		m.dropHeld(msg.Payload.ScanID)
		if msg.Payload.Outcome == "direct" {
			m.events.Addf(events.KindResult, "%s processed directly", msg.Payload.Barcode)
		}
		m.syncStatus()
		return m, m.readNext()

	case client.WSResultMsg:
		m.applyResult(msg.Payload)
		return m, m.readNext()

	case client.WSErrorMsg:
		m.events.Add(events.KindError, msg.Payload.Message)
		return m, m.readNext()

	case claimDoneMsg:
		delete(m.pending, msg.scanID)
		switch {
		case errors.Is(msg.err, client.ErrClaimLost):
			m.events.Addf(events.KindClaim, "%s claimed elsewhere", msg.barcode)
		case msg.err != nil:
			m.events.Addf(events.KindError, "%s: %v", msg.barcode, msg.err)
		case msg.resp != nil && !msg.resp.Success:
			m.events.Addf(events.KindError, "%s: %s", msg.barcode, msg.resp.Message)
		default:
			m.events.Addf(events.KindClaim, "%s claimed", msg.barcode)
		}
		m.syncStatus()
		return m, nil

	case skipDoneMsg:
		if msg.err != nil {
			m.events.Addf(events.KindError, "%s: skip: %v", msg.barcode, msg.err)
		} else {
			m.events.Addf(events.KindClaim, "%s skipped", msg.barcode)
		}
		return m, nil

	case portsReconnectedMsg:
		if msg.err != nil {
			m.events.Addf(events.KindError, "rescan: %v", msg.err)
		} else {
			m.events.Add(events.KindConn, "serial rescan requested")
		}
		return m, nil
	}

	return m, nil
}

// handleOffer records the offer and, unless paused or already past the
// deadline, returns a command that claims it. Offers arriving while paused
// are held so they can be skipped.
func (m *Model) handleOffer(offer client.OfferPayload) tea.Cmd {
	m.events.Addf(events.KindOffer, "%s %s", theme.SourceBadge(offer.Source), offer.Barcode)
	if m.paused {
		m.held = append(m.held, offer)
		m.syncStatus()
		return nil
	}
	if !offer.Deadline.IsZero() && time.Now().After(offer.Deadline) {
		return nil
	}
	m.pending[offer.ScanID] = offer
	m.syncStatus()

	req := client.ScanRequest{
		Barcode:  offer.Barcode,
		Quantity: m.quantity,
		Mode:     m.mode,
		ScanID:   offer.ScanID,
		Source:   offer.Source,
	}
	httpClient := m.http
	ctx := m.ctx
	return func() tea.Msg {
		if httpClient == nil {
			return claimDoneMsg{scanID: req.ScanID, barcode: req.Barcode, err: errors.New("no daemon client")}
		}
		resp, err := httpClient.Scan(ctx, req)
		return claimDoneMsg{scanID: req.ScanID, barcode: req.Barcode, resp: resp, err: err}
	}
}

// skipHeld claims the newest held offer over the socket. The daemon treats
// it as handled and leaves inventory untouched.
func (m *Model) skipHeld() tea.Cmd {
	if len(m.held) == 0 || m.ack == nil {
		return nil
	}
	offer := m.held[len(m.held)-1]
	m.held = m.held[:len(m.held)-1]
	ack := m.ack
	return func() tea.Msg {
		return skipDoneMsg{barcode: offer.Barcode, err: ack(offer.ScanID)}
	}
}

func (m *Model) dropHeld(scanID string) {
	for i, offer := range m.held {
		if offer.ScanID == scanID {
			m.held = append(m.held[:i], m.held[i+1:]...)
			return
		}
	}
}

func (m *Model) applyResult(p client.ResultPayload) {
	m.lastResult = &p
	if p.Success && p.Result != nil {
		m.history.Add(*p.Result)
		return
	}
	if !p.Success {
		m.events.Addf(events.KindError, "%s: %s", p.Barcode, p.Message)
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.cancel()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Mode):
		m.mode = m.mode.Next()

	case key.Matches(msg, m.keys.More):
		m.quantity = min(m.quantity+1, maxQuantity)

	case key.Matches(msg, m.keys.Less):
		m.quantity = max(m.quantity-1, minQuantity)

	case key.Matches(msg, m.keys.Pause):
		m.paused = !m.paused

	case key.Matches(msg, m.keys.Skip):
		cmd := m.skipHeld()
		m.syncStatus()
		return m, cmd

	case key.Matches(msg, m.keys.Up):
		m.events.ScrollUp(1)

	case key.Matches(msg, m.keys.Down):
		m.events.ScrollDown(1)

	case key.Matches(msg, m.keys.Reconnect):
		httpClient := m.http
		ctx := m.ctx
		if httpClient == nil {
			return m, nil
		}
		return m, func() tea.Msg {
			return portsReconnectedMsg{err: httpClient.ReconnectPorts(ctx)}
		}
	}
	m.syncStatus()
	return m, nil
}

func (m Model) readNext() tea.Cmd {
	if m.ws == nil {
		return nil
	}
	return m.ws.ReadLoop(m.ctx)
}

func (m *Model) syncStatus() {
	m.statusBar.Connected = m.connected
	m.statusBar.Mode = m.mode
	m.statusBar.Quantity = m.quantity
	m.statusBar.Paused = m.paused
	m.statusBar.Pending = len(m.pending) + len(m.held)
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	if !m.connected {
		return lipgloss.JoinVertical(lipgloss.Left,
			m.statusBar.View(),
			m.renderDisconnected(),
		)
	}

	eventsHeight := max(m.height-history.MaxRows-12, 5)
	sections := []string{
		m.statusBar.View(),
		m.renderLastResult(),
		m.history.View(),
		m.events.View(m.width, eventsHeight),
		theme.StyleDimmed.Render("  tab:mode  +/-:quantity  p:pause  x:skip held  r:rescan ports  j/k:scroll  q:quit"),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderDisconnected() string {
	box := lipgloss.NewStyle().
		Padding(1, 4).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(theme.ColorDanger).
		Render(lipgloss.JoinVertical(lipgloss.Center,
			theme.StyleError.Render("DISCONNECTED"),
			theme.StyleDimmed.Render("Reconnecting to scanbridge..."),
		))
	return lipgloss.Place(m.width, max(m.height-3, 5), lipgloss.Center, lipgloss.Center, box)
}

func (m Model) renderLastResult() string {
	if m.lastResult == nil {
		return theme.StyleDimmed.Render("  Waiting for scans")
	}
	p := m.lastResult
	if !p.Success {
		return theme.StyleError.Render("  ✗ " + p.Barcode + ": " + p.Message)
	}
	if p.Result == nil {
		return theme.StyleSuccess.Render("  ✓ " + p.Barcode)
	}
	r := p.Result
	line := "  ✓ " + r.Item + " " + lipgloss.NewStyle().Foreground(theme.ModeColor(r.Mode)).Render(fmt.Sprintf("%+d %s", r.Change, r.Unit))
	return theme.StyleSuccess.Render(line)
}
