package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/storekeeper/scanbridge/internal/inventory"
	"github.com/storekeeper/scanbridge/internal/scan"
	"github.com/storekeeper/scanbridge/internal/serial"
)

// Acker claims a scan for an interactive session. The broker implements it.
type Acker interface {
	Claim(scanID string) (scan.Event, bool)
	Pending() int
}

// Inventory is the part of the inventory service the HTTP API exposes.
type Inventory interface {
	Apply(ctx context.Context, req inventory.Request) (*inventory.Result, error)
	LookupItem(ctx context.Context, barcode string) (*inventory.Item, error)
	History() []inventory.Result
	Station() inventory.Station
}

// Ports is the serial manager surface. It may be nil when serial capture is
// disabled.
type Ports interface {
	ActivePorts() []string
	Status() []serial.PortStatus
	AvailablePorts() ([]serial.AvailablePort, error)
	Reconnect()
}

type Options struct {
	AuthToken      string
	AllowedOrigins []string
	Metrics        http.Handler // served at /metrics when set
}

type Server struct {
	broadcaster    *Broadcaster
	acker          Acker
	inventory      Inventory
	ports          Ports
	logger         *slog.Logger
	metrics        http.Handler
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
	startedAt      time.Time
	keyboard       atomic.Value // string
}

func NewServer(opts Options, broadcaster *Broadcaster, acker Acker, inv Inventory, ports Ports, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		broadcaster:    broadcaster,
		acker:          acker,
		inventory:      inv,
		ports:          ports,
		logger:         logger,
		metrics:        opts.Metrics,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      opts.AuthToken,
		startedAt:      time.Now(),
	}
	s.keyboard.Store("disabled")

	for _, origin := range opts.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}
	return s
}

// SetKeyboardState records the keyboard capture state shown by /api/status
// ("listening", "mock", "unsupported", "disabled", "failed").
func (s *Server) SetKeyboardState(state string) {
	s.keyboard.Store(state)
}

// Handler returns the daemon's HTTP surface.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWS)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.requireAuth)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/ports", s.handlePorts).Methods(http.MethodGet)
	api.HandleFunc("/ports/reconnect", s.handleReconnect).Methods(http.MethodPost)
	api.HandleFunc("/ports/available", s.handleAvailablePorts).Methods(http.MethodGet)
	api.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/item/{barcode}", s.handleItem).Methods(http.MethodGet)
	api.HandleFunc("/scan", s.handleScan).Methods(http.MethodPost)

	return securityHeaders(r)
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authorize(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c, err := s.broadcaster.AddClient(conn)
	if err != nil {
		s.logger.Warn("ws client rejected", "remote", r.RemoteAddr, "error", err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}
	s.logger.Info("ws client connected", "remote", r.RemoteAddr, "clients", s.broadcaster.ClientCount())

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			s.logger.Info("ws client disconnected", "remote", r.RemoteAddr)
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.handleInbound(c, data)
		}
	}()
}

func (s *Server) handleInbound(c *client, data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Debug("ws message ignored", "error", err)
		return
	}
	if msg.Type != MsgAck {
		s.logger.Debug("ws message ignored", "type", msg.Type)
		return
	}
	var ack AckPayload
	if err := json.Unmarshal(msg.Payload, &ack); err != nil || ack.ScanID == "" {
		s.replyError(c, "", "ack requires scanId")
		return
	}
	if _, ok := s.acker.Claim(ack.ScanID); !ok {
		s.replyError(c, ack.ScanID, "scan already claimed")
	}
}

func (s *Server) replyError(c *client, scanID, message string) {
	if data, ok := s.broadcaster.encode(MsgError, ErrorPayload{ScanID: scanID, Message: message}); ok {
		s.broadcaster.sendTo(c, data)
	}
}

// StatusResponse is served by GET /api/status.
type StatusResponse struct {
	Station     inventory.Station `json:"station"`
	Uptime      string            `json:"uptime"`
	HostUptime  string            `json:"hostUptime,omitempty"`
	Clients     int               `json:"clients"`
	Pending     int               `json:"pending"`
	ActivePorts []string          `json:"activePorts"`
	Keyboard    string            `json:"keyboard"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Station:     s.inventory.Station(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
		Clients:     s.broadcaster.ClientCount(),
		Pending:     s.acker.Pending(),
		ActivePorts: []string{},
		Keyboard:    s.keyboard.Load().(string),
	}
	if up := inventory.HostUptime(); up > 0 {
		resp.HostUptime = up.String()
	}
	if s.ports != nil {
		resp.ActivePorts = s.ports.ActivePorts()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePorts(w http.ResponseWriter, r *http.Request) {
	if s.ports == nil {
		writeJSON(w, http.StatusOK, []serial.PortStatus{})
		return
	}
	writeJSON(w, http.StatusOK, s.ports.Status())
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if s.ports == nil {
		http.Error(w, "serial capture disabled", http.StatusServiceUnavailable)
		return
	}
	s.ports.Reconnect()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleAvailablePorts(w http.ResponseWriter, r *http.Request) {
	if s.ports == nil {
		http.Error(w, "serial capture disabled", http.StatusServiceUnavailable)
		return
	}
	ports, err := s.ports.AvailablePorts()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ports)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.inventory.History())
}

func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	barcode := mux.Vars(r)["barcode"]
	item, err := s.inventory.LookupItem(r.Context(), barcode)
	switch {
	case errors.Is(err, inventory.ErrUnknownBarcode):
		writeJSON(w, http.StatusNotFound, scanResponse{Success: false, Message: err.Error(), Barcode: barcode})
	case err != nil:
		writeJSON(w, http.StatusBadGateway, scanResponse{Success: false, Message: err.Error(), Barcode: barcode})
	default:
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "item": item})
	}
}

type scanRequest struct {
	Barcode  string `json:"barcode"`
	Quantity int    `json:"quantity"`
	Mode     string `json:"mode"`
	ScanID   string `json:"scanId"`
	Source   string `json:"source"`
}

type scanResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message,omitempty"`
	Barcode string            `json:"barcode,omitempty"`
	Result  *inventory.Result `json:"result,omitempty"`
}

// handleScan applies a scan on behalf of an interactive session. When the
// request carries a scanId the scan is claimed through the broker first;
// losing the claim means another path already processed it.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.ScanID == "" && strings.TrimSpace(req.Barcode) == "" {
		http.Error(w, "barcode required", http.StatusBadRequest)
		return
	}
	mode, err := inventory.ParseMode(req.Mode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	barcode, source := req.Barcode, scanSource(req.Source)
	if req.ScanID != "" {
		ev, ok := s.acker.Claim(req.ScanID)
		if !ok {
			writeJSON(w, http.StatusConflict, scanResponse{Success: false, Message: "scan already claimed", Barcode: req.Barcode})
			return
		}
		// The claimed event is authoritative for a brokered scan.
		if req.Barcode != "" && req.Barcode != ev.Barcode {
			s.logger.Warn("scan request barcode differs from claimed scan, using claimed",
				"scan_id", req.ScanID, "requested", req.Barcode, "claimed", ev.Barcode)
		}
		barcode, source = ev.Barcode, ev.Source
	}

	res, err := s.inventory.Apply(r.Context(), inventory.Request{
		Barcode:  barcode,
		Quantity: req.Quantity,
		Mode:     mode,
		Source:   source,
		ScanID:   req.ScanID,
	})
	if err != nil {
		writeJSON(w, scanErrorStatus(err), scanResponse{Success: false, Message: err.Error(), Barcode: barcode})
		return
	}
	writeJSON(w, http.StatusOK, scanResponse{Success: true, Barcode: res.Barcode, Result: res})
}

func scanSource(s string) scan.Source {
	switch src := scan.Source(s); src {
	case scan.SourceKeyboard, scan.SourceSerial:
		return src
	}
	return scan.SourceManual
}

func scanErrorStatus(err error) int {
	switch {
	case errors.Is(err, inventory.ErrUnknownBarcode):
		return http.StatusNotFound
	case errors.Is(err, inventory.ErrDuplicateScan):
		return http.StatusTooManyRequests
	case errors.Is(err, inventory.ErrNoStock), errors.Is(err, inventory.ErrInsufficientStock),
		errors.Is(err, inventory.ErrFractionalStock):
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Scanbridge-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	if parsed.Host == r.Host {
		return true
	}
	switch parsed.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// ListenAndServe serves handler until ctx is cancelled, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, host string, port int, handler http.Handler, logger *slog.Logger) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen %s: %w", addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
