// Package client provides WebSocket and HTTP clients for the scanbridge
// daemon. Types mirror the daemon wire protocol without importing daemon
// packages.
package client

import (
	"encoding/json"
	"time"
)

// MessageType identifies the kind of WebSocket message.
type MessageType string

const (
	MsgSnapshot MessageType = "snapshot"
	MsgOffer    MessageType = "offer"
	MsgResolved MessageType = "resolved"
	MsgPorts    MessageType = "ports"
	MsgResult   MessageType = "result"
	MsgError    MessageType = "error"
)

// WSMessage is the envelope for all WebSocket messages.
type WSMessage struct {
	Type    MessageType     `json:"type"`
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

// Mode is the scan direction selected in the UI.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeInput  Mode = "input"
	ModeOutput Mode = "output"
)

// Next cycles auto -> input -> output -> auto.
func (m Mode) Next() Mode {
	switch m {
	case ModeAuto:
		return ModeInput
	case ModeInput:
		return ModeOutput
	default:
		return ModeAuto
	}
}

// ScanResult mirrors the daemon's inventory result.
type ScanResult struct {
	ScanID  string    `json:"scanId,omitempty"`
	Barcode string    `json:"barcode"`
	Item    string    `json:"item"`
	Unit    string    `json:"unit"`
	Before  int       `json:"before"`
	After   int       `json:"after"`
	Change  int       `json:"change"`
	Mode    string    `json:"mode"`
	Source  string    `json:"source,omitempty"`
	At      time.Time `json:"at"`
}

// --- WebSocket payload types ---

// SnapshotPayload is sent on connect and periodically.
type SnapshotPayload struct {
	Ports   []string     `json:"ports"`
	History []ScanResult `json:"history"`
	Station string       `json:"station,omitempty"`
}

// OfferPayload asks this session to claim a scan before Deadline.
type OfferPayload struct {
	ScanID     string    `json:"scanId"`
	Barcode    string    `json:"barcode"`
	Source     string    `json:"source"`
	Origin     string    `json:"origin,omitempty"`
	DetectedAt time.Time `json:"detectedAt"`
	Deadline   time.Time `json:"deadline"`
}

// ResolvedPayload reports who acted on a scan.
type ResolvedPayload struct {
	ScanID  string `json:"scanId"`
	Barcode string `json:"barcode"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// PortsPayload lists the connected serial readers.
type PortsPayload struct {
	Ports []string `json:"ports"`
}

// ResultPayload reports an inventory update from any path.
type ResultPayload struct {
	ScanID  string      `json:"scanId,omitempty"`
	Barcode string      `json:"barcode"`
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Result  *ScanResult `json:"result,omitempty"`
}

// ErrorPayload is a server-side complaint about something this session sent.
type ErrorPayload struct {
	ScanID  string `json:"scanId,omitempty"`
	Message string `json:"message"`
}

// --- REST types ---

// ScanRequest is the body of POST /api/scan.
type ScanRequest struct {
	Barcode  string `json:"barcode"`
	Quantity int    `json:"quantity,omitempty"`
	Mode     Mode   `json:"mode,omitempty"`
	ScanID   string `json:"scanId,omitempty"`
	Source   string `json:"source,omitempty"`
}

// ScanResponse is the body returned by POST /api/scan.
type ScanResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Barcode string      `json:"barcode,omitempty"`
	Result  *ScanResult `json:"result,omitempty"`
}

// Station mirrors the daemon's station identity.
type Station struct {
	Hostname string `json:"hostname"`
	Platform string `json:"platform,omitempty"`
}

// Status is returned by GET /api/status.
type Status struct {
	Station     Station  `json:"station"`
	Uptime      string   `json:"uptime"`
	HostUptime  string   `json:"hostUptime,omitempty"`
	Clients     int      `json:"clients"`
	Pending     int      `json:"pending"`
	ActivePorts []string `json:"activePorts"`
	Keyboard    string   `json:"keyboard"`
}
