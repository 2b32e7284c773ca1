package ws

import (
	"encoding/json"
	"time"

	"github.com/storekeeper/scanbridge/internal/inventory"
	"github.com/storekeeper/scanbridge/internal/scan"
)

type MessageType string

const (
	// server -> client
	MsgSnapshot MessageType = "snapshot"
	MsgOffer    MessageType = "offer"
	MsgResolved MessageType = "resolved"
	MsgPorts    MessageType = "ports"
	MsgResult   MessageType = "result"
	MsgError    MessageType = "error"

	// client -> server
	MsgAck MessageType = "ack"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Seq     uint64      `json:"seq"`
	Payload interface{} `json:"payload"`
}

// inboundMessage is what sessions send; only acks are understood.
type inboundMessage struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type SnapshotPayload struct {
	Ports   []string           `json:"ports"`
	History []inventory.Result `json:"history"`
	Station string             `json:"station,omitempty"`
}

// OfferPayload asks a session to act on a scan and acknowledge it before
// Deadline.
type OfferPayload struct {
	ScanID     string      `json:"scanId"`
	Barcode    string      `json:"barcode"`
	Source     scan.Source `json:"source"`
	Origin     string      `json:"origin,omitempty"`
	DetectedAt time.Time   `json:"detectedAt"`
	Deadline   time.Time   `json:"deadline"`
}

type ResolvedPayload struct {
	ScanID  string `json:"scanId"`
	Barcode string `json:"barcode"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

type PortsPayload struct {
	Ports []string `json:"ports"`
}

// ResultPayload reports the outcome of an inventory update, whichever path
// performed it.
type ResultPayload struct {
	ScanID  string            `json:"scanId,omitempty"`
	Barcode string            `json:"barcode"`
	Success bool              `json:"success"`
	Message string            `json:"message,omitempty"`
	Result  *inventory.Result `json:"result,omitempty"`
}

type AckPayload struct {
	ScanID string `json:"scanId"`
}

type ErrorPayload struct {
	ScanID  string `json:"scanId,omitempty"`
	Message string `json:"message"`
}
