package scan

import "time"

// Source identifies which capture path detected a barcode.
type Source string

const (
	SourceKeyboard Source = "keyboard"
	SourceSerial   Source = "serial"
	SourceManual   Source = "manual" // typed into a UI rather than scanned
)

// Event is a single detected barcode. Events are immutable once published;
// ID is the correlation key UI sessions use to acknowledge a scan.
type Event struct {
	ID         string    `json:"scanId"`
	Barcode    string    `json:"barcode"`
	Source     Source    `json:"source"`
	Origin     string    `json:"origin,omitempty"` // serial port or input device
	DetectedAt time.Time `json:"detectedAt"`
}
