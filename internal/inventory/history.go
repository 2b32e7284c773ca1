package inventory

import (
	"sync"
	"time"

	"github.com/storekeeper/scanbridge/internal/scan"
)

// Result describes one applied inventory change.
type Result struct {
	ScanID     string      `json:"scanId,omitempty"`
	Barcode    string      `json:"barcode"`
	Item       string      `json:"item"`
	Unit       string      `json:"unit"`
	Before     int         `json:"before"`
	After      int         `json:"after"`
	Change     int         `json:"change"`
	ChangeType ChangeType  `json:"mode"`
	Source     scan.Source `json:"source,omitempty"`
	At         time.Time   `json:"at"`
}

// History keeps the most recent successful results, newest first.
type History struct {
	mu      sync.Mutex
	size    int
	entries []Result
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = 20
	}
	return &History{size: size}
}

func (h *History) Add(r Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append([]Result{r}, h.entries...)
	if len(h.entries) > h.size {
		h.entries = h.entries[:h.size]
	}
}

// Restore replaces the entries with results, which must be newest first.
func (h *History) Restore(results []Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(results) > h.size {
		results = results[:h.size]
	}
	h.entries = append([]Result{}, results...)
}

// Recent returns a copy of the retained results, newest first.
func (h *History) Recent() []Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Result{}, h.entries...)
}
