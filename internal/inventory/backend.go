package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

var (
	ErrUnknownBarcode    = errors.New("barcode is not registered")
	ErrNoStock           = errors.New("no stock record for item")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrDuplicateScan     = errors.New("duplicate scan")
	ErrFractionalStock   = errors.New("stock quantity is not a whole number")
)

// ID is a backend row key. Rows may use integer or uuid keys, so both JSON
// numbers and strings decode into it.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON writes numeric ids as numbers so filters and inserts keep the
// backend's column type.
func (id ID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

type Item struct {
	ID      ID     `json:"id"`
	Name    string `json:"name"`
	Barcode string `json:"barcode"`
	Unit    string `json:"unit"`
}

// Stock is an item's inventory row within the store.
type Stock struct {
	ID       ID  `json:"id"`
	Quantity int `json:"quantity"`
}

// UnmarshalJSON accepts a numeric quantity column. Whole values such as 12.0
// decode; fractional stock is rejected with ErrFractionalStock since scans
// only move whole units.
func (s *Stock) UnmarshalJSON(b []byte) error {
	var row struct {
		ID       ID          `json:"id"`
		Quantity json.Number `json:"quantity"`
	}
	if err := json.Unmarshal(b, &row); err != nil {
		return err
	}
	q, err := wholeQuantity(row.Quantity)
	if err != nil {
		return fmt.Errorf("stock %s: %w", row.ID, err)
	}
	s.ID, s.Quantity = row.ID, q
	return nil
}

func wholeQuantity(n json.Number) (int, error) {
	if n == "" {
		return 0, nil
	}
	if i, err := n.Int64(); err == nil {
		return int(i), nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, fmt.Errorf("quantity %q: %w", n, err)
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("quantity %s: %w", n, ErrFractionalStock)
	}
	return int(f), nil
}

// LogEntry is one appended inventory_logs row.
type LogEntry struct {
	StockID        ID         `json:"inventory_id"`
	ItemID         ID         `json:"item_id"`
	StoreID        string     `json:"store_id"`
	QuantityBefore int        `json:"quantity_before"`
	QuantityAfter  int        `json:"quantity_after"`
	ChangeAmount   int        `json:"change_amount"`
	ChangeType     ChangeType `json:"change_type"`
	Notes          string     `json:"notes"`
}

// Backend is the inventory store the service updates. Implementations
// return ErrUnknownBarcode and ErrNoStock for missing rows.
type Backend interface {
	LookupItem(ctx context.Context, barcode string) (*Item, error)
	GetStock(ctx context.Context, itemID ID) (*Stock, error)
	SetStock(ctx context.Context, stockID ID, quantity int, at time.Time) error
	AppendLog(ctx context.Context, entry LogEntry) error
}
