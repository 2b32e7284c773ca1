package inventory

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryBackend is an in-process Backend used by mock mode and tests.
type MemoryBackend struct {
	mu      sync.Mutex
	items   map[string]Item // by barcode
	stock   map[ID]*memStock
	byItem  map[ID]ID // item id -> stock id
	logs    []LogEntry
	nextID  int
	storeID string
}

type memStock struct {
	Stock
	updatedAt time.Time
}

func NewMemoryBackend(storeID string) *MemoryBackend {
	return &MemoryBackend{
		items:   make(map[string]Item),
		stock:   make(map[ID]*memStock),
		byItem:  make(map[ID]ID),
		storeID: storeID,
	}
}

// Add registers an item with an initial quantity and returns its id.
func (m *MemoryBackend) Add(barcode, name, unit string, quantity int) ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	itemID := ID(strconv.Itoa(m.nextID))
	m.nextID++
	stockID := ID(strconv.Itoa(m.nextID))
	m.items[barcode] = Item{ID: itemID, Name: name, Barcode: barcode, Unit: unit}
	m.stock[stockID] = &memStock{Stock: Stock{ID: stockID, Quantity: quantity}}
	m.byItem[itemID] = stockID
	return itemID
}

// AddWithoutStock registers an item that has no inventory row.
func (m *MemoryBackend) AddWithoutStock(barcode, name, unit string) ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	itemID := ID(strconv.Itoa(m.nextID))
	m.items[barcode] = Item{ID: itemID, Name: name, Barcode: barcode, Unit: unit}
	return itemID
}

func (m *MemoryBackend) LookupItem(_ context.Context, barcode string) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[barcode]
	if !ok {
		return nil, ErrUnknownBarcode
	}
	return &it, nil
}

func (m *MemoryBackend) GetStock(_ context.Context, itemID ID) (*Stock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sid, ok := m.byItem[itemID]
	if !ok {
		return nil, ErrNoStock
	}
	s := m.stock[sid].Stock
	return &s, nil
}

func (m *MemoryBackend) SetStock(_ context.Context, stockID ID, quantity int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stock[stockID]
	if !ok {
		return ErrNoStock
	}
	s.Quantity = quantity
	s.updatedAt = at
	return nil
}

func (m *MemoryBackend) AppendLog(_ context.Context, entry LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.StoreID == "" {
		entry.StoreID = m.storeID
	}
	m.logs = append(m.logs, entry)
	return nil
}

// Quantity returns the current stock for barcode, or -1 if it has none.
func (m *MemoryBackend) Quantity(barcode string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[barcode]
	if !ok {
		return -1
	}
	sid, ok := m.byItem[it.ID]
	if !ok {
		return -1
	}
	return m.stock[sid].Quantity
}

// Logs returns a copy of every appended log entry.
func (m *MemoryBackend) Logs() []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LogEntry(nil), m.logs...)
}
