package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPBackend talks to a PostgREST endpoint (as exposed by Supabase under
// /rest/v1) holding the items, inventory and inventory_logs tables.
type HTTPBackend struct {
	baseURL string
	key     string
	storeID string
	client  *http.Client
}

// NewHTTPBackend creates a backend for baseURL (e.g.
// "https://project.supabase.co"), authenticating with a service key and
// scoping every query to storeID.
func NewHTTPBackend(baseURL, serviceKey, storeID string, timeout time.Duration) *HTTPBackend {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/") + "/rest/v1/",
		key:     serviceKey,
		storeID: storeID,
		client:  &http.Client{Timeout: timeout},
	}
}

func (b *HTTPBackend) StoreID() string { return b.storeID }

func (b *HTTPBackend) LookupItem(ctx context.Context, barcode string) (*Item, error) {
	var items []Item
	path := "items?barcode=eq." + url.QueryEscape(barcode) +
		"&store_id=eq." + url.QueryEscape(b.storeID) +
		"&select=id,name,barcode,unit"
	if err := b.do(ctx, http.MethodGet, path, nil, &items); err != nil {
		return nil, fmt.Errorf("lookup %s: %w", barcode, err)
	}
	if len(items) == 0 {
		return nil, ErrUnknownBarcode
	}
	return &items[0], nil
}

func (b *HTTPBackend) GetStock(ctx context.Context, itemID ID) (*Stock, error) {
	var rows []Stock
	path := "inventory?item_id=eq." + url.QueryEscape(string(itemID)) +
		"&store_id=eq." + url.QueryEscape(b.storeID) +
		"&select=id,quantity"
	if err := b.do(ctx, http.MethodGet, path, nil, &rows); err != nil {
		return nil, fmt.Errorf("load stock for item %s: %w", itemID, err)
	}
	if len(rows) == 0 {
		return nil, ErrNoStock
	}
	return &rows[0], nil
}

func (b *HTTPBackend) SetStock(ctx context.Context, stockID ID, quantity int, at time.Time) error {
	body := map[string]any{
		"quantity":        quantity,
		"last_updated_at": at.UTC().Format(time.RFC3339Nano),
	}
	var updated []Stock
	if err := b.do(ctx, http.MethodPatch, "inventory?id=eq."+url.QueryEscape(string(stockID)), body, &updated); err != nil {
		return fmt.Errorf("update stock %s: %w", stockID, err)
	}
	if len(updated) == 0 {
		return fmt.Errorf("update stock %s: no rows updated", stockID)
	}
	return nil
}

func (b *HTTPBackend) AppendLog(ctx context.Context, entry LogEntry) error {
	if entry.StoreID == "" {
		entry.StoreID = b.storeID
	}
	if err := b.do(ctx, http.MethodPost, "inventory_logs", entry, nil); err != nil {
		return fmt.Errorf("append inventory log: %w", err)
	}
	return nil
}

func (b *HTTPBackend) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", b.key)
	req.Header.Set("Authorization", "Bearer "+b.key)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %d %s", method, strings.SplitN(path, "?", 2)[0], resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
