package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakePostgREST serves just enough of the PostgREST surface for one item.
type fakePostgREST struct {
	mu       sync.Mutex
	quantity int
	rawStock string // served verbatim for the inventory row when set
	patches  []map[string]any
	logs     []map[string]any
	failLogs bool
}

func (f *fakePostgREST) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != "svc-key" || r.Header.Get("Authorization") != "Bearer svc-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.Header.Get("Prefer") != "return=representation" {
			t.Errorf("missing Prefer header on %s %s", r.Method, r.URL)
		}
		f.mu.Lock()
		defer f.mu.Unlock()

		q := r.URL.Query()
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/rest/v1/items":
			if q.Get("store_id") != "eq.store-1" || q.Get("select") != "id,name,barcode,unit" {
				t.Errorf("items query = %s", r.URL.RawQuery)
			}
			if q.Get("barcode") != "eq.8801043015653" {
				io.WriteString(w, `[]`)
				return
			}
			io.WriteString(w, `[{"id":17,"name":"Shin Ramyun","barcode":"8801043015653","unit":"ea"}]`)
		case r.Method == http.MethodGet && r.URL.Path == "/rest/v1/inventory":
			if q.Get("item_id") != "eq.17" {
				io.WriteString(w, `[]`)
				return
			}
			if f.rawStock != "" {
				io.WriteString(w, f.rawStock)
				return
			}
			json.NewEncoder(w).Encode([]map[string]any{{"id": "inv-9", "quantity": f.quantity}})
		case r.Method == http.MethodPatch && r.URL.Path == "/rest/v1/inventory":
			if q.Get("id") != "eq.inv-9" {
				io.WriteString(w, `[]`)
				return
			}
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			f.patches = append(f.patches, body)
			f.quantity = int(body["quantity"].(float64))
			json.NewEncoder(w).Encode([]map[string]any{{"id": "inv-9", "quantity": f.quantity}})
		case r.Method == http.MethodPost && r.URL.Path == "/rest/v1/inventory_logs":
			if f.failLogs {
				http.Error(w, `{"message":"permission denied"}`, http.StatusForbidden)
				return
			}
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			f.logs = append(f.logs, body)
			w.WriteHeader(http.StatusCreated)
			io.WriteString(w, `[]`)
		default:
			http.NotFound(w, r)
		}
	})
}

func newPostgREST(t *testing.T, quantity int) (*fakePostgREST, *HTTPBackend) {
	t.Helper()
	f := &fakePostgREST{quantity: quantity}
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return f, NewHTTPBackend(srv.URL+"/", "svc-key", "store-1", time.Second)
}

func TestHTTPBackendLookup(t *testing.T) {
	_, b := newPostgREST(t, 5)
	ctx := context.Background()

	it, err := b.LookupItem(ctx, "8801043015653")
	if err != nil {
		t.Fatal(err)
	}
	if it.ID != "17" || it.Name != "Shin Ramyun" || it.Unit != "ea" {
		t.Errorf("item = %+v", it)
	}
	if _, err := b.LookupItem(ctx, "000"); !errors.Is(err, ErrUnknownBarcode) {
		t.Errorf("unknown barcode err = %v", err)
	}
	if _, err := b.GetStock(ctx, "18"); !errors.Is(err, ErrNoStock) {
		t.Errorf("missing stock err = %v", err)
	}
}

func TestServiceOverHTTPBackend(t *testing.T) {
	f, b := newPostgREST(t, 5)
	svc := NewService(b, Options{StoreID: b.StoreID(), DefaultMode: ModeAuto, Quantity: 1}, Station{Hostname: "till-1"}, nil, nil, nil)

	res, err := svc.Apply(context.Background(), Request{Barcode: "-8801043015653", Quantity: 2})
	if err != nil {
		t.Fatal(err)
	}
	if res.Before != 5 || res.After != 3 {
		t.Errorf("result = %+v", res)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.patches) != 1 || f.patches[0]["quantity"].(float64) != 3 {
		t.Fatalf("patches = %v", f.patches)
	}
	if _, ok := f.patches[0]["last_updated_at"].(string); !ok {
		t.Error("patch missing last_updated_at")
	}
	if len(f.logs) != 1 {
		t.Fatalf("logs = %v", f.logs)
	}
	l := f.logs[0]
	if l["inventory_id"] != "inv-9" || l["item_id"].(float64) != 17 || l["change_type"] != "output" || l["change_amount"].(float64) != -2 {
		t.Errorf("log row = %v", l)
	}
}

func TestHTTPBackendStockQuantity(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr error
	}{
		{`[{"id":"inv-9","quantity":12}]`, 12, nil},
		{`[{"id":"inv-9","quantity":12.0}]`, 12, nil},
		{`[{"id":"inv-9","quantity":1e2}]`, 100, nil},
		{`[{"id":"inv-9","quantity":12.5}]`, 0, ErrFractionalStock},
	}
	for _, tt := range tests {
		f, b := newPostgREST(t, 0)
		f.rawStock = tt.raw
		st, err := b.GetStock(context.Background(), "17")
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("%s: err = %v, want %v", tt.raw, err, tt.wantErr)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tt.raw, err)
			continue
		}
		if st.ID != "inv-9" || st.Quantity != tt.want {
			t.Errorf("%s: stock = %+v, want quantity %d", tt.raw, st, tt.want)
		}
	}
}

func TestServiceRejectsFractionalStock(t *testing.T) {
	f, b := newPostgREST(t, 0)
	f.rawStock = `[{"id":"inv-9","quantity":12.5}]`
	svc := NewService(b, Options{StoreID: "store-1"}, Station{}, nil, nil, nil)

	_, err := svc.Apply(context.Background(), Request{Barcode: "8801043015653"})
	if !errors.Is(err, ErrFractionalStock) {
		t.Fatalf("Apply err = %v, want ErrFractionalStock", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.patches) != 0 {
		t.Errorf("stock patched despite fractional quantity: %v", f.patches)
	}
}

func TestHTTPBackendLogFailureDoesNotFailScan(t *testing.T) {
	f, b := newPostgREST(t, 5)
	f.failLogs = true
	svc := NewService(b, Options{StoreID: "store-1"}, Station{}, nil, nil, nil)

	if _, err := svc.Apply(context.Background(), Request{Barcode: "8801043015653"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := b.AppendLog(context.Background(), LogEntry{}); err == nil || !strings.Contains(err.Error(), "403") {
		t.Errorf("AppendLog err = %v, want 403", err)
	}
}

func TestHTTPBackendUnauthorized(t *testing.T) {
	f := &fakePostgREST{}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()
	b := NewHTTPBackend(srv.URL, "wrong", "store-1", time.Second)

	_, err := b.LookupItem(context.Background(), "8801043015653")
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("err = %v, want 401", err)
	}
}

func TestIDDecodesNumbersAndStrings(t *testing.T) {
	var v struct{ A, B ID }
	if err := json.Unmarshal([]byte(`{"A":42,"B":"8f9f6053-4578"}`), &v); err != nil {
		t.Fatal(err)
	}
	if v.A != "42" || v.B != "8f9f6053-4578" {
		t.Errorf("decoded %+v", v)
	}
	out, _ := json.Marshal(v)
	if string(out) != `{"A":42,"B":"8f9f6053-4578"}` {
		t.Errorf("encoded %s", out)
	}
}
