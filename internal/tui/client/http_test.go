package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestScanResponses(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantErr     error
		wantSuccess bool
	}{
		{"ok", http.StatusOK, `{"success":true,"barcode":"123"}`, nil, true},
		{"rejected", http.StatusNotFound, `{"success":false,"message":"unknown barcode"}`, nil, false},
		{"claim lost", http.StatusConflict, `{"success":false}`, ErrClaimLost, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if got := r.Header.Get("Authorization"); got != "Bearer tok" {
					t.Errorf("Authorization = %q", got)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			resp, err := NewHTTPClient(srv.URL, "tok").Scan(context.Background(), ScanRequest{Barcode: "123", ScanID: "s1"})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Scan: %v", err)
			}
			if resp.Success != tt.wantSuccess {
				t.Errorf("Success = %v", resp.Success)
			}
		})
	}
}

func TestScanNonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "barcode required", http.StatusBadRequest)
	}))
	defer srv.Close()

	if _, err := NewHTTPClient(srv.URL, "").Scan(context.Background(), ScanRequest{}); err == nil {
		t.Error("expected error for plain-text 400")
	}
}

func TestReconnectPorts(t *testing.T) {
	var method, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	if err := NewHTTPClient(srv.URL, "").ReconnectPorts(context.Background()); err != nil {
		t.Fatalf("ReconnectPorts: %v", err)
	}
	if method != http.MethodPost || path != "/api/ports/reconnect" {
		t.Errorf("request = %s %s", method, path)
	}
}
