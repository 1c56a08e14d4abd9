package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPParticipantInvoke(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		switch {
		case strings.HasSuffix(r.URL.Path, "/invoke/wallet.debit"):
			var payload map[string]any
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				t.Errorf("decode payload: %v", err)
			}
			if payload["owner_id"] != "u1" {
				t.Errorf("owner_id = %v, want u1", payload["owner_id"])
			}
			w.WriteHeader(http.StatusNoContent)
		case strings.HasSuffix(r.URL.Path, "/invoke/market.quotes"):
			json.NewEncoder(w).Encode([]map[string]string{{"asset_type": "stock", "price": "12.00"}})
		default:
			http.Error(w, "unknown operation", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p := NewHTTPParticipant(srv.URL)
	ctx := context.Background()

	result, err := p.Invoke(ctx, "wallet.debit", map[string]string{"owner_id": "u1", "amount": "10.00"})
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if result != nil {
		t.Fatalf("debit result = %v, want nil", result)
	}

	result, err = p.Invoke(ctx, "market.quotes", []string{"stock"})
	if err != nil {
		t.Fatalf("quotes: %v", err)
	}
	if result == nil {
		t.Fatal("quotes result should not be nil")
	}

	if _, err := p.Invoke(ctx, "nope", nil); err == nil {
		t.Fatal("unknown operation should fail")
	}
}

func TestLocalParticipantAcceptsEverything(t *testing.T) {
	result, err := LocalParticipant{}.Invoke(context.Background(), "wallet.debit", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Fatalf("result = %v, want nil", result)
	}
}
