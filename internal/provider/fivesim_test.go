package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFiveSimAcquire(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("expected bearer token, got %q", got)
		}
		if r.URL.Path != "/v1/user/buy/activation/russia/any/telegram" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": 635468204, "phone": "+79180230628", "price": 21, "status": "PENDING"}`))
	}))
	defer server.Close()

	adapter := NewFiveSimAdapter(server.URL, "test-token")
	result, err := adapter.Acquire(context.Background(), "telegram", "russia", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != AcquireOK {
		t.Fatalf("expected AcquireOK, got %d", result.Status)
	}
	if result.OrderRef != "635468204" {
		t.Fatalf("expected order ref 635468204, got %q", result.OrderRef)
	}
	if result.Phone != "+79180230628" {
		t.Fatalf("expected phone +79180230628, got %q", result.Phone)
	}
	if result.Cost != 21 {
		t.Fatalf("expected cost 21, got %d", result.Cost)
	}
}

func TestFiveSimAcquireNoStock(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("no free phones"))
	}))
	defer server.Close()

	adapter := NewFiveSimAdapter(server.URL, "test-token")
	result, err := adapter.Acquire(context.Background(), "telegram", "russia", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != AcquireNoStock {
		t.Fatalf("expected AcquireNoStock, got %d", result.Status)
	}
}

func TestFiveSimPollStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantState PollState
		wantCode  string
	}{
		{
			name:      "pending maps to waiting",
			status:    http.StatusOK,
			body:      `{"id": 1, "status": "PENDING", "sms": []}`,
			wantState: PollWaiting,
		},
		{
			name:      "received with sms maps to delivered",
			status:    http.StatusOK,
			body:      `{"id": 1, "status": "RECEIVED", "sms": [{"code": "111", "text": "first"}, {"code": "483190", "text": "Your code is 483190"}]}`,
			wantState: PollDelivered,
			wantCode:  "483190",
		},
		{
			name:      "timeout",
			status:    http.StatusOK,
			body:      `{"id": 1, "status": "TIMEOUT", "sms": []}`,
			wantState: PollTimeout,
		},
		{
			name:      "cancelled",
			status:    http.StatusOK,
			body:      `{"id": 1, "status": "CANCELED", "sms": []}`,
			wantState: PollCancelled,
		},
		{
			name:      "missing order maps to cancelled",
			status:    http.StatusNotFound,
			body:      `{"error": "order not found"}`,
			wantState: PollCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v1/user/check/635468204" {
					t.Errorf("unexpected path %q", r.URL.Path)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			adapter := NewFiveSimAdapter(server.URL, "test-token")
			result, err := adapter.PollStatus(context.Background(), "635468204")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.State != tt.wantState {
				t.Fatalf("expected state=%v, got %v", tt.wantState, result.State)
			}
			if result.Code != tt.wantCode {
				t.Fatalf("expected code=%q, got %q", tt.wantCode, result.Code)
			}
		})
	}
}
