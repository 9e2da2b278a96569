package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"kleolend/core/events"
)

func TestDispatcherSignsPayload(t *testing.T) {
	var mu sync.Mutex
	var receivedBody []byte
	var receivedSignature string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		mu.Lock()
		receivedBody = body
		receivedSignature = r.Header.Get("X-Kleolend-Signature")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dispatcher, err := NewDispatcher(server.URL, []byte("secret"))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()

	dispatcher.Emit(&events.Record{
		Type:       "loans.activated",
		Attributes: map[string]string{"loanId": "7"},
	})

	waitFor(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return receivedSignature != ""
	}, time.Second)

	mu.Lock()
	defer mu.Unlock()
	if receivedSignature == "" {
		t.Fatalf("expected signature header")
	}
	mac := hmac.New(sha256.New, []byte("secret"))
	_, _ = mac.Write(receivedBody)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if receivedSignature != expected {
		t.Fatalf("signature mismatch: got %s want %s", receivedSignature, expected)
	}

	var payload Payload
	if err := json.Unmarshal(receivedBody, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Type != "loans.activated" {
		t.Fatalf("unexpected type %s", payload.Type)
	}
	if payload.Attributes["loanId"] != "7" {
		t.Fatalf("unexpected attributes %v", payload.Attributes)
	}
	if payload.DeliveryID == "" {
		t.Fatalf("expected delivery id")
	}
}

func TestDispatcherRetries(t *testing.T) {
	attempts := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithRetryPolicy(5, time.Millisecond*10, time.Millisecond*20))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()

	dispatcher.Emit(&events.Record{Type: "loans.defaulted"})

	waitFor(func() bool { return atomic.LoadInt32(&attempts) >= 3 }, time.Second)
	if atomic.LoadInt32(&attempts) < 3 {
		t.Fatalf("expected retries, got %d", attempts)
	}
}

func TestDispatcherRejectsMissingConfig(t *testing.T) {
	if _, err := NewDispatcher("", []byte("secret")); err == nil {
		t.Fatalf("expected error for empty endpoint")
	}
	if _, err := NewDispatcher("http://localhost:1", nil); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

func waitFor(cond func() bool, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond * 10)
	}
}
