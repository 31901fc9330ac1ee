package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWebhook(url, header string) *auditWebhook {
	wh := newAuditWebhook(url, header, slog.New(slog.DiscardHandler))
	wh.retryDelay = time.Millisecond
	return wh
}

func TestWebhook_Delivery(t *testing.T) {
	var (
		mu       sync.Mutex
		received webhookEvent
		gotAuth  string
		gotType  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := newTestWebhook(srv.URL, "Authorization: Bearer hook-token")
	wh.enqueue(webhookEvent{
		Event:      "login_success",
		UserID:     "u-1",
		RemoteAddr: "127.0.0.1:1234",
		Timestamp:  "2026-01-01T00:00:00Z",
		Attrs:      map[string]string{"key": "value"},
	})
	wh.close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "login_success", received.Event)
	assert.Equal(t, "u-1", received.UserID)
	assert.Equal(t, "value", received.Attrs["key"])
	assert.Equal(t, "Bearer hook-token", gotAuth)
	assert.Equal(t, "application/json", gotType)
}

func TestWebhook_RetryPolicy(t *testing.T) {
	tests := []struct {
		name   string
		status []int
		want   int32
	}{
		{"retries once after 5xx", []int{http.StatusInternalServerError, http.StatusOK}, 2},
		{"gives up after two 5xx", []int{http.StatusBadGateway, http.StatusBadGateway, http.StatusOK}, 2},
		{"no retry on 4xx", []int{http.StatusBadRequest, http.StatusOK}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := attempts.Add(1)
				w.WriteHeader(tt.status[n-1])
			}))
			defer srv.Close()

			wh := newTestWebhook(srv.URL, "")
			wh.enqueue(webhookEvent{Event: "logout", Timestamp: "2026-01-01T00:00:00Z"})
			wh.close()
			assert.Equal(t, tt.want, attempts.Load())
		})
	}
}

func TestWebhook_CloseDrainsQueue(t *testing.T) {
	var count atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count.Add(1)
	}))
	defer srv.Close()

	wh := newTestWebhook(srv.URL, "")
	for i := 0; i < 5; i++ {
		wh.enqueue(webhookEvent{Event: "register", Timestamp: "2026-01-01T00:00:00Z"})
	}
	wh.close()
	wh.close()
	assert.Equal(t, int32(5), count.Load())
}

func TestWebhook_EnqueueAfterCloseIsDropped(t *testing.T) {
	var count atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count.Add(1)
	}))
	defer srv.Close()

	wh := newTestWebhook(srv.URL, "")
	wh.close()
	assert.NotPanics(t, func() {
		wh.enqueue(webhookEvent{Event: "logout", Timestamp: "2026-01-01T00:00:00Z"})
	})
	assert.Zero(t, count.Load())
}

func TestAuditLogger_AfterAPICloseDoesNotPanic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	a := &API{
		logger: slog.New(slog.DiscardHandler),
		stop:   make(chan struct{}),
	}
	a.webhook = newTestWebhook(srv.URL, "")
	a.audit = newAuditLogger(a.logger, nil, a.webhook)
	a.Close()

	assert.NotPanics(t, func() {
		a.audit.logEvent(AuditLogout, httptest.NewRequest(http.MethodPost, "/", nil), "u-1")
	})
}

func TestWebhook_EnqueueNeverBlocks(t *testing.T) {
	wh := &auditWebhook{
		logger: slog.New(slog.DiscardHandler),
		events: make(chan webhookEvent, 2),
	}
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			wh.enqueue(webhookEvent{Event: "flood"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on a full queue")
	}
	assert.Len(t, wh.events, 2)
}

func TestWebhookEventFrom(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
	r.RemoteAddr = "192.0.2.4:999"
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))

	evt := webhookEventFrom(AuditLoginFailure, r, at, []slog.Attr{
		slog.String("reason", "invalid_credentials"),
		slog.String("user_id", "u-9"),
		slog.Int("status", 401),
	})
	assert.Equal(t, "login_failure", evt.Event)
	assert.Equal(t, "invalid_credentials", evt.Reason)
	assert.Equal(t, "u-9", evt.UserID)
	assert.Equal(t, "192.0.2.4:999", evt.RemoteAddr)
	assert.Equal(t, "2026-03-01T11:00:00Z", evt.Timestamp)
	assert.Equal(t, map[string]string{"status": "401"}, evt.Attrs)
}

func TestAuditLogger_ForwardsToWebhook(t *testing.T) {
	events := make(chan webhookEvent, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		json.NewDecoder(r.Body).Decode(&evt)
		events <- evt
	}))
	defer srv.Close()

	wh := newTestWebhook(srv.URL, "")
	al := newAuditLogger(slog.New(slog.DiscardHandler), nil, wh)
	al.logEvent(AuditRegister, httptest.NewRequest(http.MethodPost, "/", nil), "u-2")
	wh.close()

	select {
	case evt := <-events:
		assert.Equal(t, "register", evt.Event)
		assert.Equal(t, "u-2", evt.UserID)
	default:
		require.Fail(t, "expected a forwarded event")
	}
}
