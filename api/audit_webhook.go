package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	webhookQueueSize  = 1024
	webhookTimeout    = 10 * time.Second
	webhookRetryDelay = time.Second
)

// webhookEvent is the JSON body posted for each audit event.
type webhookEvent struct {
	Event      string            `json:"event"`
	UserID     string            `json:"userId,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	RemoteAddr string            `json:"remoteAddr,omitempty"`
	Timestamp  string            `json:"timestamp"`
	Attrs      map[string]string `json:"attrs,omitempty"`
}

// auditWebhook forwards audit events to an external collector. Events are
// queued without blocking the request path and dropped when the queue is
// full.
type auditWebhook struct {
	url        string
	authHeader string // "Name: value"
	client     *http.Client
	logger     *slog.Logger
	retryDelay time.Duration
	events     chan webhookEvent
	wg         sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func newAuditWebhook(url, authHeader string, logger *slog.Logger) *auditWebhook {
	w := &auditWebhook{
		url:        url,
		authHeader: authHeader,
		client:     &http.Client{Timeout: webhookTimeout},
		logger:     logger.With("component", "audit_webhook"),
		retryDelay: webhookRetryDelay,
		events:     make(chan webhookEvent, webhookQueueSize),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// enqueue never blocks. Events arriving after close are dropped.
func (w *auditWebhook) enqueue(evt webhookEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		w.logger.Warn("webhook closed, dropping event", "event", evt.Event)
		return
	}
	select {
	case w.events <- evt:
	default:
		w.logger.Warn("queue full, dropping event", "event", evt.Event)
	}
}

// close drains queued events and stops the sender.
func (w *auditWebhook) close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.events)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *auditWebhook) loop() {
	defer w.wg.Done()
	for evt := range w.events {
		w.send(evt)
	}
}

// send posts evt, retrying once on a transport error or 5xx.
func (w *auditWebhook) send(evt webhookEvent) {
	body, err := json.Marshal(evt)
	if err != nil {
		w.logger.Warn("marshal failed", "error", err)
		return
	}

	for attempt := 1; attempt <= 2; attempt++ {
		if attempt > 1 {
			time.Sleep(w.retryDelay)
		}
		ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
		status, err := w.post(ctx, body)
		cancel()
		switch {
		case err != nil:
			w.logger.Warn("request failed", "error", err, "attempt", attempt)
		case status >= 200 && status < 300:
			return
		case status >= 500:
			w.logger.Warn("server error", "status", status, "attempt", attempt)
		default:
			w.logger.Warn("rejected", "status", status)
			return
		}
	}
}

func (w *auditWebhook) post(ctx context.Context, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Arbor-Audit-Webhook/1.0")
	if name, value, ok := strings.Cut(w.authHeader, ":"); ok {
		req.Header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// webhookEventFrom flattens a logged audit record into its webhook form.
func webhookEventFrom(event AuditEvent, r *http.Request, at time.Time, attrs []slog.Attr) webhookEvent {
	evt := webhookEvent{
		Event:      string(event),
		RemoteAddr: r.RemoteAddr,
		Timestamp:  at.UTC().Format(time.RFC3339),
	}
	for _, a := range attrs {
		switch a.Key {
		case "user_id":
			evt.UserID = a.Value.String()
		case "reason":
			evt.Reason = a.Value.String()
		default:
			if evt.Attrs == nil {
				evt.Attrs = make(map[string]string)
			}
			evt.Attrs[a.Key] = a.Value.String()
		}
	}
	return evt
}
