package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditLoginSuccess        AuditEvent = "login_success"
	AuditLoginFailure        AuditEvent = "login_failure"
	AuditLoginRateLimited    AuditEvent = "login_rate_limited"
	AuditRegister            AuditEvent = "register"
	AuditRegisterRateLimited AuditEvent = "register_rate_limited"
	AuditLogout              AuditEvent = "logout"
	AuditSettingsUpdated     AuditEvent = "settings_updated"
	AuditAttachmentUploaded  AuditEvent = "attachment_uploaded"
	AuditAttachmentDenied    AuditEvent = "attachment_denied"
	AuditAdminDenied         AuditEvent = "admin_denied"
	AuditSecretDecryptFailed AuditEvent = "secret_decrypt_failed"
)

// auditLogger wraps slog.Logger for structured security audit logging.
// Events are also counted in metrics and, when configured, forwarded to a
// webhook.
type auditLogger struct {
	logger  *slog.Logger
	metrics *Collector
	webhook *auditWebhook
}

func newAuditLogger(logger *slog.Logger, metrics *Collector, webhook *auditWebhook) *auditLogger {
	return &auditLogger{
		logger:  logger.With("component", "audit"),
		metrics: metrics,
		webhook: webhook,
	}
}

func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	now := time.Now()
	base := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", now.UTC().Format(time.RFC3339)),
	}
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", append(base, attrs...)...)
	al.metrics.recordEvent(event)
	if al.webhook != nil {
		al.webhook.enqueue(webhookEventFrom(event, r, now, attrs))
	}
}

// logEvent records an event attributed to a user id. Identifiers such as
// email addresses are never logged.
func (al *auditLogger) logEvent(event AuditEvent, r *http.Request, userID string, extra ...slog.Attr) {
	al.log(event, r, append([]slog.Attr{slog.String("user_id", userID)}, extra...)...)
}

// logFailure records a rejected request with a short reason.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	al.log(event, r, append([]slog.Attr{slog.String("reason", reason)}, extra...)...)
}
