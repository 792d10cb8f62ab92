package logger

import (
	"context"
	"log/slog"
	"time"
)

// AttemptEvent describes a guard decision worth an audit trail
type AttemptEvent struct {
	Family        string
	NetworkBucket string
	IdentityKey   string // masked before logging
	Count         int
	RetryAfter    time.Duration
	Capped        bool
	Reason        string
}

// AuditLogger provides audit logging functionality
type AuditLogger struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger: logger,
		now:    time.Now,
	}
}

// LogLockout records a rejected attempt. Lockouts are expected outcomes and
// are logged at Warn, never Error.
func (al *AuditLogger) LogLockout(ctx context.Context, event AttemptEvent) {
	attrs := al.baseAttrs("attempt_lockout", event)
	attrs = append(attrs, slog.Int("count", event.Count))
	if event.Capped {
		attrs = append(attrs, slog.Bool("capped", true))
	} else {
		attrs = append(attrs, slog.Int64("retry_after_seconds", int64(event.RetryAfter.Seconds())))
	}

	al.logger.LogAttrs(ctx, slog.LevelWarn, "audit", attrs...)
}

// LogReset records a cleared attempt history
func (al *AuditLogger) LogReset(ctx context.Context, event AttemptEvent) {
	attrs := al.baseAttrs("attempt_reset", event)
	if event.Reason != "" {
		attrs = append(attrs, slog.String("reason", event.Reason))
	}

	al.logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
}

// LogFailOpen records a request allowed because the store was unreachable
func (al *AuditLogger) LogFailOpen(ctx context.Context, event AttemptEvent) {
	attrs := al.baseAttrs("attempt_fail_open", event)
	if event.Reason != "" {
		attrs = append(attrs, slog.String("reason", event.Reason))
	}

	al.logger.LogAttrs(ctx, slog.LevelWarn, "audit", attrs...)
}

func (al *AuditLogger) baseAttrs(eventType string, event AttemptEvent) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("audit_type", "attempt_guard"),
		slog.String("event_type", eventType),
		slog.String("family", event.Family),
		slog.String("timestamp", al.now().UTC().Format(time.RFC3339)),
	}
	if event.NetworkBucket != "" {
		attrs = append(attrs, slog.String("network_bucket", event.NetworkBucket))
	}
	if event.IdentityKey != "" {
		attrs = append(attrs, slog.String("identity", SanitizedIdentity(event.IdentityKey)))
	}
	return attrs
}
