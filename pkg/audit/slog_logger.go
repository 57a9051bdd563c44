package audit

import (
	"context"
	"log/slog"
)

// SlogLogger writes audit events to a structured logger
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger creates a logger sink; a nil logger uses slog.Default()
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger.With("component", "audit")}
}

// Log writes event at INFO for successes and WARN for failures
func (l *SlogLogger) Log(ctx context.Context, event *AuditEvent) error {
	event.Sanitize()

	attrs := []slog.Attr{
		slog.String("event_id", event.ID),
		slog.String("event_type", string(event.EventType)),
		slog.String("status", string(event.Status)),
	}
	if event.Reason != "" {
		attrs = append(attrs, slog.String("reason", event.Reason))
	}
	if event.ProviderKey != "" {
		attrs = append(attrs, slog.String("provider", event.ProviderKey))
	}
	if event.TenantID != nil {
		attrs = append(attrs, slog.Int64("tenant_id", *event.TenantID))
	}
	if event.UserID != nil {
		attrs = append(attrs, slog.Int64("user_id", *event.UserID))
	}
	if event.IdentityID != nil {
		attrs = append(attrs, slog.Int64("identity_id", *event.IdentityID))
	}
	if event.Policy != "" {
		attrs = append(attrs, slog.String("policy", event.Policy))
	}
	if event.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", event.RequestID))
	}
	if len(event.Metadata) > 0 {
		attrs = append(attrs, slog.Any("metadata", event.Metadata))
	}

	level := slog.LevelInfo
	if event.Status == EventStatusFailure {
		level = slog.LevelWarn
	}

	msg := event.Message
	if msg == "" {
		msg = string(event.EventType)
	}
	l.logger.LogAttrs(ctx, level, msg, attrs...)
	return nil
}

// Close is a no-op
func (l *SlogLogger) Close() error {
	return nil
}
