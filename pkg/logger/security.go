package logger

import (
	"context"
	"log/slog"
	"time"
)

// SecurityEvent represents a security-relevant occurrence worth auditing
type SecurityEvent struct {
	EventType string
	Name      string
	IPAddress string
	Reason    string
	Metadata  map[string]string
}

// SecurityLogger provides structured audit logging for security events
type SecurityLogger struct {
	logger *slog.Logger
}

// NewSecurityLogger creates a new security logger
func NewSecurityLogger(logger *slog.Logger) *SecurityLogger {
	return &SecurityLogger{
		logger: logger,
	}
}

// LogRejection logs a rejected admission attempt
func (sl *SecurityLogger) LogRejection(event SecurityEvent) {
	sl.log(slog.LevelWarn, event)
}

// LogBlacklisted logs the promotion of an address into the durable blacklist
func (sl *SecurityLogger) LogBlacklisted(ipAddress string, attempts int, window time.Duration) {
	attrs := []slog.Attr{
		slog.String("audit_type", "admission"),
		slog.String("event_type", "ip_blacklisted"),
		slog.String("ip_address", ipAddress),
		slog.Int("attempts", attempts),
		slog.String("window", window.String()),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	sl.logger.LogAttrs(context.Background(), slog.LevelWarn, "audit", attrs...)
}

// LogAttackMitigated emits the one-time signal that a wave of invalidated
// identities was absorbed. This is observability only, not a control input.
func (sl *SecurityLogger) LogAttackMitigated(invalidations int) {
	attrs := []slog.Attr{
		slog.String("audit_type", "admission"),
		slog.String("event_type", "attack_mitigated"),
		slog.Int("invalidations", invalidations),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	sl.logger.LogAttrs(context.Background(), slog.LevelWarn, "audit", attrs...)
}

// LogDegradedDurability warns that an append to a durable store failed; the
// in-memory state is still correct but will not survive a restart.
func (sl *SecurityLogger) LogDegradedDurability(store, entry string, err error) {
	attrs := []slog.Attr{
		slog.String("audit_type", "durability"),
		slog.String("event_type", "append_failed"),
		slog.String("store", store),
		slog.String("entry", entry),
		slog.Any("error", err),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	sl.logger.LogAttrs(context.Background(), slog.LevelError, "audit", attrs...)
}

func (sl *SecurityLogger) log(level slog.Level, event SecurityEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "admission"),
		slog.String("event_type", event.EventType),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.Name != "" {
		attrs = append(attrs, slog.String("name", event.Name))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.Reason != "" {
		attrs = append(attrs, slog.String("reason", event.Reason))
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.String(k, v))
	}

	sl.logger.LogAttrs(context.Background(), level, "audit", attrs...)
}
