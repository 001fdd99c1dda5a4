package core

import (
	"context"
	"log/slog"
)

// SlogLogger adapts *slog.Logger to Logger.
type SlogLogger struct {
	l *slog.Logger
}

// NewSlogLogger wraps l; a nil logger uses slog.Default.
func NewSlogLogger(l *slog.Logger) SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return SlogLogger{l: l.With("component", "core")}
}

func (s SlogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }
func (s SlogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s SlogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s SlogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }

// SlogAuditRecorder writes one structured record per audit entry.
type SlogAuditRecorder struct {
	l *slog.Logger
}

// NewSlogAuditRecorder logs entries to l under the "audit" component.
func NewSlogAuditRecorder(l *slog.Logger) SlogAuditRecorder {
	if l == nil {
		l = slog.Default()
	}
	return SlogAuditRecorder{l: l.With("component", "audit")}
}

// Record implements AuditRecorder. Failed attempts log at warn level.
func (r SlogAuditRecorder) Record(ctx context.Context, e AuditEntry) {
	level := slog.LevelInfo
	if e.Status == AuditStatusError {
		level = slog.LevelWarn
	}
	r.l.Log(ctx, level, "operation audited",
		"operation", e.Operation,
		"entity", string(e.Entity),
		"action", string(e.Action),
		"entity_id", e.EntityID,
		"principal", string(e.Principal),
		"caller_component", string(e.Component),
		"status", string(e.Status),
		"error", e.Error,
		"error_code", e.Code,
		"height", e.Height,
		"duration_ms", e.Duration.Milliseconds(),
	)
}
