package utils

import (
	"context"
	"log/slog"
)

// SlogHandler adapts a StructuredLogger to the slog.Handler interface, so
// background goroutines keep using the standard *slog.Logger API while
// everything they emit is formatted and routed by StructuredLogger (its
// text/JSON switch, rotation, per-component level overrides).
type SlogHandler struct {
	logger *StructuredLogger
	group  string
	attrs  []slog.Attr
}

// NewSlogHandler wraps sl as an slog.Handler.
func NewSlogHandler(sl *StructuredLogger) *SlogHandler {
	return &SlogHandler{logger: sl}
}

func slogLevelToLogLevel(l slog.Level) LogLevel {
	switch {
	case l < slog.LevelDebug:
		return TRACE
	case l < slog.LevelInfo:
		return DEBUG
	case l < slog.LevelWarn:
		return INFO
	case l < slog.LevelError:
		return WARN
	default:
		return ERROR
	}
}

// Enabled reports whether the wrapped StructuredLogger admits records at l,
// honouring its component-level override when it carries a component field.
func (h *SlogHandler) Enabled(_ context.Context, l slog.Level) bool {
	return h.logger.isEnabled(slogLevelToLogLevel(l))
}

// Handle converts record into a StructuredLogger call, carrying every
// WithAttrs/WithGroup-accumulated field plus the record's own attrs.
func (h *SlogHandler) Handle(_ context.Context, record slog.Record) error {
	fields := make(map[string]interface{}, len(h.attrs)+record.NumAttrs())
	for _, a := range h.attrs {
		fields[h.qualify(a.Key)] = a.Value.Any()
	}
	record.Attrs(func(a slog.Attr) bool {
		fields[h.qualify(a.Key)] = a.Value.Any()
		return true
	})

	switch slogLevelToLogLevel(record.Level) {
	case TRACE:
		h.logger.Trace(record.Message, fields)
	case DEBUG:
		h.logger.Debug(record.Message, fields)
	case INFO:
		h.logger.Info(record.Message, fields)
	case WARN:
		h.logger.Warn(record.Message, fields)
	default:
		h.logger.Error(record.Message, fields)
	}
	return nil
}

func (h *SlogHandler) qualify(key string) string {
	if h.group == "" {
		return key
	}
	return h.group + "." + key
}

// WithAttrs returns a handler that prepends attrs to every future record.
func (h *SlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &SlogHandler{logger: h.logger, group: h.group, attrs: merged}
}

// WithGroup returns a handler that namespaces future attrs under name.
func (h *SlogHandler) WithGroup(name string) slog.Handler {
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &SlogHandler{logger: h.logger, group: group, attrs: h.attrs}
}
