package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// LogHandler forwards records to next and also publishes each one, JSON
// encoded, on a bus channel. Payloads longer than the bus limit are cut.
//
// Bus publishing never logs, so records cannot loop back through here.
type LogHandler struct {
	next    slog.Handler
	bus     *Bus
	channel uint16
	typ     uint32
	attrs   []slog.Attr
	group   string
}

func NewLogHandler(next slog.Handler, bus *Bus, channel uint16, typ uint32) *LogHandler {
	return &LogHandler{next: next, bus: bus, channel: channel, typ: typ}
}

func (h *LogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *LogHandler) Handle(ctx context.Context, r slog.Record) error {
	err := h.next.Handle(ctx, r)

	rec := map[string]any{
		"time":  r.Time.Format(time.RFC3339Nano),
		"level": r.Level.String(),
		"msg":   r.Message,
	}
	for _, a := range h.attrs {
		rec[a.Key] = attrValue(a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		rec[h.key(a.Key)] = attrValue(a.Value)
		return true
	})
	data, mErr := json.Marshal(rec)
	if mErr != nil {
		return err
	}
	if limit := h.bus.Config().MaxPayload; len(data) > limit {
		data = data[:limit]
	}
	h.bus.Publish(h.channel, h.typ, data)
	return err
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.next = h.next.WithAttrs(attrs)
	clone.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		clone.attrs = append(clone.attrs, slog.Attr{Key: h.key(a.Key), Value: a.Value})
	}
	return &clone
}

func (h *LogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.next = h.next.WithGroup(name)
	clone.group = h.key(name)
	return &clone
}

func (h *LogHandler) key(k string) string {
	if h.group == "" {
		return k
	}
	return h.group + "." + k
}

func attrValue(v slog.Value) any {
	v = v.Resolve()
	if err, ok := v.Any().(error); ok {
		return err.Error()
	}
	if v.Kind() == slog.KindDuration {
		return v.Duration().String()
	}
	return v.Any()
}
