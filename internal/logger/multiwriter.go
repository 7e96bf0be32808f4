package logger

import (
	"context"
	"errors"
	"log/slog"
)

// fanoutHandler passes each record to every output whose own level admits
// it, so a debug console does not leak debug records into an info file.
type fanoutHandler struct {
	outputs []slog.Handler
}

func newFanoutHandler(outputs ...slog.Handler) slog.Handler {
	return &fanoutHandler{outputs: outputs}
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, o := range h.outputs {
		if o.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

//nolint:gocritic // slog.Handler passes the record by value
func (h *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, o := range h.outputs {
		if !o.Enabled(ctx, r.Level) {
			continue
		}
		// Handlers may retain attrs; each gets its own copy.
		if err := o.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.derive(func(o slog.Handler) slog.Handler { return o.WithAttrs(attrs) })
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	return h.derive(func(o slog.Handler) slog.Handler { return o.WithGroup(name) })
}

func (h *fanoutHandler) derive(fn func(slog.Handler) slog.Handler) slog.Handler {
	outputs := make([]slog.Handler, len(h.outputs))
	for i, o := range h.outputs {
		outputs[i] = fn(o)
	}
	return &fanoutHandler{outputs: outputs}
}
