// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package obslog provides a task-id-aware log/slog handler that prefixes
// every log line with its task id. The task id is carried on
// context.Context and attached as a structured "task_id" attribute by the
// handler at log time, so it works correctly across concurrent goroutines
// handling different tasks. INFO and below go to stdout; WARN and above
// go to stderr.
package obslog

import (
	"context"
	"log/slog"
	"os"
)

type taskIDKey struct{}

// WithTaskID returns a context carrying taskID for any logging done
// through it.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskIDKey{}, taskID)
}

// TaskIDFromContext returns the task id carried by ctx, or "" if none.
func TaskIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(taskIDKey{}).(string)
	return v
}

// Handler wraps a slog.Handler, attaching a "task_id" attribute to every
// record when the handling context carries one.
type Handler struct {
	next slog.Handler
}

// NewHandler wraps next with task-id attribution.
func NewHandler(next slog.Handler) *Handler {
	return &Handler{next: next}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	if taskID := TaskIDFromContext(ctx); taskID != "" {
		record.AddAttrs(slog.String("task_id", taskID))
	}
	return h.next.Handle(ctx, record)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{next: h.next.WithAttrs(attrs)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{next: h.next.WithGroup(name)}
}

// splitHandler routes INFO-and-below records to stdout and WARN-and-above
// to stderr, matching the original's two-stream setup.
type splitHandler struct {
	stdout slog.Handler
	stderr slog.Handler
}

func newSplitHandler(minLevel slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: minLevel}
	return &splitHandler{
		stdout: slog.NewTextHandler(os.Stdout, opts),
		stderr: slog.NewTextHandler(os.Stderr, opts),
	}
}

func (h *splitHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.stdout.Enabled(ctx, level)
}

func (h *splitHandler) Handle(ctx context.Context, record slog.Record) error {
	if record.Level <= slog.LevelInfo {
		return h.stdout.Handle(ctx, record)
	}
	return h.stderr.Handle(ctx, record)
}

func (h *splitHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &splitHandler{stdout: h.stdout.WithAttrs(attrs), stderr: h.stderr.WithAttrs(attrs)}
}

func (h *splitHandler) WithGroup(name string) slog.Handler {
	return &splitHandler{stdout: h.stdout.WithGroup(name), stderr: h.stderr.WithGroup(name)}
}

// New builds a *slog.Logger at minLevel with task-id attribution and the
// stdout/stderr level split.
func New(minLevel slog.Level) *slog.Logger {
	return slog.New(NewHandler(newSplitHandler(minLevel)))
}
