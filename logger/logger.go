// Package logger sets up the structured logging used by the photorama binaries.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

type contextKey string

const attrKey contextKey = "attrKey"

// ContextHandler implements [slog.Handler] interface and adds to the log
// record any attributes passed into the context with the [attrKey].
type ContextHandler struct {
	slog.Handler
}

// NewContextHandler creates a new instance of ContextHandler
// with `handler` as the base.
func NewContextHandler(handler slog.Handler) ContextHandler {
	return ContextHandler{Handler: handler}
}

// Handle implements [slog.Handler] interface.
func (h ContextHandler) Handle(ctx context.Context, record slog.Record) error {
	attrs, ok := ctx.Value(attrKey).([]slog.Attr)
	if !ok {
		return h.Handler.Handle(ctx, record)
	}

	record.AddAttrs(attrs...)

	return h.Handler.Handle(ctx, record)
}

// WithAttrs keeps the context handling when attributes are bound with [slog.Logger.With].
func (h ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

// WithGroup keeps the context handling when a group is opened with [slog.Logger.WithGroup].
func (h ContextHandler) WithGroup(name string) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithGroup(name)}
}

// Ctx creates a new context with the attached attributes.
//
// These will get logged later by the [ContextHandler] if given the resulting context.
func Ctx(ctx context.Context, toAppend ...slog.Attr) context.Context {
	existing, _ := ctx.Value(attrKey).([]slog.Attr)

	// Copy so sibling contexts never share a backing array.
	attrs := make([]slog.Attr, 0, len(existing)+len(toAppend))
	attrs = append(attrs, existing...)
	attrs = append(attrs, toAppend...)
	return context.WithValue(ctx, attrKey, attrs)
}

// Options picks the output format and destination of a logger.
type Options struct {
	// Either "text" or "json". Anything else is treated as text.
	Format string
	Level  slog.Level

	// When set, logs are written to this file and rotated.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// New builds a context-aware logger writing to w, or to a rotating file if
// opts.File is set.
func New(w io.Writer, opts Options) *slog.Logger {
	if opts.File != "" {
		w = RotatingFile(opts.File, opts.MaxSizeMB, opts.MaxBackups)
	}
	if w == nil {
		w = os.Stderr
	}

	hOpts := &slog.HandlerOptions{Level: opts.Level}
	var handler slog.Handler = slog.NewTextHandler(w, hOpts)
	if opts.Format == "json" {
		handler = slog.NewJSONHandler(w, hOpts)
	}

	return slog.New(NewContextHandler(handler))
}

// RotatingFile returns a writer that rotates the file at path once it grows past maxSizeMB.
func RotatingFile(path string, maxSizeMB, maxBackups int) io.Writer {
	if maxSizeMB <= 0 {
		maxSizeMB = 50
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   true,
	}
}
