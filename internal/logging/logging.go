// Package logging builds the slog loggers used by the server and the CLI.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// New constructs a logger writing to w. A nil level means slog.LevelInfo.
func New(format Format, w io.Writer, level slog.Leveler) *slog.Logger {
	if w == nil {
		panic("logging: writer must not be nil")
	}
	if level == nil {
		level = slog.LevelInfo
	}
	if format == FormatJSON {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(&lineHandler{out: &lockedWriter{w: w}, level: level})
}

// Ensure returns logger, or the process default when it is nil.
func Ensure(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

func ParseFormat(value string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown log format %q", value)
	}
}

func ParseLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", value)
	}
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) write(line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := io.WriteString(l.w, line)
	return err
}

// lineHandler renders "LEVEL time | message key=value ..." records.
type lineHandler struct {
	out    *lockedWriter
	level  slog.Leveler
	prefix string
	attrs  []slog.Attr
}

func (h *lineHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *lineHandler) Handle(_ context.Context, record slog.Record) error {
	var b strings.Builder
	at := record.Time
	if at.IsZero() {
		at = time.Now()
	}
	b.WriteString(record.Level.String())
	b.WriteByte(' ')
	b.WriteString(at.UTC().Format(time.RFC3339))
	b.WriteString(" | ")
	b.WriteString(record.Message)
	for _, attr := range h.attrs {
		writeAttr(&b, "", attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		writeAttr(&b, h.prefix, attr)
		return true
	})
	b.WriteByte('\n')
	return h.out.write(b.String())
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, attr := range attrs {
		attr.Key = h.prefix + attr.Key
		next.attrs = append(next.attrs, attr)
	}
	return &next
}

func (h *lineHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func writeAttr(b *strings.Builder, prefix string, attr slog.Attr) {
	value := attr.Value.Resolve()
	if value.Kind() == slog.KindGroup {
		for _, nested := range value.Group() {
			writeAttr(b, prefix+attr.Key+".", nested)
		}
		return
	}
	if attr.Key == "" {
		return
	}
	b.WriteByte(' ')
	b.WriteString(prefix)
	b.WriteString(attr.Key)
	b.WriteByte('=')
	switch value.Kind() {
	case slog.KindTime:
		b.WriteString(value.Time().UTC().Format(time.RFC3339))
	case slog.KindString:
		s := value.String()
		if strings.ContainsAny(s, " \t\"=") {
			s = fmt.Sprintf("%q", s)
		}
		b.WriteString(s)
	default:
		b.WriteString(value.String())
	}
}
