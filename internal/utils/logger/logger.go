package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/exp/slog"
	"golang.org/x/term"

	"fieldsync/internal/config"
)

var (
	stdout     io.Writer = os.Stdout
	isTerminal           = func() bool { return term.IsTerminal(int(os.Stdout.Fd())) }
)

// New создает логгер для окружения env.
func New(env string) *slog.Logger {
	switch env {
	case config.EnvLocal, config.EnvDev:
		return newLogger(env, slog.LevelDebug)
	default:
		return newLogger(env, slog.LevelInfo)
	}
}

// WithLevel переопределяет уровень, если задан LOG_LEVEL.
func WithLevel(env, level string) *slog.Logger {
	var l slog.Level
	if level == "" || l.UnmarshalText([]byte(level)) != nil {
		return New(env)
	}
	return newLogger(env, l)
}

// newLogger выбирает обработчик по окружению: цветной для local в терминале,
// текстовый для local и dev, JSON для остальных.
func newLogger(env string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	switch env {
	case config.EnvLocal:
		if isTerminal() {
			return slog.New(newPrettyHandler(stdout, level))
		}
		return slog.New(slog.NewTextHandler(stdout, opts))
	case config.EnvDev:
		return slog.New(slog.NewTextHandler(stdout, opts))
	default:
		return slog.New(slog.NewJSONHandler(stdout, opts))
	}
}

// prettyHandler цветной вывод для разработки
type prettyHandler struct {
	slog.Handler
	l     *stdlog.Logger
	attrs []slog.Attr
}

func newPrettyHandler(out io.Writer, level slog.Level) *prettyHandler {
	return &prettyHandler{
		Handler: slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}),
		l:       stdlog.New(out, "", 0),
	}
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	level := r.Level.String() + ":"
	switch {
	case r.Level >= slog.LevelError:
		level = color.RedString(level)
	case r.Level >= slog.LevelWarn:
		level = color.YellowString(level)
	case r.Level >= slog.LevelInfo:
		level = color.BlueString(level)
	default:
		level = color.MagentaString(level)
	}

	fields := make(map[string]any, r.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		fields[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		fields[a.Key] = a.Value.Any()
		return true
	})

	var b strings.Builder
	if len(fields) > 0 {
		data, err := json.MarshalIndent(fields, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal log fields: %w", err)
		}
		b.Write(data)
	}

	h.l.Println(
		r.Time.Format("[15:04:05.000]"),
		level,
		color.CyanString(r.Message),
		color.WhiteString(b.String()),
	)
	return nil
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &prettyHandler{
		Handler: h.Handler.WithAttrs(attrs),
		l:       h.l,
		attrs:   merged,
	}
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	return &prettyHandler{
		Handler: h.Handler.WithGroup(name),
		l:       h.l,
		attrs:   h.attrs,
	}
}
