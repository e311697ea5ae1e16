package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	slogmulti "github.com/samber/slog-multi"
	slogsentry "github.com/samber/slog-sentry/v2"
)

type Options struct {
	Level     string
	File      string
	SentryDSN string
	// Output defaults to os.Stderr.
	Output io.Writer
}

// New creates a *slog.Logger writing JSON to stderr and optionally to a file.
// When SentryDSN is set, error records are also sent to Sentry.
// It also sets the logger as the slog default so package-level slog calls work.
// The returned cleanup func flushes Sentry and closes the log file; callers must
// defer it.
func New(opts Options) (*slog.Logger, func(), error) {
	lvl := parseLevel(opts.Level)
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	handlers := []slog.Handler{slog.NewJSONHandler(out, &slog.HandlerOptions{Level: lvl})}
	var closers []func()

	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: lvl}))
		closers = append(closers, func() { _ = f.Close() })
	}

	if opts.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: opts.SentryDSN}); err != nil {
			for _, c := range closers {
				c()
			}
			return nil, nil, err
		}
		handlers = append(handlers, slogsentry.Option{Level: slog.LevelError}.NewSentryHandler())
		closers = append(closers, func() { sentry.Flush(2 * time.Second) })
	}

	var handler slog.Handler
	if len(handlers) > 1 {
		handler = slogmulti.Fanout(handlers...)
	} else {
		handler = handlers[0]
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}
	return logger, cleanup, nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
