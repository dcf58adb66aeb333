package logging

import (
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// Config controls logger initialization.
type Config struct {
	Format    string // "json", "console", or "auto"
	Level     string // "debug", "info", "warn", "error"
	Component string
	Output    io.Writer
}

var isTerminal = term.IsTerminal

// Init configures the zerolog globals and returns the base logger.
func Init(cfg Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	writer := selectWriter(cfg.Format, out)

	ctx := zerolog.New(writer).With().Timestamp()
	if c := strings.TrimSpace(cfg.Component); c != "" {
		ctx = ctx.Str("component", c)
	}
	logger := ctx.Logger()
	log.Logger = logger
	return logger
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "trace":
		return zerolog.TraceLevel
	default:
		return zerolog.InfoLevel
	}
}

func selectWriter(format string, out io.Writer) io.Writer {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console":
		return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	case "json":
		return out
	default:
		if f, ok := out.(*os.File); ok && isTerminal(int(f.Fd())) {
			return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		}
		return out
	}
}

// RequestLogger attaches a request-scoped logger to each request and writes
// one access line when the handler returns.
func RequestLogger(base zerolog.Logger) func(http.Handler) http.Handler {
	access := hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		ev := hlog.FromRequest(r).Info()
		if status >= http.StatusInternalServerError {
			ev = hlog.FromRequest(r).Error()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	})
	return func(next http.Handler) http.Handler {
		withFields := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := zerolog.Ctx(r.Context())
			l.UpdateContext(func(c zerolog.Context) zerolog.Context {
				if id := middleware.GetReqID(r.Context()); id != "" {
					c = c.Str("request_id", id)
				}
				return c.Str("remote_ip", r.RemoteAddr)
			})
			next.ServeHTTP(w, r)
		})
		return hlog.NewHandler(base)(access(withFields))
	}
}
