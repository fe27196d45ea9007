package zhttp

import (
	"net"
	"net/http"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogging initializes zerolog. With pretty set, output is a console
// writer for interactive use; otherwise JSON goes to stderr.
func SetupLogging(levelName string, pretty bool) error {
	if pretty {
		log.Logger = log.Logger.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
		})
	}
	if levelName == "" {
		levelName = zerolog.InfoLevel.String()
	}
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		return err
	}
	log.Logger = log.Logger.Level(level)
	return nil
}

type statusWriter struct {
	http.ResponseWriter
	status int
	length int64
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.length += int64(n)
	return n, err
}

// LoggingMiddleware attaches a request-scoped logger to the context and
// emits an access log entry when the request completes.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		lc := log.Logger.With().Str("ip", stripPort(req.RemoteAddr))
		logger := lc.Logger()
		req = req.WithContext(logger.WithContext(req.Context()))
		start := time.Now()
		sw := &statusWriter{ResponseWriter: rw}
		next.ServeHTTP(sw, req)
		logger.Info().
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("status", sw.status).
			Int64("bytes", sw.length).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// RecoveryMiddleware turns handler panics into 500 responses.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		defer func() {
			if caught := recover(); caught != nil {
				if caught == http.ErrAbortHandler {
					panic(caught)
				}
				zerolog.Ctx(req.Context()).Error().
					Interface("panic", caught).
					Str("stack", string(debug.Stack())).
					Msg("handler panicked")
				http.Error(rw, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(rw, req)
	})
}

func stripPort(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
