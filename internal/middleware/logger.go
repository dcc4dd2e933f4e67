package middleware

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"shepherd/internal/logs"
)

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) { w.status = code; w.ResponseWriter.WriteHeader(code) }
func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// LoggerMW пишет строку access-лога на каждый запрос. 5xx идут уровнем error,
// 4xx уровнем warning.
func LoggerMW(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(sw, r)
		if sw.status == 0 {
			sw.status = http.StatusOK
		}
		entry := logs.Logger.WithFields(logrus.Fields{
			"reqid":  GetRequestID(r),
			"method": r.Method,
			"uri":    r.URL.Path,
			"status": sw.status,
			"bytes":  sw.bytes,
			"dur":    time.Since(start).String(),
			"ip":     remoteHost(r),
			"ua":     r.UserAgent(),
		})
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			entry = entry.WithField("xff", xff)
		}
		switch {
		case sw.status >= http.StatusInternalServerError:
			entry.Error("request")
		case sw.status >= http.StatusBadRequest:
			entry.Warn("request")
		default:
			entry.Info("request")
		}
	})
}
