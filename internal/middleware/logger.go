package middleware

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"signdesk/internal/logs"
)

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *statusWriter) code() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// LoggerMW: строка access-лога на запрос; 5xx на уровне error, 4xx - warn.
func LoggerMW(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(sw, r)

		entry := logs.Logger.WithFields(logrus.Fields{
			"reqid":  GetRequestID(r),
			"method": r.Method,
			"uri":    r.RequestURI,
			"status": sw.code(),
			"bytes":  sw.bytes,
			"dur":    time.Since(start).String(),
			"ip":     clientIP(r),
			"ua":     r.UserAgent(),
		})
		switch {
		case sw.code() >= 500:
			entry.Error("request")
		case sw.code() >= 400:
			entry.Warn("request")
		default:
			entry.Info("request")
		}
	})
}
