package middleware

import (
	"net/http"
	"runtime/debug"

	"signdesk/internal/logs"
	"signdesk/internal/models"
)

// Recoverer перехватывает панику в обработчике, пишет лог со стеком
// и возвращает 500 в формате application/problem+json.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			reqid := GetRequestID(r)
			logs.Logger.WithField("reqid", reqid).
				WithField("uri", r.RequestURI).
				WithField("method", r.Method).
				Errorf("panic: %v\nstack:\n%s", rec, debug.Stack())
			models.WriteProblem(w, r, http.StatusInternalServerError,
				"unexpected server error (see logs by reqid)", map[string]any{"reqid": reqid})
		}()
		next.ServeHTTP(w, r)
	})
}
