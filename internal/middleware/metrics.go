package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"signdesk/internal/metrics"
	"signdesk/internal/router"
)

// Metrics считает запросы по шаблону маршрута, а не по сырому пути:
// иначе каждый /admin/business/N давал бы свою серию.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		r, slot := router.WithPatternSlot(r)
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		route := *slot
		if route == "" {
			if cur := mux.CurrentRoute(r); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = r.Method + " " + tpl
				}
			}
		}
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(sw.code())).Inc()
		metrics.HTTPDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
