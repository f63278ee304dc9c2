package middleware

import (
	"net"
	"net/http"
	"strings"

	"signdesk/internal/models"
)

// пробы и сбор метрик ходят по IP, их Host не проверяем
var hostCheckExempt = map[string]bool{
	"/healthz": true,
	"/health":  true,
	"/metrics": true,
}

// AllowedHost отвечает 421, если Host не совпадает с domain. Пустой domain - без проверки.
func AllowedHost(domain string) func(http.Handler) http.Handler {
	domain = strings.ToLower(strings.TrimSpace(domain))
	return func(next http.Handler) http.Handler {
		if domain == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hostCheckExempt[r.URL.Path] || hostOnly(r.Host) == domain {
				next.ServeHTTP(w, r)
				return
			}
			models.WriteProblem(w, r, http.StatusMisdirectedRequest, "unexpected host", nil)
		})
	}
}

func hostOnly(hostport string) string {
	h, _, err := net.SplitHostPort(hostport)
	if err != nil {
		h = hostport
	}
	return strings.ToLower(strings.TrimSuffix(h, "."))
}
