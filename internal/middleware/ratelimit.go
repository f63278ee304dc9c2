package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"signdesk/internal/logs"
	"signdesk/internal/models"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter: ограничение частоты по IP клиента (форма входа).
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rate     rate.Limit
	burst    int
	idle     time.Duration
	trusted  []*net.IPNet // прокси, чьему X-Forwarded-For можно верить
}

// NewRateLimiter: perMinute запросов в минуту с всплеском burst.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 20
	}
	if burst <= 0 {
		burst = perMinute
	}
	return &RateLimiter{
		limiters: map[string]*limiterEntry{},
		rate:     rate.Limit(float64(perMinute) / 60),
		burst:    burst,
		idle:     10 * time.Minute,
	}
}

// TrustProxies задаёт адреса (IP или CIDR) обратных прокси. Без них
// X-Forwarded-For игнорируется и ключом служит RemoteAddr.
func (rl *RateLimiter) TrustProxies(list []string) error {
	nets := make([]*net.IPNet, 0, len(list))
	for _, item := range list {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if !strings.Contains(item, "/") {
			ip := net.ParseIP(item)
			if ip == nil {
				return fmt.Errorf("trusted proxy %q is not an IP or CIDR", item)
			}
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(item)
		if err != nil {
			return fmt.Errorf("trusted proxy %q: %w", item, err)
		}
		nets = append(nets, n)
	}
	rl.mu.Lock()
	rl.trusted = nets
	rl.mu.Unlock()
	return nil
}

func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	e, ok := rl.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = e
	}
	e.lastSeen = time.Now()
	rl.mu.Unlock()
	return e.limiter.Allow()
}

// Wrap ограничивает один обработчик; сверх лимита - 429.
func (rl *RateLimiter) Wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := rl.clientIP(r)
		if !rl.Allow(ip) {
			logs.Component("ratelimit").WithField("ip", ip).WithField("path", r.URL.Path).Warn("rate limit exceeded")
			w.Header().Set("Retry-After", "60")
			models.WriteProblem(w, r, http.StatusTooManyRequests, "too many attempts, try again later", nil)
			return
		}
		next(w, r)
	}
}

// Cleanup удаляет лимитеры, не использовавшиеся дольше idle.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := time.Now().Add(-rl.idle)
	n := 0
	for k, e := range rl.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(rl.limiters, k)
			n++
		}
	}
	return n
}

// clientIP: адрес соединения; X-Forwarded-For разбирается справа налево
// только когда соединение пришло от доверенного прокси.
func (rl *RateLimiter) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	rl.mu.Lock()
	trusted := rl.trusted
	rl.mu.Unlock()
	if len(trusted) == 0 || !isTrusted(trusted, host) {
		return host
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if net.ParseIP(hop) == nil {
			break
		}
		if !isTrusted(trusted, hop) {
			return hop
		}
	}
	return host
}

func isTrusted(nets []*net.IPNet, addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
