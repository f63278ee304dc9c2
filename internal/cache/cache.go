// Package cache - кэш ответов CMS с TTL и инвалидацией по префиксу ключа.
//
// Срок жизни проверяется лениво при чтении; просроченная запись удаляется
// и считается промахом. Бэкенды: память, таблица cache_entries, Redis.
package cache

import (
	"context"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"signdesk/internal/logs"
	"signdesk/internal/metrics"
)

const DefaultTTL = 10 * time.Minute

// Entry: значение и момент истечения (unix ms).
type Entry struct {
	Value   []byte
	Expires int64
}

// Backend: хранилище записей. Проверка срока - забота Cache.
type Backend interface {
	Load(ctx context.Context, key string) (Entry, bool, error)
	Store(ctx context.Context, key string, e Entry) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
	DeleteAll(ctx context.Context) error
	DeleteExpired(ctx context.Context, nowMs int64) (int64, error)
}

type Cache struct {
	backend Backend
	ttl     time.Duration
	now     func() time.Time
}

type Option func(*Cache)

func WithTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithClock подменяет часы (тесты).
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func New(b Backend, opts ...Option) *Cache {
	c := &Cache{backend: b, ttl: DefaultTTL, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get: значение, если оно есть и не просрочено. Ошибка бэкенда считается промахом
// (возвращается вызывающему, но кэш не должен ронять запрос).
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	e, ok, err := c.backend.Load(ctx, key)
	if err != nil {
		metrics.CacheLookups.WithLabelValues("error").Inc()
		return nil, false, err
	}
	if !ok {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false, nil
	}
	if c.now().UnixMilli() >= e.Expires {
		metrics.CacheLookups.WithLabelValues("expired").Inc()
		if err := c.backend.Delete(ctx, key); err != nil {
			logs.Component("cache").WithError(err).WithField("key", key).Warn("delete expired entry")
		}
		return nil, false, nil
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return e.Value, true, nil
}

// Set сохраняет значение; ttl <= 0 - TTL по умолчанию.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	return c.backend.Store(ctx, key, Entry{Value: value, Expires: c.now().Add(ttl).UnixMilli()})
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.backend.Delete(ctx, key)
}

// InvalidatePrefix удаляет все ключи, начинающиеся с prefix (строковое сравнение).
func (c *Cache) InvalidatePrefix(ctx context.Context, prefix string) error {
	n, err := c.backend.DeletePrefix(ctx, prefix)
	if err != nil {
		return err
	}
	metrics.CacheInvalidations.Inc()
	logs.Component("cache").WithField("prefix", prefix).WithField("removed", n).Debug("invalidated")
	return nil
}

func (c *Cache) InvalidateAll(ctx context.Context) error {
	if err := c.backend.DeleteAll(ctx); err != nil {
		return err
	}
	metrics.CacheInvalidations.Inc()
	return nil
}

// PurgeExpired: фоновая уборка; для Redis всегда 0.
func (c *Cache) PurgeExpired(ctx context.Context) (int64, error) {
	return c.backend.DeleteExpired(ctx, c.now().UnixMilli())
}

// Key строит ключ: namespace + ":" + нормализованный путь [+ "?" + отсортированный query].
func Key(namespace, p string, query url.Values) string {
	k := namespace + ":" + normalizePath(p)
	if q := encodeSorted(query); q != "" {
		k += "?" + q
	}
	return k
}

// Prefix: префикс ключей ресурса по первому сегменту пути:
// Prefix("cms", "/menuboard/5/category") == "cms:/menuboard" и покрывает "cms:/menuboards".
func Prefix(namespace, p string) string {
	np := normalizePath(p)
	first := strings.SplitN(strings.TrimPrefix(np, "/"), "/", 2)[0]
	return namespace + ":/" + first
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

func encodeSorted(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	sorted := make(url.Values, len(q))
	for k, vs := range q {
		cp := append([]string(nil), vs...)
		sort.Strings(cp)
		sorted[k] = cp
	}
	// Encode сортирует по ключу
	return sorted.Encode()
}
