package cache

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKeyPrefix = "signdesk:cache:"

// Redis: бэкенд на хэшах {v, e} с PEXPIREAT; срок истечения Redis снимает сам.
type Redis struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, keyPrefix: defaultRedisKeyPrefix}
}

func (r *Redis) Load(ctx context.Context, key string) (Entry, bool, error) {
	m, err := r.client.HGetAll(ctx, r.keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) || (err == nil && len(m) == 0) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	exp, err := strconv.ParseInt(m["e"], 10, 64)
	if err != nil {
		// битая запись - считаем промахом
		return Entry{}, false, nil
	}
	return Entry{Value: []byte(m["v"]), Expires: exp}, true, nil
}

func (r *Redis) Store(ctx context.Context, key string, e Entry) error {
	k := r.keyPrefix + key
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, k)
		p.HSet(ctx, k, "v", e.Value, "e", strconv.FormatInt(e.Expires, 10))
		p.PExpireAt(ctx, k, time.UnixMilli(e.Expires))
		return nil
	})
	return err
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.keyPrefix+key).Err()
}

func (r *Redis) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	return r.deleteMatching(ctx, r.keyPrefix+escapeGlob(prefix)+"*")
}

func (r *Redis) DeleteAll(ctx context.Context) error {
	_, err := r.deleteMatching(ctx, r.keyPrefix+"*")
	return err
}

// DeleteExpired: Redis удаляет просроченные ключи сам.
func (r *Redis) DeleteExpired(context.Context, int64) (int64, error) {
	return 0, nil
}

func (r *Redis) deleteMatching(ctx context.Context, pattern string) (int64, error) {
	var (
		cursor uint64
		total  int64
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return total, err
		}
		if len(keys) > 0 {
			n, err := r.client.Del(ctx, keys...).Result()
			if err != nil {
				return total, err
			}
			total += n
		}
		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}

func escapeGlob(s string) string {
	return strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`).Replace(s)
}
