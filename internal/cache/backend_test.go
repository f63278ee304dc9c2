package cache

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newRedisBackend(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client), mr
}

func TestRedisBackendRoundTrip(t *testing.T) {
	b, mr := newRedisBackend(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Minute).UnixMilli()

	require.NoError(t, b.Store(ctx, "cms:/menuboards", Entry{Value: []byte(`[{"menuId":1}]`), Expires: exp}))

	e, ok, err := b.Load(ctx, "cms:/menuboards")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `[{"menuId":1}]`, string(e.Value))
	assert.Equal(t, exp, e.Expires)
	assert.True(t, mr.Exists(defaultRedisKeyPrefix+"cms:/menuboards"))

	mr.FastForward(2 * time.Minute)
	_, ok, err = b.Load(ctx, "cms:/menuboards")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisBackendDeletePrefix(t *testing.T) {
	b, _ := newRedisBackend(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Minute).UnixMilli()
	for _, k := range []string{"cms:/menuboards", "cms:/menuboard/1/categories", "cms:/library"} {
		require.NoError(t, b.Store(ctx, k, Entry{Value: []byte("{}"), Expires: exp}))
	}

	n, err := b.DeletePrefix(ctx, "cms:/menuboard")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, ok, _ := b.Load(ctx, "cms:/library")
	assert.True(t, ok)

	require.NoError(t, b.DeleteAll(ctx))
	_, ok, _ = b.Load(ctx, "cms:/library")
	assert.False(t, ok)
}

func TestRedisBackendWithCache(t *testing.T) {
	b, _ := newRedisBackend(t)
	c := New(b)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "cms:/folders", []byte(`[]`), time.Minute))
	v, ok, err := c.Get(ctx, "cms:/folders")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[]`, string(v))
}

func newGormBackend(t *testing.T) (*Gorm, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	return NewGorm(gdb), mock
}

func TestGormBackendLoad(t *testing.T) {
	g, mock := newGormBackend(t)
	mock.ExpectQuery(`SELECT \* FROM "cache_entries" WHERE cache_key = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"cache_key", "value", "expires"}).
			AddRow("cms:/library", []byte(`[{"mediaId":3}]`), int64(42)))
	mock.ExpectQuery(`SELECT \* FROM "cache_entries" WHERE cache_key = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"cache_key", "value", "expires"}))

	e, ok, err := g.Load(context.Background(), "cms:/library")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 42, e.Expires)
	assert.JSONEq(t, `[{"mediaId":3}]`, string(e.Value))

	_, ok, err = g.Load(context.Background(), "cms:/nothing")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormBackendDeletePrefixEscapesLike(t *testing.T) {
	g, mock := newGormBackend(t)
	mock.ExpectExec(`DELETE FROM "cache_entries" WHERE cache_key LIKE \$1`).
		WithArgs(`cms:/menu\_board%`).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(`DELETE FROM "cache_entries" WHERE expires <= \$1`).
		WithArgs(int64(1000)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := g.DeletePrefix(context.Background(), "cms:/menu_board")
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)

	n, err = g.DeleteExpired(context.Background(), 1000)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
