package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetSet(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	payload := []byte(`[{"protocol":"aave-v3"}]`)
	require.NoError(t, c.Set(ctx, "defillama", payload, time.Minute))
	payload[0] = 'x'

	got, ok, err := c.Get(ctx, "defillama")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `[{"protocol":"aave-v3"}]`, string(got), "stored value must not alias the caller's slice")
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemory()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, c.Set(ctx, "forever", []byte("v"), 0))

	now = now.Add(2 * time.Minute)
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = c.Get(ctx, "forever")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisGetHit(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.ExpectGet(keyPrefix + "defillama").SetVal(`[]`)

	got, ok, err := NewRedis(db).Get(context.Background(), "defillama")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "[]", string(got))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisGetMiss(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.ExpectGet(keyPrefix + "defillama").RedisNil()

	got, ok, err := NewRedis(db).Get(context.Background(), "defillama")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisGetError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.ExpectGet(keyPrefix + "defillama").SetErr(errors.New("connection refused"))

	_, ok, err := NewRedis(db).Get(context.Background(), "defillama")
	require.Error(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisSet(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.ExpectSet(keyPrefix+"defillama", []byte(`[]`), 5*time.Minute).SetVal("OK")

	err := NewRedis(db).Set(context.Background(), "defillama", []byte(`[]`), 5*time.Minute)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
