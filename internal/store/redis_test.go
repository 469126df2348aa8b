package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	config := DefaultRedisStoreConfig()
	config.Addr = mr.Addr()
	config.MinIdleConns = 0

	s, err := NewRedisStore(config)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestDefaultRedisStoreConfig(t *testing.T) {
	config := DefaultRedisStoreConfig()

	if config.Addr != "localhost:6379" {
		t.Errorf("Expected Addr to be localhost:6379, got %s", config.Addr)
	}

	if config.KeyPrefix != "rtdb:" {
		t.Errorf("Expected KeyPrefix to be rtdb:, got %s", config.KeyPrefix)
	}

	if config.OpTimeout != 3*time.Second {
		t.Errorf("Expected OpTimeout to be 3s, got %v", config.OpTimeout)
	}
}

func TestRedisStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		s, _ := setupTestRedisStore(t)
		return s
	})
}

func TestRedisStore_Layout(t *testing.T) {
	s, mr := setupTestRedisStore(t)

	key, err := s.Push(context.Background(), "tasks/u1", Record{"text": "a"})
	require.NoError(t, err)

	raw := mr.HGet("rtdb:tasks/u1", key)
	assert.JSONEq(t, `{"text":"a"}`, raw)
}

func TestRedisStore_Health(t *testing.T) {
	s, mr := setupTestRedisStore(t)

	assert.NoError(t, s.Health(context.Background()))

	mr.SetError("ERR server unavailable")
	assert.Error(t, s.Health(context.Background()))
}

func TestRedisStore_WritesOpenBreakerWhenDown(t *testing.T) {
	s, mr := setupTestRedisStore(t)
	mr.SetError("ERR server unavailable")

	for i := 0; i < 5; i++ {
		_, err := s.Push(context.Background(), "tasks/u1", Record{"text": "a"})
		assert.Error(t, err)
	}

	_, err := s.Push(context.Background(), "tasks/u1", Record{"text": "a"})
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)

	stats := s.Stats()
	assert.Equal(t, "redis", stats["driver"])
}

func TestRedisStore_SkipsUnreadableRecords(t *testing.T) {
	s, mr := setupTestRedisStore(t)

	mr.HSet("rtdb:tasks/u1", "good", `{"text":"a"}`)
	mr.HSet("rtdb:tasks/u1", "bad", `{not json`)

	snap, err := s.Get(context.Background(), "tasks/u1")
	require.NoError(t, err)
	assert.Len(t, snap, 1)
	assert.Contains(t, snap, "good")
}
