package locker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ipms-mediator/internal/app/contracts"
	"ipms-mediator/internal/pkg/exceptions"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memoryRedis struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemoryRedis() *memoryRedis {
	return &memoryRedis{values: map[string]string{}}
}

func encode(value interface{}) string {
	raw, _ := json.Marshal(value)
	return string(raw)
}

func (m *memoryRedis) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *memoryRedis) Set(ctx context.Context, key string, value interface{}, exp time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = encode(value)
	return nil
}

func (m *memoryRedis) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key], nil
}

func (m *memoryRedis) TrySetNX(ctx context.Context, key string, value interface{}, exp time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = encode(value)
	return true, nil
}

func (m *memoryRedis) CompareAndDelete(ctx context.Context, key string, value interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values[key] != encode(value) {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func (m *memoryRedis) CompareAndExpire(ctx context.Context, key string, value interface{}, exp time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key] == encode(value), nil
}

type countingLocker struct {
	contracts.LockerService
	mu        sync.Mutex
	refreshes int
}

func (c *countingLocker) Refresh(ctx context.Context, key, lockValue string, expiration time.Duration) error {
	c.mu.Lock()
	c.refreshes++
	c.mu.Unlock()
	return c.LockerService.Refresh(ctx, key, lockValue, expiration)
}

func (c *countingLocker) refreshCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshes
}

func TestLockService(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRedis()
	service := NewLockService(repo, zap.NewNop())

	acquired, owner, err := service.TryLock(ctx, "mediator:order:t1:lock", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	t.Run("Second Caller Blocked", func(t *testing.T) {
		acquired, _, err := service.TryLock(ctx, "mediator:order:t1:lock", time.Minute)
		require.NoError(t, err)
		assert.False(t, acquired)
	})

	t.Run("Refresh Requires Ownership", func(t *testing.T) {
		assert.NoError(t, service.Refresh(ctx, "mediator:order:t1:lock", owner, time.Minute))
		assert.Error(t, service.Refresh(ctx, "mediator:order:t1:lock", "someone-else", time.Minute))
	})

	t.Run("Foreign Unlock Leaves Lock", func(t *testing.T) {
		require.NoError(t, service.Unlock(ctx, "mediator:order:t1:lock", "someone-else"))
		stored, _ := repo.Get(ctx, "mediator:order:t1:lock")
		assert.NotEmpty(t, stored)
	})

	t.Run("Owner Unlock Releases", func(t *testing.T) {
		require.NoError(t, service.Unlock(ctx, "mediator:order:t1:lock", owner))
		acquired, _, err := service.TryLock(ctx, "mediator:order:t1:lock", time.Minute)
		require.NoError(t, err)
		assert.True(t, acquired)
	})
}

func TestWithLock(t *testing.T) {
	ctx := context.Background()

	t.Run("Runs And Releases", func(t *testing.T) {
		repo := newMemoryRedis()
		service := NewLockService(repo, zap.NewNop())

		ran := false
		err := WithLock(ctx, service, "k", time.Minute, 1, 0, func(ctx context.Context) error {
			ran = true
			return nil
		})
		require.NoError(t, err)
		assert.True(t, ran)
		assert.Empty(t, repo.values)
	})

	t.Run("Propagates Callback Error", func(t *testing.T) {
		service := NewLockService(newMemoryRedis(), zap.NewNop())
		boom := errors.New("boom")

		err := WithLock(ctx, service, "k", time.Minute, 1, 0, func(ctx context.Context) error { return boom })
		assert.ErrorIs(t, err, boom)
	})

	t.Run("Gives Up After Attempts", func(t *testing.T) {
		repo := newMemoryRedis()
		repo.values["k"] = encode("held")
		service := NewLockService(repo, zap.NewNop())

		err := WithLock(ctx, service, "k", time.Minute, 3, time.Millisecond, func(ctx context.Context) error {
			t.Fatal("callback must not run without the lock")
			return nil
		})
		var customErr *exceptions.CustomError
		require.True(t, errors.As(err, &customErr))
		assert.Contains(t, customErr.DevMessage, "could not acquire lock k")
	})

	t.Run("Renews The Lease While Running", func(t *testing.T) {
		repo := newMemoryRedis()
		service := &countingLocker{LockerService: NewLockService(repo, zap.NewNop())}

		err := WithLock(ctx, service, "k", 30*time.Millisecond, 1, 0, func(ctx context.Context) error {
			time.Sleep(100 * time.Millisecond)
			return ctx.Err()
		})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, service.refreshCount(), 1)
		assert.Empty(t, repo.values)
	})

	t.Run("Cancels The Callback When The Lease Is Lost", func(t *testing.T) {
		repo := newMemoryRedis()
		service := NewLockService(repo, zap.NewNop())

		cancelled := false
		err := WithLock(ctx, service, "k", 30*time.Millisecond, 1, 0, func(ctx context.Context) error {
			repo.mu.Lock()
			repo.values["k"] = encode("another-owner")
			repo.mu.Unlock()

			select {
			case <-ctx.Done():
				cancelled = true
				return ctx.Err()
			case <-time.After(time.Second):
				return nil
			}
		})
		assert.True(t, cancelled)
		assert.ErrorIs(t, err, ErrLockLost)

		stored, _ := repo.Get(ctx, "k")
		assert.Equal(t, encode("another-owner"), stored)
	})
}
