package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrMutexNotAcquired = errors.New("slot mutex not acquired")
)

// SlotMutex serializes the reservation critical section for one slot across
// instances. It is a short-lived process mutex, not the 5-minute business
// hold itself; that lives in the slot row's lock fields.
type SlotMutex interface {
	WithSlot(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error
}

type redisSlotMutex struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSlotMutex creates a mutex backed by a per-slot Redis key (SetNX with a
// holder token, token-checked Lua delete on release).
func NewSlotMutex(client *redis.Client, ttl time.Duration) SlotMutex {
	return &redisSlotMutex{
		client: client,
		ttl:    ttl,
	}
}

func (m *redisSlotMutex) WithSlot(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("mutex:slot:%s", slotID.String())
	token := uuid.NewString()

	ok, err := m.client.SetNX(ctx, key, token, m.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire slot mutex: %w", err)
	}
	if !ok {
		return ErrMutexNotAcquired
	}

	defer func() {
		_ = m.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, m.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (m *redisSlotMutex) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, m.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release slot mutex: %w", err)
	}
	return nil
}
