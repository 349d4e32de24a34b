package accrual

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// FIRE LOCK - One instance fires a given (setting, date)
// =============================================================================

// Lock is a held fire guard.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker hands out fire guards. ok is false when another holder owns key.
// A held lock expires after ttl so a crashed holder cannot block a fire
// forever; the idempotency keys make a second fire after expiry harmless.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (lock Lock, ok bool, err error)
}

// =============================================================================
// LOCAL
// =============================================================================

// LocalLocker guards fires within one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time), now: time.Now}
}

func (l *LocalLocker) TryLock(_ context.Context, key string, ttl time.Duration) (Lock, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return nil, false, nil
	}
	l.held[key] = now.Add(ttl)
	return localLock{l: l, key: key}, true, nil
}

type localLock struct {
	l   *LocalLocker
	key string
}

func (ll localLock) Release(context.Context) error {
	ll.l.mu.Lock()
	delete(ll.l.held, ll.key)
	ll.l.mu.Unlock()
	return nil
}

// =============================================================================
// REDIS
// =============================================================================

const lockPrefix = "leave:accrual:lock:"

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another instance is left alone.
var releaseScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker guards fires across instances sharing one Redis.
type RedisLocker struct {
	rdb    goredis.Cmdable
	logger *zap.Logger
}

// RedisOptions are the connection settings of NewRedisLocker.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisLocker connects to Redis and checks the connection with a ping.
func NewRedisLocker(opts RedisOptions, logger *zap.Logger) (*RedisLocker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connect %s: %w", opts.Addr, err)
	}
	logger.Info("redis connected", zap.String("addr", opts.Addr))

	return &RedisLocker{rdb: rdb, logger: logger}, nil
}

// NewRedisLockerFromClient wraps an existing client.
func NewRedisLockerFromClient(rdb goredis.Cmdable, logger *zap.Logger) *RedisLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{rdb: rdb, logger: logger}
}

func (r *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Lock, bool, error) {
	token := uuid.NewString()
	ok, err := r.rdb.SetNX(ctx, lockPrefix+key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLock{r: r, key: lockPrefix + key, token: token}, true, nil
}

type redisLock struct {
	r     *RedisLocker
	key   string
	token string
}

func (rl *redisLock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, rl.r.rdb, []string{rl.key}, rl.token).Int()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", rl.key, err)
	}
	if n == 0 {
		rl.r.logger.Warn("lock expired before release", zap.String("key", rl.key))
	}
	return nil
}
