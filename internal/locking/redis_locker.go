package locking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/accountledger/pkg/ledger"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultKeyPrefix     = "accountledger:lock:account"
	defaultTTL           = 10 * time.Second
	defaultWaitTimeout   = 3 * time.Second
	defaultRetryInterval = 25 * time.Millisecond
	releaseTimeout       = time.Second
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Config tunes the account lock. Zero values fall back to defaults.
type Config struct {
	KeyPrefix     string
	TTL           time.Duration
	WaitTimeout   time.Duration
	RetryInterval time.Duration
}

// RedisLocker serializes account mutations across processes with SET NX and a token-checked release.
type RedisLocker struct {
	client redis.UniversalClient
	script *redis.Script
	cfg    Config
	logger *zap.Logger
}

// NewRedisLocker returns a locker over client.
func NewRedisLocker(client redis.UniversalClient, cfg Config, logger *zap.Logger) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("lock client not configured")
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = defaultWaitTimeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// LockAccount blocks until the account lock is held, WaitTimeout elapses or ctx ends.
func (locker *RedisLocker) LockAccount(ctx context.Context, accountID ledger.AccountID) (func(), error) {
	key := locker.key(accountID)
	waitCtx, cancel := context.WithTimeout(ctx, locker.cfg.WaitTimeout)
	defer cancel()
	for {
		token := uuid.NewString()
		acquired, err := locker.client.SetNX(waitCtx, key, token, locker.cfg.TTL).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: %v", ledger.ErrLockUnavailable, err)
		}
		if acquired {
			return func() { locker.release(key, token) }, nil
		}
		timer := time.NewTimer(locker.cfg.RetryInterval)
		select {
		case <-waitCtx.Done():
			timer.Stop()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: account %d busy", ledger.ErrLockUnavailable, accountID)
		case <-timer.C:
		}
	}
}

func (locker *RedisLocker) release(key string, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := locker.script.Run(ctx, locker.client, []string{key}, token).Err(); err != nil {
		locker.logger.Warn("account lock release failed", zap.String("key", key), zap.Error(err))
	}
}

func (locker *RedisLocker) key(accountID ledger.AccountID) string {
	return fmt.Sprintf("%s:%d", locker.cfg.KeyPrefix, accountID.Int64())
}
