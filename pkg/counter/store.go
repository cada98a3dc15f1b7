package counter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrUnavailable is returned when the counter store cannot be reached after
// the bounded retry budget is spent. Callers treat this as a closed decision:
// rate limiting rejects, token verification fails.
var ErrUnavailable = errors.New("counter store unavailable")

// connectRetries bounds how many times a command is re-sent on connectivity
// errors before the store reports ErrUnavailable.
const connectRetries = 2

// ConsumeResult is the outcome of the atomic consume command.
type ConsumeResult int

const (
	ConsumeOK ConsumeResult = iota
	ConsumeMismatch
	ConsumeExpired
	ConsumeAlreadyConsumed
)

// incrWithTTLScript increments a counter, applying the TTL only when the key
// is created so a window expires exactly once per period. The counter
// saturates at ARGV[2] so a flood of rejected requests cannot grow it
// unboundedly.
var incrWithTTLScript = redis.NewScript(`
local max = tonumber(ARGV[2])
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
if cur >= max then
  return cur
end
local c = redis.call('INCR', KEYS[1])
if c == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[1])
end
return c
`)

// putRecordScript replaces any prior record under the key in one atomic
// command. Used by the token manager to enforce the single-live-token rule.
var putRecordScript = redis.NewScript(`
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'value', ARGV[1], 'issued_at', ARGV[2], 'expires_at', ARGV[3], 'consumed_at', '')
redis.call('EXPIRE', KEYS[1], ARGV[4])
return 1
`)

// consumeRecordScript is the single round-trip check-and-set for token
// consumption. Two concurrent callers cannot both observe an unconsumed
// record because the script runs atomically.
var consumeRecordScript = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], 'value')
if not v or v ~= ARGV[1] then
  return 'mismatch'
end
local exp = tonumber(redis.call('HGET', KEYS[1], 'expires_at'))
if tonumber(ARGV[2]) > exp then
  return 'expired'
end
local consumed = redis.call('HGET', KEYS[1], 'consumed_at')
if consumed and consumed ~= '' then
  return 'consumed'
end
redis.call('HSET', KEYS[1], 'consumed_at', ARGV[2])
return 'ok'
`)

// Config holds counter store connection settings.
type Config struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// Store is the shared, process-external clock and counter store. It provides
// the two atomic primitives the policy core relies on: increment-with-expiry
// and check-and-set, each a single Redis round trip.
type Store struct {
	client *redis.Client
}

// New connects to Redis and verifies connectivity.
func New(cfg Config) (*Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB >= 0 {
		opts.DB = cfg.DB
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Store{client: client}, nil
}

// NewWithClient wraps an existing Redis client. Used by tests with miniredis.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// IncrWithTTL atomically increments the counter at key, setting the TTL only
// when the key is created. The counter saturates at max; the returned value
// is the post-increment count.
func (s *Store) IncrWithTTL(ctx context.Context, key string, ttl time.Duration, max int64) (int64, error) {
	var count int64
	err := s.retry(ctx, func() error {
		res, err := incrWithTTLScript.Run(ctx, s.client, []string{key},
			int(ttl.Seconds()), max).Result()
		if err != nil {
			return err
		}
		switch v := res.(type) {
		case int64:
			count = v
		case string:
			count, err = strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("unexpected counter reply %q: %w", v, err)
			}
		default:
			return fmt.Errorf("unexpected counter reply type %T", res)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// PutRecord atomically replaces the record at key with the given value and
// timestamps, expiring after ttl.
func (s *Store) PutRecord(ctx context.Context, key, value string, issuedAt, expiresAt time.Time, ttl time.Duration) error {
	return s.retry(ctx, func() error {
		return putRecordScript.Run(ctx, s.client, []string{key},
			value, issuedAt.Unix(), expiresAt.Unix(), int(ttl.Seconds())).Err()
	})
}

// ConsumeRecord runs the atomic check-and-set against the record at key. The
// presented value must match, the record must not be past its expiry, and it
// must not have been consumed before; exactly one caller can ever observe
// ConsumeOK.
func (s *Store) ConsumeRecord(ctx context.Context, key, presented string, now time.Time) (ConsumeResult, error) {
	var outcome string
	err := s.retry(ctx, func() error {
		res, err := consumeRecordScript.Run(ctx, s.client, []string{key},
			presented, now.Unix()).Result()
		if err != nil {
			return err
		}
		str, ok := res.(string)
		if !ok {
			return fmt.Errorf("unexpected consume reply type %T", res)
		}
		outcome = str
		return nil
	})
	if err != nil {
		return ConsumeMismatch, err
	}

	switch outcome {
	case "ok":
		return ConsumeOK, nil
	case "expired":
		return ConsumeExpired, nil
	case "consumed":
		return ConsumeAlreadyConsumed, nil
	default:
		return ConsumeMismatch, nil
	}
}

// GetJSON retrieves and decodes a JSON value. Returns false when the key does
// not exist.
func (s *Store) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	var data string
	err := s.retry(ctx, func() error {
		var err error
		data, err = s.client.Get(ctx, key).Result()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		// Corrupt entries are deleted rather than served.
		s.client.Del(ctx, key)
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores a JSON-encoded value with a TTL.
func (s *Store) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return s.retry(ctx, func() error {
		return s.client.Set(ctx, key, data, ttl).Err()
	})
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.retry(ctx, func() error {
		return s.client.Del(ctx, key).Err()
	})
}

// TTL returns the remaining time to live of a key.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	var ttl time.Duration
	err := s.retry(ctx, func() error {
		var err error
		ttl, err = s.client.TTL(ctx, key).Result()
		return err
	})
	return ttl, err
}

// Ping checks store connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client returns the underlying Redis client for health checks.
func (s *Store) Client() *redis.Client {
	return s.client
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// retry re-sends a command on connectivity errors up to connectRetries times,
// then reports ErrUnavailable. Command-level errors (wrong type, bad script
// reply) are returned as-is; Nil misses are not retried.
func (s *Store) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= connectRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil || errors.Is(lastErr, redis.Nil) {
			return lastErr
		}
		if !isConnectivityError(lastErr) {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		default:
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

// isConnectivityError reports whether the error is a transport failure rather
// than a command failure.
func isConnectivityError(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var redisErr redis.Error
	// redis.Error covers replies the server produced (WRONGTYPE, script
	// errors); anything else came from the network layer.
	return !errors.As(err, &redisErr)
}
