// Package redis holds the Redis side of the ledger engine: the ledger
// snapshot cache, the per-student writer lock and the key layout shared
// with the event bus channel.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrCacheMiss          = errors.New("cache: key not found")
	ErrCacheConnection    = errors.New("cache: connection failed")
	ErrCacheSerialization = errors.New("cache: serialization failed")
	ErrCacheKeyEmpty      = errors.New("cache: key cannot be empty")
)

// ══════════════════════════════════════════════════════════════════════════════
// KEY LAYOUT
// ══════════════════════════════════════════════════════════════════════════════

const (
	PrefixLedger = "ledger:"
	PrefixFence  = "ledger:fence:"
	PrefixLock   = "lock:ledger:"
	PrefixPubSub = "pubsub:"

	TTLLedgerSnapshot  = 10 * time.Minute
	TTLDistributedLock = 5 * time.Second
)

func LedgerKey(rollNo string) string { return PrefixLedger + rollNo }

// FenceKey holds the lowest snapshot version a cache fill may still write.
func FenceKey(rollNo string) string { return PrefixFence + rollNo }

func LockKey(rollNo string) string { return PrefixLock + rollNo }

// PubSubChannel names the channel an event stream is bridged over.
func PubSubChannel(stream string) string { return PrefixPubSub + stream }

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Config mirrors the subset of redis.Options the engine exposes.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int
	MaxRetries   int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) options() *redis.Options {
	return &redis.Options{
		Addr:         c.Addr(),
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
		MaxRetries:   c.MaxRetries,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}
}

// Cache stores JSON values in Redis.
type Cache struct {
	client redis.UniversalClient
}

// NewCache dials Redis and fails unless it answers a ping within
// DialTimeout.
func NewCache(cfg Config) (*Cache, error) {
	client := redis.NewClient(cfg.options())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrCacheConnection, cfg.Addr(), err)
	}
	return &Cache{client: client}, nil
}

// NewCacheFromClient wraps a client the caller already configured.
func NewCacheFromClient(client redis.UniversalClient) *Cache {
	return &Cache{client: client}
}

// Client exposes the connection for the event bus bridge.
func (c *Cache) Client() redis.UniversalClient { return c.client }

func (c *Cache) Close() error { return c.client.Close() }

func (c *Cache) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }

// ══════════════════════════════════════════════════════════════════════════════
// VALUES
// ══════════════════════════════════════════════════════════════════════════════

// Get decodes the value at key into dest, or returns ErrCacheMiss.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	if key == "" {
		return ErrCacheKeyEmpty
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return ErrCacheMiss
	case err != nil:
		return err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return errors.Join(ErrCacheSerialization, err)
	}
	return nil
}
