// Package cache opens the Redis connection shared by the session actor
// cache and the audit queue.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPingTimeout = 3 * time.Second

// Options selects the Redis server.
type Options struct {
	Addr        string
	Password    string
	DB          int
	PingTimeout time.Duration
}

// RedisOptions converts the options for clients that build their own
// connection, such as the asynq queue client.
func (o Options) RedisOptions() *redis.Options {
	return &redis.Options{Addr: o.Addr, Password: o.Password, DB: o.DB}
}

// New connects to Redis and fails when the server does not answer a PING
// within the ping timeout.
func New(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(opts.RedisOptions())

	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: redis %s unreachable: %w", opts.Addr, err)
	}
	return client, nil
}
