// Package redis stores the lead board as a single JSON document in Redis.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Config is the required properties to use redis.
type Config struct {
	Addr       string
	Password   string
	DB         int
	Key        string
	MaxRetries int
}

// Open connects to redis and checks the connection.
func Open(ctx context.Context, cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := StatusCheck(ctx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

// StatusCheck returns nil if it can successfully talk to redis.
func StatusCheck(ctx context.Context, client *goredis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return client.Ping(ctx).Err()
}
