package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// items live under "<prefix>:<id>" with no expiry
type RedisItemStore struct {
	client *redis.Client
	prefix string
}

func NewRedisItemStore(ctx context.Context, addr, prefix string) (*RedisItemStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}

	return &RedisItemStore{client: client, prefix: prefix}, nil
}

func (r *RedisItemStore) key(id string) string {
	return r.prefix + ":" + id
}

func (r *RedisItemStore) PutItem(ctx context.Context, item Item) error {
	data, err := marshalJSON(item)
	if err != nil {
		return fmt.Errorf("encode item: %w", err)
	}
	return r.client.Set(ctx, r.key(item.ID()), data, 0).Err()
}

func (r *RedisItemStore) GetItem(ctx context.Context, id string) (Item, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	return parseItem(data)
}

func (r *RedisItemStore) Close() error {
	return r.client.Close()
}
