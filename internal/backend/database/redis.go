package database

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisURL     = "redis://localhost:6379/0"
	redisImageKey       = "imagerelay:image"
	redisCommandTimeout = 5 * time.Second
)

// RedisDatabase keeps the slot as a single hash. Replacing runs DEL and HSET in one
// MULTI/EXEC block.
type RedisDatabase struct {
	client *redis.Client
}

func NewRedisDatabase(connectionString string) (DatabaseService, error) {
	if strings.TrimSpace(connectionString) == "" {
		connectionString = defaultRedisURL
	}
	options, err := redis.ParseURL(connectionString)
	if err != nil {
		return nil, fmt.Errorf("invalid redis connection string: %w", err)
	}
	return &RedisDatabase{client: redis.NewClient(options)}, nil
}

func (r *RedisDatabase) CreateDatabase() error {
	ctx, cancel := context.WithTimeout(context.Background(), redisCommandTimeout)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to reach redis: %w", err)
	}
	return nil
}

func (r *RedisDatabase) DoesDatabaseExist() bool {
	return r.CreateDatabase() == nil
}

func (r *RedisDatabase) Close() error {
	return r.client.Close()
}

func (r *RedisDatabase) ReplaceImage(image *Image) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisCommandTimeout)
	defer cancel()

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, redisImageKey)
		pipe.HSet(ctx, redisImageKey,
			"id", image.ID,
			"data", image.Data,
			"content_type", image.ContentType,
			"stored_at", strconv.FormatInt(image.StoredAt.UnixNano(), 10),
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store image: %w", err)
	}
	return nil
}

func (r *RedisDatabase) GetImage() (*Image, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisCommandTimeout)
	defer cancel()

	fields, err := r.client.HGetAll(ctx, redisImageKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	storedAt, err := strconv.ParseInt(fields["stored_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt stored_at %q: %w", fields["stored_at"], err)
	}
	return &Image{
		ID:          fields["id"],
		Data:        []byte(fields["data"]),
		ContentType: fields["content_type"],
		StoredAt:    time.Unix(0, storedAt),
	}, nil
}

func (r *RedisDatabase) DeleteImage() error {
	ctx, cancel := context.WithTimeout(context.Background(), redisCommandTimeout)
	defer cancel()

	if err := r.client.Del(ctx, redisImageKey).Err(); err != nil {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	return nil
}
