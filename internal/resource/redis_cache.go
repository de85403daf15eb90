package resource

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/go-redis/redis/v8"
)

// RedisCacheConfig настройки read-through кеша ресурсов
type RedisCacheConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
	MaxBytes  int // Ресурсы крупнее не кешируются; 0 - без ограничения
}

// RedisCache кеширует байты ресурсов в Redis поверх другого резолвера.
// Ошибки Redis не фатальны: при них ресурс читается напрямую.
type RedisCache struct {
	client *redis.Client
	next   Resolver
	cfg    RedisCacheConfig
	log    logging.Interface

	hits   uint64
	misses uint64
}

// NewRedisCache создаёт кеш. Клиент можно передать готовый (для тестов) или nil.
func NewRedisCache(cfg RedisCacheConfig, client *redis.Client, next Resolver, log logging.Interface) *RedisCache {
	if client == nil {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "voxel:resource:"
	}
	return &RedisCache{client: client, next: next, cfg: cfg, log: logging.OrNop(log)}
}

// Open отдаёт ресурс из кеша или читает из следующего резолвера и кладёт в кеш
func (c *RedisCache) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	clean, err := CleanID(id)
	if err != nil {
		return nil, err
	}
	key := c.cfg.KeyPrefix + clean

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		atomic.AddUint64(&c.hits, 1)
		return io.NopCloser(bytes.NewReader(data)), nil
	case errors.Is(err, redis.Nil):
		atomic.AddUint64(&c.misses, 1)
	default:
		atomic.AddUint64(&c.misses, 1)
		c.log.Warnf("Redis недоступен для %s, читаем напрямую: %v", clean, err)
	}

	data, err = ReadAll(ctx, c.next, clean)
	if err != nil {
		return nil, err
	}

	if c.cfg.MaxBytes == 0 || len(data) <= c.cfg.MaxBytes {
		if err := c.client.Set(ctx, key, data, c.cfg.TTL).Err(); err != nil {
			c.log.Warnf("Не удалось закешировать %s: %v", clean, err)
		}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Invalidate удаляет ресурс из кеша (например, после перегенерации базы)
func (c *RedisCache) Invalidate(ctx context.Context, id string) error {
	clean, err := CleanID(id)
	if err != nil {
		return err
	}
	if err := c.client.Del(ctx, c.cfg.KeyPrefix+clean).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Stats возвращает число попаданий и промахов
func (c *RedisCache) Stats() (hits, misses uint64) {
	return atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses)
}

// Close закрывает соединение с Redis
func (c *RedisCache) Close() error {
	return c.client.Close()
}
