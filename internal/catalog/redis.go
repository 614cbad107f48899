package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"pdf-rag/internal/models"
)

// RedisCatalog keeps the log in a Redis list, oldest entry at the head.
type RedisCatalog struct {
	rdb        *redis.Client
	key        string
	maxEntries int
}

var _ Catalog = (*RedisCatalog)(nil)

func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisCatalog(rdb *redis.Client, key string, maxEntries int) *RedisCatalog {
	return &RedisCatalog{rdb: rdb, key: key, maxEntries: maxEntries}
}

func (c *RedisCatalog) Append(ctx context.Context, entry models.CatalogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, c.key, data)
		if c.maxEntries > 0 {
			pipe.LTrim(ctx, c.key, int64(-c.maxEntries), -1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append catalog entry: %w", err)
	}
	return nil
}

func (c *RedisCatalog) Latest(ctx context.Context) (*models.CatalogEntry, error) {
	raw, err := c.rdb.LIndex(ctx, c.key, -1).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	var entry models.CatalogEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("corrupt catalog entry: %w", err)
	}
	return &entry, nil
}

func (c *RedisCatalog) FindByExactName(ctx context.Context, name string) (*models.CatalogEntry, error) {
	raws, err := c.rdb.LRange(ctx, c.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	docs := make([]models.CatalogEntry, 0, len(raws))
	for _, raw := range raws {
		var entry models.CatalogEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		docs = append(docs, entry)
	}
	return findByName(docs, name), nil
}
