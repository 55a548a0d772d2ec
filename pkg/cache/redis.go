package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/analogj/lodestone-pipeline/pkg/model"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	DefaultResultTTL = 24 * time.Hour
	resultKeyPrefix  = "lodestone:ocr-result:"
)

var ErrNotCached = errors.New("no cached ocr result")

// ResultCache keeps the latest ocr.result report per document.
type ResultCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Entry
}

func NewResultCache(logger *logrus.Entry, client *redis.Client, ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	return &ResultCache{client: client, ttl: ttl, logger: logger}
}

// NewRedisClient connects and pings the server.
func NewRedisClient(ctx context.Context, addr string, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

func resultKey(id string) string {
	return resultKeyPrefix + id
}

func (c *ResultCache) Put(ctx context.Context, result model.OcrResult) error {
	if result.ID == "" {
		return fmt.Errorf("ocr result without document id")
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, resultKey(result.ID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache ocr result %s: %w", result.ID, err)
	}
	c.logger.WithField("documentId", result.ID).Debugf("Cached ocr result (%s)", result.Status)
	return nil
}

func (c *ResultCache) Get(ctx context.Context, id string) (*model.OcrResult, error) {
	payload, err := c.client.Get(ctx, resultKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotCached
	}
	if err != nil {
		return nil, fmt.Errorf("load ocr result %s: %w", id, err)
	}

	var result model.OcrResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("decode ocr result %s: %w", id, err)
	}
	return &result, nil
}

func (c *ResultCache) Close() error {
	return c.client.Close()
}
