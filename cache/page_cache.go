package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sosband-backend/dtos"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	keyPrefix = "sos:page:"
	genPrefix = "sos:gen:"
)

// PageCache keeps resolved public SOS pages in Redis as JSON.
//
// Each identifier has a generation counter that Invalidate bumps. A page is
// only stored when the generation read before building it is still current,
// so a reader that loaded data before a write cannot repopulate the cache
// with it after the write invalidated.
type PageCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewPageCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *PageCache {
	return &PageCache{client: client, ttl: ttl, logger: logger}
}

func Key(identifier string) string {
	return keyPrefix + identifier
}

func genKey(identifier string) string {
	return genPrefix + identifier
}

// Get returns the cached page. A miss is (nil, false, nil).
func (c *PageCache) Get(ctx context.Context, identifier string) (*dtos.SosPage, bool, error) {
	val, err := c.client.Get(ctx, Key(identifier)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get sos page: %w", err)
	}

	var page dtos.SosPage
	if err := json.Unmarshal(val, &page); err != nil {
		// A corrupt entry is dropped and treated as a miss.
		c.logger.Warn("discarding unreadable sos page",
			zap.String("identificador", identifier), zap.Error(err))
		c.client.Del(ctx, Key(identifier))
		return nil, false, nil
	}
	return &page, true, nil
}

// Generation returns the identifier's current generation. Read it before
// loading the page and pass it to Set.
func (c *PageCache) Generation(ctx context.Context, identifier string) (int64, error) {
	gen, err := c.client.Get(ctx, genKey(identifier)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get sos page generation: %w", err)
	}
	return gen, nil
}

// Set stores page if gen is still the identifier's generation. A page built
// from data older than the last Invalidate is silently dropped.
func (c *PageCache) Set(ctx context.Context, identifier string, page *dtos.SosPage, gen int64) error {
	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("failed to marshal sos page: %w", err)
	}

	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey(identifier)).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return errStalePage
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, Key(identifier), data, c.ttl)
			return nil
		})
		return err
	}, genKey(identifier))

	switch {
	case err == nil:
		return nil
	case errors.Is(err, errStalePage), errors.Is(err, redis.TxFailedErr):
		c.logger.Debug("skipping stale sos page", zap.String("identificador", identifier))
		return nil
	}
	return fmt.Errorf("failed to set sos page: %w", err)
}

var errStalePage = errors.New("sos page generation changed")

// Invalidate bumps the generation and drops the stored page atomically.
func (c *PageCache) Invalidate(ctx context.Context, identifier string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey(identifier))
		pipe.Del(ctx, Key(identifier))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate sos page: %w", err)
	}
	return nil
}
