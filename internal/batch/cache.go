package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"researchengine/internal/model"
)

// RowCache resumes a batch after a restart by remembering which rows
// already completed successfully, keyed by normalized website, so the
// outcome of a successfully processed row is never recomputed.
type RowCache interface {
	Get(ctx context.Context, website string) (*model.CompanyRecord, bool, error)
	Set(ctx context.Context, website string, rec *model.CompanyRecord, ttl time.Duration) error
}

// redisRowCache implements RowCache against Redis, grounded on
// internal/http/middleware.go's rate limiter (key-prefixed get/set
// with an explicit TTL via the same go-redis client).
type redisRowCache struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisRowCache constructs a RowCache from a redis URL (e.g.
// "redis://localhost:6379/0").
func NewRedisRowCache(redisURL string) (RowCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return &redisRowCache{rdb: redis.NewClient(opts), prefix: "research-engine:batch:row:"}, nil
}

func normalizeWebsiteKey(website string) string {
	return strings.ToLower(strings.TrimSpace(website))
}

func (c *redisRowCache) key(website string) string {
	return c.prefix + normalizeWebsiteKey(website)
}

func (c *redisRowCache) Get(ctx context.Context, website string) (*model.CompanyRecord, bool, error) {
	raw, err := c.rdb.Get(ctx, c.key(website)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec model.CompanyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

func (c *redisRowCache) Set(ctx context.Context, website string, rec *model.CompanyRecord, ttl time.Duration) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key(website), raw, ttl).Err()
}

// noopRowCache disables resumability, used when no Redis URL is
// configured.
type noopRowCache struct{}

func (noopRowCache) Get(context.Context, string) (*model.CompanyRecord, bool, error) { return nil, false, nil }
func (noopRowCache) Set(context.Context, string, *model.CompanyRecord, time.Duration) error {
	return nil
}
