package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"cityflow/config"

	"github.com/redis/go-redis/v9"
)

// Pub/sub channels shared by the API, the aggregator and the collector.
const (
	ChannelCounts    = "cityflow:live"
	ChannelRisk      = "cityflow:risk"
	ChannelScenarios = "cityflow:scenarios"
)

const pingAttempts = 10

// CacheService wraps Redis for read caching and pub/sub. With a nil client
// every call is a no-op so the engine keeps serving without Redis.
type CacheService struct {
	client *redis.Client
}

func NewCacheService(cfg config.RedisConfig) (*CacheService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	var lastErr error
	for i := 0; i < pingAttempts; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		lastErr = client.Ping(ctx).Err()
		cancel()
		if lastErr == nil {
			return &CacheService{client: client}, nil
		}
		log.Printf("redis ping attempt %d/%d failed: %v", i+1, pingAttempts, lastErr)
		time.Sleep(2 * time.Second)
	}
	_ = client.Close()

	return &CacheService{}, fmt.Errorf("redis ping failed after %d attempts: %w", pingAttempts, lastErr)
}

// NewCacheServiceWithClient wraps an existing client. A nil client gives the
// degraded no-op service.
func NewCacheServiceWithClient(client *redis.Client) *CacheService {
	return &CacheService{client: client}
}

func (s *CacheService) Available() bool {
	return s != nil && s.client != nil
}

// Get decodes the cached value for key into dest and reports whether there
// was one.
func (s *CacheService) Get(ctx context.Context, key string, dest any) (bool, error) {
	if !s.Available() {
		return false, nil
	}
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (s *CacheService) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !s.Available() {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

func (s *CacheService) Delete(ctx context.Context, key string) error {
	if !s.Available() {
		return nil
	}
	return s.client.Del(ctx, key).Err()
}

func (s *CacheService) Publish(ctx context.Context, channel string, message any) error {
	if !s.Available() {
		return nil
	}
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, channel, data).Err()
}

// PublishRaw forwards an already encoded payload.
func (s *CacheService) PublishRaw(ctx context.Context, channel string, payload []byte) error {
	if !s.Available() {
		return nil
	}
	return s.client.Publish(ctx, channel, payload).Err()
}

// Subscribe returns nil when Redis is unavailable.
func (s *CacheService) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	if !s.Available() {
		return nil
	}
	return s.client.Subscribe(ctx, channel)
}

func (s *CacheService) Close() error {
	if !s.Available() {
		return nil
	}
	return s.client.Close()
}
