package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisKey = "entitylimit:policies"

// RedisSource reads policies from a Redis hash. Each field is an entity id and
// each value a JSON object such as {"limit":5,"window":"5s"}.
type RedisSource struct {
	client *redis.Client
	key    string
}

type redisPolicy struct {
	Limit  int    `json:"limit"`
	Window string `json:"window"`
}

func NewRedisSource(addr, key string) (*RedisSource, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	// Test connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisSourceFromClient(client, key), nil
}

func NewRedisSourceFromClient(client *redis.Client, key string) *RedisSource {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisSource{client: client, key: key}
}

func (r *RedisSource) Load(ctx context.Context) ([]Policy, error) {
	fields, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", r.key, err)
	}

	policies := make([]Policy, 0, len(fields))
	for id, raw := range fields {
		var rp redisPolicy
		if err := json.Unmarshal([]byte(raw), &rp); err != nil {
			return nil, fmt.Errorf("policy %q: %w", id, err)
		}
		window, err := time.ParseDuration(rp.Window)
		if err != nil {
			return nil, fmt.Errorf("policy %q: %w", id, err)
		}
		policies = append(policies, Policy{ID: id, Limit: rp.Limit, Window: window})
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].ID < policies[j].ID })
	return policies, nil
}

// Save writes p into the hash.
func (r *RedisSource) Save(ctx context.Context, p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(redisPolicy{Limit: p.Limit, Window: p.Window.String()})
	if err != nil {
		return err
	}
	return r.client.HSet(ctx, r.key, p.ID, string(data)).Err()
}

// Close closes the Redis connection
func (r *RedisSource) Close() error {
	return r.client.Close()
}
