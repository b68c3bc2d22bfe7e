// Package store keeps the last good reading of every endpoint in Redis so
// a restarted process can serve stale data while the API is unreachable.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/nimdanitro/pulse-scraper-go/pkg/coordinator"
)

const DefaultKeyPrefix = "pulse:reading:"

type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ coordinator.Store = (*RedisStore)(nil)

// NewRedisStore wraps client. A zero ttl keeps snapshots forever.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(endpointID string) string {
	return s.prefix + endpointID
}

func (s *RedisStore) Save(ctx context.Context, r *coordinator.Reading) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal reading: %w", err)
	}
	if err := s.client.Set(ctx, s.key(r.EndpointID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save reading %s: %w", r.EndpointID, err)
	}
	return nil
}

// Load returns the stored reading, or nil when none exists.
func (s *RedisStore) Load(ctx context.Context, endpointID string) (*coordinator.Reading, error) {
	data, err := s.client.Get(ctx, s.key(endpointID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load reading %s: %w", endpointID, err)
	}

	var r coordinator.Reading
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("decode reading %s: %w", endpointID, err)
	}
	restoreTypes(&r)
	return &r, nil
}

// restoreTypes undoes the JSON round trip for coerced fields: floats come
// back as json.Number and the timestamp must be int64 again.
func restoreTypes(r *coordinator.Reading) {
	for k, v := range r.Fields {
		n, ok := v.(json.Number)
		if !ok || coordinator.NoUnitKeys[k] {
			continue
		}
		if f, err := n.Float64(); err == nil {
			r.Fields[k] = f
		}
	}
	if _, ok := r.Fields["timestamp"]; ok && r.Timestamp != 0 {
		r.Fields["timestamp"] = r.Timestamp
	}
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
