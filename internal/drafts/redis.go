package drafts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/partnerhub/partnerhub/internal/db/models"
)

// RedisStore persists drafts as JSON values in Redis. All API instances share
// the same keyspace, so a draft created on one instance is visible on every
// other. Keys carry the configured prefix and expire with the draft TTL.
type RedisStore struct {
	client    goredis.UniversalClient
	keyPrefix string
}

// NewRedisStore creates a Redis-backed draft store.
func NewRedisStore(client goredis.UniversalClient, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) key(id string) string {
	return s.keyPrefix + id
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.Draft, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read draft %s: %w", id, err)
	}

	var draft models.Draft
	if err := json.Unmarshal(raw, &draft); err != nil {
		return nil, fmt.Errorf("failed to decode draft %s: %w", id, err)
	}
	return &draft, nil
}

func (s *RedisStore) Put(ctx context.Context, draft *models.Draft, ttl time.Duration) error {
	raw, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("failed to encode draft %s: %w", draft.ID, err)
	}

	if err := s.client.Set(ctx, s.key(draft.ID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store draft %s: %w", draft.ID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete draft %s: %w", id, err)
	}
	return nil
}

// List scans the draft keyspace. Intended for the draft listing endpoint
// where the population is small (drafts expire); not a general-purpose scan.
func (s *RedisStore) List(ctx context.Context) ([]*models.Draft, error) {
	var out []*models.Draft

	iter := s.client.Scan(ctx, 0, s.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err == goredis.Nil {
			// Expired between scan and read.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read draft key %s: %w", iter.Val(), err)
		}

		var draft models.Draft
		if err := json.Unmarshal(raw, &draft); err != nil {
			return nil, fmt.Errorf("failed to decode draft key %s: %w", iter.Val(), err)
		}
		out = append(out, &draft)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan drafts: %w", err)
	}

	return out, nil
}
