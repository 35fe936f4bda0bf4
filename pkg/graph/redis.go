package graph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// redisKeyPrefix namespaces every graph key in a shared Redis.
const redisKeyPrefix = "jarvis:graph:"

// RedisStore keeps entities as JSON strings and relations as JSON set
// members, all under the jarvis:graph: prefix.
type RedisStore struct {
	client *redis.Client
}

// NewRedis wraps an already-configured client.
func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func entityKey(name string) string    { return redisKeyPrefix + "entity:" + name }
func relationsKey(from string) string { return redisKeyPrefix + "relations:" + from }

func (s *RedisStore) UpsertEntities(ctx context.Context, entities []Entity) error {
	if len(entities) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, e := range entities {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to encode entity %s: %w", e.Name, err)
		}
		pipe.Set(ctx, entityKey(e.Name), data, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to upsert entities: %w", err)
	}
	return nil
}

func (s *RedisStore) UpsertRelations(ctx context.Context, relations []Relation) error {
	if len(relations) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, r := range relations {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode relation %s -> %s: %w", r.From, r.To, err)
		}
		pipe.SAdd(ctx, relationsKey(r.From), data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to upsert relations: %w", err)
	}
	return nil
}

func (s *RedisStore) GetEntity(ctx context.Context, name string) (Entity, error) {
	data, err := s.client.Get(ctx, entityKey(name)).Result()
	if err == redis.Nil {
		return Entity{}, ErrNotFound
	}
	if err != nil {
		return Entity{}, fmt.Errorf("failed to get entity %s: %w", name, err)
	}

	var e Entity
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return Entity{}, fmt.Errorf("failed to decode entity %s: %w", name, err)
	}
	return e, nil
}

func (s *RedisStore) RelationsFrom(ctx context.Context, from string) ([]Relation, error) {
	members, err := s.client.SMembers(ctx, relationsKey(from)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list relations from %s: %w", from, err)
	}

	relations := make([]Relation, 0, len(members))
	for _, member := range members {
		var r Relation
		if err := json.Unmarshal([]byte(member), &r); err != nil {
			continue // skip undecodable members
		}
		relations = append(relations, r)
	}
	sortRelations(relations)
	return relations, nil
}

// Close releases the underlying client connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Compile-time interface check
var _ Store = (*RedisStore)(nil)
