package docstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/example/ride-session/internal/models"
)

// RedisStore keeps each session in a hash holding the encoded body and a
// revision counter. Conditional replaces use WATCH/MULTI on that hash.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(addr, password, prefix string) *RedisStore {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return NewRedisStoreFromClient(c, prefix)
}

func NewRedisStoreFromClient(c *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ridesession:doc:"
	}
	return &RedisStore{client: c, prefix: prefix}
}

func (r *RedisStore) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisStore) Close() error { return r.client.Close() }

func (r *RedisStore) key(id string) string { return r.prefix + id }

func (r *RedisStore) Create(ctx context.Context, doc models.Document) (string, error) {
	b, err := Encode(doc)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := r.client.HSet(ctx, r.key(id), map[string]interface{}{"body": string(b), "version": 1}).Err(); err != nil {
		return "", fmt.Errorf("redis create: %w", err)
	}
	return id, nil
}

func (r *RedisStore) Read(ctx context.Context, sessionID string) (models.Document, error) {
	doc, _, err := r.ReadVersion(ctx, sessionID)
	return doc, err
}

func (r *RedisStore) ReadVersion(ctx context.Context, sessionID string) (models.Document, Version, error) {
	return readHash(ctx, r.client, r.key(sessionID))
}

func (r *RedisStore) Replace(ctx context.Context, sessionID string, doc models.Document) error {
	b, err := Encode(doc)
	if err != nil {
		return err
	}
	key := r.key(sessionID)
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis exists: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "body", string(b))
		pipe.HIncrBy(ctx, key, "version", 1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis replace: %w", err)
	}
	return nil
}

func (r *RedisStore) ReplaceIf(ctx context.Context, sessionID string, doc models.Document, expected Version) error {
	b, err := Encode(doc)
	if err != nil {
		return err
	}
	key := r.key(sessionID)
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.HGet(ctx, key, "version").Result()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if Version(cur) != expected {
			return ErrVersionMismatch
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "body", string(b))
			pipe.HIncrBy(ctx, key, "version", 1)
			return nil
		})
		return err
	}, key)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return ErrVersionMismatch
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrVersionMismatch):
		return err
	default:
		return fmt.Errorf("redis replace-if: %w", err)
	}
}

func readHash(ctx context.Context, c redis.Cmdable, key string) (models.Document, Version, error) {
	vals, err := c.HMGet(ctx, key, "body", "version").Result()
	if err != nil {
		return models.Document{}, "", fmt.Errorf("redis read: %w", err)
	}
	body, ok := vals[0].(string)
	if !ok {
		return models.Document{}, "", ErrNotFound
	}
	doc, err := Decode([]byte(body))
	if err != nil {
		return models.Document{}, "", err
	}
	var ver Version
	switch v := vals[1].(type) {
	case string:
		ver = Version(v)
	case int64:
		ver = Version(strconv.FormatInt(v, 10))
	}
	return doc, ver, nil
}
