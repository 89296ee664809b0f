package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"logsentinel/internal/reader"
	"logsentinel/pkg/models"
)

// RedisConfig configures Redis access for pipeline-state persistence.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore keeps checkpoints and the open-incident arena in Redis so
// multiple hosts can share one state namespace.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore constructs a Redis-backed state store.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = "logsentinel:state"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis state store: %w", err)
	}

	return &RedisStore{client: client, prefix: strings.TrimSpace(cfg.KeyPrefix)}, nil
}

// LoadOffsets reads persisted checkpoints.
func (s *RedisStore) LoadOffsets() (map[string]reader.Checkpoint, error) {
	ctx, cancel := opCtx()
	defer cancel()

	raw, err := s.client.HGetAll(ctx, s.offsetsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("read offsets hash: %w", err)
	}

	out := make(map[string]reader.Checkpoint, len(raw))
	for source, payload := range raw {
		var cp reader.Checkpoint
		if err := json.Unmarshal([]byte(payload), &cp); err != nil {
			return nil, fmt.Errorf("parse offset for %s: %w", source, err)
		}
		out[source] = cp
	}
	return out, nil
}

// SaveOffsets persists all checkpoints in one pipelined write.
func (s *RedisStore) SaveOffsets(offsets map[string]reader.Checkpoint) error {
	ctx, cancel := opCtx()
	defer cancel()

	pipe := s.client.Pipeline()
	for source, cp := range offsets {
		payload, err := json.Marshal(cp)
		if err != nil {
			return fmt.Errorf("marshal offset for %s: %w", source, err)
		}
		pipe.HSet(ctx, s.offsetsKey(), source, payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write offsets hash: %w", err)
	}
	return nil
}

// LoadIncidents reads the persisted open-incident arena.
func (s *RedisStore) LoadIncidents() (map[string]*models.Incident, error) {
	ctx, cancel := opCtx()
	defer cancel()

	raw, err := s.client.HGetAll(ctx, s.incidentsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("read incidents hash: %w", err)
	}

	out := make(map[string]*models.Incident, len(raw))
	for fp, payload := range raw {
		var inc models.Incident
		if err := json.Unmarshal([]byte(payload), &inc); err != nil {
			return nil, fmt.Errorf("parse incident %s: %w", fp, err)
		}
		out[fp] = &inc
	}
	return out, nil
}

// SaveIncidents replaces the persisted open-incident arena.
func (s *RedisStore) SaveIncidents(incidents map[string]*models.Incident) error {
	ctx, cancel := opCtx()
	defer cancel()

	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.incidentsKey())
	for fp, inc := range incidents {
		payload, err := json.Marshal(inc)
		if err != nil {
			return fmt.Errorf("marshal incident %s: %w", fp, err)
		}
		pipe.HSet(ctx, s.incidentsKey(), fp, payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write incidents hash: %w", err)
	}
	return nil
}

// Close closes Redis resources.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) offsetsKey() string   { return s.prefix + ":offsets" }
func (s *RedisStore) incidentsKey() string { return s.prefix + ":incidents" }

func opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
