package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kenchrcum/forensic-carver/internal/model"
	"github.com/redis/go-redis/v9"
)

// RedisStore persists checkpoints under a single key in Redis, for runs
// coordinated across multiple hosts against a shared evidence mount where
// a local file checkpoint wouldn't be visible to whichever host resumes
// the run.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client, runID string) *RedisStore {
	return &RedisStore{client: client, key: "forensic-carver:checkpoint:" + runID}
}

func (s *RedisStore) Save(state model.CheckpointState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}
	if err := s.client.Set(context.Background(), s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("checkpoint: redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Load() (*model.CheckpointState, error) {
	data, err := s.client.Get(context.Background(), s.key).Bytes()
	if err != nil {
		return nil, fmt.Errorf("checkpoint: redis get: %w", err)
	}
	var state model.CheckpointState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("checkpoint: parse: %w", err)
	}
	return &state, nil
}
