package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/segyhp/reminder-engine/internal/domain"
	customError "github.com/segyhp/reminder-engine/pkg/errors"
)

const lastRunKey = "reminder:last_run"

// StatusStore persists the most recent automatic run summary. It is
// shared between the API server and the scheduler daemon, so the
// implementation must be visible across processes.
type StatusStore interface {
	SaveLastRun(ctx context.Context, summary *domain.RunSummary) error
	LastRun(ctx context.Context) (*domain.RunSummary, error)
}

type redisStatusStore struct {
	client *redis.Client
}

func NewRedisStatusStore(client *redis.Client) StatusStore {
	return &redisStatusStore{client: client}
}

func (s *redisStatusStore) SaveLastRun(ctx context.Context, summary *domain.RunSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return customError.WrapCacheError(err)
	}

	// No expiry: the status endpoint reports the last successful run
	// however long ago it happened.
	if err := s.client.Set(ctx, lastRunKey, payload, 0).Err(); err != nil {
		return customError.WrapCacheError(err)
	}

	return nil
}

func (s *redisStatusStore) LastRun(ctx context.Context) (*domain.RunSummary, error) {
	payload, err := s.client.Get(ctx, lastRunKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, customError.WrapCacheError(err)
	}

	var summary domain.RunSummary
	if err := json.Unmarshal(payload, &summary); err != nil {
		return nil, customError.WrapCacheError(err)
	}

	return &summary, nil
}
