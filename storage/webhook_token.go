package storage

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const inspectionTokenKey = "webhook:inspection-token"

// InspectionTokenStore persists the non-production webhook inspection
// endpoint token in Redis so it survives across runs.
type InspectionTokenStore struct {
	redis *redis.Client
}

// NewInspectionTokenStore creates a token store on the given Redis client.
func NewInspectionTokenStore(client *redis.Client) *InspectionTokenStore {
	return &InspectionTokenStore{redis: client}
}

// LoadInspectionToken returns the persisted token, or "" when none is
// stored.
func (s *InspectionTokenStore) LoadInspectionToken(ctx context.Context) (string, error) {
	if s.redis == nil {
		return "", nil
	}
	token, err := s.redis.Get(ctx, inspectionTokenKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return token, nil
}

// SaveInspectionToken persists the token without expiry; validity is
// re-checked against the remote service before reuse.
func (s *InspectionTokenStore) SaveInspectionToken(ctx context.Context, token string) error {
	if s.redis == nil {
		return nil
	}
	return s.redis.Set(ctx, inspectionTokenKey, token, 0).Err()
}
