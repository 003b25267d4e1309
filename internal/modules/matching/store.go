// README: Rejection sets backed by Redis; every write refreshes the key's TTL.
package matching

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"platter/internal/types"
)

type Store struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{redis: rdb, ttl: RejectionTTL}
}

func (s *Store) Add(ctx context.Context, orderID, driverID types.ID) error {
	key := rejectionKey(orderID)
	pipe := s.redis.TxPipeline()
	pipe.SAdd(ctx, key, string(driverID))
	pipe.Expire(ctx, key, s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) Members(ctx context.Context, orderID types.ID) ([]types.ID, error) {
	vals, err := s.redis.SMembers(ctx, rejectionKey(orderID)).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(vals))
	for i, v := range vals {
		ids[i] = types.ID(v)
	}
	return ids, nil
}

func (s *Store) IsMember(ctx context.Context, orderID, driverID types.ID) (bool, error) {
	return s.redis.SIsMember(ctx, rejectionKey(orderID), string(driverID)).Result()
}

func (s *Store) Count(ctx context.Context, orderID types.ID) (int64, error) {
	return s.redis.SCard(ctx, rejectionKey(orderID)).Result()
}

func (s *Store) Clear(ctx context.Context, orderID types.ID) error {
	return s.redis.Del(ctx, rejectionKey(orderID)).Err()
}
