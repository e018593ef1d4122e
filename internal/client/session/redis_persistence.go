package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "quizbattle:snapshot:"

// RedisPersistence stores snapshots in Redis with an expiry, so abandoned
// rooms do not accumulate
type RedisPersistence struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisPersistence wraps an existing client. ttl <= 0 means no expiry.
func NewRedisPersistence(client redis.UniversalClient, ttl time.Duration) *RedisPersistence {
	return &RedisPersistence{client: client, ttl: ttl}
}

// DialRedis connects to addr and verifies the connection with a ping
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func (rp *RedisPersistence) Save(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	ttl := rp.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := rp.client.Set(ctx, redisKey(snap.RoomID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}

func (rp *RedisPersistence) Load(ctx context.Context, roomID int64) (Snapshot, error) {
	data, err := rp.client.Get(ctx, redisKey(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return snap, nil
}

func (rp *RedisPersistence) Delete(ctx context.Context, roomID int64) error {
	if err := rp.client.Del(ctx, redisKey(roomID)).Err(); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

func redisKey(roomID int64) string {
	return fmt.Sprintf("%s%d", redisKeyPrefix, roomID)
}
