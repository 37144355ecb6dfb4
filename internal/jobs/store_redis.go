package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	runKeyPrefix   = "fiscal:run:"
	timerKeyPrefix = "fiscal:timer:"

	// runKeyTTL keeps dedupe keys long enough to cover any realistic
	// recovery replay, then lets redis reclaim them.
	runKeyTTL = 14 * 24 * time.Hour
)

// RedisRunRecorder is the production run recorder. SETNX gives the atomic
// first-writer-wins semantics shared instances need.
type RedisRunRecorder struct {
	client *redis.Client
}

// NewRedisRunRecorder constructs a redis-backed run recorder.
func NewRedisRunRecorder(client *redis.Client) *RedisRunRecorder {
	return &RedisRunRecorder{client: client}
}

func (r *RedisRunRecorder) MarkRun(ctx context.Context, runKey string) (bool, error) {
	first, err := r.client.SetNX(ctx, runKeyPrefix+runKey, time.Now().UTC().Format(time.RFC3339), runKeyTTL).Result()
	if err != nil {
		return false, fmt.Errorf("mark run %s: %w", runKey, err)
	}
	return first, nil
}

func (r *RedisRunRecorder) HasRun(ctx context.Context, runKey string) (bool, error) {
	n, err := r.client.Exists(ctx, runKeyPrefix+runKey).Result()
	if err != nil {
		return false, fmt.Errorf("check run %s: %w", runKey, err)
	}
	return n > 0, nil
}

// RedisScheduleStore persists durable timer due times in redis.
type RedisScheduleStore struct {
	client *redis.Client
}

// NewRedisScheduleStore constructs a redis-backed schedule store.
func NewRedisScheduleStore(client *redis.Client) *RedisScheduleStore {
	return &RedisScheduleStore{client: client}
}

func (s *RedisScheduleStore) NextDue(ctx context.Context, timerID string) (time.Time, error) {
	val, err := s.client.Get(ctx, timerKeyPrefix+timerID).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("next due %s: %w", timerID, err)
	}
	due, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse due time %s: %w", timerID, err)
	}
	return due, nil
}

func (s *RedisScheduleStore) SetNextDue(ctx context.Context, timerID string, due time.Time) error {
	if err := s.client.Set(ctx, timerKeyPrefix+timerID, due.UTC().Format(time.RFC3339), 0).Err(); err != nil {
		return fmt.Errorf("set due %s: %w", timerID, err)
	}
	return nil
}

var (
	_ RunRecorder   = (*RedisRunRecorder)(nil)
	_ ScheduleStore = (*RedisScheduleStore)(nil)
)
