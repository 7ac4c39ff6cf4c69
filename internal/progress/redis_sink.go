package progress

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"skyforge/internal/domain"
)

const keyPrefix = "skyforge:progress:"

// RedisSink publishes every update on a per-job channel and keeps the
// latest snapshot under a key with a TTL, so other API instances can serve it.
type RedisSink struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSink parses a redis:// URL and pings the server.
func NewRedisSink(ctx context.Context, redisURL string, ttl time.Duration) (*RedisSink, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewRedisSinkWithClient(client, ttl), nil
}

func NewRedisSinkWithClient(client *redis.Client, ttl time.Duration) *RedisSink {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisSink{client: client, ttl: ttl}
}

// Channel is the pub/sub channel carrying a job's updates.
func Channel(jobID string) string { return keyPrefix + jobID }

// SnapshotKey holds a job's latest update.
func SnapshotKey(jobID string) string { return keyPrefix + jobID + ":snapshot" }

func (s *RedisSink) Publish(ctx context.Context, p domain.GenerationProgress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, SnapshotKey(p.JobID), data, s.ttl)
	pipe.Publish(ctx, Channel(p.JobID), data)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisSink) Clear(ctx context.Context, jobID string) error {
	return s.client.Del(ctx, SnapshotKey(jobID)).Err()
}

// Load reads a snapshot written by any instance.
func (s *RedisSink) Load(ctx context.Context, jobID string) (domain.GenerationProgress, bool, error) {
	data, err := s.client.Get(ctx, SnapshotKey(jobID)).Bytes()
	if err == redis.Nil {
		return domain.GenerationProgress{}, false, nil
	}
	if err != nil {
		return domain.GenerationProgress{}, false, err
	}
	var p domain.GenerationProgress
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.GenerationProgress{}, false, err
	}
	return p, true, nil
}

func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}

var _ Sink = (*RedisSink)(nil)
