// Package report publishes run progress to Redis so external monitors can
// watch long prediction runs. It is optional: a nil Publisher is a no-op
// and a failed connection at startup downgrades to running without one.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Publisher wraps a Redis client for progress reporting.
type Publisher struct {
	client *redis.Client
	ttl    time.Duration
}

// Progress is the payload stored under the run's progress key.
type Progress struct {
	Processed int       `json:"processed"`
	Total     int       `json:"total"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New connects to Redis at addr and verifies the connection.
// If addr is empty, defaults to localhost:6379.
func New(addr string) (*Publisher, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	return &Publisher{client: client, ttl: time.Hour}, nil
}

// Key returns the progress key for a run.
func Key(runID string) string {
	return fmt.Sprintf("segpredict:run:%s:progress", runID)
}

// Publish stores the run's current progress. Nil-safe.
func (p *Publisher) Publish(ctx context.Context, runID string, processed, total int) error {
	if p == nil || p.client == nil {
		return nil
	}

	payload, err := json.Marshal(Progress{
		Processed: processed,
		Total:     total,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}

	if err := p.client.Set(ctx, Key(runID), payload, p.ttl).Err(); err != nil {
		return fmt.Errorf("failed to publish progress for run %s: %w", runID, err)
	}
	return nil
}

// Fetch reads a run's last published progress. Returns false when the key
// does not exist.
func (p *Publisher) Fetch(ctx context.Context, runID string) (Progress, bool, error) {
	if p == nil || p.client == nil {
		return Progress{}, false, nil
	}

	data, err := p.client.Get(ctx, Key(runID)).Result()
	if err == redis.Nil {
		return Progress{}, false, nil
	}
	if err != nil {
		return Progress{}, false, fmt.Errorf("failed to fetch progress for run %s: %w", runID, err)
	}

	var out Progress
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return Progress{}, false, fmt.Errorf("decode progress for run %s: %w", runID, err)
	}
	return out, true, nil
}

// Close closes the Redis connection. Nil-safe.
func (p *Publisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
