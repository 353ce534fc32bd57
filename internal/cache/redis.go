// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultQueueName is the Redis list that finished-game records are pushed
// onto for offline consumers (leaderboard workers, analytics).
var DefaultQueueName = "quizwire_results"

// GameResult is the minimal record a consumer needs to process a finished
// game.
type GameResult struct {
	PIN           string         `json:"pin"`
	Host          string         `json:"host"`
	Players       []string       `json:"players"`
	Scores        map[string]int `json:"scores"`
	QuestionCount int            `json:"question_count"`
	EndedAt       int64          `json:"ended_at"`
}

// Publisher pushes game results onto a Redis queue. The game server runs
// fine without one; results are simply not recorded.
type Publisher struct {
	rdb   *redis.Client
	queue string
}

// Connect initializes a Publisher from environment variables:
//   - REDIS_ADDR (default "localhost:6379")
//   - REDIS_DB (optional, default 0)
//   - RESULT_QUEUE_NAME (optional, default DefaultQueueName)
func Connect() (*Publisher, error) {
	addr := getEnv("REDIS_ADDR", "localhost:6379")
	dbIdx := getEnvInt("REDIS_DB", 0)

	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   dbIdx,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	return &Publisher{
		rdb:   rdb,
		queue: getEnv("RESULT_QUEUE_NAME", DefaultQueueName),
	}, nil
}

// PublishResult serializes the record to JSON and pushes it onto the queue.
func (p *Publisher) PublishResult(ctx context.Context, rec GameResult) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal GameResult: %w", err)
	}
	if err := p.rdb.RPush(ctx, p.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", p.queue, err)
	}
	return nil
}

// Close releases the underlying client.
func (p *Publisher) Close() error {
	return p.rdb.Close()
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
