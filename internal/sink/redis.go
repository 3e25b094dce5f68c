package sink

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nao1215/politecrawl/internal/crawler"
)

// Redis defaults.
const (
	DefaultRedisPrefix = "politecrawl:run:"
	DefaultRedisTTL    = 24 * time.Hour
)

// Status is the progress record kept in Redis.
type Status struct {
	RunID     string    `json:"run_id"`
	State     string    `json:"state"`
	Fetched   int       `json:"fetched"`
	Failed    int       `json:"failed"`
	LastURL   string    `json:"last_url,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// statusClient is the part of redis.Client the sink uses.
type statusClient interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Close() error
}

// Redis keeps a Status record per run. Progress is written at most once
// per interval; the final summary is always written.
type Redis struct {
	client   statusClient
	key      string
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time

	status    Status
	lastWrite time.Time
}

// NewRedis creates a sink writing to the Redis server at addr.
func NewRedis(addr, runID string, interval time.Duration) *Redis {
	return NewRedisWithClient(redis.NewClient(&redis.Options{Addr: addr}), runID, interval)
}

// NewRedisWithClient builds a sink on a custom client (tests).
func NewRedisWithClient(client statusClient, runID string, interval time.Duration) *Redis {
	return &Redis{
		client:   client,
		key:      DefaultRedisPrefix + runID,
		ttl:      DefaultRedisTTL,
		interval: interval,
		now:      time.Now,
		status:   Status{RunID: runID, State: "running"},
	}
}

// Consume updates the progress counters and writes them when due.
func (r *Redis) Consume(ctx context.Context, ev crawler.Event) error {
	final := false
	switch e := ev.(type) {
	case crawler.PageFetched:
		r.status.Fetched++
		r.status.LastURL = e.URL
	case crawler.FetchFailed:
		r.status.Failed++
		r.status.LastURL = e.URL
	case crawler.CrawlFinished:
		r.status.State = "finished"
		r.status.Fetched = e.TotalFetched
		r.status.Failed = e.TotalFailed
		r.status.Reason = string(e.Reason)
		final = true
	default:
		return nil
	}

	now := r.now()
	if !final && !r.lastWrite.IsZero() && now.Sub(r.lastWrite) < r.interval {
		return nil
	}
	r.lastWrite = now
	r.status.UpdatedAt = now.UTC()

	payload, err := json.Marshal(r.status)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key, payload, r.ttl).Err()
}

// Load reads the stored status of the run. The boolean is false when the
// record does not exist.
func (r *Redis) Load(ctx context.Context) (Status, bool, error) {
	val, err := r.client.Get(ctx, r.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Status{}, false, nil
		}
		return Status{}, false, err
	}
	var status Status
	if err := json.Unmarshal([]byte(val), &status); err != nil {
		return Status{}, false, err
	}
	return status, true, nil
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}
