package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Job priorities. Priority only biases ordering among ready jobs; it is not a
// correctness mechanism.
const (
	PriorityNormal = 0
	PriorityHigh   = 1
)

// Config tunes one queue. Zero values fall back to the defaults below.
type Config struct {
	RateLimitMax    int           // job starts allowed per window
	RateLimitWindow time.Duration // rate limiting window
	LockDuration    time.Duration // per-job processing lock
	StallInterval   time.Duration // how often the stall sweep runs
	MaxStalls       int           // requeues before a stalled job is forced failed
	KeepFailed      int           // terminally failed jobs retained for inspection
	MaxAttempts     int           // default attempts per job
	Backoff         time.Duration // default exponential backoff base
}

func (c Config) withDefaults() Config {
	if c.RateLimitMax == 0 {
		c.RateLimitMax = 100
	}
	if c.RateLimitWindow == 0 {
		c.RateLimitWindow = time.Minute
	}
	if c.LockDuration == 0 {
		c.LockDuration = 30 * time.Second
	}
	if c.StallInterval == 0 {
		c.StallInterval = time.Minute
	}
	if c.MaxStalls == 0 {
		c.MaxStalls = 2
	}
	if c.KeepFailed == 0 {
		c.KeepFailed = 50
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff == 0 {
		c.Backoff = 5 * time.Second
	}
	return c
}

// Options overrides per-job settings at enqueue time.
type Options struct {
	Delay       time.Duration
	Priority    int
	MaxAttempts int
	Backoff     time.Duration
}

// Job is one durable unit of work. It lives as a JSON blob in redis until it
// completes (deleted immediately) or fails terminally (kept on the failed
// list, bounded).
type Job struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	BackoffMS   int64           `json:"backoff_ms"`
	Priority    int             `json:"priority"`
	Stalls      int             `json:"stalls"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
}

// FailedJob is the operator-inspection record for a terminally failed job.
type FailedJob struct {
	Job
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// BackoffDelay computes the exponential inter-attempt delay before the given
// attempt number (1-based: the delay applied after attempt n failed).
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << uint(attempt-1)
}

// Queue is a durable, delayed, retryable task queue on redis. Jobs wait on a
// per-kind list, delayed jobs sit in a sorted set scored by fire time, and
// in-flight jobs hold an expiring lock the stall sweep checks.
type Queue struct {
	name string
	rdb  *redis.Client
	cfg  Config
}

func New(name string, rdb *redis.Client, cfg Config) *Queue {
	return &Queue{name: name, rdb: rdb, cfg: cfg.withDefaults()}
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) key(parts ...string) string {
	k := "queue:" + q.name
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (q *Queue) waitKey(kind string) string   { return q.key("wait", kind) }
func (q *Queue) activeKey(kind string) string { return q.key("active", kind) }
func (q *Queue) delayedKey() string           { return q.key("delayed") }
func (q *Queue) failedKey() string            { return q.key("failed") }
func (q *Queue) rateKey() string              { return q.key("rate") }
func (q *Queue) jobKey(id string) string      { return q.key("job", id) }
func (q *Queue) lockKey(id string) string     { return q.key("lock", id) }

// Enqueue durably records a job and arms it. The call returns as soon as the
// write is acknowledged; it never waits for processing.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload interface{}, opts Options) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	job := Job{
		ID:          uuid.NewString(),
		Kind:        kind,
		Payload:     data,
		MaxAttempts: opts.MaxAttempts,
		BackoffMS:   opts.Backoff.Milliseconds(),
		Priority:    opts.Priority,
		EnqueuedAt:  time.Now(),
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = q.cfg.MaxAttempts
	}
	if job.BackoffMS == 0 {
		job.BackoffMS = q.cfg.Backoff.Milliseconds()
	}

	if err := q.saveJob(ctx, &job); err != nil {
		return "", err
	}

	if opts.Delay > 0 {
		score := float64(time.Now().Add(opts.Delay).UnixMilli())
		if err := q.rdb.ZAdd(ctx, q.delayedKey(), &redis.Z{Score: score, Member: job.ID}).Err(); err != nil {
			return "", err
		}
		return job.ID, nil
	}

	return job.ID, q.pushWaiting(ctx, &job)
}

func (q *Queue) pushWaiting(ctx context.Context, job *Job) error {
	// The consumer pops from the tail, so high-priority jobs go to the tail
	// to jump ahead of waiting normal ones.
	if job.Priority >= PriorityHigh {
		return q.rdb.RPush(ctx, q.waitKey(job.Kind), job.ID).Err()
	}
	return q.rdb.LPush(ctx, q.waitKey(job.Kind), job.ID).Err()
}

func (q *Queue) saveJob(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	// Job records are kept generously long; completion deletes them early.
	return q.rdb.Set(ctx, q.jobKey(job.ID), data, 7*24*time.Hour).Err()
}

func (q *Queue) loadJob(ctx context.Context, id string) (*Job, error) {
	data, err := q.rdb.Get(ctx, q.jobKey(id)).Bytes()
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// takeRateToken consumes one slot of the per-window start allowance. When the
// window is exhausted it reports how long to wait before trying again.
func (q *Queue) takeRateToken(ctx context.Context) (bool, time.Duration, error) {
	n, err := q.rdb.Incr(ctx, q.rateKey()).Result()
	if err != nil {
		return false, 0, err
	}
	if n == 1 {
		if err := q.rdb.PExpire(ctx, q.rateKey(), q.cfg.RateLimitWindow).Err(); err != nil {
			return false, 0, err
		}
	}
	if n > int64(q.cfg.RateLimitMax) {
		ttl, err := q.rdb.PTTL(ctx, q.rateKey()).Result()
		if err != nil || ttl < 0 {
			ttl = q.cfg.RateLimitWindow
		}
		return false, ttl, nil
	}
	return true, 0, nil
}

// promoteDue moves delayed jobs whose fire time has passed onto their kind's
// wait list. Returns how many were promoted.
func (q *Queue) promoteDue(ctx context.Context, now time.Time) (int, error) {
	ids, err := q.rdb.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.UnixMilli()),
		Count: 100,
	}).Result()
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, id := range ids {
		removed, err := q.rdb.ZRem(ctx, q.delayedKey(), id).Result()
		if err != nil || removed == 0 {
			// Somebody else promoted it
			continue
		}
		job, err := q.loadJob(ctx, id)
		if err != nil {
			continue
		}
		if err := q.pushWaiting(ctx, job); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

// moveToFailed retires a job to the bounded failed list for operator
// inspection.
func (q *Queue) moveToFailed(ctx context.Context, job *Job, kind string, jobErr error) error {
	record, err := json.Marshal(FailedJob{Job: *job, Error: jobErr.Error(), FailedAt: time.Now()})
	if err != nil {
		return err
	}

	pipe := q.rdb.TxPipeline()
	pipe.LPush(ctx, q.failedKey(), record)
	pipe.LTrim(ctx, q.failedKey(), 0, int64(q.cfg.KeepFailed-1))
	pipe.LRem(ctx, q.activeKey(kind), 1, job.ID)
	pipe.Del(ctx, q.jobKey(job.ID), q.lockKey(job.ID))
	_, err = pipe.Exec(ctx)
	return err
}

// FailedJobs returns up to n most recent terminally failed jobs.
func (q *Queue) FailedJobs(ctx context.Context, n int64) ([]FailedJob, error) {
	raw, err := q.rdb.LRange(ctx, q.failedKey(), 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	failed := make([]FailedJob, 0, len(raw))
	for _, r := range raw {
		var fj FailedJob
		if err := json.Unmarshal([]byte(r), &fj); err != nil {
			continue
		}
		failed = append(failed, fj)
	}
	return failed, nil
}
