package queue

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// HandlerFunc processes one job. A nil return completes the job; an error
// sends it through the retry machinery until attempts are exhausted.
type HandlerFunc func(ctx context.Context, job *Job) error

type handlerReg struct {
	fn          HandlerFunc
	concurrency int
}

// Worker consumes a queue with a pool of goroutine slots per registered kind.
type Worker struct {
	q        *Queue
	handlers map[string]handlerReg
	logger   *log.Logger
}

func NewWorker(q *Queue, logger *log.Logger) *Worker {
	return &Worker{
		q:        q,
		handlers: make(map[string]handlerReg),
		logger:   logger,
	}
}

// Handle registers a handler for a job kind with the given number of
// concurrent slots.
func (w *Worker) Handle(kind string, concurrency int, fn HandlerFunc) {
	if concurrency < 1 {
		concurrency = 1
	}
	w.handlers[kind] = handlerReg{fn: fn, concurrency: concurrency}
}

// Start launches the promoter, the stall sweep and all worker slots, and
// blocks until the context is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Printf("queue %s: starting (%d kinds)", w.q.name, len(w.handlers))

	go w.promoteLoop(ctx)
	go w.stallLoop(ctx)

	for kind, reg := range w.handlers {
		for i := 0; i < reg.concurrency; i++ {
			go w.slotLoop(ctx, kind, reg.fn)
		}
	}

	<-ctx.Done()
	w.logger.Printf("queue %s: shutting down", w.q.name)
}

func (w *Worker) promoteLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.q.promoteDue(ctx, time.Now()); err != nil && ctx.Err() == nil {
				w.logger.Printf("queue %s: promote error: %v", w.q.name, err)
			}
		}
	}
}

func (w *Worker) slotLoop(ctx context.Context, kind string, fn HandlerFunc) {
	for {
		if ctx.Err() != nil {
			return
		}

		id, err := w.q.rdb.BRPopLPush(ctx, w.q.waitKey(kind), w.q.activeKey(kind), 5*time.Second).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Printf("queue %s: pop error: %v", w.q.name, err)
				sleepCtx(ctx, 2*time.Second)
			}
			continue
		}

		// A job is popped before a rate token is taken so empty polls never
		// spend tokens. The popped job is held under its lock while throttled
		// so the stall sweep leaves it alone.
		if !w.awaitRateToken(ctx, id) {
			return
		}

		w.process(ctx, kind, id, fn)
	}
}

// awaitRateToken blocks until the popped job may start, keeping its lock
// alive across throttle sleeps. Returns false once the context ends.
func (w *Worker) awaitRateToken(ctx context.Context, id string) bool {
	for {
		if ctx.Err() != nil {
			return false
		}

		if err := w.q.rdb.Set(ctx, w.q.lockKey(id), "throttled", w.q.cfg.LockDuration).Err(); err != nil && ctx.Err() == nil {
			w.logger.Printf("queue %s: hold lock error for job %s: %v", w.q.name, id, err)
		}

		ok, wait, err := w.q.takeRateToken(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Printf("queue %s: rate limiter error: %v", w.q.name, err)
			}
			sleepCtx(ctx, 2*time.Second)
			continue
		}
		if ok {
			return true
		}

		sleepCtx(ctx, throttleInterval(wait, w.q.cfg.LockDuration))
	}
}

// throttleInterval caps a throttle sleep below the lock horizon so the held
// lock is refreshed before it can expire.
func throttleInterval(wait, lockDuration time.Duration) time.Duration {
	ceil := lockDuration / 3
	if wait <= 0 || wait > ceil {
		return ceil
	}
	return wait
}

func (w *Worker) process(ctx context.Context, kind, id string, fn HandlerFunc) {
	job, err := w.q.loadJob(ctx, id)
	if err != nil {
		// Record is gone; nothing to run
		w.q.rdb.LRem(ctx, w.q.activeKey(kind), 1, id)
		return
	}

	token := uuid.NewString()
	if err := w.q.rdb.Set(ctx, w.q.lockKey(id), token, w.q.cfg.LockDuration).Err(); err != nil {
		w.logger.Printf("queue %s: lock error for job %s: %v", w.q.name, id, err)
	}

	renewCtx, stopRenew := context.WithCancel(ctx)
	go w.renewLock(renewCtx, id)

	jobErr := w.runHandler(ctx, fn, job)
	stopRenew()

	if jobErr == nil {
		// Completed jobs are discarded immediately to bound storage
		pipe := w.q.rdb.TxPipeline()
		pipe.LRem(ctx, w.q.activeKey(kind), 1, id)
		pipe.Del(ctx, w.q.jobKey(id), w.q.lockKey(id))
		if _, err := pipe.Exec(ctx); err != nil && ctx.Err() == nil {
			w.logger.Printf("queue %s: completion cleanup error for job %s: %v", w.q.name, id, err)
		}
		return
	}

	job.Attempts++
	if job.Attempts >= job.MaxAttempts {
		w.logger.Printf("queue %s: job %s (%s) failed terminally after %d attempts: %v",
			w.q.name, id, kind, job.Attempts, jobErr)
		if err := w.q.moveToFailed(ctx, job, kind, jobErr); err != nil && ctx.Err() == nil {
			w.logger.Printf("queue %s: failed-list error for job %s: %v", w.q.name, id, err)
		}
		return
	}

	delay := BackoffDelay(time.Duration(job.BackoffMS)*time.Millisecond, job.Attempts)
	w.logger.Printf("queue %s: job %s (%s) attempt %d/%d failed, retrying in %s: %v",
		w.q.name, id, kind, job.Attempts, job.MaxAttempts, delay, jobErr)

	if err := w.q.saveJob(ctx, job); err != nil && ctx.Err() == nil {
		w.logger.Printf("queue %s: save error for job %s: %v", w.q.name, id, err)
	}
	pipe := w.q.rdb.TxPipeline()
	pipe.ZAdd(ctx, w.q.delayedKey(), &redis.Z{
		Score:  float64(time.Now().Add(delay).UnixMilli()),
		Member: id,
	})
	pipe.LRem(ctx, w.q.activeKey(kind), 1, id)
	pipe.Del(ctx, w.q.lockKey(id))
	if _, err := pipe.Exec(ctx); err != nil && ctx.Err() == nil {
		w.logger.Printf("queue %s: retry scheduling error for job %s: %v", w.q.name, id, err)
	}
}

func (w *Worker) runHandler(ctx context.Context, fn HandlerFunc, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn(ctx, job)
}

func (w *Worker) renewLock(ctx context.Context, id string) {
	interval := w.q.cfg.LockDuration / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.q.rdb.PExpire(ctx, w.q.lockKey(id), w.q.cfg.LockDuration).Err(); err != nil && ctx.Err() == nil {
				w.logger.Printf("queue %s: lock renewal error for job %s: %v", w.q.name, id, err)
			}
		}
	}
}

// stallLoop requeues active jobs whose lock expired without a completion or
// failure signal, presuming their worker died. A job is only requeued a
// bounded number of times before it is forced failed.
func (w *Worker) stallLoop(ctx context.Context) {
	ticker := time.NewTicker(w.q.cfg.StallInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for kind := range w.handlers {
				w.sweepStalled(ctx, kind)
			}
		}
	}
}

func (w *Worker) sweepStalled(ctx context.Context, kind string) {
	ids, err := w.q.rdb.LRange(ctx, w.q.activeKey(kind), 0, -1).Result()
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Printf("queue %s: stall sweep error: %v", w.q.name, err)
		}
		return
	}

	for _, id := range ids {
		locked, err := w.q.rdb.Exists(ctx, w.q.lockKey(id)).Result()
		if err != nil || locked > 0 {
			continue
		}

		job, err := w.q.loadJob(ctx, id)
		if err != nil {
			w.q.rdb.LRem(ctx, w.q.activeKey(kind), 1, id)
			continue
		}

		job.Stalls++
		if job.Stalls > w.q.cfg.MaxStalls {
			w.logger.Printf("queue %s: job %s stalled %d times, forcing failure", w.q.name, id, job.Stalls)
			if err := w.q.moveToFailed(ctx, job, kind, fmt.Errorf("job stalled %d times", job.Stalls)); err != nil {
				w.logger.Printf("queue %s: stall failure error for job %s: %v", w.q.name, id, err)
			}
			continue
		}

		w.logger.Printf("queue %s: requeueing stalled job %s (stall %d)", w.q.name, id, job.Stalls)
		if err := w.q.saveJob(ctx, job); err != nil {
			continue
		}
		pipe := w.q.rdb.TxPipeline()
		pipe.LRem(ctx, w.q.activeKey(kind), 1, id)
		pipe.RPush(ctx, w.q.waitKey(kind), id)
		if _, err := pipe.Exec(ctx); err != nil {
			w.logger.Printf("queue %s: stall requeue error for job %s: %v", w.q.name, id, err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
