package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

// Handler processes a single job payload. Returned errors are retried with
// exponential backoff unless wrapped with Permanent.
type Handler func(ctx context.Context, payload []byte) error

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error as terminal. The consumer acknowledges the job
// without retrying; the handler is expected to have recorded the failure
// state itself.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether the error was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Consumer runs a pool of goroutines per registered queue, popping jobs
// through a processing list so unacknowledged work survives a crash.
type Consumer struct {
	client      *redis.Client
	logger      *slog.Logger
	concurrency int
	maxAttempts uint64
	retryBase   time.Duration

	mu       sync.Mutex
	handlers map[string]Handler
}

// NewConsumer constructs a Consumer. concurrency is the number of parallel
// workers per queue, maxAttempts the total tries per job.
func NewConsumer(client *redis.Client, logger *slog.Logger, concurrency, maxAttempts int, retryBase time.Duration) *Consumer {
	if concurrency < 1 {
		concurrency = 1
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	initMetrics()
	return &Consumer{
		client:      client,
		logger:      logger,
		concurrency: concurrency,
		maxAttempts: uint64(maxAttempts),
		retryBase:   retryBase,
		handlers:    make(map[string]Handler),
	}
}

// Register binds a handler to a queue. Must be called before Run.
func (c *Consumer) Register(queue string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[queue] = handler
}

// Run recovers any jobs stranded in processing lists by a previous crash,
// then consumes all registered queues until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.mu.Lock()
	handlers := make(map[string]Handler, len(c.handlers))
	for q, h := range c.handlers {
		handlers[q] = h
	}
	c.mu.Unlock()

	for q := range handlers {
		if err := c.recover(ctx, q); err != nil {
			return err
		}
	}

	var wg sync.WaitGroup
	for q, h := range handlers {
		for i := 0; i < c.concurrency; i++ {
			wg.Add(1)
			go func(queue string, handler Handler) {
				defer wg.Done()
				c.consume(ctx, queue, handler)
			}(q, h)
		}
	}
	wg.Wait()
	return ctx.Err()
}

// recover moves jobs left in the processing list back onto the queue.
func (c *Consumer) recover(ctx context.Context, queue string) error {
	for {
		raw, err := c.client.RPopLPush(ctx, processingKey(queue), listKey(queue)).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		c.logger.Warn("requeued stranded job", "queue", queue, "payload", raw)
	}
}

func (c *Consumer) consume(ctx context.Context, queue string, handler Handler) {
	for {
		if ctx.Err() != nil {
			return
		}
		raw, err := c.client.BRPopLPush(ctx, listKey(queue), processingKey(queue), 5*time.Second).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("queue pop failed", "queue", queue, "error", err)
			time.Sleep(time.Second)
			continue
		}

		start := time.Now()
		err = c.runWithRetry(ctx, queue, handler, []byte(raw))
		outcome := "ok"
		if err != nil {
			outcome = "failed"
			c.logger.Error("job failed", "queue", queue, "error", err)
		}
		recordJob(queue, outcome, time.Since(start))

		// Acknowledge regardless of outcome. Retries already happened and
		// terminal failures are recorded by the handler itself.
		if err := c.client.LRem(ctx, processingKey(queue), 1, raw).Err(); err != nil && ctx.Err() == nil {
			c.logger.Error("job ack failed", "queue", queue, "error", err)
		}
	}
}

// runWithRetry invokes the handler with bounded exponential backoff. Errors
// marked Permanent short-circuit the retry loop.
func (c *Consumer) runWithRetry(ctx context.Context, queue string, handler Handler, payload []byte) error {
	backoff := retry.WithMaxRetries(c.maxAttempts-1, retry.NewExponential(c.retryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.invoke(ctx, handler, payload)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		recordRetry(queue)
		c.logger.Warn("job handler retrying", "queue", queue, "error", err)
		return retry.RetryableError(err)
	})
}

// invoke runs the handler, resurfacing a panic as an error so one bad job
// cannot take the worker process down or strand the job unacknowledged.
func (c *Consumer) invoke(ctx context.Context, handler Handler, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, payload)
}
