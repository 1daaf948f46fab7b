package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"TradeScout/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue keeps pending jobs in a list, delayed retries in a sorted set
// scored by due time, and exhausted jobs in a dead letter list.
type RedisQueue struct {
	client   *redis.Client
	cfg      Config
	logger   *logger.Logger
	now      func() time.Time
	mu       sync.RWMutex
	handlers map[string]Handler
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewRedisQueue creates a stopped queue on client.
func NewRedisQueue(client *redis.Client, cfg Config, lgr *logger.Logger) *RedisQueue {
	cfg = cfg.withDefaults()
	return &RedisQueue{
		client:   client,
		cfg:      cfg,
		logger:   lgr.With(logger.String("queue", cfg.Prefix)),
		now:      time.Now,
		handlers: make(map[string]Handler),
	}
}

// Register adds h. Each kind has exactly one handler.
func (q *RedisQueue) Register(h Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, dup := q.handlers[h.Kind()]; dup {
		return fmt.Errorf("queue: handler for %q already registered", h.Kind())
	}
	q.handlers[h.Kind()] = h
	return nil
}

func (q *RedisQueue) handler(kind string) (Handler, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	h, ok := q.handlers[kind]
	return h, ok
}

// Publish enqueues payload. Jobs published while the queue is stopped wait
// in Redis until a worker starts.
func (q *RedisQueue) Publish(ctx context.Context, kind string, payload interface{}) error {
	if _, ok := q.handler(kind); !ok {
		return fmt.Errorf("queue: no handler for %q", kind)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("queue: encode %s: %w", kind, err)
	}
	data, err := json.Marshal(envelope{ID: uuid.NewString(), Kind: kind, Payload: raw, EnqueuedAt: q.now()})
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key("pending"), data).Err()
}

// Start pings Redis and launches the workers and the retry promoter. They
// run until Stop, independent of ctx.
func (q *RedisQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancel != nil {
		return errors.New("queue: already running")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := q.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("queue: redis ping: %w", err)
	}

	runCtx, stop := context.WithCancel(context.Background())
	q.cancel = stop
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.work(runCtx)
	}
	q.wg.Add(1)
	go q.promote(runCtx)
	return nil
}

// Stop cancels the workers and waits for in-flight jobs or ctx.
func (q *RedisQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	cancel := q.cancel
	q.cancel = nil
	q.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue: stop: %w", ctx.Err())
	}
}

// Depth reads the three list sizes in one round trip.
func (q *RedisQueue) Depth(ctx context.Context) (Depth, error) {
	pipe := q.client.Pipeline()
	pending := pipe.LLen(ctx, q.key("pending"))
	retrying := pipe.ZCard(ctx, q.key("retry"))
	dead := pipe.LLen(ctx, q.key("dead"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Depth{}, err
	}
	return Depth{Pending: pending.Val(), Retrying: retrying.Val(), DeadLetter: dead.Val()}, nil
}

func (q *RedisQueue) work(ctx context.Context) {
	defer q.wg.Done()
	for ctx.Err() == nil {
		res, err := q.client.BRPop(ctx, time.Second, q.key("pending")).Result()
		switch {
		case errors.Is(err, redis.Nil), ctx.Err() != nil:
			continue
		case err != nil:
			q.logger.Error("queue pop failed", logger.Error(err))
			sleep(ctx, time.Second)
			continue
		}

		var env envelope
		if err := json.Unmarshal([]byte(res[1]), &env); err != nil {
			q.logger.Error("dropping undecodable job", logger.Error(err))
			continue
		}
		q.run(ctx, env)
	}
}

func (q *RedisQueue) run(ctx context.Context, env envelope) {
	h, ok := q.handler(env.Kind)
	if !ok {
		q.logger.Error("no handler for job", logger.String("kind", env.Kind), logger.String("id", env.ID))
		q.push(q.key("dead"), env)
		return
	}

	err := h.Handle(ctx, env.Payload)
	switch {
	case err == nil:
		return
	case errors.Is(err, context.Canceled):
		// Shutting down: hand the job back for the next start.
		q.schedule(env, q.now())
	case env.Attempt >= q.cfg.MaxRetries:
		q.logger.Error("job exhausted retries",
			logger.String("kind", env.Kind),
			logger.String("id", env.ID),
			logger.Int("attempts", env.Attempt+1),
			logger.Error(err))
		q.push(q.key("dead"), env)
	default:
		env.Attempt++
		at := q.now().Add(q.cfg.retryDelay(env.Attempt))
		q.logger.Warn("job failed, retrying",
			logger.String("kind", env.Kind),
			logger.String("id", env.ID),
			logger.Int("attempt", env.Attempt),
			logger.Time("retry_at", at),
			logger.Error(err))
		q.schedule(env, at)
	}
}

// schedule and push run detached from the worker context so a job is not
// lost when shutdown races with a failure.
func (q *RedisQueue) schedule(env envelope, at time.Time) {
	data, _ := json.Marshal(env)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	z := redis.Z{Score: float64(at.UnixMilli()), Member: data}
	if err := q.client.ZAdd(ctx, q.key("retry"), z).Err(); err != nil {
		q.logger.Error("queue retry add failed", logger.String("id", env.ID), logger.Error(err))
	}
}

func (q *RedisQueue) push(list string, env envelope) {
	data, _ := json.Marshal(env)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.client.LPush(ctx, list, data).Err(); err != nil {
		q.logger.Error("queue push failed", logger.String("list", list), logger.Error(err))
	}
}

// A due member is moved only by the process whose ZREM removed it.
var promoteDue = redis.NewScript(`
if redis.call("ZREM", KEYS[1], ARGV[1]) == 1 then
	redis.call("LPUSH", KEYS[2], ARGV[1])
	return 1
end
return 0`)

func (q *RedisQueue) promote(ctx context.Context) {
	defer q.wg.Done()
	t := time.NewTicker(time.Second)
	defer t.Stop()
	keys := []string{q.key("retry"), q.key("pending")}
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		due, err := q.client.ZRangeByScore(ctx, keys[0], &redis.ZRangeBy{
			Min: "-inf",
			Max: strconv.FormatInt(q.now().UnixMilli(), 10),
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				q.logger.Error("queue retry scan failed", logger.Error(err))
			}
			continue
		}
		for _, member := range due {
			if err := promoteDue.Run(ctx, q.client, keys, member).Err(); err != nil && !errors.Is(err, redis.Nil) {
				q.logger.Error("queue retry promote failed", logger.Error(err))
			}
		}
	}
}

func (q *RedisQueue) key(list string) string {
	return q.cfg.Prefix + ":" + list
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
