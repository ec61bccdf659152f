// Package redisq implements the queue contract on Redis Streams with
// consumer groups. Unacked tasks are reclaimed after an idle window, so a
// worker crash turns into a redelivery instead of a lost job.
package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aulavox/aulavox/internal/queue"
)

var _ queue.Queue = (*Queue)(nil)

const (
	group         = "aulavox-workers"
	streamPrefix  = "aulavox:q:"
	dlqSuffix     = ":dlq"
	blockInterval = time.Second
	maxStreamLen  = 16384
)

// Config carries the broker connection parameters.
type Config struct {
	// URL is a redis:// connection string.
	URL string

	// Consumer names this process within the consumer group. Empty means
	// hostname-pid.
	Consumer string

	// ClaimIdle is how long a delivery may sit unacked before another
	// consumer may reclaim it. Zero means 5 minutes.
	ClaimIdle time.Duration
}

// Queue is the Redis Streams broker.
type Queue struct {
	rdb       *redis.Client
	consumer  string
	claimIdle time.Duration

	mu     sync.Mutex
	groups map[string]bool // streams whose consumer group exists
}

// New connects to the broker and verifies the connection.
func New(ctx context.Context, cfg Config) (*Queue, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redisq: parse url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redisq: ping: %w", err)
	}

	consumer := cfg.Consumer
	if consumer == "" {
		host, _ := os.Hostname()
		consumer = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle == 0 {
		claimIdle = 5 * time.Minute
	}

	return &Queue{
		rdb:       rdb,
		consumer:  consumer,
		claimIdle: claimIdle,
		groups:    make(map[string]bool),
	}, nil
}

func stream(name string) string    { return streamPrefix + name }
func dlqStream(name string) string { return streamPrefix + name + dlqSuffix }

// ensureGroup creates the consumer group (and stream) once per process.
func (q *Queue) ensureGroup(ctx context.Context, stream string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.groups[stream] {
		return nil
	}
	err := q.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("redisq: create group on %s: %w", stream, err)
	}
	q.groups[stream] = true
	return nil
}

// Enqueue implements [queue.Queue].
func (q *Queue) Enqueue(ctx context.Context, name string, task queue.Task) (string, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("redisq: marshal task: %w", err)
	}
	id, err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream(name),
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]any{"task": string(payload)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("redisq: enqueue %s: %w", name, err)
	}
	return id, nil
}

// Dequeue implements [queue.Queue]. Stale pending deliveries are reclaimed
// before new tasks are read, so crashed consumers cannot strand work.
func (q *Queue) Dequeue(ctx context.Context, name string) (*queue.Delivery, error) {
	s := stream(name)
	if err := q.ensureGroup(ctx, s); err != nil {
		return nil, err
	}

	claimed, _, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s,
		Group:    group,
		Consumer: q.consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redisq: claim on %s: %w", name, err)
	}
	if len(claimed) > 0 {
		return q.toDelivery(name, claimed[0], true)
	}

	results, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: q.consumer,
		Streams:  []string{s, ">"},
		Count:    1,
		Block:    blockInterval,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, queue.ErrEmpty
		}
		return nil, fmt.Errorf("redisq: read %s: %w", name, err)
	}
	for _, res := range results {
		for _, msg := range res.Messages {
			return q.toDelivery(name, msg, false)
		}
	}
	return nil, queue.ErrEmpty
}

func (q *Queue) toDelivery(name string, msg redis.XMessage, redelivered bool) (*queue.Delivery, error) {
	task, err := taskFromValues(msg.Values)
	if err != nil {
		return nil, fmt.Errorf("redisq: message %s on %s: %w", msg.ID, name, err)
	}
	return &queue.Delivery{
		ID:          msg.ID,
		Queue:       name,
		Task:        task,
		Redelivered: redelivered,
	}, nil
}

// Ack implements [queue.Queue]. Acked messages are deleted from the stream,
// not just removed from the pending list.
func (q *Queue) Ack(ctx context.Context, name, id string) error {
	s := stream(name)
	if err := q.rdb.XAck(ctx, s, group, id).Err(); err != nil {
		return fmt.Errorf("redisq: ack %s on %s: %w", id, name, err)
	}
	if err := q.rdb.XDel(ctx, s, id).Err(); err != nil {
		return fmt.Errorf("redisq: delete %s on %s: %w", id, name, err)
	}
	return nil
}

// SendToDeadLetter implements [queue.Queue].
func (q *Queue) SendToDeadLetter(ctx context.Context, d queue.Delivery, reason string) error {
	payload, err := json.Marshal(d.Task)
	if err != nil {
		return fmt.Errorf("redisq: marshal dead letter: %w", err)
	}
	err = q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: dlqStream(d.Queue),
		Values: map[string]any{
			"task":      string(payload),
			"queue":     d.Queue,
			"reason":    reason,
			"failed_at": time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redisq: dead-letter %s: %w", d.ID, err)
	}
	return q.Ack(ctx, d.Queue, d.ID)
}

// ListDeadLetters implements [queue.Queue].
func (q *Queue) ListDeadLetters(ctx context.Context, name string, limit int) ([]queue.DeadLetter, error) {
	msgs, err := q.rdb.XRevRangeN(ctx, dlqStream(name), "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("redisq: list dead letters on %s: %w", name, err)
	}
	letters := make([]queue.DeadLetter, 0, len(msgs))
	for _, msg := range msgs {
		dl, err := deadLetterFromValues(msg)
		if err != nil {
			return nil, fmt.Errorf("redisq: dead letter %s on %s: %w", msg.ID, name, err)
		}
		letters = append(letters, dl)
	}
	return letters, nil
}

// RetryDeadLetter implements [queue.Queue].
func (q *Queue) RetryDeadLetter(ctx context.Context, name, id string) (string, error) {
	dlq := dlqStream(name)
	msgs, err := q.rdb.XRangeN(ctx, dlq, id, id, 1).Result()
	if err != nil {
		return "", fmt.Errorf("redisq: fetch dead letter %s: %w", id, err)
	}
	if len(msgs) == 0 {
		return "", fmt.Errorf("redisq: dead letter %s on %s: not found", id, name)
	}
	dl, err := deadLetterFromValues(msgs[0])
	if err != nil {
		return "", fmt.Errorf("redisq: dead letter %s on %s: %w", id, name, err)
	}

	newID, err := q.Enqueue(ctx, name, dl.Task)
	if err != nil {
		return "", err
	}
	if err := q.rdb.XDel(ctx, dlq, id).Err(); err != nil {
		return "", fmt.Errorf("redisq: remove dead letter %s: %w", id, err)
	}
	return newID, nil
}

// Len implements [queue.Queue].
func (q *Queue) Len(ctx context.Context, name string) (int64, error) {
	n, err := q.rdb.XLen(ctx, stream(name)).Result()
	if err != nil {
		return 0, fmt.Errorf("redisq: len %s: %w", name, err)
	}
	return n, nil
}

// Ping implements [queue.Queue].
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redisq: ping: %w", err)
	}
	return nil
}

// Close implements [queue.Queue].
func (q *Queue) Close() error { return q.rdb.Close() }

func taskFromValues(values map[string]any) (queue.Task, error) {
	var task queue.Task
	raw, ok := values["task"].(string)
	if !ok {
		return task, errors.New("missing task field")
	}
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return task, fmt.Errorf("decode task: %w", err)
	}
	return task, nil
}

func deadLetterFromValues(msg redis.XMessage) (queue.DeadLetter, error) {
	task, err := taskFromValues(msg.Values)
	if err != nil {
		return queue.DeadLetter{}, err
	}
	dl := queue.DeadLetter{
		ID:   msg.ID,
		Task: task,
	}
	if s, ok := msg.Values["queue"].(string); ok {
		dl.Queue = s
	}
	if s, ok := msg.Values["reason"].(string); ok {
		dl.Reason = s
	}
	if s, ok := msg.Values["failed_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			dl.FailedAt = t
		}
	}
	return dl, nil
}
