package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"assemblyline/internal/config"
	"assemblyline/internal/services"
)

// MaxBatchSize caps the number of messages accepted by one SendBatch call.
const MaxBatchSize = 10

// ErrBatchTooLarge is returned when SendBatch receives more than MaxBatchSize
// messages.
var ErrBatchTooLarge = errors.New("batch exceeds maximum size")

// Message is an outgoing queue message.
type Message struct {
	Body     []byte
	Group    string
	DedupKey string
}

// SendResult describes the outcome of one send.
type SendResult struct {
	ID        string
	Duplicate bool
}

// BatchEntry is the per-message outcome of SendBatch.
type BatchEntry struct {
	SendResult
	Err error
}

// Delivery is a received, in-flight message.
type Delivery struct {
	ID       string
	Group    string
	Body     []byte
	Receives int
}

// Stats summarizes queue depth.
type Stats struct {
	Pending    int64            `json:"pending"`
	InFlight   int64            `json:"in_flight"`
	DeadLetter int64            `json:"dead_letter"`
	Groups     map[string]int64 `json:"groups"`
}

// ReapResult counts messages moved by Reap.
type ReapResult struct {
	Requeued     int
	DeadLettered int
}

// Options tunes queue behaviour.
type Options struct {
	Name              string
	VisibilityTimeout time.Duration
	MaxReceives       int
	DedupWindow       time.Duration
}

// Queue is a Redis-backed FIFO queue.
type Queue struct {
	client redis.UniversalClient
	prefix string
	opts   Options

	mu  sync.RWMutex
	now func() time.Time
}

// Open connects to the Redis server named in the configuration.
func Open(ctx context.Context, cfg *config.Config) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.RedisAddr,
		Password: cfg.Queue.RedisPassword,
		DB:       cfg.Queue.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, services.Wrap(services.ErrTransient, "queue", "connect", cfg.Queue.RedisAddr, err)
	}
	return New(client, Options{
		Name:              cfg.Queue.Name,
		VisibilityTimeout: cfg.VisibilityTimeout(),
		MaxReceives:       cfg.Queue.MaxReceives,
		DedupWindow:       cfg.DedupWindow(),
	}), nil
}

// New wraps an existing client.
func New(client redis.UniversalClient, opts Options) *Queue {
	if strings.TrimSpace(opts.Name) == "" {
		opts.Name = "assemblyline:jobs"
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 15 * time.Minute
	}
	if opts.MaxReceives <= 0 {
		opts.MaxReceives = 5
	}
	return &Queue{
		client: client,
		prefix: opts.Name + ":",
		opts:   opts,
		now:    time.Now,
	}
}

// SetClock overrides the time source used for visibility deadlines.
func (q *Queue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	q.now = now
}

func (q *Queue) clock() time.Time {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.now()
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.opts.Name }

// Ping checks connectivity.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return services.Wrap(services.ErrTransient, "queue", "ping", "", err)
	}
	return nil
}

// Close releases the underlying client.
func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) sendArgs(msg Message) ([]any, error) {
	group := strings.TrimSpace(msg.Group)
	if group == "" {
		return nil, services.Wrap(services.ErrValidation, "queue", "send", "message group is required", nil)
	}
	if len(msg.Body) == 0 {
		return nil, services.Wrap(services.ErrValidation, "queue", "send", "message body is empty", nil)
	}
	return []any{q.prefix, group, msg.DedupKey, string(msg.Body), int64(q.opts.DedupWindow / time.Second)}, nil
}

// Send enqueues one message.
func (q *Queue) Send(ctx context.Context, msg Message) (SendResult, error) {
	args, err := q.sendArgs(msg)
	if err != nil {
		return SendResult{}, err
	}
	id, err := sendScript.Run(ctx, q.client, nil, args...).Text()
	if err != nil {
		return SendResult{}, services.Wrap(services.ErrTransient, "queue", "send", "", err)
	}
	return SendResult{ID: id, Duplicate: id == ""}, nil
}

// SendBatch enqueues up to MaxBatchSize messages in one round trip. Each
// entry reports its own outcome; a failure of one entry does not affect the
// others.
func (q *Queue) SendBatch(ctx context.Context, msgs []Message) ([]BatchEntry, error) {
	if len(msgs) > MaxBatchSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(msgs), MaxBatchSize)
	}
	entries := make([]BatchEntry, len(msgs))
	if len(msgs) == 0 {
		return entries, nil
	}
	// EVALSHA cannot fall back to EVAL inside a pipeline, so make sure the
	// script is cached before queuing calls.
	if err := sendScript.Load(ctx, q.client).Err(); err != nil {
		return nil, services.Wrap(services.ErrTransient, "queue", "send batch", "load script", err)
	}

	pipe := q.client.Pipeline()
	cmds := make([]*redis.Cmd, len(msgs))
	for i, msg := range msgs {
		args, err := q.sendArgs(msg)
		if err != nil {
			entries[i].Err = err
			continue
		}
		cmds[i] = sendScript.EvalSha(ctx, pipe, nil, args...)
	}
	// Exec only reports the first failure; each command carries its own.
	_, _ = pipe.Exec(ctx)
	for i, cmd := range cmds {
		if cmd == nil {
			continue
		}
		id, err := cmd.Text()
		if err != nil {
			entries[i].Err = services.Wrap(services.ErrTransient, "queue", "send batch", fmt.Sprintf("entry %d", i), err)
			continue
		}
		entries[i].SendResult = SendResult{ID: id, Duplicate: id == ""}
	}
	return entries, nil
}

// Receive claims up to max messages and hides them for the visibility
// timeout.
func (q *Queue) Receive(ctx context.Context, max int) ([]Delivery, error) {
	if max <= 0 {
		max = 1
	}
	deadline := q.clock().Add(q.opts.VisibilityTimeout).UnixMilli()
	raw, err := receiveScript.Run(ctx, q.client, nil, q.prefix, deadline, max).Slice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, services.Wrap(services.ErrTransient, "queue", "receive", "", err)
	}
	deliveries := make([]Delivery, 0, len(raw))
	for _, item := range raw {
		fields, ok := item.([]any)
		if !ok || len(fields) < 4 {
			continue
		}
		deliveries = append(deliveries, Delivery{
			ID:       asString(fields[0]),
			Group:    asString(fields[1]),
			Body:     []byte(asString(fields[2])),
			Receives: int(asInt(fields[3])),
		})
	}
	return deliveries, nil
}

// Ack deletes a delivered message. Acking an id that is no longer in flight
// returns false.
func (q *Queue) Ack(ctx context.Context, id string) (bool, error) {
	n, err := ackScript.Run(ctx, q.client, nil, q.prefix, id).Int()
	if err != nil {
		return false, services.Wrap(services.ErrTransient, "queue", "ack", id, err)
	}
	return n == 1, nil
}

// Reap returns expired in-flight messages to their groups or dead-letters
// them.
func (q *Queue) Reap(ctx context.Context) (ReapResult, error) {
	now := q.clock().UnixMilli()
	vals, err := reapScript.Run(ctx, q.client, nil, q.prefix, now, q.opts.MaxReceives).Int64Slice()
	if err != nil {
		return ReapResult{}, services.Wrap(services.ErrTransient, "queue", "reap", "", err)
	}
	var res ReapResult
	if len(vals) == 2 {
		res.Requeued = int(vals[0])
		res.DeadLettered = int(vals[1])
	}
	return res, nil
}

// Redrive moves up to limit dead-lettered messages back to their groups with
// a fresh receive count.
func (q *Queue) Redrive(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	n, err := redriveScript.Run(ctx, q.client, nil, q.prefix, limit).Int()
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "queue", "redrive", "", err)
	}
	return n, nil
}

// DeadLetters returns up to limit dead-lettered messages without moving them.
func (q *Queue) DeadLetters(ctx context.Context, limit int) ([]Delivery, error) {
	if limit <= 0 {
		return nil, nil
	}
	ids, err := q.client.LRange(ctx, q.prefix+"dlq", 0, int64(limit-1)).Result()
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "queue", "dead letters", "", err)
	}
	out := make([]Delivery, 0, len(ids))
	for _, id := range ids {
		vals, err := q.client.HMGet(ctx, q.prefix+"msg:"+id, "group", "body", "receives").Result()
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, "queue", "dead letters", id, err)
		}
		out = append(out, Delivery{
			ID:       id,
			Group:    asString(vals[0]),
			Body:     []byte(asString(vals[1])),
			Receives: int(asInt(vals[2])),
		})
	}
	return out, nil
}

// Stats reports pending, in-flight and dead-lettered counts.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	groups, err := q.client.SMembers(ctx, q.prefix+"groups").Result()
	if err != nil {
		return Stats{}, services.Wrap(services.ErrTransient, "queue", "stats", "", err)
	}
	pipe := q.client.Pipeline()
	lens := make(map[string]*redis.IntCmd, len(groups))
	for _, g := range groups {
		lens[g] = pipe.LLen(ctx, q.prefix+"group:"+g)
	}
	inflight := pipe.ZCard(ctx, q.prefix+"inflight")
	dlq := pipe.LLen(ctx, q.prefix+"dlq")
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, services.Wrap(services.ErrTransient, "queue", "stats", "", err)
	}
	stats := Stats{Groups: make(map[string]int64, len(groups))}
	for g, cmd := range lens {
		stats.Groups[g] = cmd.Val()
		stats.Pending += cmd.Val()
	}
	stats.InFlight = inflight.Val()
	stats.DeadLetter = dlq.Val()
	return stats, nil
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func asInt(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case string:
		var n int64
		_, _ = fmt.Sscan(t, &n)
		return n
	default:
		return 0
	}
}
