package queue_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"assemblyline/internal/queue"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newQueue(t *testing.T, maxReceives int) (*queue.Queue, *miniredis.Miniredis, *fakeClock) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := queue.New(client, queue.Options{
		Name:              "test:jobs",
		VisibilityTimeout: time.Minute,
		MaxReceives:       maxReceives,
		DedupWindow:       5 * time.Minute,
	})
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	q.SetClock(clock.Now)
	return q, srv, clock
}

func send(t *testing.T, q *queue.Queue, group, dedup, body string) queue.SendResult {
	t.Helper()
	res, err := q.Send(context.Background(), queue.Message{Body: []byte(body), Group: group, DedupKey: dedup})
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	return res
}

func TestSendDeduplicatesWithinWindow(t *testing.T) {
	q, srv, _ := newQueue(t, 5)
	first := send(t, q, "main", "A1/U1", "one")
	if first.Duplicate || first.ID == "" {
		t.Fatalf("unexpected first result: %+v", first)
	}
	dup := send(t, q, "main", "A1/U1", "one again")
	if !dup.Duplicate {
		t.Fatalf("expected duplicate, got %+v", dup)
	}

	srv.FastForward(6 * time.Minute)
	after := send(t, q, "main", "A1/U1", "one later")
	if after.Duplicate {
		t.Fatal("expected dedup window to expire")
	}
}

func TestReceivePreservesGroupOrderAndLocksGroup(t *testing.T) {
	q, _, _ := newQueue(t, 5)
	ctx := context.Background()
	send(t, q, "main", "", "m1")
	send(t, q, "main", "", "m2")
	send(t, q, "dev", "", "d1")

	got, err := q.Receive(ctx, 2)
	if err != nil {
		t.Fatalf("Receive returned error: %v", err)
	}
	// Groups are visited in sorted order: dev then main.
	if len(got) != 2 || string(got[0].Body) != "d1" || string(got[1].Body) != "m1" {
		t.Fatalf("unexpected deliveries: %+v", got)
	}
	if got[0].Receives != 1 {
		t.Fatalf("expected first receive, got %d", got[0].Receives)
	}

	// main still has m2 but is locked while m1 is in flight.
	more, err := q.Receive(ctx, 10)
	if err != nil {
		t.Fatalf("Receive returned error: %v", err)
	}
	if len(more) != 0 {
		t.Fatalf("expected locked group to yield nothing, got %+v", more)
	}

	acked, err := q.Ack(ctx, got[1].ID)
	if err != nil || !acked {
		t.Fatalf("Ack returned %v, %v", acked, err)
	}
	more, err = q.Receive(ctx, 10)
	if err != nil {
		t.Fatalf("Receive returned error: %v", err)
	}
	if len(more) != 1 || string(more[0].Body) != "m2" {
		t.Fatalf("expected m2 after unlock, got %+v", more)
	}

	acked, err = q.Ack(ctx, got[1].ID)
	if err != nil || acked {
		t.Fatalf("expected second ack of same id to be a no-op, got %v, %v", acked, err)
	}
}

func TestReceiveBatchesWithinOneGroup(t *testing.T) {
	q, _, _ := newQueue(t, 5)
	for i := 0; i < 4; i++ {
		send(t, q, "main", "", fmt.Sprintf("m%d", i))
	}
	got, err := q.Receive(context.Background(), 3)
	if err != nil {
		t.Fatalf("Receive returned error: %v", err)
	}
	if len(got) != 3 || string(got[2].Body) != "m2" {
		t.Fatalf("unexpected deliveries: %+v", got)
	}
}

func TestReapRequeuesThenDeadLetters(t *testing.T) {
	q, _, clock := newQueue(t, 2)
	ctx := context.Background()
	send(t, q, "main", "", "m1")
	send(t, q, "main", "", "m2")

	if got, _ := q.Receive(ctx, 2); len(got) != 2 {
		t.Fatalf("expected two deliveries, got %d", len(got))
	}
	res, err := q.Reap(ctx)
	if err != nil || res.Requeued != 0 {
		t.Fatalf("expected nothing expired yet, got %+v err=%v", res, err)
	}

	clock.Advance(2 * time.Minute)
	res, err = q.Reap(ctx)
	if err != nil {
		t.Fatalf("Reap returned error: %v", err)
	}
	if res.Requeued != 2 || res.DeadLettered != 0 {
		t.Fatalf("unexpected reap result: %+v", res)
	}

	again, err := q.Receive(ctx, 2)
	if err != nil {
		t.Fatalf("Receive returned error: %v", err)
	}
	if len(again) != 2 || string(again[0].Body) != "m1" || again[0].Receives != 2 {
		t.Fatalf("expected m1 redelivered first, got %+v", again)
	}

	clock.Advance(2 * time.Minute)
	res, err = q.Reap(ctx)
	if err != nil {
		t.Fatalf("Reap returned error: %v", err)
	}
	if res.DeadLettered != 2 {
		t.Fatalf("expected both messages dead-lettered, got %+v", res)
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	if stats.DeadLetter != 2 || stats.Pending != 0 || stats.InFlight != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	dead, err := q.DeadLetters(ctx, 10)
	if err != nil || len(dead) != 2 || dead[0].Group != "main" {
		t.Fatalf("unexpected dead letters %+v err=%v", dead, err)
	}

	moved, err := q.Redrive(ctx, 10)
	if err != nil || moved != 2 {
		t.Fatalf("Redrive returned %d, %v", moved, err)
	}
	redriven, err := q.Receive(ctx, 10)
	if err != nil || len(redriven) != 2 || redriven[0].Receives != 1 {
		t.Fatalf("unexpected redriven deliveries %+v err=%v", redriven, err)
	}
}

func TestSendBatch(t *testing.T) {
	q, _, _ := newQueue(t, 5)
	ctx := context.Background()
	msgs := []queue.Message{
		{Body: []byte("a"), Group: "main", DedupKey: "A/1"},
		{Body: []byte("b"), Group: "main", DedupKey: "A/1"},
		{Body: []byte("c"), Group: ""},
	}
	entries, err := q.SendBatch(ctx, msgs)
	if err != nil {
		t.Fatalf("SendBatch returned error: %v", err)
	}
	if entries[0].Err != nil || entries[0].Duplicate {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if !entries[1].Duplicate {
		t.Fatalf("expected second entry to be a duplicate: %+v", entries[1])
	}
	if entries[2].Err == nil {
		t.Fatal("expected missing group to fail its entry")
	}

	tooMany := make([]queue.Message, queue.MaxBatchSize+1)
	if _, err := q.SendBatch(ctx, tooMany); !errors.Is(err, queue.ErrBatchTooLarge) {
		t.Fatalf("expected ErrBatchTooLarge, got %v", err)
	}
}
