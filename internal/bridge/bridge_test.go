package bridge_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"assemblyline/internal/assembly"
	"assemblyline/internal/bridge"
	"assemblyline/internal/queue"
)

type recordingSender struct {
	calls [][]queue.Message
	err   error
}

func (s *recordingSender) SendBatch(_ context.Context, msgs []queue.Message) ([]queue.BatchEntry, error) {
	s.calls = append(s.calls, append([]queue.Message(nil), msgs...))
	if s.err != nil {
		return nil, s.err
	}
	entries := make([]queue.BatchEntry, len(msgs))
	for i := range msgs {
		entries[i].ID = "id"
	}
	return entries, nil
}

func job(id string) assembly.Job {
	return assembly.Job{
		AssemblyID: id,
		UploadID:   "U-" + id,
		TemplateID: "preview",
		Inputs:     []assembly.ObjectRef{{Bucket: "assembly-uploads", Key: id + ".mp3"}},
	}
}

func TestEnqueueBatchesAndDefaultsBranch(t *testing.T) {
	sender := &recordingSender{}
	b := bridge.New(sender, 10, "main", nil)

	jobs := make([]assembly.Job, 0, 23)
	for i := 0; i < 23; i++ {
		jobs = append(jobs, job(string(rune('a'+i))))
	}
	report := b.Enqueue(context.Background(), jobs)
	if report.Enqueued != 23 || len(report.Failed) != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(sender.calls) != 3 || len(sender.calls[0]) != 10 || len(sender.calls[2]) != 3 {
		t.Fatalf("expected batches of 10,10,3, got %d calls", len(sender.calls))
	}
	first := sender.calls[0][0]
	if first.Group != "main" || first.DedupKey != "a/U-a" {
		t.Fatalf("unexpected message routing: group=%q dedup=%q", first.Group, first.DedupKey)
	}
}

func TestEnqueueDropsInvalidAndFailedJobs(t *testing.T) {
	sender := &recordingSender{err: errors.New("redis down")}
	b := bridge.New(sender, 10, "main", nil)

	bad := job("x")
	bad.TemplateID = ""
	report := b.Enqueue(context.Background(), []assembly.Job{bad, job("y")})
	if report.Enqueued != 0 || len(report.Failed) != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.Failed[0].AssemblyID != "x" || report.Failed[1].AssemblyID != "y" {
		t.Fatalf("unexpected failures: %+v", report.Failed)
	}
}

func TestEnqueueAgainstRedisSuppressesDuplicates(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q := queue.New(client, queue.Options{Name: "bridge:test", DedupWindow: time.Minute})

	b := bridge.New(q, 10, "main", nil)
	report := b.Enqueue(context.Background(), []assembly.Job{job("a"), job("a"), job("b")})
	if report.Enqueued != 2 || report.Duplicates != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}

	deliveries, err := q.Receive(context.Background(), 10)
	if err != nil {
		t.Fatalf("Receive returned error: %v", err)
	}
	if len(deliveries) != 2 {
		t.Fatalf("expected two deliveries, got %d", len(deliveries))
	}
	decoded, err := assembly.DecodeJob(deliveries[0].Body)
	if err != nil || decoded.AssemblyID != "a" || decoded.Branch != "main" {
		t.Fatalf("unexpected decoded job %+v err=%v", decoded, err)
	}
}
