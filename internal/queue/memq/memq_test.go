package memq_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aulavox/aulavox/internal/queue"
	"github.com/aulavox/aulavox/internal/queue/memq"
	"github.com/aulavox/aulavox/pkg/types"
)

func stageTask(jobID string) queue.Task {
	return queue.NewStageTask(jobID, types.StageASR, queue.StagePayload{
		ClassSessionID: "cs-1",
		InputRefs:      map[string]string{"audio": "recordings/cs-1/full.wav"},
	})
}

func TestEnqueueDequeueAck(t *testing.T) {
	ctx := context.Background()
	q := memq.NewMemQueue()

	id, err := q.Enqueue(ctx, queue.Processing, stageTask("job-1"))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if id == "" {
		t.Fatal("empty message id")
	}

	d, err := q.Dequeue(ctx, queue.Processing)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if d.Task.JobID != "job-1" || d.Task.Stage != types.StageASR {
		t.Errorf("task = (%q, %q), want (job-1, asr)", d.Task.JobID, d.Task.Stage)
	}
	if d.Task.Name != "stage.asr" {
		t.Errorf("task name = %q, want stage.asr", d.Task.Name)
	}
	if d.Task.ClassSessionID() != "cs-1" {
		t.Errorf("class session = %q, want cs-1", d.Task.ClassSessionID())
	}
	if d.Redelivered {
		t.Error("fresh delivery marked redelivered")
	}

	// Pending still counts toward queue length until acked.
	if n, _ := q.Len(ctx, queue.Processing); n != 1 {
		t.Errorf("Len before ack = %d, want 1", n)
	}
	if err := q.Ack(ctx, queue.Processing, d.ID); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if n, _ := q.Len(ctx, queue.Processing); n != 0 {
		t.Errorf("Len after ack = %d, want 0", n)
	}

	if _, err := q.Dequeue(ctx, queue.Processing); !errors.Is(err, queue.ErrEmpty) {
		t.Errorf("Dequeue on empty queue = %v, want ErrEmpty", err)
	}
}

func TestQueuesAreIsolated(t *testing.T) {
	ctx := context.Background()
	q := memq.NewMemQueue()

	if _, err := q.Enqueue(ctx, queue.Export, stageTask("job-1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.Dequeue(ctx, queue.Processing); !errors.Is(err, queue.ErrEmpty) {
		t.Errorf("Dequeue on other queue = %v, want ErrEmpty", err)
	}
	if _, err := q.Dequeue(ctx, queue.Export); err != nil {
		t.Errorf("Dequeue on export = %v", err)
	}
}

func TestRedeliverMarksDelivery(t *testing.T) {
	ctx := context.Background()
	q := memq.NewMemQueue()

	if _, err := q.Enqueue(ctx, queue.Processing, stageTask("job-1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.Dequeue(ctx, queue.Processing); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	// Consumer dies without acking; the broker hands the task out again.
	if n := q.Redeliver(queue.Processing); n != 1 {
		t.Fatalf("Redeliver = %d, want 1", n)
	}
	d, err := q.Dequeue(ctx, queue.Processing)
	if err != nil {
		t.Fatalf("Dequeue after redeliver: %v", err)
	}
	if !d.Redelivered {
		t.Error("reclaimed delivery not marked redelivered")
	}
}

func TestDeadLetterFlow(t *testing.T) {
	ctx := context.Background()
	q := memq.NewMemQueue()

	if _, err := q.Enqueue(ctx, queue.Processing, stageTask("job-1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	d, err := q.Dequeue(ctx, queue.Processing)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	if err := q.SendToDeadLetter(ctx, *d, "asr backend unreachable"); err != nil {
		t.Fatalf("SendToDeadLetter: %v", err)
	}
	if n, _ := q.Len(ctx, queue.Processing); n != 0 {
		t.Errorf("Len after dead-letter = %d, want 0", n)
	}

	letters, err := q.ListDeadLetters(ctx, queue.Processing, 10)
	if err != nil {
		t.Fatalf("ListDeadLetters: %v", err)
	}
	if len(letters) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(letters))
	}
	if letters[0].Reason != "asr backend unreachable" || letters[0].Task.JobID != "job-1" {
		t.Errorf("dead letter = (%q, %q)", letters[0].Reason, letters[0].Task.JobID)
	}

	newID, err := q.RetryDeadLetter(ctx, queue.Processing, letters[0].ID)
	if err != nil {
		t.Fatalf("RetryDeadLetter: %v", err)
	}
	if newID == "" {
		t.Fatal("empty republished id")
	}
	if letters, _ := q.ListDeadLetters(ctx, queue.Processing, 10); len(letters) != 0 {
		t.Errorf("dead letters after retry = %d, want 0", len(letters))
	}

	again, err := q.Dequeue(ctx, queue.Processing)
	if err != nil {
		t.Fatalf("Dequeue after retry: %v", err)
	}
	if again.Task.JobID != "job-1" {
		t.Errorf("republished job = %q, want job-1", again.Task.JobID)
	}

	if _, err := q.RetryDeadLetter(ctx, queue.Processing, "m-999"); err == nil {
		t.Error("RetryDeadLetter on unknown id succeeded")
	}
}

func TestDequeueHonorsContext(t *testing.T) {
	q := memq.NewMemQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := q.Dequeue(ctx, queue.Processing); !errors.Is(err, context.Canceled) {
		t.Errorf("Dequeue with cancelled context = %v, want context.Canceled", err)
	}
}
