// Package queue defines the task transport between the orchestrator and the
// stage workers. Implementations live in the redisq and memq subpackages.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/aulavox/aulavox/pkg/types"
)

// Named queues. Stage work goes to Processing, artifact generation to
// Export. Notion exists for an external consumer and is never read here.
const (
	Processing = "processing"
	Export     = "export"
	Notion     = "notion"
	Default    = "default"
)

// ErrEmpty is returned by Dequeue when no task arrived within the blocking
// window. Callers are expected to loop.
var ErrEmpty = errors.New("queue: no task available")

// Task is the wire envelope. Every enqueue carries the job and stage it
// belongs to so workers can report completion without peeking into kwargs.
type Task struct {
	Name    string         `json:"task"`
	Args    []any          `json:"args,omitempty"`
	Kwargs  map[string]any `json:"kwargs,omitempty"`
	Retries int            `json:"retries"`
	ETA     *time.Time     `json:"eta,omitempty"`

	JobID string      `json:"job_id"`
	Stage types.Stage `json:"stage,omitempty"`
}

// StagePayload is the kwargs shape of a stage task.
type StagePayload struct {
	ClassSessionID string            `json:"class_session_id"`
	InputRefs      map[string]string `json:"input_refs,omitempty"`
	Config         map[string]any    `json:"config,omitempty"`
}

// NewStageTask builds the task for one pipeline stage run.
func NewStageTask(jobID string, stage types.Stage, payload StagePayload) Task {
	kwargs := map[string]any{
		"class_session_id": payload.ClassSessionID,
	}
	if len(payload.InputRefs) > 0 {
		refs := make(map[string]any, len(payload.InputRefs))
		for k, v := range payload.InputRefs {
			refs[k] = v
		}
		kwargs["input_refs"] = refs
	}
	if len(payload.Config) > 0 {
		kwargs["config"] = payload.Config
	}
	return Task{
		Name:   "stage." + string(stage),
		Kwargs: kwargs,
		JobID:  jobID,
		Stage:  stage,
	}
}

// ClassSessionID extracts the class session reference from kwargs.
func (t Task) ClassSessionID() string {
	if s, ok := t.Kwargs["class_session_id"].(string); ok {
		return s
	}
	return ""
}

// Delivery is one received task plus the broker bookkeeping needed to ack it.
type Delivery struct {
	// ID is the broker message id, opaque to callers.
	ID    string
	Queue string
	Task  Task

	// Redelivered is true when the task was reclaimed from a consumer that
	// never acked it. Such retries are the broker's, not the job's.
	Redelivered bool
}

// DeadLetter is a task parked after exhausting queue-level redelivery.
type DeadLetter struct {
	ID       string
	Queue    string // origin queue
	Task     Task
	Reason   string
	FailedAt time.Time
}

// Queue is the broker contract. All methods are safe for concurrent use.
type Queue interface {
	// Enqueue appends the task and returns the broker message id.
	Enqueue(ctx context.Context, queue string, task Task) (string, error)

	// Dequeue blocks for a bounded interval waiting for one task
	// (prefetch is one). Returns ErrEmpty when nothing arrived.
	Dequeue(ctx context.Context, queue string) (*Delivery, error)

	// Ack marks the delivery processed. Unacked deliveries are
	// redelivered to another consumer after the visibility window.
	Ack(ctx context.Context, queue, id string) error

	// SendToDeadLetter moves the delivery to the queue's dead-letter
	// stream with a failure reason, acking the original.
	SendToDeadLetter(ctx context.Context, d Delivery, reason string) error

	// ListDeadLetters returns up to limit parked tasks, newest first.
	ListDeadLetters(ctx context.Context, queue string, limit int) ([]DeadLetter, error)

	// RetryDeadLetter republishes a parked task onto its origin queue and
	// removes it from the dead-letter stream. Returns the new message id.
	RetryDeadLetter(ctx context.Context, queue, id string) (string, error)

	// Len reports the number of tasks currently on the queue.
	Len(ctx context.Context, queue string) (int64, error)

	// Ping verifies the broker connection.
	Ping(ctx context.Context) error

	Close() error
}
