// Package memq provides an in-memory queue for tests and single-process
// runs. Semantics mirror redisq: deliveries stay pending until acked and the
// queue length counts pending work.
package memq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aulavox/aulavox/internal/queue"
)

var _ queue.Queue = (*MemQueue)(nil)

const blockInterval = 20 * time.Millisecond

type item struct {
	id          string
	task        queue.Task
	redelivered bool
}

// MemQueue holds per-queue ready lists, pending deliveries and dead letters
// behind a single mutex.
type MemQueue struct {
	mu      sync.Mutex
	nextID  int
	ready   map[string][]*item
	pending map[string]map[string]*item
	dead    map[string][]queue.DeadLetter
	wake    chan struct{}
	closed  bool
}

// NewMemQueue returns an empty queue.
func NewMemQueue() *MemQueue {
	return &MemQueue{
		ready:   make(map[string][]*item),
		pending: make(map[string]map[string]*item),
		dead:    make(map[string][]queue.DeadLetter),
		wake:    make(chan struct{}, 1),
	}
}

// Enqueue implements [queue.Queue].
func (m *MemQueue) Enqueue(_ context.Context, name string, task queue.Task) (string, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", fmt.Errorf("memq: enqueue %s: queue closed", name)
	}
	m.nextID++
	it := &item{id: fmt.Sprintf("m-%d", m.nextID), task: task}
	m.ready[name] = append(m.ready[name], it)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return it.id, nil
}

// Dequeue implements [queue.Queue].
func (m *MemQueue) Dequeue(ctx context.Context, name string) (*queue.Delivery, error) {
	if d := m.tryDequeue(name); d != nil {
		return d, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.wake:
		if d := m.tryDequeue(name); d != nil {
			return d, nil
		}
		return nil, queue.ErrEmpty
	case <-time.After(blockInterval):
		return nil, queue.ErrEmpty
	}
}

func (m *MemQueue) tryDequeue(name string) *queue.Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.ready[name]
	if len(items) == 0 {
		return nil
	}
	it := items[0]
	m.ready[name] = items[1:]
	if m.pending[name] == nil {
		m.pending[name] = make(map[string]*item)
	}
	m.pending[name][it.id] = it

	return &queue.Delivery{
		ID:          it.id,
		Queue:       name,
		Task:        it.task,
		Redelivered: it.redelivered,
	}
}

// Ack implements [queue.Queue].
func (m *MemQueue) Ack(_ context.Context, name, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending[name], id)
	return nil
}

// Redeliver returns every pending delivery on the queue to the front of the
// ready list, marked redelivered. It stands in for the broker reclaiming
// work from a crashed consumer.
func (m *MemQueue) Redeliver(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, it := range m.pending[name] {
		it.redelivered = true
		m.ready[name] = append([]*item{it}, m.ready[name]...)
		delete(m.pending[name], id)
		n++
	}
	return n
}

// SendToDeadLetter implements [queue.Queue].
func (m *MemQueue) SendToDeadLetter(_ context.Context, d queue.Delivery, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.pending[d.Queue], d.ID)
	m.dead[d.Queue] = append(m.dead[d.Queue], queue.DeadLetter{
		ID:       d.ID,
		Queue:    d.Queue,
		Task:     d.Task,
		Reason:   reason,
		FailedAt: time.Now(),
	})
	return nil
}

// ListDeadLetters implements [queue.Queue].
func (m *MemQueue) ListDeadLetters(_ context.Context, name string, limit int) ([]queue.DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	letters := m.dead[name]
	out := make([]queue.DeadLetter, 0, limit)
	for i := len(letters) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, letters[i])
	}
	return out, nil
}

// RetryDeadLetter implements [queue.Queue].
func (m *MemQueue) RetryDeadLetter(ctx context.Context, name, id string) (string, error) {
	m.mu.Lock()
	var task queue.Task
	found := false
	letters := m.dead[name]
	for i, dl := range letters {
		if dl.ID == id {
			task = dl.Task
			m.dead[name] = append(letters[:i:i], letters[i+1:]...)
			found = true
			break
		}
	}
	m.mu.Unlock()

	if !found {
		return "", fmt.Errorf("memq: dead letter %s on %s: not found", id, name)
	}
	return m.Enqueue(ctx, name, task)
}

// Len implements [queue.Queue]. Pending deliveries count, as they do on the
// broker.
func (m *MemQueue) Len(_ context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.ready[name]) + len(m.pending[name])), nil
}

// Ping implements [queue.Queue].
func (m *MemQueue) Ping(context.Context) error { return nil }

// Close implements [queue.Queue].
func (m *MemQueue) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
