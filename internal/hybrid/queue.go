package hybrid

import (
	"context"
	"log"
	"sync"
	"time"
)

// Priority classes for sync tasks. HIGH targets ~1s latency, MEDIUM ~30s,
// LOW ~5m.
type Priority byte

const (
	PriorityHigh Priority = iota
	PriorityMedium
	PriorityLow
	numPriorities
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	}
	return "unknown"
}

// TaskOp is the kind of work a sync task carries to the cold store.
type TaskOp string

const (
	OpPut        TaskOp = "put"
	OpDelete     TaskOp = "delete"
	OpAppendMove TaskOp = "append_move"
	OpStatsDelta TaskOp = "stats_delta"
)

// Task is one unit of asynchronous store-to-store synchronization.
type Task struct {
	Op          TaskOp
	Entity      Entity
	Key         string
	Payload     []byte
	RetryCount  int
	ScheduledAt time.Time
}

// Sink applies one task against the cold store.
type Sink func(ctx context.Context, task Task) error

// QueueConfig sizes the sync queue.
type QueueConfig struct {
	Workers    [3]int // per priority
	Depth      int    // per-priority channel capacity
	MaxRetries int
	Backoff    time.Duration
}

func (c QueueConfig) withDefaults() QueueConfig {
	for i := range c.Workers {
		if c.Workers[i] <= 0 {
			c.Workers[i] = 2
		}
	}
	if c.Depth <= 0 {
		c.Depth = 1024
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 100 * time.Millisecond
	}
	return c
}

// SyncQueue is a three-priority multi-producer/multi-consumer task queue
// with a fixed worker pool per priority. Failed tasks retry with
// exponential backoff; after MaxRetries they land in the dead-letter queue.
type SyncQueue struct {
	cfg  QueueConfig
	sink Sink

	chans [numPriorities]chan Task

	mu   sync.Mutex
	dead []Task

	wg      sync.WaitGroup
	stop    chan struct{}
	stopped sync.Once
}

func NewSyncQueue(sink Sink, cfg QueueConfig) *SyncQueue {
	q := &SyncQueue{
		cfg:  cfg.withDefaults(),
		sink: sink,
		stop: make(chan struct{}),
	}
	for p := range q.chans {
		q.chans[p] = make(chan Task, q.cfg.Depth)
		for w := 0; w < q.cfg.Workers[p]; w++ {
			q.wg.Add(1)
			go q.worker(Priority(p))
		}
	}
	return q
}

// Enqueue schedules a task. It never blocks the foreground path: when the
// priority channel is full the task goes straight to the dead-letter queue.
func (q *SyncQueue) Enqueue(p Priority, task Task) {
	if task.ScheduledAt.IsZero() {
		task.ScheduledAt = time.Now()
	}
	select {
	case q.chans[p] <- task:
	default:
		log.Printf("[SyncQueue] %s queue full, dead-lettering %s %s/%s", p, task.Op, task.Entity, task.Key)
		q.deadLetter(task)
	}
}

func (q *SyncQueue) worker(p Priority) {
	defer q.wg.Done()
	for {
		select {
		case <-q.stop:
			// Drain HIGH so durable work is not lost on shutdown.
			if p == PriorityHigh {
				for {
					select {
					case task := <-q.chans[p]:
						q.apply(task, p)
					default:
						return
					}
				}
			}
			return
		case task := <-q.chans[p]:
			q.apply(task, p)
		}
	}
}

func (q *SyncQueue) apply(task Task, p Priority) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err := q.sink(ctx, task)
	cancel()
	if err == nil {
		return
	}

	task.RetryCount++
	if task.RetryCount > q.cfg.MaxRetries {
		log.Printf("[SyncQueue] %s %s/%s failed after %d retries: %v", task.Op, task.Entity, task.Key, q.cfg.MaxRetries, err)
		q.deadLetter(task)
		return
	}

	backoff := q.cfg.Backoff << (task.RetryCount - 1)
	log.Printf("[SyncQueue] %s %s/%s failed (attempt %d), retrying in %s: %v", task.Op, task.Entity, task.Key, task.RetryCount, backoff, err)
	time.AfterFunc(backoff, func() {
		select {
		case q.chans[p] <- task:
		default:
			q.deadLetter(task)
		}
	})
}

func (q *SyncQueue) deadLetter(task Task) {
	q.mu.Lock()
	q.dead = append(q.dead, task)
	q.mu.Unlock()
}

// DeadLetters returns a copy of the dead-letter queue for operator
// inspection.
func (q *SyncQueue) DeadLetters() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Task, len(q.dead))
	copy(out, q.dead)
	return out
}

// Pending reports the queued task count for one priority.
func (q *SyncQueue) Pending(p Priority) int {
	return len(q.chans[p])
}

// Close stops the workers. HIGH-priority tasks already enqueued are flushed
// before Close returns.
func (q *SyncQueue) Close() {
	q.stopped.Do(func() { close(q.stop) })
	q.wg.Wait()
}
