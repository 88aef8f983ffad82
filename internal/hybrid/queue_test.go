package hybrid

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestQueueAppliesTasks(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	q := NewSyncQueue(func(ctx context.Context, task Task) error {
		mu.Lock()
		seen = append(seen, task.Key)
		mu.Unlock()
		return nil
	}, QueueConfig{Backoff: time.Millisecond})
	defer q.Close()

	q.Enqueue(PriorityHigh, Task{Op: OpPut, Entity: EntityGameState, Key: "k1"})
	q.Enqueue(PriorityMedium, Task{Op: OpPut, Entity: EntityGameState, Key: "k2"})
	q.Enqueue(PriorityLow, Task{Op: OpStatsDelta, Entity: EntityPlayerStats, Key: "k3"})

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	})
}

func TestQueueRetriesThenDeadLetters(t *testing.T) {
	var attempts atomic.Int64
	q := NewSyncQueue(func(ctx context.Context, task Task) error {
		attempts.Add(1)
		return errors.New("cold store down")
	}, QueueConfig{MaxRetries: 2, Backoff: time.Millisecond})
	defer q.Close()

	q.Enqueue(PriorityHigh, Task{Op: OpPut, Entity: EntityMoveLog, Key: "mv-1"})

	waitFor(t, 2*time.Second, func() bool {
		return len(q.DeadLetters()) == 1
	})
	// 1 initial attempt + 2 retries.
	if got := attempts.Load(); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
	dead := q.DeadLetters()[0]
	if dead.Key != "mv-1" || dead.RetryCount != 3 {
		t.Fatalf("dead letter = %+v", dead)
	}
}

func TestQueueRetrySucceedsSecondAttempt(t *testing.T) {
	var attempts atomic.Int64
	q := NewSyncQueue(func(ctx context.Context, task Task) error {
		if attempts.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	}, QueueConfig{MaxRetries: 3, Backoff: time.Millisecond})
	defer q.Close()

	q.Enqueue(PriorityMedium, Task{Op: OpPut, Entity: EntityGameState, Key: "k"})

	waitFor(t, time.Second, func() bool { return attempts.Load() == 2 })
	time.Sleep(20 * time.Millisecond)
	if len(q.DeadLetters()) != 0 {
		t.Fatalf("dead letters = %+v", q.DeadLetters())
	}
}

func TestQueueFlushesHighOnClose(t *testing.T) {
	var applied atomic.Int64
	block := make(chan struct{})
	q := NewSyncQueue(func(ctx context.Context, task Task) error {
		<-block
		applied.Add(1)
		return nil
	}, QueueConfig{Workers: [3]int{1, 1, 1}, Backoff: time.Millisecond})

	for i := 0; i < 5; i++ {
		q.Enqueue(PriorityHigh, Task{Op: OpPut, Entity: EntityMoveLog, Key: "k"})
	}
	close(block)
	q.Close()

	if got := applied.Load(); got != 5 {
		t.Fatalf("applied = %d, want all 5 flushed on close", got)
	}
}

func TestQueueFullDeadLettersInsteadOfBlocking(t *testing.T) {
	block := make(chan struct{})
	q := NewSyncQueue(func(ctx context.Context, task Task) error {
		<-block
		return nil
	}, QueueConfig{Workers: [3]int{1, 1, 1}, Depth: 1, Backoff: time.Millisecond})
	defer q.Close()
	defer close(block)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			q.Enqueue(PriorityLow, Task{Op: OpPut, Entity: EntityPlayerStats, Key: "k"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}
	if len(q.DeadLetters()) == 0 {
		t.Fatal("overflow tasks not dead-lettered")
	}
}
