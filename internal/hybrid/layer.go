package hybrid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"hokm-lite/internal/breaker"
	"hokm-lite/internal/store"
)

// Config tunes the layer's breakers and sync queue.
type Config struct {
	Queue       QueueConfig
	HotBreaker  breaker.Config
	ColdBreaker breaker.Config
	// FlushInterval paces the periodic-sync scan.
	FlushInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.HotBreaker.Name == "" {
		c.HotBreaker.Name = "hot-store"
	}
	if c.ColdBreaker.Name == "" {
		c.ColdBreaker.Name = "cold-store"
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 10 * time.Second
	}
	return c
}

// Layer routes entity reads and writes between the hot and cold stores per
// the static routing table. Every store access goes through a circuit
// breaker; asynchronous synchronization rides the priority queue.
type Layer struct {
	hot  store.Hot
	cold store.Cold

	hotBr  *breaker.Breaker[[]byte]
	coldBr *breaker.Breaker[[]byte]
	queue  *SyncQueue

	mu        sync.Mutex
	dirty     map[Entity]map[string][]byte
	lastFlush map[Entity]time.Time

	stop   chan struct{}
	closed sync.Once
	wg     sync.WaitGroup
}

func New(hot store.Hot, cold store.Cold, cfg Config) *Layer {
	cfg = cfg.withDefaults()
	// A key miss is an answer, not an outage.
	notFound := func(err error) bool { return errors.Is(err, store.ErrNotFound) }
	cfg.HotBreaker.Ignore = notFound
	cfg.ColdBreaker.Ignore = notFound
	l := &Layer{
		hot:       hot,
		cold:      cold,
		hotBr:     breaker.New[[]byte](cfg.HotBreaker),
		coldBr:    breaker.New[[]byte](cfg.ColdBreaker),
		dirty:     make(map[Entity]map[string][]byte),
		lastFlush: make(map[Entity]time.Time),
		stop:      make(chan struct{}),
	}
	l.queue = NewSyncQueue(l.applyTask, cfg.Queue)

	l.wg.Add(1)
	go l.flusher(cfg.FlushInterval)
	return l
}

func hotKey(entity Entity, key string) string {
	return fmt.Sprintf("%s:%s", entity, key)
}

// Put writes to the entity's primary store and schedules secondary sync per
// the routing table. event names the room event in flight ("" when none);
// it selects the on-event sync paths.
func (l *Layer) Put(ctx context.Context, entity Entity, key string, value []byte, event string) error {
	route, ok := RouteFor(entity)
	if !ok {
		return fmt.Errorf("unroutable entity %q", entity)
	}

	if err := l.writePrimary(ctx, route, entity, key, value); err != nil {
		return err
	}

	if route.Secondary == TargetNone {
		return nil
	}
	switch route.Sync {
	case SyncImmediate:
		l.queue.Enqueue(route.Priority, Task{Op: OpPut, Entity: entity, Key: key, Payload: value})
	case SyncOnEvent:
		if route.syncsOn(event) {
			l.queue.Enqueue(route.Priority, Task{Op: OpPut, Entity: entity, Key: key, Payload: value})
		} else {
			l.markDirty(entity, key, value)
		}
	case SyncPeriodic:
		l.markDirty(entity, key, value)
	}
	return nil
}

func (l *Layer) writePrimary(ctx context.Context, route Route, entity Entity, key string, value []byte) error {
	switch route.Primary {
	case TargetHot:
		_, err := l.hotBr.Call(ctx, "", func(ctx context.Context) ([]byte, error) {
			return nil, l.hot.Set(ctx, hotKey(entity, key), value, route.HotTTL)
		}, nil)
		return err
	case TargetCold:
		_, err := l.coldBr.Call(ctx, "", func(ctx context.Context) ([]byte, error) {
			return nil, l.cold.PutDocument(ctx, string(entity), key, value)
		}, nil)
		return err
	}
	return fmt.Errorf("entity %q has no primary store", entity)
}

// Get reads the entity's primary. For cold-primary entities with a hot
// secondary, the hot store acts as a read cache populated on miss.
func (l *Layer) Get(ctx context.Context, entity Entity, key string) ([]byte, error) {
	route, ok := RouteFor(entity)
	if !ok {
		return nil, fmt.Errorf("unroutable entity %q", entity)
	}
	hk := hotKey(entity, key)

	if route.Primary == TargetHot {
		res, err := l.hotBr.Call(ctx, hk, func(ctx context.Context) ([]byte, error) {
			return l.hot.Get(ctx, hk)
		}, nil)
		return res.Value, err
	}

	// Cold primary: try the cache first.
	if route.Secondary == TargetHot {
		if res, err := l.hotBr.Call(ctx, "", func(ctx context.Context) ([]byte, error) {
			return l.hot.Get(ctx, hk)
		}, nil); err == nil {
			return res.Value, nil
		}
	}

	res, err := l.coldBr.Call(ctx, hk, func(ctx context.Context) ([]byte, error) {
		return l.cold.GetDocument(ctx, string(entity), key)
	}, nil)
	if err != nil {
		return nil, err
	}
	if route.Secondary == TargetHot && !res.FromCache {
		if _, err := l.hotBr.Call(ctx, "", func(ctx context.Context) ([]byte, error) {
			return nil, l.hot.Set(ctx, hk, res.Value, route.HotTTL)
		}, nil); err != nil {
			log.Printf("[Hybrid] cache populate %s/%s: %v", entity, key, err)
		}
	}
	return res.Value, nil
}

// Delete removes the entity from both stores, primary first. Failures are
// logged, not rolled back.
func (l *Layer) Delete(ctx context.Context, entity Entity, key string) error {
	route, ok := RouteFor(entity)
	if !ok {
		return fmt.Errorf("unroutable entity %q", entity)
	}

	l.forgetDirty(entity, key)

	var firstErr error
	for _, target := range []Target{route.Primary, route.Secondary} {
		var err error
		switch target {
		case TargetHot:
			_, e := l.hotBr.Call(ctx, "", func(ctx context.Context) ([]byte, error) {
				return nil, l.hot.Delete(ctx, hotKey(entity, key))
			}, nil)
			err = e
		case TargetCold:
			_, e := l.coldBr.Call(ctx, "", func(ctx context.Context) ([]byte, error) {
				return nil, l.cold.DeleteDocument(ctx, string(entity), key)
			}, nil)
			err = e
		default:
			continue
		}
		if err != nil {
			log.Printf("[Hybrid] delete %s/%s from %s: %v", entity, key, target, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// PutThrough writes cold first, then hot. If the hot write fails the cold
// write is best-effort undone and the call fails.
func (l *Layer) PutThrough(ctx context.Context, entity Entity, key string, value []byte) error {
	route, ok := RouteFor(entity)
	if !ok {
		return fmt.Errorf("unroutable entity %q", entity)
	}

	if _, err := l.coldBr.Call(ctx, "", func(ctx context.Context) ([]byte, error) {
		return nil, l.cold.PutDocument(ctx, string(entity), key, value)
	}, nil); err != nil {
		return err
	}

	if _, err := l.hotBr.Call(ctx, "", func(ctx context.Context) ([]byte, error) {
		return nil, l.hot.Set(ctx, hotKey(entity, key), value, route.HotTTL)
	}, nil); err != nil {
		if _, undoErr := l.coldBr.Call(ctx, "", func(ctx context.Context) ([]byte, error) {
			return nil, l.cold.DeleteDocument(ctx, string(entity), key)
		}, nil); undoErr != nil {
			log.Printf("[Hybrid] write-through undo %s/%s: %v", entity, key, undoErr)
		}
		return err
	}
	return nil
}

// PutBehind writes hot synchronously and queues the cold write at HIGH
// priority.
func (l *Layer) PutBehind(ctx context.Context, entity Entity, key string, value []byte) error {
	route, ok := RouteFor(entity)
	if !ok {
		return fmt.Errorf("unroutable entity %q", entity)
	}
	if _, err := l.hotBr.Call(ctx, "", func(ctx context.Context) ([]byte, error) {
		return nil, l.hot.Set(ctx, hotKey(entity, key), value, route.HotTTL)
	}, nil); err != nil {
		return err
	}
	l.queue.Enqueue(PriorityHigh, Task{Op: OpPut, Entity: entity, Key: key, Payload: value})
	return nil
}

// PutSingle writes one store only, bypassing sync entirely.
func (l *Layer) PutSingle(ctx context.Context, target Target, entity Entity, key string, value []byte) error {
	route, _ := RouteFor(entity)
	switch target {
	case TargetHot:
		_, err := l.hotBr.Call(ctx, "", func(ctx context.Context) ([]byte, error) {
			return nil, l.hot.Set(ctx, hotKey(entity, key), value, route.HotTTL)
		}, nil)
		return err
	case TargetCold:
		_, err := l.coldBr.Call(ctx, "", func(ctx context.Context) ([]byte, error) {
			return nil, l.cold.PutDocument(ctx, string(entity), key, value)
		}, nil)
		return err
	}
	return fmt.Errorf("invalid target %v", target)
}

// AppendMove pushes the move onto the room's hot move log and queues the
// durable append at HIGH priority.
func (l *Layer) AppendMove(ctx context.Context, m store.MoveRecord) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	route := routes[EntityMoveLog]
	listKey := hotKey(EntityMoveLog, fmt.Sprintf("%s:%d", m.RoomCode, m.HandNum))
	if _, err := l.hotBr.Call(ctx, "", func(ctx context.Context) ([]byte, error) {
		if err := l.hot.RPush(ctx, listKey, payload); err != nil {
			return nil, err
		}
		return nil, l.hot.Expire(ctx, listKey, route.HotTTL)
	}, nil); err != nil {
		// The durable copy still goes out; the hot log is best-effort.
		log.Printf("[Hybrid] hot move log %s: %v", listKey, err)
	}
	l.queue.Enqueue(route.Priority, Task{Op: OpAppendMove, Entity: EntityMoveLog, Key: m.ID, Payload: payload})
	return nil
}

// RecordStatsDelta queues a batched stats increment at LOW priority.
func (l *Layer) RecordStatsDelta(d store.StatsDelta) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	l.queue.Enqueue(routes[EntityPlayerStats].Priority, Task{Op: OpStatsDelta, Entity: EntityPlayerStats, Key: d.PlayerID, Payload: payload})
	// Drop the stale cached copy so the next read refills from cold.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = l.hot.Delete(ctx, hotKey(EntityPlayerStats, d.PlayerID))
	return nil
}

// CompleteGame writes the completed-game record through to the cold store;
// the caller may only announce game_over once this returns nil.
func (l *Layer) CompleteGame(ctx context.Context, rec store.CompletedGame) error {
	_, err := l.coldBr.Call(ctx, "", func(ctx context.Context) ([]byte, error) {
		return nil, l.cold.InsertCompletedGame(ctx, rec)
	}, nil)
	return err
}

// Profile reads a player profile with cache-on-read semantics.
func (l *Layer) Profile(ctx context.Context, playerID string) (*store.Profile, error) {
	raw, err := l.Get(ctx, EntityPlayerProfile, playerID)
	if err == nil && raw != nil {
		var p store.Profile
		if jsonErr := json.Unmarshal(raw, &p); jsonErr == nil {
			return &p, nil
		}
	}
	p, err := l.cold.GetProfile(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if payload, jsonErr := json.Marshal(p); jsonErr == nil {
		_ = l.PutSingle(ctx, TargetHot, EntityPlayerProfile, playerID, payload)
	}
	return p, nil
}

// SaveProfile writes the durable profile and refreshes the cache copy.
func (l *Layer) SaveProfile(ctx context.Context, p store.Profile) error {
	if _, err := l.coldBr.Call(ctx, "", func(ctx context.Context) ([]byte, error) {
		return nil, l.cold.UpsertProfile(ctx, p)
	}, nil); err != nil {
		return err
	}
	if payload, err := json.Marshal(p); err == nil {
		_ = l.PutSingle(ctx, TargetHot, EntityPlayerProfile, p.PlayerID, payload)
	}
	return nil
}

// Stats reads player stats, caching the cold row in the hot store.
func (l *Layer) Stats(ctx context.Context, playerID string) (*store.Stats, error) {
	hk := hotKey(EntityPlayerStats, playerID)
	if raw, err := l.hot.Get(ctx, hk); err == nil {
		var s store.Stats
		if jsonErr := json.Unmarshal(raw, &s); jsonErr == nil {
			return &s, nil
		}
	}
	res, err := l.coldBr.Call(ctx, hk, func(ctx context.Context) ([]byte, error) {
		s, err := l.cold.GetStats(ctx, playerID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(s)
	}, nil)
	if err != nil {
		return nil, err
	}
	var s store.Stats
	if err := json.Unmarshal(res.Value, &s); err != nil {
		return nil, err
	}
	if !res.FromCache {
		_ = l.hot.Set(ctx, hk, res.Value, routes[EntityPlayerStats].HotTTL)
	}
	return &s, nil
}

// Moves returns the room's durable move log for one hand.
func (l *Layer) Moves(ctx context.Context, roomCode string, handNum int) ([]store.MoveRecord, error) {
	return l.cold.ListMoves(ctx, roomCode, handNum)
}

func (l *Layer) markDirty(entity Entity, key string, value []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dirty[entity] == nil {
		l.dirty[entity] = make(map[string][]byte)
	}
	l.dirty[entity][key] = value
}

func (l *Layer) forgetDirty(entity Entity, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m := l.dirty[entity]; m != nil {
		delete(m, key)
	}
}

func (l *Layer) flusher(interval time.Duration) {
	defer l.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case now := <-ticker.C:
			l.flushDue(now)
		}
	}
}

func (l *Layer) flushDue(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for entity, keys := range l.dirty {
		if len(keys) == 0 {
			continue
		}
		route := routes[entity]
		interval := route.Interval
		if interval <= 0 {
			interval = 60 * time.Second
		}
		if now.Sub(l.lastFlush[entity]) < interval {
			continue
		}
		for key, value := range keys {
			l.queue.Enqueue(route.Priority, Task{Op: OpPut, Entity: entity, Key: key, Payload: value})
		}
		l.dirty[entity] = make(map[string][]byte)
		l.lastFlush[entity] = now
	}
}

// applyTask is the sync queue's sink against the cold store.
func (l *Layer) applyTask(ctx context.Context, task Task) error {
	switch task.Op {
	case OpPut:
		_, err := l.coldBr.Call(ctx, "", func(ctx context.Context) ([]byte, error) {
			return nil, l.cold.PutDocument(ctx, string(task.Entity), task.Key, task.Payload)
		}, nil)
		return err
	case OpDelete:
		_, err := l.coldBr.Call(ctx, "", func(ctx context.Context) ([]byte, error) {
			return nil, l.cold.DeleteDocument(ctx, string(task.Entity), task.Key)
		}, nil)
		return err
	case OpAppendMove:
		var m store.MoveRecord
		if err := json.Unmarshal(task.Payload, &m); err != nil {
			return err
		}
		_, err := l.coldBr.Call(ctx, "", func(ctx context.Context) ([]byte, error) {
			return nil, l.cold.AppendMove(ctx, m)
		}, nil)
		return err
	case OpStatsDelta:
		var d store.StatsDelta
		if err := json.Unmarshal(task.Payload, &d); err != nil {
			return err
		}
		_, err := l.coldBr.Call(ctx, "", func(ctx context.Context) ([]byte, error) {
			return nil, l.cold.ApplyStatsDelta(ctx, d)
		}, nil)
		return err
	}
	return fmt.Errorf("unknown task op %q", task.Op)
}

// Queue exposes the sync queue for admin inspection.
func (l *Layer) Queue() *SyncQueue { return l.queue }

// BreakerMetrics returns both breakers' counters for the admin surface.
func (l *Layer) BreakerMetrics() (hot, cold breaker.MetricsSnapshot) {
	return l.hotBr.Metrics(), l.coldBr.Metrics()
}

// Close writes pending periodic syncs straight through, drains queued
// HIGH-priority tasks and stops the workers.
func (l *Layer) Close() {
	l.closed.Do(func() {
		close(l.stop)
		l.wg.Wait()

		l.mu.Lock()
		dirty := l.dirty
		l.dirty = make(map[Entity]map[string][]byte)
		l.mu.Unlock()
		for entity, keys := range dirty {
			for key, value := range keys {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := l.applyTask(ctx, Task{Op: OpPut, Entity: entity, Key: key, Payload: value}); err != nil {
					log.Printf("[Hybrid] shutdown flush %s/%s: %v", entity, key, err)
				}
				cancel()
			}
		}

		l.queue.Close()
	})
}
