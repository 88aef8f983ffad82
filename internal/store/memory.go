package store

import (
	"context"
	"sync"
	"time"
)

// MemoryHot 内存热存储，供本地开发与测试使用
type MemoryHot struct {
	mu    sync.RWMutex
	data  map[string]memEntry
	lists map[string][][]byte

	stop chan struct{}
	once sync.Once
}

type memEntry struct {
	value     []byte
	expiresAt time.Time // zero => no expiry
}

func NewMemoryHot() *MemoryHot {
	m := &MemoryHot{
		data:  make(map[string]memEntry),
		lists: make(map[string][][]byte),
		stop:  make(chan struct{}),
	}
	go m.janitor()
	return m
}

func (m *MemoryHot) janitor() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			m.mu.Lock()
			for k, e := range m.data {
				if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
					delete(m.data, k)
					delete(m.lists, k)
				}
			}
			m.mu.Unlock()
		}
	}
}

func (m *MemoryHot) Close() error {
	m.once.Do(func() { close(m.stop) })
	return nil
}

func (m *MemoryHot) Ping(ctx context.Context) error { return nil }

func (m *MemoryHot) expiredLocked(key string) bool {
	e, ok := m.data[key]
	return ok && !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}

func (m *MemoryHot) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.data[key]
	if !ok || (!e.expiresAt.IsZero() && time.Now().After(e.expiresAt)) {
		return nil, ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (m *MemoryHot) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	m.data[key] = e
	return nil
}

func (m *MemoryHot) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	delete(m.lists, key)
	return nil
}

func (m *MemoryHot) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.data[key]; ok {
		e.expiresAt = time.Now().Add(ttl)
		m.data[key] = e
		return nil
	}
	if _, ok := m.lists[key]; ok {
		// Lists carry their TTL through a paired data entry.
		m.data[key] = memEntry{expiresAt: time.Now().Add(ttl)}
		return nil
	}
	return ErrNotFound
}

func (m *MemoryHot) RPush(ctx context.Context, key string, values ...[]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range values {
		m.lists[key] = append(m.lists[key], append([]byte(nil), v...))
	}
	return nil
}

func (m *MemoryHot) LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.lists[key]
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop {
		return nil, nil
	}
	out := make([][]byte, 0, stop-start+1)
	for _, v := range list[start : stop+1] {
		out = append(out, append([]byte(nil), v...))
	}
	return out, nil
}
