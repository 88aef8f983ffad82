package room

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"hokm-lite/internal/hybrid"
	"hokm-lite/internal/store"
)

const (
	roomCodeLen      = 6
	roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // no 0/O/1/I
)

var ErrRoomNotFound = errors.New("room not found")

// Registry is the process-scoped map of live rooms. Rooms are created on
// demand, restored from the hot store after a server restart, and removed
// when their actor stops.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room

	cfg  Config
	data *hybrid.Layer
	send func(playerID string, data []byte)

	stop   chan struct{}
	closed sync.Once
}

func NewRegistry(cfg Config, data *hybrid.Layer, sendFn func(playerID string, data []byte)) *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
		cfg:   cfg,
		data:  data,
		send:  sendFn,
		stop:  make(chan struct{}),
	}
}

// GetOrCreate returns the live room for code, restoring it from the hot
// store if needed, or creates a fresh room when code is empty.
func (reg *Registry) GetOrCreate(code string) (*Room, error) {
	if code == "" {
		return reg.create()
	}

	reg.mu.Lock()
	if r, ok := reg.rooms[code]; ok {
		reg.mu.Unlock()
		return r, nil
	}
	reg.mu.Unlock()

	if r, err := reg.restore(code); err == nil {
		return r, nil
	} else if !errors.Is(err, ErrRoomNotFound) {
		return nil, err
	}

	// Unknown code: create the room under that code (join-or-create).
	return reg.createWithCode(code)
}

// Get returns a live room without creating one.
func (reg *Registry) Get(code string) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[code]
	return r, ok
}

func (reg *Registry) create() (*Room, error) {
	for attempt := 0; attempt < 32; attempt++ {
		code, err := newRoomCode()
		if err != nil {
			return nil, err
		}
		r, err := reg.createWithCode(code)
		if err == nil {
			return r, nil
		}
	}
	return nil, fmt.Errorf("could not allocate a unique room code")
}

func (reg *Registry) createWithCode(code string) (*Room, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, exists := reg.rooms[code]; exists {
		return nil, fmt.Errorf("room code %s already live", code)
	}
	r, err := New(code, reg.cfg, reg.send, reg.data, reg.remove)
	if err != nil {
		return nil, err
	}
	reg.rooms[code] = r
	return r, nil
}

// restore loads a persisted room document from the data layer and revives
// its actor. Live room state survives a backend restart this way.
func (reg *Registry) restore(code string) (*Room, error) {
	if reg.data == nil {
		return nil, ErrRoomNotFound
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	payload, err := reg.data.Get(ctx, hybrid.EntityGameState, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	var st State
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, fmt.Errorf("corrupt room document %s: %w", code, err)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if r, ok := reg.rooms[code]; ok {
		return r, nil
	}
	r, err := Restore(&st, reg.cfg, reg.send, reg.data, reg.remove)
	if err != nil {
		return nil, err
	}
	reg.rooms[code] = r
	log.Printf("[Registry] Restored room %s from hot store", code)
	return r, nil
}

func (reg *Registry) remove(code string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.rooms, code)
	log.Printf("[Registry] Room %s removed (%d live)", code, len(reg.rooms))
}

// Count reports the number of live rooms.
func (reg *Registry) Count() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}

// Close stops every live room actor.
func (reg *Registry) Close() {
	reg.closed.Do(func() { close(reg.stop) })

	reg.mu.Lock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.mu.Unlock()

	for _, r := range rooms {
		r.Stop()
	}
}

func newRoomCode() (string, error) {
	buf := make([]byte, roomCodeLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = roomCodeAlphabet[int(b)%len(roomCodeAlphabet)]
	}
	return string(buf), nil
}
