package gateway

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"hokm-lite/internal/hybrid"
)

// Session connection status values.
const (
	statusActive       = "active"
	statusDisconnected = "disconnected"
	statusMigrating    = "migrating"
)

// SessionDoc is the hot-store session document, keyed by player ID. It only
// ever lives in the hot store; the TTL slides on every heartbeat.
type SessionDoc struct {
	PlayerID      string `json:"player_id"`
	Username      string `json:"username"`
	Status        string `json:"connection_status"`
	RoomCode      string `json:"room_code,omitempty"`
	LastHeartbeat int64  `json:"last_heartbeat"`
}

// touchSession rewrites the player's session document. Best-effort: a hot
// store outage must not break the connection.
func (g *Gateway) touchSession(c *Connection, status string) {
	if g.data == nil {
		return
	}
	doc := SessionDoc{
		PlayerID:      c.PlayerID,
		Username:      c.Username,
		Status:        status,
		RoomCode:      c.RoomCode,
		LastHeartbeat: time.Now().UnixMilli(),
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		log.Printf("[Gateway] marshal session %s: %v", c.PlayerID, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := g.data.Put(ctx, hybrid.EntitySession, c.PlayerID, payload, ""); err != nil {
		log.Printf("[Gateway] session write for %s: %v", c.PlayerID, err)
	}
}

// LookupSession reads a player's session document from the hot store.
func (g *Gateway) LookupSession(ctx context.Context, playerID string) (*SessionDoc, error) {
	payload, err := g.data.Get(ctx, hybrid.EntitySession, playerID)
	if err != nil {
		return nil, err
	}
	var doc SessionDoc
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
