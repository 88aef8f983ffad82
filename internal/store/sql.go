package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const coldOpTimeout = 5 * time.Second

// sqlCold implements Cold on database/sql. The sqlite and postgres
// constructors differ only in driver, schema DDL and placeholder style.
type sqlCold struct {
	db       *sql.DB
	postgres bool
}

// rebind rewrites ? placeholders to $1..$n for postgres.
func (c *sqlCold) rebind(q string) string {
	if !c.postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (c *sqlCold) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *sqlCold) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *sqlCold) PutDocument(ctx context.Context, entity, key string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, coldOpTimeout)
	defer cancel()
	_, err := c.db.ExecContext(ctx, c.rebind(`
INSERT INTO documents (entity, doc_key, payload, updated_at_ms)
VALUES (?, ?, ?, ?)
ON CONFLICT (entity, doc_key) DO UPDATE SET
    payload = excluded.payload,
    updated_at_ms = excluded.updated_at_ms`),
		entity, key, payload, time.Now().UTC().UnixMilli())
	return err
}

func (c *sqlCold) GetDocument(ctx context.Context, entity, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, coldOpTimeout)
	defer cancel()
	var payload []byte
	err := c.db.QueryRowContext(ctx, c.rebind(`
SELECT payload FROM documents WHERE entity = ? AND doc_key = ?`), entity, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return payload, err
}

func (c *sqlCold) DeleteDocument(ctx context.Context, entity, key string) error {
	ctx, cancel := context.WithTimeout(ctx, coldOpTimeout)
	defer cancel()
	_, err := c.db.ExecContext(ctx, c.rebind(`
DELETE FROM documents WHERE entity = ? AND doc_key = ?`), entity, key)
	return err
}

func (c *sqlCold) AppendMove(ctx context.Context, m MoveRecord) error {
	ctx, cancel := context.WithTimeout(ctx, coldOpTimeout)
	defer cancel()
	_, err := c.db.ExecContext(ctx, c.rebind(`
INSERT INTO moves (
    id, room_code, hand_num, trick, seat, player_id, move, card, suit, played_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING`),
		m.ID, m.RoomCode, m.HandNum, m.Trick, m.Seat, m.PlayerID,
		m.Move, m.Card, m.Suit, m.PlayedAt.UTC().UnixMilli())
	return err
}

func (c *sqlCold) ListMoves(ctx context.Context, roomCode string, handNum int) ([]MoveRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, coldOpTimeout)
	defer cancel()
	rows, err := c.db.QueryContext(ctx, c.rebind(`
SELECT id, room_code, hand_num, trick, seat, player_id, move, card, suit, played_at_ms
FROM moves
WHERE room_code = ? AND hand_num = ?
ORDER BY played_at_ms ASC`), roomCode, handNum)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MoveRecord
	for rows.Next() {
		var (
			m        MoveRecord
			playedMs int64
		)
		if err := rows.Scan(&m.ID, &m.RoomCode, &m.HandNum, &m.Trick, &m.Seat,
			&m.PlayerID, &m.Move, &m.Card, &m.Suit, &playedMs); err != nil {
			return nil, err
		}
		m.PlayedAt = time.UnixMilli(playedMs).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (c *sqlCold) InsertCompletedGame(ctx context.Context, rec CompletedGame) error {
	players, err := json.Marshal(rec.Players)
	if err != nil {
		return fmt.Errorf("marshal players: %w", err)
	}
	aborted := 0
	if rec.Aborted {
		aborted = 1
	}
	ctx, cancel := context.WithTimeout(ctx, coldOpTimeout)
	defer cancel()
	_, err = c.db.ExecContext(ctx, c.rebind(`
INSERT INTO completed_games (
    id, room_code, players_json, winning_team, rounds_won_0, rounds_won_1,
    hands, aborted, started_at_ms, finished_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING`),
		rec.ID, rec.RoomCode, string(players), rec.WinningTeam,
		rec.RoundsWon[0], rec.RoundsWon[1], rec.Hands, aborted,
		rec.StartedAt.UTC().UnixMilli(), rec.FinishedAt.UTC().UnixMilli())
	return err
}

func (c *sqlCold) GetCompletedGame(ctx context.Context, id string) (*CompletedGame, error) {
	ctx, cancel := context.WithTimeout(ctx, coldOpTimeout)
	defer cancel()
	var (
		rec         CompletedGame
		playersJSON string
		aborted     int
		startedMs   int64
		finishedMs  int64
	)
	err := c.db.QueryRowContext(ctx, c.rebind(`
SELECT id, room_code, players_json, winning_team, rounds_won_0, rounds_won_1,
       hands, aborted, started_at_ms, finished_at_ms
FROM completed_games WHERE id = ?`), id).Scan(
		&rec.ID, &rec.RoomCode, &playersJSON, &rec.WinningTeam,
		&rec.RoundsWon[0], &rec.RoundsWon[1], &rec.Hands, &aborted,
		&startedMs, &finishedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(playersJSON), &rec.Players); err != nil {
		return nil, fmt.Errorf("unmarshal players: %w", err)
	}
	rec.Aborted = aborted != 0
	rec.StartedAt = time.UnixMilli(startedMs).UTC()
	rec.FinishedAt = time.UnixMilli(finishedMs).UTC()
	return &rec, nil
}

func (c *sqlCold) UpsertProfile(ctx context.Context, p Profile) error {
	ctx, cancel := context.WithTimeout(ctx, coldOpTimeout)
	defer cancel()
	nowMs := time.Now().UTC().UnixMilli()
	createdMs := nowMs
	if !p.CreatedAt.IsZero() {
		createdMs = p.CreatedAt.UTC().UnixMilli()
	}
	_, err := c.db.ExecContext(ctx, c.rebind(`
INSERT INTO profiles (player_id, display_name, email, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (player_id) DO UPDATE SET
    display_name = excluded.display_name,
    email = excluded.email,
    updated_at_ms = excluded.updated_at_ms`),
		p.PlayerID, p.DisplayName, p.Email, createdMs, nowMs)
	return err
}

func (c *sqlCold) GetProfile(ctx context.Context, playerID string) (*Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, coldOpTimeout)
	defer cancel()
	var (
		p         Profile
		createdMs int64
		updatedMs int64
	)
	err := c.db.QueryRowContext(ctx, c.rebind(`
SELECT player_id, display_name, email, created_at_ms, updated_at_ms
FROM profiles WHERE player_id = ?`), playerID).Scan(
		&p.PlayerID, &p.DisplayName, &p.Email, &createdMs, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt = time.UnixMilli(createdMs).UTC()
	p.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	return &p, nil
}

func (c *sqlCold) ApplyStatsDelta(ctx context.Context, d StatsDelta) error {
	ctx, cancel := context.WithTimeout(ctx, coldOpTimeout)
	defer cancel()
	_, err := c.db.ExecContext(ctx, c.rebind(`
INSERT INTO stats (player_id, games_played, wins, rating, updated_at_ms)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (player_id) DO UPDATE SET
    games_played = stats.games_played + excluded.games_played,
    wins = stats.wins + excluded.wins,
    rating = stats.rating + excluded.rating,
    updated_at_ms = excluded.updated_at_ms`),
		d.PlayerID, d.GamesPlayed, d.Wins, d.Rating, time.Now().UTC().UnixMilli())
	return err
}

func (c *sqlCold) GetStats(ctx context.Context, playerID string) (*Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, coldOpTimeout)
	defer cancel()
	var (
		s         Stats
		updatedMs int64
	)
	err := c.db.QueryRowContext(ctx, c.rebind(`
SELECT player_id, games_played, wins, rating, updated_at_ms
FROM stats WHERE player_id = ?`), playerID).Scan(
		&s.PlayerID, &s.GamesPlayed, &s.Wins, &s.Rating, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	return &s, nil
}
