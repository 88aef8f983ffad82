package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const defaultColdDBName = "hokm_local.db"

// NewSQLiteCold opens (and migrates) the local single-file cold store.
func NewSQLiteCold(dbPath string) (Cold, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("empty sqlite database path")
	}
	if dbPath != ":memory:" {
		parent := filepath.Dir(dbPath)
		if parent != "" && parent != "." {
			if err := os.MkdirAll(parent, 0o755); err != nil {
				return nil, err
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		`PRAGMA busy_timeout = 5000;`,
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA foreign_keys = ON;`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ensureColdSchema(ctx, db, sqliteColdSchema); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &sqlCold{db: db}, nil
}

const sqliteColdSchema = `
CREATE TABLE IF NOT EXISTS documents (
    entity        TEXT NOT NULL,
    doc_key       TEXT NOT NULL,
    payload       BLOB NOT NULL,
    updated_at_ms INTEGER NOT NULL,
    PRIMARY KEY (entity, doc_key)
);

CREATE TABLE IF NOT EXISTS moves (
    id            TEXT PRIMARY KEY,
    room_code     TEXT NOT NULL,
    hand_num      INTEGER NOT NULL,
    trick         INTEGER NOT NULL,
    seat          INTEGER NOT NULL,
    player_id     TEXT NOT NULL,
    move          TEXT NOT NULL,
    card          TEXT NOT NULL DEFAULT '',
    suit          TEXT NOT NULL DEFAULT '',
    played_at_ms  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_moves_room_hand ON moves (room_code, hand_num);

CREATE TABLE IF NOT EXISTS completed_games (
    id             TEXT PRIMARY KEY,
    room_code      TEXT NOT NULL,
    players_json   TEXT NOT NULL,
    winning_team   INTEGER NOT NULL,
    rounds_won_0   INTEGER NOT NULL,
    rounds_won_1   INTEGER NOT NULL,
    hands          INTEGER NOT NULL,
    aborted        INTEGER NOT NULL DEFAULT 0,
    started_at_ms  INTEGER NOT NULL,
    finished_at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_completed_room ON completed_games (room_code);

CREATE TABLE IF NOT EXISTS profiles (
    player_id     TEXT PRIMARY KEY,
    display_name  TEXT NOT NULL,
    email         TEXT NOT NULL DEFAULT '',
    created_at_ms INTEGER NOT NULL,
    updated_at_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS stats (
    player_id     TEXT PRIMARY KEY,
    games_played  INTEGER NOT NULL DEFAULT 0,
    wins          INTEGER NOT NULL DEFAULT 0,
    rating        INTEGER NOT NULL DEFAULT 0,
    updated_at_ms INTEGER NOT NULL
);
`

func ensureColdSchema(ctx context.Context, db *sql.DB, schema string) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
